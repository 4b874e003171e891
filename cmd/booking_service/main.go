package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking_service/internal/auth"
	"booking_service/internal/auth/oauth"
	"booking_service/internal/auth/tokens"
	kafkaBroker "booking_service/internal/broker/kafka"
	"booking_service/internal/broker/rabbitmq"
	"booking_service/internal/config"
	httpserver "booking_service/internal/http_server"
	"booking_service/internal/http_server/cookies"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/lib/metrics"
	"booking_service/internal/lib/notification"
	"booking_service/internal/lib/tracing"
	mwAuth "booking_service/internal/middleware/auth"
	"booking_service/internal/session"
	"booking_service/internal/storage"
	"booking_service/internal/storage/memory"
	"booking_service/internal/storage/mongo"
	"booking_service/internal/storage/postgres"
	redisStore "booking_service/internal/storage/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// appStore is everything the service needs from the primary store.
type appStore interface {
	auth.UserSaver
	auth.UserProvider
	tokens.Store
	storage.TokenPruner
	Close()
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}

	cfg := config.MustLoad(config.Path())

	log := setupLogger(cfg.Env)

	log.Info("starting booking service",
		slog.String("env", cfg.Env),
		slog.String("storage", cfg.Storage.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(cfg.Tracing.Service, cfg.Env, cfg.Tracing.Endpoint)
	if err != nil {
		log.Error("failed to init tracer", sl.Err(err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to flush traces", sl.Err(err))
		}
	}()

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to init storage", sl.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	go storage.RunPruner(ctx, log, store, cfg.Storage.PruneInterval, cfg.Storage.TokenRetention)

	tokenService, err := tokens.New(log, store, tokens.Config{
		Secret:           cfg.Tokens.Secret,
		Issuer:           cfg.Tokens.Issuer,
		AccessTTL:        cfg.Tokens.AccessTokenTTL,
		RefreshTTL:       cfg.Tokens.RefreshTokenTTL,
		StrictRevocation: cfg.Tokens.StrictRevocation,
	})
	if err != nil {
		log.Error("failed to init token service", sl.Err(err))
		os.Exit(1)
	}

	sessions, closeSessions, err := setupSessions(ctx, log, cfg)
	if err != nil {
		log.Error("failed to init session store", sl.Err(err))
		os.Exit(1)
	}
	defer closeSessions()

	publisher, closePublisher, err := setupPublisher(log, cfg)
	if err != nil {
		log.Error("failed to connect broker", sl.Err(err))
		os.Exit(1)
	}
	defer closePublisher()

	authService := auth.New(log, store, store, tokenService, notification.New(log, publisher))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	deps := httpserver.Deps{
		Log:             log,
		Auth:            authService,
		Authenticator:   mwAuth.New(log, sessions, tokenService, store, cfg.HTTPServer.StoreTimeout),
		Sessions:        sessions,
		Jar:             cookies.Jar{Secure: cfg.IsProd()},
		StoreTimeout:    cfg.HTTPServer.StoreTimeout,
		OAuthSuccessURL: cfg.OAuth.SuccessURL,
		OAuthFailureURL: cfg.OAuth.FailureURL,
		Registry:        registry,
		ServiceName:     cfg.Tracing.Service,
		RateLimit:       true,
	}
	if cfg.OAuth.Enabled() {
		deps.OAuth = oauth.NewGoogle(oauth.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			UserInfoURL:  cfg.OAuth.UserInfoURL,
		})
	} else {
		log.Info("external sign-in disabled")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      httpserver.NewRouter(deps),
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("booking service stopped")
}

func setupStorage(ctx context.Context, cfg *config.Config) (appStore, error) {
	const op = "main.setupStorage"

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		repo, err := postgres.New(connectCtx, cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := repo.Migrate(connectCtx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return repo, nil
	case config.DriverMongo:
		repo, err := mongo.New(connectCtx, cfg.Storage.Mongo)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := repo.EnsureIndexes(connectCtx, cfg.Storage.TokenRetention); err != nil {
			repo.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return repo, nil
	case config.DriverMemory:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%s: %w: %q", op, config.ErrUnknownDriver, cfg.Storage.Driver)
}

// setupSessions returns a nil manager when sessions are disabled.
func setupSessions(ctx context.Context, log *slog.Logger, cfg *config.Config) (*session.Manager, func(), error) {
	noop := func() {}

	if !cfg.Session.Enabled {
		return nil, noop, nil
	}

	switch cfg.Session.Store {
	case config.SessionRedis:
		repo, err := redisStore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, noop, err
		}
		return session.NewManager(log, repo, cfg.Session.TTL, cfg.IsProd()), repo.Close, nil
	default:
		return session.NewManager(log, session.NewMemoryStore(), cfg.Session.TTL, cfg.IsProd()), noop, nil
	}
}

// setupPublisher returns a nil publisher when no broker is configured, in
// which case account notifications are skipped.
func setupPublisher(log *slog.Logger, cfg *config.Config) (notification.Publisher, func(), error) {
	switch cfg.Broker.Kind {
	case config.BrokerRabbitMQ:
		client, err := rabbitmq.New(log, cfg.Broker.RabbitMQ.URL, cfg.Broker.RabbitMQ.QueueName)
		if err != nil {
			return nil, func() {}, err
		}
		return client, client.Close, nil
	case config.BrokerKafka:
		producer := kafkaBroker.NewProducer(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.Topic)
		return producer, producer.Close, nil
	}

	return nil, func() {}, nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
