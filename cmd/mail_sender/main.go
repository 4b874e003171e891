package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kafkaBroker "booking_service/internal/broker/kafka"
	"booking_service/internal/broker/rabbitmq"
	"booking_service/internal/config"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/mailer"
)

type consumer interface {
	StartReading(ctx context.Context, handle func(body []byte) error) error
	Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}

	cfg := config.MustLoad(config.Path())
	log := setupLogger(cfg.Env)

	log.Info("Starting mail_sender", slog.String("env", cfg.Env), slog.String("broker", cfg.Broker.Kind))

	startConsumer(ctx, cfg, log)
}

func startConsumer(ctx context.Context, cfg *config.Config, log *slog.Logger) {
	var c consumer

	switch cfg.Broker.Kind {
	case config.BrokerRabbitMQ:
		r, err := rabbitmq.New(log, cfg.Broker.RabbitMQ.URL, cfg.Broker.RabbitMQ.QueueName)
		if err != nil {
			log.Error("failed to init rabbitmq", sl.Err(err))
			return
		}
		c = r
	case config.BrokerKafka:
		c = kafkaBroker.NewConsumer(log, cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.Topic, cfg.Broker.Kafka.GroupID)
	default:
		log.Error("no broker configured, nothing to consume")
		return
	}
	defer c.Close()

	handler := mailer.NewHandler(log, &mailer.Mailer{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := c.StartReading(ctx, handler.Handle); err != nil {
			log.Error("failed to read messages", sl.Err(err))
		}
	}()

	log.Info("consumer successfully started")

	select {
	case <-ctx.Done():
		log.Info("shutting down consumer...")
		<-done
	case <-done:
		log.Info("consumer finished the work")
	}

	log.Info("service gracefully stopped")
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
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
