package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/auth"
	"booking_service/internal/auth/oauth"
	"booking_service/internal/http_server/cookies"
	"booking_service/internal/http_server/handlers/admin"
	"booking_service/internal/http_server/handlers/checkauth"
	"booking_service/internal/http_server/handlers/external"
	"booking_service/internal/http_server/handlers/login"
	"booking_service/internal/http_server/handlers/logout"
	"booking_service/internal/http_server/handlers/profile"
	"booking_service/internal/http_server/handlers/refresh"
	"booking_service/internal/http_server/handlers/register"
	sessionHandler "booking_service/internal/http_server/handlers/session"
	"booking_service/internal/http_server/handlers/signin"
	resp "booking_service/internal/lib/api/response"
	"booking_service/internal/lib/metrics"
	"booking_service/internal/lib/tracing"
	mwAuth "booking_service/internal/middleware/auth"
	rateLimit "booking_service/internal/middleware/ratelimit"
	"booking_service/internal/session"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
)

type Deps struct {
	Log           *slog.Logger
	Auth          *auth.Auth
	Authenticator *mwAuth.Authenticator
	Sessions      *session.Manager
	Jar           cookies.Jar
	StoreTimeout  time.Duration

	// OAuth is nil when external sign-in is not configured; its routes are
	// then not mounted.
	OAuth           oauth.Provider
	OAuthSuccessURL string
	OAuthFailureURL string

	// Registry, when set, is exposed on /metrics.
	Registry    *prometheus.Registry
	ServiceName string
	// RateLimit turns on the per-IP limits of the credential endpoints.
	RateLimit bool
}

func NewRouter(d Deps) *chi.Mux {
	validate := validator.New()
	finisher := signin.Finisher{Jar: d.Jar, Sessions: d.Sessions}

	limit := func(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		if !d.RateLimit {
			return func(next http.Handler) http.Handler { return next }
		}
		return mw
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware(d.ServiceName))
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, resp.OK())
	})
	if d.Registry != nil {
		r.Handle("/metrics", metrics.Handler(d.Registry))
	}

	r.With(limit(rateLimit.Register())).Post("/register",
		register.New(d.Log, validate, d.Auth, finisher, d.StoreTimeout),
	)
	r.With(limit(rateLimit.Login())).Post("/login",
		login.New(d.Log, validate, d.Auth, finisher, d.StoreTimeout),
	)
	r.With(limit(rateLimit.Logout())).Post("/logout",
		logout.New(d.Log, d.Auth, d.Sessions, d.Jar, d.StoreTimeout),
	)
	r.With(limit(rateLimit.Refresh())).Post("/refresh",
		refresh.New(d.Log, d.Auth, d.Jar, d.StoreTimeout),
	)

	if d.OAuth != nil {
		r.Route("/auth/external", func(r chi.Router) {
			r.Use(limit(rateLimit.External()))
			r.Get("/", external.Start(d.Log, d.OAuth, d.Jar))
			r.Get("/callback", external.Callback(d.Log, d.OAuth, d.Auth, finisher, external.CallbackConfig{
				SuccessURL: d.OAuthSuccessURL,
				FailureURL: d.OAuthFailureURL,
				Timeout:    d.StoreTimeout,
			}))
		})
	}

	r.Get("/check-auth", checkauth.New(d.Log, d.Authenticator))

	r.With(d.Authenticator.ResolveIdentity).Get("/profile",
		profile.New(d.Log, d.Auth, d.StoreTimeout),
	)
	r.With(d.Authenticator.RequireAuthenticated).Get("/session",
		sessionHandler.New(),
	)

	r.Route("/admin", func(r chi.Router) {
		r.Use(d.Authenticator.RequireAdmin)

		r.Get("/users", admin.ListUsers(d.Log, d.Auth, d.StoreTimeout))
		r.Patch("/users/{id}/admin", admin.SetAdmin(d.Log, validate, d.Auth, d.Sessions, d.StoreTimeout))
		r.Post("/users/{id}/revoke-tokens", admin.RevokeTokens(d.Log, d.Auth, d.Sessions, d.StoreTimeout))
	})

	return r
}
