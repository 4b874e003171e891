// Package external drives the OAuth authorization-code round trip.
package external

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/auth"
	"booking_service/internal/auth/oauth"
	"booking_service/internal/http_server/cookies"
	"booking_service/internal/http_server/handlers/signin"
	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/lib/metrics"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const stateTTL = 10 * time.Minute

type UserLogin interface {
	Login(ctx context.Context, strategy auth.Strategy) (auth.Grant, error)
}

// Start redirects the browser to the provider's consent page.
func Start(log *slog.Logger, provider oauth.Provider, jar cookies.Jar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.external.Start"

		state, err := oauth.NewState()
		if err != nil {
			log.Error("failed to generate state",
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				sl.Err(err),
			)

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		jar.SetState(w, state, stateTTL)

		http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
	}
}

type CallbackConfig struct {
	SuccessURL string
	FailureURL string
	Timeout    time.Duration
}

// Callback checks the state, exchanges the code, signs the user in and
// redirects back to the client.
func Callback(
	log *slog.Logger,
	provider oauth.Provider,
	authService UserLogin,
	finisher signin.Finisher,
	cfg CallbackConfig,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.external.Callback"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		fail := func(reason string, err error) {
			metrics.Auth("external", false)

			attrs := []any{slog.String("reason", reason)}
			if err != nil {
				attrs = append(attrs, sl.Err(err))
			}
			log.Info("external sign-in failed", attrs...)

			http.Redirect(w, r, cfg.FailureURL, http.StatusFound)
		}

		expected := cookies.Value(r, cookies.OAuthState)
		finisher.Jar.ClearState(w)

		got := r.URL.Query().Get("state")
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
			fail("state mismatch", nil)
			return
		}

		if e := r.URL.Query().Get("error"); e != "" {
			fail("provider error: "+e, nil)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			fail("missing code", nil)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
		defer cancel()

		profile, err := provider.Exchange(ctx, code)
		if err != nil {
			fail("exchange", err)
			return
		}

		grant, err := authService.Login(ctx, auth.External{Profile: profile})
		if err != nil {
			fail("login", err)
			return
		}

		metrics.Auth("external", true)

		if err := finisher.Complete(ctx, w, grant); err != nil {
			log.Warn("failed to open session", sl.Err(err))
		}

		log.Info("external sign-in succeeded", slog.String("uid", grant.User.ID))

		http.Redirect(w, r, cfg.SuccessURL, http.StatusFound)
	}
}
