package logout

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/http_server/cookies"
	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	mwAuth "booking_service/internal/middleware/auth"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	IsAuthenticated bool `json:"isAuthenticated"`
}

type UserLogout interface {
	Logout(ctx context.Context, accessToken string) error
}

type SessionDestroyer interface {
	Destroy(w http.ResponseWriter, r *http.Request) error
}

// New revokes the presented access token and forgets the client. It always
// succeeds from the client's point of view; revocation problems are logged.
func New(
	log *slog.Logger,
	authService UserLogout,
	sessions SessionDestroyer,
	jar cookies.Jar,
	timeout time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := authService.Logout(ctx, mwAuth.Token(r)); err != nil {
			log.Error("failed to revoke access token", sl.Err(err))
		}

		if err := sessions.Destroy(w, r); err != nil {
			log.Error("failed to destroy session", sl.Err(err))
		}

		jar.ClearTokens(w)

		log.Info("user logged out successfully")

		render.JSON(w, r, Response{
			Response:        resp.OK(),
			IsAuthenticated: false,
		})
	}
}
