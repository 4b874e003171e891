package refresh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/auth"
	"booking_service/internal/auth/tokens"
	"booking_service/internal/http_server/cookies"
	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/lib/metrics"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	TokenExpiry     time.Time `json:"tokenExpiry"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokens.Issued, error)
}

func New(
	log *slog.Logger,
	authService TokenRefresher,
	jar cookies.Jar,
	timeout time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		raw := cookies.Value(r, cookies.RefreshToken)
		if raw == "" {
			jar.ClearTokens(w)
			resp.WriteUnauthorized(w, r, "refresh token required")

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		issued, err := authService.Refresh(ctx, raw)
		if err != nil {
			metrics.Auth("refresh", false)

			if errors.Is(err, auth.ErrInvalidCredentials) {
				jar.ClearTokens(w)
				resp.WriteUnauthorized(w, r, "invalid refresh token")

				return
			}

			log.Error("failed to refresh token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		metrics.Auth("refresh", true)

		jar.SetAccess(w, issued.Token, issued.ExpiresAt)

		log.Info("Tokens refreshed successfully")

		render.JSON(w, r, Response{
			Response:        resp.OK(),
			TokenExpiry:     issued.ExpiresAt,
			IsAuthenticated: true,
		})
	}
}
