package profile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/auth"
	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	mwAuth "booking_service/internal/middleware/auth"
	"booking_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	User resp.User `json:"user"`
}

type ProfileProvider interface {
	Profile(ctx context.Context, userID string) (models.User, error)
}

// New serves the resolved caller's own account. Mount behind ResolveIdentity.
func New(log *slog.Logger, users ProfileProvider, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.profile.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		identity, ok := mwAuth.IdentityFrom(r.Context())
		if !ok {
			resp.WriteUnauthorized(w, r, mwAuth.ErrNoCredentials.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		user, err := users.Profile(ctx, identity.UserID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("user not found"))

				return
			}

			log.Error("failed to load profile", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     resp.UserView(user),
		})
	}
}
