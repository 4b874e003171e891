package checkauth

import (
	"log/slog"
	"net/http"

	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	mwAuth "booking_service/internal/middleware/auth"
	"booking_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	IsAuthenticated bool             `json:"isAuthenticated"`
	User            *models.Identity `json:"user,omitempty"`
}

type Resolver interface {
	Resolve(r *http.Request) mwAuth.Resolution
}

// New reports whether the caller is signed in. It never answers 401.
func New(log *slog.Logger, resolver Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.checkauth.New"

		res := resolver.Resolve(r)
		if !res.Authenticated() {
			if res.Err != nil && !isAuthError(res.Err) {
				log.Warn("identity resolution failed",
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					sl.Err(res.Err),
				)
			}

			render.JSON(w, r, Response{Response: resp.OK(), IsAuthenticated: false})

			return
		}

		identity := res.Identity

		render.JSON(w, r, Response{
			Response:        resp.OK(),
			IsAuthenticated: true,
			User:            &identity,
		})
	}
}

func isAuthError(err error) bool {
	switch err {
	case mwAuth.ErrNoCredentials, mwAuth.ErrInvalidToken, mwAuth.ErrUserNotFound:
		return true
	}
	return false
}
