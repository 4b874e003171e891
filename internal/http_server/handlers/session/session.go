package session

import (
	"net/http"

	resp "booking_service/internal/lib/api/response"
	mwAuth "booking_service/internal/middleware/auth"
	"booking_service/internal/models"

	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            models.Identity `json:"user"`
}

// New echoes the session identity. Mount behind RequireAuthenticated.
func New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := mwAuth.IdentityFrom(r.Context())
		if !ok {
			resp.WriteUnauthorized(w, r, mwAuth.ErrNoCredentials.Error())
			return
		}

		render.JSON(w, r, Response{
			Response:        resp.OK(),
			IsAuthenticated: true,
			User:            identity,
		})
	}
}
