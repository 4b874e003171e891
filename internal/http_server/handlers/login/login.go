package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/auth"
	"booking_service/internal/http_server/handlers/signin"
	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/lib/metrics"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	User            resp.User `json:"user"`
	TokenExpiry     time.Time `json:"tokenExpiry"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

type UserLogin interface {
	Login(ctx context.Context, strategy auth.Strategy) (auth.Grant, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService UserLogin,
	finisher signin.Finisher,
	timeout time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		grant, err := authService.Login(ctx, auth.Local{Email: req.Email, Password: req.Password})
		if err != nil {
			metrics.Auth("login", false)

			if errors.Is(err, auth.ErrInvalidCredentials) {
				resp.WriteUnauthorized(w, r, auth.ErrInvalidCredentials.Error())

				return
			}

			log.Error("failed to login user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		metrics.Auth("login", true)

		if err := finisher.Complete(ctx, w, grant); err != nil {
			log.Warn("failed to open session", sl.Err(err))
		}

		log.Info("User logged in successfully")

		render.JSON(w, r, Response{
			Response:        resp.OK(),
			User:            resp.UserView(grant.User),
			TokenExpiry:     grant.Access.ExpiresAt,
			IsAuthenticated: true,
		})
	}
}
