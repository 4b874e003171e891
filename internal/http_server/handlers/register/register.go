package register

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
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Phone    string `json:"phone"`
}

type Response struct {
	resp.Response
	User            resp.User `json:"user"`
	TokenExpiry     time.Time `json:"tokenExpiry"`
	IsAuthenticated bool      `json:"isAuthenticated"`
}

type UserRegistrar interface {
	RegisterNewUser(ctx context.Context, in auth.RegisterInput) (auth.Grant, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrar UserRegistrar,
	finisher signin.Finisher,
	timeout time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		grant, err := registrar.RegisterNewUser(ctx, auth.RegisterInput{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Phone:    req.Phone,
		})
		if err != nil {
			metrics.Auth("register", false)

			if errors.Is(err, auth.ErrUserExists) {
				log.Info("email already registered")

				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("user already exists"))

				return
			}

			if errors.Is(err, auth.ErrPasswordTooLong) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error(err.Error()))

				return
			}

			log.Error("failed to register user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		metrics.Auth("register", true)

		if err := finisher.Complete(ctx, w, grant); err != nil {
			log.Warn("failed to open session", sl.Err(err))
		}

		log.Info("user registered", slog.String("uid", grant.User.ID))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response:        resp.OK(),
			User:            resp.UserView(grant.User),
			TokenExpiry:     grant.Access.ExpiresAt,
			IsAuthenticated: true,
		})
	}
}
