// Package admin serves account management for administrators. Every handler
// here must be mounted behind RequireAdmin.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"booking_service/internal/auth"
	resp "booking_service/internal/lib/api/response"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type UserAdmin interface {
	Users(ctx context.Context) ([]models.User, error)
	SetAdmin(ctx context.Context, userID string, isAdmin bool) error
	RevokeUserTokens(ctx context.Context, userID string) (int64, error)
}

type SessionRevoker interface {
	DestroyUser(ctx context.Context, userID string) error
}

type ListResponse struct {
	resp.Response
	Users []resp.User `json:"users"`
}

func ListUsers(log *slog.Logger, users UserAdmin, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.admin.ListUsers"

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		list, err := users.Users(ctx)
		if err != nil {
			log.Error("failed to list users",
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				sl.Err(err),
			)

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		out := make([]resp.User, 0, len(list))
		for _, u := range list {
			out = append(out, resp.UserView(u))
		}

		render.JSON(w, r, ListResponse{Response: resp.OK(), Users: out})
	}
}

type SetAdminRequest struct {
	IsAdmin *bool `json:"isAdmin" validate:"required"`
}

// SetAdmin changes the admin flag. The user's sessions are dropped because
// they carry the old flag.
func SetAdmin(
	log *slog.Logger,
	validate *validator.Validate,
	users UserAdmin,
	sessions SessionRevoker,
	timeout time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.admin.SetAdmin"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req SetAdminRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		userID := chi.URLParam(r, "id")

		if err := users.SetAdmin(ctx, userID, *req.IsAdmin); err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("user not found"))

				return
			}

			log.Error("failed to change admin flag", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		if err := sessions.DestroyUser(ctx, userID); err != nil {
			log.Error("failed to drop sessions", sl.Err(err))
		}

		render.JSON(w, r, resp.OK())
	}
}

type RevokeResponse struct {
	resp.Response
	Revoked int64 `json:"revoked"`
}

// RevokeTokens signs a user out everywhere: every token record is revoked
// and every session dropped.
func RevokeTokens(log *slog.Logger, users UserAdmin, sessions SessionRevoker, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.admin.RevokeTokens"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		userID := chi.URLParam(r, "id")

		n, err := users.RevokeUserTokens(ctx, userID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("user not found"))

				return
			}

			log.Error("failed to revoke tokens", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(err.Error()))

			return
		}

		if err := sessions.DestroyUser(ctx, userID); err != nil {
			log.Error("failed to drop sessions", sl.Err(err))
		}

		log.Info("user signed out everywhere", slog.String("uid", userID), slog.Int64("revoked", n))

		render.JSON(w, r, RevokeResponse{Response: resp.OK(), Revoked: n})
	}
}
