// Package session keeps a server-side record of the signed-in identity,
// referenced from the browser by an opaque id cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/google/uuid"
)

const CookieName = "sid"

type Store interface {
	SaveSession(ctx context.Context, id string, identity models.Identity, ttl time.Duration) error
	Session(ctx context.Context, id string) (models.Identity, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// Manager is safe to use as a nil pointer, which behaves as sessions being
// disabled: nothing is stored and no request carries a session.
type Manager struct {
	log    *slog.Logger
	store  Store
	ttl    time.Duration
	secure bool
}

func NewManager(log *slog.Logger, store Store, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		log:    log,
		store:  store,
		ttl:    ttl,
		secure: secure,
	}
}

// Create stores identity under a fresh id and sets the session cookie.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, identity models.Identity) error {
	const op = "session.Create"

	if m == nil {
		return nil
	}

	id := uuid.NewString()

	if err := m.store.SaveSession(ctx, id, identity, m.ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	http.SetCookie(w, m.cookie(id, int(m.ttl.Seconds())))

	return nil
}

// Get returns the identity of the session referenced by r, if any.
func (m *Manager) Get(r *http.Request) (models.Identity, bool) {
	const op = "session.Get"

	if m == nil {
		return models.Identity{}, false
	}

	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return models.Identity{}, false
	}

	identity, err := m.store.Session(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, storage.ErrSessionNotFound) {
			m.log.Warn("session lookup failed", slog.String("op", op), sl.Err(err))
		}
		return models.Identity{}, false
	}

	return identity, true
}

// Destroy deletes the session referenced by r and clears the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	const op = "session.Destroy"

	if m == nil {
		return nil
	}

	http.SetCookie(w, m.cookie("", -1))

	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}

	if err := m.store.DeleteSession(r.Context(), c.Value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DestroyUser drops every session of userID.
func (m *Manager) DestroyUser(ctx context.Context, userID string) error {
	const op = "session.DestroyUser"

	if m == nil {
		return nil
	}

	if err := m.store.DeleteUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
