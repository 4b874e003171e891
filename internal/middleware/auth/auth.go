// Package auth resolves who is calling and gates routes on it.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"booking_service/internal/http_server/cookies"
	resp "booking_service/internal/lib/api/response"
	"booking_service/internal/lib/jwt"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Source int

const (
	SourceNone Source = iota
	SourceSession
	SourceToken
)

func (s Source) String() string {
	switch s {
	case SourceSession:
		return "session"
	case SourceToken:
		return "token"
	default:
		return "none"
	}
}

var (
	ErrNoCredentials = errors.New("authentication required")
	ErrInvalidToken  = errors.New("please authenticate")
	ErrUserNotFound  = errors.New("user not found")
	ErrNotAdmin      = errors.New("access denied, admin privileges required")
)

// Resolution is the outcome of identifying a request. Err is set when
// Source is SourceNone.
type Resolution struct {
	Source   Source
	Identity models.Identity
	Err      error
}

func (r Resolution) Authenticated() bool {
	return r.Source != SourceNone
}

type SessionReader interface {
	Get(r *http.Request) (models.Identity, bool)
}

type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*jwt.Claims, error)
}

type UserProvider interface {
	UserByID(ctx context.Context, id string) (models.User, error)
}

type Authenticator struct {
	log      *slog.Logger
	sessions SessionReader
	tokens   TokenVerifier
	users    UserProvider
	timeout  time.Duration
}

func New(
	log *slog.Logger,
	sessions SessionReader,
	tokens TokenVerifier,
	users UserProvider,
	timeout time.Duration,
) *Authenticator {
	return &Authenticator{
		log:      log,
		sessions: sessions,
		tokens:   tokens,
		users:    users,
		timeout:  timeout,
	}
}

// * Resolve identifies the caller: session first, then bearer header, then
// the access token cookie.
func (a *Authenticator) Resolve(r *http.Request) Resolution {
	const op = "middleware.auth.Resolve"

	if identity, ok := a.sessions.Get(r); ok {
		return Resolution{Source: SourceSession, Identity: identity}
	}

	raw := Token(r)
	if raw == "" {
		return Resolution{Err: ErrNoCredentials}
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	claims, err := a.tokens.Verify(ctx, raw)
	if err != nil {
		return Resolution{Err: ErrInvalidToken}
	}

	// * refresh tokens only mint access tokens
	if claims.Kind != models.TokenKindAccess {
		return Resolution{Err: ErrInvalidToken}
	}

	user, err := a.users.UserByID(ctx, claims.UserID())
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			a.log.Error("failed to load user", slog.String("op", op), sl.Err(err))
			return Resolution{Err: err}
		}
		return Resolution{Err: ErrUserNotFound}
	}

	return Resolution{
		Source: SourceToken,
		Identity: models.Identity{
			UserID:  user.ID,
			Email:   user.Email,
			Name:    user.Name,
			IsAdmin: user.IsAdmin,
		},
	}
}

// ResolveIdentity rejects unauthenticated requests with 401 and attaches
// the identity to the context otherwise.
func (a *Authenticator) ResolveIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := a.Resolve(r)
		if !res.Authenticated() {
			a.reject(w, r, res.Err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Identity)))
	})
}

// RequireAuthenticated only accepts a live session. Tokens are not
// consulted.
func (a *Authenticator) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := a.sessions.Get(r)
		if !ok {
			resp.WriteUnauthorized(w, r, ErrNoCredentials.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireAdmin answers 401 for unknown callers and 403 for known ones
// without the admin flag.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := a.Resolve(r)
		if !res.Authenticated() {
			a.reject(w, r, res.Err)
			return
		}

		if !res.Identity.IsAdmin {
			a.log.Info("admin route denied",
				slog.String("uid", res.Identity.UserID),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
			resp.WriteForbidden(w, r, ErrNotAdmin.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Identity)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNoCredentials), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUserNotFound):
		resp.WriteUnauthorized(w, r, err.Error())
	default:
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, resp.Error(err.Error()))
	}
}

// Token extracts the raw access token from the Authorization header or,
// failing that, from the access token cookie.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}

	return cookies.Value(r, cookies.AccessToken)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(ctxKey{}).(models.Identity)
	return identity, ok
}
