// Package signin finishes a successful registration or login: token cookies
// plus a server-side session.
package signin

import (
	"context"
	"net/http"

	"booking_service/internal/auth"
	"booking_service/internal/http_server/cookies"
	"booking_service/internal/models"
)

type SessionCreator interface {
	Create(ctx context.Context, w http.ResponseWriter, identity models.Identity) error
}

type Finisher struct {
	Jar      cookies.Jar
	Sessions SessionCreator
}

// Complete sets both token cookies and opens a session. Cookies are set even
// when the session store fails; the returned error is only worth logging.
func (f Finisher) Complete(ctx context.Context, w http.ResponseWriter, grant auth.Grant) error {
	f.Jar.SetAccess(w, grant.Access.Token, grant.Access.ExpiresAt)
	f.Jar.SetRefresh(w, grant.Refresh.Token, grant.Refresh.ExpiresAt)

	return f.Sessions.Create(ctx, w, Identity(grant.User))
}

func Identity(u models.User) models.Identity {
	return models.Identity{
		UserID:  u.ID,
		Email:   u.Email,
		Name:    u.Name,
		IsAdmin: u.IsAdmin,
	}
}
