package cookies

import (
	"net/http"
	"time"
)

const (
	AccessToken  = "accessToken"
	RefreshToken = "refreshToken"
	OAuthState   = "oauthState"

	RefreshPath = "/refresh"
	StatePath   = "/auth/external"
)

// Jar writes the auth cookies. Clearing uses the same attributes as setting
// so that browsers actually drop them.
type Jar struct {
	Secure bool
}

func (j Jar) SetAccess(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, j.cookie(AccessToken, token, "/", expiresAt))
}

func (j Jar) SetRefresh(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, j.cookie(RefreshToken, token, RefreshPath, expiresAt))
}

// ClearTokens expires both token cookies.
func (j Jar) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, j.expired(AccessToken, "/"))
	http.SetCookie(w, j.expired(RefreshToken, RefreshPath))
}

// SetState stores the OAuth state for the callback. SameSite must be Lax:
// the callback arrives as a cross-site navigation from the provider.
func (j Jar) SetState(w http.ResponseWriter, state string, ttl time.Duration) {
	c := j.cookie(OAuthState, state, StatePath, time.Now().Add(ttl))
	c.SameSite = http.SameSiteLaxMode
	http.SetCookie(w, c)
}

func (j Jar) ClearState(w http.ResponseWriter) {
	c := j.expired(OAuthState, StatePath)
	c.SameSite = http.SameSiteLaxMode
	http.SetCookie(w, c)
}

// Value returns the cookie value, or "" when absent.
func Value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (j Jar) cookie(name, value, path string, expiresAt time.Time) *http.Cookie {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (j Jar) expired(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
