package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"booking_service/internal/auth"
	"booking_service/internal/auth/tokens"
	"booking_service/internal/http_server/cookies"
	"booking_service/internal/lib/notification"
	mwAuth "booking_service/internal/middleware/auth"
	"booking_service/internal/models"
	"booking_service/internal/session"
	"booking_service/internal/storage/memory"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	profile models.ExternalProfile
}

func (p fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example/auth?state=" + url.QueryEscape(state)
}

func (p fakeProvider) Exchange(_ context.Context, code string) (models.ExternalProfile, error) {
	if code != "good-code" {
		return models.ExternalProfile{}, io.ErrUnexpectedEOF
	}
	return p.profile, nil
}

type testServer struct {
	router *chi.Mux
	store  *memory.Storage
	clock  *clock
}

func newTestServer(t *testing.T) testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	clk := &clock{now: time.Now().Truncate(time.Second)}

	tokenSvc, err := tokens.New(log, store, tokens.Config{Secret: "test-secret", Issuer: "test"})
	require.NoError(t, err)
	tokenSvc.WithClock(clk.Now)

	authSvc := auth.New(log, store, store, tokenSvc, notification.New(log, nil)).
		WithHashCost(bcrypt.MinCost).
		WithClock(clk.Now)

	sessions := session.NewManager(log, session.NewMemoryStore(), time.Hour, false)

	router := NewRouter(Deps{
		Log:           log,
		Auth:          authSvc,
		Authenticator: mwAuth.New(log, sessions, tokenSvc, store, time.Second),
		Sessions:      sessions,
		Jar:           cookies.Jar{Secure: false},
		StoreTimeout:  time.Second,
		OAuth: fakeProvider{profile: models.ExternalProfile{
			ExternalID:    "g-1",
			Email:         "oauth@example.com",
			EmailVerified: true,
			Name:          "OAuth User",
		}},
		OAuthSuccessURL: "http://client.example/",
		OAuthFailureURL: "http://client.example/login?error=oauth",
		ServiceName:     "test",
	})

	return testServer{router: router, store: store, clock: clk}
}

func (s testServer) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))

	return m
}

type registered struct {
	access, refresh, sid *http.Cookie
	user                 map[string]any
}

func (s testServer) register(t *testing.T, name, email, password string) registered {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/register", map[string]string{
		"name": name, "email": email, "password": password, "phone": "+100000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	return registered{
		access:  cookieByName(rec, cookies.AccessToken),
		refresh: cookieByName(rec, cookies.RefreshToken),
		sid:     cookieByName(rec, session.CookieName),
		user:    decode(t, rec)["user"].(map[string]any),
	}
}

func TestRegisterFirstUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/register", map[string]string{
		"name": "Ann", "email": "ann@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "OK", body["status"])
	require.Equal(t, true, body["isAuthenticated"])
	require.NotEmpty(t, body["tokenExpiry"])

	user := body["user"].(map[string]any)
	require.Equal(t, true, user["isAdmin"])
	require.Equal(t, "ann@example.com", user["email"])
	require.NotContains(t, user, "password")

	access := cookieByName(rec, cookies.AccessToken)
	require.NotNil(t, access)
	require.Equal(t, "/", access.Path)
	require.True(t, access.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, access.SameSite)
	require.InDelta(t, time.Hour.Seconds(), float64(access.MaxAge), 5)

	refreshC := cookieByName(rec, cookies.RefreshToken)
	require.NotNil(t, refreshC)
	require.Equal(t, "/refresh", refreshC.Path)
	require.True(t, refreshC.HttpOnly)
	require.InDelta(t, (7 * 24 * time.Hour).Seconds(), float64(refreshC.MaxAge), 5)

	second := s.register(t, "Bob", "bob@example.com", "secret2")
	require.Equal(t, false, second.user["isAdmin"])
}

func TestRegisterRejects(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "Ann", "ann@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/register", map[string]string{
		"name": "Ann", "email": "ANN@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "user already exists", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/register", map[string]string{
		"name": "X", "email": "not-an-email", "password": "123",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "valid email")

	rec = s.do(t, http.MethodPost, "/register", map[string]string{
		"name": "Long", "email": "long@example.com", "password": strings.Repeat("x", 80),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "field Password must be at most 72 characters", decode(t, rec)["error"])

	// 40 runes but 80 bytes
	rec = s.do(t, http.MethodPost, "/register", map[string]string{
		"name": "Long", "email": "long@example.com", "password": strings.Repeat("ж", 40),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "password must be at most 72 bytes", decode(t, rec)["error"])
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "Ann", "ann@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/login", map[string]string{
		"email": "ann@example.com", "password": "wrong-one",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rec.Result().Cookies())

	body := decode(t, rec)
	require.Equal(t, "incorrect email or password", body["error"])
	require.Equal(t, false, body["isAuthenticated"])

	rec = s.do(t, http.MethodPost, "/login", map[string]string{
		"email": "ghost@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "incorrect email or password", decode(t, rec)["error"])
}

func TestLoginThenProfile(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "Ann", "ann@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/login", map[string]string{
		"email": "Ann@Example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	access := cookieByName(rec, cookies.AccessToken)
	require.NotNil(t, access)

	rec = s.do(t, http.MethodGet, "/profile", nil, withCookie(access))
	require.Equal(t, http.StatusOK, rec.Code)

	user := decode(t, rec)["user"].(map[string]any)
	require.Equal(t, "Ann", user["name"])
	require.Equal(t, "+100000", user["phone"])
	require.Equal(t, "local", user["authMethod"])
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "Ann", "ann@example.com", "secret1")

	rec := s.do(t, http.MethodGet, "/profile", nil, withBearer(ann.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/logout", nil, withCookie(ann.access), withCookie(ann.sid))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["isAuthenticated"])

	for _, name := range []string{cookies.AccessToken, cookies.RefreshToken, session.CookieName} {
		c := cookieByName(rec, name)
		require.NotNil(t, c, name)
		require.Less(t, c.MaxAge, 0, name)
	}
	require.Equal(t, "/refresh", cookieByName(rec, cookies.RefreshToken).Path)

	rec = s.do(t, http.MethodGet, "/profile", nil, withBearer(ann.access.Value))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "please authenticate", decode(t, rec)["error"])

	// the refresh token outlives logout but never authenticates a request
	rec = s.do(t, http.MethodGet, "/profile", nil, withBearer(ann.refresh.Value))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/session", nil, withCookie(ann.sid))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "Ann", "ann@example.com", "secret1")

	s.clock.Advance(2 * time.Hour)

	rec := s.do(t, http.MethodGet, "/profile", nil, withBearer(ann.access.Value))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/refresh", nil, withCookie(ann.refresh))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["isAuthenticated"])

	access := cookieByName(rec, cookies.AccessToken)
	require.NotNil(t, access)
	require.Nil(t, cookieByName(rec, cookies.RefreshToken), "refresh token is not rotated")

	rec = s.do(t, http.MethodGet, "/profile", nil, withBearer(access.Value))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshExpiredClearsCookies(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "Ann", "ann@example.com", "secret1")

	s.clock.Advance(8 * 24 * time.Hour)

	rec := s.do(t, http.MethodPost, "/refresh", nil, withCookie(ann.refresh))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, false, decode(t, rec)["isAuthenticated"])

	access := cookieByName(rec, cookies.AccessToken)
	refreshC := cookieByName(rec, cookies.RefreshToken)
	require.NotNil(t, access)
	require.NotNil(t, refreshC)
	require.Less(t, access.MaxAge, 0)
	require.Less(t, refreshC.MaxAge, 0)
	require.Equal(t, "/", access.Path)
	require.Equal(t, "/refresh", refreshC.Path)
}

func TestRefreshRejectsMissingAndAccessToken(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "Ann", "ann@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/refresh", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, cookieByName(rec, cookies.RefreshToken))

	rec = s.do(t, http.MethodPost, "/refresh", nil, withCookie(&http.Cookie{
		Name: cookies.RefreshToken, Value: ann.access.Value,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckAuthNeverRejects(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "Ann", "ann@example.com", "secret1")

	rec := s.do(t, http.MethodGet, "/check-auth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["isAuthenticated"])
	require.NotContains(t, decode(t, rec), "user")

	rec = s.do(t, http.MethodGet, "/check-auth", nil, withBearer("garbage"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["isAuthenticated"])

	rec = s.do(t, http.MethodGet, "/check-auth", nil, withCookie(ann.access))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, true, body["isAuthenticated"])
	require.Equal(t, "ann@example.com", body["user"].(map[string]any)["email"])
}

func TestSessionRoute(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "Ann", "ann@example.com", "secret1")
	require.NotNil(t, ann.sid)

	rec := s.do(t, http.MethodGet, "/session", nil, withBearer(ann.access.Value))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/session", nil, withCookie(ann.sid))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ann.user["id"], decode(t, rec)["user"].(map[string]any)["id"])
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	root := s.register(t, "Root", "root@example.com", "secret1")
	joe := s.register(t, "Joe", "joe@example.com", "secret2")
	joeID := joe.user["id"].(string)

	rec := s.do(t, http.MethodGet, "/admin/users", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withBearer(joe.access.Value))
	require.Equal(t, http.StatusForbidden, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "access denied, admin privileges required", body["error"])
	require.Equal(t, true, body["isAuthenticated"])
	require.Equal(t, false, body["isAuthorized"])

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withBearer(root.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["users"], 2)

	rec = s.do(t, http.MethodPatch, "/admin/users/missing/admin", map[string]bool{"isAdmin": true},
		withBearer(root.access.Value))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/users/"+joeID+"/admin", map[string]any{},
		withBearer(root.access.Value))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/users/"+joeID+"/admin", map[string]bool{"isAdmin": true},
		withBearer(root.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withBearer(joe.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/admin/users/"+joeID+"/revoke-tokens", nil, withBearer(root.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 2, decode(t, rec)["revoked"])

	rec = s.do(t, http.MethodGet, "/profile", nil, withBearer(joe.access.Value))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/refresh", nil, withCookie(joe.refresh))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/session", nil, withCookie(joe.sid))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDemotionDropsSessions(t *testing.T) {
	s := newTestServer(t)
	root := s.register(t, "Root", "root@example.com", "secret1")
	joe := s.register(t, "Joe", "joe@example.com", "secret2")
	joeID := joe.user["id"].(string)

	rec := s.do(t, http.MethodPatch, "/admin/users/"+joeID+"/admin", map[string]bool{"isAdmin": true},
		withBearer(root.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/login", map[string]string{
		"email": "joe@example.com", "password": "secret2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	sid := cookieByName(rec, session.CookieName)
	access := cookieByName(rec, cookies.AccessToken)
	require.NotNil(t, sid)
	require.NotNil(t, access)

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withCookie(sid))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/users/"+joeID+"/admin", map[string]bool{"isAdmin": false},
		withBearer(root.access.Value))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withCookie(sid))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withCookie(sid), withBearer(access.Value))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/users", nil, withCookie(root.sid))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExternalSignIn(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/auth/external", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	state := cookieByName(rec, cookies.OAuthState)
	require.NotNil(t, state)
	require.Equal(t, http.SameSiteLaxMode, state.SameSite)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, state.Value, loc.Query().Get("state"))

	t.Run("state mismatch", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/auth/external/callback?state=other&code=good-code", nil, withCookie(state))
		require.Equal(t, http.StatusFound, rec.Code)
		require.True(t, strings.HasSuffix(rec.Header().Get("Location"), "error=oauth"))
		require.Nil(t, cookieByName(rec, cookies.AccessToken))
	})

	t.Run("bad code", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/auth/external/callback?state="+url.QueryEscape(state.Value)+"&code=bad",
			nil, withCookie(state))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "http://client.example/login?error=oauth", rec.Header().Get("Location"))
	})

	t.Run("success", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/auth/external/callback?state="+url.QueryEscape(state.Value)+"&code=good-code",
			nil, withCookie(state))
		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "http://client.example/", rec.Header().Get("Location"))

		access := cookieByName(rec, cookies.AccessToken)
		require.NotNil(t, access)
		require.NotNil(t, cookieByName(rec, cookies.RefreshToken))
		require.NotNil(t, cookieByName(rec, session.CookieName))

		rec = s.do(t, http.MethodGet, "/profile", nil, withBearer(access.Value))
		require.Equal(t, http.StatusOK, rec.Code)

		user := decode(t, rec)["user"].(map[string]any)
		require.Equal(t, "external", user["authMethod"])
		require.Equal(t, true, user["isAdmin"])
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
