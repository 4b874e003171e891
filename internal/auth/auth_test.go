package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"booking_service/internal/auth/tokens"
	"booking_service/internal/models"
	"booking_service/internal/storage/memory"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingNotifier struct {
	mu    sync.Mutex
	users []models.User
}

func (n *recordingNotifier) AccountCreated(_ context.Context, user models.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, user)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

func newTestAuth(t *testing.T) (*Auth, *memory.Storage, *recordingNotifier) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	store := memory.New()

	tokenSvc, err := tokens.New(log, store, tokens.Config{Secret: "test-secret"})
	require.NoError(t, err)

	notifier := &recordingNotifier{}

	a := New(log, store, store, tokenSvc, notifier).WithHashCost(bcrypt.MinCost)

	return a, store, notifier
}

func TestRegisterFirstUserIsAdmin(t *testing.T) {
	a, _, notifier := newTestAuth(t)
	ctx := context.Background()

	first, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "Ann@Example.com", Password: "secret1"})
	require.NoError(t, err)
	require.True(t, first.User.IsAdmin)
	require.Equal(t, "ann@example.com", first.User.Email)
	require.Equal(t, models.AuthMethodLocal, first.User.AuthMethod)
	require.NotEmpty(t, first.Access.Token)
	require.NotEmpty(t, first.Refresh.Token)
	require.NotEqual(t, first.Access.Token, first.Refresh.Token)

	second, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "secret2"})
	require.NoError(t, err)
	require.False(t, second.User.IsAdmin)

	require.Equal(t, 2, notifier.count())
}

func TestRegisterRejectsLongPassword(t *testing.T) {
	a, store, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: strings.Repeat("x", 80)})
	require.ErrorIs(t, err, ErrPasswordTooLong)

	// multi-byte runes count by bytes
	_, err = a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: strings.Repeat("ж", 40)})
	require.ErrorIs(t, err, ErrPasswordTooLong)

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: strings.Repeat("x", 72)})
	require.NoError(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	a, _, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ANN@example.com", Password: "secret1"})
	require.ErrorIs(t, err, ErrUserExists)
}

func TestRegisterStoresHashNotPassword(t *testing.T) {
	a, store, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)

	u, err := store.User(ctx, "ann@example.com")
	require.NoError(t, err)
	require.NotEqual(t, []byte("secret1"), u.PassHash)
	require.NoError(t, bcrypt.CompareHashAndPassword(u.PassHash, []byte("secret1")))
}

func TestLocalLogin(t *testing.T) {
	a, _, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		grant, err := a.Login(ctx, Local{Email: "ANN@example.com", Password: "secret1"})
		require.NoError(t, err)
		require.Equal(t, "ann@example.com", grant.User.Email)
		require.NotEmpty(t, grant.Access.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := a.Login(ctx, Local{Email: "ann@example.com", Password: "nope"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email gives the same error", func(t *testing.T) {
		_, err := a.Login(ctx, Local{Email: "nobody@example.com", Password: "secret1"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.Equal(t, "incorrect email or password", err.Error())
	})
}

func TestLocalLoginWithoutCredential(t *testing.T) {
	a, _, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := a.Authenticate(ctx, External{Profile: models.ExternalProfile{
		ExternalID: "g-1", Email: "ext@example.com", EmailVerified: true, Name: "Ext",
	}})
	require.NoError(t, err)

	_, err = a.Login(ctx, Local{Email: "ext@example.com", Password: ""})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLocalLoginComparesEvenWithoutHash(t *testing.T) {
	a, _, _ := newTestAuth(t)
	ctx := context.Background()

	var compares int
	a.compare = func(hash, password []byte) error {
		compares++
		return bcrypt.CompareHashAndPassword(hash, password)
	}

	_, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, External{Profile: models.ExternalProfile{
		ExternalID: "g-1", Email: "ext@example.com", EmailVerified: true, Name: "Ext",
	}})
	require.NoError(t, err)

	cases := []struct {
		name  string
		email string
	}{
		{name: "wrong password", email: "ann@example.com"},
		{name: "unknown email", email: "nobody@example.com"},
		{name: "account without password", email: "ext@example.com"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := compares

			_, err := a.Login(ctx, Local{Email: tc.email, Password: "secret2"})
			require.ErrorIs(t, err, ErrInvalidCredentials)
			require.Equal(t, before+1, compares)
		})
	}
}

func TestExternalCreatesAndMatches(t *testing.T) {
	a, store, notifier := newTestAuth(t)
	ctx := context.Background()

	profile := models.ExternalProfile{
		ExternalID:    "g-42",
		Email:         "Carol@Example.com",
		EmailVerified: true,
		Name:          "Carol",
		Picture:       "https://example.com/carol.png",
	}

	created, err := a.Authenticate(ctx, External{Profile: profile})
	require.NoError(t, err)
	require.True(t, created.IsAdmin, "first account is admin regardless of strategy")
	require.Equal(t, models.AuthMethodExternal, created.AuthMethod)
	require.Equal(t, "carol@example.com", created.Email)
	require.Equal(t, "https://example.com/carol.png", created.ProfilePicture)
	require.Empty(t, created.PassHash)
	require.Equal(t, 1, notifier.count())

	again, err := a.Authenticate(ctx, External{Profile: profile})
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)

	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 1, notifier.count())
}

func TestExternalLinksExistingEmail(t *testing.T) {
	a, store, _ := newTestAuth(t)
	ctx := context.Background()

	reg, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Dan", Email: "dan@example.com", Password: "secret1"})
	require.NoError(t, err)

	linked, err := a.Authenticate(ctx, External{Profile: models.ExternalProfile{
		ExternalID: "g-7", Email: "DAN@example.com", EmailVerified: true, Picture: "pic",
	}})
	require.NoError(t, err)
	require.Equal(t, reg.User.ID, linked.ID)
	require.Equal(t, models.AuthMethodExternal, linked.AuthMethod)
	require.Equal(t, "pic", linked.ProfilePicture)

	stored, err := store.UserByExternalID(ctx, "g-7")
	require.NoError(t, err)
	require.Equal(t, reg.User.ID, stored.ID)

	// * the password still works after linking
	_, err = a.Login(ctx, Local{Email: "dan@example.com", Password: "secret1"})
	require.NoError(t, err)
}

func TestExternalRejectsUnverifiedEmail(t *testing.T) {
	a, _, _ := newTestAuth(t)

	_, err := a.Authenticate(context.Background(), External{Profile: models.ExternalProfile{
		ExternalID: "g-1", Email: "x@example.com",
	}})
	require.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestExternalNameFallsBackToEmail(t *testing.T) {
	a, _, _ := newTestAuth(t)

	u, err := a.Authenticate(context.Background(), External{Profile: models.ExternalProfile{
		ExternalID: "g-1", Email: "erin@example.com", EmailVerified: true,
	}})
	require.NoError(t, err)
	require.Equal(t, "erin", u.Name)
}

func TestRefreshAndLogout(t *testing.T) {
	a, _, _ := newTestAuth(t)
	ctx := context.Background()

	grant, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)

	access, err := a.Refresh(ctx, grant.Refresh.Token)
	require.NoError(t, err)
	require.NotEmpty(t, access.Token)
	require.WithinDuration(t, time.Now().Add(time.Hour), access.ExpiresAt, time.Minute)

	_, err = a.Refresh(ctx, grant.Access.Token)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, a.Logout(ctx, grant.Access.Token))
	require.NoError(t, a.Logout(ctx, ""))
}

type flakyTokenStore struct {
	*memory.Storage
	saveErr error
}

func (s *flakyTokenStore) SaveToken(ctx context.Context, token models.Token) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Storage.SaveToken(ctx, token)
}

func TestRefreshStoreFailureIsNotBadCredentials(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	store := &flakyTokenStore{Storage: memory.New()}

	tokenSvc, err := tokens.New(log, store, tokens.Config{Secret: "test-secret"})
	require.NoError(t, err)

	a := New(log, store.Storage, store.Storage, tokenSvc, &recordingNotifier{}).WithHashCost(bcrypt.MinCost)

	grant, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)

	errDown := errors.New("store is down")
	store.saveErr = errDown

	_, err = a.Refresh(ctx, grant.Refresh.Token)
	require.ErrorIs(t, err, errDown)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestSetAdminAndRevokeUserTokens(t *testing.T) {
	a, _, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Ann", Email: "ann@example.com", Password: "secret1"})
	require.NoError(t, err)
	bob, err := a.RegisterNewUser(ctx, RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "secret2"})
	require.NoError(t, err)

	require.NoError(t, a.SetAdmin(ctx, bob.User.ID, true))

	u, err := a.Profile(ctx, bob.User.ID)
	require.NoError(t, err)
	require.True(t, u.IsAdmin)

	require.ErrorIs(t, a.SetAdmin(ctx, "missing", true), ErrUserNotFound)

	n, err := a.RevokeUserTokens(ctx, bob.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = a.Refresh(ctx, bob.Refresh.Token)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.RevokeUserTokens(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)

	users, err := a.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
}
