// Package storagetest holds behaviour checks shared by every store
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type Store interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
	User(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	UserByExternalID(ctx context.Context, externalID string) (models.User, error)
	CountUsers(ctx context.Context) (int64, error)
	Users(ctx context.Context) ([]models.User, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) error

	SaveToken(ctx context.Context, token models.Token) error
	TokenByHash(ctx context.Context, hash string) (models.Token, error)
	RevokeToken(ctx context.Context, hash string) error
	RevokeUserTokens(ctx context.Context, userID string) (int64, error)
	PruneTokens(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Run exercises store. newStore must return an empty store on every call.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("external id", func(t *testing.T) { testExternalID(t, newStore(t)) })
	t.Run("tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("prune", func(t *testing.T) { testPrune(t, newStore(t)) })
}

func newUser(email string, at time.Time) models.User {
	return models.User{
		ID:         uuid.NewString(),
		Email:      email,
		PassHash:   []byte("hash"),
		Name:       "Test",
		AuthMethod: models.AuthMethodLocal,
		CreatedAt:  at,
	}
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	ann, err := s.CreateUser(ctx, newUser("ann@example.com", base))
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, newUser("ANN@example.com", base))
	require.ErrorIs(t, err, storage.ErrUserExists)

	bob, err := s.CreateUser(ctx, newUser("bob@example.com", base.Add(time.Second)))
	require.NoError(t, err)

	got, err := s.User(ctx, "Ann@Example.com")
	require.NoError(t, err)
	require.Equal(t, ann.ID, got.ID)
	require.Equal(t, []byte("hash"), got.PassHash)

	got, err = s.UserByID(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", got.Email)

	_, err = s.UserByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.User(ctx, "nobody@example.com")
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	require.NoError(t, s.SetAdmin(ctx, bob.ID, true))
	got, err = s.UserByID(ctx, bob.ID)
	require.NoError(t, err)
	require.True(t, got.IsAdmin)

	require.ErrorIs(t, s.SetAdmin(ctx, uuid.NewString(), true), storage.ErrUserNotFound)

	// * ids from the request path are not validated before they reach the store
	_, err = s.UserByID(ctx, "not-a-uuid")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
	require.ErrorIs(t, s.SetAdmin(ctx, "not-a-uuid", true), storage.ErrUserNotFound)

	revoked, err := s.RevokeUserTokens(ctx, "not-a-uuid")
	require.NoError(t, err)
	require.Zero(t, revoked)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, ann.ID, users[0].ID)

	n, err = s.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func testExternalID(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a := newUser("a@example.com", now)
	a.ExternalID = "g-1"
	a.PassHash = nil
	a.AuthMethod = models.AuthMethodExternal
	_, err := s.CreateUser(ctx, a)
	require.NoError(t, err)

	// * users without an external id never collide on it
	_, err = s.CreateUser(ctx, newUser("b@example.com", now))
	require.NoError(t, err)
	c, err := s.CreateUser(ctx, newUser("c@example.com", now))
	require.NoError(t, err)

	got, err := s.UserByExternalID(ctx, "g-1")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Empty(t, got.PassHash)
	require.Equal(t, models.AuthMethodExternal, got.AuthMethod)

	_, err = s.UserByExternalID(ctx, "g-2")
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	c.ExternalID = "g-1"
	require.ErrorIs(t, s.UpdateUser(ctx, c), storage.ErrExternalIDTaken)

	c.ExternalID = "g-3"
	c.ProfilePicture = "pic"
	require.NoError(t, s.UpdateUser(ctx, c))

	got, err = s.UserByExternalID(ctx, "g-3")
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, "pic", got.ProfilePicture)
}

func newToken(userID string, kind models.TokenKind, at time.Time) models.Token {
	return models.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: uuid.NewString(),
		Kind:      kind,
		ExpiresAt: at.Add(time.Hour),
		CreatedAt: at,
	}
}

func testTokens(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	uid := uuid.NewString()
	other := uuid.NewString()

	access := newToken(uid, models.TokenKindAccess, now)
	refresh := newToken(uid, models.TokenKindRefresh, now)
	foreign := newToken(other, models.TokenKindAccess, now)

	for _, tok := range []models.Token{access, refresh, foreign} {
		require.NoError(t, s.SaveToken(ctx, tok))
	}

	got, err := s.TokenByHash(ctx, refresh.TokenHash)
	require.NoError(t, err)
	require.Equal(t, uid, got.UserID)
	require.Equal(t, models.TokenKindRefresh, got.Kind)
	require.False(t, got.Revoked)
	require.True(t, refresh.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.TokenByHash(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	require.NoError(t, s.RevokeToken(ctx, access.TokenHash))
	require.ErrorIs(t, s.RevokeToken(ctx, "missing"), storage.ErrTokenNotFound)

	got, err = s.TokenByHash(ctx, access.TokenHash)
	require.NoError(t, err)
	require.True(t, got.Revoked)

	n, err := s.RevokeUserTokens(ctx, uid)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err = s.TokenByHash(ctx, refresh.TokenHash)
	require.NoError(t, err)
	require.True(t, got.Revoked)

	got, err = s.TokenByHash(ctx, foreign.TokenHash)
	require.NoError(t, err)
	require.False(t, got.Revoked)
}

func testPrune(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	uid := uuid.NewString()

	old := newToken(uid, models.TokenKindRefresh, now.Add(-31*24*time.Hour))
	fresh := newToken(uid, models.TokenKindRefresh, now)

	require.NoError(t, s.SaveToken(ctx, old))
	require.NoError(t, s.SaveToken(ctx, fresh))

	n, err := s.PruneTokens(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.TokenByHash(ctx, old.TokenHash)
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	_, err = s.TokenByHash(ctx, fresh.TokenHash)
	require.NoError(t, err)
}
