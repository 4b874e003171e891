// Package memory is a process-local store used by the local environment and
// by tests. It honours the same uniqueness rules as the database stores.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"booking_service/internal/models"
	"booking_service/internal/storage"
)

type Storage struct {
	mu     sync.RWMutex
	users  map[string]models.User
	tokens map[string]models.Token
}

func New() *Storage {
	return &Storage{
		users:  map[string]models.User{},
		tokens: map[string]models.Token{},
	}
}

func (s *Storage) CreateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return models.User{}, storage.ErrUserExists
		}
		if user.ExternalID != "" && u.ExternalID == user.ExternalID {
			return models.User{}, storage.ErrExternalIDTaken
		}
	}

	s.users[user.ID] = user

	return user, nil
}

func (s *Storage) UpdateUser(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return storage.ErrUserNotFound
	}

	for id, u := range s.users {
		if id == user.ID {
			continue
		}
		if user.ExternalID != "" && u.ExternalID == user.ExternalID {
			return storage.ErrExternalIDTaken
		}
	}

	s.users[user.ID] = user

	return nil
}

func (s *Storage) User(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (s *Storage) UserByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, nil
}

func (s *Storage) UserByExternalID(_ context.Context, externalID string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if externalID != "" && u.ExternalID == externalID {
			return u, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (s *Storage) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.users)), nil
}

func (s *Storage) Users(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}

	slices.SortFunc(out, func(a, b models.User) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return out, nil
}

func (s *Storage) SetAdmin(_ context.Context, id string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}

	u.IsAdmin = isAdmin
	s.users[id] = u

	return nil
}

// DeleteUser removes the user record only; tokens are left to expire.
func (s *Storage) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return storage.ErrUserNotFound
	}

	delete(s.users, id)

	return nil
}

func (s *Storage) SaveToken(_ context.Context, token models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.TokenHash] = token

	return nil
}

func (s *Storage) TokenByHash(_ context.Context, hash string) (models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[hash]
	if !ok {
		return models.Token{}, storage.ErrTokenNotFound
	}

	return t, nil
}

func (s *Storage) RevokeToken(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[hash]
	if !ok {
		return storage.ErrTokenNotFound
	}

	t.Revoked = true
	s.tokens[hash] = t

	return nil
}

func (s *Storage) RevokeUserTokens(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.UserID != userID || t.Revoked {
			continue
		}
		t.Revoked = true
		s.tokens[hash] = t
		n++
	}

	return n, nil
}

// DeleteToken drops a record, as the retention cap eventually does.
func (s *Storage) DeleteToken(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, hash)

	return nil
}

func (s *Storage) PruneTokens(_ context.Context, createdBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if t.CreatedAt.Before(createdBefore) {
			delete(s.tokens, hash)
			n++
		}
	}

	return n, nil
}

func (s *Storage) Close() {}
