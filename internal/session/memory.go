package session

import (
	"context"
	"sync"
	"time"

	"booking_service/internal/models"
	"booking_service/internal/storage"
)

type memoryEntry struct {
	identity  models.Identity
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Expired entries are dropped on read.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]memoryEntry{},
		now:      time.Now,
	}
}

func (s *MemoryStore) SaveSession(_ context.Context, id string, identity models.Identity, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = memoryEntry{identity: identity, expiresAt: s.now().Add(ttl)}

	return nil
}

func (s *MemoryStore) Session(_ context.Context, id string) (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return models.Identity{}, storage.ErrSessionNotFound
	}

	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, id)
		return models.Identity{}, storage.ErrSessionNotFound
	}

	return e.identity, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)

	return nil
}

func (s *MemoryStore) DeleteUserSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.sessions {
		if e.identity.UserID == userID {
			delete(s.sessions, id)
		}
	}

	return nil
}
