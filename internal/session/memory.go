package session

import (
	"context"
	"sync"
)

// MemoryStorage keeps the anonymous identity in memory. It backs
// per-connection sessions and tests.
type MemoryStorage struct {
	mu   sync.Mutex
	user *AnonymousUser
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns the stored identity, or nil when none is stored.
func (s *MemoryStorage) Load(ctx context.Context) (*AnonymousUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, nil
	}
	user := *s.user
	return &user, nil
}

// Save stores the identity, replacing any previous one.
func (s *MemoryStorage) Save(ctx context.Context, user *AnonymousUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.user = &copied
	return nil
}

// Clear removes the stored identity.
func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	return nil
}
