package store

import (
	"context"
	"sync"

	"github.com/pivot-protocol/walletcore/core"
)

// MemoryStore is an in-memory implementation of both the session and
// challenge stores. It backs the tab-scoped challenge record in production
// and everything in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	session   *core.Session
	challenge *core.Challenge
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SaveSession stores the session record, replacing any prior one.
func (s *MemoryStore) SaveSession(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.session = &copied
	return nil
}

// LoadSession returns the stored session, or nil when none exists.
func (s *MemoryStore) LoadSession(ctx context.Context) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, nil
	}
	copied := *s.session
	return &copied, nil
}

// DeleteSession removes the session record.
func (s *MemoryStore) DeleteSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	return nil
}

// SaveChallenge stores the challenge, discarding any outstanding one.
func (s *MemoryStore) SaveChallenge(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *challenge
	s.challenge = &copied
	return nil
}

// LoadChallenge returns the stored challenge, or nil when none exists.
func (s *MemoryStore) LoadChallenge(ctx context.Context) (*core.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.challenge == nil {
		return nil, nil
	}
	copied := *s.challenge
	return &copied, nil
}

// DeleteChallenge removes the challenge record.
func (s *MemoryStore) DeleteChallenge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenge = nil
	return nil
}

// Clear resets the store. Useful for tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.challenge = nil
}
