package keyregistry

import (
	"context"
	"crypto/ed25519"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]ed25519.PublicKey)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, agentID string, pub ed25519.PublicKey, expectEmpty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[agentID]; exists && expectEmpty {
		return ErrDuplicateAgent
	}
	cp := make(ed25519.PublicKey, len(pub))
	copy(cp, pub)
	s.keys[agentID] = cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, agentID string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.keys[agentID]
	if !ok {
		return nil, ErrUnknownAgent
	}
	cp := make(ed25519.PublicKey, len(pub))
	copy(cp, pub)
	return cp, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}
