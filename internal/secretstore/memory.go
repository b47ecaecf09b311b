package secretstore

import (
	"context"
	"sync"
)

// MemoryStore keeps secrets in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]Payload
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]Payload)}
}

func (s *MemoryStore) Put(_ context.Context, path string, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[path] = payload.Clone()
	return nil
}

func (s *MemoryStore) Create(_ context.Context, path string, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[path]; ok {
		return ErrAlreadyExists
	}
	s.secrets[path] = payload.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.secrets[path]
	if !ok {
		return nil, ErrNotFound
	}
	return payload.Clone(), nil
}

// Len returns the number of stored paths
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

var _ Store = (*MemoryStore)(nil)
