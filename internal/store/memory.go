// ABOUTME: In-memory KeyStore implementation for tests and ephemeral deployments.
// ABOUTME: Mirrors SQLiteStore semantics including revocation and duplicate detection.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a KeyStore backed by a map. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

// CreateKey stores a copy of the key. Returns ErrDuplicateKey on id collision.
func (s *MemoryStore) CreateKey(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key.ID)
	}
	s.keys[key.ID] = cloneKey(key)
	return nil
}

// GetKey returns a copy of the key or ErrNotFound.
func (s *MemoryStore) GetKey(_ context.Context, id string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneKey(key), nil
}

// ListKeys returns copies of all keys, newest first.
func (s *MemoryStore) ListKeys(_ context.Context) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*APIKey, 0, len(s.keys))
	for _, key := range s.keys {
		keys = append(keys, cloneKey(key))
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// RevokeKey flips the revoked flag. Returns ErrNotFound for unknown ids.
func (s *MemoryStore) RevokeKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Revoked = true
	return nil
}

// TouchKey records the last-used timestamp.
func (s *MemoryStore) TouchKey(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	t := usedAt
	key.LastUsedAt = &t
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func cloneKey(key *APIKey) *APIKey {
	out := *key
	out.Capabilities = append([]string(nil), key.Capabilities...)
	out.SecretHash = append([]byte(nil), key.SecretHash...)
	if key.ExpiresAt != nil {
		t := *key.ExpiresAt
		out.ExpiresAt = &t
	}
	if key.LastUsedAt != nil {
		t := *key.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}
