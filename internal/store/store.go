// ABOUTME: KeyStore interface and APIKey record type for openmcp persistence.
// ABOUTME: Defines the contract shared by the SQLite and in-memory stores.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when creating a key whose id already exists.
var ErrDuplicateKey = errors.New("key already exists")

// APIKey is one issued credential. The secret itself is never persisted; only
// SecretHash (bcrypt) is. Revocation flips Revoked rather than deleting the
// row so the audit trail survives.
type APIKey struct {
	ID           string
	Name         string
	SecretHash   []byte
	Capabilities []string
	CreatedAt    time.Time
	ExpiresAt    *time.Time // nil = never expires
	Revoked      bool
	LastUsedAt   *time.Time
}

// Expired reports whether the key is past its expiry at the given time.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// KeyStore defines persistence operations for API keys. Reads dominate:
// every authorized call consults the store, writes happen only on issuance,
// revocation, and the best-effort last-used update.
type KeyStore interface {
	CreateKey(ctx context.Context, key *APIKey) error
	GetKey(ctx context.Context, id string) (*APIKey, error)
	ListKeys(ctx context.Context) ([]*APIKey, error)
	RevokeKey(ctx context.Context, id string) error
	TouchKey(ctx context.Context, id string, usedAt time.Time) error
	Close() error
}
