// ABOUTME: API key generation, parsing, and the PermissionSet capability model.
// ABOUTME: Keys are prefixed bearer tokens with a lookup id and a bcrypt-hashed secret.

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openmcp/openmcp/internal/store"
)

// KeyPrefix distinguishes openmcp API keys from other token formats.
const KeyPrefix = "omcp_"

// Well-known capabilities.
const (
	CapabilityAll   = "*"     // grants every capability
	CapabilityAdmin = "admin" // key management and administrative tools
)

// PermissionSet is the set of capabilities an authorized credential may
// invoke. Capability names are service names plus "admin".
type PermissionSet struct {
	KeyID        string
	Name         string
	Capabilities []string
}

// Allows reports whether the set contains the named capability or the
// wildcard. Implements service.Permissions.
func (p *PermissionSet) Allows(capability string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c == CapabilityAll || c == capability {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the set grants the admin capability.
func (p *PermissionSet) IsAdmin() bool {
	return p.Allows(CapabilityAdmin)
}

// GenerateKey mints a new API key: the plaintext credential (shown to the
// caller exactly once) and the record to persist. ttl of zero means the key
// never expires.
func GenerateKey(name string, capabilities []string, ttl time.Duration) (string, *store.APIKey, error) {
	idBytes := make([]byte, 4)
	if _, err := rand.Read(idBytes); err != nil {
		return "", nil, fmt.Errorf("generating key id: %w", err)
	}
	id := hex.EncodeToString(idBytes)

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generating key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key secret: %w", err)
	}

	now := time.Now().UTC()
	key := &store.APIKey{
		ID:           id,
		Name:         name,
		SecretHash:   hash,
		Capabilities: append([]string(nil), capabilities...),
		CreatedAt:    now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		key.ExpiresAt = &expires
	}

	return KeyPrefix + id + "_" + secret, key, nil
}

// splitKey breaks a plaintext credential into its id and secret halves.
// Returns false for anything that is not a well-formed openmcp key.
func splitKey(credential string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(credential, KeyPrefix)
	if !found {
		return "", "", false
	}
	id, secret, found = strings.Cut(rest, "_")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// verifySecret compares a presented secret against the stored bcrypt hash.
func verifySecret(hash []byte, secret string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}
