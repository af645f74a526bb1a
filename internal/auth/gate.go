// ABOUTME: The AuthGate validating credentials against the key store.
// ABOUTME: Yields a PermissionSet or one of the Invalid/Expired/Revoked errors.

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/openmcp/openmcp/internal/store"
)

// Authorization errors. None of these are retried by the core; they are
// surfaced to the caller immediately.
var (
	ErrInvalidKey = errors.New("invalid credential")
	ErrExpiredKey = errors.New("credential expired")
	ErrRevokedKey = errors.New("credential revoked")
)

// Config configures a Gate.
type Config struct {
	Keys     store.KeyStore
	Verifier *JWTVerifier // optional; nil disables JWT access tokens
	Logger   *slog.Logger

	// AllowLoopback authorizes loopback-origin requests without a credential.
	// Independently toggleable trust boundary; off by default.
	AllowLoopback bool
	// LoopbackCapabilities is the permission set granted to loopback callers.
	// Empty means full access.
	LoopbackCapabilities []string
}

// Gate validates presented credentials and yields permission sets. Safe for
// concurrent use: the key store is read-mostly and issuance/revocation are
// serialized inside the store.
type Gate struct {
	keys          store.KeyStore
	verifier      *JWTVerifier
	logger        *slog.Logger
	allowLoopback bool
	loopbackCaps  []string
}

// NewGate creates a Gate over the given key store.
func NewGate(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caps := cfg.LoopbackCapabilities
	if len(caps) == 0 {
		caps = []string{CapabilityAll}
	}
	return &Gate{
		keys:          cfg.Keys,
		verifier:      cfg.Verifier,
		logger:        logger.With("component", "auth"),
		allowLoopback: cfg.AllowLoopback,
		loopbackCaps:  caps,
	}
}

// Authorize validates a bearer credential and returns its permission set.
// API keys are looked up by the id embedded in the credential and verified
// against the stored bcrypt hash; JWT access tokens are verified by signature
// alone. The only side effect is a best-effort last-used timestamp update.
func (g *Gate) Authorize(ctx context.Context, credential string) (*PermissionSet, error) {
	if credential == "" {
		return nil, ErrInvalidKey
	}

	if strings.HasPrefix(credential, KeyPrefix) {
		return g.authorizeKey(ctx, credential)
	}

	if g.verifier != nil {
		keyID, caps, err := g.verifier.Verify(credential)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return nil, ErrExpiredKey
			}
			return nil, ErrInvalidKey
		}
		return &PermissionSet{KeyID: keyID, Name: "token:" + keyID, Capabilities: caps}, nil
	}

	return nil, ErrInvalidKey
}

func (g *Gate) authorizeKey(ctx context.Context, credential string) (*PermissionSet, error) {
	id, secret, ok := splitKey(credential)
	if !ok {
		return nil, ErrInvalidKey
	}

	key, err := g.keys.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		g.logger.Error("key store lookup failed", "key_id", id, "error", err)
		return nil, ErrInvalidKey
	}

	if !verifySecret(key.SecretHash, secret) {
		return nil, ErrInvalidKey
	}
	if key.Revoked {
		return nil, ErrRevokedKey
	}
	if key.Expired(time.Now()) {
		return nil, ErrExpiredKey
	}

	// Best effort; authorization does not depend on it.
	if err := g.keys.TouchKey(ctx, key.ID, time.Now().UTC()); err != nil {
		g.logger.Debug("last-used update failed", "key_id", key.ID, "error", err)
	}

	return &PermissionSet{
		KeyID:        key.ID,
		Name:         key.Name,
		Capabilities: append([]string(nil), key.Capabilities...),
	}, nil
}

// LoopbackBypass returns the permission set granted to loopback-origin
// callers, or false when the bypass is disabled.
func (g *Gate) LoopbackBypass() (*PermissionSet, bool) {
	if !g.allowLoopback {
		return nil, false
	}
	return &PermissionSet{
		Name:         "loopback",
		Capabilities: append([]string(nil), g.loopbackCaps...),
	}, true
}

// IssueKey mints a new API key and persists it. Returns the plaintext
// credential, which is never recoverable afterwards.
func (g *Gate) IssueKey(ctx context.Context, name string, capabilities []string, ttl time.Duration) (string, *store.APIKey, error) {
	credential, key, err := GenerateKey(name, capabilities, ttl)
	if err != nil {
		return "", nil, err
	}
	if err := g.keys.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	g.logger.Info("issued api key", "key_id", key.ID, "name", name, "capabilities", capabilities)
	return credential, key, nil
}

// IssueToken mints a short-lived JWT access token inheriting the given
// permission set. Requires a configured verifier.
func (g *Gate) IssueToken(perms *PermissionSet, ttl time.Duration) (string, error) {
	if g.verifier == nil {
		return "", errors.New("token generation not configured (no jwt_secret)")
	}
	return g.verifier.Generate(perms.KeyID, perms.Capabilities, ttl)
}

// ListKeys returns every stored key record.
func (g *Gate) ListKeys(ctx context.Context) ([]*store.APIKey, error) {
	return g.keys.ListKeys(ctx)
}

// RevokeKey permanently revokes a key by id.
func (g *Gate) RevokeKey(ctx context.Context, id string) error {
	if err := g.keys.RevokeKey(ctx, id); err != nil {
		return err
	}
	g.logger.Info("revoked api key", "key_id", id)
	return nil
}
