// Package auth provides authentication and authorization for openmcp.
//
// # Credentials
//
// Two credential forms are accepted:
//
//   - API keys: prefixed bearer tokens of the form "omcp_<id>_<secret>".
//     The id half is the lookup handle; the secret half is verified against a
//     bcrypt hash in the key store. Keys carry a capability list, an optional
//     expiry, and a revocation flag.
//
//   - Access tokens: short-lived HS256 JWTs minted from an API key holding the
//     admin capability. The capability list is embedded in the token claims.
//
// # The gate
//
// Every tool invocation passes through Gate.Authorize, which yields the
// caller's PermissionSet or one of ErrInvalidKey, ErrExpiredKey,
// ErrRevokedKey. These are caller problems and are never retried by the core.
//
// # Loopback bypass
//
// When enabled in configuration, requests originating from a loopback address
// are authorized without presenting a credential and receive a configured
// permission set. This is an explicit trust boundary: the toggle is
// independent of every other auth setting and defaults to off.
//
// # Capabilities
//
// Capabilities are service names ("browser", "websearch", ...) plus "admin"
// for key management. The wildcard "*" grants everything.
package auth
