// Package store provides persistence for API keys.
//
// # Implementations
//
//   - SQLiteStore: production store using modernc.org/sqlite with automatic
//     schema creation and WAL mode.
//   - MemoryStore: in-memory store for tests and ephemeral deployments.
//
// # Key records
//
// API keys are immutable once issued except for revocation, which flips a
// status flag rather than deleting the row, and the best-effort last-used
// timestamp. Secrets are never stored; only a bcrypt hash of the secret is
// persisted, and lookup goes through the public key id embedded in the
// credential.
package store
