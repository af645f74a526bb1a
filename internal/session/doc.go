// Package session tracks long-lived handles to stateful external resources.
//
// # Overview
//
// A Session pairs one external resource instance (for example a remote
// browser-driver connection) with an exclusivity lock and activity tracking.
// The Manager is the arena: it maps opaque session ids to owned sessions,
// creates them on demand, closes them explicitly, and evicts them after an
// idle timeout.
//
// # Exclusivity
//
// At most one in-flight tool call holds a session's lock at a time. Callers
// acquire with either a fail-fast policy (the default) or a bounded wait;
// concurrent operations against the same session never interleave on the
// underlying resource. The idle sweeper acquires the same lock before closing,
// so eviction cannot race an in-progress operation.
//
// # Cleanup
//
// Close is idempotent: closing an already-closed session succeeds. Closing
// runs the session's close function exactly once and removes the arena entry,
// never leaving a dangling handle.
package session
