// Package registry tracks the tool services hosted by openmcp and routes
// tool calls to them.
//
// # Overview
//
// Services are registered once at startup under a unique name and then moved
// through a lifecycle: stopped -> starting -> running, with failed as the
// terminal state of an unsuccessful start. Only running services accept
// dispatches or report tool catalogs.
//
// # Dispatch
//
// Dispatch performs the permission check (the caller's capability set must
// cover the service name), verifies the service is running, and invokes the
// tool with panic recovery. Transport handlers distinguish two failure
// channels:
//
//   - error return: lifecycle or authorization problems (ErrNotRegistered,
//     ErrNotRunning, ErrPermissionDenied)
//   - result.Err: tool-level failures reported by the service itself
//
// # Concurrency
//
// The registry map is guarded by an RWMutex; each entry carries its own
// mutex for lifecycle transitions. Invoke runs outside the entry mutex, so
// in-flight tool calls never block Start/Stop of other services and a slow
// tool call never blocks listing.
package registry
