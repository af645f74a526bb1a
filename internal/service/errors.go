// ABOUTME: Stable error kinds for tool call failures surfaced to callers.
// ABOUTME: Kinds let callers distinguish transient faults from permanent ones.

package service

import "fmt"

// Kind is a stable, machine-readable classification of a tool call failure.
type Kind string

// Error kinds. Session and argument kinds are produced by the core; resource
// kinds are produced by services wrapping an external resource.
const (
	KindInvalidArgument   Kind = "invalid_argument"
	KindUnknownTool       Kind = "unknown_tool"
	KindSessionNotFound   Kind = "session_not_found"
	KindSessionBusy       Kind = "session_busy"
	KindSessionTimeout    Kind = "session_timeout"
	KindSessionLimit      Kind = "session_limit"
	KindNavigationTimeout Kind = "navigation_timeout"
	KindElementNotFound   Kind = "element_not_found"
	KindDriverError       Kind = "driver_error"
	KindOperationFailed   Kind = "operation_failed"
	KindCancelled         Kind = "cancelled"
	KindInternal          Kind = "internal"
)

// Error is a structured tool call failure: a stable kind plus free-text detail.
// The core never retries on the caller's behalf; SessionBusy may be retried by
// the caller, resource kinds carry enough structure for the caller to decide.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Transient reports whether the failure is plausibly transient and worth a
// caller-side retry.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindSessionBusy, KindSessionTimeout, KindNavigationTimeout:
		return true
	}
	return false
}
