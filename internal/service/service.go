// ABOUTME: Service interface and tool call types shared by all transport bindings.
// ABOUTME: Defines ToolDescriptor, ToolCallRequest/Result and the service factory shape.

package service

import (
	"context"
	"encoding/json"
)

// ToolDescriptor describes one invocable tool exposed by a service.
// The catalog is static per service instance; InputSchema is a JSON Schema
// object describing the tool's argument mapping.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCallRequest is the internal representation of one tool invocation,
// produced by a transport adapter after parsing and validating its wire frame.
type ToolCallRequest struct {
	Tool      string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"session_id,omitempty"`
	// RequestID correlates the call across logs and progress streams.
	// Assigned by the transport adapter when the caller did not supply one.
	RequestID string `json:"request_id,omitempty"`
}

// ToolCallResult is the terminal outcome of a tool invocation: either a
// success payload or a structured failure. Exactly one of Payload and Err is
// meaningful, selected by OK.
type ToolCallResult struct {
	OK      bool           `json:"success"`
	Payload map[string]any `json:"result,omitempty"`
	Err     *Error         `json:"error,omitempty"`
}

// Success builds a successful result carrying the given payload.
func Success(payload map[string]any) *ToolCallResult {
	return &ToolCallResult{OK: true, Payload: payload}
}

// Failure builds a failed result with a stable error kind and free-text detail.
func Failure(kind Kind, detail string) *ToolCallResult {
	return &ToolCallResult{OK: false, Err: &Error{Kind: kind, Detail: detail}}
}

// FailureErr wraps an existing error into a failed result under the given kind.
func FailureErr(kind Kind, err error) *ToolCallResult {
	return Failure(kind, err.Error())
}

// Permissions is the capability check a dispatch boundary applies before a
// call reaches a service. auth.PermissionSet implements it.
type Permissions interface {
	// Allows reports whether the caller holds the named capability.
	Allows(capability string) bool
}

// Service is a pluggable capability provider. Implementations own their
// sessions and the underlying external resource handle; the registry owns the
// service lifecycle.
//
// Stop must close every open session (idempotently) and release the external
// resource even if individual closes fail. Invoke must catch internal faults
// and map them onto failure results; it must release any session lock on all
// exit paths.
type Service interface {
	Start(ctx context.Context, config map[string]any) error
	Stop(ctx context.Context) error
	Tools() []ToolDescriptor
	Invoke(ctx context.Context, req *ToolCallRequest, progress *Emitter) *ToolCallResult
}

// Factory constructs a service instance. Registered at startup; no runtime
// reflection is involved in service lookup.
type Factory func() Service
