// Package service defines the contract between the openmcp core and its
// pluggable capability providers.
//
// # Overview
//
// A Service is a named provider exposing a fixed catalog of tools. Every
// transport binding (REST, SSE streaming, MCP) translates its wire format into
// the same internal call shape:
//
//	(credential, ToolCallRequest) -> ToolCallResult [+ ProgressEvents]
//
// # Services
//
// Implementations satisfy the Service interface:
//
//   - Start(ctx, config): bring up the underlying capability
//   - Stop(ctx): close every open session and release the capability
//   - Tools(): the static tool catalog with JSON schemas
//   - Invoke(ctx, req, progress): execute one tool call
//
// Invoke never panics its faults outward; faults are returned as failure
// results with a stable error kind (see errors.go) so callers can distinguish
// transient faults from permanent ones.
//
// # Progress
//
// On streaming transports a Service may emit ProgressEvent values through the
// Emitter before returning the terminal result. Events carry monotonically
// increasing sequence numbers assigned by the emitter; the terminal result is
// always delivered last. A nil Emitter is valid and discards events, so
// services emit unconditionally.
package service
