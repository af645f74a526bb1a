// Package httpapi serves the REST and SSE surface of openmcp.
//
// # Endpoints
//
// Unauthenticated:
//
//	GET  /health                            liveness probe
//
// Authenticated (bearer API key, JWT, or loopback bypass):
//
//	GET  /api/v1/services                   list visible services
//	GET  /api/v1/services/{name}/tools      tool catalog of a running service
//	POST /api/v1/services/{name}/call       invoke a tool, JSON in and out
//	POST /api/v1/services/{name}/stream     invoke a tool, progress over SSE
//	GET  /api/v1/status                     service status overview
//
// Admin capability required:
//
//	POST   /api/v1/auth/keys                issue an API key
//	GET    /api/v1/auth/keys                list key records
//	DELETE /api/v1/auth/keys/{id}           revoke a key
//	POST   /api/v1/auth/token               mint a short-lived JWT
//
// # Error Shape
//
// Two failure channels exist. Core failures (authentication, authorization,
// service lifecycle) produce {"success": false, "error": "<reason>"} with
// reason one of Invalid, Expired, Revoked, NotRegistered, NotRunning,
// PermissionDenied. Tool-level failures produce a full CallResponse whose
// error field carries the structured kind and detail.
//
// # Streaming
//
// The stream endpoint replies with text/event-stream. Progress frames use
// event type "progress" and arrive in emission order; the terminal
// CallResponse uses event type "result" and is always last.
package httpapi
