// ABOUTME: Package documentation for the server orchestrator
// ABOUTME: Describes component wiring and the serve lifecycle

// Package server wires the openmcp components into a running process.
//
// # Composition
//
// New builds the dependency graph from config: the SQLite key store, the
// auth gate (with optional JWT verifier), the service registry with the
// browser, websearch, and webcrawler services registered, the Prometheus
// metrics registry, and one http.Server carrying the REST API, the SSE
// streaming endpoints, the MCP transport, and the metrics endpoint.
//
// # Lifecycle
//
// Run bootstraps the initial admin key if configured, starts the services
// enabled in config (a failed start is logged and retryable, not fatal),
// and serves HTTP until the context is canceled. Shutdown drains the HTTP
// server, stops every running service (closing their sessions), and closes
// the store.
package server
