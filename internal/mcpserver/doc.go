// Package mcpserver exposes the hosted services over the Model Context
// Protocol on two transports.
//
// # Transports
//
// The HTTP transport implements Streamable HTTP: a single /mcp endpoint
// accepting JSON-RPC 2.0 over POST, with Mcp-Session-Id headers binding
// follow-up requests to the permission set authorized at initialize. DELETE
// terminates a session.
//
// The stdio transport reads newline-delimited JSON-RPC from stdin and writes
// responses to stdout. The process is the session; a fixed permission set
// covers its lifetime. Intended for local MCP clients spawning the server as
// a subprocess.
//
// # Tool Naming
//
// Tools are exposed under qualified names, <service>_<tool>, so one MCP
// surface covers every hosted service: browser_navigate, websearch_search,
// webcrawler_crawl_page. tools/list shows only tools of services the caller's
// capabilities permit, and tools/call re-checks on every call.
//
// # Errors
//
// JSON-RPC errors are reserved for transport and routing faults. Tool-level
// failures come back as results with isError content carrying the structured
// kind and detail.
package mcpserver
