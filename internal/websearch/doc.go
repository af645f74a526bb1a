// Package websearch is the web search service backed by the Serper API.
//
// # Behavior
//
// The service is stateless: each search tool call maps to exactly one
// upstream POST to the Serper search endpoint and its result set is shaped
// into ranked results with snippets, plus the answer box and knowledge graph
// when the upstream returns them. The API key comes from the service
// settings or the SERPER_API_KEY environment variable; there is no session
// state and nothing is cached between calls.
package websearch
