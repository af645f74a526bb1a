// ABOUTME: MCP stdio transport: newline-delimited JSON-RPC over stdin/stdout.
// ABOUTME: Runs with a fixed permission set for a local single-client process.

package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/registry"
)

// maxStdioLineSize caps one JSON-RPC message on the stdio transport.
const maxStdioLineSize = 4 << 20

// StdioServer speaks MCP over stdin/stdout. The process is the session: no
// Mcp-Session-Id, one fixed permission set for its lifetime.
type StdioServer struct {
	core   *core
	perms  *auth.PermissionSet
	logger *slog.Logger
	in     io.Reader

	writeMu sync.Mutex
	out     io.Writer
}

// NewStdioServer creates a stdio transport with the given permission set.
func NewStdioServer(reg *registry.Registry, perms *auth.PermissionSet, in io.Reader, out io.Writer, logger *slog.Logger) *StdioServer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp-stdio")
	return &StdioServer{
		core:   &core{registry: reg, logger: logger},
		perms:  perms,
		logger: logger,
		in:     in,
		out:    out,
	}
}

// Run reads newline-delimited JSON-RPC messages until EOF or context
// cancellation. Malformed lines produce parse errors, not termination.
func (s *StdioServer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxStdioLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(rpcError(nil, JSONRPCParseError, "invalid JSON", nil))
			continue
		}
		if req.JSONRPC != "2.0" {
			s.write(rpcError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil))
			continue
		}

		resp := s.core.handle(ctx, req, s.perms)
		if resp != nil {
			s.write(resp)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdio transport: %w", err)
	}
	return nil
}

func (s *StdioServer) write(resp *JSONRPCResponse) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode stdio response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("failed to write stdio response", "error", err)
	}
}
