// ABOUTME: JSON-RPC 2.0 core shared by the HTTP and stdio MCP transports.
// ABOUTME: Routes initialize, tools/list, and tools/call against the registry.

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/openmcp/openmcp/internal/registry"
	"github.com/openmcp/openmcp/internal/service"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-06-18"

// serverName identifies this server in the initialize handshake.
const serverName = "openmcp"

const serverVersion = "1.0.0"

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// core routes JSON-RPC methods for both transports. Tool names are qualified
// as <service>_<tool> so one MCP surface covers every hosted service.
type core struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// qualifiedTool resolves one exposed tool back to its service and bare name.
type qualifiedTool struct {
	service string
	tool    service.ToolDescriptor
}

// toolIndex builds the qualified tool catalog visible to the caller. Built
// fresh per request so it always reflects running services; tool counts are
// small.
func (c *core) toolIndex(perms service.Permissions) map[string]qualifiedTool {
	index := make(map[string]qualifiedTool)
	for _, d := range c.registry.List(perms) {
		for _, t := range d.Tools {
			index[d.Name+"_"+t.Name] = qualifiedTool{service: d.Name, tool: t}
		}
	}
	return index
}

func (c *core) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
	}
	return rpcResult(req.ID, result)
}

func (c *core) handleToolsList(req JSONRPCRequest, perms service.Permissions) *JSONRPCResponse {
	index := c.toolIndex(perms)

	result := MCPListToolsResult{Tools: make([]MCPToolInfo, 0, len(index))}
	for name, qt := range index {
		result.Tools = append(result.Tools, MCPToolInfo{
			Name:        name,
			Description: qt.tool.Description,
			InputSchema: qt.tool.InputSchema,
		})
	}

	c.logger.Debug("tools/list", "count", len(result.Tools))
	return rpcResult(req.ID, result)
}

func (c *core) handleToolsCall(ctx context.Context, req JSONRPCRequest, perms service.Permissions) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcError(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return rpcError(req.ID, JSONRPCInvalidParams, "tool name is required", nil)
	}

	qt, ok := c.toolIndex(perms)[params.Name]
	if !ok {
		return rpcError(req.ID, JSONRPCInvalidParams, "tool not found", nil)
	}

	var args map[string]any
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return rpcError(req.ID, JSONRPCInvalidParams, "arguments must be an object", nil)
		}
	}

	requestID := uuid.New().String()
	toolReq := &service.ToolCallRequest{
		Tool:      qt.tool.Name,
		Arguments: args,
		RequestID: requestID,
	}
	if id, ok := args["session_id"].(string); ok {
		toolReq.SessionID = id
	}

	c.logger.Debug("tools/call", "tool", params.Name, "request_id", requestID)

	result, err := c.registry.Dispatch(ctx, qt.service, toolReq, perms, nil)
	if err != nil {
		return c.dispatchError(req.ID, params.Name, err)
	}

	return rpcResult(req.ID, toCallResult(result))
}

// dispatchError maps core errors onto JSON-RPC errors.
func (c *core) dispatchError(id json.RawMessage, toolName string, err error) *JSONRPCResponse {
	switch {
	case errors.Is(err, registry.ErrNotRegistered), errors.Is(err, registry.ErrNotRunning):
		return rpcError(id, JSONRPCInvalidParams, fmt.Sprintf("tool %s is unavailable", toolName), nil)
	case errors.Is(err, registry.ErrPermissionDenied):
		return rpcError(id, JSONRPCInvalidRequest, "insufficient capabilities for this tool", nil)
	default:
		c.logger.Error("tool dispatch failed", "tool", toolName, "error", err)
		return rpcError(id, JSONRPCInternalError, "internal error", nil)
	}
}

// toCallResult shapes a tool result into MCP content. Failures travel as
// isError content, not JSON-RPC errors: the protocol reserves those for
// transport faults.
func toCallResult(result *service.ToolCallResult) MCPCallToolResult {
	if result.Err != nil {
		detail, _ := json.Marshal(result.Err)
		return MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: string(detail)}},
			IsError: true,
		}
	}
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: "failed to encode result"}},
			IsError: true,
		}
	}
	return MCPCallToolResult{Content: []MCPContent{{Type: "text", Text: string(payload)}}}
}

// handle routes one parsed request. Returns nil for notifications.
func (c *core) handle(ctx context.Context, req JSONRPCRequest, perms service.Permissions) *JSONRPCResponse {
	if isNotification(req) {
		if !strings.HasPrefix(req.Method, "notifications/") {
			c.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	switch req.Method {
	case "initialize":
		return c.handleInitialize(req)
	case "tools/list":
		return c.handleToolsList(req, perms)
	case "tools/call":
		return c.handleToolsCall(ctx, req, perms)
	case "ping":
		return rpcResult(req.ID, map[string]any{})
	default:
		return rpcError(req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

func isNotification(req JSONRPCRequest) bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

func rpcResult(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcError(id json.RawMessage, code int, message string, data any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message, Data: data}}
}
