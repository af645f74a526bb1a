// ABOUTME: Tests for the MCP HTTP transport: handshake, sessions, tool calls.
// ABOUTME: Uses an echo service behind the registry and a loopback-free gate.

package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/registry"
	"github.com/openmcp/openmcp/internal/service"
	"github.com/openmcp/openmcp/internal/store"
)

type echoService struct{}

func (echoService) Start(ctx context.Context, config map[string]any) error { return nil }
func (echoService) Stop(ctx context.Context) error                         { return nil }

func (echoService) Tools() []service.ToolDescriptor {
	return []service.ToolDescriptor{{
		Name:        "echo",
		Description: "Echo arguments back",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}}
}

func (echoService) Invoke(ctx context.Context, req *service.ToolCallRequest, progress *service.Emitter) *service.ToolCallResult {
	if req.Tool != "echo" {
		return service.Failure(service.KindUnknownTool, req.Tool)
	}
	if fail, _ := req.Arguments["fail"].(bool); fail {
		return service.Failure(service.KindOperationFailed, "requested failure")
	}
	return service.Success(map[string]any{"echo": req.Arguments})
}

type mcpFixture struct {
	server     *httptest.Server
	credential string
}

func newMCPFixture(t *testing.T) *mcpFixture {
	t.Helper()

	gate := auth.NewGate(auth.Config{Keys: store.NewMemoryStore()})
	credential, _, err := gate.IssueKey(context.Background(), "mcp-client", []string{"echo"}, 0)
	if err != nil {
		t.Fatalf("issuing key: %v", err)
	}

	reg := registry.NewRegistry(nil)
	if err := reg.Register("echo", echoService{}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Start(context.Background(), "echo", nil); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	mux := http.NewServeMux()
	NewServer(reg, gate, nil).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &mcpFixture{server: server, credential: credential}
}

func (f *mcpFixture) post(t *testing.T, sessionID string, req JSONRPCRequest) (*http.Response, *JSONRPCResponse) {
	t.Helper()
	req.JSONRPC = "2.0"
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("encoding request: %v", err)
	}

	httpReq, _ := http.NewRequest("POST", f.server.URL+"/mcp", bytes.NewReader(data))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+f.credential)
	if sessionID != "" {
		httpReq.Header.Set("Mcp-Session-Id", sessionID)
		httpReq.Header.Set("Mcp-Protocol-Version", latestProtocolVersion)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return resp, nil
	}
	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return resp, nil
	}
	return resp, &rpcResp
}

func (f *mcpFixture) initialize(t *testing.T) string {
	t.Helper()
	resp, rpcResp := f.post(t, "", JSONRPCRequest{ID: json.RawMessage(`1`), Method: "initialize"})
	if rpcResp == nil || rpcResp.Error != nil {
		t.Fatalf("initialize failed: %+v", rpcResp)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("missing Mcp-Session-Id header")
	}
	return sessionID
}

func TestInitializeHandshake(t *testing.T) {
	f := newMCPFixture(t)
	resp, rpcResp := f.post(t, "", JSONRPCRequest{ID: json.RawMessage(`1`), Method: "initialize"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if rpcResp.Error != nil {
		t.Fatalf("unexpected error: %+v", rpcResp.Error)
	}

	result, _ := rpcResp.Result.(map[string]any)
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("unexpected protocol version: %v", result["protocolVersion"])
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != serverName {
		t.Errorf("unexpected server name: %v", info)
	}
}

func TestInitializeRequiresCredential(t *testing.T) {
	f := newMCPFixture(t)
	data, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	resp, err := http.Post(f.server.URL+"/mcp", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp JSONRPCResponse
	_ = json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != JSONRPCInvalidRequest {
		t.Fatalf("expected invalid request error, got %+v", rpcResp)
	}
}

func TestToolsListQualifiedNames(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	_, rpcResp := f.post(t, sessionID, JSONRPCRequest{ID: json.RawMessage(`2`), Method: "tools/list"})
	if rpcResp.Error != nil {
		t.Fatalf("tools/list failed: %+v", rpcResp.Error)
	}

	result, _ := rpcResp.Result.(map[string]any)
	tools, _ := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	tool, _ := tools[0].(map[string]any)
	if tool["name"] != "echo_echo" {
		t.Errorf("expected qualified name echo_echo, got %v", tool["name"])
	}
}

func TestToolsCall(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	params, _ := json.Marshal(MCPCallToolParams{
		Name:      "echo_echo",
		Arguments: json.RawMessage(`{"msg":"hi"}`),
	})
	_, rpcResp := f.post(t, sessionID, JSONRPCRequest{
		ID:     json.RawMessage(`3`),
		Method: "tools/call",
		Params: params,
	})
	if rpcResp.Error != nil {
		t.Fatalf("tools/call failed: %+v", rpcResp.Error)
	}

	result, _ := rpcResp.Result.(map[string]any)
	content, _ := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("expected 1 content item, got %v", result)
	}
	item, _ := content[0].(map[string]any)
	text, _ := item["text"].(string)
	if !strings.Contains(text, `"msg":"hi"`) {
		t.Errorf("arguments not echoed: %q", text)
	}
	if result["isError"] == true {
		t.Error("unexpected isError")
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	params, _ := json.Marshal(MCPCallToolParams{Name: "ghost_tool"})
	_, rpcResp := f.post(t, sessionID, JSONRPCRequest{
		ID:     json.RawMessage(`4`),
		Method: "tools/call",
		Params: params,
	})
	if rpcResp.Error == nil || rpcResp.Error.Code != JSONRPCInvalidParams {
		t.Fatalf("expected invalid params, got %+v", rpcResp)
	}
}

func TestToolFailureTravelsAsIsError(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	params, _ := json.Marshal(MCPCallToolParams{
		Name:      "echo_echo",
		Arguments: json.RawMessage(`{"fail":true}`),
	})
	_, rpcResp := f.post(t, sessionID, JSONRPCRequest{
		ID:     json.RawMessage(`5`),
		Method: "tools/call",
		Params: params,
	})
	if rpcResp.Error != nil {
		t.Fatalf("tool failure should not be a JSON-RPC error: %+v", rpcResp.Error)
	}
	result, _ := rpcResp.Result.(map[string]any)
	if result["isError"] != true {
		t.Fatalf("expected isError result, got %v", result)
	}
	content, _ := result["content"].([]any)
	item, _ := content[0].(map[string]any)
	text, _ := item["text"].(string)
	if !strings.Contains(text, "operation_failed") {
		t.Errorf("error kind not surfaced: %q", text)
	}
}

func TestRequestWithoutSessionRejected(t *testing.T) {
	f := newMCPFixture(t)
	resp, _ := f.post(t, "", JSONRPCRequest{ID: json.RawMessage(`2`), Method: "tools/list"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownSessionRejected(t *testing.T) {
	f := newMCPFixture(t)
	resp, _ := f.post(t, "no-such-session", JSONRPCRequest{ID: json.RawMessage(`2`), Method: "tools/list"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	req, _ := http.NewRequest("DELETE", f.server.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	// The session is gone.
	postResp, _ := f.post(t, sessionID, JSONRPCRequest{ID: json.RawMessage(`2`), Method: "tools/list"})
	if postResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", postResp.StatusCode)
	}
}

func TestNotificationAccepted(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	resp, _ := f.post(t, sessionID, JSONRPCRequest{Method: "notifications/initialized"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	f := newMCPFixture(t)
	sessionID := f.initialize(t)

	data, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
	req, _ := http.NewRequest("POST", f.server.URL+"/mcp", bytes.NewReader(data))
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Mcp-Protocol-Version", "1999-01-01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
