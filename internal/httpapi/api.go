// ABOUTME: REST API surface for openmcp: service listing, tool calls, status.
// ABOUTME: Maps core errors onto HTTP status codes and stable wire strings.

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/metrics"
	"github.com/openmcp/openmcp/internal/registry"
	"github.com/openmcp/openmcp/internal/service"
)

// MaxRequestBodySize limits request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// Handler serves the REST and SSE API.
type Handler struct {
	registry *registry.Registry
	gate     *auth.Gate
	metrics  *metrics.Metrics
	logger   *slog.Logger
	started  time.Time
}

// New creates the API handler.
func New(reg *registry.Registry, gate *auth.Gate, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: reg,
		gate:     gate,
		metrics:  m,
		logger:   logger.With("component", "httpapi"),
		started:  time.Now(),
	}
}

// Register mounts the API routes on mux. Everything under /api/v1 goes
// through authentication; /health does not.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)

	authed := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware(fn)
	}
	mux.Handle("GET /api/v1/services", authed(h.handleListServices))
	mux.Handle("GET /api/v1/services/{name}/tools", authed(h.handleListTools))
	mux.Handle("POST /api/v1/services/{name}/call", authed(h.handleCall))
	mux.Handle("POST /api/v1/services/{name}/stream", authed(h.handleStream))
	mux.Handle("GET /api/v1/status", authed(h.handleStatus))

	h.registerKeyRoutes(mux)
}

// authMiddleware authenticates the request and records the decision.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms, err := h.gate.Authenticate(r)
		if err != nil {
			h.metrics.ObserveAuth(false)
			h.sendJSONError(w, http.StatusUnauthorized, auth.ErrorMessage(err))
			return
		}
		h.metrics.ObserveAuth(true)
		next.ServeHTTP(w, r.WithContext(auth.WithPermissions(r.Context(), perms)))
	})
}

// CallRequest is the body of a tool call. The tool name travels as
// "tool_name"; "tool" is accepted as an alias. The request id is an
// optional caller-supplied correlation id echoed through logs and
// progress streams.
type CallRequest struct {
	Tool      string         `json:"tool_name"`
	ToolAlias string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// CallResponse is the terminal result of a tool call.
type CallResponse struct {
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Error     *service.Error `json:"error,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	perms := auth.FromContext(r.Context())
	descriptors := h.registry.List(perms)

	out := make([]map[string]any, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, map[string]any{
			"name":       d.Name,
			"status":     string(d.Status),
			"tool_count": len(d.Tools),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	perms := auth.FromContext(r.Context())
	if !perms.Allows(name) {
		h.sendJSONError(w, http.StatusForbidden, "PermissionDenied")
		return
	}

	tools, err := h.registry.Tools(name)
	if err != nil {
		h.sendCoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"service": name, "tools": tools})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	perms := auth.FromContext(r.Context())
	descriptors := h.registry.List(perms)

	services := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		services[d.Name] = string(d.Status)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"services": services,
	})
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	req, err := h.parseCallRequest(r)
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.dispatch(r.Context(), name, req, nil)
	if result.err != nil {
		h.sendCoreError(w, result.err)
		return
	}
	h.writeJSON(w, statusForResult(result.result), callResponse(req, result.result))
}

// dispatchOutcome separates core errors from tool results.
type dispatchOutcome struct {
	result *service.ToolCallResult
	err    error
}

func (h *Handler) dispatch(ctx context.Context, name string, req *CallRequest, progress *service.Emitter) dispatchOutcome {
	perms := auth.FromContext(ctx)
	toolReq := &service.ToolCallRequest{
		Tool:      req.Tool,
		Arguments: req.Arguments,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
	}
	result, err := h.registry.Dispatch(ctx, name, toolReq, perms, progress)
	if err != nil {
		return dispatchOutcome{err: err}
	}
	h.metrics.ObserveProgress(name, progress.Count())
	return dispatchOutcome{result: result}
}

func (h *Handler) parseCallRequest(r *http.Request) (*CallRequest, error) {
	body := http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	defer body.Close()

	var req CallRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty request body")
		}
		return nil, errors.New("invalid JSON body")
	}
	if req.Tool == "" {
		req.Tool = req.ToolAlias
	}
	if req.Tool == "" {
		return nil, errors.New("tool_name is required")
	}
	return &req, nil
}

// callResponse shapes the wire response. The session id echoes the one used
// for the call, or the one minted by a session-creating tool.
func callResponse(req *CallRequest, result *service.ToolCallResult) *CallResponse {
	resp := &CallResponse{
		Success:   result.OK,
		Result:    result.Payload,
		SessionID: req.SessionID,
		Error:     result.Err,
	}
	if id, ok := result.Payload["session_id"].(string); ok && id != "" {
		resp.SessionID = id
	}
	return resp
}

// statusForResult maps tool-level failures onto HTTP statuses. Successful
// calls and failures the caller must inspect both travel as structured JSON.
func statusForResult(result *service.ToolCallResult) int {
	if result.OK {
		return http.StatusOK
	}
	switch result.Err.Kind {
	case service.KindInvalidArgument, service.KindUnknownTool:
		return http.StatusBadRequest
	case service.KindSessionNotFound:
		return http.StatusNotFound
	case service.KindSessionBusy, service.KindSessionTimeout, service.KindSessionLimit:
		return http.StatusConflict
	case service.KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusBadGateway
	}
}

// coreErrorString maps registry errors to the stable wire strings callers
// match on.
func coreErrorString(err error) string {
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		return "NotRegistered"
	case errors.Is(err, registry.ErrNotRunning):
		return "NotRunning"
	case errors.Is(err, registry.ErrPermissionDenied):
		return "PermissionDenied"
	default:
		return "internal server error"
	}
}

// sendCoreError maps registry errors onto statuses and wire strings.
func (h *Handler) sendCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		h.sendJSONError(w, http.StatusNotFound, "NotRegistered")
	case errors.Is(err, registry.ErrNotRunning):
		h.sendJSONError(w, http.StatusServiceUnavailable, "NotRunning")
	case errors.Is(err, registry.ErrPermissionDenied):
		h.sendJSONError(w, http.StatusForbidden, "PermissionDenied")
	default:
		h.logger.Error("unhandled dispatch error", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
