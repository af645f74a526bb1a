// ABOUTME: SSE streaming binding for tool calls with progress events.
// ABOUTME: Progress frames arrive in order; the terminal result event is last.

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openmcp/openmcp/internal/service"
)

// handleStream runs a tool call and streams progress as SSE. Event types:
//
//	progress  one intermediate frame emitted by the service
//	result    the terminal CallResponse, always the last event
//	error     a core error (auth, lifecycle) before any tool ran
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	req, err := h.parseCallRequest(r)
	if err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		h.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Events are written directly from the emitter callback. The dispatch
	// path calls Emit synchronously, so ordering holds without a channel.
	emitter := service.NewEmitter(func(ev service.ProgressEvent) {
		h.writeSSEEvent(w, "progress", ev)
		flusher.Flush()
	})

	outcome := h.dispatch(r.Context(), name, req, emitter)
	if outcome.err != nil {
		h.writeSSEEvent(w, "error", map[string]string{"error": coreErrorString(outcome.err)})
		flusher.Flush()
		return
	}

	h.writeSSEEvent(w, "result", callResponse(req, outcome.result))
	flusher.Flush()
}

// writeSSEEvent writes one SSE frame.
func (h *Handler) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
