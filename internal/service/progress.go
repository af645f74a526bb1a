// ABOUTME: Progress event emitter for streaming transports.
// ABOUTME: Assigns sequence numbers and guarantees delivery order to the sink.

package service

import "sync"

// ProgressEvent is one intermediate frame emitted while a tool call executes.
// Events are delivered to the caller in Seq order; the terminal ToolCallResult
// always follows the last event.
type ProgressEvent struct {
	Seq     uint64         `json:"seq"`
	Payload map[string]any `json:"payload"`
}

// Emitter hands progress events from a service to the transport adapter that
// requested streaming. The sink is called synchronously under a lock, so
// events arrive in the order Emit was called even when a service emits from
// multiple goroutines. A nil *Emitter discards events.
type Emitter struct {
	mu   sync.Mutex
	seq  uint64
	sink func(ProgressEvent)
}

// NewEmitter creates an emitter that forwards events to sink.
func NewEmitter(sink func(ProgressEvent)) *Emitter {
	return &Emitter{sink: sink}
}

// Emit sends one progress payload to the caller. Safe to call on a nil
// emitter, from any goroutine.
func (e *Emitter) Emit(payload map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.sink(ProgressEvent{Seq: e.seq, Payload: payload})
}

// Count returns the number of events emitted so far.
func (e *Emitter) Count() uint64 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
