package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventRunEnd        EventKind = "run_end"
	EventModelRequest  EventKind = "model_request"
	EventModelResponse EventKind = "model_response"
	EventThought       EventKind = "thought"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventPlaceholder   EventKind = "placeholder_synthesized"
	EventGuard         EventKind = "guard"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
)

// Event is a typed event emitted by the control loop.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	State     State                  `json:"state"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers events to the host application via a channel.
type EventEmitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		ch: make(chan Event, bufferSize),
	}
}

// Emit sends an event. Events are dropped once the emitter is closed or
// while the channel is full; the loop never blocks on a slow consumer.
func (e *EventEmitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.ch <- ev:
	default:
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
