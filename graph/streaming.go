package graph

import (
	"context"
	"sync"
	"time"
)

// StreamMode selects which run events a StreamHook forwards.
type StreamMode string

const (
	// StreamModeUpdates emits step completions, interrupts and errors.
	StreamModeUpdates StreamMode = "updates"
	// StreamModeDebug emits every event.
	StreamModeDebug StreamMode = "debug"
)

// StreamEvent is one run event delivered on a stream.
type StreamEvent struct {
	Timestamp time.Time
	RunID     string
	Event     TraceEvent
	Step      string
	// Next is set for edge traversals.
	Next  string
	State State
	Error error
}

// StreamHook is a TraceHook that forwards run events to a channel. Sends
// never block the runner: when the buffer is full the event is dropped and
// counted.
type StreamHook struct {
	events chan StreamEvent
	mode   StreamMode

	mu      sync.RWMutex
	dropped int
	closed  bool
}

// NewStreamHook creates a hook with a buffer of size events.
func NewStreamHook(size int, mode StreamMode) *StreamHook {
	if size <= 0 {
		size = 64
	}
	if mode == "" {
		mode = StreamModeDebug
	}
	return &StreamHook{events: make(chan StreamEvent, size), mode: mode}
}

// Events returns the channel events are delivered on. It is closed by Close.
func (h *StreamHook) Events() <-chan StreamEvent { return h.events }

func (h *StreamHook) shouldEmit(event TraceEvent) bool {
	if h.mode == StreamModeDebug {
		return true
	}
	switch event {
	case TraceEventNodeEnd, TraceEventNodeError, TraceEventInterrupt, TraceEventRunEnd:
		return true
	}
	return false
}

// OnEvent implements TraceHook.
func (h *StreamHook) OnEvent(_ context.Context, span *TraceSpan) {
	if !h.shouldEmit(span.Event) {
		return
	}
	ev := StreamEvent{
		Timestamp: time.Now(),
		RunID:     span.RunID,
		Event:     span.Event,
		Step:      span.NodeName,
		State:     span.State,
		Error:     span.Error,
	}
	if span.Event == TraceEventEdgeTraversal {
		ev.Step, ev.Next = span.FromNode, span.ToNode
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	default:
		h.dropped++
	}
}

// Dropped returns the number of events lost to a full buffer.
func (h *StreamHook) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close stops delivery and closes the events channel.
func (h *StreamHook) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.events)
	}
}
