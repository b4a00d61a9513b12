package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/log"
)

// TraceEvent represents different types of events in a run
type TraceEvent string

const (
	// TraceEventRunStart is emitted when Invoke or Resume starts advancing a run
	TraceEventRunStart TraceEvent = "run_start"

	// TraceEventRunEnd is emitted when the call returns, whatever the outcome
	TraceEventRunEnd TraceEvent = "run_end"

	// TraceEventNodeStart indicates the start of a step
	TraceEventNodeStart TraceEvent = "node_start"

	// TraceEventNodeEnd indicates a step completed and its update was merged
	TraceEventNodeEnd TraceEvent = "node_end"

	// TraceEventNodeError indicates a step failed
	TraceEventNodeError TraceEvent = "node_error"

	// TraceEventInterrupt indicates a step suspended the run
	TraceEventInterrupt TraceEvent = "interrupt"

	// TraceEventEdgeTraversal indicates the transition to the next step
	TraceEventEdgeTraversal TraceEvent = "edge_traversal"
)

// TraceSpan represents a span of execution with timing and metadata
type TraceSpan struct {
	ID       string
	ParentID string
	Event    TraceEvent

	RunID    string
	NodeName string
	FromNode string
	ToNode   string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// State is the state after the event, when one is available
	State State
	Error error

	Metadata map[string]any
}

// TraceHook defines the interface for trace event handlers
type TraceHook interface {
	// OnEvent is called when a trace event occurs
	OnEvent(ctx context.Context, span *TraceSpan)
}

// TraceHookFunc is a function adapter for TraceHook
type TraceHookFunc func(ctx context.Context, span *TraceSpan)

// OnEvent implements the TraceHook interface
func (f TraceHookFunc) OnEvent(ctx context.Context, span *TraceSpan) {
	f(ctx, span)
}

// Tracer fans trace events out to its hooks. It is safe for concurrent
// runs.
type Tracer struct {
	mu    sync.RWMutex
	hooks []TraceHook
}

// NewTracer creates a tracer with the given hooks.
func NewTracer(hooks ...TraceHook) *Tracer {
	return &Tracer{hooks: hooks}
}

// AddHook registers a new trace hook
func (t *Tracer) AddHook(hook TraceHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, hook)
}

func (t *Tracer) emit(ctx context.Context, span *TraceSpan) {
	if t == nil {
		return
	}
	t.mu.RLock()
	hooks := t.hooks
	t.mu.RUnlock()
	for _, hook := range hooks {
		hook.OnEvent(ctx, span)
	}
}

// StartSpan creates a span and notifies the hooks.
func (t *Tracer) StartSpan(ctx context.Context, event TraceEvent, runID, nodeName string) *TraceSpan {
	span := &TraceSpan{
		ID:        uuid.NewString(),
		Event:     event,
		RunID:     runID,
		NodeName:  nodeName,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.ParentID = parent.ID
	}
	t.emit(ctx, span)
	return span
}

// EndSpan completes a span with event and notifies the hooks.
func (t *Tracer) EndSpan(ctx context.Context, span *TraceSpan, event TraceEvent, state State, err error) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	span.Event = event
	span.State = state
	span.Error = err
	t.emit(ctx, span)
}

// TraceEdgeTraversal records a transition between steps.
func (t *Tracer) TraceEdgeTraversal(ctx context.Context, runID, fromNode, toNode string) {
	now := time.Now()
	span := &TraceSpan{
		ID:        uuid.NewString(),
		Event:     TraceEventEdgeTraversal,
		RunID:     runID,
		FromNode:  fromNode,
		ToNode:    toNode,
		StartTime: now,
		EndTime:   now,
		Metadata:  make(map[string]any),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.ParentID = parent.ID
	}
	t.emit(ctx, span)
}

type spanContextKey struct{}

// ContextWithSpan returns a new context with the span stored
func ContextWithSpan(ctx context.Context, span *TraceSpan) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext extracts a span from context
func SpanFromContext(ctx context.Context) *TraceSpan {
	if span, ok := ctx.Value(spanContextKey{}).(*TraceSpan); ok {
		return span
	}
	return nil
}

// SpanRecorder is a hook that keeps every span it sees. Tests use it to
// assert on the sequence of events.
type SpanRecorder struct {
	mu    sync.Mutex
	spans []TraceSpan
}

// OnEvent implements TraceHook.
func (r *SpanRecorder) OnEvent(_ context.Context, span *TraceSpan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, *span)
}

// Spans returns copies of the recorded spans in arrival order.
func (r *SpanRecorder) Spans() []TraceSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceSpan, len(r.spans))
	copy(out, r.spans)
	return out
}

// Events returns the recorded event types in arrival order.
func (r *SpanRecorder) Events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.spans))
	for i, s := range r.spans {
		out[i] = s.Event
	}
	return out
}

// LoggingHook returns a hook that writes run events to logger.
func LoggingHook(logger log.Logger) TraceHook {
	return TraceHookFunc(func(_ context.Context, span *TraceSpan) {
		switch span.Event {
		case TraceEventRunStart:
			logger.Debug("run %s: start", span.RunID)
		case TraceEventRunEnd:
			if span.Error != nil {
				logger.Warn("run %s: stopped after %v: %v", span.RunID, span.Duration, span.Error)
			} else {
				logger.Info("run %s: returned after %v", span.RunID, span.Duration)
			}
		case TraceEventNodeStart:
			logger.Debug("run %s: step %s started", span.RunID, span.NodeName)
		case TraceEventNodeEnd:
			logger.Debug("run %s: step %s done in %v", span.RunID, span.NodeName, span.Duration)
		case TraceEventNodeError:
			logger.Warn("run %s: step %s failed: %v", span.RunID, span.NodeName, span.Error)
		case TraceEventInterrupt:
			logger.Info("run %s: suspended at %s", span.RunID, span.NodeName)
		case TraceEventEdgeTraversal:
			logger.Debug("run %s: %s -> %s", span.RunID, span.FromNode, span.ToNode)
		}
	})
}
