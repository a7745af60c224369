package observability

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SpanLevel marks span severity.
type SpanLevel string

const (
	SpanLevelDefault SpanLevel = "DEFAULT"
	SpanLevelError   SpanLevel = "ERROR"
)

// TraceEvent is one emitted lifecycle event. Sinks receive trace starts,
// span starts/ends, generations, and decision logs.
type TraceEvent struct {
	Type      string         `json:"type"` // trace_start, span_start, span_end, generation, decision, trace_end
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Level     SpanLevel      `json:"level,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// Generation records one LLM call for analytics.
type Generation struct {
	Model            string         `json:"model"`
	Input            any            `json:"input,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Output           string         `json:"output,omitempty"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	DurationMS       int64          `json:"duration_ms"`
}

// TraceSink receives trace events. Implementations must not block for long;
// sink failures are logged and never surfaced to the caller.
type TraceSink interface {
	Emit(ctx context.Context, event TraceEvent) error
}

// TraceCounters tallies backend activity per request.
type TraceCounters struct {
	Inference int `json:"inference"`
	Knowledge int `json:"knowledge"`
	Tool      int `json:"tool"`
}

// TraceContext carries the analytics trace for one request: a span stack,
// activity counters, and the pluggable sink. All methods are safe for
// concurrent use and never return errors to the caller.
type TraceContext struct {
	mu sync.Mutex

	TraceID   string
	SessionID string
	UserID    string
	AgentID   string
	Metadata  map[string]any

	spanStack []string
	counters  TraceCounters
	sampled   bool
	sink      TraceSink
	logger    *Logger
}

// TraceOptions configures trace creation.
type TraceOptions struct {
	SessionID string
	UserID    string
	AgentID   string
	Metadata  map[string]any

	// SamplingRate is the probability this trace is recorded. Defaults to 1.0.
	SamplingRate float64

	Sink   TraceSink
	Logger *Logger
}

// StartTrace begins a trace for one request. An unsampled trace still
// carries ids and counters but emits nothing.
func StartTrace(ctx context.Context, opts TraceOptions) *TraceContext {
	rate := opts.SamplingRate
	if rate == 0 {
		rate = 1.0
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	tc := &TraceContext{
		TraceID:   uuid.NewString(),
		SessionID: opts.SessionID,
		UserID:    opts.UserID,
		AgentID:   opts.AgentID,
		Metadata:  opts.Metadata,
		sampled:   rand.Float64() < rate,
		sink:      opts.Sink,
		logger:    logger,
	}
	tc.emit(ctx, TraceEvent{Type: "trace_start", TraceID: tc.TraceID, Metadata: opts.Metadata})
	return tc
}

// StartSpan pushes a span onto the stack and returns its id.
func (tc *TraceContext) StartSpan(ctx context.Context, name string, metadata map[string]any) string {
	spanID := uuid.NewString()
	tc.mu.Lock()
	tc.spanStack = append(tc.spanStack, spanID)
	tc.mu.Unlock()
	tc.emit(ctx, TraceEvent{Type: "span_start", TraceID: tc.TraceID, SpanID: spanID, Name: name, Metadata: metadata})
	return spanID
}

// EndSpan pops the span and emits its terminal event. A non-nil err raises
// the span level to ERROR.
func (tc *TraceContext) EndSpan(ctx context.Context, spanID string, err error) {
	tc.mu.Lock()
	for i := len(tc.spanStack) - 1; i >= 0; i-- {
		if tc.spanStack[i] == spanID {
			tc.spanStack = append(tc.spanStack[:i], tc.spanStack[i+1:]...)
			break
		}
	}
	tc.mu.Unlock()

	level := SpanLevelDefault
	var meta map[string]any
	if err != nil {
		level = SpanLevelError
		meta = map[string]any{"error": err.Error()}
	}
	tc.emit(ctx, TraceEvent{Type: "span_end", TraceID: tc.TraceID, SpanID: spanID, Level: level, Metadata: meta})
}

// RecordGeneration logs one LLM call and bumps the inference counter.
func (tc *TraceContext) RecordGeneration(ctx context.Context, gen Generation) {
	tc.mu.Lock()
	tc.counters.Inference++
	tc.mu.Unlock()
	tc.emit(ctx, TraceEvent{
		Type:    "generation",
		TraceID: tc.TraceID,
		Name:    gen.Model,
		Metadata: map[string]any{
			"input":             gen.Input,
			"parameters":        gen.Parameters,
			"output":            gen.Output,
			"prompt_tokens":     gen.PromptTokens,
			"completion_tokens": gen.CompletionTokens,
			"duration_ms":       gen.DurationMS,
		},
	})
}

// RecordKnowledge bumps the knowledge counter.
func (tc *TraceContext) RecordKnowledge(ctx context.Context) {
	tc.mu.Lock()
	tc.counters.Knowledge++
	tc.mu.Unlock()
}

// RecordTool bumps the tool counter.
func (tc *TraceContext) RecordTool(ctx context.Context) {
	tc.mu.Lock()
	tc.counters.Tool++
	tc.mu.Unlock()
}

// LogDecision records an orchestration decision (agent selection, replans,
// HIL suspensions) for offline analysis.
func (tc *TraceContext) LogDecision(ctx context.Context, name string, detail map[string]any) {
	tc.emit(ctx, TraceEvent{Type: "decision", TraceID: tc.TraceID, Name: name, Metadata: detail})
}

// End emits the terminal trace event with final counters.
func (tc *TraceContext) End(ctx context.Context) {
	tc.mu.Lock()
	counters := tc.counters
	tc.mu.Unlock()
	tc.emit(ctx, TraceEvent{
		Type:    "trace_end",
		TraceID: tc.TraceID,
		Metadata: map[string]any{
			"inference": counters.Inference,
			"knowledge": counters.Knowledge,
			"tool":      counters.Tool,
		},
	})
}

// Counters returns a copy of the activity counters.
func (tc *TraceContext) Counters() TraceCounters {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.counters
}

// SpanDepth reports the current span stack depth.
func (tc *TraceContext) SpanDepth() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.spanStack)
}

type traceContextKey struct{}

// WithTrace attaches the analytics trace to a context so lower layers can
// record spans and generations without plumbing the trace explicitly.
func WithTrace(ctx context.Context, tc *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// TraceFromContext returns the attached trace, or nil.
func TraceFromContext(ctx context.Context) *TraceContext {
	tc, _ := ctx.Value(traceContextKey{}).(*TraceContext)
	return tc
}

func (tc *TraceContext) emit(ctx context.Context, event TraceEvent) {
	if !tc.sampled || tc.sink == nil {
		return
	}
	event.Timestamp = time.Now()
	if err := tc.sink.Emit(ctx, event); err != nil {
		tc.logger.Warn(ctx, "trace sink emit failed", "error", err, "event", event.Type)
	}
}
