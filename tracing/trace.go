// Package tracing records one trace per streamed chat turn and keeps the
// most recent ones in memory for inspection.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"wick_chat/agent"
	"wick_chat/llm"
)

// Span represents a single timed operation within a trace.
type Span struct {
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Trace collects the spans of one chat turn. Implements agent.TraceRecorder.
type Trace struct {
	mu         sync.Mutex
	TraceID    string    `json:"trace_id"`
	ChatID     string    `json:"chat_id"`
	UserID     string    `json:"user_id"`
	Model      string    `json:"model"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs float64   `json:"duration_ms"`
	Spans      []Span    `json:"spans"`

	MessageCount int       `json:"message_count"`
	Tokens       int       `json:"tokens"`
	ToolCalls    int       `json:"tool_calls"`
	Usage        llm.Usage `json:"usage"`
	Outcome      string    `json:"outcome,omitempty"` // "done", "error" or "cancelled"
	Error        string    `json:"error,omitempty"`
}

var _ agent.TraceRecorder = (*Trace)(nil)

// NewTrace starts a trace for a turn by userID on chatID.
func NewTrace(chatID, userID, model string, messageCount int) *Trace {
	return &Trace{
		TraceID:      uuid.New().String(),
		ChatID:       chatID,
		UserID:       userID,
		Model:        model,
		StartTime:    time.Now(),
		Spans:        []Span{},
		MessageCount: messageCount,
	}
}

// SpanRecorder is returned by StartSpan. Implements agent.SpanHandle.
type SpanRecorder struct {
	trace *Trace
	span  Span
}

var _ agent.SpanHandle = (*SpanRecorder)(nil)

func (t *Trace) StartSpan(name string) agent.SpanHandle {
	return &SpanRecorder{
		trace: t,
		span:  Span{Name: name, StartTime: time.Now(), Metadata: map[string]any{}},
	}
}

// RecordEvent records a zero-duration span.
func (t *Trace) RecordEvent(name string, metadata map[string]any) {
	now := time.Now()
	t.addSpan(Span{Name: name, StartTime: now, EndTime: now, Metadata: metadata})
}

func (sr *SpanRecorder) Set(key string, value any) agent.SpanHandle {
	sr.span.Metadata[key] = value
	return sr
}

func (sr *SpanRecorder) End() {
	sr.span.EndTime = time.Now()
	sr.span.DurationMs = float64(sr.span.EndTime.Sub(sr.span.StartTime)) / float64(time.Millisecond)
	sr.trace.addSpan(sr.span)
}

func (t *Trace) addSpan(s Span) {
	t.mu.Lock()
	t.Spans = append(t.Spans, s)
	t.mu.Unlock()
}

// addUsage adds one model call's token usage to the turn total.
func (t *Trace) addUsage(u llm.Usage) {
	t.mu.Lock()
	t.Usage.Add(u)
	t.mu.Unlock()
}

// observe updates the turn counters from an upstream event.
func (t *Trace) observe(evt agent.StreamEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch evt.Event {
	case agent.EventModelStream:
		t.Tokens++
	case agent.EventToolStart:
		t.ToolCalls++
	case agent.EventDone:
		t.Outcome = "done"
	case agent.EventError:
		t.Outcome = "error"
		if m, ok := evt.Data.(map[string]string); ok {
			t.Error = m["error"]
		}
	}
}

// Finish stamps the end of the turn. A turn that never reached done or
// error was cancelled.
func (t *Trace) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
	t.DurationMs = float64(t.EndTime.Sub(t.StartTime)) / float64(time.Millisecond)
	if t.Outcome == "" {
		t.Outcome = "cancelled"
	}
}

// Store holds recent traces with bounded capacity, evicting the oldest.
type Store struct {
	mu     sync.RWMutex
	traces map[string]*Trace
	order  []string
	max    int
}

// NewStore creates a store that retains up to maxSize traces.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Store{
		traces: make(map[string]*Trace),
		order:  make([]string, 0, maxSize),
		max:    maxSize,
	}
}

// Put stores a trace, evicting the oldest if at capacity.
func (s *Store) Put(t *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.max {
		delete(s.traces, s.order[0])
		s.order = s.order[1:]
	}
	s.traces[t.TraceID] = t
	s.order = append(s.order, t.TraceID)
}

// Get returns a trace by ID, or nil.
func (s *Store) Get(traceID string) *Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces[traceID]
}

// List returns up to limit traces, newest first. Empty userID or chatID
// match every trace.
func (s *Store) List(userID, chatID string, limit int) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Trace, 0, min(limit, len(s.order)))
	for i := len(s.order) - 1; i >= 0 && len(result) < limit; i-- {
		t := s.traces[s.order[i]]
		if (userID != "" && t.UserID != userID) || (chatID != "" && t.ChatID != chatID) {
			continue
		}
		result = append(result, t)
	}
	return result
}

// FromContext extracts the concrete *Trace from ctx.
func FromContext(ctx context.Context) *Trace {
	t, _ := agent.TraceFromContext(ctx).(*Trace)
	return t
}
