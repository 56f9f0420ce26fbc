package agent

import "context"

// TraceRecorder allows the agent loop to record spans without importing
// the tracing package (avoids circular dependency).
type TraceRecorder interface {
	// StartSpan begins a timed span; call End() on the returned handle.
	StartSpan(name string) SpanHandle
	// RecordEvent records an instantaneous (zero-duration) event.
	RecordEvent(name string, metadata map[string]any)
}

// SpanHandle is a timed span that accumulates metadata.
type SpanHandle interface {
	Set(key string, value any) SpanHandle
	End()
}

type traceRecorderKey struct{}
type chatIDKey struct{}

// WithTraceRecorder stores a TraceRecorder in the context.
func WithTraceRecorder(ctx context.Context, tr TraceRecorder) context.Context {
	return context.WithValue(ctx, traceRecorderKey{}, tr)
}

// TraceFromContext extracts the TraceRecorder, or nil.
func TraceFromContext(ctx context.Context) TraceRecorder {
	tr, _ := ctx.Value(traceRecorderKey{}).(TraceRecorder)
	return tr
}

// WithChatID scopes ctx to a chat so hooks and tools can find
// per-chat resources.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

// ChatIDFromContext returns the chat the current run belongs to, or "".
func ChatIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(chatIDKey{}).(string)
	return id
}

// startSpan returns a span on the context's recorder, or a no-op span.
func startSpan(ctx context.Context, name string) SpanHandle {
	if tr := TraceFromContext(ctx); tr != nil {
		return tr.StartSpan(name)
	}
	return nopSpan{}
}

type nopSpan struct{}

func (s nopSpan) Set(string, any) SpanHandle { return s }
func (nopSpan) End()                         {}
