package tracing

import (
	"context"
	"log"
	"unicode/utf8"

	"wick_chat/agent"
	"wick_chat/llm"
)

const previewLen = 500

// TracingHook wraps model and tool calls in timed spans on the turn's trace.
type TracingHook struct {
	agent.BaseHook
}

func NewTracingHook() *TracingHook {
	return &TracingHook{}
}

func (h *TracingHook) Name() string { return "tracing" }

func (h *TracingHook) WrapModelCall(ctx context.Context, msgs []agent.Message, next agent.ModelCallWrapFunc) (*llm.Response, error) {
	tr := agent.TraceFromContext(ctx)
	if tr == nil {
		return next(ctx, msgs)
	}

	s := tr.StartSpan("llm.call")
	s.Set("message_count", len(msgs))
	resp, err := next(ctx, msgs)
	if err != nil {
		s.Set("error", err.Error())
	} else {
		s.Set("content_length", len(resp.Content))
		s.Set("content", preview(resp.Content))
		if len(resp.ToolCalls) > 0 {
			names := make([]string, len(resp.ToolCalls))
			for i, tc := range resp.ToolCalls {
				names[i] = tc.Name
			}
			s.Set("tool_calls", names)
		}
		if u := resp.Usage; u != nil {
			s.Set("usage", *u)
			if t, ok := tr.(*Trace); ok {
				t.addUsage(*u)
			}
			log.Printf("[tracing] chat %s usage: input=%d output=%d cache_creation=%d cache_read=%d",
				agent.ChatIDFromContext(ctx), u.InputTokens, u.OutputTokens, u.CacheCreationTokens, u.CacheReadTokens)
		}
	}
	s.End()
	return resp, err
}

func (h *TracingHook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	tr := agent.TraceFromContext(ctx)
	if tr == nil {
		return next(ctx, call)
	}

	s := tr.StartSpan("tool.call")
	s.Set("tool_name", call.Name)
	s.Set("tool_args", call.Args)
	result, err := next(ctx, call)
	switch {
	case err != nil:
		s.Set("error", err.Error())
	case result != nil:
		s.Set("output", preview(result.Output))
		if result.Error != "" {
			s.Set("tool_error", result.Error)
		}
	}
	s.End()
	return result, err
}

// preview cuts s to at most previewLen bytes on a rune boundary.
func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
