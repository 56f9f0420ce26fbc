package agent

import (
	"context"

	"wick_chat/llm"
)

// ModelCallWrapFunc is the signature for the "next" function in the model call chain.
type ModelCallWrapFunc func(ctx context.Context, msgs []Message) (*llm.Response, error)

// ToolCallFunc is the signature for the "next" function in the tool call chain.
type ToolCallFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// Hook defines the interface for agent middleware (onion ring pattern).
type Hook interface {
	Name() string

	// BeforeAgent is called once before the agent loop starts.
	BeforeAgent(ctx context.Context, state *State) error

	// WrapModelCall wraps each LLM call.
	// Return nil to pass through to the next hook.
	WrapModelCall(ctx context.Context, msgs []Message, next ModelCallWrapFunc) (*llm.Response, error)

	// WrapToolCall wraps each tool execution.
	WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error)

	// ModifyRequest is called before each LLM call to modify the message
	// list, e.g. to trim history or inject retrieved context.
	ModifyRequest(ctx context.Context, msgs []Message) ([]Message, error)
}

// BaseHook provides no-op defaults for all hook methods.
// Embed this to only override the methods you need.
type BaseHook struct{}

func (BaseHook) Name() string { return "base" }

func (BaseHook) BeforeAgent(ctx context.Context, state *State) error {
	return nil
}

func (BaseHook) WrapModelCall(ctx context.Context, msgs []Message, next ModelCallWrapFunc) (*llm.Response, error) {
	return next(ctx, msgs)
}

func (BaseHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	return next(ctx, call)
}

func (BaseHook) ModifyRequest(ctx context.Context, msgs []Message) ([]Message, error) {
	return msgs, nil
}
