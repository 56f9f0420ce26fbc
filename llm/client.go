package llm

import (
	"context"
	"strings"
)

// Client is the interface for LLM providers.
type Client interface {
	// Call makes a synchronous LLM call and returns the full response.
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream makes an LLM call and sends chunks to the channel.
	// The channel is closed when streaming is complete, on every path.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// Message represents a chat message for the LLM.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
}

// ToolCallInfo is a tool call attached to an assistant message.
type ToolCallInfo struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolSchema describes a tool for the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to an LLM call.
type Request struct {
	Model        string       `json:"model"`
	Messages     []Message    `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float64     `json:"temperature,omitempty"`
}

// Response is the full result of an LLM call.
type Response struct {
	Content   string           `json:"content"`
	ToolCalls []ToolCallResult `json:"tool_calls,omitempty"`
	Usage     *Usage           `json:"usage,omitempty"`
}

// Usage is the token accounting a provider reports for one call. The cache
// counters stay zero for providers without prompt caching.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationTokens += o.CacheCreationTokens
	u.CacheReadTokens += o.CacheReadTokens
}

// ToolCallResult is a parsed tool call from the LLM response.
type ToolCallResult struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// StreamChunk is a single chunk from a streaming LLM call.
type StreamChunk struct {
	Delta    string          `json:"delta,omitempty"`
	ToolCall *ToolCallResult `json:"tool_call,omitempty"`
	Done     bool            `json:"done,omitempty"`
	Usage    *Usage          `json:"usage,omitempty"`
	Error    error           `json:"-"`
}

// Collect runs a streaming call to completion and assembles the response.
func Collect(ctx context.Context, c Client, req Request) (*Response, error) {
	ch := make(chan StreamChunk, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Stream(ctx, req, ch) }()

	var sb strings.Builder
	resp := &Response{}
	var chunkErr error
	for chunk := range ch {
		switch {
		case chunk.Error != nil:
			if chunkErr == nil {
				chunkErr = chunk.Error
			}
		case chunk.ToolCall != nil:
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		default:
			sb.WriteString(chunk.Delta)
		}
		if chunk.Usage != nil {
			resp.Usage = chunk.Usage
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if chunkErr != nil {
		return nil, chunkErr
	}
	resp.Content = sb.String()
	return resp, nil
}
