package agent

import "wick_chat/llm"

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult holds the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

// State is the conversation state of a single run. It lives only for the
// duration of RunStream; history between turns comes from the chat store.
type State struct {
	ChatID   string    `json:"chat_id"`
	Messages []Message `json:"messages"`
}

// ModelResponse holds the result of an LLM call.
type ModelResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *llm.Usage
}
