package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient implements the Client interface for the Anthropic Messages API.
type AnthropicClient struct {
	model  string
	client anthropic.Client

	// PromptCache marks the system prompt and the tail of the
	// conversation as cacheable.
	PromptCache bool
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL uses
// the public API.
func NewAnthropicClient(baseURL, apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(2)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &AnthropicClient{
		model:       model,
		client:      anthropic.NewClient(opts...),
		PromptCache: true,
	}
}

// Call makes a streaming call and collects the result.
func (c *AnthropicClient) Call(ctx context.Context, req Request) (*Response, error) {
	return Collect(ctx, c, req)
}

// Stream makes a streaming Anthropic API call. Tool calls are sent as their
// content block closes; the final chunk carries the token usage.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)

	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	var acc anthropic.Message
	var toolID, toolName string
	var args strings.Builder

	for stream.Next() {
		evt := stream.Current()
		if err := acc.Accumulate(evt); err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}

		switch variant := evt.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				toolID, toolName = block.ID, block.Name
				args.Reset()
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					ch <- StreamChunk{Delta: delta.Text}
				}
			case anthropic.InputJSONDelta:
				args.WriteString(delta.PartialJSON)
			}

		case anthropic.ContentBlockStopEvent:
			if toolID != "" {
				ch <- StreamChunk{ToolCall: &ToolCallResult{
					ID:   toolID,
					Name: toolName,
					Args: parseArgs(args.String()),
				}}
				toolID, toolName = "", ""
				args.Reset()
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic: %w", err)
	}
	if acc.StopReason == "" {
		return fmt.Errorf("anthropic: stream ended before the message finished")
	}

	ch <- StreamChunk{Done: true, Usage: &Usage{
		InputTokens:         int(acc.Usage.InputTokens),
		OutputTokens:        int(acc.Usage.OutputTokens),
		CacheCreationTokens: int(acc.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(acc.Usage.CacheReadInputTokens),
	}}
	return nil
}

func (c *AnthropicClient) buildParams(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  convertAnthropicMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	if req.SystemPrompt != "" {
		block := anthropic.TextBlockParam{Text: req.SystemPrompt}
		if c.PromptCache {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	if c.PromptCache {
		markCacheBreakpoints(params.Messages)
	}

	for _, t := range req.Tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]any{}},
		}
		if props, ok := t.Parameters["properties"]; ok {
			tool.InputSchema.Properties = props
		}
		if required, ok := t.Parameters["required"].([]string); ok {
			tool.InputSchema.Required = required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params
}

// convertAnthropicMessages maps chat messages onto user and assistant
// turns. Tool results travel as user turns, consecutive ones merged.
func convertAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input, _ := json.Marshal(tc.Args)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(input), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser && out[n-1].Content[0].OfToolResult != nil {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

// markCacheBreakpoints sets cache_control on the last block of the final
// message and of the second-to-last user message, so each turn reuses the
// prefix cached by the one before it.
func markCacheBreakpoints(msgs []anthropic.MessageParam) {
	if len(msgs) == 0 {
		return
	}
	mark := func(m *anthropic.MessageParam) {
		n := len(m.Content)
		if n == 0 {
			return
		}
		cc := anthropic.NewCacheControlEphemeralParam()
		switch b := m.Content[n-1]; {
		case b.OfText != nil:
			b.OfText.CacheControl = cc
		case b.OfToolUse != nil:
			b.OfToolUse.CacheControl = cc
		case b.OfToolResult != nil:
			b.OfToolResult.CacheControl = cc
		}
	}
	mark(&msgs[len(msgs)-1])

	users := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != anthropic.MessageParamRoleUser {
			continue
		}
		users++
		if users == 2 {
			mark(&msgs[i])
			return
		}
	}
}
