package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"wick_chat/llm"
)

// MaxIterations is the maximum number of LLM-tool loop iterations.
const MaxIterations = 25

// Agent is a configured agent instance ready to run. An Agent holds no
// per-conversation state and may serve concurrent runs.
type Agent struct {
	ID     string
	Config *AgentConfig
	LLM    llm.Client
	Tools  []Tool
	Hooks  []Hook
}

// NewAgent creates a new Agent with the given configuration.
func NewAgent(id string, cfg *AgentConfig, llmClient llm.Client, tools []Tool, hooks []Hook) *Agent {
	return &Agent{
		ID:     id,
		Config: cfg,
		LLM:    llmClient,
		Tools:  tools,
		Hooks:  hooks,
	}
}

// RunStream executes the agent and streams events to the given channel.
// The channel is closed when the run ends. The caller must read from
// eventCh until it's closed or cancel ctx.
func (a *Agent) RunStream(ctx context.Context, messages []Message, chatID string, eventCh chan<- StreamEvent) {
	defer close(eventCh)
	ctx = WithChatID(ctx, chatID)

	_, err := a.runLoop(ctx, messages, chatID, eventCh)
	if err != nil {
		emit(ctx, eventCh, StreamEvent{
			Event: EventError,
			Data:  map[string]string{"error": err.Error()},
		})
		return
	}

	emit(ctx, eventCh, StreamEvent{
		Event:  EventDone,
		ChatID: chatID,
		Data:   map[string]any{"chat_id": chatID},
	})
}

// emit delivers evt unless ctx is cancelled first.
func emit(ctx context.Context, ch chan<- StreamEvent, evt StreamEvent) {
	select {
	case ch <- evt:
	case <-ctx.Done():
	}
}

func (a *Agent) runLoop(ctx context.Context, messages []Message, chatID string, eventCh chan<- StreamEvent) (*State, error) {
	state := &State{ChatID: chatID, Messages: append([]Message(nil), messages...)}
	tr := TraceFromContext(ctx)

	for _, hook := range a.Hooks {
		s := startSpan(ctx, "hook.before_agent/"+hook.Name())
		if err := hook.BeforeAgent(ctx, state); err != nil {
			s.Set("error", err.Error()).End()
			return nil, fmt.Errorf("hook %s BeforeAgent: %w", hook.Name(), err)
		}
		s.End()
	}

	toolMap := make(map[string]Tool, len(a.Tools))
	for _, t := range a.Tools {
		toolMap[t.Name()] = t
	}
	toolSchemas := buildToolSchemas(a.Tools)

	if tr != nil {
		names := make([]string, 0, len(a.Tools))
		for _, t := range a.Tools {
			names = append(names, t.Name())
		}
		tr.RecordEvent("tools.available", map[string]any{
			"count": len(names),
			"tools": names,
		})
	}

	modelCall := a.buildModelChain(toolSchemas)
	toolCall := a.buildToolCallChain(toolMap)

	for iter := 0; iter < MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		msgs := make([]Message, len(state.Messages))
		copy(msgs, state.Messages)
		for _, hook := range a.Hooks {
			s := startSpan(ctx, "hook.modify_request/"+hook.Name())
			s.Set("iteration", iter)
			s.Set("message_count_before", len(msgs))
			var err error
			msgs, err = hook.ModifyRequest(ctx, msgs)
			if err != nil {
				s.Set("error", err.Error()).End()
				return nil, fmt.Errorf("hook %s ModifyRequest: %w", hook.Name(), err)
			}
			s.Set("message_count_after", len(msgs)).End()
		}

		if tr != nil {
			tr.RecordEvent("llm.input", map[string]any{
				"iteration":     iter,
				"message_count": len(msgs),
				"messages":      summarizeMessages(msgs),
			})
		}

		emit(ctx, eventCh, StreamEvent{Event: EventModelStart, Name: a.Config.ModelStr()})

		response, err := modelCall(ctx, msgs, eventCh)
		if err != nil {
			return nil, fmt.Errorf("LLM call: %w", err)
		}

		emit(ctx, eventCh, StreamEvent{Event: EventModelEnd, Name: a.Config.ModelStr()})

		state.Messages = append(state.Messages, AI(response.Content, response.ToolCalls...))

		if len(response.ToolCalls) == 0 {
			return state, nil
		}

		var wg sync.WaitGroup
		results := make([]ToolResult, len(response.ToolCalls))

		for i, tc := range response.ToolCalls {
			wg.Add(1)
			go func(idx int, tc ToolCall) {
				defer wg.Done()
				emit(ctx, eventCh, StreamEvent{
					Event: EventToolStart,
					Name:  tc.Name,
					RunID: tc.ID,
					Data:  map[string]any{"input": tc.Args},
				})

				wrapped, err := safeToolCall(ctx, toolCall, tc)
				var result ToolResult
				if err != nil {
					result = ToolResult{
						ToolCallID: tc.ID,
						Name:       tc.Name,
						Error:      err.Error(),
						Output:     "Error: " + err.Error(),
					}
				} else if wrapped != nil {
					result = *wrapped
				}
				results[idx] = result

				emit(ctx, eventCh, StreamEvent{
					Event: EventToolEnd,
					Name:  tc.Name,
					RunID: tc.ID,
					Data:  map[string]any{"output": result.Output},
				})
			}(i, tc)
		}
		wg.Wait()

		for _, result := range results {
			state.Messages = append(state.Messages, ToolMsg(result.ToolCallID, result.Name, result.Output))
		}
	}

	return state, fmt.Errorf("agent stopped after %d iterations without a final answer", MaxIterations)
}

func (a *Agent) executeTool(ctx context.Context, tc ToolCall, toolMap map[string]Tool) ToolResult {
	tool, ok := toolMap[tc.Name]
	if !ok {
		return ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Error:      fmt.Sprintf("unknown tool: %s", tc.Name),
			Output:     fmt.Sprintf("Error: tool %q not found", tc.Name),
		}
	}

	output, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		return ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Error:      err.Error(),
			Output:     "Error: " + err.Error(),
		}
	}

	return ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Output:     output,
	}
}

// safeToolCall runs call and turns a panic into an error, so one broken
// tool fails its own call instead of the process.
func safeToolCall(ctx context.Context, call ToolCallFunc, tc ToolCall) (result *ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[agent] tool %s panicked: %v", tc.Name, r)
			result, err = nil, fmt.Errorf("tool %s panicked: %v", tc.Name, r)
		}
	}()
	return call(ctx, tc)
}

// closeQuietly closes ch unless the client already did.
func closeQuietly(ch chan llm.StreamChunk) {
	defer func() { _ = recover() }()
	close(ch)
}

// ModelCallFunc is the type for functions in the model call chain.
type ModelCallFunc func(ctx context.Context, msgs []Message, eventCh chan<- StreamEvent) (*ModelResponse, error)

func (a *Agent) buildModelChain(toolSchemas []llm.ToolSchema) ModelCallFunc {
	base := func(ctx context.Context, msgs []Message, eventCh chan<- StreamEvent) (*ModelResponse, error) {
		system, llmMsgs := convertMessages(a.Config.SystemPrompt, msgs)
		req := llm.Request{
			Model:        a.Config.ModelStr(),
			Messages:     llmMsgs,
			Tools:        toolSchemas,
			SystemPrompt: system,
			MaxTokens:    a.Config.maxTokens(),
			Temperature:  a.Config.Temperature,
		}

		chunkCh := make(chan llm.StreamChunk, 64)
		var llmErr error
		var llmDone sync.WaitGroup
		llmDone.Add(1)
		go func() {
			defer llmDone.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[agent] %s: model stream panicked: %v", a.ID, r)
					llmErr = fmt.Errorf("model stream panicked: %v", r)
					closeQuietly(chunkCh)
				}
			}()
			llmErr = a.LLM.Stream(ctx, req, chunkCh)
		}()

		var content strings.Builder
		var toolCalls []ToolCall
		var usage *llm.Usage
		var chunkErr error

		// Keep draining after an error so the client's Stream can return.
		for chunk := range chunkCh {
			if chunkErr != nil {
				continue
			}
			if chunk.Error != nil {
				chunkErr = chunk.Error
				continue
			}
			if chunk.Delta != "" {
				content.WriteString(chunk.Delta)
				emit(ctx, eventCh, StreamEvent{
					Event: EventModelStream,
					Name:  a.Config.ModelStr(),
					Data: map[string]any{
						"chunk": map[string]any{"content": chunk.Delta},
					},
				})
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, ToolCall{
					ID:   chunk.ToolCall.ID,
					Name: chunk.ToolCall.Name,
					Args: chunk.ToolCall.Args,
				})
			}
		}

		llmDone.Wait()
		if chunkErr != nil {
			return nil, chunkErr
		}
		if llmErr != nil {
			return nil, llmErr
		}

		return &ModelResponse{
			Content:   content.String(),
			ToolCalls: toolCalls,
			Usage:     usage,
		}, nil
	}

	// Wrap with hooks (onion ring)
	fn := base
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, msgs []Message, eventCh chan<- StreamEvent) (*ModelResponse, error) {
			wrapped, err := hook.WrapModelCall(ctx, msgs, func(c context.Context, m []Message) (*llm.Response, error) {
				resp, err := prev(c, m, eventCh)
				if err != nil {
					return nil, err
				}
				return toLLMResponse(resp), nil
			})
			if err != nil {
				return nil, err
			}
			if wrapped == nil {
				return prev(ctx, msgs, eventCh)
			}
			return fromLLMResponse(wrapped), nil
		}
	}

	return fn
}

// buildToolCallChain builds an onion-ring chain for tool execution,
// wrapping the actual executeTool call with all WrapToolCall hooks.
func (a *Agent) buildToolCallChain(toolMap map[string]Tool) ToolCallFunc {
	base := func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
		r := a.executeTool(ctx, tc, toolMap)
		return &r, nil
	}

	// Reverse order so index-0 is outermost.
	fn := ToolCallFunc(base)
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
			return hook.WrapToolCall(ctx, tc, prev)
		}
	}
	return fn
}

func toLLMResponse(resp *ModelResponse) *llm.Response {
	out := &llm.Response{Content: resp.Content, Usage: resp.Usage}
	for _, tc := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCallResult{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	return out
}

func fromLLMResponse(resp *llm.Response) *ModelResponse {
	out := &ModelResponse{Content: resp.Content, Usage: resp.Usage}
	for _, tc := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	return out
}

// convertMessages splits system messages out of msgs and merges them with
// the configured prompt, since providers take the system prompt separately.
func convertMessages(prompt string, msgs []Message) (string, []llm.Message) {
	var system []string
	if prompt != "" {
		system = append(system, prompt)
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		lm := llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCallInfo{ID: tc.ID, Name: tc.Name, Args: tc.Args})
		}
		out = append(out, lm)
	}
	return strings.Join(system, "\n\n"), out
}

func buildToolSchemas(tools []Tool) []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}

func summarizeMessages(msgs []Message) []map[string]any {
	out := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		entry := map[string]any{
			"role":           m.Role,
			"content_length": len(m.Content),
		}
		entry["content"] = truncate(m.Content, 500)
		if len(m.ToolCalls) > 0 {
			names := make([]string, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				names[j] = tc.Name
			}
			entry["tool_calls"] = names
		}
		out[i] = entry
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
