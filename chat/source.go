package chat

import (
	"context"
	"fmt"
	"log"

	"wick_chat/agent"
)

// AgentSource streams turns from an agent.
type AgentSource struct {
	Agent *agent.Agent
}

// Stream runs the agent in the background. A panic inside the agent ends
// the stream with an error event instead of taking the process down.
func (s AgentSource) Stream(ctx context.Context, history []agent.Message, chatID string) <-chan agent.StreamEvent {
	out := make(chan agent.StreamEvent, 64)

	go func() {
		defer close(out)

		in := make(chan agent.StreamEvent, 64)
		panicked := make(chan any, 1)
		go func() {
			defer func() { panicked <- recover() }()
			s.Agent.RunStream(ctx, history, chatID, in)
		}()

		for evt := range in {
			select {
			case out <- evt:
			case <-ctx.Done():
			}
		}

		if r := <-panicked; r != nil {
			log.Printf("[chat] agent %s panicked on chat %s: %v", s.Agent.ID, chatID, r)
			select {
			case out <- agent.StreamEvent{
				Event: agent.EventError,
				Data:  map[string]string{"error": fmt.Sprintf("agent failed: %v", r)},
			}:
			case <-ctx.Done():
			}
		}
	}()

	return out
}
