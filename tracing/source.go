package tracing

import (
	"context"

	"wick_chat/agent"
	"wick_chat/auth"
	"wick_chat/chat"
)

// Source wraps a chat.Source so every turn is traced. The trace rides in
// the context handed to the wrapped source, where the agent loop and
// TracingHook record spans on it. The trace is owned by the user in ctx.
type Source struct {
	Next  chat.Source
	Store *Store
	Model string
}

func (s *Source) Stream(ctx context.Context, history []agent.Message, chatID string) <-chan agent.StreamEvent {
	var userID string
	if u := auth.UserFromContext(ctx); u != nil {
		userID = u.Username
	}
	t := NewTrace(chatID, userID, s.Model, len(history))
	events := s.Next.Stream(agent.WithTraceRecorder(ctx, t), history, chatID)

	out := make(chan agent.StreamEvent)
	go func() {
		defer close(out)
		defer func() {
			t.Finish()
			s.Store.Put(t)
		}()
		for evt := range events {
			t.observe(evt)
			select {
			case out <- evt:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
