package hooks

import (
	"context"

	"wick_chat/agent"
)

// DefaultHistoryWindow is the number of conversation messages kept when
// none is configured.
const DefaultHistoryWindow = 10

// HistoryHook bounds the context sent to the model: system messages plus
// the last N conversation messages, starting on a user turn.
type HistoryHook struct {
	agent.BaseHook
	window int
}

// NewHistoryHook creates a history hook keeping the last window messages.
func NewHistoryHook(window int) *HistoryHook {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &HistoryHook{window: window}
}

func (h *HistoryHook) Name() string { return "history" }

// ModifyRequest trims msgs to the window.
func (h *HistoryHook) ModifyRequest(ctx context.Context, msgs []agent.Message) ([]agent.Message, error) {
	return agent.Messages(msgs).Window(h.window), nil
}
