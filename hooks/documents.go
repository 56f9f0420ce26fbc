package hooks

import (
	"context"
	"log"

	"wick_chat/agent"
	"wick_chat/docs"
)

// DefaultDocuments is how many chunks are injected per model call.
const DefaultDocuments = 3

// DocumentsHook injects the chat's uploaded documents that best match the
// latest user message into the system prompt.
type DocumentsHook struct {
	agent.BaseHook
	store *docs.Store
	k     int
}

// NewDocumentsHook creates a hook reading from store.
func NewDocumentsHook(store *docs.Store, k int) *DocumentsHook {
	if k <= 0 {
		k = DefaultDocuments
	}
	return &DocumentsHook{store: store, k: k}
}

func (h *DocumentsHook) Name() string { return "documents" }

// ModifyRequest appends retrieved context to the first system message,
// creating one if needed. Chats without documents pass through untouched.
func (h *DocumentsHook) ModifyRequest(ctx context.Context, msgs []agent.Message) ([]agent.Message, error) {
	chatID := agent.ChatIDFromContext(ctx)
	if chatID == "" || h.store.Count(chatID) == 0 {
		return msgs, nil
	}

	found := h.store.Search(chatID, agent.Messages(msgs).LastUser(), h.k)
	if len(found) == 0 {
		return msgs, nil
	}
	log.Printf("[documents] chat %s: injecting %d chunk(s)", chatID, len(found))

	injected := docs.FormatContext(found)
	out := make([]agent.Message, len(msgs))
	copy(out, msgs)
	if len(out) > 0 && out[0].Role == agent.RoleSystem {
		out[0].Content += "\n\n" + injected
		return out, nil
	}
	return append([]agent.Message{agent.System(injected)}, out...), nil
}
