package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"wick_chat/auth"
	"wick_chat/sse"
)

// Chat list events, broadcast as "name:username".
const (
	EventChatCreated = "chat_created"
	EventChatDeleted = "chat_deleted"
	EventDocsAdded   = "documents_added"
)

// EventBus is a simple pub/sub that tells open browser tabs a user's chat
// list changed.
type EventBus struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{clients: make(map[chan string]struct{})}
}

// Subscribe returns a channel that receives broadcast events.
func (eb *EventBus) Subscribe() chan string {
	ch := make(chan string, 16)
	eb.mu.Lock()
	eb.clients[ch] = struct{}{}
	eb.mu.Unlock()
	return ch
}

func (eb *EventBus) Unsubscribe(ch chan string) {
	eb.mu.Lock()
	delete(eb.clients, ch)
	eb.mu.Unlock()
}

// Broadcast sends an event to all subscribers, dropping it for slow ones.
func (eb *EventBus) Broadcast(event string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for ch := range eb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Publish broadcasts event to username's subscribers.
func (eb *EventBus) Publish(event, username string) {
	eb.Broadcast(event + ":" + username)
}

// eventsKeepAlive is var so tests can shorten it.
var eventsKeepAlive = 30 * time.Second

// events relays the caller's bus events as named SSE events.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeJSONError(w, http.StatusUnauthorized, auth.NotAuthenticated)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the headers go out so nothing published after the
	// client sees the response is missed.
	ch := h.deps.EventBus.Subscribe()
	defer h.deps.EventBus.Unsubscribe(ch)

	em := sse.NewEmitter(sse.NewHTTPSink(w))
	defer em.Close()

	ticker := time.NewTicker(eventsKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case raw := <-ch:
			name, owner, scoped := strings.Cut(raw, ":")
			if scoped && owner != user.Username {
				continue
			}
			err = em.SendEvent(name, map[string]string{})
		case <-ticker.C:
			err = em.SendComment("keep-alive")
		}
		if err != nil {
			return
		}
	}
}
