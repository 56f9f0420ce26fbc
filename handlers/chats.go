package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"wick_chat/agent"
	"wick_chat/store"
)

func (h *handler) listChats(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	chats, err := h.deps.Store.ListChats(r.Context(), user.Username)
	if err != nil {
		log.Printf("[handlers] list chats for %s: %v", user.Username, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *handler) createChat(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	c, err := h.deps.Store.CreateChat(r.Context(), user.Username, body.Title)
	if err != nil {
		log.Printf("[handlers] create chat for %s: %v", user.Username, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	h.deps.EventBus.Publish(EventChatCreated, user.Username)
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) deleteChat(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id := r.PathValue("id")
	if err := h.deps.Store.DeleteChat(r.Context(), user.Username, id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.deps.Docs.Clear(id)
	h.deps.EventBus.Publish(EventChatDeleted, user.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id := r.PathValue("id")
	if _, err := h.deps.Store.OwnedChat(r.Context(), user.Username, id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	msgs, err := h.deps.Store.ListMessages(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		transcript := make(agent.Messages, 0, len(msgs))
		for _, m := range msgs {
			transcript = append(transcript, agent.Message{Role: m.Role, Content: m.Content})
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(transcript.PrettyPrint()))
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// addMessage stores a message the client assembled, normally the
// assistant's reply after a stream completed.
func (h *handler) addMessage(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id := r.PathValue("id")
	var body struct {
		Content string `json:"content"`
		Role    string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Role == "" {
		body.Role = "assistant"
	}
	if body.Role != "user" && body.Role != "assistant" {
		writeJSONError(w, http.StatusBadRequest, `role must be "user" or "assistant"`)
		return
	}
	if _, err := h.deps.Store.OwnedChat(r.Context(), user.Username, id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	m, err := h.deps.Store.AddMessage(r.Context(), id, body.Role, body.Content)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// writeStoreError maps store errors to responses. Another user's chat is
// reported as missing so chat IDs cannot be discovered.
func (h *handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrForbidden):
		writeJSONError(w, http.StatusNotFound, msgChatNotFound)
	default:
		log.Printf("[handlers] store error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, msgRequestFailed)
	}
}
