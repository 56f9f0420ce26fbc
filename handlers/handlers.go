// Package handlers serves the chat HTTP API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"wick_chat/auth"
	"wick_chat/chat"
	"wick_chat/docs"
	"wick_chat/store"
	"wick_chat/tracing"
)

// DefaultMaxUploadBytes is the per-file upload limit.
const DefaultMaxUploadBytes = 5 << 20

// Error bodies shared with the web client.
const (
	msgChatNotFound   = "Chat not found"
	msgRequestFailed  = "Failed to process chat request"
	msgProcessingFile = "Failed to process document"
)

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Store    *store.Store
	Docs     *docs.Store
	Streamer *chat.Streamer
	EventBus *EventBus
	Traces   *tracing.Store

	// Auth issues tokens on /auth/login. Nil means auth is disabled.
	Auth *auth.Service

	MaxUploadBytes int64
	// CheckOrigin vets WebSocket upgrades. Nil allows same-origin only.
	CheckOrigin func(r *http.Request) bool
}

type handler struct {
	deps     *Deps
	upgrader websocket.Upgrader
}

// RegisterRoutes registers every API route on mux. Authentication is
// applied around mux by the caller.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.EventBus == nil {
		deps.EventBus = NewEventBus()
	}
	if deps.Docs == nil {
		deps.Docs = docs.NewStore()
	}
	if deps.Traces == nil {
		deps.Traces = tracing.NewStore(100)
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}

	h := &handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     deps.CheckOrigin,
		},
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /auth/login", auth.LoginHandler(deps.Auth))
	mux.HandleFunc("GET /auth/me", auth.MeHandler)

	mux.HandleFunc("GET /api/chats", h.listChats)
	mux.HandleFunc("POST /api/chats", h.createChat)
	mux.HandleFunc("DELETE /api/chats/{id}", h.deleteChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", h.listMessages)
	mux.HandleFunc("POST /api/chats/{id}/messages", h.addMessage)

	mux.HandleFunc("POST /api/chat/stream", h.stream)
	mux.HandleFunc("GET /api/chat/ws", h.streamWebSocket)

	mux.HandleFunc("POST /api/upload", h.upload)
	mux.HandleFunc("GET /api/events", h.events)

	mux.HandleFunc("GET /api/traces", h.listTraces)
	mux.HandleFunc("GET /api/traces/{id}", h.getTrace)
}

// requireUser returns the authenticated user or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) *auth.User {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeJSONError(w, http.StatusUnauthorized, auth.NotAuthenticated)
	}
	return user
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
