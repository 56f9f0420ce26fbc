package handlers

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wick_chat/chat"
	"wick_chat/sse"
)

// stream serves POST /api/chat/stream. Everything that can be rejected is
// checked before the event stream opens.
func (h *handler) stream(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	req, err := chat.DecodeRequest(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.deps.Store.OwnedChat(r.Context(), user.Username, req.ChatID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	sink := sse.NewHTTPSink(w)
	if sink == nil {
		writeJSONError(w, http.StatusInternalServerError, msgRequestFailed)
		return
	}

	start := time.Now()
	res := h.deps.Streamer.Run(r.Context(), sink, req)
	log.Printf("[handlers] stream chat=%s user=%s outcome=%s chars=%d elapsed=%s",
		req.ChatID, user.Username, res.Outcome, len(res.Text), time.Since(start).Round(time.Millisecond))
}

// streamWebSocket serves GET /api/chat/ws. The first client message is a
// stream request; the reply frames are the same SSE frames, one per
// WebSocket message.
func (h *handler) streamWebSocket(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Printf("[handlers] websocket upgrade: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[handlers] websocket read request: %v", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	req, err := chat.DecodeRequest(bytes.NewReader(first))
	if err != nil {
		rejectWebSocket(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}
	if _, err := h.deps.Store.OwnedChat(r.Context(), user.Username, req.ChatID); err != nil {
		rejectWebSocket(conn, websocket.ClosePolicyViolation, msgChatNotFound)
		return
	}

	// A hijacked connection's request context never ends, so watch the
	// socket for the client going away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	res := h.deps.Streamer.Run(ctx, sse.NewWebSocketSink(conn), req)
	log.Printf("[handlers] websocket stream chat=%s user=%s outcome=%s", req.ChatID, user.Username, res.Outcome)
}

func rejectWebSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	conn.Close()
}
