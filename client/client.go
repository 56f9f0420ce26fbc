// Package client talks to a wick_chat server: chat management plus the
// streaming turn over SSE or WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"wick_chat/chat"
	"wick_chat/sse"
	"wick_chat/store"
)

// Handler receives each decoded stream message in order. Returning an
// error stops the stream. Nothing is read after a Done or Error frame.
type Handler func(msg sse.Message) error

var errEndOfStream = errors.New("end of stream")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Client is a wick_chat API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	// WebSocket routes Ask through /api/chat/ws instead of SSE.
	WebSocket bool
}

// New creates a client for the server at baseURL. token may be empty when
// the server runs without auth.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = token }

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/login",
		map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return "", err
	}
	c.token = out.AccessToken
	return out.AccessToken, nil
}

func (c *Client) CreateChat(ctx context.Context, title string) (*store.Chat, error) {
	var out store.Chat
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats", map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	var out []store.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddMessage stores a finished message in chatID.
func (c *Client) AddMessage(ctx context.Context, chatID, role, content string) (*store.Message, error) {
	var out store.Message
	body := map[string]string{"role": role, "content": content}
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream POSTs req to /api/chat/stream and calls h for every message until
// the server ends the response. Requests the server rejects before the
// stream opens come back as *APIError.
func (c *Client) Stream(ctx context.Context, req chat.Request, h Handler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	err = sse.ParseReader(ctx, resp.Body, func(msg sse.Message) error {
		if err := h(msg); err != nil {
			return err
		}
		if msg.Type.Terminal() {
			return errEndOfStream
		}
		return nil
	})
	if errors.Is(err, errEndOfStream) {
		return nil
	}
	return err
}

// DialWebSocket runs the same exchange as Stream over /api/chat/ws.
func (c *Client) DialWebSocket(ctx context.Context, req chat.Request, h Handler) error {
	u, err := url.Parse(c.baseURL + "/api/chat/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return readAPIError(resp)
		}
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	p := sse.NewParser()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				return nil
			case errors.As(err, &ce):
				return &APIError{Status: ce.Code, Message: ce.Text}
			}
			return err
		}
		for _, msg := range p.Parse(string(data)) {
			if err := h(msg); err != nil {
				return err
			}
			if msg.Type.Terminal() {
				return nil
			}
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readAPIError turns an error response into *APIError, preferring the
// {"error": msg} body the server writes.
func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
