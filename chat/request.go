package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"wick_chat/agent"
)

// MaxRequestBytes bounds a decoded stream request body.
const MaxRequestBytes = 1 << 20

// Request is the body of a stream request.
type Request struct {
	ChatID     string          `json:"chatId"`
	Messages   []agent.Message `json:"messages"`
	NewMessage string          `json:"newMessage"`
}

// DecodeRequest reads and validates a stream request.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r, MaxRequestBytes)).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the fields a turn cannot run without.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ChatID) == "" {
		return fmt.Errorf("chatId is required")
	}
	if strings.TrimSpace(r.NewMessage) == "" {
		return fmt.Errorf("newMessage is required")
	}
	if err := agent.Messages(r.Messages).ValidateHistory(); err != nil {
		return fmt.Errorf("invalid messages: %w", err)
	}
	return nil
}

// History returns the prior messages followed by the new user message.
func (r Request) History() []agent.Message {
	history := make([]agent.Message, 0, len(r.Messages)+1)
	history = append(history, r.Messages...)
	return append(history, agent.Human(r.NewMessage))
}
