package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wick_chat/chat"
	"wick_chat/sse"
)

// ToolPending is shown in a tool block until the tool's output arrives.
const ToolPending = "Processing..."

// terminalMarker opens every tool block in the response text.
const terminalMarker = "\n```terminal\n"

// ErrIncomplete means the stream ended without Done or Error.
var ErrIncomplete = errors.New("stream ended before completion")

// StreamError is an Error frame received from the server. It aborts the
// turn.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

var errTurnDone = errors.New("turn done")

type toolCall struct {
	name  string
	input any
}

// Turn accumulates one assistant response from stream messages. Only one
// tool is tracked at a time: a second ToolStart replaces the first.
type Turn struct {
	// OnUpdate, if set, is called with the full response text after every
	// change.
	OnUpdate func(text string)

	text        strings.Builder
	currentTool *toolCall
	done        bool
}

// Text returns the response accumulated so far.
func (t *Turn) Text() string { return t.text.String() }

// Done reports whether the server finished the turn.
func (t *Turn) Done() bool { return t.done }

// Handle applies one message. It returns a *StreamError for an Error
// frame; after Done it returns an internal sentinel that stops the read
// loop.
func (t *Turn) Handle(msg sse.Message) error {
	switch msg.Type {
	case sse.KindConnected:
		return nil
	case sse.KindToken:
		t.text.WriteString(msg.Token)
	case sse.KindToolStart:
		t.currentTool = &toolCall{name: msg.Tool, input: msg.Input}
		t.text.WriteString(FormatTerminal(msg.Tool, msg.Input, ToolPending))
	case sse.KindToolEnd:
		if t.currentTool == nil {
			return nil
		}
		text := t.text.String()
		i := strings.LastIndex(text, terminalMarker)
		if i < 0 {
			return nil
		}
		t.text.Reset()
		t.text.WriteString(text[:i])
		t.text.WriteString(FormatTerminal(msg.Tool, t.currentTool.input, msg.Output))
		t.currentTool = nil
	case sse.KindError:
		return &StreamError{Message: msg.Error}
	case sse.KindDone:
		t.done = true
		return errTurnDone
	default:
		return nil
	}
	if t.OnUpdate != nil {
		t.OnUpdate(t.text.String())
	}
	return nil
}

// FormatTerminal renders a tool call as a fenced terminal block.
func FormatTerminal(tool string, input, output any) string {
	return fmt.Sprintf("%s$ %s %s\n%s\n```\n", terminalMarker, tool, render(input), render(output))
}

func render(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Ask streams one turn for req and, once the server sends Done, stores
// the assistant response in the chat. The returned Turn holds whatever
// text arrived, even on error.
func (c *Client) Ask(ctx context.Context, req chat.Request, onUpdate func(string)) (*Turn, error) {
	turn := &Turn{OnUpdate: onUpdate}

	stream := c.Stream
	if c.WebSocket {
		stream = c.DialWebSocket
	}
	err := stream(ctx, req, turn.Handle)
	switch {
	case errors.Is(err, errTurnDone):
	case err != nil:
		return turn, err
	case !turn.done:
		return turn, ErrIncomplete
	}

	if _, err := c.AddMessage(ctx, req.ChatID, "assistant", turn.Text()); err != nil {
		return turn, fmt.Errorf("save response: %w", err)
	}
	return turn, nil
}
