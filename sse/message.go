package sse

import (
	"encoding/json"
	"fmt"
)

// Wire format constants shared by the emitter and the parser.
const (
	DataPrefix    = "data: "
	DoneSentinel  = "[DONE]"
	LineDelimiter = "\n\n"
)

// ParseErrorMessage is the text of the Error message the parser yields
// for a data line whose payload is not valid JSON.
const ParseErrorMessage = "Failed to parse SSE message"

// Kind is the "type" discriminator of a stream message.
type Kind string

const (
	KindConnected Kind = "connected"
	KindToken     Kind = "token"
	KindToolStart Kind = "toolStart"
	KindToolEnd   Kind = "toolEnd"
	KindError     Kind = "error"
	KindDone      Kind = "done"
)

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConnected, KindToken, KindToolStart, KindToolEnd, KindError, KindDone:
		return true
	default:
		return false
	}
}

// Terminal reports whether no frame may follow a message of this kind.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Message is one frame of the chat stream. Which payload fields are
// populated depends on Type.
type Message struct {
	Type   Kind   `json:"type"`
	Token  string `json:"token,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Connected() Message { return Message{Type: KindConnected} }
func Done() Message      { return Message{Type: KindDone} }

func Token(text string) Message { return Message{Type: KindToken, Token: text} }

func ToolStart(tool string, input any) Message {
	return Message{Type: KindToolStart, Tool: tool, Input: input}
}

func ToolEnd(tool string, output any) Message {
	return Message{Type: KindToolEnd, Tool: tool, Output: output}
}

func Error(msg string) Message { return Message{Type: KindError, Error: msg} }

// Encode serializes msg as a single wire frame. Done is written as the
// [DONE] sentinel rather than JSON.
func Encode(msg Message) ([]byte, error) {
	if msg.Type == KindDone {
		return []byte(DataPrefix + DoneSentinel + LineDelimiter), nil
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("encode SSE message: unknown type %q", msg.Type)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE message: %w", err)
	}
	frame := make([]byte, 0, len(DataPrefix)+len(data)+len(LineDelimiter))
	frame = append(frame, DataPrefix...)
	frame = append(frame, data...)
	frame = append(frame, LineDelimiter...)
	return frame, nil
}
