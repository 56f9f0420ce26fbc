package sse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Parser reassembles stream messages from text chunks that need not be
// aligned to line boundaries. The zero value is ready to use. A Parser
// belongs to a single stream and is not safe for concurrent use.
type Parser struct {
	buf string
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse consumes chunk and returns the messages completed by it, in line
// order. Text after the last newline is held until a later chunk ends it.
//
// A data line whose payload is not JSON yields an Error message with
// ParseErrorMessage. Valid JSON that is not an object with a recognized
// string type, or whose fields do not fit Message, is dropped.
func (p *Parser) Parse(chunk string) []Message {
	lines := strings.Split(p.buf+chunk, "\n")
	p.buf = lines[len(lines)-1]

	var out []Message
	for _, line := range lines[:len(lines)-1] {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, DataPrefix) {
			continue
		}

		payload := line[len(DataPrefix):]
		if payload == DoneSentinel {
			out = append(out, Done())
			continue
		}

		if !gjson.Valid(payload) {
			out = append(out, Error(ParseErrorMessage))
			continue
		}
		kind := gjson.Get(payload, "type")
		if kind.Type != gjson.String || !Kind(kind.Str).Valid() {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Buffered returns the incomplete line carried into the next Parse call.
func (p *Parser) Buffered() string {
	return p.buf
}

// ParseReader reads r until EOF, passing each decoded message to fn as soon
// as its line completes. It stops early when fn returns an error or ctx is
// cancelled.
func ParseReader(ctx context.Context, r io.Reader, fn func(Message) error) error {
	p := NewParser()
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, msg := range p.Parse(string(buf[:n])) {
				if err := fn(msg); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
