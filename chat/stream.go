// Package chat drives one streamed chat turn: it persists the user's
// message, runs the upstream agent and relays its events to the client as
// SSE frames.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"wick_chat/agent"
	"wick_chat/sse"
)

const (
	// UnknownErrorMessage is sent when setup fails with an empty error.
	UnknownErrorMessage = "Unknown error"
	// StreamFailedMessage is sent when the upstream fails with an empty error.
	StreamFailedMessage = "Stream processing failed."
	// UnknownTool names tool events that carry no tool name.
	UnknownTool = "unknown"

	DefaultKeepAlive = 15 * time.Second
)

// Source produces the upstream events for one turn. The returned channel
// is closed when the run ends. Cancelling ctx must make the source stop
// and close the channel.
type Source interface {
	Stream(ctx context.Context, history []agent.Message, chatID string) <-chan agent.StreamEvent
}

// MessageStore persists chat messages.
type MessageStore interface {
	PersistUserMessage(ctx context.Context, chatID, content string) error
	PersistAssistantMessage(ctx context.Context, chatID, content, role string) error
}

// Outcome is how a streamed turn ended.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeError   Outcome = "error"   // an Error frame was sent
	OutcomeAborted Outcome = "aborted" // the client went away; no terminal frame
)

// Result describes a finished turn.
type Result struct {
	Outcome Outcome
	// Text is the assistant text streamed to the client.
	Text string
	Err  error
}

// Streamer runs chat turns. A Streamer holds no per-turn state and may
// serve concurrent requests.
type Streamer struct {
	Source Source
	Store  MessageStore

	// KeepAlive is the interval between comment frames while the upstream
	// is idle. Zero disables keep-alives.
	KeepAlive time.Duration
	// Timeout bounds the whole turn. Zero means no limit.
	Timeout time.Duration
	// PersistAssistant stores the assistant text after Done. Browser
	// clients persist it themselves, so this is off by default.
	PersistAssistant bool
}

// Run streams one turn to sink and closes it. Run never returns before
// the sink is closed.
func (s *Streamer) Run(ctx context.Context, sink sse.Sink, req Request) Result {
	em := sse.NewEmitter(sink)
	defer func() {
		if err := em.Close(); err != nil {
			log.Printf("[chat] closing stream for chat %s: %v", req.ChatID, err)
		}
	}()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if err := em.Send(sse.Connected()); err != nil {
		return aborted(req.ChatID, err)
	}

	if err := s.Store.PersistUserMessage(ctx, req.ChatID, req.NewMessage); err != nil {
		log.Printf("[chat] persist user message for chat %s: %v", req.ChatID, err)
		return sendError(em, req.ChatID, err, UnknownErrorMessage)
	}

	return s.relay(ctx, em, req)
}

// relay translates upstream events until the source finishes, fails, or
// the stream dies.
func (s *Streamer) relay(ctx context.Context, em *sse.Emitter, req Request) Result {
	upCtx, cancel := context.WithCancel(ctx)
	events := s.Source.Stream(upCtx, req.History(), req.ChatID)
	defer func() {
		cancel()
		go drain(events)
	}()

	var keepAlive <-chan time.Time
	if s.KeepAlive > 0 {
		t := time.NewTicker(s.KeepAlive)
		defer t.Stop()
		keepAlive = t.C
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return s.interrupted(ctx, em, req.ChatID)

		case <-keepAlive:
			if err := em.SendComment("keep-alive"); err != nil {
				return aborted(req.ChatID, err)
			}

		case evt, ok := <-events:
			if !ok {
				// The source also closes when cancelled.
				if ctx.Err() != nil {
					return s.interrupted(ctx, em, req.ChatID)
				}
				return s.finish(ctx, em, req.ChatID, text.String())
			}

			var msg sse.Message
			switch evt.Event {
			case agent.EventModelStream:
				token := tokenText(evt.Data)
				if token == "" {
					continue
				}
				text.WriteString(token)
				msg = sse.Token(token)
			case agent.EventToolStart:
				msg = sse.ToolStart(toolName(evt.Name), payloadField(evt.Data, "input"))
			case agent.EventToolEnd:
				msg = sse.ToolEnd(toolName(evt.Name), payloadField(evt.Data, "output"))
			case agent.EventError:
				err := errors.New(gjson.GetBytes(payload(evt.Data), "error").String())
				return sendError(em, req.ChatID, err, StreamFailedMessage)
			case agent.EventDone:
				return s.finish(ctx, em, req.ChatID, text.String())
			case agent.EventModelStart, agent.EventModelEnd:
				continue
			default:
				log.Printf("[chat] ignoring upstream event %q", evt.Event)
				continue
			}

			if err := em.Send(msg); err != nil {
				if em.Failed() != nil || errors.Is(err, sse.ErrSinkClosed) {
					return aborted(req.ChatID, err)
				}
				log.Printf("[chat] dropping %s frame: %v", msg.Type, err)
			}
		}
	}
}

// interrupted ends a cancelled turn. A timeout is reported to the client;
// a disconnect gets no frame since nobody is listening.
func (s *Streamer) interrupted(ctx context.Context, em *sse.Emitter, chatID string) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err := fmt.Errorf("stream timed out after %s", s.Timeout)
		return sendError(em, chatID, err, StreamFailedMessage)
	}
	return aborted(chatID, ctx.Err())
}

// finish sends Done and, if configured, persists the assistant text.
func (s *Streamer) finish(ctx context.Context, em *sse.Emitter, chatID, text string) Result {
	if err := em.Send(sse.Done()); err != nil {
		return aborted(chatID, err)
	}
	if s.PersistAssistant && text != "" {
		// The client may already be gone; the turn still completed.
		pctx := context.WithoutCancel(ctx)
		if err := s.Store.PersistAssistantMessage(pctx, chatID, text, agent.RoleAssistant); err != nil {
			log.Printf("[chat] persist assistant message for chat %s: %v", chatID, err)
		}
	}
	return Result{Outcome: OutcomeDone, Text: text}
}

func sendError(em *sse.Emitter, chatID string, err error, fallback string) Result {
	text := fallback
	if err != nil && err.Error() != "" {
		text = err.Error()
	}
	if serr := em.Send(sse.Error(text)); serr != nil {
		return aborted(chatID, serr)
	}
	return Result{Outcome: OutcomeError, Err: err}
}

func aborted(chatID string, err error) Result {
	log.Printf("[chat] stream for chat %s aborted: %v", chatID, err)
	return Result{Outcome: OutcomeAborted, Err: err}
}

func drain(events <-chan agent.StreamEvent) {
	for range events {
	}
}

func toolName(name string) string {
	if name == "" {
		return UnknownTool
	}
	return name
}

// tokenText extracts the text of a model stream event. The content is a
// plain string or a list of content blocks, of which the first is used.
func tokenText(data any) string {
	content := gjson.GetBytes(payload(data), "chunk.content")
	switch {
	case content.IsArray():
		return content.Get("0.text").String()
	case content.Type == gjson.String:
		return content.String()
	}
	return ""
}

// payloadField returns the raw JSON of data[key], or nil when absent.
func payloadField(data any, key string) any {
	r := gjson.GetBytes(payload(data), key)
	if !r.Exists() {
		return nil
	}
	return json.RawMessage(r.Raw)
}

func payload(data any) []byte {
	switch v := data.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return v
	case []byte:
		return v
	}
	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("[chat] unencodable event payload %T: %v", data, err)
		return nil
	}
	return b
}
