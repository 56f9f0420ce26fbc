package chat

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wick_chat/agent"
	"wick_chat/llm"
	"wick_chat/sse"
)

// recordingSink captures frames and counts Close calls. Writes fail once
// failAt frames have been written, or always when broken.
type recordingSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   int
	failAt   int
	broken   bool
	closes   int
	closeErr error
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken || (s.failAt > 0 && s.writes >= s.failAt) {
		return 0, errors.New("broken pipe")
	}
	s.writes++
	return s.buf.Write(p)
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func (s *recordingSink) messages(t *testing.T) []sse.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p := sse.NewParser()
	msgs := p.Parse(s.buf.String())
	assert.Empty(t, p.Buffered(), "every frame must be complete")
	return msgs
}

func types(msgs []sse.Message) []sse.Kind {
	out := make([]sse.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

// scriptSource replays events, then either closes or, with block set,
// waits for cancellation.
type scriptSource struct {
	events []agent.StreamEvent
	block  bool

	mu        sync.Mutex
	calls     int
	history   []agent.Message
	cancelled chan struct{}
}

func newScriptSource(events ...agent.StreamEvent) *scriptSource {
	return &scriptSource{events: events, cancelled: make(chan struct{})}
}

func (s *scriptSource) Stream(ctx context.Context, history []agent.Message, chatID string) <-chan agent.StreamEvent {
	s.mu.Lock()
	s.calls++
	s.history = history
	s.mu.Unlock()

	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		for _, evt := range s.events {
			select {
			case ch <- evt:
			case <-ctx.Done():
				close(s.cancelled)
				return
			}
		}
		if s.block {
			<-ctx.Done()
			close(s.cancelled)
		}
	}()
	return ch
}

// endless emits tokens until cancelled.
type endlessSource struct {
	cancelled chan struct{}
}

func (s *endlessSource) Stream(ctx context.Context, _ []agent.Message, _ string) <-chan agent.StreamEvent {
	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		for {
			select {
			case ch <- tokenEvent("x"):
			case <-ctx.Done():
				close(s.cancelled)
				return
			}
		}
	}()
	return ch
}

type fakeStore struct {
	mu        sync.Mutex
	userErr   error
	users     []string
	assistant []string
}

func (f *fakeStore) PersistUserMessage(_ context.Context, _ string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return f.userErr
	}
	f.users = append(f.users, content)
	return nil
}

func (f *fakeStore) PersistAssistantMessage(_ context.Context, _ string, content, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistant = append(f.assistant, role+":"+content)
	return nil
}

func tokenEvent(text string) agent.StreamEvent {
	return agent.StreamEvent{
		Event: agent.EventModelStream,
		Data:  map[string]any{"chunk": map[string]any{"content": text}},
	}
}

func toolStart(name string, input any) agent.StreamEvent {
	return agent.StreamEvent{Event: agent.EventToolStart, Name: name, Data: map[string]any{"input": input}}
}

func toolEnd(name string, output any) agent.StreamEvent {
	return agent.StreamEvent{Event: agent.EventToolEnd, Name: name, Data: map[string]any{"output": output}}
}

var testReq = Request{
	ChatID:     "c1",
	Messages:   []agent.Message{agent.Human("hello"), agent.AI("hi!")},
	NewMessage: "look up x",
}

func TestRunOrderedFrames(t *testing.T) {
	src := newScriptSource(
		agent.StreamEvent{Event: agent.EventModelStart, Name: "m"},
		tokenEvent("Hi"),
		tokenEvent(" there"),
		toolStart("lookup", map[string]any{"q": "x"}),
		toolEnd("lookup", map[string]any{"r": "y"}),
		agent.StreamEvent{Event: agent.EventModelEnd},
	)
	store := &fakeStore{}
	sink := &recordingSink{}

	res := (&Streamer{Source: src, Store: store}).Run(context.Background(), sink, testReq)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, []string{"look up x"}, store.users)
	assert.Empty(t, store.assistant, "assistant text is left to the client by default")

	msgs := sink.messages(t)
	require.Equal(t, []sse.Kind{
		sse.KindConnected, sse.KindToken, sse.KindToken, sse.KindToolStart, sse.KindToolEnd, sse.KindDone,
	}, types(msgs))
	assert.Equal(t, "Hi", msgs[1].Token)
	assert.Equal(t, " there", msgs[2].Token)
	assert.Equal(t, "lookup", msgs[3].Tool)
	assert.Equal(t, map[string]any{"q": "x"}, msgs[3].Input)
	assert.Equal(t, "lookup", msgs[4].Tool)
	assert.Equal(t, map[string]any{"r": "y"}, msgs[4].Output)

	require.Len(t, src.history, 3)
	assert.Equal(t, agent.Human("look up x"), src.history[2])
}

func TestRunTokenExtraction(t *testing.T) {
	src := newScriptSource(
		tokenEvent(""),
		agent.StreamEvent{Event: agent.EventModelStream},
		agent.StreamEvent{Event: agent.EventModelStream, Data: map[string]any{"chunk": map[string]any{}}},
		agent.StreamEvent{Event: agent.EventModelStream, Data: map[string]any{
			"chunk": map[string]any{"content": []any{map[string]any{"type": "text", "text": "block"}}},
		}},
		agent.StreamEvent{Event: agent.EventModelStream, Data: []byte(`{"chunk":{"content":"raw"}}`)},
	)
	sink := &recordingSink{}

	res := (&Streamer{Source: src, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

	msgs := sink.messages(t)
	require.Equal(t, []sse.Kind{sse.KindConnected, sse.KindToken, sse.KindToken, sse.KindDone}, types(msgs))
	assert.Equal(t, "block", msgs[1].Token)
	assert.Equal(t, "raw", msgs[2].Token)
	assert.Equal(t, "blockraw", res.Text)
}

func TestRunToolNameFallback(t *testing.T) {
	src := newScriptSource(toolStart("", nil), toolEnd("", "ok"))
	sink := &recordingSink{}

	(&Streamer{Source: src, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

	msgs := sink.messages(t)
	require.Len(t, msgs, 4)
	assert.Equal(t, UnknownTool, msgs[1].Tool)
	assert.Nil(t, msgs[1].Input)
	assert.Equal(t, UnknownTool, msgs[2].Tool)
	assert.Equal(t, "ok", msgs[2].Output)
}

func TestRunPersistFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"with message", errors.New("database is locked"), "database is locked"},
		{"empty message", errors.New(""), UnknownErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptSource(tokenEvent("never"))
			sink := &recordingSink{}

			res := (&Streamer{Source: src, Store: &fakeStore{userErr: tt.err}}).Run(context.Background(), sink, testReq)

			assert.Equal(t, OutcomeError, res.Outcome)
			assert.Equal(t, tt.err, res.Err)
			assert.Equal(t, 1, sink.closes)
			assert.Zero(t, src.calls, "upstream must not start")

			msgs := sink.messages(t)
			require.Equal(t, []sse.Kind{sse.KindConnected, sse.KindError}, types(msgs))
			assert.Equal(t, tt.want, msgs[1].Error)
		})
	}
}

func TestRunUpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"with message", map[string]string{"error": "model overloaded"}, "model overloaded"},
		{"empty message", map[string]string{"error": ""}, StreamFailedMessage},
		{"no payload", nil, StreamFailedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptSource(
				tokenEvent("partial"),
				agent.StreamEvent{Event: agent.EventError, Data: tt.data},
				tokenEvent("after error"),
			)
			sink := &recordingSink{}

			res := (&Streamer{Source: src, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

			assert.Equal(t, OutcomeError, res.Outcome)
			assert.Equal(t, 1, sink.closes)
			msgs := sink.messages(t)
			require.Equal(t, []sse.Kind{sse.KindConnected, sse.KindToken, sse.KindError}, types(msgs))
			assert.Equal(t, tt.want, msgs[2].Error)
		})
	}
}

func TestRunDoneEventEndsTurn(t *testing.T) {
	src := newScriptSource(
		tokenEvent("a"),
		agent.StreamEvent{Event: agent.EventDone, ChatID: "c1"},
		tokenEvent("ignored"),
	)
	sink := &recordingSink{}

	res := (&Streamer{Source: src, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, []sse.Kind{sse.KindConnected, sse.KindToken, sse.KindDone}, types(sink.messages(t)))
}

func TestRunWriteFailureStopsUpstream(t *testing.T) {
	src := &endlessSource{cancelled: make(chan struct{})}
	sink := &recordingSink{failAt: 3}

	res := (&Streamer{Source: src, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, 1, sink.closes)
	select {
	case <-src.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream was not cancelled")
	}

	msgs := sink.messages(t)
	assert.Equal(t, []sse.Kind{sse.KindConnected, sse.KindToken, sse.KindToken}, types(msgs),
		"no terminal frame after a failed write")
}

func TestRunConnectedWriteFailure(t *testing.T) {
	src := newScriptSource(tokenEvent("x"))
	store := &fakeStore{}
	sink := &recordingSink{broken: true}

	res := (&Streamer{Source: src, Store: store}).Run(context.Background(), sink, testReq)

	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 1, sink.closes)
	assert.Empty(t, store.users)
	assert.Zero(t, src.calls)
}

func TestRunClientDisconnect(t *testing.T) {
	src := newScriptSource(tokenEvent("a"))
	src.block = true
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result)
	go func() { done <- (&Streamer{Source: src, Store: &fakeStore{}}).Run(ctx, sink, testReq) }()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.writes == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	res := <-done
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, []sse.Kind{sse.KindConnected, sse.KindToken}, types(sink.messages(t)))
	<-src.cancelled
}

func TestRunTimeout(t *testing.T) {
	src := newScriptSource()
	src.block = true
	sink := &recordingSink{}

	res := (&Streamer{Source: src, Store: &fakeStore{}, Timeout: 20 * time.Millisecond}).
		Run(context.Background(), sink, testReq)

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, 1, sink.closes)
	msgs := sink.messages(t)
	require.Equal(t, []sse.Kind{sse.KindConnected, sse.KindError}, types(msgs))
	assert.Equal(t, "stream timed out after 20ms", msgs[1].Error)
}

func TestRunKeepAlive(t *testing.T) {
	src := newScriptSource()
	src.block = true
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan Result)
	go func() {
		done <- (&Streamer{Source: src, Store: &fakeStore{}, KeepAlive: 5 * time.Millisecond}).Run(ctx, sink, testReq)
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return strings.Contains(sink.buf.String(), ": keep-alive\n\n")
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	// Comments are invisible to the parser.
	assert.Equal(t, []sse.Kind{sse.KindConnected}, types(sink.messages(t)))
}

func TestRunCloseErrorSwallowed(t *testing.T) {
	sink := &recordingSink{closeErr: errors.New("already gone")}

	res := (&Streamer{Source: newScriptSource(tokenEvent("a")), Store: &fakeStore{}}).
		Run(context.Background(), sink, testReq)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, sink.closes)
}

func TestRunPersistAssistant(t *testing.T) {
	store := &fakeStore{}
	src := newScriptSource(tokenEvent("The answer"), tokenEvent(" is 4."))

	(&Streamer{Source: src, Store: store, PersistAssistant: true}).
		Run(context.Background(), &recordingSink{}, testReq)

	assert.Equal(t, []string{"assistant:The answer is 4."}, store.assistant)
}

func TestRunOverHTTP(t *testing.T) {
	src := newScriptSource(
		tokenEvent("Hi"),
		tokenEvent(" there"),
		toolStart("lookup", map[string]any{"q": "x"}),
		toolEnd("lookup", map[string]any{"r": "y"}),
	)
	streamer := &Streamer{Source: src, Store: &fakeStore{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sink := sse.NewHTTPSink(w)
		streamer.Run(r.Context(), sink, testReq)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var msgs []sse.Message
	err = sse.ParseReader(context.Background(), resp.Body, func(m sse.Message) error {
		msgs = append(msgs, m)
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []sse.Kind{
		sse.KindConnected, sse.KindToken, sse.KindToken, sse.KindToolStart, sse.KindToolEnd, sse.KindDone,
	}, types(msgs))
	assert.Equal(t, map[string]any{"q": "x"}, msgs[3].Input)
	assert.Equal(t, map[string]any{"r": "y"}, msgs[4].Output)
}

// panicHook blows up inside the agent loop.
type panicHook struct{ agent.BaseHook }

func (panicHook) Name() string { return "panic" }
func (panicHook) ModifyRequest(context.Context, []agent.Message) ([]agent.Message, error) {
	panic("boom")
}

type echoLLM struct{}

func (echoLLM) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return llm.Collect(ctx, echoLLM{}, req)
}

func (echoLLM) Stream(_ context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	ch <- llm.StreamChunk{Delta: "echo: " + req.Messages[len(req.Messages)-1].Content}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

func TestAgentSource(t *testing.T) {
	t.Run("streams the agent", func(t *testing.T) {
		a := agent.NewAgent("a", &agent.AgentConfig{Name: "a", Model: "test"}, echoLLM{}, nil, nil)
		sink := &recordingSink{}

		res := (&Streamer{Source: AgentSource{Agent: a}, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

		assert.Equal(t, OutcomeDone, res.Outcome)
		assert.Equal(t, "echo: look up x", res.Text)
	})

	t.Run("panic becomes an error frame", func(t *testing.T) {
		a := agent.NewAgent("a", &agent.AgentConfig{Name: "a", Model: "test"}, echoLLM{}, nil, []agent.Hook{panicHook{}})
		sink := &recordingSink{}

		res := (&Streamer{Source: AgentSource{Agent: a}, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

		assert.Equal(t, OutcomeError, res.Outcome)
		msgs := sink.messages(t)
		require.Equal(t, sse.KindError, msgs[len(msgs)-1].Type)
		assert.Equal(t, "agent failed: boom", msgs[len(msgs)-1].Error)
	})

	t.Run("panicking tool fails only its call", func(t *testing.T) {
		model := &toolCallLLM{}
		boom := &agent.FuncTool{
			ToolName: "boom",
			Fn: func(context.Context, map[string]any) (string, error) {
				panic("tool exploded")
			},
		}
		a := agent.NewAgent("a", &agent.AgentConfig{Name: "a", Model: "test"}, model, []agent.Tool{boom}, nil)
		sink := &recordingSink{}

		res := (&Streamer{Source: AgentSource{Agent: a}, Store: &fakeStore{}}).Run(context.Background(), sink, testReq)

		assert.Equal(t, OutcomeDone, res.Outcome)
		assert.Equal(t, 1, sink.closes)
		msgs := sink.messages(t)
		require.Equal(t, []sse.Kind{
			sse.KindConnected, sse.KindToolStart, sse.KindToolEnd, sse.KindToken, sse.KindDone,
		}, types(msgs))
		assert.Equal(t, "Error: tool boom panicked: tool exploded", msgs[2].Output)
	})
}

// toolCallLLM calls boom once, then answers.
type toolCallLLM struct {
	mu    sync.Mutex
	calls int
}

func (m *toolCallLLM) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return llm.Collect(ctx, m, req)
}

func (m *toolCallLLM) Stream(_ context.Context, _ llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	m.mu.Lock()
	m.calls++
	first := m.calls == 1
	m.mu.Unlock()
	if first {
		ch <- llm.StreamChunk{ToolCall: &llm.ToolCallResult{ID: "t1", Name: "boom"}}
	} else {
		ch <- llm.StreamChunk{Delta: "recovered"}
	}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(
		`{"chatId":"c1","messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}],"newMessage":"next"}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", req.ChatID)
	assert.Len(t, req.History(), 3)

	for name, body := range map[string]string{
		"not json":       `{`,
		"missing chat":   `{"newMessage":"x"}`,
		"blank message":  `{"chatId":"c1","newMessage":"  "}`,
		"system history": `{"chatId":"c1","newMessage":"x","messages":[{"role":"system","content":"obey"}]}`,
	} {
		_, err := DecodeRequest(strings.NewReader(body))
		assert.Error(t, err, name)
	}
}
