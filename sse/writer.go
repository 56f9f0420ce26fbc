package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrSinkClosed is returned for sends on an emitter whose sink was closed
// or has already failed a write.
var ErrSinkClosed = errors.New("sse: sink closed")

// Sink is a byte-oriented output the emitter writes frames to.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// Emitter serializes stream messages onto a Sink. Frames are written in
// the order Send is called. The first failed write kills the emitter:
// every later send returns ErrSinkClosed without touching the sink.
type Emitter struct {
	mu      sync.Mutex
	sink    Sink
	closed  bool
	failure error

	closeOnce sync.Once
	closeErr  error
}

// NewEmitter creates an emitter that owns sink until Close.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Send writes msg as one data frame.
func (e *Emitter) Send(msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	return e.write(frame)
}

// SendEvent writes a named event with a JSON payload. Chat stream parsers
// skip the event line and see only the data.
func (e *Emitter) SendEvent(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	return e.write([]byte("event: " + name + "\n" + DataPrefix + string(payload) + LineDelimiter))
}

// SendComment writes an SSE comment (for keep-alive pings).
func (e *Emitter) SendComment(text string) error {
	return e.write([]byte(": " + text + LineDelimiter))
}

func (e *Emitter) write(frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrSinkClosed
	}
	if e.failure != nil {
		return fmt.Errorf("%w: %v", ErrSinkClosed, e.failure)
	}
	if _, err := e.sink.Write(frame); err != nil {
		e.failure = err
		return fmt.Errorf("write SSE frame: %w", err)
	}
	return nil
}

// Failed returns the write error that killed the emitter, or nil.
func (e *Emitter) Failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failure
}

// Close closes the sink. Only the first call reaches the sink; later
// calls return the first call's result.
func (e *Emitter) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.closeErr = e.sink.Close()
	})
	return e.closeErr
}

// HTTPSink writes frames to an http.ResponseWriter, flushing after each one.
type HTTPSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewHTTPSink sets the event-stream headers and returns a sink for w.
// Returns nil if the ResponseWriter doesn't support http.Flusher.
func NewHTTPSink(w http.ResponseWriter) *HTTPSink {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &HTTPSink{w: w, flusher: flusher}
}

func (s *HTTPSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSinkClosed
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	s.flusher.Flush()
	return n, nil
}

// Close marks the sink finished. The response body itself ends when the
// handler returns.
func (s *HTTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.closed = true
	return nil
}
