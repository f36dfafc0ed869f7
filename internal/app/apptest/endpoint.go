// Package apptest provides in-memory transport endpoints for tests.
package apptest

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/core"
)

var ErrFull = errors.New("endpoint full")

// Endpoint is a core.SignalConnection backed by a buffered channel.
type Endpoint struct {
	Frames chan core.Frame

	mu     sync.Mutex
	closed bool
	closes int
}

func NewEndpoint(buffer int) *Endpoint {
	return &Endpoint{Frames: make(chan core.Frame, buffer)}
}

func (e *Endpoint) TrySend(f core.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return core.ErrClosed
	}
	select {
	case e.Frames <- f:
		return nil
	default:
		return ErrFull
	}
}

func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.closes++
}

// Closes counts Close calls, repeated ones included.
func (e *Endpoint) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Event is a decoded outbound frame.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (ev Event) Decode(t testing.TB, v any) {
	t.Helper()
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
}

// Next waits briefly for the next frame.
func (e *Endpoint) Next(t testing.TB) Event {
	t.Helper()
	select {
	case f := <-e.Frames:
		var ev Event
		if err := json.Unmarshal(f, &ev); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return Event{}
	}
}

// Expect skips frames until one of the given type arrives.
func (e *Endpoint) Expect(t testing.TB, typ string) Event {
	t.Helper()
	for {
		ev := e.Next(t)
		if ev.Type == typ {
			return ev
		}
	}
}

// Drain discards everything queued so far.
func (e *Endpoint) Drain() {
	for {
		select {
		case <-e.Frames:
		default:
			return
		}
	}
}

// Empty reports whether nothing is queued.
func (e *Endpoint) Empty() bool { return len(e.Frames) == 0 }
