package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a session transition.
type Type string

const (
	SessionStart        Type = "session_start"
	TransportInit       Type = "transport_init"
	TransportInitFailed Type = "transport_init_failed"
	DispatchStart       Type = "dispatch_start"
	DispatchEnd         Type = "dispatch_end"
	Failover            Type = "failover"
	Shutdown            Type = "shutdown"
	Fault               Type = "fault"
	ExtensionLoaded     Type = "extension_loaded"
)

// Event is one transition.
type Event struct {
	Type        Type      `json:"type"`
	SessionID   uuid.UUID `json:"session_id"`
	TransportID string    `json:"transport_id,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	URL         string    `json:"url,omitempty"`
	Result      string    `json:"result,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Time        time.Time `json:"time"`
}

// Sink receives events. Emit must not block the run loop for long and never fails it.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Multi fans events out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}

// Recorder keeps events in memory.
type Recorder struct {
	ch chan Event
}

// NewRecorder buffers up to size events; later ones are dropped.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	select {
	case r.ch <- ev:
	default:
	}
}

// Types drains the recorder and returns the event types in emission order.
func (r *Recorder) Types() []Type {
	var out []Type
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}
