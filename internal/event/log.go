package event

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes events through zerolog. A nil logger uses the global one.
type LogSink struct {
	Logger *zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	logger := &log.Logger
	if s.Logger != nil {
		logger = s.Logger
	}

	var e *zerolog.Event
	switch ev.Type {
	case Fault:
		e = logger.Error()
	case TransportInitFailed, Failover:
		e = logger.Warn()
	case DispatchStart, DispatchEnd:
		e = logger.Debug()
	default:
		e = logger.Info()
	}

	e = e.Str("event", string(ev.Type)).Str("session_id", ev.SessionID.String())
	if ev.TransportID != "" {
		e = e.Str("transport_id", ev.TransportID).Str("kind", ev.Kind).Str("url", ev.URL)
	}
	if ev.Result != "" {
		e = e.Str("result", ev.Result)
	}
	if ev.Detail != "" {
		e = e.Str("detail", ev.Detail)
	}
	e.Time("at", ev.Time).Msg("session event")
}
