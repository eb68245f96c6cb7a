package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/event"
	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

// Outcome is how the run loop ended.
type Outcome int

const (
	// OutcomeTerminated means a transport asked for a clean shutdown.
	OutcomeTerminated Outcome = iota
	// OutcomeExhausted means every transport failed to initialize.
	OutcomeExhausted
	// OutcomeCancelled means the hosting thread was stopped from outside.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTerminated:
		return "terminated"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunLoop drives the session's transport ring until a transport terminates
// the session, the ring runs out of members or ctx is cancelled.
//
// A transport whose Init fails is removed and destroyed. A transport whose
// Dispatch fails is reset and skipped; it stays in the ring for the next pass.
// Whatever is left in the ring is destroyed before RunLoop returns, also when
// a panic unwinds through it.
func RunLoop(ctx context.Context, rec *session.Record, host transport.Host, sink event.Sink) Outcome {
	defer drain(rec)

	for {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}

		d := rec.Ring.Current()
		if d == nil {
			log.Warn().Str("session_id", rec.ID.String()).Msg("no transports left")
			return OutcomeExhausted
		}

		if err := d.Init(ctx); err != nil {
			emit(ctx, sink, rec, d, event.TransportInitFailed, "", err.Error())
			if rerr := rec.Ring.RemoveDescriptor(d); rerr != nil {
				log.Error().Err(rerr).Str("transport", d.URL).Msg("removing transport")
			}
			destroy(d)
			continue
		}
		emit(ctx, sink, rec, d, event.TransportInit, "", "")

		rec.SetActive(d)
		emit(ctx, sink, rec, d, event.DispatchStart, "", "")
		result := d.Dispatch(ctx, host)
		rec.SetActive(nil)
		d.Deinit()
		emit(ctx, sink, rec, d, event.DispatchEnd, result.String(), "")

		if result == transport.ResultTerminate {
			emit(ctx, sink, rec, d, event.Shutdown, result.String(), "")
			return OutcomeTerminated
		}

		d.Reset()
		next := rec.Ring.Advance()
		detail := ""
		if next != nil {
			detail = "next " + next.URL
		}
		emit(ctx, sink, rec, d, event.Failover, result.String(), detail)
	}
}

func drain(rec *session.Record) {
	rec.SetActive(nil)

	var n int
	rec.Ring.Drain(func(d *transport.Descriptor) {
		n++
		destroy(d)
	})
	if n > 0 {
		log.Debug().Int("count", n).Str("session_id", rec.ID.String()).Msg("transports released")
	}
}

func destroy(d *transport.Descriptor) {
	if err := d.Destroy(); err != nil {
		log.Warn().Err(err).Str("transport", d.URL).Msg("destroying transport")
	}
}

func emit(ctx context.Context, sink event.Sink, rec *session.Record, d *transport.Descriptor, typ event.Type, result, detail string) {
	if sink == nil {
		return
	}
	ev := event.Event{
		Type:      typ,
		SessionID: rec.ID,
		Result:    result,
		Detail:    detail,
		Time:      time.Now().UTC(),
	}
	if d != nil {
		ev.TransportID = d.ID.String()
		ev.Kind = d.Kind.String()
		ev.URL = d.URL
	}
	sink.Emit(ctx, ev)
}
