package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/event"
	"github.com/gosuda/tether/internal/session"
)

// Barrier contains panics raised on the session goroutine. It is the only
// place in the agent that recovers.
type Barrier struct {
	Sink event.Sink

	// SessionID tags the fault event once a record exists.
	SessionID uuid.UUID
}

// Run calls fn. If fn panics, the thread is killed, a fault event is emitted
// and ExitFault is returned; the panic does not propagate.
func (b *Barrier) Run(thread *session.Thread, fn func() ExitCode) (code ExitCode) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if thread != nil {
			thread.Kill()
		}
		log.Error().
			Str("session_id", b.SessionID.String()).
			Str("panic", fmt.Sprint(r)).
			Bytes("stack", debug.Stack()).
			Msg("fault barrier tripped")

		code = ExitFault
		b.report(r)
	}()

	return fn()
}

func (b *Barrier) report(r any) {
	if b.Sink == nil {
		return
	}
	// A panicking sink must not take the process down with it.
	defer func() { _ = recover() }()

	b.Sink.Emit(context.Background(), event.Event{
		Type:      event.Fault,
		SessionID: b.SessionID,
		Detail:    fmt.Sprint(r),
		Time:      time.Now().UTC(),
	})
}
