package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// stream is a connected, message-oriented link.
type stream interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, packet []byte) error
}

// serveStream reads requests and writes replies until the host, the session
// expiry or the link ends it.
func serveStream(ctx context.Context, d *Descriptor, host Host, s stream) Result {
	for {
		if ctx.Err() != nil {
			return ResultTerminate
		}

		expires := host.ExpiresAt()
		if expired(expires, time.Now()) {
			log.Info().Str("transport", d.URL).Msg("session expired")
			return ResultTerminate
		}

		readCtx, cancel := readContext(ctx, d.Timeouts().Comms, expires)
		packet, err := s.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ResultTerminate
			}
			if expired(expires, time.Now()) {
				log.Info().Str("transport", d.URL).Msg("session expired")
				return ResultTerminate
			}
			log.Warn().Err(err).Str("transport", d.URL).Msg("transport read failed")
			return ResultFailure
		}

		reply, directive := host.Handle(ctx, packet)
		if reply != nil {
			d.Lock.Lock()
			err = s.Write(ctx, reply)
			d.Lock.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("transport", d.URL).Msg("transport write failed")
				if directive == DirectiveTerminate {
					return ResultTerminate
				}
				return ResultFailure
			}
		}

		switch directive {
		case DirectiveTerminate:
			return ResultTerminate
		case DirectiveFailover:
			return ResultFailure
		case DirectiveContinue:
		}
	}
}

// readContext bounds a single read by the comms timeout and the session expiry.
func readContext(ctx context.Context, comms time.Duration, expires time.Time) (context.Context, context.CancelFunc) {
	var deadline time.Time
	if comms > 0 {
		deadline = time.Now().Add(comms)
	}
	if !expires.IsZero() && (deadline.IsZero() || expires.Before(deadline)) {
		deadline = expires
	}
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

func expired(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}
