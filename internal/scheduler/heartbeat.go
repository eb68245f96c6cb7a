package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gosuda/tether/internal/command"
	"github.com/gosuda/tether/internal/session"
)

// HeartbeatName is the job name used for heartbeats.
const HeartbeatName = "heartbeat"

// Beat is the core_heartbeat notice body.
type Beat struct {
	SessionID string        `json:"session_id"`
	Transport string        `json:"transport,omitempty"`
	Remaining time.Duration `json:"remaining,omitempty"`
	Time      time.Time     `json:"time"`
}

// Heartbeat pushes a core_heartbeat notice through the active transport.
// Ticks with no transport dispatching are skipped.
func Heartbeat(ctx context.Context, rec *session.Record) error {
	now := time.Now()
	beat := Beat{
		SessionID: rec.ID.String(),
		Remaining: rec.Expiry().Remaining(now),
		Time:      now.UTC(),
	}
	if d := rec.Active(); d != nil {
		beat.Transport = d.URL
	}

	packet, err := command.NewNotice(command.MethodHeartbeat, beat)
	if err != nil {
		return fmt.Errorf("scheduler.Heartbeat: %w", err)
	}
	if err := rec.Send(ctx, packet); err != nil {
		if errors.Is(err, session.ErrNoActiveTransport) {
			return nil
		}
		return fmt.Errorf("scheduler.Heartbeat: %w", err)
	}
	return nil
}
