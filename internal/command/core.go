package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

// ErrNoAlternative is reported when a failover is requested with a single transport.
var ErrNoAlternative = errors.New("command: no other transport to fail over to") //nolint:gochecknoglobals // sentinel error

// Core method names.
const (
	MethodPing             = "core_ping"
	MethodShutdown         = "core_shutdown"
	MethodSessionInfo      = "core_session_info"
	MethodTransportList    = "core_transport_list"
	MethodTransportNext    = "core_transport_next"
	MethodTransportTimeout = "core_transport_set_timeouts"
	MethodEnumCommands     = "core_enumextcmd"
	MethodHeartbeat        = "core_heartbeat"
)

// SessionInfo is the core_session_info result.
type SessionInfo struct {
	ID        string           `json:"id"`
	Start     time.Time        `json:"start"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Lifetime  time.Duration    `json:"lifetime"`
	Original  session.Identity `json:"original"`
	Current   session.Identity `json:"current"`
	Token     string           `json:"token,omitempty"`
}

// TransportList is the core_transport_list result.
type TransportList struct {
	SessionExpiry time.Duration    `json:"session_expiry"`
	Current       string           `json:"current,omitempty"`
	Transports    []transport.Info `json:"transports"`
}

// TimeoutArgs are the core_transport_set_timeouts arguments, in seconds.
// Zero leaves a value unchanged.
type TimeoutArgs struct {
	ExpirySecs    int `json:"expiry_secs,omitempty"`
	CommsSecs     int `json:"comms_secs,omitempty"`
	RetryTotal    int `json:"retry_total,omitempty"`
	RetryWaitSecs int `json:"retry_wait_secs,omitempty"`
}

func (t *Table) coreHandlers() map[string]Handler {
	return map[string]Handler{
		MethodPing:             t.ping,
		MethodShutdown:         t.shutdown,
		MethodSessionInfo:      t.sessionInfo,
		MethodTransportList:    t.transportList,
		MethodTransportNext:    t.transportNext,
		MethodTransportTimeout: t.setTimeouts,
		MethodEnumCommands:     t.enumCommands,
	}
}

func (t *Table) ping(_ context.Context, req Request) (any, Action, error) {
	if len(req.Args) > 0 {
		return req.Args, ActionContinue, nil
	}
	return map[string]time.Time{"pong": time.Now().UTC()}, ActionContinue, nil
}

func (t *Table) shutdown(context.Context, Request) (any, Action, error) {
	return map[string]bool{"ok": true}, ActionTerminate, nil
}

func (t *Table) sessionInfo(context.Context, Request) (any, Action, error) {
	info := SessionInfo{
		ID:       t.rec.ID.String(),
		Start:    t.rec.Expiry().Start(),
		Lifetime: t.rec.Expiry().Lifetime(),
		Original: t.rec.Identity().Original(),
		Current:  t.rec.Identity().Current(),
	}
	if end := t.rec.ExpiresAt(); !end.IsZero() {
		info.ExpiresAt = &end
	}
	if tok := t.rec.Token(); tok != nil {
		info.Token = tok.String()
	}
	return info, ActionContinue, nil
}

func (t *Table) transportList(context.Context, Request) (any, Action, error) {
	return t.list(), ActionContinue, nil
}

func (t *Table) list() TransportList {
	out := TransportList{
		SessionExpiry: t.rec.Expiry().Lifetime(),
		Transports:    t.rec.Transports(),
	}
	if cur := t.rec.Ring.Current(); cur != nil {
		out.Current = cur.ID.String()
	}
	return out
}

func (t *Table) transportNext(context.Context, Request) (any, Action, error) {
	if t.rec.Ring.Len() < 2 {
		return nil, ActionContinue, ErrNoAlternative
	}
	return map[string]bool{"ok": true}, ActionFailover, nil
}

func (t *Table) setTimeouts(_ context.Context, req Request) (any, Action, error) {
	var args TimeoutArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, ActionContinue, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	}

	if args.ExpirySecs > 0 {
		t.rec.Expiry().SetLifetime(time.Duration(args.ExpirySecs) * time.Second)
	}

	if d := t.rec.Ring.Current(); d != nil {
		d.SetPolicy(
			transport.RetryPolicy{Total: args.RetryTotal, Wait: time.Duration(args.RetryWaitSecs) * time.Second},
			transport.Timeouts{Comms: time.Duration(args.CommsSecs) * time.Second},
		)
	}

	return t.list(), ActionContinue, nil
}

func (t *Table) enumCommands(context.Context, Request) (any, Action, error) {
	return map[string][]string{"commands": t.Methods()}, ActionContinue, nil
}
