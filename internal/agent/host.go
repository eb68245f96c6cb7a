package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/command"
	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

// Dispatcher turns a request packet into a reply and an action.
type Dispatcher interface {
	Handle(ctx context.Context, packet []byte) ([]byte, command.Action)
}

// Host joins a session record and its dispatch table into what transports serve.
type Host struct {
	rec   *session.Record
	table Dispatcher
}

var _ transport.Host = (*Host)(nil)

func NewHost(rec *session.Record, table Dispatcher) *Host {
	return &Host{rec: rec, table: table}
}

func (h *Host) SessionID() uuid.UUID { return h.rec.ID }

func (h *Host) ExpiresAt() time.Time { return h.rec.ExpiresAt() }

func (h *Host) Handle(ctx context.Context, packet []byte) ([]byte, transport.Directive) {
	reply, action := h.table.Handle(ctx, packet)
	return reply, action.Directive()
}
