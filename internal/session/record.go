package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/transport"
)

var (
	// ErrAllocation is returned when a record cannot be built from its options.
	ErrAllocation = errors.New("session: cannot allocate record") //nolint:gochecknoglobals // sentinel error
	// ErrTransportsAlive is returned by Close when transports were still in the ring.
	ErrTransportsAlive = errors.New("session: transports outlived the session") //nolint:gochecknoglobals // sentinel error
	// ErrNoActiveTransport is returned by Send when no transport is dispatching.
	ErrNoActiveTransport = errors.New("session: no active transport") //nolint:gochecknoglobals // sentinel error
	// ErrClosed is returned by Close after the first call.
	ErrClosed = errors.New("session: already closed") //nolint:gochecknoglobals // sentinel error
)

// Options configures a new Record.
type Options struct {
	ID       uuid.UUID
	Lifetime time.Duration
	Thread   *Thread
	Token    Token
	Identity Identity
	Now      func() time.Time
}

// Record is the long-lived state of one agent session. It owns the transport
// ring; transports are added through AddTransport so they share its lock.
type Record struct {
	ID     uuid.UUID
	Lock   *sync.Mutex
	Ring   *transport.Ring
	Thread *Thread

	expiry   *Expiry
	identity *IdentitySnapshot
	now      func() time.Time

	tokenMu sync.RWMutex
	token   Token

	active atomic.Pointer[transport.Descriptor]
	closed atomic.Bool
}

// New allocates a record. The thread handle is mandatory.
func New(opts Options) (*Record, error) {
	if opts.Thread == nil {
		return nil, fmt.Errorf("session.New: nil thread: %w", ErrAllocation)
	}
	if opts.Lifetime < 0 {
		return nil, fmt.Errorf("session.New: negative lifetime %s: %w", opts.Lifetime, ErrAllocation)
	}

	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Record{
		ID:       id,
		Lock:     &sync.Mutex{},
		Ring:     transport.NewRing(),
		Thread:   opts.Thread,
		expiry:   newExpiry(now(), opts.Lifetime),
		identity: NewIdentitySnapshot(opts.Identity),
		now:      now,
		token:    opts.Token,
	}, nil
}

// SessionID returns the record ID.
func (r *Record) SessionID() uuid.UUID {
	return r.ID
}

// Expiry returns the expiry clock.
func (r *Record) Expiry() *Expiry {
	return r.expiry
}

// ExpiresAt returns the absolute expiry instant, zero if unbounded.
func (r *Record) ExpiresAt() time.Time {
	return r.expiry.End()
}

// Expired reports whether the session lifetime is used up.
func (r *Record) Expired() bool {
	return r.expiry.Expired(r.now())
}

// Identity returns the identity snapshot.
func (r *Record) Identity() *IdentitySnapshot {
	return r.identity
}

// Token returns the stored permission context.
func (r *Record) Token() Token {
	r.tokenMu.RLock()
	defer r.tokenMu.RUnlock()
	return r.token
}

// SetToken replaces the stored permission context.
func (r *Record) SetToken(t Token) {
	r.tokenMu.Lock()
	defer r.tokenMu.Unlock()
	r.token = t
}

// AddTransport shares the record lock with d and appends it to the ring.
func (r *Record) AddTransport(d *transport.Descriptor) error {
	d.Share(r.Lock)
	if _, err := r.Ring.Append(d); err != nil {
		return fmt.Errorf("session.Record.AddTransport: %w", err)
	}
	return nil
}

// Transports lists ring members starting from the current one.
func (r *Record) Transports() []transport.Info {
	infos := make([]transport.Info, 0, r.Ring.Len())
	for d := range r.Ring.All() {
		infos = append(infos, d.Info())
	}
	return infos
}

// SetActive marks d as the transport currently dispatching; nil clears it.
func (r *Record) SetActive(d *transport.Descriptor) {
	r.active.Store(d)
}

// Active returns the transport currently dispatching, if any.
func (r *Record) Active() *transport.Descriptor {
	return r.active.Load()
}

// Send pushes an unsolicited packet through the dispatching transport.
func (r *Record) Send(ctx context.Context, packet []byte) error {
	d := r.active.Load()
	if d == nil {
		return fmt.Errorf("session.Record.Send: %w", ErrNoActiveTransport)
	}
	if err := d.Send(ctx, packet); err != nil {
		return fmt.Errorf("session.Record.Send: %w", err)
	}
	return nil
}

// Close tears the record down exactly once. Any transport still in the ring is
// destroyed and reported through ErrTransportsAlive.
func (r *Record) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("session.Record.Close(%s): %w", r.ID, ErrClosed)
	}

	var leaked int
	r.Ring.Drain(func(d *transport.Descriptor) {
		leaked++
		if err := d.Destroy(); err != nil {
			log.Warn().Err(err).Str("transport", d.URL).Msg("destroying leaked transport")
		}
	})
	r.active.Store(nil)
	r.Thread.Close()

	if leaked > 0 {
		return fmt.Errorf("session.Record.Close(%s): %d left: %w", r.ID, leaked, ErrTransportsAlive)
	}
	return nil
}

// Closed reports whether Close has run.
func (r *Record) Closed() bool {
	return r.closed.Load()
}
