package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrDestroyed is returned when Destroy is called on an already destroyed descriptor.
var ErrDestroyed = errors.New("transport: already destroyed") //nolint:gochecknoglobals // sentinel error

// ErrNotConnected is returned by Send when the transport has no live connection.
var ErrNotConnected = errors.New("transport: not connected") //nolint:gochecknoglobals // sentinel error

// Result is what a dispatch reports back to the run loop.
type Result int

const (
	// ResultTerminate ends the session.
	ResultTerminate Result = iota
	// ResultFailure asks the run loop to fail over to the next transport.
	ResultFailure
)

func (r Result) String() string {
	if r == ResultTerminate {
		return "terminate"
	}
	return "failure"
}

// Directive tells a dispatching transport what to do after a packet was handled.
type Directive int

const (
	DirectiveContinue Directive = iota
	DirectiveTerminate
	DirectiveFailover
)

// RetryPolicy bounds connection attempts inside a single dispatch.
type RetryPolicy struct {
	Total int           // retries after the first attempt
	Wait  time.Duration // pause between attempts
}

// Timeouts holds per-transport timing.
type Timeouts struct {
	// Comms is the longest a live transport may go without a successful exchange.
	Comms time.Duration
}

// HTTPOptions carries the HTTP(S) specific fields of a transport record.
type HTTPOptions struct {
	UserAgent     string
	Proxy         string
	ProxyUser     string
	ProxyPassword string //nolint:gosec // G117: proxy credential config
	CertHash      []byte // SHA-256 of the expected leaf certificate
	Headers       map[string]string
}

// Spec is the configuration a descriptor is created from.
type Spec struct {
	URL      string
	Retry    RetryPolicy
	Timeouts Timeouts
	HTTP     HTTPOptions
}

// Host is the session-side view a transport serves while dispatching.
type Host interface {
	SessionID() uuid.UUID
	ExpiresAt() time.Time
	// Handle processes one inbound packet and returns the reply to send back.
	Handle(ctx context.Context, packet []byte) ([]byte, Directive)
}

// Transport is the per-kind behaviour. Dispatch and Destroy are mandatory.
type Transport interface {
	Dispatch(ctx context.Context, d *Descriptor, host Host) Result
	Destroy(d *Descriptor) error
}

// Initializer performs one-time setup before the first dispatch.
type Initializer interface {
	Init(ctx context.Context, d *Descriptor) error
}

// Deinitializer releases per-dispatch resources.
type Deinitializer interface {
	Deinit(d *Descriptor)
}

// Resetter restores a transport after a failed dispatch.
type Resetter interface {
	Reset(d *Descriptor)
}

// Sender pushes an unsolicited packet while dispatch is running.
type Sender interface {
	Send(ctx context.Context, d *Descriptor, packet []byte) error
}

// Descriptor describes one configured transport and owns its kind-specific context.
type Descriptor struct {
	ID   uuid.UUID
	Kind Kind
	URL  string

	// Lock is shared with the session record.
	Lock *sync.Mutex

	retry    RetryPolicy
	timeouts Timeouts
	impl     Transport

	ring      *Ring
	handle    Handle
	destroyed atomic.Bool
}

// NewDescriptor wraps impl in a descriptor. The descriptor gets a private lock
// until Share is called.
func NewDescriptor(kind Kind, spec Spec, impl Transport) *Descriptor {
	return &Descriptor{
		ID:       uuid.New(),
		Kind:     kind,
		URL:      spec.URL,
		Lock:     &sync.Mutex{},
		retry:    spec.Retry,
		timeouts: spec.Timeouts,
		impl:     impl,
	}
}

// Share replaces the descriptor lock with the session-wide one.
func (d *Descriptor) Share(lock *sync.Mutex) {
	d.Lock = lock
}

// Retry returns the current retry policy.
func (d *Descriptor) Retry() RetryPolicy {
	d.Lock.Lock()
	defer d.Lock.Unlock()
	return d.retry
}

// Timeouts returns the current timeouts.
func (d *Descriptor) Timeouts() Timeouts {
	d.Lock.Lock()
	defer d.Lock.Unlock()
	return d.timeouts
}

// SetPolicy updates retry and timeout settings. Zero values leave a field untouched.
func (d *Descriptor) SetPolicy(retry RetryPolicy, timeouts Timeouts) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if retry.Total > 0 {
		d.retry.Total = retry.Total
	}
	if retry.Wait > 0 {
		d.retry.Wait = retry.Wait
	}
	if timeouts.Comms > 0 {
		d.timeouts.Comms = timeouts.Comms
	}
}

// Impl returns the kind-specific behaviour.
func (d *Descriptor) Impl() Transport {
	return d.impl
}

// Member reports whether the descriptor currently belongs to a ring.
func (d *Descriptor) Member() bool {
	return d.ring != nil
}

// Destroyed reports whether Destroy has run.
func (d *Descriptor) Destroyed() bool {
	return d.destroyed.Load()
}

// Init runs the init hook if the kind has one.
func (d *Descriptor) Init(ctx context.Context) error {
	in, ok := d.impl.(Initializer)
	if !ok {
		return nil
	}
	if err := in.Init(ctx, d); err != nil {
		return fmt.Errorf("transport.Descriptor.Init(%s): %w", d.URL, err)
	}
	return nil
}

// Dispatch serves the session over this transport until it stops.
func (d *Descriptor) Dispatch(ctx context.Context, host Host) Result {
	return d.impl.Dispatch(ctx, d, host)
}

// Deinit runs the deinit hook if the kind has one.
func (d *Descriptor) Deinit() {
	if de, ok := d.impl.(Deinitializer); ok {
		de.Deinit(d)
	}
}

// Reset runs the reset hook if the kind has one.
func (d *Descriptor) Reset() {
	if r, ok := d.impl.(Resetter); ok {
		r.Reset(d)
	}
}

// Send forwards an unsolicited packet if the kind supports it.
func (d *Descriptor) Send(ctx context.Context, packet []byte) error {
	s, ok := d.impl.(Sender)
	if !ok {
		return fmt.Errorf("transport.Descriptor.Send(%s): %w", d.Kind, ErrNotConnected)
	}
	return s.Send(ctx, d, packet)
}

// Destroy releases the owned context. Only the first call reaches the kind.
func (d *Descriptor) Destroy() error {
	if !d.destroyed.CompareAndSwap(false, true) {
		return fmt.Errorf("transport.Descriptor.Destroy(%s): %w", d.ID, ErrDestroyed)
	}
	if err := d.impl.Destroy(d); err != nil {
		return fmt.Errorf("transport.Descriptor.Destroy(%s): %w", d.ID, err)
	}
	return nil
}

// Info is a read-only summary of a descriptor.
type Info struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	URL        string        `json:"url"`
	RetryTotal int           `json:"retry_total"`
	RetryWait  time.Duration `json:"retry_wait"`
	Comms      time.Duration `json:"comms_timeout"`
}

// Info summarises the descriptor.
func (d *Descriptor) Info() Info {
	retry, timeouts := d.Retry(), d.Timeouts()
	return Info{
		ID:         d.ID.String(),
		Kind:       d.Kind.String(),
		URL:        d.URL,
		RetryTotal: retry.Total,
		RetryWait:  retry.Wait,
		Comms:      timeouts.Comms,
	}
}
