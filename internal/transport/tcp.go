package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/wire"
)

// ErrBadAddress is returned by Init when a transport URL cannot be used.
var ErrBadAddress = errors.New("transport: bad address") //nolint:gochecknoglobals // sentinel error

// TCP carries length-prefixed frames over a TCP stream. A URL without a host
// (tcp://:4444) listens and accepts a single controller connection instead.
type TCP struct {
	addr   string
	listen bool
	dialer net.Dialer

	// conn is written by the dispatching goroutine under the descriptor lock.
	conn net.Conn
}

// NewTCP is the Factory for KindTCP.
func NewTCP(_ Spec) (Transport, error) {
	return &TCP{}, nil
}

// Adopt hands an already connected stream to the transport; the next dispatch
// uses it instead of dialing.
func (t *TCP) Adopt(conn net.Conn) {
	t.conn = conn
}

// Init validates the address. An adopted connection needs no address.
func (t *TCP) Init(_ context.Context, d *Descriptor) error {
	d.Lock.Lock()
	adopted := t.conn != nil
	d.Lock.Unlock()
	if adopted {
		return nil
	}

	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("transport.TCP.Init: %w", err)
	}
	if u.Port() == "" {
		return fmt.Errorf("transport.TCP.Init(%q): missing port: %w", d.URL, ErrBadAddress)
	}

	t.addr = u.Host
	t.listen = u.Hostname() == ""
	return nil
}

// Dispatch connects (or accepts) and serves frames until the session ends or the link fails.
func (t *TCP) Dispatch(ctx context.Context, d *Descriptor, host Host) Result {
	conn, err := t.connect(ctx, d)
	if err != nil {
		if ctx.Err() != nil {
			return ResultTerminate
		}
		log.Warn().Err(err).Str("transport", d.URL).Msg("tcp connect failed")
		return ResultFailure
	}

	d.Lock.Lock()
	t.conn = conn
	d.Lock.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	return serveStream(ctx, d, host, tcpStream{conn: conn})
}

// Deinit closes the connection used by the last dispatch.
func (t *TCP) Deinit(d *Descriptor) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Reset forgets any adopted connection so the next dispatch dials afresh.
func (t *TCP) Reset(d *Descriptor) {
	d.Lock.Lock()
	defer d.Lock.Unlock()
	t.conn = nil
}

// Send writes an unsolicited frame to the live connection.
func (t *TCP) Send(_ context.Context, d *Descriptor, packet []byte) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if t.conn == nil {
		return fmt.Errorf("transport.TCP.Send: %w", ErrNotConnected)
	}
	if err := wire.WriteFrame(t.conn, packet); err != nil {
		return fmt.Errorf("transport.TCP.Send: %w", err)
	}
	return nil
}

// Destroy closes whatever connection is left.
func (t *TCP) Destroy(d *Descriptor) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport.TCP.Destroy: %w", err)
	}
	return nil
}

func (t *TCP) connect(ctx context.Context, d *Descriptor) (net.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	var conn net.Conn
	op := func() error {
		var err error
		if t.listen {
			conn, err = t.acceptOnce(ctx, d)
		} else {
			conn, err = t.dialer.DialContext(ctx, "tcp", t.addr)
		}
		return err
	}
	if err := withRetry(ctx, d, "connect", op); err != nil {
		return nil, fmt.Errorf("transport.TCP.connect(%s): %w", t.addr, err)
	}
	return conn, nil
}

func (t *TCP) acceptOnce(ctx context.Context, d *Descriptor) (net.Conn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	if comms := d.Timeouts().Comms; comms > 0 {
		if tl, ok := ln.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(comms))
		}
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("tcp transport waiting for controller")
	return ln.Accept()
}

type tcpStream struct {
	conn net.Conn
}

func (s tcpStream) Read(ctx context.Context) ([]byte, error) {
	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return wire.ReadFrame(s.conn, 0)
}

func (s tcpStream) Write(_ context.Context, packet []byte) error {
	return wire.WriteFrame(s.conn, packet)
}
