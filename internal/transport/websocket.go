package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/wire"
)

// WebSocket carries one packet per binary message.
type WebSocket struct {
	opts   HTTPOptions
	target string
	client *http.Client

	// conn is written by the dispatching goroutine under the descriptor lock.
	conn *websocket.Conn
}

// NewWebSocket is the Factory for KindWebSocket and KindWebSocketTLS.
func NewWebSocket(spec Spec) (Transport, error) {
	return &WebSocket{opts: spec.HTTP}, nil
}

// Init validates the URL and prepares the handshake client.
func (w *WebSocket) Init(_ context.Context, d *Descriptor) error {
	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("transport.WebSocket.Init: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("transport.WebSocket.Init(%q): missing host: %w", d.URL, ErrBadAddress)
	}

	client, err := newHTTPClient(w.opts)
	if err != nil {
		return fmt.Errorf("transport.WebSocket.Init: %w", err)
	}

	w.target = u.String()
	w.client = client
	return nil
}

// Dispatch dials the controller and serves messages until the session ends or the link fails.
func (w *WebSocket) Dispatch(ctx context.Context, d *Descriptor, host Host) Result {
	header := http.Header{}
	header.Set(SessionHeader, host.SessionID().String())
	if w.opts.UserAgent != "" {
		header.Set("User-Agent", w.opts.UserAgent)
	}
	for k, v := range w.opts.Headers {
		header.Set(k, v)
	}

	var conn *websocket.Conn
	err := withRetry(ctx, d, "connect", func() error {
		c, resp, err := websocket.Dial(ctx, w.target, &websocket.DialOptions{
			HTTPClient: w.client,
			HTTPHeader: header,
		})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ResultTerminate
		}
		log.Warn().Err(err).Str("transport", d.URL).Msg("websocket connect failed")
		return ResultFailure
	}
	conn.SetReadLimit(wire.MaxFrameSize)

	d.Lock.Lock()
	w.conn = conn
	d.Lock.Unlock()

	return serveStream(ctx, d, host, wsStream{conn: conn})
}

// Deinit drops the connection used by the last dispatch.
func (w *WebSocket) Deinit(d *Descriptor) {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if w.conn != nil {
		_ = w.conn.CloseNow()
		w.conn = nil
	}
}

// Send writes an unsolicited message to the live connection.
func (w *WebSocket) Send(ctx context.Context, d *Descriptor, packet []byte) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if w.conn == nil {
		return fmt.Errorf("transport.WebSocket.Send: %w", ErrNotConnected)
	}
	if err := w.conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
		return fmt.Errorf("transport.WebSocket.Send: %w", err)
	}
	return nil
}

// Destroy closes whatever is left.
func (w *WebSocket) Destroy(d *Descriptor) error {
	d.Lock.Lock()
	defer d.Lock.Unlock()

	if w.conn != nil {
		_ = w.conn.CloseNow()
		w.conn = nil
	}
	if w.client != nil {
		w.client.CloseIdleConnections()
		w.client = nil
	}
	return nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s wsStream) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s wsStream) Write(ctx context.Context, packet []byte) error {
	return s.conn.Write(ctx, websocket.MessageBinary, packet)
}
