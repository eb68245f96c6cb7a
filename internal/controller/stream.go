package controller

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/wire"
)

type link interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, packet []byte) error
}

// serve pumps queued requests into l and delivers what comes back until
// either side stops.
func (c *Controller) serve(ctx context.Context, l link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		for {
			packet, err := l.read(ctx)
			if err != nil {
				errc <- err
				cancel()
				return
			}
			c.deliver(packet)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			select {
			case err := <-errc:
				return err
			default:
				return ctx.Err()
			}
		case data := <-c.outbox:
			if err := l.write(ctx, data); err != nil {
				return fmt.Errorf("controller.serve: write: %w", err)
			}
		}
	}
}

// ServeConn serves one framed TCP connection.
func (c *Controller) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("agent link up")
	err := c.serve(ctx, tcpLink{conn: conn})
	log.Info().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("agent link down")
	return err
}

// ServeTCP accepts agents on ln until ctx ends.
func (c *Controller) ServeTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("controller.ServeTCP: %w", err)
		}
		go func() {
			_ = c.ServeConn(ctx, conn)
		}()
	}
}

// DialTCP connects to an agent listening in bind mode and serves it.
func (c *Controller) DialTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("controller.DialTCP(%s): %w", addr, err)
	}
	return c.ServeConn(ctx, conn)
}

type tcpLink struct {
	conn net.Conn
}

func (l tcpLink) read(context.Context) ([]byte, error) {
	return wire.ReadFrame(l.conn, 0)
}

func (l tcpLink) write(_ context.Context, packet []byte) error {
	return wire.WriteFrame(l.conn, packet)
}

type wsLink struct {
	conn *websocket.Conn
}

func (l wsLink) read(ctx context.Context) ([]byte, error) {
	_, data, err := l.conn.Read(ctx)
	return data, err
}

func (l wsLink) write(ctx context.Context, packet []byte) error {
	return l.conn.Write(ctx, websocket.MessageBinary, packet)
}
