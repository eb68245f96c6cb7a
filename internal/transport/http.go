package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosuda/tether/internal/wire"
)

// SessionHeader carries the session ID on every HTTP exchange.
const SessionHeader = "X-Tether-Session"

// DefaultPollInterval paces HTTP polls while the controller has nothing queued.
const DefaultPollInterval = 500 * time.Millisecond

var (
	// ErrCertMismatch is returned when the server certificate does not match the pinned hash.
	ErrCertMismatch = errors.New("transport: certificate hash mismatch") //nolint:gochecknoglobals // sentinel error
	// ErrUnexpectedStatus is returned for non-2xx controller responses.
	ErrUnexpectedStatus = errors.New("transport: unexpected http status") //nolint:gochecknoglobals // sentinel error
)

// HTTP exchanges batches of frames with the controller through POST
// long-polling. Each POST carries queued replies; the response body carries
// the next requests, or nothing (204) when the controller is idle.
type HTTP struct {
	opts         HTTPOptions
	PollInterval time.Duration

	target  *url.URL
	client  *http.Client
	limiter *rate.Limiter

	// pending is guarded by the descriptor lock.
	pending [][]byte
}

// NewHTTP is the Factory for KindHTTP and KindHTTPS.
func NewHTTP(spec Spec) (Transport, error) {
	return &HTTP{
		opts:         spec.HTTP,
		PollInterval: DefaultPollInterval,
	}, nil
}

// Init validates the URL and builds the HTTP client.
func (h *HTTP) Init(_ context.Context, d *Descriptor) error {
	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("transport.HTTP.Init: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("transport.HTTP.Init(%q): missing host: %w", d.URL, ErrBadAddress)
	}

	client, err := newHTTPClient(h.opts)
	if err != nil {
		return fmt.Errorf("transport.HTTP.Init: %w", err)
	}

	if h.client != nil {
		h.client.CloseIdleConnections()
	}
	h.target = u
	h.client = client
	h.limiter = rate.NewLimiter(rate.Every(h.PollInterval), 1)
	return nil
}

// Dispatch polls the controller until the session ends or comms fail.
func (h *HTTP) Dispatch(ctx context.Context, d *Descriptor, host Host) Result {
	lastOK := time.Now()
	idle := false

	for {
		if ctx.Err() != nil {
			return ResultTerminate
		}

		now := time.Now()
		if expired(host.ExpiresAt(), now) {
			log.Info().Str("transport", d.URL).Msg("session expired")
			return ResultTerminate
		}
		if comms := d.Timeouts().Comms; comms > 0 && now.Sub(lastOK) > comms {
			log.Warn().Str("transport", d.URL).Dur("comms_timeout", comms).Msg("http comms timed out")
			return ResultFailure
		}

		if idle {
			if err := h.limiter.Wait(ctx); err != nil {
				return ResultTerminate
			}
		}

		requests, err := h.exchangeWithRetry(ctx, d, host)
		if err != nil {
			if ctx.Err() != nil {
				return ResultTerminate
			}
			log.Warn().Err(err).Str("transport", d.URL).Msg("http exchange failed")
			return ResultFailure
		}
		lastOK = time.Now()
		idle = len(requests) == 0

		for _, req := range requests {
			reply, directive := host.Handle(ctx, req)
			if reply != nil {
				h.enqueue(d, reply)
			}

			switch directive {
			case DirectiveTerminate:
				h.flush(ctx, d, host)
				return ResultTerminate
			case DirectiveFailover:
				h.flush(ctx, d, host)
				return ResultFailure
			case DirectiveContinue:
			}
		}
	}
}

// Deinit drops idle keep-alive connections.
func (h *HTTP) Deinit(_ *Descriptor) {
	if h.client != nil {
		h.client.CloseIdleConnections()
	}
}

// Reset restarts poll pacing for the next dispatch.
func (h *HTTP) Reset(_ *Descriptor) {
	h.limiter = rate.NewLimiter(rate.Every(h.PollInterval), 1)
}

// Send queues an unsolicited packet for the next poll.
func (h *HTTP) Send(_ context.Context, d *Descriptor, packet []byte) error {
	h.enqueue(d, packet)
	return nil
}

// Destroy releases the client and anything still queued.
func (h *HTTP) Destroy(d *Descriptor) error {
	if h.client != nil {
		h.client.CloseIdleConnections()
		h.client = nil
	}

	d.Lock.Lock()
	h.pending = nil
	d.Lock.Unlock()
	return nil
}

func (h *HTTP) enqueue(d *Descriptor, packet []byte) {
	d.Lock.Lock()
	defer d.Lock.Unlock()
	h.pending = append(h.pending, packet)
}

func (h *HTTP) take(d *Descriptor) [][]byte {
	d.Lock.Lock()
	defer d.Lock.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// requeue puts undelivered packets back in front of anything queued meanwhile.
func (h *HTTP) requeue(d *Descriptor, packets [][]byte) {
	if len(packets) == 0 {
		return
	}
	d.Lock.Lock()
	defer d.Lock.Unlock()
	h.pending = append(packets, h.pending...)
}

func (h *HTTP) exchangeWithRetry(ctx context.Context, d *Descriptor, host Host) ([][]byte, error) {
	outbound := h.take(d)
	body := wire.Join(outbound)

	var requests [][]byte
	err := withRetry(ctx, d, "exchange", func() error {
		var err error
		requests, err = h.exchange(ctx, d, host, body)
		return err
	})
	if err != nil {
		h.requeue(d, outbound)
		return nil, err
	}
	return requests, nil
}

// flush delivers queued replies once before the dispatch returns.
func (h *HTTP) flush(ctx context.Context, d *Descriptor, host Host) {
	outbound := h.take(d)
	if len(outbound) == 0 {
		return
	}
	if _, err := h.exchange(ctx, d, host, wire.Join(outbound)); err != nil {
		log.Debug().Err(err).Str("transport", d.URL).Msg("http final flush failed")
	}
}

func (h *HTTP) exchange(ctx context.Context, d *Descriptor, host Host, body []byte) ([][]byte, error) {
	if comms := d.Timeouts().Comms; comms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, comms)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport.HTTP.exchange: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(SessionHeader, host.SessionID().String())
	if h.opts.UserAgent != "" {
		req.Header.Set("User-Agent", h.opts.UserAgent)
	}
	for k, v := range h.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport.HTTP.exchange: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("transport.HTTP.exchange: %d: %w", resp.StatusCode, ErrUnexpectedStatus)
	}

	packets, err := wire.ReadAll(resp.Body, 0)
	if err != nil {
		return nil, fmt.Errorf("transport.HTTP.exchange: %w", err)
	}
	return packets, nil
}

// newHTTPClient builds a client honouring proxy settings and an optional
// certificate pin. With a pin, chain verification is replaced by the hash check.
func newHTTPClient(opts HTTPOptions) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy %q: %w", opts.Proxy, err)
		}
		if opts.ProxyUser != "" {
			proxyURL.User = url.UserPassword(opts.ProxyUser, opts.ProxyPassword)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	if len(opts.CertHash) > 0 {
		want := opts.CertHash
		tr.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // replaced by VerifyPeerCertificate pin check
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return ErrCertMismatch
				}
				sum := sha256.Sum256(rawCerts[0])
				if subtle.ConstantTimeCompare(sum[:], want) != 1 {
					return ErrCertMismatch
				}
				return nil
			},
		}
	}

	return &http.Client{Transport: tr}, nil
}
