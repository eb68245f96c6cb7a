package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/transport"
)

type hookedTransport struct {
	initErr  error
	inits    int
	deinits  int
	resets   int
	destroys int
}

func (h *hookedTransport) Init(context.Context, *transport.Descriptor) error {
	h.inits++
	return h.initErr
}
func (h *hookedTransport) Dispatch(context.Context, *transport.Descriptor, transport.Host) transport.Result {
	return transport.ResultFailure
}
func (h *hookedTransport) Deinit(*transport.Descriptor) { h.deinits++ }
func (h *hookedTransport) Reset(*transport.Descriptor)  { h.resets++ }
func (h *hookedTransport) Destroy(*transport.Descriptor) error {
	h.destroys++
	return nil
}

func TestDescriptor_Hooks(t *testing.T) {
	t.Parallel()

	t.Run("present hooks are forwarded", func(t *testing.T) {
		t.Parallel()

		impl := &hookedTransport{}
		d := transport.NewDescriptor(transport.KindTCP, transport.Spec{URL: "tcp://a:1"}, impl)

		require.NoError(t, d.Init(context.Background()))
		assert.Equal(t, transport.ResultFailure, d.Dispatch(context.Background(), nil))
		d.Deinit()
		d.Reset()

		assert.Equal(t, 1, impl.inits)
		assert.Equal(t, 1, impl.deinits)
		assert.Equal(t, 1, impl.resets)
	})

	t.Run("absent hooks are no-ops", func(t *testing.T) {
		t.Parallel()

		d := newDesc("tcp://a:1")

		require.NoError(t, d.Init(context.Background()))
		d.Deinit()
		d.Reset()
		assert.ErrorIs(t, d.Send(context.Background(), []byte("x")), transport.ErrNotConnected)
	})

	t.Run("init error is wrapped", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		d := transport.NewDescriptor(transport.KindTCP, transport.Spec{URL: "tcp://a:1"}, &hookedTransport{initErr: boom})

		err := d.Init(context.Background())
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "tcp://a:1")
	})
}

func TestDescriptor_DestroyOnce(t *testing.T) {
	t.Parallel()

	impl := &hookedTransport{}
	d := transport.NewDescriptor(transport.KindTCP, transport.Spec{URL: "tcp://a:1"}, impl)

	require.NoError(t, d.Destroy())
	assert.True(t, d.Destroyed())
	require.ErrorIs(t, d.Destroy(), transport.ErrDestroyed)
	assert.Equal(t, 1, impl.destroys)
}

func TestDescriptor_Policy(t *testing.T) {
	t.Parallel()

	d := transport.NewDescriptor(transport.KindTCP, transport.Spec{
		URL:      "tcp://a:1",
		Retry:    transport.RetryPolicy{Total: 3, Wait: time.Second},
		Timeouts: transport.Timeouts{Comms: time.Minute},
	}, nopTransport{})

	shared := &sync.Mutex{}
	d.Share(shared)
	assert.Same(t, shared, d.Lock)

	d.SetPolicy(transport.RetryPolicy{Wait: 2 * time.Second}, transport.Timeouts{})

	assert.Equal(t, transport.RetryPolicy{Total: 3, Wait: 2 * time.Second}, d.Retry())
	assert.Equal(t, time.Minute, d.Timeouts().Comms)
}

func TestKindFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		want    transport.Kind
		wantErr bool
	}{
		{url: "tcp://10.0.0.1:4444", want: transport.KindTCP},
		{url: "http://example.com/poll", want: transport.KindHTTP},
		{url: "HTTPS://example.com/poll", want: transport.KindHTTPS},
		{url: "ws://example.com/ws", want: transport.KindWebSocket},
		{url: "wss://example.com/ws", want: transport.KindWebSocketTLS},
		{url: "udp://example.com:53", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			t.Parallel()

			got, err := transport.KindFromURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("default kinds", func(t *testing.T) {
		t.Parallel()

		reg := transport.NewDefaultRegistry()
		assert.Equal(t, []string{"http", "https", "tcp", "ws", "wss"}, reg.Available())

		d, err := reg.Create(transport.Spec{URL: "https://example.com/"})
		require.NoError(t, err)
		assert.Equal(t, transport.KindHTTPS, d.Kind)
		assert.IsType(t, &transport.HTTP{}, d.Impl())
	})

	t.Run("missing factory", func(t *testing.T) {
		t.Parallel()

		_, err := transport.NewRegistry().Create(transport.Spec{URL: "tcp://a:1"})
		assert.ErrorIs(t, err, transport.ErrNoFactory)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		t.Parallel()

		_, err := transport.NewDefaultRegistry().Create(transport.Spec{URL: "ftp://a"})
		assert.ErrorIs(t, err, transport.ErrUnknownKind)
	})

	t.Run("factory error", func(t *testing.T) {
		t.Parallel()

		reg := transport.NewRegistry()
		reg.Register(transport.KindTCP, func(transport.Spec) (transport.Transport, error) {
			return nil, errors.New("factory boom")
		})

		_, err := reg.Create(transport.Spec{URL: "tcp://a:1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "factory boom")
	})
}
