package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/api/ws"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

type fakeSubscriber struct {
	mu         sync.Mutex
	subscribed []string
	ch         chan redisstore.Message
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ch: make(chan redisstore.Message, 4)}
}

func (f *fakeSubscriber) record(name string) (<-chan redisstore.Message, func(), error) {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, name)
	f.mu.Unlock()
	return f.ch, func() {}, nil
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channel string) (<-chan redisstore.Message, func(), error) {
	return f.record(channel)
}

func (f *fakeSubscriber) SubscribePattern(_ context.Context, pattern string) (<-chan redisstore.Message, func(), error) {
	return f.record(pattern)
}

func (f *fakeSubscriber) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestHub_ServeSession(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := newFakeSubscriber()
	srv := httptest.NewServer(ws.NewHub(sub).Routes())
	defer srv.Close()

	id := uuid.New()
	conn := dial(t, ctx, srv.URL+"/"+id.String())

	sub.ch <- redisstore.Message{Channel: redisstore.SessionChannel(id), Payload: []byte(`{"type":"failover"}`)}

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.JSONEq(t, `{"type":"failover"}`, string(data))
	assert.Equal(t, []string{redisstore.SessionChannel(id)}, sub.names())
}

func TestHub_ServeAll(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := newFakeSubscriber()
	srv := httptest.NewServer(ws.NewHub(sub).Routes())
	defer srv.Close()

	conn := dial(t, ctx, srv.URL+"/")
	sub.ch <- redisstore.Message{Channel: "agent:x", Payload: []byte(`{}`)}

	_, _, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{redisstore.AllSessions()}, sub.names())

	close(sub.ch)
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestHub_BadSessionID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(ws.NewHub(newFakeSubscriber()).Routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
