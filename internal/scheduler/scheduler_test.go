package scheduler_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/command"
	"github.com/gosuda/tether/internal/scheduler"
	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

type sinkTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *sinkTransport) Dispatch(context.Context, *transport.Descriptor, transport.Host) transport.Result {
	return transport.ResultTerminate
}
func (s *sinkTransport) Destroy(*transport.Descriptor) error { return nil }
func (s *sinkTransport) Send(_ context.Context, _ *transport.Descriptor, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	return nil
}

func newRecord(t *testing.T) *session.Record {
	t.Helper()

	rec, err := session.New(session.Options{
		Lifetime: time.Hour,
		Thread:   session.OpenThread(context.Background()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rec.Thread.Close() })
	return rec
}

func TestScheduler_Add(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	nop := func(context.Context, *session.Record) error { return nil }

	require.ErrorIs(t, s.Add("zero", 0, nop), scheduler.ErrInterval)
	require.NoError(t, s.Add("ok", time.Second, nop))

	require.NoError(t, s.Initialize(context.Background(), newRecord(t)))
	t.Cleanup(func() { _ = s.Destroy() })

	assert.ErrorIs(t, s.Add("late", time.Second, nop), scheduler.ErrRunning)
	assert.ErrorIs(t, s.Initialize(context.Background(), newRecord(t)), scheduler.ErrRunning)
}

func TestScheduler_RunAndDestroy(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	s := scheduler.New()
	require.NoError(t, s.Add("count", 5*time.Millisecond, func(context.Context, *session.Record) error {
		ticks.Add(1)
		return nil
	}))

	require.NoError(t, s.Initialize(context.Background(), newRecord(t)))
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Destroy())
	assert.False(t, s.Running())

	stopped := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load(), "no ticks after Destroy returned")

	assert.NoError(t, s.Destroy(), "second destroy is a no-op")
}

func TestHeartbeat(t *testing.T) {
	t.Parallel()

	t.Run("no active transport is skipped", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, scheduler.Heartbeat(context.Background(), newRecord(t)))
	})

	t.Run("sent through the active transport", func(t *testing.T) {
		t.Parallel()

		rec := newRecord(t)
		sink := &sinkTransport{}
		d := transport.NewDescriptor(transport.KindTCP, transport.Spec{URL: "tcp://a:1"}, sink)
		require.NoError(t, rec.AddTransport(d))
		rec.SetActive(d)

		require.NoError(t, scheduler.Heartbeat(context.Background(), rec))

		require.Len(t, sink.sent, 1)
		var resp command.Response
		require.NoError(t, json.Unmarshal(sink.sent[0], &resp))
		assert.Equal(t, command.MethodHeartbeat, resp.Method)

		var beat scheduler.Beat
		require.NoError(t, json.Unmarshal(resp.Result, &beat))
		assert.Equal(t, rec.ID.String(), beat.SessionID)
		assert.Equal(t, "tcp://a:1", beat.Transport)
		assert.Positive(t, beat.Remaining)
	})
}
