package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/event"
	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

// scripted plays back a fixed sequence of dispatch results. The last result
// repeats once the script runs out.
type scripted struct {
	name    string
	initErr error
	results []transport.Result
	panics  bool

	// onDispatch runs at the start of every dispatch.
	onDispatch func(s *scripted)
	// log is shared between transports to record dispatch order.
	log *[]string

	inits, dispatches, deinits, resets, destroys int
}

func (s *scripted) Init(context.Context, *transport.Descriptor) error {
	s.inits++
	return s.initErr
}

func (s *scripted) Dispatch(ctx context.Context, _ *transport.Descriptor, _ transport.Host) transport.Result {
	s.dispatches++
	if s.log != nil {
		*s.log = append(*s.log, s.name)
	}
	if s.onDispatch != nil {
		s.onDispatch(s)
	}
	if s.panics {
		panic("dispatch exploded")
	}
	if len(s.results) == 0 {
		return transport.ResultTerminate
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r
}

func (s *scripted) Deinit(*transport.Descriptor) { s.deinits++ }
func (s *scripted) Reset(*transport.Descriptor)  { s.resets++ }
func (s *scripted) Destroy(*transport.Descriptor) error {
	s.destroys++
	return nil
}

type nopHost struct{}

func (nopHost) SessionID() uuid.UUID { return uuid.Nil }
func (nopHost) ExpiresAt() time.Time { return time.Time{} }
func (nopHost) Handle(context.Context, []byte) ([]byte, transport.Directive) {
	return nil, transport.DirectiveContinue
}

func newSession(t *testing.T, scripts ...*scripted) *session.Record {
	t.Helper()

	rec, err := session.New(session.Options{Thread: session.OpenThread(context.Background())})
	require.NoError(t, err)
	t.Cleanup(func() { rec.Thread.Close() })

	for _, s := range scripts {
		d := transport.NewDescriptor(transport.KindTCP, transport.Spec{URL: "tcp://" + s.name + ":1"}, s)
		require.NoError(t, rec.AddTransport(d))
	}
	return rec
}

func TestRunLoop_InitFailureRemoves(t *testing.T) {
	t.Parallel()

	a := &scripted{name: "a", initErr: errors.New("unparseable")}
	b := &scripted{name: "b", results: []transport.Result{transport.ResultTerminate}}
	rec := newSession(t, a, b)
	sink := event.NewRecorder(32)

	b.onDispatch = func(*scripted) {
		assert.Equal(t, 1, rec.Ring.Len(), "a is gone before b dispatches")
		assert.Equal(t, 1, a.destroys)
	}

	outcome := agent.RunLoop(context.Background(), rec, nopHost{}, sink)

	assert.Equal(t, agent.OutcomeTerminated, outcome)
	assert.Zero(t, a.dispatches)
	assert.Equal(t, 1, b.dispatches)
	assert.Equal(t, 1, b.deinits)
	assert.Zero(t, b.resets)
	assert.Equal(t, 1, a.destroys)
	assert.Equal(t, 1, b.destroys)
	assert.True(t, rec.Ring.Empty())

	assert.Equal(t, []event.Type{
		event.TransportInitFailed,
		event.TransportInit,
		event.DispatchStart,
		event.DispatchEnd,
		event.Shutdown,
	}, sink.Types())
}

func TestRunLoop_DispatchFailureCycles(t *testing.T) {
	t.Parallel()

	var order []string
	a := &scripted{name: "a", log: &order, results: []transport.Result{transport.ResultFailure, transport.ResultTerminate}}
	b := &scripted{name: "b", log: &order, results: []transport.Result{transport.ResultFailure}}
	rec := newSession(t, a, b)

	a.onDispatch = func(*scripted) {
		assert.Equal(t, 2, rec.Ring.Len(), "failed transports stay in the ring")
		assert.Zero(t, a.destroys+b.destroys)
		assert.Same(t, rec.Ring.Current(), rec.Active())
	}

	outcome := agent.RunLoop(context.Background(), rec, nopHost{}, nil)

	assert.Equal(t, agent.OutcomeTerminated, outcome)
	assert.Equal(t, []string{"a", "b", "a"}, order)
	assert.Equal(t, 2, a.inits)
	assert.Equal(t, 1, b.inits)
	assert.Equal(t, 2, a.deinits)
	assert.Equal(t, 1, a.resets)
	assert.Equal(t, 1, b.resets)
	assert.Equal(t, 1, a.destroys)
	assert.Equal(t, 1, b.destroys)
	assert.True(t, rec.Ring.Empty())
	assert.Nil(t, rec.Active())
}

func TestRunLoop_FullExhaustion(t *testing.T) {
	t.Parallel()

	a := &scripted{name: "a", initErr: errors.New("a")}
	b := &scripted{name: "b", initErr: errors.New("b")}
	rec := newSession(t, a, b)

	outcome := agent.RunLoop(context.Background(), rec, nopHost{}, event.Discard{})

	assert.Equal(t, agent.OutcomeExhausted, outcome)
	assert.Zero(t, a.dispatches+b.dispatches)
	assert.Equal(t, 1, a.destroys)
	assert.Equal(t, 1, b.destroys)
	assert.True(t, rec.Ring.Empty())
}

func TestRunLoop_EmptyRing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, agent.OutcomeExhausted, agent.RunLoop(context.Background(), newSession(t), nopHost{}, nil))
}

func TestRunLoop_TerminateLeavesOthersUntried(t *testing.T) {
	t.Parallel()

	a := &scripted{name: "a"}
	b := &scripted{name: "b"}
	c := &scripted{name: "c"}
	rec := newSession(t, a, b, c)

	assert.Equal(t, agent.OutcomeTerminated, agent.RunLoop(context.Background(), rec, nopHost{}, nil))
	assert.Zero(t, b.inits+c.inits)
	for _, s := range []*scripted{a, b, c} {
		assert.Equal(t, 1, s.destroys, s.name)
	}
}

func TestRunLoop_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	a := &scripted{name: "a", results: []transport.Result{transport.ResultFailure}}
	b := &scripted{name: "b", results: []transport.Result{transport.ResultFailure}}
	b.onDispatch = func(s *scripted) {
		if s.dispatches == 3 {
			cancel()
		}
	}
	rec := newSession(t, a, b)

	outcome := agent.RunLoop(ctx, rec, nopHost{}, nil)

	assert.Equal(t, agent.OutcomeCancelled, outcome)
	assert.Equal(t, 3, a.dispatches)
	assert.Equal(t, 3, b.dispatches)
	assert.Equal(t, 1, a.destroys)
	assert.Equal(t, 1, b.destroys)
}

func TestBarrier_ContainsDispatchFault(t *testing.T) {
	t.Parallel()

	a := &scripted{name: "a", panics: true}
	b := &scripted{name: "b"}
	rec := newSession(t, a, b)
	sink := event.NewRecorder(32)
	barrier := &agent.Barrier{Sink: sink, SessionID: rec.ID}

	var code agent.ExitCode
	require.NotPanics(t, func() {
		code = barrier.Run(rec.Thread, func() agent.ExitCode {
			agent.RunLoop(rec.Thread.Context(), rec, nopHost{}, sink)
			return agent.ExitSuccess
		})
	})

	assert.Equal(t, agent.ExitFault, code)
	assert.True(t, rec.Thread.Killed())
	require.Error(t, rec.Thread.Context().Err())
	assert.Equal(t, 1, a.destroys, "drain runs while the fault unwinds")
	assert.Equal(t, 1, b.destroys)
	assert.True(t, rec.Ring.Empty())

	types := sink.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, event.Fault, types[len(types)-1])
}

func TestBarrier_PassesThrough(t *testing.T) {
	t.Parallel()

	thread := session.OpenThread(context.Background())
	defer thread.Close()

	code := (&agent.Barrier{}).Run(thread, func() agent.ExitCode { return agent.ExitNoTransports })
	assert.Equal(t, agent.ExitNoTransports, code)
	assert.False(t, thread.Killed())
}

func TestBarrier_PanickingSink(t *testing.T) {
	t.Parallel()

	thread := session.OpenThread(context.Background())
	sink := event.SinkFunc(func(context.Context, event.Event) { panic("sink") })

	var code agent.ExitCode
	require.NotPanics(t, func() {
		code = (&agent.Barrier{Sink: sink}).Run(thread, func() agent.ExitCode { panic("boom") })
	})
	assert.Equal(t, agent.ExitFault, code)
	assert.True(t, thread.Killed())
}
