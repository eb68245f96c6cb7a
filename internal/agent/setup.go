package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/command"
	"github.com/gosuda/tether/internal/configblock"
	"github.com/gosuda/tether/internal/event"
	"github.com/gosuda/tether/internal/extension"
	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

// ErrBadHandle is returned when the comms handle in the block is not a usable socket.
var ErrBadHandle = errors.New("agent: bad comms handle") //nolint:gochecknoglobals // sentinel error

// Scheduler runs background jobs for the length of a session.
type Scheduler interface {
	Initialize(ctx context.Context, rec *session.Record) error
	Destroy() error
}

// Options configures Setup. Only Block is required.
type Options struct {
	Block      []byte
	Transports *transport.Registry
	Extensions *extension.Registry
	Scheduler  Scheduler
	Sink       event.Sink

	// Adopt turns the block's comms handle into a connection.
	Adopt func(handle uint64) (net.Conn, error)
	Now   func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Transports == nil {
		o.Transports = transport.NewDefaultRegistry()
	}
	if o.Extensions == nil {
		o.Extensions = extension.NewDefaultRegistry()
	}
	if o.Scheduler == nil {
		o.Scheduler = noScheduler{}
	}
	if o.Sink == nil {
		o.Sink = event.LogSink{}
	}
	if o.Adopt == nil {
		o.Adopt = adoptFD
	}
	return o
}

// Setup brings a session up from a configuration block, runs it to the end
// and tears it down. Everything runs inside a fault barrier.
func Setup(ctx context.Context, opts Options) ExitCode {
	opts = opts.withDefaults()

	thread := session.OpenThread(ctx)
	barrier := &Barrier{Sink: opts.Sink}

	code := barrier.Run(thread, func() ExitCode {
		return run(thread, barrier, opts)
	})

	log.Info().Str("exit", code.String()).Int("code", int(code)).Msg("agent finished")
	return code
}

func run(thread *session.Thread, barrier *Barrier, opts Options) ExitCode {
	ctx := thread.Context()

	// 1. Allocate the session record.
	rec, err := session.New(session.Options{Thread: thread, Now: opts.Now})
	if err != nil {
		log.Error().Err(err).Msg("allocating session")
		thread.Close()
		return ExitNotEnoughMemory
	}
	barrier.SessionID = rec.ID

	// 2. Parse the block into the transport ring.
	cfg, err := configblock.Parse(opts.Block)
	if err != nil {
		log.Error().Err(err).Msg("parsing configuration block")
		abort(rec)
		return ExitBadArguments
	}
	if cfg.Session.ID != uuid.Nil {
		rec.ID = cfg.Session.ID
		barrier.SessionID = rec.ID
	}
	rec.Expiry().SetLifetime(cfg.Session.Expiry)

	for i, spec := range cfg.Transports {
		d, err := opts.Transports.Create(spec)
		if err == nil {
			err = rec.AddTransport(d)
		}
		if err != nil {
			log.Error().Err(err).Int("index", i).Str("url", spec.URL).Msg("creating transport")
			abort(rec)
			return ExitBadArguments
		}
	}

	// 3. Hand a pre-connected socket to the first transport.
	if cfg.Session.CommsHandle != 0 {
		if err := adoptComms(rec, cfg.Session.CommsHandle, opts.Adopt); err != nil {
			log.Warn().Err(err).Uint64("handle", cfg.Session.CommsHandle).Msg("comms handle not adopted")
		}
	}

	emit(ctx, opts.Sink, rec, nil, event.SessionStart, "", fmt.Sprintf("%d transports", rec.Ring.Len()))
	log.Info().
		Str("session_id", rec.ID.String()).
		Int("transports", rec.Ring.Len()).
		Dur("expiry", cfg.Session.Expiry).
		Msg("session starting")

	// 4. Load the stageless extensions that follow the block.
	table := command.NewTable(rec)
	loadExtensions(ctx, rec, table, opts, cfg.Consumed)

	// 5. Remember the permission context.
	rec.SetToken(session.CurrentToken())

	// 6. Start background jobs.
	if err := opts.Scheduler.Initialize(ctx, rec); err != nil {
		log.Error().Err(err).Msg("initializing scheduler")
		abort(rec)
		return ExitBadEnvironment
	}

	// Teardown runs in reverse: deregister, stop jobs, close the record.
	// Deferred so it also runs while a fault unwinds to the barrier.
	defer func() {
		if err := rec.Close(); err != nil {
			log.Warn().Err(err).Msg("closing session")
		}
	}()
	defer func() {
		if err := opts.Scheduler.Destroy(); err != nil {
			log.Warn().Err(err).Msg("stopping scheduler")
		}
	}()

	// 7. Record where we run.
	rec.Identity().Record(session.CaptureIdentity())

	// 8. Serve.
	table.Register()
	defer table.Deregister(rec)
	outcome := RunLoop(ctx, rec, NewHost(rec, table), opts.Sink)

	log.Info().Str("session_id", rec.ID.String()).Str("outcome", outcome.String()).Msg("session ended")

	if outcome == OutcomeExhausted {
		return ExitNoTransports
	}
	return ExitSuccess
}

// abort releases a session that never reached the run loop.
func abort(rec *session.Record) {
	drain(rec)
	if err := rec.Close(); err != nil {
		log.Warn().Err(err).Msg("closing session")
	}
}

func loadExtensions(ctx context.Context, rec *session.Record, table *command.Table, opts Options, offset int) {
	if offset == len(opts.Block) {
		return
	}
	payloads, err := configblock.Extensions(opts.Block, offset)
	if err != nil {
		log.Warn().Err(err).Msg("reading extension region")
	}
	if len(payloads) == 0 {
		return
	}

	loader := extension.NewLoader(opts.Extensions, table)
	if err := loader.LoadAll(ctx, payloads); err != nil {
		log.Warn().Err(err).Msg("some extensions failed to load")
	}
	for _, name := range loader.Loaded() {
		emit(ctx, opts.Sink, rec, nil, event.ExtensionLoaded, "", name)
	}
}

func adoptComms(rec *session.Record, handle uint64, adopt func(uint64) (net.Conn, error)) error {
	d := rec.Ring.Current()
	if d == nil {
		return fmt.Errorf("agent.adoptComms: no transport: %w", ErrBadHandle)
	}
	tcp, ok := d.Impl().(*transport.TCP)
	if !ok {
		return fmt.Errorf("agent.adoptComms: first transport is %s: %w", d.Kind, ErrBadHandle)
	}

	conn, err := adopt(handle)
	if err != nil {
		return fmt.Errorf("agent.adoptComms: %w", err)
	}
	tcp.Adopt(conn)
	log.Debug().Str("transport", d.URL).Str("remote", conn.RemoteAddr().String()).Msg("comms handle adopted")
	return nil
}

func adoptFD(handle uint64) (net.Conn, error) {
	f := os.NewFile(uintptr(handle), "comms")
	if f == nil {
		return nil, fmt.Errorf("agent.adoptFD(%d): %w", handle, ErrBadHandle)
	}
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("agent.adoptFD(%d): %w: %w", handle, ErrBadHandle, err)
	}
	return conn, nil
}

type noScheduler struct{}

func (noScheduler) Initialize(context.Context, *session.Record) error { return nil }
func (noScheduler) Destroy() error                                    { return nil }
