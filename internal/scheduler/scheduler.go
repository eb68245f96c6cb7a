package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/tether/internal/session"
)

var (
	// ErrRunning is returned when jobs are changed or started on a running scheduler.
	ErrRunning = errors.New("scheduler: already running") //nolint:gochecknoglobals // sentinel error
	// ErrInterval is returned for non-positive job intervals.
	ErrInterval = errors.New("scheduler: interval must be positive") //nolint:gochecknoglobals // sentinel error
)

// Job runs once per tick. Errors are logged and the job keeps its schedule.
type Job func(ctx context.Context, rec *session.Record) error

type entry struct {
	name     string
	interval time.Duration
	job      Job
}

// Scheduler owns one goroutine per job between Initialize and Destroy.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []entry
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a job. It must be called before Initialize.
func (s *Scheduler) Add(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler.Add(%q): %w", name, ErrInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler.Add(%q): %w", name, ErrRunning)
	}
	s.jobs = append(s.jobs, entry{name: name, interval: interval, job: job})
	return nil
}

// Initialize starts every job for rec. Jobs stop when ctx ends or Destroy runs.
func (s *Scheduler) Initialize(ctx context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler.Initialize: %w", ErrRunning)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range s.jobs {
		g.Go(func() error {
			run(gctx, rec, e)
			return nil
		})
	}

	s.cancel = cancel
	s.group = g
	s.running = true
	log.Debug().Int("jobs", len(s.jobs)).Str("session_id", rec.ID.String()).Msg("scheduler started")
	return nil
}

// Destroy stops the jobs and waits for them. It is a no-op when not running.
func (s *Scheduler) Destroy() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, g := s.cancel, s.group
	s.running = false
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	cancel()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("scheduler.Destroy: %w", err)
	}
	log.Debug().Msg("scheduler stopped")
	return nil
}

// Running reports whether jobs are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func run(ctx context.Context, rec *session.Record, e entry) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.job(ctx, rec); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Str("job", e.name).Msg("scheduled job failed")
			}
		}
	}
}
