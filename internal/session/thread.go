package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrThreadKilled is the cancellation cause of a killed thread.
	ErrThreadKilled = errors.New("session: thread killed") //nolint:gochecknoglobals // sentinel error
	// ErrThreadClosed is the cancellation cause of a released thread.
	ErrThreadClosed = errors.New("session: thread closed") //nolint:gochecknoglobals // sentinel error
)

// Thread is the handle of the execution context hosting the run loop.
// Everything the loop calls receives Context(); Kill cancels it.
type Thread struct {
	ID uuid.UUID

	ctx    context.Context
	cancel context.CancelCauseFunc
	killed atomic.Bool
}

// OpenThread derives a thread handle from parent.
func OpenThread(parent context.Context) *Thread {
	ctx, cancel := context.WithCancelCause(parent)
	return &Thread{
		ID:     uuid.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled when the thread is killed or released.
func (t *Thread) Context() context.Context {
	return t.ctx
}

// Kill signals the thread to terminate.
func (t *Thread) Kill() {
	t.killed.Store(true)
	t.cancel(ErrThreadKilled)
}

// Killed reports whether Kill was called.
func (t *Thread) Killed() bool {
	return t.killed.Load()
}

// Close releases the handle without marking it killed.
func (t *Thread) Close() {
	t.cancel(ErrThreadClosed)
}
