package session

import (
	"sync"
	"time"
)

// Expiry tracks when the session must end itself. A zero lifetime never expires.
type Expiry struct {
	mu       sync.RWMutex
	start    time.Time
	lifetime time.Duration
	end      time.Time
}

func newExpiry(start time.Time, lifetime time.Duration) *Expiry {
	e := &Expiry{start: start}
	e.set(lifetime)
	return e
}

func (e *Expiry) set(lifetime time.Duration) {
	e.lifetime = lifetime
	if lifetime > 0 {
		e.end = e.start.Add(lifetime)
	} else {
		e.end = time.Time{}
	}
}

// Start returns when the session started.
func (e *Expiry) Start() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.start
}

// Lifetime returns the configured lifetime.
func (e *Expiry) Lifetime() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lifetime
}

// End returns the absolute expiry instant, zero if the session never expires.
func (e *Expiry) End() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.end
}

// SetLifetime changes the lifetime, measured from the original start.
func (e *Expiry) SetLifetime(lifetime time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set(lifetime)
}

// Expired reports whether now is at or past the end.
func (e *Expiry) Expired(now time.Time) bool {
	end := e.End()
	return !end.IsZero() && !now.Before(end)
}

// Remaining returns the time left, or zero when expired or unbounded.
func (e *Expiry) Remaining(now time.Time) time.Duration {
	end := e.End()
	if end.IsZero() || !now.Before(end) {
		return 0
	}
	return end.Sub(now)
}
