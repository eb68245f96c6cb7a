package session

import (
	"os"
	"sync"
)

// Identity names the execution context a session runs in.
type Identity struct {
	SessionID int    `json:"session_id"`
	Station   string `json:"station"`
	Desktop   string `json:"desktop"`
}

// IdentitySnapshot keeps the identity captured at start next to the current
// one, which migration-style collaborators may change.
type IdentitySnapshot struct {
	mu       sync.RWMutex
	original Identity
	current  Identity
}

// NewIdentitySnapshot freezes orig and starts current as a copy.
func NewIdentitySnapshot(orig Identity) *IdentitySnapshot {
	return &IdentitySnapshot{original: orig, current: orig}
}

// Original returns the identity captured at session start.
func (s *IdentitySnapshot) Original() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.original
}

// Record replaces both identities with id.
func (s *IdentitySnapshot) Record(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.original = id
	s.current = id
}

// Current returns the current identity.
func (s *IdentitySnapshot) Current() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// UpdateCurrent applies fn to the current identity.
func (s *IdentitySnapshot) UpdateCurrent(fn func(*Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.current)
}

// CaptureIdentity reads the identity of the hosting process.
func CaptureIdentity() Identity {
	station, err := os.Hostname()
	if err != nil {
		station = "unknown"
	}

	desktop := os.Getenv("DISPLAY")
	if desktop == "" {
		desktop = "console"
	}

	return Identity{
		SessionID: processSessionID(),
		Station:   station,
		Desktop:   desktop,
	}
}
