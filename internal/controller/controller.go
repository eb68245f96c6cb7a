package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/command"
)

const (
	// DefaultPollWait is how long a poll is held open when nothing is queued.
	DefaultPollWait = time.Second
	// DefaultCallTimeout bounds commands issued through the JSON API.
	DefaultCallTimeout = 30 * time.Second

	// recentReplies is how many response IDs are remembered for duplicate detection.
	recentReplies = 256
)

// ErrAgentError wraps an error string returned by the agent.
var ErrAgentError = errors.New("controller: agent error") //nolint:gochecknoglobals // sentinel error

// Controller queues requests for whichever agent link is connected.
type Controller struct {
	PollWait    time.Duration
	CallTimeout time.Duration
	// CORSOrigins, when set, enables CORS on every route.
	CORSOrigins []string
	// PollLimit, when set, wraps the poll endpoint.
	PollLimit func(http.Handler) http.Handler
	// Events, when set, is mounted on /events.
	Events http.Handler

	outbox  chan []byte
	notices chan command.Response

	mu       sync.Mutex
	pending  map[string]chan command.Response
	sessions map[string]time.Time
	// seen holds the last recentReplies response IDs; order is oldest first.
	seen  map[string]struct{}
	order []string
}

// New returns a controller with an empty queue.
func New() *Controller {
	return &Controller{
		PollWait:    DefaultPollWait,
		CallTimeout: DefaultCallTimeout,
		outbox:      make(chan []byte, 64),
		notices:     make(chan command.Response, 64),
		pending:     make(map[string]chan command.Response),
		sessions:    make(map[string]time.Time),
		seen:        make(map[string]struct{}, recentReplies),
	}
}

// Call queues a request and waits for the matching response.
func (c *Controller) Call(ctx context.Context, method string, args any) (command.Response, error) {
	req, data, err := command.NewRequest(method, args)
	if err != nil {
		return command.Response{}, fmt.Errorf("controller.Call: %w", err)
	}

	ch := make(chan command.Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	select {
	case c.outbox <- data:
	case <-ctx.Done():
		return command.Response{}, fmt.Errorf("controller.Call(%s): queue: %w", method, ctx.Err())
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("controller.Call(%s): %w: %s", method, ErrAgentError, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return command.Response{}, fmt.Errorf("controller.Call(%s): wait: %w", method, ctx.Err())
	}
}

// Notices yields responses nobody is waiting for, such as heartbeats.
func (c *Controller) Notices() <-chan command.Response {
	return c.notices
}

// Sessions returns the session IDs seen so far, sorted.
func (c *Controller) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Controller) touch(sessionID string) {
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		log.Info().Str("session_id", sessionID).Msg("agent connected")
	}
	c.sessions[sessionID] = time.Now()
}

// deliver routes one packet from the agent. An HTTP agent resends a batch
// whose reply was lost, so a response ID already delivered is dropped.
func (c *Controller) deliver(packet []byte) {
	var resp command.Response
	if err := json.Unmarshal(packet, &resp); err != nil {
		log.Warn().Err(err).Int("bytes", len(packet)).Msg("undecodable packet from agent")
		return
	}

	c.mu.Lock()
	if c.repeated(resp.ID) {
		c.mu.Unlock()
		log.Debug().Str("id", resp.ID).Str("method", resp.Method).Msg("duplicate response dropped")
		return
	}
	ch, ok := c.pending[resp.ID]
	c.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
		return
	}

	select {
	case c.notices <- resp:
	default:
		log.Debug().Str("method", resp.Method).Msg("notice dropped")
	}
}

// repeated reports whether id was delivered recently and remembers it if not.
// c.mu must be held.
func (c *Controller) repeated(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.order) == recentReplies {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	return false
}

// next waits up to wait for a queued request. A zero wait only takes what is ready.
func (c *Controller) next(ctx context.Context, wait time.Duration) ([]byte, bool) {
	select {
	case data := <-c.outbox:
		return data, true
	default:
	}
	if wait <= 0 {
		return nil, false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case data := <-c.outbox:
		return data, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
