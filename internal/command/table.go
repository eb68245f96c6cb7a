package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/session"
	"github.com/gosuda/tether/internal/transport"
)

var (
	// ErrUnknownMethod is reported for requests no handler is registered for.
	ErrUnknownMethod = errors.New("command: unknown method") //nolint:gochecknoglobals // sentinel error
	// ErrDuplicate is returned when a method is registered twice.
	ErrDuplicate = errors.New("command: method already registered") //nolint:gochecknoglobals // sentinel error
	// ErrBadRequest is reported for packets that do not decode as a Request.
	ErrBadRequest = errors.New("command: bad request") //nolint:gochecknoglobals // sentinel error
)

// Action tells the dispatching transport what to do after a command ran.
type Action int

const (
	ActionContinue Action = iota
	ActionTerminate
	ActionFailover
)

// Directive maps the action onto the transport contract.
func (a Action) Directive() transport.Directive {
	switch a {
	case ActionTerminate:
		return transport.DirectiveTerminate
	case ActionFailover:
		return transport.DirectiveFailover
	default:
		return transport.DirectiveContinue
	}
}

// Handler runs one command. The result is JSON-encoded into the response.
type Handler func(ctx context.Context, req Request) (any, Action, error)

// Table maps method names to handlers for one session.
type Table struct {
	rec *session.Record

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewTable returns an empty table bound to rec.
func NewTable(rec *session.Record) *Table {
	return &Table{
		rec:      rec,
		handlers: make(map[string]Handler),
	}
}

// Register installs the core commands.
func (t *Table) Register() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, h := range t.coreHandlers() {
		t.handlers[name] = h
	}
	log.Debug().Int("count", len(t.handlers)).Msg("core commands registered")
}

// Deregister removes every command. rec must be the session the table was built for.
func (t *Table) Deregister(rec *session.Record) {
	if rec != t.rec {
		log.Warn().Msg("deregistering commands for a foreign session")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.handlers)
}

// Add registers an extension command.
func (t *Table) Add(method string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.handlers[method]; ok {
		return fmt.Errorf("command.Table.Add(%q): %w", method, ErrDuplicate)
	}
	t.handlers[method] = h
	return nil
}

// Remove drops a command.
func (t *Table) Remove(method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, method)
}

// Methods returns registered method names in sorted order.
func (t *Table) Methods() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range t.handlers {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}

// Handle decodes a request packet, runs its handler and encodes the response.
func (t *Table) Handle(ctx context.Context, packet []byte) ([]byte, Action) {
	var req Request
	if err := json.Unmarshal(packet, &req); err != nil || req.Method == "" {
		log.Warn().Err(err).Int("bytes", len(packet)).Msg("dropping undecodable request")
		return encode(Response{ID: req.ID, Error: ErrBadRequest.Error()}), ActionContinue
	}

	t.mu.RLock()
	h, ok := t.handlers[req.Method]
	t.mu.RUnlock()

	resp := Response{ID: req.ID, Method: req.Method}
	if !ok {
		resp.Error = fmt.Sprintf("%s: %s", ErrUnknownMethod, req.Method)
		return encode(resp), ActionContinue
	}

	result, action, err := h(ctx, req)
	if err != nil {
		resp.Error = err.Error()
		return encode(resp), action
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = fmt.Sprintf("encoding result: %v", err)
			return encode(resp), action
		}
		resp.Result = raw
	}

	log.Debug().Str("method", req.Method).Str("id", req.ID).Msg("command handled")
	return encode(resp), action
}

func encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// Response only holds strings and raw JSON.
		return []byte(`{"error":"encoding response"}`)
	}
	return data
}
