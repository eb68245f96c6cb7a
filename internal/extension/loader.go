package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/command"
)

// ErrBadPayload is returned for payloads without a decodable header.
var ErrBadPayload = errors.New("extension: bad payload") //nolint:gochecknoglobals // sentinel error

// Header is the JSON document each extension payload carries.
type Header struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Encode builds a payload for the named extension.
func Encode(name string, config any) ([]byte, error) {
	h := Header{Name: name}
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("extension.Encode(%q): %w", name, err)
		}
		h.Config = raw
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("extension.Encode(%q): %w", name, err)
	}
	return data, nil
}

// Loader initializes extension payloads against one dispatch table.
type Loader struct {
	reg    *Registry
	table  *command.Table
	loaded []string
}

func NewLoader(reg *Registry, table *command.Table) *Loader {
	return &Loader{reg: reg, table: table}
}

// Load decodes one payload and initializes the extension it names.
func (l *Loader) Load(ctx context.Context, payload []byte) (string, error) {
	var h Header
	if err := json.Unmarshal(payload, &h); err != nil {
		return "", fmt.Errorf("extension.Loader.Load: %w: %w", ErrBadPayload, err)
	}
	if h.Name == "" {
		return "", fmt.Errorf("extension.Loader.Load: missing name: %w", ErrBadPayload)
	}

	ext, err := l.reg.Create(h.Name, h.Config)
	if err != nil {
		return h.Name, fmt.Errorf("extension.Loader.Load: %w", err)
	}
	if err := ext.Init(ctx, l.table); err != nil {
		return h.Name, fmt.Errorf("extension.Loader.Load(%q): init: %w", h.Name, err)
	}

	l.loaded = append(l.loaded, ext.Name())
	return ext.Name(), nil
}

// LoadAll loads payloads in order. A failing payload is logged and skipped;
// the joined failures are returned once every payload has been tried.
func (l *Loader) LoadAll(ctx context.Context, payloads [][]byte) error {
	var errs []error
	for i, p := range payloads {
		name, err := l.Load(ctx, p)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Str("extension", name).Msg("extension failed to load")
			errs = append(errs, err)
			continue
		}
		log.Info().Int("index", i).Str("extension", name).Msg("extension loaded")
	}
	return errors.Join(errs...)
}

// Loaded returns the names of successfully initialized extensions in load order.
func (l *Loader) Loaded() []string {
	return append([]string(nil), l.loaded...)
}
