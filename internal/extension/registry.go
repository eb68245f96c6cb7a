package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gosuda/tether/internal/command"
)

// ErrUnknownExtension is returned when a payload names an extension that is not compiled in.
var ErrUnknownExtension = errors.New("extension: unknown extension") //nolint:gochecknoglobals // sentinel error

// Extension is a compiled-in module that contributes commands.
type Extension interface {
	Name() string
	Init(ctx context.Context, table *command.Table) error
}

// Factory builds an extension from its JSON config.
type Factory func(config json.RawMessage) (Extension, error)

// Registry manages extension factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// NewDefaultRegistry returns a registry with the built-in extensions.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SysInfoName, NewSysInfo)
	return r
}

// Register adds a factory for an extension name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the named extension.
func (r *Registry) Create(name string, config json.RawMessage) (Extension, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("extension.Registry.Create(%q): %w", name, ErrUnknownExtension)
	}

	ext, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("extension.Registry.Create(%q): %w", name, err)
	}

	return ext, nil
}

// Available returns registered extension names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.factories {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
