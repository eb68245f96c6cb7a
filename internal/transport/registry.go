package transport

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// ErrNoFactory is returned when no factory is registered for a kind.
var ErrNoFactory = errors.New("transport: no factory for kind") //nolint:gochecknoglobals // sentinel error

// Factory builds the kind-specific behaviour for a spec.
type Factory func(spec Spec) (Transport, error)

// Registry maps transport kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Kind]Factory),
	}
}

// NewDefaultRegistry returns a registry with every built-in kind.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindTCP, NewTCP)
	r.Register(KindHTTP, NewHTTP)
	r.Register(KindHTTPS, NewHTTP)
	r.Register(KindWebSocket, NewWebSocket)
	r.Register(KindWebSocketTLS, NewWebSocket)
	return r
}

// Register adds or replaces the factory for a kind.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Create builds a descriptor for spec, picking the kind from its URL.
func (r *Registry) Create(spec Spec) (*Descriptor, error) {
	kind, err := KindFromURL(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("transport.Registry.Create: %w", err)
	}

	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transport.Registry.Create(%s): %w", kind, ErrNoFactory)
	}

	impl, err := factory(spec)
	if err != nil {
		return nil, fmt.Errorf("transport.Registry.Create(%s): %w", kind, err)
	}

	return NewDescriptor(kind, spec, impl), nil
}

// Available returns registered kind names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for kind := range r.factories {
			if !yield(kind.String()) {
				return
			}
		}
	})
	sort.Strings(names)

	return names
}
