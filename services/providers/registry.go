package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Entry pairs a provider's static config with its adapter
type Entry struct {
	Config  Config
	Adapter Adapter
}

// Registry holds the configured providers in precedence order.
// It is populated at startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries []*Entry
	byName  map[string]*Entry
}

// NewRegistry creates an empty provider registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Entry),
	}
}

// Register adds a provider. Order among equal priorities is registration order.
func (r *Registry) Register(cfg Config, adapter Adapter) error {
	if cfg.Name == "" {
		return errors.New("provider name cannot be empty")
	}
	if adapter == nil {
		return fmt.Errorf("provider %s: adapter cannot be nil", cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, cfg.Name)
	}

	entry := &Entry{Config: cfg, Adapter: adapter}
	r.entries = append(r.entries, entry)
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Config.Priority < r.entries[j].Config.Priority
	})
	r.byName[cfg.Name] = entry

	return nil
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.byName[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return entry, nil
}

// Ordered returns provider configs ascending by priority, ties in registration order
func (r *Registry) Ordered() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Config
	}
	return out
}

// Names returns provider names in precedence order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Config.Name
	}
	return names
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
