// Package provider implements the adapter registry and shared plumbing for
// LLM provider adapters.
package provider

import (
	"fmt"
	"slices"
	"sync"

	chat "github.com/kingidy/kingidy/internal"
)

// Registry maps adapter names to chat.Adapter instances.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]chat.Adapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]chat.Adapter)}
}

// Register adds an adapter under its Name().
// It overwrites any previously registered adapter with the same name.
func (r *Registry) Register(a chat.Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the adapter registered under name, or an error if not found.
func (r *Registry) Get(name string) (chat.Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", name)
	}
	return a, nil
}

// List returns a sorted slice of all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
