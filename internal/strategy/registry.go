package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the named collection of sizers. It is safe for concurrent
// use.
type Registry struct {
	sizers map[string]Sizer
	mu     sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{sizers: make(map[string]Sizer)}
}

// Register adds a sizer to the registry under its own name. A sizer with the
// same name is replaced.
func (r *Registry) Register(s Sizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizers[s.Name()] = s
}

// Get retrieves a sizer by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Sizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sizers[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered sizers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sizers))
	for n := range r.sizers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
