package gateway

import (
	"fmt"
	"sync"
)

// Registry owns the configured adapters. It is built once in main and
// passed down; Reset swaps the whole set when configuration changes.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
	active   Provider
}

func NewRegistry(active Provider, adapters ...Adapter) *Registry {
	r := &Registry{}
	r.Reset(active, adapters...)
	return r
}

func (r *Registry) Reset(active Provider, adapters ...Adapter) {
	m := make(map[Provider]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		m[a.Name()] = a
	}
	r.mu.Lock()
	r.adapters = m
	r.active = active
	r.mu.Unlock()
}

// Get resolves the adapter for a provider name, typically the one that
// charged an existing order.
func (r *Registry) Get(p Provider) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, p)
	}
	return a, nil
}

// Active returns the adapter new checkouts should use.
func (r *Registry) Active() (Adapter, error) {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()
	if active == "" || active == ProviderManual {
		return nil, ErrNotConfigured
	}
	return r.Get(active)
}
