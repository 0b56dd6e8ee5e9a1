package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps a session type tag to the Service implementing it.
// It provides thread-safe access to registered services.
type Registry struct {
	mu       sync.RWMutex
	services map[Type]Service
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[Type]Service),
	}
}

// Register adds a service to the registry.
func (r *Registry) Register(svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := svc.Type()
	if _, exists := r.services[t]; exists {
		return fmt.Errorf("service already registered: %s", t)
	}
	r.services[t] = svc
	return nil
}

// MustRegister is Register for wiring code that cannot recover.
func (r *Registry) MustRegister(svcs ...Service) *Registry {
	for _, svc := range svcs {
		if err := r.Register(svc); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves the service for a session type.
func (r *Registry) Get(t Type) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, exists := r.services[t]
	if !exists {
		return nil, ErrUnsupported(t)
	}
	return svc, nil
}

// Types returns all registered type tags, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.services))
	for t := range r.services {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ServiceInfo contains metadata about a registered service.
type ServiceInfo struct {
	Type         Type
	Capabilities []Capability
	Chained      bool
}

// Describe returns detailed info about all registered services.
func (r *Registry) Describe() []ServiceInfo {
	var infos []ServiceInfo
	for _, t := range r.Types() {
		svc, err := r.Get(t)
		if err != nil {
			continue
		}
		infos = append(infos, ServiceInfo{
			Type:         t,
			Capabilities: svc.Capabilities(),
			Chained:      t.Chained(),
		})
	}
	return infos
}

// Supporting returns the registered types whose service lists c, sorted.
func (r *Registry) Supporting(c Capability) []Type {
	var out []Type
	for _, t := range r.Types() {
		if svc, err := r.Get(t); err == nil && HasCapability(svc, c) {
			out = append(out, t)
		}
	}
	return out
}
