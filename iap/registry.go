package iap

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrServiceExists   = errors.New("service already registered for store")
	ErrServiceNotFound = errors.New("no service registered for store")
)

// Registry holds the service of every store. It is built once at startup and
// passed to whatever needs to reach a store.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]*Service),
	}
}

func (r *Registry) Add(s *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[s.StoreName()]; ok {
		return ErrServiceExists
	}
	r.services[s.StoreName()] = s
	return nil
}

func (r *Registry) Get(storeName string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.services[storeName]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return s, nil
}

// Names returns the registered store names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sweep sweeps every registered service. It must run on the executor shared
// by the services.
func (r *Registry) Sweep(now time.Time) {
	r.mu.RLock()
	services := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		services = append(services, s)
	}
	r.mu.RUnlock()

	for _, s := range services {
		s.Sweep(now)
	}
}
