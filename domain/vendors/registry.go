package vendors

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// Registry maps vendor names to adapter factories. Vendor packages register
// themselves at wiring time; everything downstream dispatches through here
// and never names a vendor directly.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory

	client *Client
	log    *slog.Logger
}

// NewRegistry creates an empty registry sharing one HTTP client across all
// adapters it builds.
func NewRegistry(client *Client, log *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		client:    client,
		log:       log.With(logger.Scope("vendors.registry")),
	}
}

// Register adds a vendor's factory. Later registrations under the same name
// win, which keeps test doubles easy.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Adapter builds an adapter for the city's vendor.
func (r *Registry) Adapter(city CityRef) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[city.Vendor]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.ErrValidation.WithMessagef("unknown vendor %q for city %s", city.Vendor, city.Banana)
	}
	return factory(city, Deps{Client: r.client, Log: r.log}), nil
}

// Known reports whether a vendor name has a registered factory. The city
// importer uses this to gate seed rows.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Vendors returns all registered vendor names, sorted.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
