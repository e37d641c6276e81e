package tracker

import (
	"sort"
	"sync"
)

// Factory creates a new IssueTracker instance with the given transport options.
type Factory func(opts Options) IssueTracker

// Registry manages the available tracker implementations by name.
// Adapters add themselves with their package-level Register function; the
// registry is built explicitly by the caller rather than at init time.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]Factory)}
}

// Register adds a tracker factory. The name should be lowercase (e.g., "jira").
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[name] = factory
}

// Get retrieves a tracker factory. Returns nil if no tracker has that name.
func (r *Registry) Get(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[name]
}

// List returns the names of all registered trackers, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a new instance of the named tracker.
func (r *Registry) New(name string, opts Options) (IssueTracker, error) {
	factory := r.Get(name)
	if factory == nil {
		return nil, &ErrUnknownTracker{Name: name, Available: r.List()}
	}
	return factory(opts.WithDefaults()), nil
}

// IsRegistered checks if a tracker with the given name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.trackers[name]
	return ok
}
