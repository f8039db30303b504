package tripsync

import (
	"sort"
	"strings"
	"sync"
)

// BackendRegistry maps collection names to their remote handlers. It is an
// instance resolved once at startup rather than a package-level singleton so
// tests and multi-account processes can carry independent registries.
type BackendRegistry struct {
	mu       sync.RWMutex
	backends map[string]CollectionBackend
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{backends: map[string]CollectionBackend{}}
}

func (r *BackendRegistry) Register(collection string, backend CollectionBackend) {
	collection = normalizeCollection(collection)
	if collection == "" || backend == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[collection] = backend
}

func (r *BackendRegistry) Lookup(collection string) (CollectionBackend, bool) {
	collection = normalizeCollection(collection)
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[collection]
	return backend, ok
}

func (r *BackendRegistry) CollectionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeCollection(collection string) string {
	return strings.ToLower(strings.TrimSpace(collection))
}
