package tracking

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	verrors "github.com/veil-org/veil/pkg/errors"
)

// Opener builds a Store for a parsed tracking URI.
type Opener func(uri *url.URL) (Store, error)

// Registry maps tracking URI schemes to store openers and caches the opened
// stores by URI, so every client sharing a registry sees the same store for
// the same URI.
type Registry struct {
	openers map[string]Opener
	stores  map[string]Store
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		openers: make(map[string]Opener),
		stores:  make(map[string]Store),
	}
}

// Register adds an opener for a URI scheme.
func (r *Registry) Register(scheme string, open Opener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.openers[scheme]; exists {
		return fmt.Errorf("scheme %q already registered", scheme)
	}
	r.openers[scheme] = open
	return nil
}

// Schemes returns the registered schemes, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.openers))
	for scheme := range r.openers {
		result = append(result, scheme)
	}
	sort.Strings(result)
	return result
}

// Open returns the store for uri, opening it on first use.
func (r *Registry) Open(uri string) (Store, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return nil, verrors.Validationf(verrors.ErrValidationInvalidURI, "tracking_uri", "invalid tracking URI %q", uri)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[uri]; ok {
		return store, nil
	}
	open, ok := r.openers[u.Scheme]
	if !ok {
		return nil, verrors.Trackingf(verrors.ErrTrackingURIUnsupported, "no tracking store for scheme %q", u.Scheme).
			WithContext("tracking_uri", uri)
	}
	store, err := open(u)
	if err != nil {
		return nil, err
	}
	r.stores[uri] = store
	return store, nil
}

// MemoryStoreFor returns the memory store opened for uri, if any.
func (r *Registry) MemoryStoreFor(uri string) (*MemoryStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.stores[uri].(*MemoryStore)
	return ms, ok
}

// DefaultRegistry creates a registry serving memory://, http:// and https://.
// timeout applies to REST requests; zero selects the REST default.
func DefaultRegistry(timeout time.Duration, token string) *Registry {
	registry := NewRegistry()
	// Errors impossible here since registry is freshly created (no duplicates)
	_ = registry.Register("memory", func(*url.URL) (Store, error) {
		return NewMemoryStore(), nil
	})
	openREST := func(u *url.URL) (Store, error) {
		return NewRESTStore(RESTConfig{URL: u.String(), Timeout: timeout, Token: token}), nil
	}
	_ = registry.Register("http", openREST)
	_ = registry.Register("https", openREST)
	return registry
}
