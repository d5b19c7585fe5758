package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Namann-14/artifex/internal/domain"
)

// Registry resolves provider clients by name. An empty name resolves to the
// default client.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	fallback string
}

// NewRegistry registers def as the default client followed by others.
func NewRegistry(def Client, others ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client)}
	if def != nil {
		r.Register(def)
		r.fallback = registryKey(def.Name())
	}
	for _, c := range others {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a client under its Name.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[registryKey(c.Name())] = c
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve returns the client registered under name.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := registryKey(name)
	if key == "" {
		key = r.fallback
	}
	c, ok := r.clients[key]
	if !ok {
		return nil, domain.NewValidationError("provider", "unsupported provider %q", name)
	}
	return c, nil
}

// Default is the name of the default client.
func (r *Registry) Default() string {
	return r.fallback
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) String() string {
	return fmt.Sprintf("providers%v", r.Names())
}
