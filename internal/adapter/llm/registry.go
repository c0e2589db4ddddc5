package llm

import (
	"maps"
	"slices"
	"sync"

	"switchboard/internal/domain"
)

// Registry maps provider names to providers. An empty name resolves to the
// default.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]domain.LLMProvider
	fallback string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]domain.LLMProvider{}}
}

// Register fails with domain.ErrDuplicate when name is taken.
func (r *Registry) Register(name string, p domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, "provider "+name+" already registered")
	}
	r.byName[name] = p
	return nil
}

func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	r.fallback = name
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(name)
}

func (r *Registry) Resolve(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	return r.lookup(name)
}

func (r *Registry) lookup(name string) (domain.LLMProvider, error) {
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byName))
}
