package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// New builds a provider by name.
func New(name string, cfg ProviderConfig) (Provider, error) {
	switch name {
	case Gemini:
		return NewGeminiProvider(cfg), nil
	case OpenAI:
		return NewOpenAIProvider(cfg), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// Registry holds one provider instance per backend and the active selection.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

// NewRegistry registers ps and selects active. An unknown active name falls back
// to the first provider given.
func NewRegistry(active string, ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[active]; !ok && len(ps) > 0 {
		active = ps[0].Name()
	}
	r.active = active
	return r
}

// Active returns the selected provider, or nil when none is registered.
func (r *Registry) Active() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.active]
}

// ActiveName returns the selected provider name.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive switches the selected backend. Calls already running keep their provider.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	if r.active != name {
		log.Info().Str("from", r.active).Str("to", name).Msg("active provider switched")
	}
	r.active = name
	return nil
}

// Replace installs p in place of the provider with the same name. The old instance
// is not cancelled: in-flight calls finish against the config they started with.
func (r *Registry) Replace(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.active == "" {
		r.active = p.Name()
	}
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
