// Package registry maps logical model names to the concrete upstream
// bindings that can serve them.
package registry

import (
	"sort"
	"sync"

	"llmgate/internal/pricing"
)

// Binding is one concrete model behind a logical name: which provider
// serves it, how to reach it, and how to price it.
type Binding struct {
	Provider string
	Model    string
	Protocol string
	APIBase  string
	APIKey   string
	Weight   float64
	Enabled  bool
	Pricing  pricing.Strategy
}

// Registry holds the logical-to-binding mapping. Reads vastly outnumber
// writes; writes happen only on config reload, which swaps the whole map.
type Registry struct {
	mu     sync.RWMutex
	models map[string][]*Binding
}

func New() *Registry {
	return &Registry{models: make(map[string][]*Binding)}
}

// Register appends a binding to a logical model's candidate list.
func (r *Registry) Register(logical string, binding *Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[logical] = append(r.models[logical], binding)
}

// Candidates returns the enabled bindings for a logical model, in
// registration order. The returned slice is a copy.
func (r *Registry) Candidates(logical string) []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Binding
	for _, binding := range r.models[logical] {
		if binding.Enabled {
			out = append(out, binding)
		}
	}

	return out
}

// Models returns the known logical model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Replace swaps in a new mapping wholesale. Used on config reload.
func (r *Registry) Replace(models map[string][]*Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models = models
}
