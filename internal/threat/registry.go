package threat

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// AdapterType is a discovered adapter implementation.
type AdapterType struct {
	Name string
	New  Factory
}

type candidate struct {
	name    string
	factory Factory
}

// Registry maps adapter names to factories. Feed packages register at init
// time; the caller discovers the valid set once at startup and builds
// adapters from its own per-source configuration.
type Registry struct {
	mu         sync.RWMutex
	candidates []candidate
}

// DefaultRegistry is populated by feed packages at init time.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry { return &Registry{} }

// Register records a candidate adapter. Validation is deferred to Discover so
// a bad registration never stops the others from loading.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.candidates = append(r.candidates, candidate{name: name, factory: f})
	r.mu.Unlock()
}

// Discover returns every valid adapter type sorted by name. Candidates with
// an empty name, a nil factory or a name already taken are logged and skipped.
func (r *Registry) Discover() []AdapterType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.candidates))
	types := make([]AdapterType, 0, len(r.candidates))
	for _, c := range r.candidates {
		switch {
		case c.name == "":
			slog.Warn("skipping adapter without name")
			continue
		case c.factory == nil:
			slog.Warn("skipping adapter without factory", "source", c.name)
			continue
		case seen[c.name]:
			slog.Warn("skipping duplicate adapter", "source", c.name)
			continue
		}
		seen[c.name] = true
		types = append(types, AdapterType{Name: c.name, New: c.factory})
	}

	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// Names lists the discovered adapter names.
func (r *Registry) Names() []string {
	types := r.Discover()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.Name
	}
	return names
}

// Build constructs the adapter named by cfg.Name. A factory that panics is
// reported as an error.
func (r *Registry) Build(cfg SourceConfig) (a Adapter, err error) {
	var factory Factory
	for _, t := range r.Discover() {
		if t.Name == cfg.Name {
			factory = t.New
			break
		}
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, cfg.Name)
	}

	defer func() {
		if p := recover(); p != nil {
			a = nil
			err = fmt.Errorf("build %s: panic: %v", cfg.Name, p)
		}
	}()
	a, err = factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.Name, err)
	}
	if a == nil {
		return nil, fmt.Errorf("build %s: factory returned nil adapter", cfg.Name)
	}
	return a, nil
}
