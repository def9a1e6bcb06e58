package washer

import (
	"fmt"
	"sort"
	"sync"

	"git.home.luguber.info/inful/washer/internal/settings"
)

// Constructor builds a stage instance around a prepared Base.
type Constructor func(b *Base) (Washer, error)

// Type is the immutable registration of a stage type.
type Type struct {
	Name        string
	Title       string
	Description string
	Kind        Kind
	// Abstract types describe a kind and cannot be instantiated.
	Abstract bool
	Settings settings.Schema
	New      Constructor
}

// Registry maps stage type names to their registrations.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry returns a registry holding the abstract kind types.
func NewRegistry() *Registry {
	r := &Registry{types: map[string]Type{}}
	for _, t := range []Type{
		{Name: "source", Title: "Source", Description: "Pulls items on a schedule.", Kind: KindSource, Abstract: true, Settings: SourceSettings},
		{Name: "transform", Title: "Transform", Description: "Turns upstream items into new items.", Kind: KindTransform, Abstract: true, Settings: TransformSettings},
		{Name: "sink", Title: "Sink", Description: "Acts on upstream items.", Kind: KindSink, Abstract: true, Settings: SinkSettings},
		{Name: "maintenance", Title: "Maintenance", Description: "Runs alone on a schedule.", Kind: KindMaintenance, Abstract: true, Settings: MaintenanceSettings},
	} {
		r.types[t.Name] = t
	}
	return r
}

// Register adds a concrete type. Names must be unique.
func (r *Registry) Register(t Type) error {
	if t.Name == "" {
		return fmt.Errorf("stage type without name")
	}
	if _, ok := kindNames[t.Kind]; !ok {
		return fmt.Errorf("stage type %q: invalid kind", t.Name)
	}
	if !t.Abstract && t.New == nil {
		return fmt.Errorf("stage type %q: missing constructor", t.Name)
	}
	if t.Settings == nil {
		t.Settings = KindSettings(t.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[t.Name]; dup {
		return fmt.Errorf("stage type %q already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// MustRegister is Register for process start, panicking on error.
func (r *Registry) MustRegister(types ...Type) {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the type named name.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types returns every registration ordered by kind, then name.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}
