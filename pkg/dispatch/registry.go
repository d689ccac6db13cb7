package dispatch

// Registry is the name-keyed collection of registered procedures. It is
// populated while the coordinator is being built and read-only afterwards,
// so concurrent lookups from in-flight dispatches need no locking.
type Registry struct {
	byName map[string]*Descriptor
	order  []*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds a descriptor unless its name is already taken. The first
// registration for a name wins; later ones are dropped silently.
func (r *Registry) Register(d *Descriptor) {
	if _, exists := r.byName[d.name]; exists {
		return
	}
	r.byName[d.name] = d
	r.order = append(r.order, d)
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns the registered descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	return append([]*Descriptor(nil), r.order...)
}
