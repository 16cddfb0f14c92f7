package replay

import "fmt"

// Registry is the native function table of the replaying build. Ids are
// assigned in registration order and need not match the recording build's.
type Registry struct {
	names []string
	ids   map[string]uint64
}

// NewRegistry registers names in order.
func NewRegistry(names ...string) *Registry {
	r := &Registry{ids: make(map[string]uint64, len(names))}
	for _, n := range names {
		r.Register(n)
	}
	return r
}

// Register returns the id of name, assigning the next id on first use.
func (r *Registry) Register(name string) uint64 {
	if id, ok := r.ids[name]; ok {
		return id
	}
	id := uint64(len(r.names))
	r.names = append(r.names, name)
	r.ids[name] = id
	return id
}

// Lookup returns the id of name.
func (r *Registry) Lookup(name string) (uint64, bool) {
	id, ok := r.ids[name]
	return id, ok
}

// MustLookup is Lookup for names known to be registered.
func (r *Registry) MustLookup(name string) uint64 {
	id, ok := r.ids[name]
	if !ok {
		panic(fmt.Sprintf("replay: native function %q is not registered", name))
	}
	return id
}

// Name returns the name registered under id, or "".
func (r *Registry) Name(id uint64) string {
	if id < uint64(len(r.names)) {
		return r.names[id]
	}
	return ""
}

// Len is the number of registered functions.
func (r *Registry) Len() int { return len(r.names) }
