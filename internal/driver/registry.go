package driver

import (
	"sort"

	"github.com/tinyrange/fdtboot/internal/dtb"
)

// InitFunc tries to bring up a driver for node. On success it registers the
// capabilities it provides with m and returns nil. Any error leaves the node
// unbound.
type InitFunc func(node dtb.Node, path string, m *Manager) error

// Descriptor describes one driver known at build time.
type Descriptor struct {
	Name       string
	Compatible []string
	Init       InitFunc
}

// Registry maps compatible strings to drivers. It is built once and only
// read afterwards.
type Registry struct {
	byCompat map[string]Descriptor
}

// NewRegistry builds a registry from descs. When two descriptors claim the
// same compatible string the later one wins.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byCompat: make(map[string]Descriptor)}
	for _, d := range descs {
		if d.Init == nil {
			continue
		}
		for _, c := range d.Compatible {
			r.byCompat[c] = d
		}
	}
	return r
}

// Lookup returns the driver registered for compat.
func (r *Registry) Lookup(compat string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.byCompat[compat]
	return d, ok
}

// Len returns the number of compatible strings in the registry.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byCompat)
}

// Compatibles returns the registered compatible strings, sorted.
func (r *Registry) Compatibles() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byCompat))
	for c := range r.byCompat {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
