// Package driver binds device tree nodes to drivers and hands out the
// capabilities those drivers expose.
package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

var (
	// ErrAlreadyRegistered is returned when a (path, kind) pair is taken.
	ErrAlreadyRegistered = errors.New("capability already registered")
	// ErrWrongType is returned when an instance does not implement the
	// capability it is registered as.
	ErrWrongType = errors.New("instance does not implement capability")
)

// ParsePolicy controls what LoadDrivers does with a subtree it cannot decode.
type ParsePolicy int

const (
	// AbortOnError stops discovery and returns the parse error.
	AbortOnError ParsePolicy = iota
	// SkipMalformed logs the error, abandons the remaining siblings under the
	// same parent and carries on with the rest of the tree.
	SkipMalformed
)

func (p ParsePolicy) String() string {
	switch p {
	case AbortOnError:
		return "abort"
	case SkipMalformed:
		return "skip"
	default:
		return fmt.Sprintf("ParsePolicy(%d)", int(p))
	}
}

// ParseParsePolicy accepts "abort" or "skip".
func ParseParsePolicy(s string) (ParsePolicy, error) {
	switch s {
	case "", "abort":
		return AbortOnError, nil
	case "skip":
		return SkipMalformed, nil
	}
	return 0, fmt.Errorf("unknown parse policy %q", s)
}

// NodeState records what discovery concluded for a node.
type NodeState int

const (
	Unvisited NodeState = iota
	NoCompatible
	NoMatch
	Matched
)

func (s NodeState) String() string {
	switch s {
	case Unvisited:
		return "unvisited"
	case NoCompatible:
		return "no-compatible"
	case NoMatch:
		return "no-match"
	case Matched:
		return "matched"
	default:
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
}

// Binding is a node that a driver accepted.
type Binding struct {
	Path       string
	Compatible string
	Driver     string
	Kinds      []Kind
}

type capKey struct {
	path string
	kind Kind
}

type capEntry struct {
	inst  *Instance
	value any
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for discovery messages.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithParsePolicy sets how malformed subtrees are handled.
func WithParsePolicy(p ParsePolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// Manager owns every capability registered during discovery. Entries are
// never removed.
type Manager struct {
	reg    *Registry
	bus    mmio.Accessor
	log    *slog.Logger
	policy ParsePolicy

	mu       sync.RWMutex
	caps     map[capKey]capEntry
	states   map[string]NodeState
	bindings map[string]*Binding

	// staged collects the keys registered by the initializer that is
	// running, so a failing initializer leaves nothing behind.
	staging bool
	staged  []capKey
}

// NewManager returns a manager resolving drivers from reg. Drivers reach
// their registers through bus.
func NewManager(reg *Registry, bus mmio.Accessor, opts ...Option) *Manager {
	m := &Manager{
		reg:      reg,
		bus:      bus,
		log:      slog.Default(),
		caps:     make(map[capKey]capEntry),
		states:   make(map[string]NodeState),
		bindings: make(map[string]*Binding),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the register accessor handed to drivers.
func (m *Manager) Bus() mmio.Accessor { return m.bus }

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.log }

// Registry returns the registry drivers are resolved from.
func (m *Manager) Registry() *Registry { return m.reg }

type pending struct {
	node dtb.Node
	path string
}

// LoadDrivers visits every node below root breadth first and binds the
// first driver whose initializer accepts it. root itself is never matched.
// It must run on a single goroutine with no concurrent lookups.
func (m *Manager) LoadDrivers(root dtb.Node) error {
	var queue []pending
	var err error
	if queue, err = m.enqueueChildren(queue, root, "/"); err != nil {
		return err
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		m.probe(p.node, p.path)

		if queue, err = m.enqueueChildren(queue, p.node, p.path); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) enqueueChildren(queue []pending, n dtb.Node, path string) ([]pending, error) {
	c := n.Children()
	for {
		child, ok := c.Next()
		if !ok {
			break
		}
		queue = append(queue, pending{node: child, path: dtb.JoinPath(path, child.FullName())})
	}
	if err := c.Err(); err != nil {
		if m.policy == AbortOnError {
			return queue, fmt.Errorf("load drivers: children of %s: %w", path, err)
		}
		m.log.Warn("skipping malformed subtree", "parent", path, "error", err)
	}
	return queue, nil
}

func (m *Manager) probe(n dtb.Node, path string) {
	prop, ok := n.Property("compatible")
	if !ok {
		m.setState(path, NoCompatible)
		return
	}

	for _, compat := range prop.Strings() {
		desc, ok := m.reg.Lookup(compat)
		if !ok {
			continue
		}
		if err := m.runInit(desc, n, path); err != nil {
			m.log.Debug("driver rejected node", "path", path, "driver", desc.Name, "compatible", compat, "error", err)
			continue
		}

		m.mu.Lock()
		m.states[path] = Matched
		b := m.binding(path)
		if b.Driver == "" {
			b.Compatible = compat
			b.Driver = desc.Name
		}
		m.mu.Unlock()

		m.log.Info("driver loaded", "path", path, "driver", desc.Name, "compatible", compat)
		return
	}

	m.setState(path, NoMatch)
	m.log.Debug("no driver for node", "path", path, "compatible", prop.Strings())
}

// runInit calls desc.Init and withdraws every capability it registered if
// it fails.
func (m *Manager) runInit(desc Descriptor, n dtb.Node, path string) error {
	m.mu.Lock()
	m.staging, m.staged = true, nil
	m.mu.Unlock()

	err := desc.Init(n, path, m)

	m.mu.Lock()
	defer m.mu.Unlock()
	staged := m.staged
	m.staging, m.staged = false, nil
	if err == nil {
		return nil
	}
	for _, key := range staged {
		delete(m.caps, key)
		if b, ok := m.bindings[key.path]; ok {
			b.Kinds = slices.DeleteFunc(b.Kinds, func(k Kind) bool { return k == key.kind })
		}
	}
	if b, ok := m.bindings[path]; ok && len(b.Kinds) == 0 && m.states[path] != Matched {
		delete(m.bindings, path)
	}
	return err
}

// setState records s for path. A path already bound stays Matched, so a
// second node with the same path cannot unbind the first.
func (m *Manager) setState(path string, s NodeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[path] == Matched {
		return
	}
	m.states[path] = s
}

// binding returns the binding record for path, creating it. m.mu must be held.
func (m *Manager) binding(path string) *Binding {
	b, ok := m.bindings[path]
	if !ok {
		b = &Binding{Path: path}
		m.bindings[path] = b
	}
	return b
}

// State reports what discovery concluded for path.
func (m *Manager) State(path string) NodeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[path]
}

// Bindings returns every matched node ordered by path.
func (m *Manager) Bindings() []Binding {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Binding, 0, len(m.bindings))
	for path, b := range m.bindings {
		if m.states[path] != Matched {
			continue
		}
		cp := *b
		cp.Kinds = append([]Kind(nil), b.Kinds...)
		sort.Slice(cp.Kinds, func(i, j int) bool { return cp.Kinds[i] < cp.Kinds[j] })
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Register stores inst under (path, c). The instance's value must implement
// the capability's interface. Drivers call this from their InitFunc.
func Register[T any](m *Manager, path string, c Capability[T], inst *Instance) error {
	if _, ok := inst.value.(T); !ok {
		return fmt.Errorf("register %s at %s: %T: %w", c, path, inst.value, ErrWrongType)
	}
	key := capKey{path: path, kind: c.kind}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.caps[key]; dup {
		return fmt.Errorf("register %s at %s: %w", c, path, ErrAlreadyRegistered)
	}
	m.caps[key] = capEntry{inst: inst, value: inst.value}
	if m.staging {
		m.staged = append(m.staged, key)
	}
	b := m.binding(path)
	b.Kinds = append(b.Kinds, c.kind)
	return nil
}

// Get returns the capability registered at exactly path. A registration
// under a different kind at the same path does not match.
func Get[T any](m *Manager, path string, c Capability[T]) (*Handle[T], bool) {
	m.mu.RLock()
	e, ok := m.caps[capKey{path: path, kind: c.kind}]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v, ok := e.value.(T)
	if !ok {
		return nil, false
	}
	return &Handle[T]{inst: e.inst, path: path, kind: c.kind, v: v}, true
}

// Has reports whether any capability of kind k is registered at path.
func (m *Manager) Has(path string, k Kind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.caps[capKey{path: path, kind: k}]
	return ok
}

// Find returns the first path, in sorted order, exposing capability c.
func Find[T any](m *Manager, c Capability[T]) (*Handle[T], bool) {
	m.mu.RLock()
	var paths []string
	for k := range m.caps {
		if k.kind == c.kind {
			paths = append(paths, k.path)
		}
	}
	m.mu.RUnlock()
	if len(paths) == 0 {
		return nil, false
	}
	sort.Strings(paths)
	return Get(m, paths[0], c)
}
