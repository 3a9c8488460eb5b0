package driver

import (
	"io"
	"sync"
)

// Instance is one live driver shared by the manager and every handle taken
// from it. All calls into the driver go through its lock; operations are
// short register-level actions and must not block while holding it.
type Instance struct {
	mu    sync.Mutex
	name  string
	value any
}

// NewInstance wraps a driver value.
func NewInstance(name string, value any) *Instance {
	return &Instance{name: name, value: value}
}

// Name returns the driver name the instance was created with.
func (i *Instance) Name() string { return i.name }

// Handle is a typed view of an Instance for one capability.
type Handle[T any] struct {
	inst *Instance
	path string
	kind Kind
	v    T
}

// Path returns the device path the handle was registered under.
func (h *Handle[T]) Path() string { return h.path }

// Kind returns the capability kind of the handle.
func (h *Handle[T]) Kind() Kind { return h.kind }

// Instance returns the shared instance behind the handle.
func (h *Handle[T]) Instance() *Instance { return h.inst }

// Do runs fn with the instance locked.
func (h *Handle[T]) Do(fn func(T) error) error {
	h.inst.mu.Lock()
	defer h.inst.mu.Unlock()
	return fn(h.v)
}

// Lock acquires the instance and returns the capability. Callers must call
// Unlock when done.
func (h *Handle[T]) Lock() T {
	h.inst.mu.Lock()
	return h.v
}

// Unlock releases the instance.
func (h *Handle[T]) Unlock() {
	h.inst.mu.Unlock()
}

type consoleWriter struct {
	h *Handle[Console]
}

func (w consoleWriter) Write(p []byte) (n int, err error) {
	err = w.h.Do(func(c Console) error {
		n, err = c.Write(p)
		return err
	})
	return n, err
}

// ConsoleWriter adapts a console handle to io.Writer, locking the instance
// for each write.
func ConsoleWriter(h *Handle[Console]) io.Writer {
	return consoleWriter{h: h}
}
