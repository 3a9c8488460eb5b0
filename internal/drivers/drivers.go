// Package drivers holds the fixed set of drivers built into the kernel.
package drivers

import (
	"sync"

	"github.com/tinyrange/fdtboot/internal/driver"
	"github.com/tinyrange/fdtboot/internal/drivers/ns16550a"
	"github.com/tinyrange/fdtboot/internal/drivers/pl031"
	"github.com/tinyrange/fdtboot/internal/drivers/sifivetest"
)

// All returns every built-in driver. Order matters: a later entry replaces
// an earlier one claiming the same compatible string.
func All() []driver.Descriptor {
	return []driver.Descriptor{
		ns16550a.Descriptor(),
		pl031.Descriptor(),
		sifivetest.Descriptor(),
	}
}

// Registry returns the process-wide registry, built on first use.
var Registry = sync.OnceValue(func() *driver.Registry {
	return driver.NewRegistry(All()...)
})
