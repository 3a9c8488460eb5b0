// Package sifivetest drives the SiFive test finisher used for power control
// on QEMU's virt machine.
package sifivetest

import (
	"fmt"

	"github.com/tinyrange/fdtboot/internal/driver"
	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

const (
	cmdFail  = 0x3333
	cmdPass  = 0x5555
	cmdReset = 0x7777
)

// Finisher is a driver instance for one test device.
type Finisher struct {
	bus  mmio.Accessor
	base uint64
}

// New returns a driver for the device at base.
func New(bus mmio.Accessor, base uint64) *Finisher {
	return &Finisher{bus: bus, base: base}
}

// Descriptor returns the registry entry for this driver.
func Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:       "sifive-test",
		Compatible: []string{"sifive,test1", "sifive,test0"},
		Init:       initNode,
	}
}

func initNode(n dtb.Node, path string, m *driver.Manager) error {
	base, err := driver.RegBase(n)
	if err != nil {
		return err
	}
	if m.Bus() == nil {
		return fmt.Errorf("sifivetest: no register bus")
	}
	return driver.Register(m, path, driver.PowerCap, driver.NewInstance("sifive-test", New(m.Bus(), base)))
}

// Poweroff implements driver.Power. A zero code reports success.
func (f *Finisher) Poweroff(code uint16) error {
	v := uint32(cmdPass)
	if code != 0 {
		v = uint32(code)<<16 | cmdFail
	}
	return f.bus.Write32(f.base, v)
}

// Reboot implements driver.Power.
func (f *Finisher) Reboot() error {
	return f.bus.Write32(f.base, cmdReset)
}

var _ driver.Power = (*Finisher)(nil)
