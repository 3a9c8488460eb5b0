// Package pl031 drives the ARM PL031 real time clock.
package pl031

import (
	"fmt"
	"time"

	"github.com/tinyrange/fdtboot/internal/driver"
	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

const (
	regDR        = 0x00
	regPeriphID0 = 0xFE0

	partNumberLow = 0x31
)

// RTC is a driver instance for one PL031.
type RTC struct {
	bus  mmio.Accessor
	base uint64
}

// New returns a driver for the RTC at base.
func New(bus mmio.Accessor, base uint64) *RTC {
	return &RTC{bus: bus, base: base}
}

// Descriptor returns the registry entry for this driver.
func Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:       "pl031",
		Compatible: []string{"arm,pl031"},
		Init:       initNode,
	}
}

func initNode(n dtb.Node, path string, m *driver.Manager) error {
	base, err := driver.RegBase(n)
	if err != nil {
		return err
	}
	if m.Bus() == nil {
		return fmt.Errorf("pl031: no register bus")
	}
	rtc := New(m.Bus(), base)
	if err := rtc.Probe(); err != nil {
		return err
	}
	return driver.Register(m, path, driver.RTCCap, driver.NewInstance("pl031", rtc))
}

// Probe checks the PrimeCell part number.
func (r *RTC) Probe() error {
	id, err := r.bus.Read32(r.base + regPeriphID0)
	if err != nil {
		return fmt.Errorf("pl031: %w", err)
	}
	if id&0xff != partNumberLow {
		return fmt.Errorf("pl031: unexpected peripheral id %#x", id)
	}
	return nil
}

// Now implements driver.RTC.
func (r *RTC) Now() (time.Time, error) {
	secs, err := r.bus.Read32(r.base + regDR)
	if err != nil {
		return time.Time{}, fmt.Errorf("pl031: %w", err)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

var _ driver.RTC = (*RTC)(nil)
