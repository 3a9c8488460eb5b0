// Package pl031 implements the ARM PrimeCell PL031 real time clock.
package pl031

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyrange/fdtboot/internal/mmio"
)

// Register offsets.
const (
	RegDR   = 0x00 // data (RO), current counter
	RegMR   = 0x04 // match
	RegLR   = 0x08 // load
	RegCR   = 0x0C // control
	RegIMSC = 0x10 // interrupt mask
	RegRIS  = 0x14 // raw interrupt status (RO)
	RegMIS  = 0x18 // masked interrupt status (RO)
	RegICR  = 0x1C // interrupt clear (WO)

	RegPeriphID0 = 0xFE0
	RegPeriphID1 = 0xFE4
	RegPeriphID2 = 0xFE8
	RegPeriphID3 = 0xFEC
	RegPCellID0  = 0xFF0
	RegPCellID1  = 0xFF4
	RegPCellID2  = 0xFF8
	RegPCellID3  = 0xFFC
)

// CREnable starts the counter.
const CREnable = 1 << 0

// WindowSize is the size of the register window.
const WindowSize = 0x1000

// RTC is a PL031 model counting seconds from a host clock.
type RTC struct {
	mu  sync.Mutex
	now func() time.Time

	loadTime time.Time
	lr       uint32
	mr       uint32
	cr       uint32
	imsc     uint32
	ris      uint32
}

// New returns an enabled RTC loaded with the current time. A nil clock uses
// time.Now.
func New(clock func() time.Time) *RTC {
	if clock == nil {
		clock = time.Now
	}
	t := clock()
	return &RTC{
		now:      clock,
		loadTime: t,
		lr:       uint32(t.Unix()),
		cr:       CREnable,
	}
}

// Size implements mmio.Device.
func (p *RTC) Size() uint64 { return WindowSize }

func (p *RTC) counter() uint32 {
	if p.cr&CREnable == 0 {
		return p.lr
	}
	return p.lr + uint32(p.now().Sub(p.loadTime)/time.Second)
}

func (p *RTC) matched() bool {
	return p.mr != 0 && p.counter() >= p.mr
}

// Read implements mmio.Device. Sub-word reads return the addressed bytes of
// the containing register.
func (p *RTC) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > WindowSize {
		return 0, fmt.Errorf("pl031: read at 0x%x out of bounds", offset)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	value := p.readRegister(offset &^ 3)
	shift := (offset & 3) * 8
	v := uint64(value >> shift)
	if size < 4 {
		v &= (1 << (uint(size) * 8)) - 1
	}
	return v, nil
}

func (p *RTC) readRegister(reg uint64) uint32 {
	switch reg {
	case RegDR:
		return p.counter()
	case RegMR:
		return p.mr
	case RegLR:
		return p.lr
	case RegCR:
		return p.cr
	case RegIMSC:
		return p.imsc
	case RegRIS:
		if p.matched() {
			return 1
		}
	case RegMIS:
		if p.matched() && p.imsc&1 != 0 {
			return 1
		}
	case RegPeriphID0:
		return 0x31
	case RegPeriphID1:
		return 0x10
	case RegPeriphID2:
		return 0x04
	case RegPCellID0:
		return 0x0D
	case RegPCellID1:
		return 0xF0
	case RegPCellID2:
		return 0x05
	case RegPCellID3:
		return 0xB1
	}
	return 0
}

// Write implements mmio.Device. Only aligned word writes reach a register.
func (p *RTC) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > WindowSize {
		return fmt.Errorf("pl031: write at 0x%x out of bounds", offset)
	}
	if size != 4 || offset%4 != 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	v := uint32(value)
	switch offset {
	case RegMR:
		p.mr = v
	case RegLR:
		p.lr = v
		p.loadTime = p.now()
	case RegCR:
		if p.cr&CREnable == 0 && v&CREnable != 0 {
			p.loadTime = p.now()
		} else if p.cr&CREnable != 0 && v&CREnable == 0 {
			p.lr = p.counter()
		}
		p.cr = v
	case RegIMSC:
		p.imsc = v
	case RegICR:
		p.ris &^= v
	}
	return nil
}

var _ mmio.Device = (*RTC)(nil)
