// Package ns16550a drives 16550-compatible UARTs.
package ns16550a

import (
	"errors"
	"fmt"

	"github.com/tinyrange/fdtboot/internal/driver"
	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

// DefaultClock is assumed when the node has no clock-frequency.
const DefaultClock = 3686400

const (
	regTHR = 0
	regRBR = 0
	regDLL = 0
	regIER = 1
	regDLM = 1
	regFCR = 2
	regLCR = 3
	regLSR = 5

	lcr8N1  = 0x03
	lcrDLAB = 0x80
	fcrInit = 0x07 // enable and clear both FIFOs

	lsrDataReady = 0x01
	lsrTHREmpty  = 0x20

	txSpinLimit = 1 << 16
)

// ErrTxTimeout is returned when the transmitter never drains.
var ErrTxTimeout = errors.New("ns16550a: transmitter stuck")

// UART is a driver instance bound to one register window.
type UART struct {
	bus   mmio.Accessor
	base  uint64
	shift uint32
	clock uint32
}

// New returns a driver for the UART at base. Registers are spaced
// 1<<regShift bytes apart.
func New(bus mmio.Accessor, base uint64, regShift, clock uint32) *UART {
	if clock == 0 {
		clock = DefaultClock
	}
	return &UART{bus: bus, base: base, shift: regShift, clock: clock}
}

// Descriptor returns the registry entry for this driver.
func Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:       "ns16550a",
		Compatible: []string{"ns16550a", "ns16550"},
		Init:       initNode,
	}
}

func initNode(n dtb.Node, path string, m *driver.Manager) error {
	base, err := driver.RegBase(n)
	if err != nil {
		return err
	}
	if m.Bus() == nil {
		return errors.New("ns16550a: no register bus")
	}
	u := New(m.Bus(),
		base,
		driver.U32Property(n, "reg-shift", 0),
		driver.U32Property(n, "clock-frequency", DefaultClock),
	)
	if err := u.Reset(); err != nil {
		return err
	}

	inst := driver.NewInstance("ns16550a", u)
	if err := driver.Register(m, path, driver.UARTCap, inst); err != nil {
		return err
	}
	return driver.Register(m, path, driver.ConsoleCap, inst)
}

// Base returns the register window address.
func (u *UART) Base() uint64 { return u.base }

func (u *UART) addr(reg uint64) uint64 {
	return u.base + reg<<u.shift
}

// Reset masks interrupts and selects 8N1 with FIFOs enabled. The baud rate
// set by firmware is left alone.
func (u *UART) Reset() error {
	if err := u.bus.Write8(u.addr(regIER), 0); err != nil {
		return fmt.Errorf("ns16550a: %w", err)
	}
	if err := u.bus.Write8(u.addr(regLCR), lcr8N1); err != nil {
		return fmt.Errorf("ns16550a: %w", err)
	}
	if err := u.bus.Write8(u.addr(regFCR), fcrInit); err != nil {
		return fmt.Errorf("ns16550a: %w", err)
	}
	return nil
}

// PutByte implements driver.UART.
func (u *UART) PutByte(b byte) error {
	for i := 0; ; i++ {
		lsr, err := u.bus.Read8(u.addr(regLSR))
		if err != nil {
			return err
		}
		if lsr&lsrTHREmpty != 0 {
			break
		}
		if i >= txSpinLimit {
			return ErrTxTimeout
		}
	}
	return u.bus.Write8(u.addr(regTHR), b)
}

// GetByte implements driver.UART.
func (u *UART) GetByte() (byte, bool, error) {
	lsr, err := u.bus.Read8(u.addr(regLSR))
	if err != nil {
		return 0, false, err
	}
	if lsr&lsrDataReady == 0 {
		return 0, false, nil
	}
	b, err := u.bus.Read8(u.addr(regRBR))
	if err != nil {
		return 0, false, err
	}
	return b, true, nil
}

// SetBaud implements driver.UART by reprogramming the divisor latch.
func (u *UART) SetBaud(baud uint32) error {
	if baud == 0 {
		return fmt.Errorf("ns16550a: invalid baud rate 0")
	}
	div := u.clock / (16 * baud)
	if div == 0 || div > 0xffff {
		return fmt.Errorf("ns16550a: baud %d unreachable from %d Hz clock", baud, u.clock)
	}

	lcr, err := u.bus.Read8(u.addr(regLCR))
	if err != nil {
		return err
	}
	writes := []struct {
		reg uint64
		v   uint8
	}{
		{regLCR, lcr | lcrDLAB},
		{regDLL, uint8(div)},
		{regDLM, uint8(div >> 8)},
		{regLCR, lcr &^ lcrDLAB},
	}
	for _, w := range writes {
		if err := u.bus.Write8(u.addr(w.reg), w.v); err != nil {
			return err
		}
	}
	return nil
}

// Write implements driver.Console.
func (u *UART) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := u.PutByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

var (
	_ driver.UART    = (*UART)(nil)
	_ driver.Console = (*UART)(nil)
)
