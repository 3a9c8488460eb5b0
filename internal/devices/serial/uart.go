// Package serial models a 16550-compatible UART behind an MMIO window.
package serial

import (
	"io"
	"sync"

	"github.com/tinyrange/fdtboot/internal/mmio"
)

const (
	// DefaultClock is the reference clock QEMU's virt UART advertises.
	DefaultClock = 3686400
	// WindowSize is the MMIO window reserved for the registers.
	WindowSize = 0x100

	regCount = 8
)

// Register indices (before applying the stride).
const (
	RegRBR = 0 // receive buffer (read)
	RegTHR = 0 // transmit holding (write)
	RegIER = 1
	RegIIR = 2 // interrupt identification (read)
	RegFCR = 2 // FIFO control (write)
	RegLCR = 3
	RegMCR = 4
	RegLSR = 5
	RegMSR = 6
	RegSCR = 7
)

const (
	LCRDLAB = 1 << 7
	MCRLoop = 1 << 4

	LSRDataReady = 1 << 0
	LSRTHREmpty  = 1 << 5
	LSRTxEmpty   = 1 << 6

	iirNone = 0x01
)

// UART is a 16550 model. Transmitted bytes are copied verbatim to the output
// writer; input is queued with EnqueueInput.
type UART struct {
	mu     sync.Mutex
	out    io.Writer
	stride uint64

	dll, dlm byte
	ier      byte
	fcr      byte
	lcr      byte
	mcr      byte
	scr      byte

	rx []byte
	tx int
}

// New returns a UART writing to out with registers spaced 1<<regShift bytes apart.
func New(out io.Writer, regShift uint32) *UART {
	stride := uint64(1) << regShift
	if stride == 0 || stride > 4 {
		stride = 1
	}
	return &UART{out: out, stride: stride}
}

// Size implements mmio.Device.
func (u *UART) Size() uint64 { return WindowSize }

// Read implements mmio.Device. Only the low byte of each register is decoded.
func (u *UART) Read(offset uint64, size int) (uint64, error) {
	reg, ok := u.register(offset)
	if !ok {
		return 0, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return uint64(u.readRegister(reg)), nil
}

// Write implements mmio.Device.
func (u *UART) Write(offset uint64, size int, value uint64) error {
	reg, ok := u.register(offset)
	if !ok {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writeRegister(reg, byte(value))
	return nil
}

func (u *UART) register(offset uint64) (uint64, bool) {
	if offset%u.stride != 0 {
		return 0, false
	}
	reg := offset / u.stride
	return reg, reg < regCount
}

func (u *UART) readRegister(reg uint64) byte {
	dlab := u.lcr&LCRDLAB != 0
	switch reg {
	case RegRBR:
		if dlab {
			return u.dll
		}
		if len(u.rx) == 0 {
			return 0
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return b
	case RegIER:
		if dlab {
			return u.dlm
		}
		return u.ier
	case RegIIR:
		return u.iir()
	case RegLCR:
		return u.lcr
	case RegMCR:
		return u.mcr
	case RegLSR:
		lsr := byte(LSRTHREmpty | LSRTxEmpty)
		if len(u.rx) > 0 {
			lsr |= LSRDataReady
		}
		return lsr
	case RegMSR:
		// CTS, DSR and DCD asserted.
		return 0xb0
	case RegSCR:
		return u.scr
	}
	return 0
}

func (u *UART) writeRegister(reg uint64, v byte) {
	dlab := u.lcr&LCRDLAB != 0
	switch reg {
	case RegTHR:
		if dlab {
			u.dll = v
			return
		}
		u.transmit(v)
	case RegIER:
		if dlab {
			u.dlm = v
			return
		}
		u.ier = v & 0x0f
	case RegFCR:
		u.fcr = v
		if v&0x02 != 0 {
			u.rx = nil
		}
	case RegLCR:
		u.lcr = v
	case RegMCR:
		u.mcr = v & 0x1f
	case RegSCR:
		u.scr = v
	}
}

func (u *UART) transmit(v byte) {
	u.tx++
	if u.mcr&MCRLoop != 0 {
		u.rx = append(u.rx, v)
		return
	}
	if u.out != nil {
		_, _ = u.out.Write([]byte{v})
	}
}

func (u *UART) iir() byte {
	switch {
	case u.ier&0x01 != 0 && len(u.rx) > 0:
		return 0x04
	case u.ier&0x02 != 0:
		return 0x02
	}
	return iirNone
}

// EnqueueInput queues bytes for the receive buffer.
func (u *UART) EnqueueInput(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rx = append(u.rx, data...)
}

// Divisor returns the programmed baud divisor latch.
func (u *UART) Divisor() uint16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return uint16(u.dlm)<<8 | uint16(u.dll)
}

// LineControl returns the LCR register.
func (u *UART) LineControl() byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lcr
}

// FIFOControl returns the last value written to FCR.
func (u *UART) FIFOControl() byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fcr
}

// Transmitted returns how many bytes were written to THR.
func (u *UART) Transmitted() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx
}

var _ mmio.Device = (*UART)(nil)
