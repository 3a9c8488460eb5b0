// Package finisher models the SiFive test device ("sifive,test0") that QEMU's
// virt machine uses to power off or reset from the guest.
package finisher

import (
	"fmt"
	"sync"

	"github.com/tinyrange/fdtboot/internal/mmio"
)

// Command values written to the low half of the control word.
const (
	CmdFail  = 0x3333
	CmdPass  = 0x5555
	CmdReset = 0x7777
)

// WindowSize is the register window size.
const WindowSize = 0x1000

// Action is what the guest asked the machine to do.
type Action int

const (
	ActionNone Action = iota
	ActionPoweroff
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionPoweroff:
		return "poweroff"
	case ActionReset:
		return "reset"
	default:
		return "none"
	}
}

// Status is a decoded finisher command.
type Status struct {
	Action Action
	// Code is the exit code; zero for a pass.
	Code uint16
}

func (s Status) String() string {
	if s.Action == ActionPoweroff && s.Code != 0 {
		return fmt.Sprintf("poweroff (fail, code %d)", s.Code)
	}
	return s.Action.String()
}

// Finisher records the last command and forwards it to an optional callback.
type Finisher struct {
	mu     sync.Mutex
	last   Status
	fired  bool
	onExit func(Status)
}

// New returns a finisher calling onExit for every recognised command.
func New(onExit func(Status)) *Finisher {
	return &Finisher{onExit: onExit}
}

// Size implements mmio.Device.
func (f *Finisher) Size() uint64 { return WindowSize }

// Read implements mmio.Device. The control register reads as zero.
func (f *Finisher) Read(offset uint64, size int) (uint64, error) {
	return 0, nil
}

// Write implements mmio.Device.
func (f *Finisher) Write(offset uint64, size int, value uint64) error {
	if offset != 0 || size != 4 {
		return nil
	}
	var st Status
	switch uint16(value) {
	case CmdPass:
		st = Status{Action: ActionPoweroff}
	case CmdFail:
		st = Status{Action: ActionPoweroff, Code: uint16(value >> 16)}
	case CmdReset:
		st = Status{Action: ActionReset}
	default:
		return fmt.Errorf("finisher: unknown command %#x", value)
	}

	f.mu.Lock()
	f.last, f.fired = st, true
	cb := f.onExit
	f.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return nil
}

// Last returns the most recent command, if any was written.
func (f *Finisher) Last() (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.fired
}

var _ mmio.Device = (*Finisher)(nil)
