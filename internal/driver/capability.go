package driver

import (
	"fmt"
	"io"
	"time"
)

// Kind is the closed set of capabilities a driver can expose. A driver
// instance may be registered under several kinds at the same path.
type Kind int

const (
	KindUART Kind = iota + 1
	KindConsole
	KindPower
	KindRTC
)

var kindNames = map[Kind]string{
	KindUART:    "uart",
	KindConsole: "console",
	KindPower:   "power",
	KindRTC:     "rtc",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds lists every capability kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindUART, KindConsole, KindPower, KindRTC}
}

// UART is byte-level serial I/O.
type UART interface {
	PutByte(b byte) error
	// GetByte returns false when no byte is waiting.
	GetByte() (byte, bool, error)
	SetBaud(baud uint32) error
}

// Console accepts log text.
type Console interface {
	io.Writer
}

// Power turns the machine off or restarts it.
type Power interface {
	Poweroff(code uint16) error
	Reboot() error
}

// RTC reads wall-clock time.
type RTC interface {
	Now() (time.Time, error)
}

// Capability ties a Kind to the Go interface a caller receives for it.
type Capability[T any] struct {
	kind Kind
}

// Kind returns the capability's kind tag.
func (c Capability[T]) Kind() Kind { return c.kind }

func (c Capability[T]) String() string { return c.kind.String() }

var (
	UARTCap    = Capability[UART]{kind: KindUART}
	ConsoleCap = Capability[Console]{kind: KindConsole}
	PowerCap   = Capability[Power]{kind: KindPower}
	RTCCap     = Capability[RTC]{kind: KindRTC}
)
