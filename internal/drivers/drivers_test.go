package drivers

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/fdtboot/internal/devices/finisher"
	rtcdev "github.com/tinyrange/fdtboot/internal/devices/pl031"
	"github.com/tinyrange/fdtboot/internal/devices/serial"
	"github.com/tinyrange/fdtboot/internal/driver"
	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/fdt"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

type write struct {
	addr  uint64
	value uint64
}

// spyBus records every write before forwarding it to the bus.
type spyBus struct {
	*mmio.Bus
	writes []write
}

func (s *spyBus) Write8(addr uint64, v uint8) error {
	s.writes = append(s.writes, write{addr, uint64(v)})
	return s.Bus.Write8(addr, v)
}

func (s *spyBus) Write32(addr uint64, v uint32) error {
	s.writes = append(s.writes, write{addr, uint64(v)})
	return s.Bus.Write32(addr, v)
}

type machine struct {
	bus    *spyBus
	uart   *serial.UART
	out    *bytes.Buffer
	finish *finisher.Finisher
	root   dtb.Node
}

func newMachine(t *testing.T) *machine {
	t.Helper()
	out := &bytes.Buffer{}
	m := &machine{
		bus:    &spyBus{Bus: mmio.NewBus(0x80000000, 0x1000)},
		uart:   serial.New(out, 0),
		out:    out,
		finish: finisher.New(nil),
	}
	clock := func() time.Time { return time.Unix(1_700_000_000, 0) }
	require.NoError(t, m.bus.AddDevice("uart", 0x10000000, m.uart))
	require.NoError(t, m.bus.AddDevice("rtc", 0x101000, rtcdev.New(clock)))
	require.NoError(t, m.bus.AddDevice("test", 0x100000, m.finish))

	b := fdt.NewBuilder()
	b.BeginNode("")
	b.BeginNode("cpus")
	b.EndNode()
	b.BeginNode("soc")
	b.BeginNode("test@100000")
	b.AddPropertyStringList("compatible", []string{"sifive,test1", "sifive,test0", "syscon"})
	b.AddPropertyU32Array("reg", []uint32{0, 0x100000, 0, 0x1000})
	b.EndNode()
	b.BeginNode("rtc@101000")
	b.AddPropertyString("compatible", "arm,pl031")
	b.AddPropertyU32Array("reg", []uint32{0, 0x101000, 0, 0x1000})
	b.EndNode()
	b.BeginNode("serial@10000000")
	b.AddPropertyString("compatible", "ns16550a")
	b.AddPropertyU32Array("reg", []uint32{0, 0x10000000, 0, 0x100})
	b.AddPropertyU32("clock-frequency", 3686400)
	b.EndNode()
	b.EndNode()
	b.EndNode()

	r, err := dtb.Open(b.Build())
	require.NoError(t, err)
	m.root = r.Root()
	return m
}

func TestRegistry(t *testing.T) {
	reg := Registry()
	require.Same(t, reg, Registry())
	require.Equal(t, []string{"arm,pl031", "ns16550", "ns16550a", "sifive,test0", "sifive,test1"}, reg.Compatibles())
}

func TestUARTByteLandsAtRegisterBase(t *testing.T) {
	m := newMachine(t)
	mgr := driver.NewManager(Registry(), m.bus)
	require.NoError(t, mgr.LoadDrivers(m.root))

	h, ok := driver.Get(mgr, "/soc/serial@10000000", driver.UARTCap)
	require.True(t, ok)

	m.bus.writes = nil
	require.NoError(t, h.Do(func(u driver.UART) error { return u.PutByte('K') }))
	require.Equal(t, []write{{addr: 0x10000000, value: 'K'}}, m.bus.writes)
	require.Equal(t, "K", m.out.String())

	// Initialization selected 8N1 and enabled the FIFOs.
	require.Equal(t, byte(0x03), m.uart.LineControl())
	require.Equal(t, byte(0x07), m.uart.FIFOControl())
}

func TestConsoleAndBaud(t *testing.T) {
	m := newMachine(t)
	mgr := driver.NewManager(Registry(), m.bus)
	require.NoError(t, mgr.LoadDrivers(m.root))

	cons, ok := driver.Get(mgr, "/soc/serial@10000000", driver.ConsoleCap)
	require.True(t, ok)
	_, err := driver.ConsoleWriter(cons).Write([]byte("boot ok\n"))
	require.NoError(t, err)
	require.Equal(t, "boot ok\n", m.out.String())

	uart, ok := driver.Get(mgr, "/soc/serial@10000000", driver.UARTCap)
	require.True(t, ok)
	require.NoError(t, uart.Do(func(u driver.UART) error { return u.SetBaud(115200) }))
	require.Equal(t, uint16(2), m.uart.Divisor())
	require.Equal(t, byte(0x03), m.uart.LineControl())
	require.Error(t, uart.Do(func(u driver.UART) error { return u.SetBaud(0) }))

	m.uart.EnqueueInput([]byte("q"))
	var got byte
	var ready bool
	require.NoError(t, uart.Do(func(u driver.UART) (err error) {
		got, ready, err = u.GetByte()
		return err
	}))
	require.True(t, ready)
	require.Equal(t, byte('q'), got)
}

func TestRTCAndPower(t *testing.T) {
	m := newMachine(t)
	mgr := driver.NewManager(Registry(), m.bus)
	require.NoError(t, mgr.LoadDrivers(m.root))

	rtc, ok := driver.Get(mgr, "/soc/rtc@101000", driver.RTCCap)
	require.True(t, ok)
	var now time.Time
	require.NoError(t, rtc.Do(func(r driver.RTC) (err error) {
		now, err = r.Now()
		return err
	}))
	require.Equal(t, int64(1_700_000_000), now.Unix())

	pwr, ok := driver.Get(mgr, "/soc/test@100000", driver.PowerCap)
	require.True(t, ok)
	require.NoError(t, pwr.Do(func(p driver.Power) error { return p.Poweroff(3) }))
	st, fired := m.finish.Last()
	require.True(t, fired)
	require.Equal(t, finisher.Status{Action: finisher.ActionPoweroff, Code: 3}, st)

	require.NoError(t, pwr.Do(func(p driver.Power) error { return p.Reboot() }))
	st, _ = m.finish.Last()
	require.Equal(t, finisher.ActionReset, st.Action)

	bindings := mgr.Bindings()
	require.Len(t, bindings, 3)
	require.Equal(t, "sifive,test1", bindings[2].Compatible)
}

func TestDriversRejectMissingHardware(t *testing.T) {
	m := newMachine(t)
	// No bus at all: every initializer refuses and nothing is bound.
	mgr := driver.NewManager(Registry(), nil)
	require.NoError(t, mgr.LoadDrivers(m.root))
	require.Empty(t, mgr.Bindings())
	require.Equal(t, driver.NoMatch, mgr.State("/soc/serial@10000000"))
}
