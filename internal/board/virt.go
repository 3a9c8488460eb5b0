// Package board assembles a simulated riscv64 "virt" machine: an address
// space with RAM and devices plus the device tree describing it, loaded at
// the top of RAM the way firmware hands it to a kernel.
package board

import (
	"fmt"
	"io"
	"time"

	"github.com/tinyrange/fdtboot/internal/devices/finisher"
	"github.com/tinyrange/fdtboot/internal/devices/pl031"
	"github.com/tinyrange/fdtboot/internal/devices/serial"
	"github.com/tinyrange/fdtboot/internal/fdt"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

// Physical memory map.
const (
	RAMBase   = 0x80000000
	TestBase  = 0x100000
	TestSize  = finisher.WindowSize
	RTCBase   = 0x101000
	RTCSize   = pl031.WindowSize
	CLINTBase = 0x2000000
	CLINTSize = 0x10000
	PLICBase  = 0xc000000
	PLICSize  = 0x600000
	UARTBase  = 0x10000000
	UARTSize  = serial.WindowSize

	DefaultRAMSize    = 16 << 20
	DefaultKernelSize = 2 << 20
	DefaultStdoutPath = "serial0:115200n8"

	blobAlign = 0x1000
)

// Config describes the machine to build. Zero values pick defaults.
type Config struct {
	RAMSize    uint64
	KernelSize uint64
	Harts      int
	Bootargs   string
	StdoutPath string

	// Output receives UART transmit bytes.
	Output io.Writer
	// Clock drives the RTC; nil means time.Now.
	Clock func() time.Time
	// OnExit is called when the guest writes to the test finisher.
	OnExit func(finisher.Status)
}

func (c Config) withDefaults() Config {
	if c.RAMSize == 0 {
		c.RAMSize = DefaultRAMSize
	}
	if c.KernelSize == 0 {
		c.KernelSize = DefaultKernelSize
	}
	if c.Harts <= 0 {
		c.Harts = 1
	}
	if c.StdoutPath == "" {
		c.StdoutPath = DefaultStdoutPath
	}
	return c
}

// Machine is an assembled board.
type Machine struct {
	Bus      *mmio.Bus
	UART     *serial.UART
	RTC      *pl031.RTC
	Finisher *finisher.Finisher

	Harts     int
	KernelEnd uint64
	BlobAddr  uint64
	BlobSize  uint64
}

// NewVirt builds the machine and loads its device tree into RAM.
func NewVirt(cfg Config) (*Machine, error) {
	cfg = cfg.withDefaults()
	if cfg.KernelSize >= cfg.RAMSize {
		return nil, fmt.Errorf("board: kernel size %#x does not fit in %#x bytes of RAM", cfg.KernelSize, cfg.RAMSize)
	}

	m := &Machine{
		Bus:       mmio.NewBus(RAMBase, cfg.RAMSize),
		UART:      serial.New(cfg.Output, 0),
		RTC:       pl031.New(cfg.Clock),
		Finisher:  finisher.New(cfg.OnExit),
		Harts:     cfg.Harts,
		KernelEnd: RAMBase + cfg.KernelSize,
	}
	devices := []struct {
		name string
		base uint64
		dev  mmio.Device
	}{
		{"test", TestBase, m.Finisher},
		{"rtc", RTCBase, m.RTC},
		{"uart", UARTBase, m.UART},
	}
	for _, d := range devices {
		if err := m.Bus.AddDevice(d.name, d.base, d.dev); err != nil {
			return nil, fmt.Errorf("board: %w", err)
		}
	}

	// The blob reserves itself, so its size is known before its address.
	probe := GenerateFDT(cfg, RAMBase, 1)
	size := uint64(len(probe))
	addr := (RAMBase + cfg.RAMSize - size) &^ (blobAlign - 1)
	if addr < m.KernelEnd {
		return nil, fmt.Errorf("board: no room for a %d byte device tree", size)
	}
	blob := GenerateFDT(cfg, addr, size)
	if uint64(len(blob)) != size {
		return nil, fmt.Errorf("board: device tree size changed from %d to %d", size, len(blob))
	}
	if err := m.Bus.LoadBytes(addr, blob); err != nil {
		return nil, fmt.Errorf("board: load device tree: %w", err)
	}
	m.BlobAddr, m.BlobSize = addr, size
	return m, nil
}

// Blob returns the device tree as it sits in guest RAM.
func (m *Machine) Blob() []byte {
	b, err := m.Bus.RAMSlice(m.BlobAddr, m.BlobSize)
	if err != nil {
		return nil
	}
	return b
}

func regCells(base, size uint64) []uint32 {
	return []uint32{uint32(base >> 32), uint32(base), uint32(size >> 32), uint32(size)}
}

// GenerateFDT produces the device tree for cfg, reserving [blobAddr,
// blobAddr+blobSize) for the tree itself.
func GenerateFDT(cfg Config, blobAddr, blobSize uint64) []byte {
	cfg = cfg.withDefaults()
	f := fdt.NewBuilder()
	f.AddReservation(blobAddr, blobSize)

	f.BeginNode("")
	f.AddPropertyU32("#address-cells", 2)
	f.AddPropertyU32("#size-cells", 2)
	f.AddPropertyString("compatible", "riscv-virtio")
	f.AddPropertyString("model", "riscv-virtio,qemu")

	f.BeginNode("aliases")
	f.AddPropertyString("serial0", "/soc/serial@10000000")
	f.AddPropertyString("rtc0", "/soc/rtc@101000")
	f.EndNode()

	f.BeginNode("chosen")
	if cfg.Bootargs != "" {
		f.AddPropertyString("bootargs", cfg.Bootargs)
	}
	f.AddPropertyString("stdout-path", cfg.StdoutPath)
	f.EndNode()

	f.BeginNode("cpus")
	f.AddPropertyU32("#address-cells", 1)
	f.AddPropertyU32("#size-cells", 0)
	f.AddPropertyU32("timebase-frequency", 10000000)
	for hart := 0; hart < cfg.Harts; hart++ {
		f.BeginNode(fmt.Sprintf("cpu@%d", hart))
		f.AddPropertyString("device_type", "cpu")
		f.AddPropertyU32("reg", uint32(hart))
		f.AddPropertyString("status", "okay")
		f.AddPropertyString("compatible", "riscv")
		f.AddPropertyString("riscv,isa", "rv64imafdc_zicsr_zifencei")
		f.AddPropertyString("mmu-type", "riscv,sv48")

		f.BeginNode("interrupt-controller")
		f.AddPropertyU32("#interrupt-cells", 1)
		f.AddPropertyEmpty("interrupt-controller")
		f.AddPropertyString("compatible", "riscv,cpu-intc")
		f.AddPropertyU32("phandle", uint32(hart+1))
		f.EndNode()

		f.EndNode()
	}
	f.EndNode() // cpus

	f.BeginNode(fmt.Sprintf("memory@%x", uint64(RAMBase)))
	f.AddPropertyString("device_type", "memory")
	f.AddPropertyU32Array("reg", regCells(RAMBase, cfg.RAMSize))
	f.EndNode()

	plic := uint32(cfg.Harts + 1)
	f.BeginNode("soc")
	f.AddPropertyU32("#address-cells", 2)
	f.AddPropertyU32("#size-cells", 2)
	f.AddPropertyStringList("compatible", []string{"simple-bus"})
	f.AddPropertyEmpty("ranges")

	f.BeginNode(fmt.Sprintf("test@%x", TestBase))
	f.AddPropertyStringList("compatible", []string{"sifive,test1", "sifive,test0", "syscon"})
	f.AddPropertyU32Array("reg", regCells(TestBase, TestSize))
	f.EndNode()

	f.BeginNode(fmt.Sprintf("rtc@%x", RTCBase))
	f.AddPropertyStringList("compatible", []string{"arm,pl031", "arm,primecell"})
	f.AddPropertyU32Array("reg", regCells(RTCBase, RTCSize))
	f.EndNode()

	f.BeginNode(fmt.Sprintf("clint@%x", CLINTBase))
	f.AddPropertyStringList("compatible", []string{"sifive,clint0", "riscv,clint0"})
	f.AddPropertyU32Array("reg", regCells(CLINTBase, CLINTSize))
	var clintIRQs []uint32
	for hart := 0; hart < cfg.Harts; hart++ {
		clintIRQs = append(clintIRQs, uint32(hart+1), 3, uint32(hart+1), 7)
	}
	f.AddPropertyU32Array("interrupts-extended", clintIRQs)
	f.EndNode()

	f.BeginNode(fmt.Sprintf("plic@%x", PLICBase))
	f.AddPropertyString("compatible", "sifive,plic-1.0.0")
	f.AddPropertyU32("#interrupt-cells", 1)
	f.AddPropertyEmpty("interrupt-controller")
	f.AddPropertyU32Array("reg", regCells(PLICBase, PLICSize))
	f.AddPropertyU32("riscv,ndev", 127)
	f.AddPropertyU32("phandle", plic)
	f.EndNode()

	f.BeginNode(fmt.Sprintf("serial@%x", UARTBase))
	f.AddPropertyString("compatible", "ns16550a")
	f.AddPropertyU32Array("reg", regCells(UARTBase, UARTSize))
	f.AddPropertyU32("clock-frequency", serial.DefaultClock)
	f.AddPropertyU32("interrupts", 10)
	f.AddPropertyU32("interrupt-parent", plic)
	f.EndNode()

	f.EndNode() // soc
	f.EndNode() // root

	return f.Build()
}
