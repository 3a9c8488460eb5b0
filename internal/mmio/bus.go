// Package mmio models a physical address space: RAM plus memory-mapped
// devices. Drivers never touch device state directly; every register access
// goes through an Accessor.
package mmio

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Devices on the supported platforms are little-endian.
var regEndian = binary.LittleEndian

// Device is a memory-mapped peripheral.
type Device interface {
	// Read reads size bytes from the device at offset.
	Read(offset uint64, size int) (uint64, error)
	// Write writes size bytes to the device at offset.
	Write(offset uint64, size int, value uint64) error
	// Size returns the length of the device's register window.
	Size() uint64
}

// Accessor is the register interface drivers program against.
type Accessor interface {
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, value uint8) error
	Write16(addr uint64, value uint16) error
	Write32(addr uint64, value uint32) error
	Write64(addr uint64, value uint64) error
}

// MemoryRegion is a contiguous block of RAM.
type MemoryRegion struct {
	Data []byte
}

// NewMemoryRegion allocates a zeroed region of the given size.
func NewMemoryRegion(size uint64) *MemoryRegion {
	return &MemoryRegion{Data: make([]byte, size)}
}

// Read implements Device.
func (m *MemoryRegion) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("memory read out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		return uint64(m.Data[offset]), nil
	case 2:
		return uint64(regEndian.Uint16(m.Data[offset:])), nil
	case 4:
		return uint64(regEndian.Uint32(m.Data[offset:])), nil
	case 8:
		return regEndian.Uint64(m.Data[offset:]), nil
	default:
		return 0, fmt.Errorf("invalid read size: %d", size)
	}
}

// Write implements Device.
func (m *MemoryRegion) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("memory write out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		m.Data[offset] = byte(value)
	case 2:
		regEndian.PutUint16(m.Data[offset:], uint16(value))
	case 4:
		regEndian.PutUint32(m.Data[offset:], uint32(value))
	case 8:
		regEndian.PutUint64(m.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

// Size implements Device.
func (m *MemoryRegion) Size() uint64 {
	return uint64(len(m.Data))
}

// ReadAt implements io.ReaderAt.
func (m *MemoryRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Slice returns length bytes starting at offset, or nil if out of range.
func (m *MemoryRegion) Slice(offset, length uint64) []byte {
	if offset+length > uint64(len(m.Data)) || offset+length < offset {
		return nil
	}
	return m.Data[offset : offset+length : offset+length]
}

// Mapping places a device at a base address.
type Mapping struct {
	Name   string
	Base   uint64
	Size   uint64
	Device Device
}

// End returns the first address past the mapping.
func (m Mapping) End() uint64 { return m.Base + m.Size }

// Bus routes physical addresses to RAM or a device. The layout is fixed once
// the bus is handed to drivers; devices synchronize their own state.
type Bus struct {
	RAM     *MemoryRegion
	RAMBase uint64

	mappings []Mapping
}

// NewBus creates a bus with ramSize bytes of RAM at ramBase.
func NewBus(ramBase, ramSize uint64) *Bus {
	return &Bus{
		RAM:     NewMemoryRegion(ramSize),
		RAMBase: ramBase,
	}
}

// AddDevice maps dev at base. Overlapping windows are rejected.
func (bus *Bus) AddDevice(name string, base uint64, dev Device) error {
	m := Mapping{Name: name, Base: base, Size: dev.Size(), Device: dev}
	if m.Size == 0 {
		return fmt.Errorf("mmio: device %s has an empty window", name)
	}
	if bus.RAM != nil && overlaps(m.Base, m.End(), bus.RAMBase, bus.RAMBase+bus.RAM.Size()) {
		return fmt.Errorf("mmio: device %s at 0x%x overlaps RAM", name, base)
	}
	for _, other := range bus.mappings {
		if overlaps(m.Base, m.End(), other.Base, other.End()) {
			return fmt.Errorf("mmio: device %s at 0x%x overlaps %s at 0x%x", name, base, other.Name, other.Base)
		}
	}
	bus.mappings = append(bus.mappings, m)
	sort.Slice(bus.mappings, func(i, j int) bool { return bus.mappings[i].Base < bus.mappings[j].Base })
	return nil
}

// Mappings returns the device windows ordered by base address.
func (bus *Bus) Mappings() []Mapping {
	return append([]Mapping(nil), bus.mappings...)
}

func overlaps(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}

func (bus *Bus) findDevice(addr uint64) (Device, uint64, error) {
	// Fast path for RAM
	if bus.RAM != nil && addr >= bus.RAMBase && addr < bus.RAMBase+bus.RAM.Size() {
		return bus.RAM, addr - bus.RAMBase, nil
	}
	i := sort.Search(len(bus.mappings), func(i int) bool { return bus.mappings[i].End() > addr })
	if i < len(bus.mappings) && addr >= bus.mappings[i].Base {
		return bus.mappings[i].Device, addr - bus.mappings[i].Base, nil
	}
	return nil, 0, fmt.Errorf("no device at address 0x%x", addr)
}

// Read reads size bytes at addr.
func (bus *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

// Write writes size bytes at addr.
func (bus *Bus) Write(addr uint64, size int, value uint64) error {
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

func (bus *Bus) Read8(addr uint64) (uint8, error) {
	val, err := bus.Read(addr, 1)
	return uint8(val), err
}

func (bus *Bus) Read16(addr uint64) (uint16, error) {
	val, err := bus.Read(addr, 2)
	return uint16(val), err
}

func (bus *Bus) Read32(addr uint64) (uint32, error) {
	val, err := bus.Read(addr, 4)
	return uint32(val), err
}

func (bus *Bus) Read64(addr uint64) (uint64, error) {
	return bus.Read(addr, 8)
}

func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.Write(addr, 1, uint64(value))
}

func (bus *Bus) Write16(addr uint64, value uint16) error {
	return bus.Write(addr, 2, uint64(value))
}

func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.Write(addr, 4, uint64(value))
}

func (bus *Bus) Write64(addr uint64, value uint64) error {
	return bus.Write(addr, 8, value)
}

// LoadBytes copies data into the address space at addr.
func (bus *Bus) LoadBytes(addr uint64, data []byte) error {
	// Fast path for RAM
	if bus.RAM != nil && addr >= bus.RAMBase && addr+uint64(len(data)) <= bus.RAMBase+bus.RAM.Size() {
		copy(bus.RAM.Data[addr-bus.RAMBase:], data)
		return nil
	}
	for i, b := range data {
		if err := bus.Write8(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// RAMSlice returns a view of length bytes of RAM at physical address addr.
func (bus *Bus) RAMSlice(addr, length uint64) ([]byte, error) {
	if bus.RAM == nil || addr < bus.RAMBase {
		return nil, fmt.Errorf("mmio: 0x%x is not in RAM", addr)
	}
	s := bus.RAM.Slice(addr-bus.RAMBase, length)
	if s == nil {
		return nil, fmt.Errorf("mmio: RAM range 0x%x+0x%x out of bounds", addr, length)
	}
	return s, nil
}

var (
	_ Device   = (*MemoryRegion)(nil)
	_ Accessor = (*Bus)(nil)
)
