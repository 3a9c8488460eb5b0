package mmio

import (
	"testing"
)

type scratch struct {
	last   uint64
	offset uint64
	size   int
}

func (s *scratch) Read(offset uint64, size int) (uint64, error) { return offset, nil }
func (s *scratch) Write(offset uint64, size int, value uint64) error {
	s.offset, s.size, s.last = offset, size, value
	return nil
}
func (s *scratch) Size() uint64 { return 0x100 }

func TestBusRouting(t *testing.T) {
	bus := NewBus(0x80000000, 0x1000)
	dev := &scratch{}
	if err := bus.AddDevice("scratch", 0x10000000, dev); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	if err := bus.Write8(0x10000004, 0x41); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	if dev.offset != 4 || dev.size != 1 || dev.last != 0x41 {
		t.Fatalf("device saw offset=%d size=%d value=%#x", dev.offset, dev.size, dev.last)
	}
	if v, err := bus.Read32(0x10000010); err != nil || v != 0x10 {
		t.Fatalf("Read32 = %#x, %v", v, err)
	}

	if err := bus.Write32(0x80000010, 0xdeadbeef); err != nil {
		t.Fatalf("Write32 RAM: %v", err)
	}
	if bus.RAM.Data[0x10] != 0xef || bus.RAM.Data[0x13] != 0xde {
		t.Fatalf("RAM not little-endian: % x", bus.RAM.Data[0x10:0x14])
	}
	if v, err := bus.Read64(0x80000010); err != nil || v != 0xdeadbeef {
		t.Fatalf("Read64 = %#x, %v", v, err)
	}

	if _, err := bus.Read8(0x20000000); err == nil {
		t.Fatalf("read of unmapped address succeeded")
	}
	if err := bus.Write8(0x10000100, 0); err == nil {
		t.Fatalf("write past device window succeeded")
	}
}

func TestBusOverlap(t *testing.T) {
	bus := NewBus(0x80000000, 0x1000)
	if err := bus.AddDevice("a", 0x1000, &scratch{}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := bus.AddDevice("b", 0x10f0, &scratch{}); err == nil {
		t.Fatalf("overlapping device accepted")
	}
	if err := bus.AddDevice("c", 0x80000800, &scratch{}); err == nil {
		t.Fatalf("device overlapping RAM accepted")
	}
	if err := bus.AddDevice("d", 0x100, &scratch{}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	m := bus.Mappings()
	if len(m) != 2 || m[0].Name != "d" || m[1].Name != "a" {
		t.Fatalf("mappings = %+v", m)
	}
}

func TestLoadBytesAndSlice(t *testing.T) {
	bus := NewBus(0x80000000, 0x100)
	if err := bus.LoadBytes(0x800000f0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	s, err := bus.RAMSlice(0x800000f0, 3)
	if err != nil {
		t.Fatalf("RAMSlice: %v", err)
	}
	if s[0] != 1 || s[2] != 3 {
		t.Fatalf("slice = % x", s)
	}
	if _, err := bus.RAMSlice(0x800000f0, 0x20); err == nil {
		t.Fatalf("out of range slice succeeded")
	}
	if _, err := bus.RAMSlice(0x1000, 1); err == nil {
		t.Fatalf("slice below RAM succeeded")
	}
}
