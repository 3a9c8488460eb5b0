package fdt_test

import (
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/fdt"
)

func TestBuilderLayout(t *testing.T) {
	b := fdt.NewBuilder()
	b.AddReservation(0x1000, 0x2000)
	b.AddReservation(0, 0)
	b.BeginNode("")
	b.AddPropertyString("model", "test")
	b.BeginNode("cpus")
	b.EndNode()
	b.EndNode()
	blob := b.Build()

	be := binary.BigEndian
	if be.Uint32(blob[0:]) != fdt.Magic {
		t.Fatalf("magic = %#x", be.Uint32(blob[0:]))
	}
	if int(be.Uint32(blob[4:])) != len(blob) {
		t.Fatalf("totalsize = %d, len = %d", be.Uint32(blob[4:]), len(blob))
	}
	if be.Uint32(blob[16:]) != fdt.HeaderSize {
		t.Fatalf("reservation block offset = %d", be.Uint32(blob[16:]))
	}
	// One entry plus the sentinel.
	if be.Uint32(blob[8:]) != fdt.HeaderSize+32 {
		t.Fatalf("structure block offset = %d", be.Uint32(blob[8:]))
	}
	structOff := be.Uint32(blob[8:])
	structSize := be.Uint32(blob[36:])
	if structSize%4 != 0 {
		t.Fatalf("structure block not word aligned: %d", structSize)
	}
	if last := be.Uint32(blob[structOff+structSize-4:]); last != 9 {
		t.Fatalf("structure block ends with %#x", last)
	}
}

func TestBuildPropertyKinds(t *testing.T) {
	root := fdt.Node{
		Name: "",
		Properties: map[string]fdt.Property{
			"compatible": {Strings: []string{"vendor,board", "generic"}},
			"cells":      {U32: []uint32{1, 2}},
			"wide":       {U64: []uint64{0x1122334455667788}},
			"raw":        {Bytes: []byte{0xde, 0xad}},
			"flag":       {Flag: true},
		},
		PropertyOrder: []string{"raw", "compatible"},
		Children:      []fdt.Node{{Name: "cpus"}},
	}
	blob, err := fdt.Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := dtb.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var names []string
	c := r.Root().Properties()
	for {
		p, ok := c.Next()
		if !ok {
			break
		}
		names = append(names, p.Name())
	}
	want := []string{"raw", "compatible", "cells", "flag", "wide"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}

	p, _ := r.Root().Property("compatible")
	if got := p.Strings(); !reflect.DeepEqual(got, []string{"vendor,board", "generic"}) {
		t.Fatalf("compatible = %v", got)
	}
	p, _ = r.Root().Property("wide")
	if v, ok := p.U64(); !ok || v != 0x1122334455667788 {
		t.Fatalf("wide = %#x, %v", v, ok)
	}
	p, _ = r.Root().Property("cells")
	if v, ok := p.Cell(1); !ok || v != 2 {
		t.Fatalf("cells[1] = %d, %v", v, ok)
	}
	p, _ = r.Root().Property("flag")
	if p.Len() != 0 {
		t.Fatalf("flag has %d bytes", p.Len())
	}
}

func TestBuildRejectsBadProperties(t *testing.T) {
	tests := map[string]fdt.Property{
		"empty": {},
		"mixed": {Strings: []string{"a"}, U32: []uint32{1}},
	}
	for name, prop := range tests {
		_, err := fdt.Build(fdt.Node{Properties: map[string]fdt.Property{name: prop}})
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := (fdt.Board{Reserved: []fdt.Reservation{{}}}).Build(); err == nil {
		t.Fatalf("expected error for (0,0) reservation")
	}
}

const boardYAML = `
bootCPU: 1
reserved:
  - address: 0x87e00000
    size: 0x200000
root:
  name: ""
  properties:
    compatible:
      strings: ["riscv-virtio"]
  children:
    - name: cpus
      properties:
        "#address-cells":
          u32: [1]
    - name: soc
      children:
        - name: serial@10000000
          properties:
            compatible:
              strings: ["ns16550a"]
            reg:
              u32: [0, 0x10000000, 0, 0x100]
`

func TestParseBoard(t *testing.T) {
	bd, err := fdt.ParseBoard([]byte(boardYAML))
	if err != nil {
		t.Fatalf("ParseBoard: %v", err)
	}
	blob, err := bd.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r, err := dtb.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Header().BootCPUID != 1 {
		t.Fatalf("BootCPUID = %d", r.Header().BootCPUID)
	}
	rc := r.Reservations()
	e, ok := rc.Next()
	if !ok || e.Address != 0x87e00000 || e.Size != 0x200000 {
		t.Fatalf("reservation = %+v, %v", e, ok)
	}
	serial, ok := r.FindNode("/soc/serial@10000000")
	if !ok {
		t.Fatalf("serial node missing")
	}
	reg, _ := serial.Property("reg")
	if v, _ := reg.Cell(1); v != 0x10000000 {
		t.Fatalf("reg[1] = %#x", v)
	}

	out, err := fdt.MarshalBoard(bd)
	if err != nil {
		t.Fatalf("MarshalBoard: %v", err)
	}
	again, err := fdt.ParseBoard(out)
	if err != nil {
		t.Fatalf("ParseBoard(MarshalBoard): %v", err)
	}
	if !reflect.DeepEqual(again.Root.Children[1], bd.Root.Children[1]) {
		t.Fatalf("soc subtree changed across YAML encode")
	}
}
