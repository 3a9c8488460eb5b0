package fdt

import (
	"encoding/binary"
	"fmt"
)

// Build serializes the provided node tree into an FDT blob.
func Build(root Node) ([]byte, error) {
	return Board{Root: root}.Build()
}

// Build serializes the board into an FDT blob.
func (bd Board) Build() ([]byte, error) {
	b := NewBuilder()
	b.SetBootCPU(bd.BootCPU)
	for _, r := range bd.Reserved {
		if r.Address == 0 && r.Size == 0 {
			return nil, fmt.Errorf("fdt reservation (0,0) would terminate the reservation block")
		}
		b.AddReservation(r.Address, r.Size)
	}
	if err := emitNode(b, bd.Root); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func emitNode(b *Builder, n Node) error {
	b.BeginNode(n.Name)

	for _, name := range n.orderedPropertyNames() {
		if err := emitProperty(b, name, n.Properties[name]); err != nil {
			return fmt.Errorf("fdt node %q: %w", n.Name, err)
		}
	}

	for _, child := range n.Children {
		if err := emitNode(b, child); err != nil {
			return err
		}
	}

	b.EndNode()
	return nil
}

func emitProperty(b *Builder, name string, prop Property) error {
	if prop.DefinedCount() == 0 {
		return fmt.Errorf("fdt property %q has no values", name)
	}
	if prop.DefinedCount() > 1 {
		return fmt.Errorf("fdt property %q has multiple value kinds", name)
	}
	switch prop.Kind() {
	case "strings":
		b.AddPropertyStringList(name, prop.Strings)
	case "u32":
		b.AddPropertyU32Array(name, prop.U32)
	case "u64":
		data := make([]byte, 0, len(prop.U64)*8)
		for _, v := range prop.U64 {
			data = binary.BigEndian.AppendUint64(data, v)
		}
		b.AddPropertyBytes(name, data)
	case "bytes":
		b.AddPropertyBytes(name, prop.Bytes)
	case "flag":
		b.AddPropertyEmpty(name)
	default:
		return fmt.Errorf("fdt property %q has unsupported kind %q", name, prop.Kind())
	}
	return nil
}
