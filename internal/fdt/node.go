package fdt

import "sort"

// Property describes a single device-tree property in a JSON/YAML-friendly form.
// Exactly one of the typed fields should be populated for a given property.
type Property struct {
	Strings []string `json:"strings,omitempty" yaml:"strings,omitempty"`
	U32     []uint32 `json:"u32,omitempty" yaml:"u32,omitempty"`
	U64     []uint64 `json:"u64,omitempty" yaml:"u64,omitempty"`
	Bytes   []byte   `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Flag    bool     `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields on the property are populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Node describes a device-tree node using JSON/YAML-friendly structures.
type Node struct {
	Name       string              `json:"name" yaml:"name"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []Node              `json:"children,omitempty" yaml:"children,omitempty"`

	// PropertyOrder fixes the emission order of Properties. Names not listed
	// are emitted afterwards in sorted order.
	PropertyOrder []string `json:"-" yaml:"-"`
}

func (n Node) orderedPropertyNames() []string {
	names := make([]string, 0, len(n.Properties))
	seen := make(map[string]bool, len(n.PropertyOrder))
	for _, name := range n.PropertyOrder {
		if _, ok := n.Properties[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range n.Properties {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Board is a complete blob description: reservations plus the root node.
type Board struct {
	BootCPU  uint32        `json:"bootCPU,omitempty" yaml:"bootCPU,omitempty"`
	Reserved []Reservation `json:"reserved,omitempty" yaml:"reserved,omitempty"`
	Root     Node          `json:"root" yaml:"root"`
}
