// Package dts compiles a subset of device tree source into board
// descriptions that the fdt package can serialize.
//
// Supported: the /dts-v1/ header, /memreserve/ entries, nested nodes,
// properties holding strings, <cells>, [bytes] or nothing, comma-separated
// mixtures of those, and C/C++ style comments. Labels, references, includes
// and overlays are not supported.
package dts

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"

	"github.com/tinyrange/fdtboot/internal/fdt"
)

var parser = participle.MustBuild[sourceFile](
	participle.Lexer(sourceLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Parse compiles source text into a board description.
func Parse(filename, src string) (fdt.Board, error) {
	file, err := parser.ParseString(filename, src)
	if err != nil {
		return fdt.Board{}, fmt.Errorf("parse dts: %w", err)
	}
	return convert(file)
}

// ParseReader compiles source read from r.
func ParseReader(filename string, r io.Reader) (fdt.Board, error) {
	file, err := parser.Parse(filename, r)
	if err != nil {
		return fdt.Board{}, fmt.Errorf("parse dts: %w", err)
	}
	return convert(file)
}

// ParseFile compiles the source file at path.
func ParseFile(path string) (fdt.Board, error) {
	f, err := os.Open(path)
	if err != nil {
		return fdt.Board{}, fmt.Errorf("open dts: %w", err)
	}
	defer f.Close()
	return ParseReader(path, f)
}

func convert(file *sourceFile) (fdt.Board, error) {
	if file.Version != "/dts-v1/" {
		return fdt.Board{}, fmt.Errorf("dts: unsupported header %q", file.Version)
	}

	var bd fdt.Board
	for _, r := range file.Reserves {
		addr, err := parseNumber(r.Address)
		if err != nil {
			return fdt.Board{}, fmt.Errorf("dts: /memreserve/ address: %w", err)
		}
		size, err := parseNumber(r.Size)
		if err != nil {
			return fdt.Board{}, fmt.Errorf("dts: /memreserve/ size: %w", err)
		}
		bd.Reserved = append(bd.Reserved, fdt.Reservation{Address: addr, Size: size})
	}

	root, err := convertNode("", file.Root)
	if err != nil {
		return fdt.Board{}, err
	}
	bd.Root = root
	return bd, nil
}

func convertNode(name string, entries []*entry) (fdt.Node, error) {
	n := fdt.Node{Name: name}
	for _, e := range entries {
		if e.IsNode {
			child, err := convertNode(e.Name, e.Entries)
			if err != nil {
				return fdt.Node{}, err
			}
			n.Children = append(n.Children, child)
			continue
		}
		if n.Properties == nil {
			n.Properties = make(map[string]fdt.Property)
		}
		if _, dup := n.Properties[e.Name]; dup {
			return fdt.Node{}, fmt.Errorf("dts: node %q: duplicate property %q", displayName(name), e.Name)
		}
		prop, err := convertProperty(e.Values)
		if err != nil {
			return fdt.Node{}, fmt.Errorf("dts: node %q: property %q: %w", displayName(name), e.Name, err)
		}
		n.Properties[e.Name] = prop
		n.PropertyOrder = append(n.PropertyOrder, e.Name)
	}
	return n, nil
}

// convertProperty keeps homogeneous values in their typed form and flattens
// mixtures into raw bytes in source order.
func convertProperty(values []*value) (fdt.Property, error) {
	if len(values) == 0 {
		return fdt.Property{Flag: true}, nil
	}

	var (
		strs     []string
		cells    []uint32
		raw      []byte
		allStr   = true
		allCells = true
	)
	for _, v := range values {
		switch {
		case v.Str != nil:
			allCells = false
			strs = append(strs, *v.Str)
			raw = append(raw, *v.Str...)
			raw = append(raw, 0)
		case v.Bytes != nil:
			allStr, allCells = false, false
			b, err := parseBytes(*v.Bytes)
			if err != nil {
				return fdt.Property{}, err
			}
			raw = append(raw, b...)
		default:
			allStr = false
			for _, c := range v.Cells {
				n, err := parseNumber(c)
				if err != nil {
					return fdt.Property{}, err
				}
				if n > 0xffffffff {
					return fdt.Property{}, fmt.Errorf("cell %s does not fit in 32 bits", c)
				}
				cells = append(cells, uint32(n))
				raw = binary.BigEndian.AppendUint32(raw, uint32(n))
			}
		}
	}

	switch {
	case allStr:
		return fdt.Property{Strings: strs}, nil
	case allCells && len(cells) > 0:
		return fdt.Property{U32: cells}, nil
	case len(raw) == 0:
		return fdt.Property{Flag: true}, nil
	default:
		return fdt.Property{Bytes: raw}, nil
	}
}

func parseNumber(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}

func parseBytes(s string) ([]byte, error) {
	digits := strings.Join(strings.Fields(strings.Trim(s, "[]")), "")
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid byte string %s: %w", s, err)
	}
	return b, nil
}

func displayName(name string) string {
	if name == "" {
		return "/"
	}
	return name
}
