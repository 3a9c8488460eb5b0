// Package dtb decodes Flattened Device Tree blobs in place. Nothing is
// copied out of the blob: nodes, properties and reservations are cursors that
// re-read the underlying bytes on demand.
package dtb

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// Magic is the expected value of the header magic field.
	Magic = 0xd00dfeed
	// SupportedVersion is the only format version the reader understands.
	SupportedVersion = 17

	headerSize = 40
)

// Header is the blob header converted to host byte order.
type Header struct {
	Magic            uint32
	TotalSize        uint32
	StructOffset     uint32
	StringsOffset    uint32
	MemReserveOffset uint32
	Version          uint32
	LastCompVersion  uint32
	BootCPUID        uint32
	StringsSize      uint32
	StructSize       uint32
}

// ParseHeader decodes the header at the start of data without validating it.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, headerSize, len(data))
	}
	be := binary.BigEndian
	return Header{
		Magic:            be.Uint32(data[0:]),
		TotalSize:        be.Uint32(data[4:]),
		StructOffset:     be.Uint32(data[8:]),
		StringsOffset:    be.Uint32(data[12:]),
		MemReserveOffset: be.Uint32(data[16:]),
		Version:          be.Uint32(data[20:]),
		LastCompVersion:  be.Uint32(data[24:]),
		BootCPUID:        be.Uint32(data[28:]),
		StringsSize:      be.Uint32(data[32:]),
		StructSize:       be.Uint32(data[36:]),
	}, nil
}

// Reader gives access to a validated blob.
type Reader struct {
	data       []byte
	header     Header
	tree       tree
	root       Node
	cpus       Node
	aliases    Node
	hasAliases bool
}

// Open validates the header of data, decodes the root node and locates the
// cpus and aliases nodes. data must stay unmodified while the Reader or any
// cursor derived from it is in use.
func Open(data []byte) (*Reader, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, &HeaderError{Expected: Magic, Found: h.Magic}
	}
	if h.Version != SupportedVersion && h.LastCompVersion != SupportedVersion {
		return nil, fmt.Errorf("%w: version %d, last compatible %d", ErrUnsupportedVersion, h.Version, h.LastCompVersion)
	}

	size := len(data)
	if int(h.TotalSize) < size {
		size = int(h.TotalSize)
	}
	data = data[:size:size]

	structure, err := section(data, h.StructOffset, h.StructSize, "structure block")
	if err != nil {
		return nil, err
	}
	strs, err := section(data, h.StringsOffset, h.StringsSize, "strings block")
	if err != nil {
		return nil, err
	}
	if int(h.MemReserveOffset) > len(data) {
		return nil, fmt.Errorf("%w: reservation block offset %#x beyond blob", ErrTruncated, h.MemReserveOffset)
	}

	r := &Reader{
		data:   data,
		header: h,
		tree:   tree{structure: structure, strings: strs},
	}

	r.root, err = r.tree.parseNode(0)
	if err != nil {
		return nil, fmt.Errorf("dtb: parse root node: %w", err)
	}

	foundCpus := false
	c := r.root.Children()
	for {
		n, ok := c.Next()
		if !ok {
			break
		}
		switch n.Name() {
		case "cpus":
			r.cpus = n
			foundCpus = true
		case "aliases":
			r.aliases = n
			r.hasAliases = true
		}
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("dtb: scan root children: %w", err)
	}
	if !foundCpus {
		return nil, ErrNoCpusNode
	}
	return r, nil
}

// section slices [off, off+size) out of data. A zero size means "to the end
// of the blob", which covers writers that leave the size fields empty.
func section(data []byte, off, size uint32, what string) ([]byte, error) {
	start := int(off)
	if start > len(data) {
		return nil, fmt.Errorf("%w: %s offset %#x beyond blob of %d bytes", ErrTruncated, what, off, len(data))
	}
	end := len(data)
	if size != 0 {
		end = start + int(size)
		if end > len(data) {
			return nil, fmt.Errorf("%w: %s [%#x, %#x) beyond blob of %d bytes", ErrTruncated, what, start, end, len(data))
		}
	}
	return data[start:end:end], nil
}

// Header returns the decoded header.
func (r *Reader) Header() Header { return r.header }

// Bytes returns the blob bounded by the header's total size.
func (r *Reader) Bytes() []byte { return r.data }

// Root returns the root node.
func (r *Reader) Root() Node { return r.root }

// Cpus returns the mandatory /cpus node.
func (r *Reader) Cpus() Node { return r.cpus }

// Aliases returns the /aliases node if the blob has one.
func (r *Reader) Aliases() (Node, bool) { return r.aliases, r.hasAliases }

// Reservations returns a cursor over the memory reservation block.
func (r *Reader) Reservations() ReserveCursor {
	return ReserveCursor{data: r.data, off: int(r.header.MemReserveOffset)}
}

// ResolveAlias returns the path stored under name in /aliases.
func (r *Reader) ResolveAlias(name string) (string, bool) {
	if !r.hasAliases {
		return "", false
	}
	p, ok := r.aliases.Property(name)
	if !ok {
		return "", false
	}
	return p.String()
}

// FindNode looks up a node by absolute path ("/soc/serial@10000000") or by a
// path whose first component is an alias ("serial0", "serial0/child").
func (r *Reader) FindNode(path string) (Node, bool) {
	if path == "/" {
		return r.root, true
	}
	if !strings.HasPrefix(path, "/") {
		alias, rest, _ := strings.Cut(path, "/")
		target, ok := r.ResolveAlias(alias)
		if !ok || !strings.HasPrefix(target, "/") {
			return Node{}, false
		}
		path = target
		if rest != "" {
			path = strings.TrimSuffix(target, "/") + "/" + rest
		}
	}

	cur := r.root
	for _, part := range strings.Split(path[1:], "/") {
		if part == "" {
			continue
		}
		next, ok := cur.Child(part)
		if !ok {
			return Node{}, false
		}
		cur = next
	}
	return cur, true
}
