package driver

import (
	"errors"
	"fmt"

	"github.com/tinyrange/fdtboot/internal/dtb"
)

// ErrNoReg is returned when a node lacks a usable reg property.
var ErrNoReg = errors.New("no usable reg property")

// RegBase returns the MMIO base of a node: the second big-endian word of its
// first reg entry. This matches two address cells with the device below 4 GiB.
func RegBase(n dtb.Node) (uint64, error) {
	p, ok := n.Property("reg")
	if !ok {
		return 0, fmt.Errorf("%s: %w", n.FullName(), ErrNoReg)
	}
	if p.Len() < 8 {
		return 0, fmt.Errorf("%s: reg is %d bytes: %w", n.FullName(), p.Len(), ErrNoReg)
	}
	w, _ := p.Cell(1)
	return uint64(w), nil
}

// U32Property returns the named single-cell property, or def when absent or
// malformed.
func U32Property(n dtb.Node, name string, def uint32) uint32 {
	p, ok := n.Property(name)
	if !ok {
		return def
	}
	v, ok := p.U32()
	if !ok {
		return def
	}
	return v
}
