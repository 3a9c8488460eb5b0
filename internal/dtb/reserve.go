package dtb

import "encoding/binary"

// ReserveEntry is one (address, size) pair of the memory reservation block.
type ReserveEntry struct {
	Address uint64
	Size    uint64
}

// End returns the first address past the reserved region.
func (e ReserveEntry) End() uint64 { return e.Address + e.Size }

// ReserveCursor walks the memory reservation block up to the (0,0) sentinel.
type ReserveCursor struct {
	data []byte
	off  int
}

// Next returns the next reservation. Running off the end of the blob ends
// the sequence like the sentinel does.
func (c *ReserveCursor) Next() (ReserveEntry, bool) {
	if c.off < 0 || c.off+16 > len(c.data) {
		c.off = -1
		return ReserveEntry{}, false
	}
	e := ReserveEntry{
		Address: binary.BigEndian.Uint64(c.data[c.off:]),
		Size:    binary.BigEndian.Uint64(c.data[c.off+8:]),
	}
	if e.Address == 0 && e.Size == 0 {
		c.off = -1
		return ReserveEntry{}, false
	}
	c.off += 16
	return e, true
}
