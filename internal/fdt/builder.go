// Package fdt builds Flattened Device Tree blobs.
package fdt

import (
	"encoding/binary"
)

const (
	// Magic is the value of the first header word of every blob.
	Magic = 0xd00dfeed
	// Version is the format version written by the builder.
	Version = 17
	// LastCompVersion is the oldest version the emitted blobs stay compatible with.
	LastCompVersion = 16

	// HeaderSize is the size of the v17 header in bytes.
	HeaderSize = 40

	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

// Reservation is one entry of the memory reservation block.
type Reservation struct {
	Address uint64 `json:"address" yaml:"address"`
	Size    uint64 `json:"size" yaml:"size"`
}

// Builder constructs a Flattened Device Tree blob token by token. Properties
// and nodes are emitted in call order.
type Builder struct {
	structure    []byte
	strings      []byte
	stringOff    map[string]uint32
	reservations []Reservation
	bootCPU      uint32
}

// NewBuilder creates a new FDT builder.
func NewBuilder() *Builder {
	return &Builder{
		stringOff: make(map[string]uint32),
	}
}

// SetBootCPU sets the boot_cpuid_phys header field.
func (b *Builder) SetBootCPU(id uint32) {
	b.bootCPU = id
}

// AddReservation appends an entry to the memory reservation block. Zero-sized
// entries are dropped since (0,0) terminates the block.
func (b *Builder) AddReservation(addr, size uint64) {
	if addr == 0 && size == 0 {
		return
	}
	b.reservations = append(b.reservations, Reservation{Address: addr, Size: size})
}

// BeginNode starts a new node with the given name.
func (b *Builder) BeginNode(name string) {
	b.appendU32(tokenBeginNode)
	b.appendString(name)
}

// EndNode ends the current node.
func (b *Builder) EndNode() {
	b.appendU32(tokenEndNode)
}

// AddNop emits a padding token.
func (b *Builder) AddNop() {
	b.appendU32(tokenNop)
}

// AddPropertyEmpty adds an empty property.
func (b *Builder) AddPropertyEmpty(name string) {
	b.AddPropertyBytes(name, nil)
}

// AddPropertyString adds a string property.
func (b *Builder) AddPropertyString(name, value string) {
	b.AddPropertyBytes(name, append([]byte(value), 0))
}

// AddPropertyStringList adds a string list property.
func (b *Builder) AddPropertyStringList(name string, values []string) {
	var data []byte
	for _, v := range values {
		data = append(data, v...)
		data = append(data, 0)
	}
	b.AddPropertyBytes(name, data)
}

// AddPropertyU32 adds a 32-bit unsigned integer property.
func (b *Builder) AddPropertyU32(name string, value uint32) {
	b.AddPropertyU32Array(name, []uint32{value})
}

// AddPropertyU32Array adds an array of 32-bit unsigned integers.
func (b *Builder) AddPropertyU32Array(name string, values []uint32) {
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		data = binary.BigEndian.AppendUint32(data, v)
	}
	b.AddPropertyBytes(name, data)
}

// AddPropertyU64 adds a 64-bit unsigned integer property.
func (b *Builder) AddPropertyU64(name string, value uint64) {
	b.AddPropertyBytes(name, binary.BigEndian.AppendUint64(nil, value))
}

// AddPropertyU64Pair adds a pair of 64-bit values (e.g., for reg properties).
func (b *Builder) AddPropertyU64Pair(name string, addr, size uint64) {
	data := binary.BigEndian.AppendUint64(nil, addr)
	data = binary.BigEndian.AppendUint64(data, size)
	b.AddPropertyBytes(name, data)
}

// AddPropertyBytes adds a raw bytes property.
func (b *Builder) AddPropertyBytes(name string, data []byte) {
	b.appendU32(tokenProp)
	b.appendU32(uint32(len(data)))
	b.appendU32(b.addString(name))
	b.appendBytes(data)
}

// Build generates the final FDT blob. The builder must not be reused.
func (b *Builder) Build() []byte {
	b.appendU32(tokenEnd)

	memRsvmapOff := uint32(HeaderSize)
	memRsvmapSize := uint32(len(b.reservations)+1) * 16
	structOff := memRsvmapOff + memRsvmapSize
	structSize := uint32(len(b.structure))
	stringsOff := structOff + structSize
	stringsSize := uint32(len(b.strings))
	totalSize := stringsOff + stringsSize

	blob := make([]byte, totalSize)
	binary.BigEndian.PutUint32(blob[0:], Magic)
	binary.BigEndian.PutUint32(blob[4:], totalSize)
	binary.BigEndian.PutUint32(blob[8:], structOff)
	binary.BigEndian.PutUint32(blob[12:], stringsOff)
	binary.BigEndian.PutUint32(blob[16:], memRsvmapOff)
	binary.BigEndian.PutUint32(blob[20:], Version)
	binary.BigEndian.PutUint32(blob[24:], LastCompVersion)
	binary.BigEndian.PutUint32(blob[28:], b.bootCPU)
	binary.BigEndian.PutUint32(blob[32:], stringsSize)
	binary.BigEndian.PutUint32(blob[36:], structSize)

	// The trailing (0,0) sentinel is already zero.
	off := memRsvmapOff
	for _, r := range b.reservations {
		binary.BigEndian.PutUint64(blob[off:], r.Address)
		binary.BigEndian.PutUint64(blob[off+8:], r.Size)
		off += 16
	}
	copy(blob[structOff:], b.structure)
	copy(blob[stringsOff:], b.strings)

	return blob
}

func (b *Builder) appendU32(v uint32) {
	b.structure = binary.BigEndian.AppendUint32(b.structure, v)
}

func (b *Builder) appendString(s string) {
	b.structure = append(b.structure, s...)
	b.structure = append(b.structure, 0)
	b.pad()
}

func (b *Builder) appendBytes(data []byte) {
	b.structure = append(b.structure, data...)
	b.pad()
}

func (b *Builder) pad() {
	for len(b.structure)%4 != 0 {
		b.structure = append(b.structure, 0)
	}
}

func (b *Builder) addString(name string) uint32 {
	if off, ok := b.stringOff[name]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.stringOff[name] = off
	b.strings = append(b.strings, name...)
	b.strings = append(b.strings, 0)
	return off
}
