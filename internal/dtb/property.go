package dtb

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// Property is a name/value pair from the structure block. The value aliases
// the blob; the name is looked up in the strings block on demand.
type Property struct {
	strings []byte
	nameOff uint32
	value   []byte
}

// Name resolves the property name from the strings block. It returns "" when
// the name offset is out of range or the string is unterminated.
func (p Property) Name() string {
	if int(p.nameOff) >= len(p.strings) {
		return ""
	}
	rest := p.strings[p.nameOff:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return ""
	}
	return bytesToString(rest[:nul])
}

// Value returns the raw property bytes.
func (p Property) Value() []byte { return p.value }

// Len returns the length of the value in bytes.
func (p Property) Len() int { return len(p.value) }

// String decodes the value as a single NUL-terminated string.
func (p Property) String() (string, bool) {
	v := p.value
	if len(v) == 0 || v[len(v)-1] != 0 {
		return "", false
	}
	v = v[:len(v)-1]
	if bytes.IndexByte(v, 0) >= 0 || !utf8.Valid(v) {
		return "", false
	}
	return bytesToString(v), true
}

// Strings decodes the value as a NUL-separated string list. Empty and
// invalid UTF-8 entries are dropped.
func (p Property) Strings() []string {
	var out []string
	v := p.value
	for len(v) > 0 {
		end := bytes.IndexByte(v, 0)
		if end < 0 {
			end = len(v)
		}
		if s := v[:end]; len(s) > 0 && utf8.Valid(s) {
			out = append(out, bytesToString(s))
		}
		if end == len(v) {
			break
		}
		v = v[end+1:]
	}
	return out
}

// U32 decodes a single big-endian 32-bit cell.
func (p Property) U32() (uint32, bool) {
	if len(p.value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(p.value), true
}

// U64 decodes a single big-endian 64-bit value (two cells).
func (p Property) U64() (uint64, bool) {
	if len(p.value) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(p.value), true
}

// Cell returns the i-th big-endian 32-bit cell of the value.
func (p Property) Cell(i int) (uint32, bool) {
	off := i * 4
	if i < 0 || off+4 > len(p.value) {
		return 0, false
	}
	return binary.BigEndian.Uint32(p.value[off:]), true
}

// PropertyCursor walks a node's property run in declaration order. The zero
// value is an exhausted cursor.
type PropertyCursor struct {
	t   tree
	off int
	err error
}

// Next returns the next property. It returns false once the cursor reaches a
// token that is not FDT_PROP, or on a decoding error reported by Err.
func (c *PropertyCursor) Next() (Property, bool) {
	if c.off < 0 || c.t.structure == nil {
		return Property{}, false
	}
	off, tok, err := c.t.skipNops(c.off)
	if err != nil {
		return c.fail(err)
	}
	if tok != TokenProp {
		c.off = -1
		return Property{}, false
	}
	length, err := c.t.word(off + 4)
	if err != nil {
		return c.fail(err)
	}
	nameOff, err := c.t.word(off + 8)
	if err != nil {
		return c.fail(err)
	}
	end, err := c.t.propEnd(off)
	if err != nil {
		return c.fail(err)
	}
	c.off = end
	start := off + 12
	return Property{
		strings: c.t.strings,
		nameOff: nameOff,
		value:   c.t.structure[start : start+int(length) : start+int(length)],
	}, true
}

// Err returns the error that stopped the cursor, if any.
func (c *PropertyCursor) Err() error { return c.err }

func (c *PropertyCursor) fail(err error) (Property, bool) {
	c.err = err
	c.off = -1
	return Property{}, false
}
