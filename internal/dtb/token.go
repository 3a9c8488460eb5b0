package dtb

import (
	"encoding/binary"
	"fmt"
)

// Token is a structure block token.
type Token uint32

const (
	TokenBeginNode Token = 0x1
	TokenEndNode   Token = 0x2
	TokenProp      Token = 0x3
	TokenNop       Token = 0x4
	TokenEnd       Token = 0x9
)

func (t Token) String() string {
	switch t {
	case TokenBeginNode:
		return "FDT_BEGIN_NODE"
	case TokenEndNode:
		return "FDT_END_NODE"
	case TokenProp:
		return "FDT_PROP"
	case TokenNop:
		return "FDT_NOP"
	case TokenEnd:
		return "FDT_END"
	default:
		return fmt.Sprintf("Token(%#x)", uint32(t))
	}
}

func (t Token) valid() bool {
	switch t {
	case TokenBeginNode, TokenEndNode, TokenProp, TokenNop, TokenEnd:
		return true
	}
	return false
}

// tree is the pair of blocks every cursor needs. It is two slice headers and
// is copied freely; the bytes behind it are never written.
type tree struct {
	structure []byte
	strings   []byte
}

func (t tree) word(off int) (uint32, error) {
	if off < 0 || off+4 > len(t.structure) {
		return 0, fmt.Errorf("%w: word at %#x", ErrTruncated, off)
	}
	return binary.BigEndian.Uint32(t.structure[off:]), nil
}

func (t tree) token(off int) (Token, error) {
	v, err := t.word(off)
	if err != nil {
		return 0, err
	}
	tok := Token(v)
	if !tok.valid() {
		return 0, &TokenError{Offset: off, Value: v}
	}
	return tok, nil
}

// skipNops returns the offset of the first non-Nop token at or after off.
func (t tree) skipNops(off int) (int, Token, error) {
	for {
		tok, err := t.token(off)
		if err != nil {
			return off, 0, err
		}
		if tok != TokenNop {
			return off, tok, nil
		}
		off += 4
	}
}

// propEnd returns the offset just past the property record at off.
func (t tree) propEnd(off int) (int, error) {
	length, err := t.word(off + 4)
	if err != nil {
		return 0, err
	}
	end := off + 12 + align4(int(length))
	if int(length) < 0 || end > len(t.structure) {
		return 0, fmt.Errorf("%w: property at %#x with length %d", ErrTruncated, off, length)
	}
	return end, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}
