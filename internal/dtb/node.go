package dtb

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
	"unsafe"
)

// Node is a cursor over one node of the structure block. It holds offsets
// into the blob rather than decoded data, so it is cheap to copy and two
// Nodes with the same Offset are interchangeable. Strings returned by a Node
// alias the blob and stay valid only while the blob is left untouched.
type Node struct {
	t        tree
	name     string
	offset   int
	props    int
	children int
	end      int
}

// parseNode decodes the node starting at off (after any Nop tokens). A single
// forward scan records the property run, the first child and the node's own
// FDT_END_NODE, skipping nested subtrees with a depth counter.
func (t tree) parseNode(off int) (Node, error) {
	off, tok, err := t.skipNops(off)
	if err != nil {
		return Node{}, err
	}
	if tok != TokenBeginNode {
		return Node{}, &UnexpectedTokenError{Offset: off, Expected: TokenBeginNode, Found: tok}
	}

	name, cur, err := t.nodeName(off)
	if err != nil {
		return Node{}, err
	}

	n := Node{
		t:        t,
		name:     name,
		offset:   off,
		props:    -1,
		children: -1,
	}

	cur, tok, err = t.skipNops(cur)
	if err != nil {
		return Node{}, err
	}
	if tok == TokenProp {
		n.props = cur
	}

	depth := 0
	for {
		tok, err := t.token(cur)
		if err != nil {
			return Node{}, err
		}
		switch tok {
		case TokenProp:
			cur, err = t.propEnd(cur)
			if err != nil {
				return Node{}, err
			}
		case TokenNop:
			cur += 4
		case TokenBeginNode:
			if depth == 0 && n.children < 0 {
				n.children = cur
			}
			depth++
			if cur, err = t.skipName(cur); err != nil {
				return Node{}, err
			}
		case TokenEndNode:
			if depth == 0 {
				n.end = cur
				return n, nil
			}
			depth--
			cur += 4
		case TokenEnd:
			return Node{}, fmt.Errorf("%w: node %q at offset %#x", ErrEarlyEnd, name, off)
		}
	}
}

// nodeName reads the NUL-terminated name following the FDT_BEGIN_NODE token
// at off and returns it together with the aligned offset after it.
func (t tree) nodeName(off int) (string, int, error) {
	start := off + 4
	if start > len(t.structure) {
		return "", 0, fmt.Errorf("%w: node name at %#x", ErrTruncated, start)
	}
	nul := bytes.IndexByte(t.structure[start:], 0)
	if nul < 0 {
		return "", 0, fmt.Errorf("%w: unterminated node name at %#x", ErrTruncated, start)
	}
	raw := t.structure[start : start+nul]
	if !utf8.Valid(raw) {
		return "", 0, fmt.Errorf("%w at offset %#x", ErrInvalidNodeName, start)
	}
	return bytesToString(raw), start + align4(nul+1), nil
}

// skipName steps over a nested node's name without validating it; the name
// is checked when that node is decoded on its own.
func (t tree) skipName(off int) (int, error) {
	start := off + 4
	if start > len(t.structure) {
		return 0, fmt.Errorf("%w: node name at %#x", ErrTruncated, start)
	}
	nul := bytes.IndexByte(t.structure[start:], 0)
	if nul < 0 {
		return 0, fmt.Errorf("%w: unterminated node name at %#x", ErrTruncated, start)
	}
	return start + align4(nul+1), nil
}

// bytesToString views b as a string without copying. The blob is immutable
// for the lifetime of every cursor built on it.
func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// FullName returns the node name including any @unit-address suffix.
func (n Node) FullName() string { return n.name }

// Name returns the node name without the unit address.
func (n Node) Name() string {
	name, _, _ := strings.Cut(n.name, "@")
	return name
}

// Address returns the unit address after '@', if any.
func (n Node) Address() (string, bool) {
	_, addr, ok := strings.Cut(n.name, "@")
	return addr, ok
}

// Offset returns the structure block offset of the node's FDT_BEGIN_NODE token.
func (n Node) Offset() int { return n.offset }

// End returns the structure block offset of the node's FDT_END_NODE token.
func (n Node) End() int { return n.end }

// HasProperties reports whether the node has a property run.
func (n Node) HasProperties() bool { return n.props >= 0 }

// HasChildren reports whether the node has at least one child.
func (n Node) HasChildren() bool { return n.children >= 0 }

// Properties returns a fresh cursor over the node's properties.
func (n Node) Properties() PropertyCursor {
	return PropertyCursor{t: n.t, off: n.props}
}

// Children returns a fresh cursor over the node's direct children.
func (n Node) Children() ChildCursor {
	return ChildCursor{t: n.t, off: n.children}
}

// Property returns the first property called name.
func (n Node) Property(name string) (Property, bool) {
	c := n.Properties()
	for {
		p, ok := c.Next()
		if !ok {
			return Property{}, false
		}
		if p.Name() == name {
			return p, true
		}
	}
}

// Child returns the direct child whose full name is name. A name without a
// unit address also matches a child that has one.
func (n Node) Child(name string) (Node, bool) {
	var fallback Node
	found := false
	c := n.Children()
	for {
		child, ok := c.Next()
		if !ok {
			break
		}
		if child.FullName() == name {
			return child, true
		}
		if !found && !strings.Contains(name, "@") && child.Name() == name {
			fallback = child
			found = true
		}
	}
	return fallback, found
}

func (n Node) String() string {
	if n.name == "" {
		return "/"
	}
	return n.name
}
