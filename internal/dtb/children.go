package dtb

// ChildCursor walks the direct children of a node in declaration order. Each
// child is decoded on demand and the cursor then jumps past that child's
// FDT_END_NODE, so nested subtrees are never visited. The zero value is an
// exhausted cursor.
type ChildCursor struct {
	t   tree
	off int
	err error
}

// Next decodes the next child. It returns false when the run ends (normally
// at the parent's FDT_END_NODE) or on a decoding error reported by Err.
func (c *ChildCursor) Next() (Node, bool) {
	if c.off < 0 || c.t.structure == nil {
		return Node{}, false
	}
	off, tok, err := c.t.skipNops(c.off)
	if err != nil {
		return c.fail(err)
	}
	if tok != TokenBeginNode {
		c.off = -1
		return Node{}, false
	}
	n, err := c.t.parseNode(off)
	if err != nil {
		return c.fail(err)
	}
	c.off = n.end + 4
	return n, true
}

// Err returns the error that stopped the cursor, if any.
func (c *ChildCursor) Err() error { return c.err }

func (c *ChildCursor) fail(err error) (Node, bool) {
	c.err = err
	c.off = -1
	return Node{}, false
}
