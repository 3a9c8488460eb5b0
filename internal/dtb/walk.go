package dtb

import "errors"

// SkipChildren may be returned by a WalkFunc to skip the node's subtree.
var SkipChildren = errors.New("skip children")

// WalkFunc is called for every node visited by Walk.
type WalkFunc func(path string, depth int, n Node) error

// JoinPath appends a node's full name to its parent's path.
func JoinPath(parent, fullName string) string {
	if parent == "" || parent == "/" {
		return "/" + fullName
	}
	return parent + "/" + fullName
}

// Walk visits root and its descendants depth first, in declaration order.
// Only the current branch is held in memory.
func Walk(root Node, fn WalkFunc) error {
	return walk("/", 0, root, fn)
}

func walk(path string, depth int, n Node, fn WalkFunc) error {
	if err := fn(path, depth, n); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	c := n.Children()
	for {
		child, ok := c.Next()
		if !ok {
			break
		}
		if err := walk(JoinPath(path, child.FullName()), depth+1, child, fn); err != nil {
			return err
		}
	}
	return c.Err()
}
