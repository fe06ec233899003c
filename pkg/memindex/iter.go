package memindex

import "bytes"

// Cursor walks a single immutable snapshot of the tree in key order (or
// reverse key order). It never observes mutations committed after it was
// built: the snapshot's root pointer is captured once, up front.
//
// Grounded on original_source's Iter/Range/Reverse (IFlag-driven path
// stack, find_start/find_end pruning subtrees outside the requested
// bound).
type Cursor struct {
	stack   []*node
	forward bool

	hasEnd  bool
	endKey  []byte
	endIncl bool
}

// Iter returns a forward cursor over every live snapshot entry.
func (idx *Index) Iter() *Cursor {
	root := idx.loadInner().root
	c := &Cursor{forward: true}
	c.descendLeft(root)
	return c
}

// Reverse returns a backward cursor over every live snapshot entry.
func (idx *Index) Reverse() *Cursor {
	root := idx.loadInner().root
	c := &Cursor{forward: false}
	c.descendRight(root)
	return c
}

// Range returns a forward cursor bounded below by start (nil = unbounded)
// and above by end (nil = unbounded); startIncl/endIncl control whether
// the boundary key itself is included.
func (idx *Index) Range(start, end []byte, startIncl, endIncl bool) *Cursor {
	root := idx.loadInner().root
	c := &Cursor{forward: true, hasEnd: end != nil, endKey: end, endIncl: endIncl}
	c.findStart(root, start, startIncl)
	return c
}

func (c *Cursor) descendLeft(n *node) {
	for n != nil {
		c.stack = append(c.stack, n)
		n = n.left
	}
}

func (c *Cursor) descendRight(n *node) {
	for n != nil {
		c.stack = append(c.stack, n)
		n = n.right
	}
}

// findStart prunes every subtree guaranteed to fall entirely before start,
// leaving on the stack exactly the path to the first in-range node plus
// every ancestor whose right child may still contain in-range entries.
func (c *Cursor) findStart(n *node, start []byte, incl bool) {
	for n != nil {
		if start == nil {
			c.stack = append(c.stack, n)
			n = n.left
			continue
		}
		cmp := bytes.Compare(n.key, start)
		switch {
		case cmp < 0:
			n = n.right
		case cmp == 0 && !incl:
			n = n.right
		default:
			c.stack = append(c.stack, n)
			n = n.left
		}
	}
}

// Next advances the cursor and returns the next entry, or (nil, false)
// when exhausted or when the end bound is reached.
func (c *Cursor) Next() (*Entry, bool) {
	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]

		if c.forward {
			if top.right != nil {
				c.descendLeft(top.right)
			}
		} else {
			if top.left != nil {
				c.descendRight(top.left)
			}
		}

		if c.hasEnd {
			cmp := bytes.Compare(top.key, c.endKey)
			if cmp > 0 || (cmp == 0 && !c.endIncl) {
				c.stack = nil
				return nil, false
			}
		}
		return top.entry, true
	}
	return nil, false
}
