package memindex

import (
	"bytes"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Entry is the unit of storage in the index: an alias of entry.Entry so
// callers work with one Entry type across pkg/entry, pkg/memindex and
// pkg/disktable.
type Entry = entry.Entry

// NewFatal builds a structural-invariant-violation error (see
// entry.FatalError) for use in Validate.
func NewFatal(msg string) error { return entry.NewFatal(msg) }

// node is one vertex of the persistent left-leaning red-black tree. Nodes
// are never mutated in place once reachable from a committed root: every
// mutating operation clones the nodes along its search path and swaps in a
// new root, so a reader holding an old root sees a stable snapshot.
//
// Grounded on original_source's llrb::Node (do_set/do_insert/do_remove
// cloning a node before touching it); this codebase's in-memory index uses
// a persistent tree rather than a skip list.
type node struct {
	key   []byte
	entry *Entry

	left  *node
	right *node
	black bool
}

func (n *node) clone() *node {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

func isRed(n *node) bool {
	return n != nil && !n.black
}

func isBlack(n *node) bool {
	return n == nil || n.black
}

func (n *node) setRed()    { n.black = false }
func (n *node) toggleLink() { n.black = !n.black }

// walkuprot23 restores the LLRB 2-3 invariant on the way back up the
// recursion after an insert: lean left, never two reds in a row on the
// left spine, split a 4-node on the way up.
func walkuprot23(n *node) *node {
	if isRed(n.right) && !isRed(n.left) {
		n = rotateLeft(n)
	}
	if isRed(n.left) && isRed(n.left.left) {
		n = rotateRight(n)
	}
	if isRed(n.left) && isRed(n.right) {
		flip(n)
	}
	return n
}

func rotateLeft(n *node) *node {
	if isBlack(n.right) {
		panic("memindex: rotateLeft on black link")
	}
	right := n.right.clone()
	n.right = right.left
	right.black = n.black
	n.setRed()
	right.left = n
	return right
}

func rotateRight(n *node) *node {
	if isBlack(n.left) {
		panic("memindex: rotateRight on black link")
	}
	left := n.left.clone()
	n.left = left.right
	left.black = n.black
	n.setRed()
	left.right = n
	return left
}

func flip(n *node) {
	left := n.left.clone()
	right := n.right.clone()
	n.toggleLink()
	left.toggleLink()
	right.toggleLink()
	n.left = left
	n.right = right
}

func fixup(n *node) *node {
	if isRed(n.right) {
		n = rotateLeft(n)
	}
	if isRed(n.left) && isRed(n.left.left) {
		n = rotateRight(n)
	}
	if isRed(n.left) && isRed(n.right) {
		flip(n)
	}
	return n
}

func moveRedLeft(n *node) *node {
	flip(n)
	if isRed(n.right.left) {
		n.right = rotateRight(n.right.clone())
		n = rotateLeft(n)
		flip(n)
	}
	return n
}

func moveRedRight(n *node) *node {
	flip(n)
	if isRed(n.left.left) {
		n = rotateRight(n)
		flip(n)
	}
	return n
}

func get(n *node, key []byte) (*Entry, bool) {
	for n != nil {
		switch bytes.Compare(key, n.key) {
		case -1:
			n = n.left
		case 1:
			n = n.right
		default:
			return n.entry, true
		}
	}
	return nil, false
}

// validateTree walks the tree checking the LLRB invariants (no red-red
// pair, uniform black height, lean-left) and returns the black height seen
// so far plus the accumulated deleted/total counts, for cross-checking
// against Inner's counters. Grounded on original_source's trailing
// validate()/validate_tree.
func validateTree(n *node, fromRed bool, blacks, depth int) (outBlacks, ndeleted, ncount int, err error) {
	if depth > 100 {
		return 0, 0, 0, NewFatal("tree depth exceeds max depth of 100")
	}
	if n == nil {
		return blacks, 0, 0, nil
	}
	if fromRed && isRed(n) {
		return 0, 0, 0, NewFatal("consecutive red nodes")
	}
	if isRed(n.right) && !isRed(n.left) {
		return 0, 0, 0, NewFatal("right-leaning red link")
	}
	if isBlack(n) {
		blacks++
	}

	lblacks, ldeleted, lcount, err := validateTree(n.left, isRed(n), blacks, depth+1)
	if err != nil {
		return 0, 0, 0, err
	}
	rblacks, rdeleted, rcount, err := validateTree(n.right, isRed(n), blacks, depth+1)
	if err != nil {
		return 0, 0, 0, err
	}
	if lblacks != rblacks {
		return 0, 0, 0, NewFatal("unbalanced black height")
	}

	ndeleted = ldeleted + rdeleted
	if n.entry.IsDeleted() {
		ndeleted++
	}
	ncount = lcount + rcount + 1
	return lblacks, ndeleted, ncount, nil
}
