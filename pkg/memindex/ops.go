package memindex

import (
	"bytes"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// footprint estimates an entry's accounted byte size: key + per-version
// overhead + payload bytes (or a fixed cost for a value-log reference).
// Grounded on pkg/lsm/memtable.go's Put (entrySize := len(key)+len(value)+16).
func footprint(e *Entry) int64 {
	n := int64(len(e.Key)) + 16
	n += payloadFootprint(e.Value.Payload)
	for _, d := range e.Deltas {
		n += 16 + payloadFootprint(d.Diff)
	}
	return n
}

func payloadFootprint(p entry.Payload) int64 {
	if p.IsRef {
		return 24
	}
	return int64(len(p.Inline))
}

// doUpsert implements do_set/do_insert: recursive path-copy descent that
// clones every node on the way down, rebalances on the way up
// (walkuprot23), and on a key match replaces the entry via strategy
// (NonLSMStrategy for Set, the index's configured Strategy for Insert).
// footprint is returned as the growth in accounted bytes (new - old).
func doUpsert(n *node, key []byte, value entry.Value, cas entry.Seqno, checkCAS bool, strategy entry.Strategy, differ entry.Differ) (*node, *Entry, *Entry, int64, error) {
	if n == nil {
		if checkCAS && cas != 0 {
			return nil, nil, nil, 0, entry.NewInvalidCAS(0)
		}
		e := entry.New(append([]byte(nil), key...), value)
		nn := &node{key: e.Key, entry: e}
		return nn, nil, e, footprint(e), nil
	}

	nn := n.clone()
	switch bytes.Compare(key, nn.key) {
	case -1:
		left, old, newE, fp, err := doUpsert(nn.left, key, value, cas, checkCAS, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.left = left
		return walkuprot23(nn), old, newE, fp, nil
	case 1:
		right, old, newE, fp, err := doUpsert(nn.right, key, value, cas, checkCAS, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.right = right
		return walkuprot23(nn), old, newE, fp, nil
	default:
		if checkCAS && cas != nn.entry.ToSeqno() {
			return nil, nil, nil, 0, entry.NewInvalidCAS(nn.entry.ToSeqno())
		}
		oldFP := footprint(nn.entry)
		old := nn.entry
		newE := old.Clone()
		// memindex has both the old and new materialised payload in hand,
		// so it always goes through PrependVersionWithDiff: under an LSM
		// strategy this stores a true reversible diff(new,old) instead of
		// Strategy.PrependVersion's full-copy fallback.
		if err := entry.PrependVersionWithDiff(newE, strategy, value, differ); err != nil {
			return nil, nil, nil, 0, err
		}
		nn.entry = newE
		return nn, old, newE, footprint(newE) - oldFP, nil
	}
}

// doDelete implements do_delete: unlike doUpsert, a missing key is not a
// no-op — it creates a tombstone entry so a later Versions()/Get() walk
// still observes the deletion at its seqno.
func doDelete(n *node, key []byte, seqno entry.Seqno, cas entry.Seqno, checkCAS bool, strategy entry.Strategy, differ entry.Differ) (*node, *Entry, *Entry, int64, error) {
	if n == nil {
		if checkCAS && cas != 0 {
			return nil, nil, nil, 0, entry.NewInvalidCAS(0)
		}
		e := entry.New(append([]byte(nil), key...), entry.NewDeleteValue(seqno))
		nn := &node{key: e.Key, entry: e}
		return nn, nil, e, footprint(e), nil
	}

	nn := n.clone()
	switch bytes.Compare(key, nn.key) {
	case -1:
		left, old, newE, fp, err := doDelete(nn.left, key, seqno, cas, checkCAS, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.left = left
		return walkuprot23(nn), old, newE, fp, nil
	case 1:
		right, old, newE, fp, err := doDelete(nn.right, key, seqno, cas, checkCAS, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.right = right
		return walkuprot23(nn), old, newE, fp, nil
	default:
		if checkCAS && cas != nn.entry.ToSeqno() {
			return nil, nil, nil, 0, entry.NewInvalidCAS(nn.entry.ToSeqno())
		}
		oldFP := footprint(nn.entry)
		old := nn.entry
		newE := old.Clone()
		if err := strategy.Delete(newE, seqno, differ); err != nil {
			return nil, nil, nil, 0, err
		}
		nn.entry = newE
		return walkuprot23(nn), old, newE, footprint(newE) - oldFP, nil
	}
}

// doCommit implements do_commit: folds an externally-produced entry into
// the tree, XMerging version chains on a key match instead of overwriting.
func doCommit(n *node, incoming *Entry, strategy entry.Strategy, differ entry.Differ) (*node, *Entry, *Entry, int64, error) {
	if n == nil {
		nn := &node{key: incoming.Key, entry: incoming}
		return nn, nil, incoming, footprint(incoming), nil
	}

	nn := n.clone()
	switch bytes.Compare(incoming.Key, nn.key) {
	case -1:
		left, old, newE, fp, err := doCommit(nn.left, incoming, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.left = left
		return walkuprot23(nn), old, newE, fp, nil
	case 1:
		right, old, newE, fp, err := doCommit(nn.right, incoming, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.right = right
		return walkuprot23(nn), old, newE, fp, nil
	default:
		oldFP := footprint(nn.entry)
		old := nn.entry
		merged, err := old.XMerge(incoming, strategy, differ)
		if err != nil {
			return nil, nil, nil, 0, err
		}
		nn.entry = merged
		return nn, old, merged, footprint(merged) - oldFP, nil
	}
}

// doRemove implements do_remove/do_remove_min: physical node removal,
// re-threading red links (moveRedLeft/moveRedRight/fixup) as the deleted
// node's predecessor-in-right-subtree is spliced into its place.
func doRemove(n *node, key []byte, cas entry.Seqno, checkCAS bool) (*node, *Entry, int64, error) {
	if n == nil {
		if checkCAS && cas != 0 {
			return nil, nil, 0, entry.NewInvalidCAS(0)
		}
		return nil, nil, 0, nil
	}
	nn := n.clone()

	if bytes.Compare(nn.key, key) > 0 {
		if nn.left == nil {
			return nn, nil, 0, nil
		}
		if !isRed(nn.left) && !isRed(nn.left.left) {
			nn = moveRedLeft(nn)
		}
		left, old, fp, err := doRemove(nn.left, key, cas, checkCAS)
		if err != nil {
			return nil, nil, 0, err
		}
		nn.left = left
		return fixup(nn), old, fp, nil
	}

	if isRed(nn.left) {
		nn = rotateRight(nn)
	}
	if bytes.Equal(nn.key, key) && checkCAS && cas != nn.entry.ToSeqno() {
		return nil, nil, 0, entry.NewInvalidCAS(nn.entry.ToSeqno())
	}
	if bytes.Compare(nn.key, key) >= 0 && nn.right == nil {
		return nil, nn.entry, footprint(nn.entry), nil
	}
	if nn.right != nil && !isRed(nn.right) && !isRed(nn.right.left) {
		nn = moveRedRight(nn)
	}
	if bytes.Compare(nn.key, key) >= 0 {
		right, sub := doRemoveMin(nn.right)
		fp := footprint(nn.entry)
		old := nn.entry
		if sub == nil {
			return nil, nil, 0, NewFatal("remove: successor missing")
		}
		sub.left = nn.left
		sub.right = right
		sub.black = nn.black
		return fixup(sub), old, fp, nil
	}

	right, old, fp, err := doRemove(nn.right, key, cas, checkCAS)
	if err != nil {
		return nil, nil, 0, err
	}
	nn.right = right
	return fixup(nn), old, fp, nil
}

func doRemoveMin(n *node) (*node, *node) {
	if n == nil {
		return nil, nil
	}
	nn := n.clone()
	if nn.left == nil {
		return nil, nn
	}
	if !isRed(nn.left) && !isRed(nn.left.left) {
		nn = moveRedLeft(nn)
	}
	left, sub := doRemoveMin(nn.left)
	nn.left = left
	return fixup(nn), sub
}
