package levels

import (
	"github.com/mnohosten/dgmkv/pkg/disktable"
	"github.com/mnohosten/dgmkv/pkg/entry"
	"github.com/mnohosten/dgmkv/pkg/memindex"
	"github.com/mnohosten/dgmkv/pkg/merge"
)

// Reader is an immutable snapshot over a memory-index handle plus every
// non-empty level's table at the instant ToReader was called. Grounded on
// spec.md §4.4's "to_reader() creates, under a short lock, one handle per
// non-empty level plus a handle for the current C2 snapshot."
type Reader struct {
	mem      *memindex.Handle
	memIdx   *memindex.Index
	refs     []*tableRef // newest level first
	lsmMode  bool
	strategy entry.Strategy
	differ   entry.Differ
	closed   bool
}

// ToReader snapshots the manager's current state. The returned Reader
// must be closed to release its level handles.
func (m *Manager) ToReader(mem *memindex.Index) *Reader {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &Reader{memIdx: mem, lsmMode: m.opts.LSMMode, strategy: m.opts.Strategy, differ: m.opts.Differ}
	if mem != nil {
		r.mem = mem.Acquire()
	}
	for _, s := range m.slots {
		if s == nil || s.ref == nil {
			continue
		}
		s.ref.acquire()
		r.refs = append(r.refs, s.ref)
	}
	return r
}

// Close releases every handle the Reader is holding. Safe to call once.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if r.mem != nil {
		r.mem.Release()
	}
	for _, ref := range r.refs {
		ref.release()
	}
}

// Get probes the memory index then each level newest-first, returning the
// first Found entry — spec.md §4.4: "the reader's get probes them in age
// order (newest first) and returns the first Found."
func (r *Reader) Get(key []byte) (*entry.Entry, error) {
	if r.memIdx != nil {
		e, err := r.memIdx.Get(key)
		if err == nil {
			return e, nil
		}
		if err != memindex.ErrKeyNotFound {
			return nil, err
		}
	}
	for _, ref := range r.refs {
		e, err := ref.table.Get(key)
		if err == nil {
			return e, nil
		}
		if err != disktable.ErrKeyNotFound {
			return nil, err
		}
	}
	return nil, disktable.ErrKeyNotFound
}

// sources builds the newest-first Source list (memory index, then each
// disk level) a composed iterator folds over.
func (r *Reader) sources(reverse bool, start, end []byte, startIncl, endIncl bool) []merge.Source {
	var out []merge.Source
	if r.memIdx != nil {
		out = append(out, memCursor(r.memIdx, reverse, start, end, startIncl, endIncl))
	}
	for _, ref := range r.refs {
		out = append(out, diskCursor(ref.table, reverse, start, end, startIncl, endIncl, r.lsmMode))
	}
	return out
}

func memCursor(idx *memindex.Index, reverse bool, start, end []byte, startIncl, endIncl bool) merge.Source {
	switch {
	case start != nil || end != nil:
		return idx.Range(start, end, startIncl, endIncl)
	case reverse:
		return idx.Reverse()
	default:
		return idx.Iter()
	}
}

// diskCursor builds a per-level disktable cursor. When withVersions is true
// (the reader is composing an LSM-mode, version-preserving fold) it uses the
// *WithVersions constructors so every entry reaching merge.FoldVersions'
// XMerge is already materialised — an un-inflated Ref reaching XMerge either
// aborts the scan as Fatal or silently drops the newer version (see
// entry.Entry.XMerge/Versions), exactly the hazard levels/commit.go and
// levels/compact.go already avoid by calling IterWithVersions before
// merging.
func diskCursor(t *disktable.Table, reverse bool, start, end []byte, startIncl, endIncl bool, withVersions bool) merge.Source {
	switch {
	case start != nil || end != nil:
		if withVersions {
			return t.RangeWithVersions(start, end, startIncl, endIncl)
		}
		return t.Range(start, end, startIncl, endIncl)
	case reverse:
		if withVersions {
			return t.ReverseWithVersions()
		}
		return t.Reverse()
	default:
		if withVersions {
			return t.IterWithVersions()
		}
		return t.Iter()
	}
}

// Iter returns a forward, newer-wins-merged view over the whole snapshot.
func (r *Reader) Iter() merge.MergeSource {
	return r.fold(false, nil, nil, false, false)
}

// Reverse returns a backward, newer-wins-merged view over the whole
// snapshot.
func (r *Reader) Reverse() merge.MergeSource {
	return r.fold(true, nil, nil, false, false)
}

// Range returns a forward, newer-wins-merged view bounded to [start, end].
func (r *Reader) Range(start, end []byte, startIncl, endIncl bool) merge.MergeSource {
	return r.fold(false, start, end, startIncl, endIncl)
}

func (r *Reader) fold(reverse bool, start, end []byte, startIncl, endIncl bool) merge.MergeSource {
	srcs := r.sources(reverse, start, end, startIncl, endIncl)
	if r.lsmMode {
		return merge.FoldVersions(srcs, reverse, r.strategy, r.differ)
	}
	return merge.FoldNewerWins(srcs, reverse)
}
