package memindex

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Inner is the immutable, fully-persistent snapshot a reader sees: a root
// node plus the counters that describe it. A new Inner is built by every
// mutating call and swapped into Index.top as a single atomic pointer
// store — that store is the linearization point (spec.md §4.2/§5).
//
// Grounded on original_source's llrb::Inner{root, seqno, n_count,
// n_deleted, tree_footprint}.
type Inner struct {
	root      *node
	seqno     entry.Seqno
	nCount    int64
	nDeleted  int64
	footprint int64
}

// Index is the persistent LLRB memory index (C2). A single writer mutex
// serializes mutations; readers take a wait-free snapshot via loadInner
// and never block the writer or each other.
//
// Concurrency shape follows spec.md §4.2/§5 (atomic top-pointer swap,
// reader handles pinning a snapshot); the writer side uses a plain
// sync.Mutex rather than a lock-free structure, the same idiom used
// throughout the rest of this codebase.
type Index struct {
	name string

	top     atomic.Pointer[Inner]
	writeMu sync.Mutex

	handles  atomic.Int64
	strategy entry.Strategy
	differ   entry.Differ
}

// New creates an empty index. strategy controls whether Insert/Delete
// retain a delta chain (entry.LSMStrategy) or overwrite in place
// (entry.NonLSMStrategy); differ is required whenever strategy is an LSM
// strategy and may be nil otherwise.
func New(name string, strategy entry.Strategy, differ entry.Differ) *Index {
	idx := &Index{name: name, strategy: strategy, differ: differ}
	idx.top.Store(&Inner{})
	return idx
}

func (idx *Index) loadInner() *Inner { return idx.top.Load() }

// Name returns the index's label.
func (idx *Index) Name() string { return idx.name }

// ToSeqno returns the seqno stamped on the index's most recent mutation.
func (idx *Index) ToSeqno() entry.Seqno { return idx.loadInner().seqno }

// SetSeqno rewinds/advances the index's logical clock without touching
// its contents. It is refused while any reader handle is outstanding,
// because an in-flight Versions()/Iter() walk assumes a stable seqno
// baseline for the snapshot it is holding.
func (idx *Index) SetSeqno(seqno entry.Seqno) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if idx.handles.Load() > 0 {
		return ErrStaleHandle
	}
	old := idx.loadInner()
	next := *old
	next.seqno = seqno
	idx.top.Store(&next)
	return nil
}

// Handle pins the index's current snapshot so SetSeqno cannot proceed
// until Release is called. Readers that need ToSeqno to stay stable
// across a multi-step walk should acquire one.
type Handle struct {
	idx *Index
}

func (idx *Index) Acquire() *Handle {
	idx.handles.Add(1)
	return &Handle{idx: idx}
}

func (h *Handle) Release() { h.idx.handles.Add(-1) }

// Footprint returns the snapshot's total accounted byte footprint.
func (idx *Index) Footprint() int64 { return idx.loadInner().footprint }

// Count returns (live, deleted) entry counts in the current snapshot.
func (idx *Index) Count() (live, deleted int64) {
	in := idx.loadInner()
	return in.nCount - in.nDeleted, in.nDeleted
}

// Get returns the current entry for key.
func (idx *Index) Get(key []byte) (*Entry, error) {
	e, ok := get(idx.loadInner().root, key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return e, nil
}

// Set overwrites key's value unconditionally, discarding any delta
// history (destructive; mirrors original_source's Index::set — Set is
// always non-LSM regardless of the index's configured Strategy).
func (idx *Index) Set(key []byte, value entry.Value) (entry.Seqno, *Entry, error) {
	return idx.mutateUpsert(key, value, 0, false)
}

// SetCAS is Set with an expected-seqno precondition; cas == 0 means "key
// must not already exist".
func (idx *Index) SetCAS(key []byte, value entry.Value, cas entry.Seqno) (entry.Seqno, *Entry, error) {
	return idx.mutateUpsert(key, value, cas, true)
}

// Insert is the non-destructive counterpart of Set: it runs the index's
// configured Strategy (LSM retains a delta, non-LSM overwrites) so that
// Insert under an LSM strategy grows the version chain instead of losing
// history.
func (idx *Index) Insert(key []byte, value entry.Value) (entry.Seqno, *Entry, error) {
	return idx.mutateInsert(key, value, 0, false)
}

// InsertCAS is Insert with an expected-seqno precondition.
func (idx *Index) InsertCAS(key []byte, value entry.Value, cas entry.Seqno) (entry.Seqno, *Entry, error) {
	return idx.mutateInsert(key, value, cas, true)
}

// Delete marks key deleted without removing its node, so the version
// chain (if any) survives. Mirrors original_source's do_delete: creates a
// tombstone entry for a missing key rather than erroring.
func (idx *Index) Delete(key []byte) (entry.Seqno, *Entry, error) {
	return idx.mutateDelete(key, 0, false)
}

// DeleteCAS is Delete with an expected-seqno precondition.
func (idx *Index) DeleteCAS(key []byte, cas entry.Seqno) (entry.Seqno, *Entry, error) {
	return idx.mutateDelete(key, cas, true)
}

// Remove physically removes key's node from the tree. Unlike Delete, a
// subsequent Get sees ErrKeyNotFound rather than a tombstone. Mirrors
// original_source's do_remove/do_remove_min.
func (idx *Index) Remove(key []byte) (*Entry, error) {
	return idx.mutateRemove(key, 0, false)
}

// RemoveCAS is Remove with an expected-seqno precondition.
func (idx *Index) RemoveCAS(key []byte, cas entry.Seqno) (*Entry, error) {
	return idx.mutateRemove(key, cas, true)
}

func (idx *Index) nextSeqno(in *Inner) entry.Seqno { return in.seqno + 1 }

func (idx *Index) mutateUpsert(key []byte, value entry.Value, cas entry.Seqno, checkCAS bool) (entry.Seqno, *Entry, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	in := idx.loadInner()
	seqno := idx.nextSeqno(in)
	value.Seqno = seqno

	root, old, newEntry, fp, err := doUpsert(in.root, key, value, cas, checkCAS, entry.NonLSMStrategy(), nil)
	if err != nil {
		return 0, nil, err
	}
	idx.commitRoot(in, root, seqno, old, newEntry, fp)
	return seqno, old, nil
}

func (idx *Index) mutateInsert(key []byte, value entry.Value, cas entry.Seqno, checkCAS bool) (entry.Seqno, *Entry, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	in := idx.loadInner()
	seqno := idx.nextSeqno(in)
	value.Seqno = seqno

	root, old, newEntry, fp, err := doUpsert(in.root, key, value, cas, checkCAS, idx.strategy, idx.differ)
	if err != nil {
		return 0, nil, err
	}
	idx.commitRoot(in, root, seqno, old, newEntry, fp)
	return seqno, old, nil
}

func (idx *Index) mutateDelete(key []byte, cas entry.Seqno, checkCAS bool) (entry.Seqno, *Entry, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	in := idx.loadInner()
	seqno := idx.nextSeqno(in)

	root, old, newEntry, fp, err := doDelete(in.root, key, seqno, cas, checkCAS, idx.strategy, idx.differ)
	if err != nil {
		return 0, nil, err
	}
	idx.commitRoot(in, root, seqno, old, newEntry, fp)
	return seqno, old, nil
}

func (idx *Index) mutateRemove(key []byte, cas entry.Seqno, checkCAS bool) (*Entry, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	in := idx.loadInner()
	root, old, fp, err := doRemove(in.root, key, cas, checkCAS)
	if err != nil {
		return nil, err
	}
	if root != nil {
		root.black = true
	}

	next := &Inner{root: root, seqno: in.seqno, nCount: in.nCount, nDeleted: in.nDeleted, footprint: in.footprint - fp}
	if old != nil {
		next.nCount--
		if old.IsDeleted() {
			next.nDeleted--
		}
	}
	idx.top.Store(next)
	return old, nil
}

// commitRoot installs root as the new snapshot and updates the live/deleted
// counters by comparing old's and newEntry's tombstone status. Grounded on
// original_source's do_load counter bookkeeping ((deleted, old) match arms
// over {(true,Some(old)) if !old.is_deleted() => n_deleted+=1, ...}).
func (idx *Index) commitRoot(in *Inner, root *node, seqno entry.Seqno, old, newEntry *Entry, fpDelta int64) {
	if root != nil {
		root.black = true
	}
	next := &Inner{root: root, seqno: seqno, nCount: in.nCount, nDeleted: in.nDeleted, footprint: in.footprint + fpDelta}

	newDeleted := newEntry != nil && newEntry.IsDeleted()
	switch {
	case old == nil:
		next.nCount++
		if newDeleted {
			next.nDeleted++
		}
	case newDeleted && !old.IsDeleted():
		next.nDeleted++
	case !newDeleted && old.IsDeleted():
		next.nDeleted--
	}
	idx.top.Store(next)
}

// Commit folds every entry from src into idx, applying idx's strategy so
// that pre-existing history on a matching key is preserved rather than
// clobbered. Grounded on original_source's do_commit.
//
// spec.md §4.2 requires every incoming entry's seqno to strictly exceed
// the snapshot seqno idx held when the commit began — §8 property 8 rejects
// the whole commit otherwise. That baseline is captured once, not re-read
// per entry: src's entries arrive in key order, not seqno order, so a
// later entry can legitimately carry a lower seqno than one already folded
// earlier in this same call.
func (idx *Index) Commit(src *Index) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	baseSeqno := idx.loadInner().seqno

	cur := src.Iter()
	for e, ok := cur.Next(); ok; e, ok = cur.Next() {
		if e.ToSeqno() <= baseSeqno {
			return fmt.Errorf("memindex: commit %q: seqno %d does not exceed snapshot seqno %d: %w",
				e.Key, e.ToSeqno(), baseSeqno, ErrCommitNotMonotonic)
		}
		in := idx.loadInner()
		root, old, newEntry, fp, err := doCommit(in.root, e, idx.strategy, idx.differ)
		if err != nil {
			return fmt.Errorf("memindex: commit %q: %w", e.Key, err)
		}
		idx.commitRoot(in, root, e.ToSeqno(), old, newEntry, fp)
	}
	return nil
}

// Validate checks the LLRB structural invariants (black root, no red-red
// pair, uniform black height) and that the cached counters match an
// exhaustive walk. Grounded on original_source's Inner::validate.
func (idx *Index) Validate() error {
	in := idx.loadInner()
	if isRed(in.root) {
		return NewFatal("root node must be black")
	}
	_, ndeleted, ncount, err := validateTree(in.root, false, 0, 0)
	if err != nil {
		return err
	}
	if int64(ndeleted) != in.nDeleted {
		return NewFatal(fmt.Sprintf("n_deleted %d != %d", ndeleted, in.nDeleted))
	}
	if int64(ncount) != in.nCount {
		return NewFatal(fmt.Sprintf("n_count %d != %d", ncount, in.nCount))
	}
	return nil
}
