package levels

import (
	"os"
	"sync"

	"github.com/mnohosten/dgmkv/pkg/disktable"
)

// Kind is one of the five level-slot states spec.md §4.4 names.
type Kind byte

const (
	// Empty: the slot holds no table.
	Empty Kind = iota
	// Active: the slot holds a readable, immutable C3 table.
	Active
	// Flush: the slot is the source of a downward flush into another
	// level; still readable until the flush completes.
	Flush
	// Compact: the slot is the source of a compaction merging it with an
	// adjacent level; still readable until the compaction completes.
	Compact
	// Dead: the slot's table has been replaced but its file is retained
	// until every reader that captured a handle to it has released it.
	Dead
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "Empty"
	case Active:
		return "Active"
	case Flush:
		return "Flush"
	case Compact:
		return "Compact"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// state is the state-machine value carried by one slot: which Kind it's
// in, and (for Active/Flush/Compact) the live table's path and file
// number.
type state struct {
	kind   Kind
	file   string
	fileno int
}

// tableRef is a refcounted handle onto one open disk table. A slot's
// current table and any tables a Reader snapshot is still using both
// point at the same tableRef; the file is only closed and unlinked once
// it has been superseded (dead) and every Reader has released it —
// spec.md §5: "Disk files are reference-counted ... purge then unlinks."
type tableRef struct {
	table    *disktable.Table
	path     string
	vlogPath string

	mu    sync.Mutex
	count int
	dead  bool
}

func newTableRef(tbl *disktable.Table) *tableRef {
	return &tableRef{table: tbl, path: tbl.Path()}
}

// acquire increments the outstanding-reader count.
func (r *tableRef) acquire() {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

// release decrements the outstanding-reader count, purging the backing
// file once a dead ref's count reaches zero.
func (r *tableRef) release() {
	r.mu.Lock()
	r.count--
	purge := r.dead && r.count <= 0
	r.mu.Unlock()
	if purge {
		r.purgeNow()
	}
}

// markDead retires the ref: the manager will never read from it again.
// Purges immediately if no reader currently holds it.
func (r *tableRef) markDead() {
	r.mu.Lock()
	r.dead = true
	purge := r.count <= 0
	r.mu.Unlock()
	if purge {
		r.purgeNow()
	}
}

func (r *tableRef) purgeNow() {
	r.table.Close()
	os.Remove(r.path)
	os.Remove(disktable.VlogPath(r.path))
}

// slot is one level's in-memory state-machine value plus its table
// handle (nil when Empty).
type slot struct {
	st  state
	ref *tableRef
}

// footprint estimates a level's on-disk size in bytes; Empty slots are 0.
func (s *slot) footprint() int64 {
	if s == nil || s.ref == nil {
		return 0
	}
	fi, err := os.Stat(s.ref.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
