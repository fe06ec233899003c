// Package levels implements C4: the tiered on-disk level hierarchy a
// commit installs memory-index snapshots into and a background compactor
// keeps bounded. Generalised from a flat SSTable list with a fixed
// "more than 4 files" trigger into spec.md §4.4's per-level
// Empty/Active/Flush/Compact/Dead state machine and footprint-ratio
// placement policy.
package levels

import (
	"os"
	"sync"

	"github.com/mnohosten/dgmkv/pkg/blockcodec"
	"github.com/mnohosten/dgmkv/pkg/disktable"
	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Options configures a Manager. Table carries the disktable build
// settings (block sizes, delta/vlog flags, Codec) shared by every level's
// builder; BloomFactory, if set, is called once per build to get a fresh
// BloomFilter (a bloom filter accumulates state during a build, so unlike
// Codec it cannot be a single shared instance across tables).
type Options struct {
	NLevels   int
	MemRatio  float64
	DiskRatio float64
	LSMMode   bool

	Strategy entry.Strategy
	Differ   entry.Differ

	Table        disktable.Options
	BloomFactory func(expectedEntries int) disktable.BloomFilter
}

// DefaultOptions returns the policy defaults from spec.md §4.4.
func DefaultOptions() Options {
	return Options{
		NLevels:   DefaultNLevels,
		MemRatio:  DefaultMemRatio,
		DiskRatio: DefaultDiskRatio,
		LSMMode:   true,
		Strategy:  entry.LSMStrategy(false),
		Table:     disktable.DefaultOptions(),
	}
}

// Manager owns one data directory's worth of level slots plus the root
// file tracking their durable state. All mutating operations (Commit,
// Compact, Close) serialise under mu; ToReader takes mu only long enough
// to copy handles (spec.md §5).
type Manager struct {
	mu     sync.Mutex
	dir    string
	base   string
	opts   Options
	codec  blockcodec.Codec
	root   *rootFile
	rpath  string
	slots  []*slot
	nextFN int
	closed bool
}

// Open creates or resumes a level manager rooted at dir/base.
func Open(dir, base string, opts Options) (*Manager, error) {
	if opts.NLevels == 0 {
		opts = DefaultOptions()
	}
	if opts.Strategy == nil {
		opts.Strategy = entry.LSMStrategy(false)
	}

	rp := rootPath(dir, base)
	root, err := loadRootFile(rp)
	if os.IsNotExist(err) {
		root = newRootFile(opts.NLevels, opts.LSMMode, opts.MemRatio, opts.DiskRatio)
		if perr := root.persist(rp); perr != nil {
			return nil, perr
		}
	} else if err != nil {
		return nil, err
	}

	m := &Manager{
		dir:   dir,
		base:  base,
		opts:  opts,
		codec: opts.Table.Codec,
		root:  root,
		rpath: rp,
		slots: make([]*slot, root.nlevels),
	}

	for i, lv := range root.levels {
		if lv.fileNo < 0 {
			m.slots[i] = &slot{st: state{kind: Empty}}
			continue
		}
		if int(lv.fileNo)+1 > m.nextFN {
			m.nextFN = int(lv.fileNo) + 1
		}
		path := tablePath(dir, base, i, int(lv.fileNo))
		tbl, err := disktable.Open(path)
		if err != nil {
			m.closeSlots()
			return nil, err
		}
		m.slots[i] = &slot{st: state{kind: Active, file: path, fileno: int(lv.fileNo)}, ref: newTableRef(tbl)}
	}
	return m, nil
}

func (m *Manager) closeSlots() {
	for _, s := range m.slots {
		if s != nil && s.ref != nil {
			s.ref.table.Close()
		}
	}
}

// Close closes every open level handle. The root file is left on disk for
// the next Open. Dead files awaiting a draining reader are left on disk
// too; they purge themselves once that reader releases them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, s := range m.slots {
		if s != nil && s.ref != nil && !s.ref.dead {
			s.ref.table.Close()
		}
	}
	m.closed = true
	return nil
}

// buildOptsFor returns the disktable.Options a new table should be built
// with, including a fresh bloom filter when the Manager is configured
// with a BloomFactory.
func (m *Manager) buildOptsFor(expectedEntries int) disktable.Options {
	o := m.opts.Table
	if m.opts.BloomFactory != nil {
		o.Bloom = m.opts.BloomFactory(expectedEntries)
	}
	return o
}

// LastSeqno returns the highest seqno ever committed into this manager —
// the clock a freshly recreated memory index should resume from after a
// restart (see rootFile.lastSeqno).
func (m *Manager) LastSeqno() entry.Seqno {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entry.Seqno(m.root.lastSeqno)
}

func (m *Manager) allocFileNo() int {
	n := m.nextFN
	m.nextFN++
	return n
}

// persistRoot reflects the current slots array into the root file and
// writes it atomically. Must be called with mu held.
func (m *Manager) persistRoot() error {
	for i, s := range m.slots {
		if s != nil && s.st.kind == Active {
			m.root.levels[i].fileNo = int32(s.st.fileno)
		} else {
			m.root.levels[i].fileNo = -1
		}
	}
	return m.root.persist(m.rpath)
}

// removeBuildArtifacts deletes a failed build's partial output — spec.md
// §7: "a failed build leaves its partial output for the caller to delete
// via PurgeFiles." The Manager does this itself so a failed Commit/Compact
// never leaves debris behind for the next Open to trip over.
func removeBuildArtifacts(path string) {
	os.Remove(path)
	os.Remove(disktable.VlogPath(path))
}
