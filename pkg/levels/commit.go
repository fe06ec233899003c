package levels

import (
	"github.com/mnohosten/dgmkv/pkg/disktable"
	"github.com/mnohosten/dgmkv/pkg/memindex"
	"github.com/mnohosten/dgmkv/pkg/merge"
)

// Commit installs a memory-index snapshot into the level hierarchy per
// spec.md §4.4's commit path: scan levels 0 downward for the first slot
// that can absorb the snapshot under mem_ratio (or the first Empty/Dead
// slot), merge into it if it already holds data, and build the result as
// a new C3.
func (m *Manager) Commit(mem *memindex.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	live, deleted := mem.Count()
	memFootprint := mem.Footprint()

	target := -1
	mergeWithExisting := false
	for lvl, s := range m.slots {
		if s == nil || s.st.kind == Empty || s.st.kind == Dead {
			target = lvl
			mergeWithExisting = false
			break
		}
		lf := s.footprint()
		if lf == 0 || float64(memFootprint)/float64(lf) < m.opts.MemRatio {
			target = lvl
			mergeWithExisting = true
			break
		}
	}
	if target == -1 {
		return ErrExhausted
	}

	var source merge.Source
	var ms merge.MergeSource
	var oldRef *tableRef
	expected := int(live + deleted)

	if mergeWithExisting {
		oldRef = m.slots[target].ref
		oldSource := oldRef.table.IterWithVersions()
		stats := oldRef.table.Stats()
		expected += int(stats.NumEntries)
		if m.opts.LSMMode {
			ms = merge.YIterVersions(mem.Iter(), oldSource, false, m.opts.Strategy, m.opts.Differ)
		} else {
			ms = merge.YIter(mem.Iter(), oldSource, false)
		}
		source = ms
	} else {
		source = mem.Iter()
	}

	fileno := m.allocFileNo()
	path := tablePath(m.dir, m.base, target, fileno)
	opts := m.buildOptsFor(expected)

	b, err := disktable.NewBuilder(path, opts)
	if err != nil {
		return err
	}
	for {
		e, ok := source.Next()
		if !ok {
			break
		}
		if err := b.Add(e); err != nil {
			removeBuildArtifacts(path)
			return &PurgeFilesError{Files: []string{path}, Err: err}
		}
	}
	if ms != nil && ms.Err() != nil {
		removeBuildArtifacts(path)
		return &PurgeFilesError{Files: []string{path}, Err: ms.Err()}
	}
	if _, err := b.Finish(); err != nil {
		removeBuildArtifacts(path)
		return &PurgeFilesError{Files: []string{path}, Err: err}
	}

	newTbl, err := disktable.Open(path)
	if err != nil {
		removeBuildArtifacts(path)
		return err
	}

	if oldRef != nil {
		oldRef.markDead()
	}
	m.slots[target] = &slot{st: state{kind: Active, file: path, fileno: fileno}, ref: newTableRef(newTbl)}

	if s := uint64(mem.ToSeqno()); s > m.root.lastSeqno {
		m.root.lastSeqno = s
	}
	return m.persistRoot()
}
