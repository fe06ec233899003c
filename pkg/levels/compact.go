package levels

import (
	"github.com/mnohosten/dgmkv/pkg/disktable"
	"github.com/mnohosten/dgmkv/pkg/entry"
	"github.com/mnohosten/dgmkv/pkg/merge"
)

// NeedsCompaction reports whether any adjacent pair of levels currently
// violates disk_ratio — generalised from a flat file-count check
// (`len(sstables) > 4`) to the per-pair footprint ratio spec.md §4.4 names.
func (m *Manager) NeedsCompaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair, _ := m.findCompactionPair()
	return pair >= 0
}

// findCompactionPair returns the index i of the first adjacent pair
// (i, i+1) that are both Active and whose footprint ratio exceeds
// disk_ratio, and the target slot one level below Lᵢ₊₁ the merge result
// will land in. Returns (-1, -1) if none qualifies.
func (m *Manager) findCompactionPair() (int, int) {
	for i := 0; i+1 < len(m.slots); i++ {
		a, b := m.slots[i], m.slots[i+1]
		if a == nil || b == nil || a.st.kind != Active || b.st.kind != Active {
			continue
		}
		fa, fb := a.footprint(), b.footprint()
		if fb == 0 {
			continue
		}
		if float64(fa)/float64(fb) > m.opts.DiskRatio {
			return i, i + 2
		}
	}
	return -1, -1
}

// Compact performs one compaction step per spec.md §4.4's compaction
// path: merges the first adjacent level pair that violates disk_ratio and
// applies cutoff to the merged stream, or — if no pair qualifies but at
// least one level holds data — rewrites the first non-empty level in
// place under cutoff alone. Returns ErrEmptyIndex if every level is
// Empty.
func (m *Manager) Compact(cutoff entry.Cutoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if i, target := m.findCompactionPair(); i >= 0 {
		return m.compactPair(i, target, cutoff)
	}
	return m.compactInPlace(cutoff)
}

// compactPair merges slots i and i+1 into target (i+2), purging entries
// per cutoff, then marks i and i+1 Dead and installs the result at
// target. target must currently be Empty or Dead; spec.md doesn't define
// what to do when it isn't (a well-formed ratio sequence shouldn't
// produce that), so this surfaces it as a Fatal rather than guessing.
func (m *Manager) compactPair(i, target int, cutoff entry.Cutoff) error {
	if target >= len(m.slots) {
		return entry.NewFatal("levels: compaction target exceeds NLEVELS")
	}
	if t := m.slots[target]; t != nil && t.st.kind == Active {
		return entry.NewFatal("levels: compaction target level already active")
	}

	refA, refB := m.slots[i].ref, m.slots[i+1].ref
	srcA := refA.table.IterWithVersions()
	srcB := refB.table.IterWithVersions()

	var merged merge.Source = merge.YIterVersions(srcA, srcB, false, m.opts.Strategy, m.opts.Differ)
	ms := merged.(merge.MergeSource)

	statsA, statsB := refA.table.Stats(), refB.table.Stats()
	expected := int(statsA.NumEntries + statsB.NumEntries)

	fileno := m.allocFileNo()
	path := tablePath(m.dir, m.base, target, fileno)
	opts := m.buildOptsFor(expected)

	b, err := disktable.NewBuilder(path, opts)
	if err != nil {
		return err
	}
	for {
		e, ok := ms.Next()
		if !ok {
			break
		}
		purged, keep := e.Purge(cutoff)
		if !keep {
			continue
		}
		if err := b.Add(purged); err != nil {
			removeBuildArtifacts(path)
			return &PurgeFilesError{Files: []string{path}, Err: err}
		}
	}
	if ms.Err() != nil {
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

	refA.markDead()
	refB.markDead()
	m.slots[i] = &slot{st: state{kind: Empty}}
	m.slots[i+1] = &slot{st: state{kind: Empty}}
	m.slots[target] = &slot{st: state{kind: Active, file: path, fileno: fileno}, ref: newTableRef(newTbl)}

	return m.persistRoot()
}

// compactInPlace rewrites the first non-empty level under cutoff alone,
// with no merge partner — spec.md §4.4: "a single level to be rewritten
// in place when only cutoff must be applied."
func (m *Manager) compactInPlace(cutoff entry.Cutoff) error {
	idx := -1
	for i, s := range m.slots {
		if s != nil && s.st.kind == Active {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrEmptyIndex
	}

	ref := m.slots[idx].ref
	src := ref.table.IterWithVersions()
	stats := ref.table.Stats()

	fileno := m.allocFileNo()
	path := tablePath(m.dir, m.base, idx, fileno)
	opts := m.buildOptsFor(int(stats.NumEntries))

	b, err := disktable.NewBuilder(path, opts)
	if err != nil {
		return err
	}
	for {
		e, ok := src.Next()
		if !ok {
			break
		}
		purged, keep := e.Purge(cutoff)
		if !keep {
			continue
		}
		if err := b.Add(purged); err != nil {
			removeBuildArtifacts(path)
			return &PurgeFilesError{Files: []string{path}, Err: err}
		}
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

	ref.markDead()
	m.slots[idx] = &slot{st: state{kind: Active, file: path, fileno: fileno}, ref: newTableRef(newTbl)}

	return m.persistRoot()
}
