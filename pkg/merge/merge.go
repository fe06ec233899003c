// Package merge implements C5: the ordered two-way and n-way merge
// iterators a level manager's commit and compaction paths use to fuse
// scans across a memory index snapshot and any number of on-disk levels.
// The k-iterator min-select loop (deduplicate-on-equal-key,
// advance-the-min) is generalised here from "keep newest, drop rest" into
// the two distinct modes spec.md §4.5 names: newer-wins (YIter) and
// version-preserving (YIterVersions, via Entry.XMerge).
package merge

import (
	"bytes"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Source is anything that yields entries in strictly ascending (or, for a
// reverse source, strictly descending) key order. Both memindex.Cursor and
// disktable.Iterator already satisfy this shape.
type Source interface {
	Next() (*entry.Entry, bool)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func() (*entry.Entry, bool)

func (f SourceFunc) Next() (*entry.Entry, bool) { return f() }

// merger is the shared two-way merge engine behind YIter/YIterVersions.
// versions selects newer-wins (false) vs. version-preserving (true)
// behaviour on an equal-key collision.
type merger struct {
	a, b     Source
	reverse  bool
	versions bool
	strategy entry.Strategy
	differ   entry.Differ

	curA, curB   *entry.Entry
	okA, okB     bool
	filledA      bool
	filledB      bool
	err          error
}

func (m *merger) fillA() {
	if !m.filledA {
		m.curA, m.okA = m.a.Next()
		m.filledA = true
	}
}

func (m *merger) fillB() {
	if !m.filledB {
		m.curB, m.okB = m.b.Next()
		m.filledB = true
	}
}

func (m *merger) Next() (*entry.Entry, bool) {
	if m.err != nil {
		return nil, false
	}
	m.fillA()
	m.fillB()

	switch {
	case !m.okA && !m.okB:
		return nil, false
	case !m.okA:
		out := m.curB
		m.filledB = false
		return out, true
	case !m.okB:
		out := m.curA
		m.filledA = false
		return out, true
	}

	cmp := bytes.Compare(m.curA.Key, m.curB.Key)
	if m.reverse {
		cmp = -cmp
	}

	switch {
	case cmp == 0:
		m.filledA = false
		m.filledB = false
		if !m.versions {
			// y_iter: a is assumed newer; emit it and drop b entirely.
			return m.curA, true
		}
		// y_iter_versions: full-history merge via xmerge (spec.md §4.1).
		merged, err := m.curA.XMerge(m.curB, m.strategy, m.differ)
		if err != nil {
			m.err = err
			return nil, false
		}
		return merged, true
	case cmp < 0:
		out := m.curA
		m.filledA = false
		return out, true
	default:
		out := m.curB
		m.filledB = false
		return out, true
	}
}

// Err reports the first error encountered (only possible in versions mode,
// from an XMerge precondition violation — spec.md §4.5: "error for the
// caller to pass streams whose per-key version seqno ranges overlap").
func (m *merger) Err() error { return m.err }

// MergeSource is a Source that also exposes the first error it hit.
type MergeSource interface {
	Source
	Err() error
}

// YIter is the newer-wins merge: when a and b agree on a key, a (assumed
// newer) is emitted and b's version is dropped entirely.
func YIter(a, b Source, reverse bool) MergeSource {
	return &merger{a: a, b: b, reverse: reverse}
}

// YIterVersions is the full-history merge: when a and b agree on a key,
// their version chains are concatenated via Entry.XMerge instead of one
// side being dropped.
func YIterVersions(a, b Source, reverse bool, strategy entry.Strategy, differ entry.Differ) MergeSource {
	return &merger{a: a, b: b, reverse: reverse, versions: true, strategy: strategy, differ: differ}
}

// FoldNewerWins cascades YIter across sources ordered newest-first (index 0
// is the newest), producing one merged Source. The cascade is associative
// but not commutative: spec.md §6.4 warns that reordering sources silently
// loses versions, so callers must pass levels oldest-to-youngest in the
// slice's tail-to-head direction (sources[0] newest).
func FoldNewerWins(sources []Source, reverse bool) MergeSource {
	return fold(sources, reverse, false, nil, nil)
}

// FoldVersions is FoldNewerWins's version-preserving counterpart, built on
// YIterVersions.
func FoldVersions(sources []Source, reverse bool, strategy entry.Strategy, differ entry.Differ) MergeSource {
	return fold(sources, reverse, true, strategy, differ)
}

func fold(sources []Source, reverse, versions bool, strategy entry.Strategy, differ entry.Differ) MergeSource {
	if len(sources) == 0 {
		return &merger{a: emptySource{}, b: emptySource{}, reverse: reverse, versions: versions, strategy: strategy, differ: differ}
	}
	acc := sources[len(sources)-1]
	for i := len(sources) - 2; i >= 0; i-- {
		if versions {
			acc = YIterVersions(sources[i], acc, reverse, strategy, differ)
		} else {
			acc = YIter(sources[i], acc, reverse)
		}
	}
	if ms, ok := acc.(MergeSource); ok {
		return ms
	}
	return &merger{a: acc, b: emptySource{}, reverse: reverse}
}

type emptySource struct{}

func (emptySource) Next() (*entry.Entry, bool) { return nil, false }
