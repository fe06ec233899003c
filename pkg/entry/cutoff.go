package entry

// BoundKind tags which kind of bound a Cutoff carries.
type BoundKind byte

const (
	BoundUnbounded BoundKind = iota
	BoundIncluded
	BoundExcluded
)

// Bound is one of {Included(s) | Excluded(s) | Unbounded} per spec.md §3.
type Bound struct {
	Kind  BoundKind
	Seqno Seqno
}

func Unbounded() Bound             { return Bound{Kind: BoundUnbounded} }
func Included(s Seqno) Bound       { return Bound{Kind: BoundIncluded, Seqno: s} }
func Excluded(s Seqno) Bound       { return Bound{Kind: BoundExcluded, Seqno: s} }
func (b Bound) IsUnbounded() bool  { return b.Kind == BoundUnbounded }

// CutoffKind tags the three flavours of Cutoff.
type CutoffKind byte

const (
	CutoffMono CutoffKind = iota
	CutoffLsm
	CutoffTombstone
)

// Cutoff governs which versions a compaction may discard (spec.md §3, §4.6).
type Cutoff struct {
	Kind  CutoffKind
	Bound Bound
}

func MonoCutoff() Cutoff             { return Cutoff{Kind: CutoffMono} }
func LsmCutoff(b Bound) Cutoff       { return Cutoff{Kind: CutoffLsm, Bound: b} }
func TombstoneCutoff(b Bound) Cutoff { return Cutoff{Kind: CutoffTombstone, Bound: b} }

// Union combines two cutoffs of the same kind using max-of-bounds
// (spec.md §9 design note, resolved open question): Unbounded absorbs any
// other bound; otherwise the bound with the larger seqno wins, and at equal
// seqnos Excluded wins over Included, so Included(101) followed by
// Excluded(101) resolves to Excluded(101). Per Purge, Included(101)
// discards every version with seqno <= 101 while Excluded(101) discards
// only seqno < 101, so at equal seqnos the result is the bound that
// discards less, while a larger seqno (or Unbounded) discards more.
//
// Union panics if the two cutoffs are of different kinds: callers own one
// cutoff-kind-per-level and must not mix kinds within a single Union call.
func (c Cutoff) Union(other Cutoff) Cutoff {
	if c.Kind != other.Kind {
		panic("entry: Cutoff.Union of mismatched kinds")
	}
	if c.Kind == CutoffMono {
		return c
	}
	return Cutoff{Kind: c.Kind, Bound: unionBound(c.Bound, other.Bound)}
}

func unionBound(a, b Bound) Bound {
	if a.IsUnbounded() || b.IsUnbounded() {
		return Unbounded()
	}
	if a.Seqno != b.Seqno {
		if a.Seqno > b.Seqno {
			return a
		}
		return b
	}
	// Same seqno: Excluded wins over Included.
	if a.Kind == BoundExcluded || b.Kind == BoundExcluded {
		return Excluded(a.Seqno)
	}
	return a
}
