package entry

// Entry is (key K, value V, deltas: ordered sequence of Delta) per spec.md
// §3. Invariants maintained by every method below:
//
//   - deltas is ordered strictly newest->oldest by seqno:
//     seqno(value) > seqno(deltas[0]) > seqno(deltas[1]) > ...
//   - in non-LSM mode deltas is always empty.
//   - in LSM mode, applying merge from value through deltas reconstructs
//     every historical version.
type Entry struct {
	Key    []byte
	Value  Value
	Deltas []Delta
}

// New creates a fresh entry with no history.
func New(key []byte, value Value) *Entry {
	return &Entry{Key: key, Value: value}
}

func (e *Entry) ToSeqno() Seqno { return e.Value.Seqno }

func (e *Entry) IsDeleted() bool { return e.Value.IsDeleted() }

// Clone returns a deep-enough copy safe to mutate independently of e: the
// Deltas slice header is copied, element values are copied by value (they
// hold []byte slices, which remain shared — matching the persistent index's
// copy-on-write discipline of sharing leaf bytes across snapshots).
func (e *Entry) Clone() *Entry {
	out := &Entry{Key: e.Key, Value: e.Value}
	if len(e.Deltas) > 0 {
		out.Deltas = append([]Delta(nil), e.Deltas...)
	}
	return out
}

// Strategy is the two-variant mutation strategy spec.md §9 asks for instead
// of threading a `lsm bool` through every mutator: LSMStrategy retains a
// delta chain, NonLSMStrategy overwrites.
type Strategy interface {
	// PrependVersion installs newValue as the entry's current value,
	// optionally recording a delta for the value it replaces.
	PrependVersion(e *Entry, newValue Value, differ Differ) error
	// Delete marks the entry deleted at seqno, optionally recording a delta
	// for the value it replaces.
	Delete(e *Entry, seqno Seqno, differ Differ) error
}

type nonLSMStrategy struct{}

// NonLSMStrategy overwrites the value and never records deltas.
func NonLSMStrategy() Strategy { return nonLSMStrategy{} }

func (nonLSMStrategy) PrependVersion(e *Entry, newValue Value, _ Differ) error {
	e.Value = newValue
	return nil
}

func (nonLSMStrategy) Delete(e *Entry, seqno Seqno, _ Differ) error {
	e.Value = NewDeleteValue(seqno)
	return nil
}

type lsmStrategy struct{ sticky bool }

// LSMStrategy retains every historical version as a delta chain. When
// sticky is true, a Delete value with no deltas is still retained by the
// caller rather than removed (spec.md §3) — this strategy only prepends
// deltas; retention on purge is handled by Entry.Purge, which consults
// Cutoff, not this flag directly.
func LSMStrategy(sticky bool) Strategy { return lsmStrategy{sticky: sticky} }

// PrependVersion prepends a delta holding the current value's payload
// verbatim (or a delete delta if the current value is a delete), then
// overwrites the value; differ is not consulted. PrependVersionWithDiff is
// the form that stores diff(new, old). Fails Fatal if the current value is
// a reference (must be materialised first) — spec.md §4.1.
func (s lsmStrategy) PrependVersion(e *Entry, newValue Value, differ Differ) error {
	delta, err := deltaFromCurrent(e.Value, differ)
	if err != nil {
		return err
	}
	e.Deltas = append([]Delta{delta}, e.Deltas...)
	e.Value = newValue
	return nil
}

// Delete marks the value as Delete(seqno); first prepends a delta
// capturing the previous value's content (spec.md §4.1).
func (s lsmStrategy) Delete(e *Entry, seqno Seqno, differ Differ) error {
	delta, err := deltaFromCurrent(e.Value, differ)
	if err != nil {
		return err
	}
	e.Deltas = append([]Delta{delta}, e.Deltas...)
	e.Value = NewDeleteValue(seqno)
	return nil
}

func deltaFromCurrent(current Value, differ Differ) (Delta, error) {
	if current.IsDeleted() {
		return NewDeleteDelta(current.Seqno), nil
	}
	if current.IsReference() {
		return Delta{}, NewFatal("PrependVersion: current value is a reference, must be materialised first")
	}
	// The delta is a verbatim copy of the old payload; differ is not used
	// here. See PrependVersionWithDiff for the form used by memindex, which
	// has both values in hand and stores diff(new, old).
	return NewUpsertDelta(InlinePayload(append([]byte(nil), current.Payload.Inline...)), current.Seqno), nil
}

// PrependVersionWithDiff is the form callers with both the old and new
// materialised payload in hand should use: it computes diff(new, old) via
// differ instead of storing old verbatim. memindex.Index calls this so
// that delta chains hold true reversible diffs rather than full copies,
// matching spec.md §3's "diff is a reversible difference".
func PrependVersionWithDiff(e *Entry, strategy Strategy, newValue Value, differ Differ) error {
	if _, ok := strategy.(lsmStrategy); !ok || differ == nil {
		return strategy.PrependVersion(e, newValue, differ)
	}
	current := e.Value
	if current.IsReference() {
		return NewFatal("PrependVersion: current value is a reference, must be materialised first")
	}
	var delta Delta
	switch {
	case current.IsDeleted():
		delta = NewDeleteDelta(current.Seqno)
	default:
		diff := differ.Diff(payloadBytes(newValue.Payload), payloadBytes(current.Payload))
		delta = NewUpsertDelta(InlinePayload(diff), current.Seqno)
	}
	e.Deltas = append([]Delta{delta}, e.Deltas...)
	e.Value = newValue
	return nil
}

func payloadBytes(p Payload) []byte {
	if p.IsRef {
		return nil
	}
	return p.Inline
}

// Purge returns (entry, true) with its history trimmed per cutoff, or
// (nil, false) when the entire history is obsolete — spec.md §4.1/§4.6.
func (e *Entry) Purge(cutoff Cutoff) (*Entry, bool) {
	n := e.ToSeqno()

	switch cutoff.Kind {
	case CutoffMono:
		if e.IsDeleted() {
			return nil, false
		}
		out := &Entry{Key: e.Key, Value: e.Value}
		return out, true

	case CutoffTombstone:
		if !e.IsDeleted() {
			return e, true
		}
		if boundExcludes(cutoff.Bound, n) {
			return nil, false
		}
		return e, true

	case CutoffLsm:
		b := cutoff.Bound
		if b.IsUnbounded() {
			return nil, false
		}
		switch b.Kind {
		case BoundIncluded:
			if n <= b.Seqno {
				return nil, false
			}
		case BoundExcluded:
			if n < b.Seqno {
				return nil, false
			}
		}
		kept := make([]Delta, 0, len(e.Deltas))
		for _, d := range e.Deltas {
			if deltaSurvives(b, d.Seqno) {
				kept = append(kept, d)
			} else {
				break // deltas are strictly descending; once one is cut, all older ones are too
			}
		}
		out := &Entry{Key: e.Key, Value: e.Value, Deltas: kept}
		return out, true
	}
	return e, true
}

// boundExcludes reports whether seqno n satisfies the bound, i.e. whether a
// Tombstone cutoff drops it: n <= c for Included(c), n < c for Excluded(c),
// and every n for Unbounded.
func boundExcludes(b Bound, n Seqno) bool {
	switch b.Kind {
	case BoundIncluded:
		return n <= b.Seqno
	case BoundExcluded:
		return n < b.Seqno
	default: // Unbounded
		return true
	}
}

func deltaSurvives(b Bound, seqno Seqno) bool {
	switch b.Kind {
	case BoundIncluded:
		return seqno > b.Seqno
	case BoundExcluded:
		return seqno >= b.Seqno
	default:
		return false
	}
}

// FilterWithin restricts the entry's version chain to versions whose seqno
// satisfies both start and end bounds; returns (nil, false) if the
// intersection is empty. Grounded on original_source's
// Entry::filter_within/skip_till (spec.md §4.1).
//
// When the chain's newest version itself falls outside `end`, the chain is
// walked down through its deltas (reconstructing each prior version with
// differ, exactly as Versions does) until a version within `end` is found;
// that version becomes the returned entry's top Value.
func (e *Entry) FilterWithin(start, end Bound, differ Differ) (*Entry, bool) {
	skipped, ok := skipTill(e, start, end, differ)
	if !ok {
		return nil, false
	}
	switch start.Kind {
	case BoundIncluded:
		return skipped.Purge(LsmCutoff(Excluded(start.Seqno)))
	case BoundExcluded:
		return skipped.Purge(LsmCutoff(Included(start.Seqno)))
	default:
		return skipped, true
	}
}

func skipTill(e *Entry, start, end Bound, differ Differ) (*Entry, bool) {
	n := e.ToSeqno()
	switch start.Kind {
	case BoundIncluded:
		if n < start.Seqno {
			return nil, false
		}
	case BoundExcluded:
		if n <= start.Seqno {
			return nil, false
		}
	}

	oldest := n
	if len(e.Deltas) > 0 {
		oldest = e.Deltas[len(e.Deltas)-1].Seqno
	}
	switch end.Kind {
	case BoundIncluded:
		if oldest > end.Seqno {
			return nil, false
		}
	case BoundExcluded:
		if oldest >= end.Seqno {
			return nil, false
		}
	}
	if withinEnd(end, n) {
		return e.Clone(), true
	}

	// The newest version is above `end`: walk down through the deltas,
	// reconstructing each prior version, until one lands within `end`.
	curValue := e.Value
	for i, d := range e.Deltas {
		var next Value
		if d.IsDeleted() {
			next = NewDeleteValue(d.Seqno)
		} else {
			old := d.Diff.Inline
			if differ != nil {
				old = differ.Merge(payloadBytes(curValue.Payload), d.Diff.Inline)
			}
			next = NewUpsertValue(InlinePayload(old), d.Seqno)
		}
		curValue = next
		if withinEnd(end, curValue.Seqno) {
			remaining := append([]Delta(nil), e.Deltas[i+1:]...)
			return &Entry{Key: e.Key, Value: curValue, Deltas: remaining}, true
		}
	}
	return nil, false
}

func withinEnd(end Bound, seqno Seqno) bool {
	switch end.Kind {
	case BoundIncluded:
		return seqno <= end.Seqno
	case BoundExcluded:
		return seqno < end.Seqno
	default:
		return true
	}
}

// XMerge concatenates two version chains for the same key, where one
// side's seqnos are entirely greater than the other's (spec.md §4.1).
// Result is (older).PrependVersion(newer) applied oldest-first for every
// version on the newer side.
func (a *Entry) XMerge(b *Entry, strategy Strategy, differ Differ) (*Entry, error) {
	newer, older := a, b
	if b.ToSeqno() > a.ToSeqno() {
		newer, older = b, a
	} else if a.ToSeqno() == b.ToSeqno() {
		return nil, NewFatal("XMerge: equal seqno on both sides")
	}

	if err := validateXMerge(newer, older); err != nil {
		return nil, err
	}

	versions := newer.Versions(differ)
	all := make([]Value, 0, len(newer.Deltas)+1)
	for v, ok := versions.Next(); ok; v, ok = versions.Next() {
		all = append(all, v.Value)
	}

	out := older.Clone()
	for i := len(all) - 1; i >= 0; i-- {
		if err := PrependVersionWithDiff(out, strategy, all[i], differ); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateXMerge(newer, older *Entry) error {
	seqnos := make([]Seqno, 0, len(newer.Deltas)+len(older.Deltas)+2)
	seqnos = append(seqnos, newer.ToSeqno())
	for _, d := range newer.Deltas {
		seqnos = append(seqnos, d.Seqno)
	}
	seqnos = append(seqnos, older.ToSeqno())
	for _, d := range older.Deltas {
		seqnos = append(seqnos, d.Seqno)
	}
	for i := 0; i+1 < len(seqnos); i++ {
		if seqnos[i] <= seqnos[i+1] {
			return ErrInvalidInput
		}
	}
	return nil
}

// VersionedValue is one (key, value, seqno) reconstruction yielded by
// Versions().
type VersionedValue struct {
	Key     []byte
	Value   Value
	IsFinal bool // true once the version chain is exhausted
}

// VersionIter produces a lazy, finite, newest-first reconstruction of every
// (key, value, seqno) an Entry represents. It stops at the first
// reference-valued element (requires materialisation from the value-log
// first) — spec.md §4.1.
type VersionIter struct {
	key     []byte
	current Value
	deltas  []Delta
	differ  Differ
	idx     int
	done    bool
}

// Versions returns a fresh iterator over this entry's version history.
// differ is used to apply merge(new, diff) -> old when reconstructing each
// prior version; pass nil when the chain's deltas already hold full
// reconstructed payloads (the deltaFromCurrent fallback path).
func (e *Entry) Versions(differ Differ) *VersionIter {
	return &VersionIter{key: e.Key, current: e.Value, deltas: e.Deltas, differ: differ}
}

// Next advances the iterator, returning the next (newest-first) version.
// ok is false once the chain is exhausted or a reference value is hit.
func (it *VersionIter) Next() (VersionedValue, bool) {
	if it.done {
		return VersionedValue{}, false
	}
	if it.current.IsReference() {
		it.done = true
		return VersionedValue{}, false
	}
	out := VersionedValue{Key: it.key, Value: it.current}

	if it.idx >= len(it.deltas) {
		it.done = true
		return out, true
	}

	d := it.deltas[it.idx]
	it.idx++
	if d.IsReference() {
		// The current value was returned above; the delta beyond it can't
		// be applied without materialising it first, so stop here.
		it.done = true
		return out, true
	}
	if d.IsDeleted() {
		it.current = NewDeleteValue(d.Seqno)
		return out, true
	}
	old := d.Diff.Inline
	if it.differ != nil {
		old = it.differ.Merge(payloadBytes(out.Value.Payload), d.Diff.Inline)
	}
	it.current = NewUpsertValue(InlinePayload(old), d.Seqno)
	return out, true
}
