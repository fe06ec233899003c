package entry

// Seqno is the monotonically increasing 64-bit version identifier assigned
// by the memory index (C2) at every mutation. It defines the total order of
// operations and is the identity of a version.
type Seqno uint64

// Ref points into a value-log segment: a (file-offset, length, seqno) tuple
// stamped onto a Z-block entry whose payload was written out-of-line.
// File offsets are relative to the value-log segment start.
type Ref struct {
	Fpos   int64
	Length int64
	Seqno  Seqno
}

// Payload is the tagged {Inline(bytes) | Ref(fpos,len,seqno)} variant that
// spec.md §9 calls out for lazy, value-log-backed content. A Payload with
// IsRef set requires a file handle to materialise (see disktable.Table).
type Payload struct {
	Inline []byte
	IsRef  bool
	Ref    Ref
}

// InlinePayload wraps bytes stored directly in the entry.
func InlinePayload(b []byte) Payload { return Payload{Inline: b} }

// RefPayload wraps a value-log reference.
func RefPayload(r Ref) Payload { return Payload{IsRef: true, Ref: r} }

// IsMaterialised reports whether the payload can be read without a file
// handle.
func (p Payload) IsMaterialised() bool { return !p.IsRef }

// ValueKind tags a Value/Delta as an upsert or a delete tombstone.
type ValueKind byte

const (
	KindUpsert ValueKind = iota
	KindDelete
)

// Value is the current, most-recent content of an Entry: {Upsert(payload,
// seqno) | Delete(seqno)} per spec.md §3.
type Value struct {
	Kind    ValueKind
	Payload Payload
	Seqno   Seqno
}

func NewUpsertValue(payload Payload, seqno Seqno) Value {
	return Value{Kind: KindUpsert, Payload: payload, Seqno: seqno}
}

func NewDeleteValue(seqno Seqno) Value {
	return Value{Kind: KindDelete, Seqno: seqno}
}

func (v Value) IsDeleted() bool { return v.Kind == KindDelete }

// IsReference reports whether this value's payload must be materialised
// from the value-log before the value's bytes are visible.
func (v Value) IsReference() bool {
	return v.Kind == KindUpsert && v.Payload.IsRef
}

// Delta is a reversible difference: {Upsert(diff, seqno) | Delete(seqno)}.
// `diff` is produced by the application's diff(new, old) and consumed by
// merge(new, diff) -> old (spec.md §3).
type Delta struct {
	Kind  ValueKind
	Diff  Payload
	Seqno Seqno
}

func NewUpsertDelta(diff Payload, seqno Seqno) Delta {
	return Delta{Kind: KindUpsert, Diff: diff, Seqno: seqno}
}

func NewDeleteDelta(seqno Seqno) Delta {
	return Delta{Kind: KindDelete, Seqno: seqno}
}

func (d Delta) IsDeleted() bool { return d.Kind == KindDelete }

func (d Delta) IsReference() bool {
	return d.Kind == KindUpsert && d.Diff.IsRef
}

// Differ is the application hook used to compute and apply reversible
// diffs in LSM mode (spec.md §3: "diff is a reversible difference produced
// by the application's diff(new, old) and consumed by merge(new, diff) ->
// old"). Keys are opaque []byte payloads; Differ operates on materialised
// bytes only — callers must resolve references before calling it.
type Differ interface {
	// Diff computes a reversible difference taking newValue to oldValue.
	Diff(newValue, oldValue []byte) []byte
	// Merge applies diff to newValue to reconstruct oldValue.
	Merge(newValue, diff []byte) []byte
}
