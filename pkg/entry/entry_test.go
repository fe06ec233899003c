package entry

import (
	"bytes"
	"testing"
)

type reverseDiffer struct{}

// Diff/Merge round-trip: diff(new,old) stores old verbatim, merge(new,diff)
// returns diff unchanged. This is the simplest possible Differ and is
// enough to exercise the chain-reconstruction algebra.
func (reverseDiffer) Diff(newValue, oldValue []byte) []byte {
	return append([]byte(nil), oldValue...)
}

func (reverseDiffer) Merge(newValue, diff []byte) []byte {
	return append([]byte(nil), diff...)
}

func TestPrependVersionLSM(t *testing.T) {
	strategy := LSMStrategy(false)
	var differ Differ = reverseDiffer{}

	e := New([]byte("k"), NewUpsertValue(InlinePayload([]byte("a")), 1))
	if err := PrependVersionWithDiff(e, strategy, NewUpsertValue(InlinePayload([]byte("b")), 2), differ); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	if err := strategy.Delete(e, 3, differ); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if !e.IsDeleted() {
		t.Fatal("expected deleted value")
	}
	if len(e.Deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(e.Deltas))
	}
	if e.Deltas[0].Seqno != 2 || e.Deltas[1].Seqno != 1 {
		t.Fatalf("deltas not newest-first: %+v", e.Deltas)
	}

	it := e.Versions(differ)
	var got []string
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		if v.Value.IsDeleted() {
			continue
		}
		got = append(got, string(v.Value.Payload.Inline))
	}
	want := []string{"b", "a"}
	if len(got) != len(want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("versions[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPurgeLsmBound(t *testing.T) {
	// Entry with versions at seqnos [15,12,9,7]; purge(Lsm(Excluded(10)))
	// must retain [15,12] only (spec.md §8 scenario S5).
	e := &Entry{
		Key:   []byte("k"),
		Value: NewUpsertValue(InlinePayload([]byte("v15")), 15),
		Deltas: []Delta{
			NewUpsertDelta(InlinePayload([]byte("v12")), 12),
			NewUpsertDelta(InlinePayload([]byte("v9")), 9),
			NewUpsertDelta(InlinePayload([]byte("v7")), 7),
		},
	}

	out, ok := e.Purge(LsmCutoff(Excluded(10)))
	if !ok {
		t.Fatal("expected entry to survive purge")
	}
	if len(out.Deltas) != 1 || out.Deltas[0].Seqno != 12 {
		t.Fatalf("expected deltas [12], got %+v", out.Deltas)
	}
}

func TestPurgeIdempotent(t *testing.T) {
	e := &Entry{
		Key:   []byte("k"),
		Value: NewUpsertValue(InlinePayload([]byte("v")), 20),
		Deltas: []Delta{
			NewUpsertDelta(InlinePayload([]byte("v10")), 10),
		},
	}
	cutoff := LsmCutoff(Included(5))

	once, ok := e.Purge(cutoff)
	if !ok {
		t.Fatal("expected survival")
	}
	twice, ok := once.Purge(cutoff)
	if !ok {
		t.Fatal("expected survival on second purge")
	}
	if len(once.Deltas) != len(twice.Deltas) {
		t.Fatalf("purge not idempotent: %+v vs %+v", once.Deltas, twice.Deltas)
	}
}

func TestPurgeMonoDrop(t *testing.T) {
	e := New([]byte("k"), NewDeleteValue(5))
	if _, ok := e.Purge(MonoCutoff()); ok {
		t.Fatal("Mono cutoff must drop a deleted entry")
	}
}

func TestPurgeMonoKeepsValueOnly(t *testing.T) {
	e := &Entry{
		Key:   []byte("k"),
		Value: NewUpsertValue(InlinePayload([]byte("v")), 5),
		Deltas: []Delta{
			NewUpsertDelta(InlinePayload([]byte("v4")), 4),
		},
	}
	out, ok := e.Purge(MonoCutoff())
	if !ok {
		t.Fatal("expected survival")
	}
	if len(out.Deltas) != 0 {
		t.Fatalf("Mono cutoff must clear deltas, got %+v", out.Deltas)
	}
}

func TestXMergeVersionUnion(t *testing.T) {
	strategy := LSMStrategy(false)
	var differ Differ = reverseDiffer{}

	a := New([]byte("k"), NewUpsertValue(InlinePayload([]byte("v20")), 20))
	a.Deltas = []Delta{NewUpsertDelta(InlinePayload([]byte("v15")), 15)}

	b := New([]byte("k"), NewUpsertValue(InlinePayload([]byte("v10")), 10))
	b.Deltas = []Delta{NewUpsertDelta(InlinePayload([]byte("v5")), 5)}

	merged, err := a.XMerge(b, strategy, differ)
	if err != nil {
		t.Fatalf("xmerge: %v", err)
	}

	var seqnos []Seqno
	it := merged.Versions(differ)
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		seqnos = append(seqnos, v.Value.Seqno)
	}
	want := []Seqno{20, 15, 10, 5}
	if len(seqnos) != len(want) {
		t.Fatalf("seqnos = %v, want %v", seqnos, want)
	}
	for i := range want {
		if seqnos[i] != want[i] {
			t.Fatalf("seqnos[%d] = %d, want %d", i, seqnos[i], want[i])
		}
	}
}

func TestXMergeOverlapError(t *testing.T) {
	strategy := LSMStrategy(false)
	a := New([]byte("k"), NewUpsertValue(InlinePayload([]byte("v20")), 20))
	a.Deltas = []Delta{NewUpsertDelta(InlinePayload([]byte("v5")), 5)}
	b := New([]byte("k"), NewUpsertValue(InlinePayload([]byte("v10")), 10))

	if _, err := a.XMerge(b, strategy, reverseDiffer{}); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestCutoffUnion(t *testing.T) {
	// Included(101) then Excluded(101) must resolve to Excluded(101),
	// mirroring spec.md §9's exact test requirement.
	got := LsmCutoff(Included(101)).Union(LsmCutoff(Excluded(101)))
	want := LsmCutoff(Excluded(101))
	if got != want {
		t.Fatalf("union = %+v, want %+v", got, want)
	}
}

func TestFilterWithin(t *testing.T) {
	e := &Entry{
		Key:   []byte("k"),
		Value: NewUpsertValue(InlinePayload([]byte("v20")), 20),
		Deltas: []Delta{
			NewUpsertDelta(InlinePayload([]byte("v15")), 15),
			NewUpsertDelta(InlinePayload([]byte("v10")), 10),
		},
	}
	out, ok := e.FilterWithin(Included(10), Included(15), reverseDiffer{})
	if !ok {
		t.Fatal("expected non-empty intersection")
	}
	if out.ToSeqno() != 15 {
		t.Fatalf("expected newest-retained seqno 15, got %d", out.ToSeqno())
	}
	if !bytes.Equal(out.Value.Payload.Inline, []byte("v15")) {
		t.Fatalf("unexpected retained payload: %s", out.Value.Payload.Inline)
	}
}
