package merge

import (
	"testing"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

type sliceSource struct {
	entries []*entry.Entry
	idx     int
}

func newSliceSource(es ...*entry.Entry) *sliceSource { return &sliceSource{entries: es} }

func (s *sliceSource) Next() (*entry.Entry, bool) {
	if s.idx >= len(s.entries) {
		return nil, false
	}
	e := s.entries[s.idx]
	s.idx++
	return e, true
}

func upsert(key string, seqno entry.Seqno) *entry.Entry {
	return entry.New([]byte(key), entry.NewUpsertValue(entry.InlinePayload([]byte(key+"-v")), seqno))
}

func drain(s Source) []*entry.Entry {
	var out []*entry.Entry
	for {
		e, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestYIterNewerWinsDropsOlderVersion(t *testing.T) {
	a := newSliceSource(upsert("b", 5), upsert("d", 6))
	b := newSliceSource(upsert("a", 1), upsert("b", 2), upsert("c", 3))

	merged := drain(YIter(a, b, false))
	wantKeys := []string{"a", "b", "c", "d"}
	if len(merged) != len(wantKeys) {
		t.Fatalf("got %d entries, want %d", len(merged), len(wantKeys))
	}
	for i, k := range wantKeys {
		if string(merged[i].Key) != k {
			t.Fatalf("position %d: got %q, want %q", i, merged[i].Key, k)
		}
	}
	// "b" collided: a's seqno 5 must win, not b's seqno 2.
	for _, e := range merged {
		if string(e.Key) == "b" && e.ToSeqno() != 5 {
			t.Fatalf("expected newer-wins seqno 5 for b, got %d", e.ToSeqno())
		}
	}
}

func TestYIterVersionsConcatenatesHistory(t *testing.T) {
	a := newSliceSource(upsert("k", 5))
	b := newSliceSource(upsert("k", 2))

	ms := YIterVersions(a, b, false, entry.LSMStrategy(false), nil)
	out, ok := ms.Next()
	if !ok {
		t.Fatal("expected one merged entry")
	}
	if _, ok := ms.Next(); ok {
		t.Fatal("expected exactly one merged entry")
	}
	if ms.Err() != nil {
		t.Fatalf("unexpected error: %v", ms.Err())
	}
	if out.ToSeqno() != 5 {
		t.Fatalf("got top seqno %d, want 5", out.ToSeqno())
	}
	if len(out.Deltas) != 1 || out.Deltas[0].Seqno != 2 {
		t.Fatalf("expected one delta at seqno 2, got %+v", out.Deltas)
	}
}

func TestYIterVersionsOverlappingSeqnoIsFatal(t *testing.T) {
	a := newSliceSource(upsert("k", 3))
	b := newSliceSource(upsert("k", 3))

	ms := YIterVersions(a, b, false, entry.LSMStrategy(false), nil)
	if _, ok := ms.Next(); ok {
		t.Fatal("expected merge to fail on equal seqno")
	}
	if ms.Err() == nil {
		t.Fatal("expected an error for overlapping seqno ranges")
	}
}

func TestFoldNewerWinsNewestSourceWins(t *testing.T) {
	level0 := newSliceSource(upsert("x", 10)) // newest
	level1 := newSliceSource(upsert("x", 5), upsert("y", 6))
	level2 := newSliceSource(upsert("y", 1), upsert("z", 2)) // oldest

	merged := drain(FoldNewerWins([]Source{level0, level1, level2}, false))
	want := map[string]entry.Seqno{"x": 10, "y": 6, "z": 2}
	if len(merged) != len(want) {
		t.Fatalf("got %d entries, want %d", len(merged), len(want))
	}
	for _, e := range merged {
		if e.ToSeqno() != want[string(e.Key)] {
			t.Fatalf("key %q: got seqno %d, want %d", e.Key, e.ToSeqno(), want[string(e.Key)])
		}
	}
}

func TestYIterReverseOrder(t *testing.T) {
	a := newSliceSource(upsert("c", 3), upsert("a", 1))
	b := newSliceSource(upsert("b", 2))

	merged := drain(YIter(a, b, true))
	want := []string{"c", "b", "a"}
	for i, k := range want {
		if string(merged[i].Key) != k {
			t.Fatalf("position %d: got %q, want %q", i, merged[i].Key, k)
		}
	}
}
