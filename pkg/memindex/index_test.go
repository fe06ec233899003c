package memindex

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

type reverseDiffer struct{}

func (reverseDiffer) Diff(newValue, oldValue []byte) []byte {
	return append([]byte(nil), oldValue...)
}

func (reverseDiffer) Merge(newValue, diff []byte) []byte {
	return append([]byte(nil), diff...)
}

func TestIndexSetGet(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)

	keys := [][]byte{
		[]byte("apple"), []byte("banana"), []byte("cherry"),
		[]byte("date"), []byte("elderberry"),
	}
	for i, key := range keys {
		if _, _, err := idx.Set(key, entry.NewUpsertValue(entry.InlinePayload([]byte(fmt.Sprintf("v%d", i))), 0)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	for i, key := range keys {
		e, err := idx.Get(key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		want := fmt.Sprintf("v%d", i)
		if !bytes.Equal(e.Value.Payload.Inline, []byte(want)) {
			t.Fatalf("key %s: got %s, want %s", key, e.Value.Payload.Inline, want)
		}
	}

	if _, err := idx.Get([]byte("fig")); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := idx.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestIndexSetOverwriteDropsHistory(t *testing.T) {
	idx := New("t1", entry.LSMStrategy(false), reverseDiffer{})
	key := []byte("k")

	if _, _, err := idx.Set(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v1")), 0)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, _, err := idx.Set(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v2")), 0)); err != nil {
		t.Fatalf("set: %v", err)
	}
	e, err := idx.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(e.Deltas) != 0 {
		t.Fatalf("Set must never retain history, got %d deltas", len(e.Deltas))
	}
	if !bytes.Equal(e.Value.Payload.Inline, []byte("v2")) {
		t.Fatalf("expected v2, got %s", e.Value.Payload.Inline)
	}
}

func TestIndexInsertRetainsHistory(t *testing.T) {
	idx := New("t1", entry.LSMStrategy(false), reverseDiffer{})
	key := []byte("k")

	if _, _, err := idx.Insert(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v1")), 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := idx.Insert(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v2")), 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	e, err := idx.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(e.Deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(e.Deltas))
	}

	it := e.Versions(reverseDiffer{})
	var got []string
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		got = append(got, string(v.Value.Payload.Inline))
	}
	want := []string{"v2", "v1"}
	if len(got) != len(want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("versions[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIndexSetCASRejectsMismatch(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	key := []byte("k")

	seqno, _, err := idx.Set(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v1")), 0))
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, _, err := idx.SetCAS(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v2")), 0), seqno+1); err == nil {
		t.Fatal("expected invalid cas error")
	}
	if _, _, err := idx.SetCAS(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v2")), 0), seqno); err != nil {
		t.Fatalf("expected cas to succeed: %v", err)
	}
}

func TestIndexSetCASRequiresZeroForMissingKey(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	key := []byte("missing")

	if _, _, err := idx.SetCAS(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0), 7); err == nil {
		t.Fatal("expected invalid cas for missing key with nonzero cas")
	}
	if _, _, err := idx.SetCAS(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0), 0); err != nil {
		t.Fatalf("cas 0 against missing key should succeed: %v", err)
	}
}

func TestIndexDeleteKeepsTombstone(t *testing.T) {
	idx := New("t1", entry.LSMStrategy(false), reverseDiffer{})
	key := []byte("k")

	if _, _, err := idx.Insert(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v1")), 0)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := idx.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}

	e, err := idx.Get(key)
	if err != nil {
		t.Fatalf("get after delete should still find tombstone: %v", err)
	}
	if !e.IsDeleted() {
		t.Fatal("expected tombstone")
	}
	if len(e.Deltas) != 1 {
		t.Fatalf("expected delete to retain 1 delta, got %d", len(e.Deltas))
	}
}

func TestIndexRemoveErasesNode(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	for _, key := range keys {
		if _, _, err := idx.Set(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	if _, err := idx.Remove([]byte("c")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := idx.Get([]byte("c")); err != ErrKeyNotFound {
		t.Fatalf("expected removed key gone entirely, got %v", err)
	}
	for _, key := range []string{"a", "b", "d", "e"} {
		if _, err := idx.Get([]byte(key)); err != nil {
			t.Fatalf("get %s after unrelated remove: %v", key, err)
		}
	}
	if err := idx.Validate(); err != nil {
		t.Fatalf("validate after remove: %v", err)
	}
}

func TestIndexValidateAfterManyMutations(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		if _, _, err := idx.Set(key, entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	for i := 0; i < 200; i += 3 {
		key := []byte(fmt.Sprintf("key-%04d", i))
		if _, err := idx.Remove(key); err != nil {
			t.Fatalf("remove %s: %v", key, err)
		}
	}
	if err := idx.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	live, _ := idx.Count()
	if live != 200-67 {
		t.Fatalf("expected %d live entries, got %d", 200-67, live)
	}
}

func TestIndexIterInOrder(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	keys := []string{"banana", "apple", "date", "cherry"}
	for _, key := range keys {
		if _, _, err := idx.Set([]byte(key), entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	cur := idx.Iter()
	var got []string
	for e, ok := cur.Next(); ok; e, ok = cur.Next() {
		got = append(got, string(e.Key))
	}
	want := []string{"apple", "banana", "cherry", "date"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIndexRangeBounded(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		if _, _, err := idx.Set([]byte(key), entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	cur := idx.Range([]byte("b"), []byte("e"), true, false)
	var got []string
	for e, ok := cur.Next(); ok; e, ok = cur.Next() {
		got = append(got, string(e.Key))
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIndexReverse(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	for _, key := range []string{"a", "b", "c"} {
		if _, _, err := idx.Set([]byte(key), entry.NewUpsertValue(entry.InlinePayload([]byte("v")), 0)); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	cur := idx.Reverse()
	var got []string
	for e, ok := cur.Next(); ok; e, ok = cur.Next() {
		got = append(got, string(e.Key))
	}
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIndexSetSeqnoRejectedWithLiveHandle(t *testing.T) {
	idx := New("t1", entry.NonLSMStrategy(), nil)
	h := idx.Acquire()
	if err := idx.SetSeqno(42); err != ErrStaleHandle {
		t.Fatalf("expected ErrStaleHandle, got %v", err)
	}
	h.Release()
	if err := idx.SetSeqno(42); err != nil {
		t.Fatalf("expected SetSeqno to succeed once handle released: %v", err)
	}
	if idx.ToSeqno() != 42 {
		t.Fatalf("expected seqno 42, got %d", idx.ToSeqno())
	}
}

func TestIndexCommitMergesHistory(t *testing.T) {
	dst := New("dst", entry.LSMStrategy(false), reverseDiffer{})
	src := New("src", entry.LSMStrategy(false), reverseDiffer{})

	if _, _, err := dst.Insert([]byte("k"), entry.NewUpsertValue(entry.InlinePayload([]byte("v1")), 0)); err != nil {
		t.Fatalf("dst insert: %v", err)
	}
	// src is a separately created generation, so its clock starts at 0
	// independent of dst's; continue it from dst's current seqno so every
	// entry src produces satisfies Commit's monotonicity precondition
	// (spec.md §4.2/§8) instead of colliding with or trailing dst's clock.
	if err := src.SetSeqno(dst.ToSeqno()); err != nil {
		t.Fatalf("src set seqno: %v", err)
	}
	if _, _, err := src.Insert([]byte("unrelated"), entry.NewUpsertValue(entry.InlinePayload([]byte("x")), 0)); err != nil {
		t.Fatalf("src insert unrelated: %v", err)
	}
	if _, _, err := src.Insert([]byte("k"), entry.NewUpsertValue(entry.InlinePayload([]byte("v2")), 0)); err != nil {
		t.Fatalf("src insert: %v", err)
	}

	if err := dst.Commit(src); err != nil {
		t.Fatalf("commit: %v", err)
	}

	e, err := dst.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(e.Deltas) != 1 {
		t.Fatalf("expected merged chain to retain 1 delta, got %d", len(e.Deltas))
	}
	if !bytes.Equal(e.Value.Payload.Inline, []byte("v2")) {
		t.Fatalf("expected newest value v2, got %s", e.Value.Payload.Inline)
	}
}

func TestIndexCommitRejectsNonIncreasingSeqno(t *testing.T) {
	dst := New("dst", entry.LSMStrategy(false), nil)
	src := New("src", entry.LSMStrategy(false), nil)

	// Advance dst's clock past anything src will ever produce, so src's
	// first entry ("new", an untouched key on dst's side) doesn't exceed
	// dst's current snapshot seqno and the whole commit must be rejected
	// rather than installed with a lower seqno than dst already holds.
	if _, _, err := dst.Insert([]byte("k"), entry.NewUpsertValue(entry.InlinePayload([]byte("v1")), 0)); err != nil {
		t.Fatalf("dst insert: %v", err)
	}
	if _, _, err := dst.Insert([]byte("k"), entry.NewUpsertValue(entry.InlinePayload([]byte("v2")), 0)); err != nil {
		t.Fatalf("dst insert: %v", err)
	}

	if _, _, err := src.Insert([]byte("new"), entry.NewUpsertValue(entry.InlinePayload([]byte("x")), 0)); err != nil {
		t.Fatalf("src insert: %v", err)
	}

	err := dst.Commit(src)
	if !errors.Is(err, ErrCommitNotMonotonic) {
		t.Fatalf("expected ErrCommitNotMonotonic, got %v", err)
	}

	if _, err := dst.Get([]byte("new")); err != ErrKeyNotFound {
		t.Fatalf("rejected commit must not install the offending key, got %v", err)
	}
}
