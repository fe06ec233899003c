package engine

import (
	"bytes"
	"testing"
	"time"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Table.ZBlockSize = 4096
	opts.Table.MBlockSize = 4096
	opts.MemSizeLimit = 1 << 30 // large: tests control flushing explicitly
	opts.CommitInterval = time.Hour
	opts.CompactInterval = time.Hour
	return opts
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if _, err := e.Put([]byte("a"), []byte("va")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := e.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got.Value.Payload.Inline, []byte("va")) {
		t.Fatalf("got %q, want va", got.Value.Payload.Inline)
	}
}

func TestDeleteTombstonesKey(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if _, err := e.Put([]byte("a"), []byte("va")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := e.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := e.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsDeleted() {
		t.Fatalf("expected tombstone, got %+v", got)
	}
}

func TestPutCASRejectsStaleExpectation(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	seqno, err := e.PutCAS([]byte("k"), []byte("v1"), 0)
	if err != nil {
		t.Fatalf("cas create: %v", err)
	}

	if _, err := e.PutCAS([]byte("k"), []byte("v2"), seqno+1); err == nil {
		t.Fatal("expected cas mismatch error")
	}

	if _, err := e.PutCAS([]byte("k"), []byte("v2"), seqno); err != nil {
		t.Fatalf("cas update: %v", err)
	}
}

func TestCloseFlushesUnwrittenData(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := e.Put([]byte("x"), []byte("vx")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	got, err := e2.Get([]byte("x"))
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if !bytes.Equal(got.Value.Payload.Inline, []byte("vx")) {
		t.Fatalf("got %q, want vx", got.Value.Payload.Inline)
	}
}

func TestSeqnoClockContinuesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	first, err := e.Put([]byte("a"), []byte("1"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	e2, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	second, err := e2.Put([]byte("b"), []byte("2"))
	if err != nil {
		t.Fatalf("put after reopen: %v", err)
	}
	if second <= first {
		t.Fatalf("seqno %d did not continue past prior session's %d", second, first)
	}
}

func TestIterYieldsKeysInOrder(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, "base", testOptions())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	for _, k := range []string{"c", "a", "b"} {
		if _, err := e.Put([]byte(k), []byte("v")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	it := e.Iter()
	var keys []string
	for {
		ent, ok := it.Next()
		if !ok {
			break
		}
		keys = append(keys, string(ent.Key))
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestBackgroundCommitOnMemSizeLimit(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.MemSizeLimit = 1 // commit on the very first write
	opts.CommitInterval = 20 * time.Millisecond
	e, err := Open(dir, "base", opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	if _, err := e.Put([]byte("a"), []byte("va")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := e.Put([]byte("b"), []byte("vb")); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		r := e.NewReader()
		got, err := r.Get([]byte("a"))
		r.Close()
		if err == nil && bytes.Equal(got.Value.Payload.Inline, []byte("va")) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background commit did not flush within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
