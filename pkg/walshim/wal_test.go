package walshim

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var seqnos []uint64
	for i := 0; i < 5; i++ {
		seqno, err := log.Append([]byte{byte(i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		seqnos = append(seqnos, seqno)
	}
	if err := log.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	log2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log2.Close()

	records, err := log2.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	for i, rec := range records {
		if rec.Seqno != seqnos[i] {
			t.Fatalf("record %d: seqno got %d, want %d", i, rec.Seqno, seqnos[i])
		}
		if !bytes.Equal(rec.Payload, []byte{byte(i)}) {
			t.Fatalf("record %d: payload got %v, want %v", i, rec.Payload, []byte{byte(i)})
		}
	}
}

func TestLogSeqnoSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := log.Append([]byte("a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.Append([]byte("b")); err != nil {
		t.Fatalf("append: %v", err)
	}
	log.Close()

	log2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log2.Close()

	seqno, err := log2.Append([]byte("c"))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if seqno != 3 {
		t.Fatalf("got seqno %d, want 3 (continuing from prior session)", seqno)
	}
}

func TestLogCheckpointIsZeroLengthRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	if _, err := log.Append([]byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	seqno, err := log.Checkpoint()
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	records, err := log.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	last := records[len(records)-1]
	if last.Seqno != seqno {
		t.Fatalf("checkpoint seqno got %d, want %d", last.Seqno, seqno)
	}
	if len(last.Payload) != 0 {
		t.Fatalf("checkpoint payload got %d bytes, want 0", len(last.Payload))
	}
}

func TestLogTruncatedTrailingRecordStopsReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := log.Append([]byte("good")); err != nil {
		t.Fatalf("append: %v", err)
	}
	log.Close()

	// Simulate a crash mid-write by appending a truncated, bogus trailing
	// record directly to the file.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open for corrupt append: %v", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 9, 0, 0}); err != nil {
		t.Fatalf("corrupt append: %v", err)
	}
	f.Close()

	log2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer log2.Close()

	records, err := log2.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (corrupt trailing record dropped)", len(records))
	}
}
