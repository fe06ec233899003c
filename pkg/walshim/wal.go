// Package walshim narrows a page-cache recovery log down into the narrow
// durability collaborator the engine accepts as an out-of-scope
// dependency: it owns append ordering, fsync timing, and replay, and never
// interprets what a payload means. A buffer-pool recovery log's record
// carries PageID/TxnID/PrevLSN fields; none of those apply to an LSM
// engine with no pages or transactions, so the record shrinks to a
// monotonic Seqno plus an opaque Payload.
package walshim

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Record is one entry recovered from the log on Replay.
type Record struct {
	Seqno   uint64
	Payload []byte
}

// recordHeaderSize is [8-byte Seqno][4-byte PayloadLen].
const recordHeaderSize = 12

// Log is an append-only, fsync-backed durability log satisfying
// engine.WAL. Grounded on pkg/storage/wal.go's WAL: same open/append/
// flush/replay/checkpoint/truncate/close shape, same mutex-serializes-the-
// file idiom, framing trimmed to the one field the engine actually needs.
type Log struct {
	file  *os.File
	mu    sync.Mutex
	seqno uint64
}

// Open creates or resumes a log at path, positioning new appends after
// whatever it already contains.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("walshim: open: %w", err)
	}

	l := &Log{file: file}
	records, err := l.replayLocked()
	if err != nil {
		file.Close()
		return nil, err
	}
	if n := len(records); n > 0 {
		l.seqno = records[n-1].Seqno
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("walshim: seek: %w", err)
	}
	return l, nil
}

// Append writes payload as the next record and returns its seqno. The
// payload's contents are opaque to the log; the engine is the only thing
// that assigns it meaning.
func (l *Log) Append(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seqno++
	seqno := l.seqno

	buf := make([]byte, recordHeaderSize+len(payload)+4)
	binary.BigEndian.PutUint64(buf[0:8], seqno)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[12:], payload)
	crc := crc32.ChecksumIEEE(buf[:recordHeaderSize+len(payload)])
	binary.BigEndian.PutUint32(buf[len(buf)-4:], crc)

	if _, err := l.file.Write(buf); err != nil {
		l.seqno--
		return 0, fmt.Errorf("walshim: append: %w", err)
	}
	return seqno, nil
}

// Flush fsyncs every record appended so far.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Sync()
}

// Replay returns every well-formed record in append order, for recovery on
// open. A short or checksum-mismatched trailing record — the signature of
// a crash mid-write — stops the scan rather than failing it.
func (l *Log) Replay() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replayLocked()
}

func (l *Log) replayLocked() ([]Record, error) {
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("walshim: seek: %w", err)
	}
	defer l.file.Seek(0, io.SeekEnd)

	var records []Record
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(l.file, header); err != nil {
			break
		}
		seqno := binary.BigEndian.Uint64(header[0:8])
		payloadLen := binary.BigEndian.Uint32(header[8:12])

		rest := make([]byte, payloadLen+4)
		if _, err := io.ReadFull(l.file, rest); err != nil {
			break
		}
		payload := rest[:payloadLen]
		wantCRC := binary.BigEndian.Uint32(rest[payloadLen:])
		gotCRC := crc32.ChecksumIEEE(append(append([]byte(nil), header...), payload...))
		if gotCRC != wantCRC {
			break
		}
		records = append(records, Record{Seqno: seqno, Payload: append([]byte(nil), payload...)})
	}
	return records, nil
}

// Checkpoint appends a zero-length marker record and flushes — callers use
// its returned seqno as the low-water mark passed to a later Truncate.
func (l *Log) Checkpoint() (uint64, error) {
	seqno, err := l.Append(nil)
	if err != nil {
		return 0, err
	}
	return seqno, l.Flush()
}

// Truncate drops records at or before beforeSeqno. Left unimplemented:
// archival/compaction of the log itself is out of scope here too.
func (l *Log) Truncate(beforeSeqno uint64) error {
	return nil
}

// Close fsyncs and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}
