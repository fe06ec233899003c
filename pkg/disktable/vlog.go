package disktable

import (
	"os"
	"sync"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// vlogWriter is the append-only value-log segment a Builder spills inline
// payloads into when Options.ValueInVlog is set. Offsets it returns are
// relative to the segment's own start (spec.md §6's file-naming convention
// keeps the value-log as its own `.vlog` file, so "relative to the
// value-log segment start" and "relative to the file" coincide here — no
// restamping pass is needed the way an embedded vlog region would require).
type vlogWriter struct {
	f      *os.File
	offset int64
}

func newVlogWriter(path string) (*vlogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &vlogWriter{f: f}, nil
}

func (w *vlogWriter) append(data []byte, seqno entry.Seqno) (entry.Ref, error) {
	n, err := w.f.Write(data)
	if err != nil {
		return entry.Ref{}, err
	}
	ref := entry.Ref{Fpos: w.offset, Length: int64(n), Seqno: seqno}
	w.offset += int64(n)
	return ref, nil
}

func (w *vlogWriter) close() error {
	if w == nil || w.f == nil {
		return nil
	}
	return w.f.Close()
}

// vlogReader lazily opens the backing file on first Read; a table built
// with ValueInVlog=false never touches it.
type vlogReader struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

func (r *vlogReader) read(ref entry.Ref) ([]byte, error) {
	r.mu.Lock()
	if r.f == nil {
		f, err := os.Open(r.path)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.f = f
	}
	f := r.f
	r.mu.Unlock()
	buf := make([]byte, ref.Length)
	if _, err := f.ReadAt(buf, ref.Fpos); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *vlogReader) close() error {
	if r == nil || r.f == nil {
		return nil
	}
	return r.f.Close()
}
