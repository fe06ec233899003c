// Package engine wires the three core subsystems — the memory index (C2),
// disk tables (C3), and the level manager (C4) — into the single
// embeddable key-value store spec.md describes, plus the ambient stack
// (background commit/compaction workers, an optional write-ahead log) a
// complete repository needs around them.
//
// A writer mutex around a live memtable, a buffered "flush this memtable"
// channel drained by one dedicated worker goroutine, and a ticker-driven
// compaction worker — generalized from a flat SSTable list with a fixed
// flush/compact trigger to spec.md §4.4's ratio-driven level manager, and
// from a bare sync.WaitGroup shutdown to golang.org/x/sync/errgroup so the
// two workers' errors are collected and a background failure can be
// observed by Close.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnohosten/dgmkv/pkg/disktable"
	"github.com/mnohosten/dgmkv/pkg/entry"
	"github.com/mnohosten/dgmkv/pkg/levels"
	"github.com/mnohosten/dgmkv/pkg/memindex"
	"github.com/mnohosten/dgmkv/pkg/merge"
)

// Options configures an Engine. Open replaces Options whose NLevels is zero
// with DefaultOptions() as a whole; otherwise only a nil Strategy is filled
// in, and every other field is used as given.
type Options struct {
	NLevels   int
	MemRatio  float64
	DiskRatio float64
	LSMMode   bool

	Strategy entry.Strategy
	Differ   entry.Differ

	Table        disktable.Options
	BloomFactory func(expectedEntries int) disktable.BloomFilter

	MemSizeLimit int64

	CommitInterval  time.Duration
	CompactInterval time.Duration

	// Cutoff is applied by every background compaction. Defaults to
	// retaining full history (an Lsm cutoff at Excluded(0), which no seqno
	// falls below) — callers that want bounded
	// version retention set this explicitly.
	Cutoff entry.Cutoff

	// WAL, if set, receives one Append per mutation for external recovery
	// or replication tooling. The engine never reads it back.
	WAL WAL
}

// DefaultOptions returns spec.md §4.4's policy defaults plus reasonable
// worker intervals.
func DefaultOptions() Options {
	return Options{
		NLevels:         levels.DefaultNLevels,
		MemRatio:        levels.DefaultMemRatio,
		DiskRatio:       levels.DefaultDiskRatio,
		LSMMode:         true,
		Strategy:        entry.LSMStrategy(false),
		Table:           disktable.DefaultOptions(),
		MemSizeLimit:    4 << 20,
		CommitInterval:  time.Second,
		CompactInterval: 10 * time.Second,
		Cutoff:          entry.LsmCutoff(entry.Excluded(0)),
	}
}

func (o Options) levelsOptions() levels.Options {
	return levels.Options{
		NLevels:      o.NLevels,
		MemRatio:     o.MemRatio,
		DiskRatio:    o.DiskRatio,
		LSMMode:      o.LSMMode,
		Strategy:     o.Strategy,
		Differ:       o.Differ,
		Table:        o.Table,
		BloomFactory: o.BloomFactory,
	}
}

// Engine is the top-level store: a live memory-index generation in front of
// a tiered level manager, kept bounded by two background workers.
type Engine struct {
	dir  string
	base string
	opts Options

	writeMu sync.Mutex
	mem     *memindex.Index

	mgr *levels.Manager
	wal WAL

	commitCh  chan *memindex.Index
	compactCh chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    bool
}

// Open creates or resumes an engine rooted at dir/base.
func Open(dir, base string, opts Options) (*Engine, error) {
	if opts.NLevels == 0 {
		opts = DefaultOptions()
	}
	if opts.Strategy == nil {
		opts.Strategy = entry.LSMStrategy(false)
	}

	mgr, err := levels.Open(dir, base, opts.levelsOptions())
	if err != nil {
		return nil, err
	}

	mem := memindex.New(base, opts.Strategy, opts.Differ)
	if last := mgr.LastSeqno(); last > 0 {
		// Cannot fail: mem was just created, so it has no outstanding
		// reader/writer handles yet.
		_ = mem.SetSeqno(last)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	e := &Engine{
		dir:       dir,
		base:      base,
		opts:      opts,
		mem:       mem,
		mgr:       mgr,
		wal:       opts.WAL,
		commitCh:  make(chan *memindex.Index, 1),
		compactCh: make(chan struct{}, 1),
		group:     g,
		cancel:    cancel,
	}

	g.Go(func() error { return e.commitWorker(gctx) })
	g.Go(func() error { return e.compactWorker(gctx) })

	return e, nil
}

// Put inserts or overwrites key's value under the index's configured
// Strategy (LSM mode retains history as a delta chain).
func (e *Engine) Put(key, value []byte) (entry.Seqno, error) {
	return e.mutate(key, entry.NewUpsertValue(entry.InlinePayload(value), 0))
}

// PutCAS is Put with an expected-seqno precondition; cas == 0 means "key
// must not already exist".
func (e *Engine) PutCAS(key, value []byte, cas entry.Seqno) (entry.Seqno, error) {
	return e.mutateCAS(key, entry.NewUpsertValue(entry.InlinePayload(value), 0), cas)
}

// Delete tombstones key, preserving its version history.
func (e *Engine) Delete(key []byte) (entry.Seqno, error) {
	e.writeMu.Lock()
	if e.closed {
		e.writeMu.Unlock()
		return 0, ErrClosed
	}
	seqno, _, err := e.mem.Delete(key)
	if err != nil {
		e.writeMu.Unlock()
		return 0, err
	}
	swapped := e.swapIfFullLocked()
	e.writeMu.Unlock()

	e.logToWAL(key, seqno, true)
	e.dispatchCommit(swapped)
	return seqno, nil
}

func (e *Engine) mutate(key []byte, value entry.Value) (entry.Seqno, error) {
	e.writeMu.Lock()
	if e.closed {
		e.writeMu.Unlock()
		return 0, ErrClosed
	}
	seqno, _, err := e.mem.Insert(key, value)
	if err != nil {
		e.writeMu.Unlock()
		return 0, err
	}
	swapped := e.swapIfFullLocked()
	e.writeMu.Unlock()

	e.logToWAL(key, seqno, false)
	e.dispatchCommit(swapped)
	return seqno, nil
}

func (e *Engine) mutateCAS(key []byte, value entry.Value, cas entry.Seqno) (entry.Seqno, error) {
	e.writeMu.Lock()
	if e.closed {
		e.writeMu.Unlock()
		return 0, ErrClosed
	}
	seqno, _, err := e.mem.InsertCAS(key, value, cas)
	if err != nil {
		e.writeMu.Unlock()
		return 0, err
	}
	swapped := e.swapIfFullLocked()
	e.writeMu.Unlock()

	e.logToWAL(key, seqno, false)
	e.dispatchCommit(swapped)
	return seqno, nil
}

// swapIfFullLocked must be called with writeMu held. It installs a fresh
// memory-index generation when the live one has outgrown MemSizeLimit and
// returns the outgoing generation for the caller to hand to the commit
// worker, or nil if no swap happened.
func (e *Engine) swapIfFullLocked() *memindex.Index {
	if e.opts.MemSizeLimit <= 0 || e.mem.Footprint() < e.opts.MemSizeLimit {
		return nil
	}
	old := e.mem
	next := memindex.New(e.base, e.opts.Strategy, e.opts.Differ)
	// Cannot fail: next was just created with no outstanding handles.
	_ = next.SetSeqno(old.ToSeqno())
	e.mem = next
	return old
}

// dispatchCommit hands a full memory-index generation to the dedicated
// commit worker. A non-blocking send is correct here: the channel holds at
// most one pending commit, and swapIfFullLocked only produces a new one
// once the worker has drained the last.
func (e *Engine) dispatchCommit(mem *memindex.Index) {
	if mem == nil {
		return
	}
	select {
	case e.commitCh <- mem:
	default:
	}
}

func (e *Engine) logToWAL(key []byte, seqno entry.Seqno, deleted bool) {
	if e.wal == nil {
		return
	}
	payload := encodeWALRecord(key, seqno, deleted)
	e.wal.Append(payload)
}

// NewReader snapshots the current memory-index generation plus every
// non-empty level — spec.md §4.4's to_reader(). The returned Reader must be
// closed.
func (e *Engine) NewReader() *levels.Reader {
	e.writeMu.Lock()
	mem := e.mem
	e.writeMu.Unlock()
	return e.mgr.ToReader(mem)
}

// Get looks up key across the live memory index and every disk level,
// newest first.
func (e *Engine) Get(key []byte) (*entry.Entry, error) {
	r := e.NewReader()
	defer r.Close()
	return r.Get(key)
}

// Iter, Range, and Reverse each snapshot the engine and return a merged
// view. The levels.Reader behind the view is never closed: the memory-index
// and level handles it acquired stay held after the view is drained or
// dropped. NewReader returns a Reader whose Close releases them.
func (e *Engine) Iter() merge.MergeSource {
	r := e.NewReader()
	return r.Iter()
}

func (e *Engine) Range(start, end []byte, startIncl, endIncl bool) merge.MergeSource {
	r := e.NewReader()
	return r.Range(start, end, startIncl, endIncl)
}

func (e *Engine) Reverse() merge.MergeSource {
	r := e.NewReader()
	return r.Reverse()
}

// commitWorker is the single dedicated goroutine that ever calls
// mgr.Commit — spec.md §9: "implement them as foreground calls on a
// dedicated worker task/thread that the top-level engine dispatches to."
func (e *Engine) commitWorker(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.CommitInterval)
	defer ticker.Stop()

	for {
		select {
		case mem := <-e.commitCh:
			if err := e.mgr.Commit(mem); err != nil {
				return err
			}
			e.signalCompaction()
		case <-ticker.C:
			if mem := e.swapForTimedCommit(); mem != nil {
				if err := e.mgr.Commit(mem); err != nil {
					return err
				}
				e.signalCompaction()
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// swapForTimedCommit forces a generation swap on the commit interval even
// when MemSizeLimit hasn't been reached, so a low-write-rate engine still
// durably flushes instead of holding everything in memory indefinitely.
func (e *Engine) swapForTimedCommit() *memindex.Index {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed || e.mem.Footprint() == 0 {
		return nil
	}
	old := e.mem
	next := memindex.New(e.base, e.opts.Strategy, e.opts.Differ)
	_ = next.SetSeqno(old.ToSeqno())
	e.mem = next
	return old
}

// TriggerCompaction asks the background compaction worker to run one step
// now rather than waiting for CompactInterval or a level to cross its ratio
// threshold. Intended for demos and tests; the worker still decides whether
// there's anything to do.
func (e *Engine) TriggerCompaction() {
	select {
	case e.compactCh <- struct{}{}:
	default:
	}
}

func (e *Engine) signalCompaction() {
	if !e.mgr.NeedsCompaction() {
		return
	}
	select {
	case e.compactCh <- struct{}{}:
	default:
	}
}

// compactWorker is the single dedicated goroutine that ever calls
// mgr.Compact.
func (e *Engine) compactWorker(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.CompactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.compactCh:
			if err := e.mgr.Compact(e.opts.Cutoff); err != nil && err != levels.ErrEmptyIndex {
				return err
			}
		case <-ticker.C:
			if e.mgr.NeedsCompaction() {
				if err := e.mgr.Compact(e.opts.Cutoff); err != nil && err != levels.ErrEmptyIndex {
					return err
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close stops the background workers, commits any unflushed data, and
// closes the level manager and WAL. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.writeMu.Lock()
		e.closed = true
		final := e.mem
		e.writeMu.Unlock()

		e.cancel()
		werr := e.group.Wait()

		// A generation can be sitting in commitCh, queued but not yet
		// picked up, the instant the workers stop — drain it rather than
		// lose it.
		select {
		case mem := <-e.commitCh:
			if cerr := e.mgr.Commit(mem); cerr != nil && err == nil {
				err = cerr
			}
		default:
		}

		if final != nil && final.Footprint() > 0 {
			if cerr := e.mgr.Commit(final); cerr != nil && err == nil {
				err = cerr
			}
		}
		if merr := e.mgr.Close(); merr != nil && err == nil {
			err = merr
		}
		if e.wal != nil {
			if werr2 := e.wal.Close(); werr2 != nil && err == nil {
				err = werr2
			}
		}
		if werr != nil && err == nil {
			err = werr
		}
	})
	return err
}
