// Package disktable implements C3: the immutable, sorted, two-level block
// file a level manager flushes a memory index into. A table is built once,
// streaming, by Builder, then opened read-only (possibly by many
// concurrent readers) by Open. Generalised from a single flat sparse index
// plus bloom short-circuit into the spec's two-level Z-block/M-block
// scheme, and from little-endian to big-endian framing.
package disktable

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// blockBuf accumulates encoded slots for one in-flight Z-block or M-block.
type blockBuf struct {
	firstKey []byte
	slots    [][]byte
	size     int // body() length: 4-byte count header + 4 bytes/slot offset table + slot bytes
}

func newBlockBuf() *blockBuf { return &blockBuf{size: 4} }

func (b *blockBuf) empty() bool { return len(b.slots) == 0 }

func (b *blockBuf) wouldOverflow(slot []byte, limit int) bool {
	return !b.empty() && b.size+len(slot)+4 > limit
}

func (b *blockBuf) add(key []byte, slot []byte) {
	if b.empty() {
		b.firstKey = append([]byte(nil), key...)
	}
	b.slots = append(b.slots, slot)
	b.size += len(slot) + 4 // +4 for this slot's entry in the offset table
}

// body produces the uncompressed envelope per spec.md §4.3: entryCount(4) |
// offset[0..n-1](4 each) | slots.... Offsets are absolute within the body,
// letting a reader locate entry i without decoding entries 0..i-1 first.
func (b *blockBuf) body() []byte {
	headerLen := 4 + 4*len(b.slots)
	offsets := make([]byte, 4*len(b.slots))
	pos := headerLen
	for i, s := range b.slots {
		binary.BigEndian.PutUint32(offsets[i*4:], uint32(pos))
		pos += len(s)
	}

	var buf bytes.Buffer
	putU32(&buf, uint32(len(b.slots)))
	buf.Write(offsets)
	for _, s := range b.slots {
		buf.Write(s)
	}
	return buf.Bytes()
}

// Builder streams a sorted sequence of entries into a new disk table. Add
// must be called with strictly ascending keys (spec.md §6.2: "Consume a
// sorted iterator of entries").
type Builder struct {
	opts Options
	f    *os.File
	vlog *vlogWriter

	offset int64
	z      *blockBuf
	mstack []*blockBuf // index level i sits at mstack[i]

	lastKey    []byte
	haveLast   bool
	minKey     []byte
	maxKey     []byte
	numEntries uint64
	numDeleted uint64
	bloom      BloomFilter

	zBlockCount int
	lastZOffset int64
}

// NewBuilder creates a table at path. When opts.ValueInVlog is set, a
// sibling value-log is created at VlogPath(path).
func NewBuilder(path string, opts Options) (*Builder, error) {
	if opts.ZBlockSize == 0 {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	b := &Builder{opts: opts, f: f, z: newBlockBuf(), bloom: opts.Bloom}
	if opts.ValueInVlog {
		vw, err := newVlogWriter(VlogPath(path))
		if err != nil {
			f.Close()
			return nil, err
		}
		b.vlog = vw
	}
	return b, nil
}

// Add appends the next entry in key order. The entry is copied; callers may
// reuse their own buffers afterward.
func (b *Builder) Add(e *entry.Entry) error {
	if b.haveLast && bytes.Compare(e.Key, b.lastKey) <= 0 {
		return entry.NewFatal("disktable: Builder.Add requires strictly ascending keys")
	}
	b.lastKey = append([]byte(nil), e.Key...)
	b.haveLast = true
	if b.minKey == nil {
		b.minKey = append([]byte(nil), e.Key...)
	}
	b.maxKey = append([]byte(nil), e.Key...)

	out := e.Clone()
	if b.opts.ValueInVlog {
		if err := b.spillValue(out); err != nil {
			return err
		}
	}
	if !b.opts.DeltaOk {
		out.Deltas = nil
	}

	b.numEntries++
	if out.IsDeleted() {
		b.numDeleted++
	}
	if b.bloom != nil {
		b.bloom.Add(out.Key)
	}

	slot := encodeEntrySlot(out, b.opts.DeltaOk)
	if b.z.wouldOverflow(slot, b.opts.ZBlockSize) {
		if err := b.flushZ(); err != nil {
			return err
		}
	}
	b.z.add(out.Key, slot)
	return nil
}

// spillValue moves an inline, materialised value/delta payload out to the
// value-log, replacing it with a (fpos, length, seqno) reference.
func (b *Builder) spillValue(e *entry.Entry) error {
	if !e.Value.IsDeleted() && !e.Value.Payload.IsRef && len(e.Value.Payload.Inline) > 0 {
		ref, err := b.vlog.append(e.Value.Payload.Inline, e.Value.Seqno)
		if err != nil {
			return err
		}
		e.Value.Payload = entry.RefPayload(ref)
	}
	for i, d := range e.Deltas {
		if d.IsDeleted() || d.Diff.IsRef || len(d.Diff.Inline) == 0 {
			continue
		}
		ref, err := b.vlog.append(d.Diff.Inline, d.Seqno)
		if err != nil {
			return err
		}
		e.Deltas[i].Diff = entry.RefPayload(ref)
	}
	return nil
}

func (b *Builder) flushZ() error {
	if b.z.empty() {
		return nil
	}
	offset, err := b.writeBlock(b.z, b.opts.ZBlockSize)
	if err != nil {
		return err
	}
	firstKey := b.z.firstKey
	b.z = newBlockBuf()
	b.zBlockCount++
	b.lastZOffset = offset
	return b.insertIndex(0, firstKey, offset, true)
}

// insertIndex installs (key, childFpos, childIsLeaf) into the in-flight
// M-block at level, finalising and propagating upward on overflow — the
// "stack of in-flight M-blocks" spec.md §6.2 describes.
func (b *Builder) insertIndex(level int, key []byte, childFpos int64, childIsLeaf bool) error {
	for len(b.mstack) <= level {
		b.mstack = append(b.mstack, newBlockBuf())
	}
	m := b.mstack[level]
	slot := encodeIndexSlot(key, childFpos, childIsLeaf)
	if m.wouldOverflow(slot, b.opts.MBlockSize) {
		offset, err := b.writeBlock(m, b.opts.MBlockSize)
		if err != nil {
			return err
		}
		firstKey := m.firstKey
		b.mstack[level] = newBlockBuf()
		if err := b.insertIndex(level+1, firstKey, offset, false); err != nil {
			return err
		}
		m = b.mstack[level]
	}
	m.add(key, slot)
	return nil
}

// writeBlock compresses (if a codec is configured) and pads buf's body to
// blockSize, then appends it to the file. Compressed blocks are stored as
// compressedLen(4) | compressed-bytes | padding so a fixed-size read at the
// block's offset always recovers exactly the bytes Compress produced,
// regardless of how much smaller than blockSize the compressed form is.
func (b *Builder) writeBlock(buf *blockBuf, blockSize int) (int64, error) {
	offset := b.offset
	body := buf.body()

	var final []byte
	if b.opts.Codec != nil {
		compressed, err := b.opts.Codec.Compress(body)
		if err != nil {
			return 0, err
		}
		var hdr bytes.Buffer
		putU32(&hdr, uint32(len(compressed)))
		final = append(hdr.Bytes(), compressed...)
	} else {
		final = body
	}

	if len(final) > blockSize {
		// A reader always reads exactly blockSize bytes at a block's
		// offset; a block that doesn't fit even after compression can't be
		// represented, so fail the build rather than writing a file a
		// reader would silently truncate.
		return 0, entry.NewFatal("disktable: entry too large for configured block size")
	}
	final = append(final, make([]byte, blockSize-len(final))...)

	n, err := b.f.Write(final)
	if err != nil {
		return 0, err
	}
	b.offset += int64(n)
	return offset, nil
}

// Finish flushes every open block top-down and writes the trailer,
// returning the table's statistics. The Builder must not be used
// afterward.
func (b *Builder) Finish() (*Stats, error) {
	defer b.f.Close()
	defer b.vlog.close()

	if err := b.flushZ(); err != nil {
		return nil, err
	}

	rootOffset, rootIsLeaf, err := b.finalizeIndex()
	if err != nil {
		return nil, err
	}

	codecTag := byte(0)
	if b.opts.Codec != nil {
		codecTag = b.opts.Codec.Tag()
	}
	var bloomBytes []byte
	if b.bloom != nil {
		bloomBytes = b.bloom.Marshal()
	}

	t := &trailer{
		codecTag:    codecTag,
		deltaOk:     b.opts.DeltaOk,
		valueInVlog: b.opts.ValueInVlog,
		zBlockSize:  uint32(b.opts.ZBlockSize),
		mBlockSize:  uint32(b.opts.MBlockSize),
		vBlockSize:  uint32(b.opts.VBlockSize),
		rootOffset:  rootOffset,
		rootIsLeaf:  rootIsLeaf,
		numEntries:  b.numEntries,
		numDeleted:  b.numDeleted,
		minKey:      b.minKey,
		maxKey:      b.maxKey,
		bloomBytes:  bloomBytes,
		metadata:    b.opts.Metadata,
	}
	data := t.encode()
	if _, err := b.f.Write(data); err != nil {
		return nil, err
	}

	return &Stats{
		NumEntries: b.numEntries,
		NumDeleted: b.numDeleted,
		MinKey:     b.minKey,
		MaxKey:     b.maxKey,
	}, nil
}

// finalizeIndex flushes the remaining in-flight M-blocks top-down and
// returns the root block's location. When exactly one Z-block was ever
// written and it never needed an index (a single insertIndex(0, ...) call,
// never propagated upward), the lone Z-block itself becomes the root and
// no M-block is written at all — avoiding a pointless one-entry index
// layer over a tiny table.
func (b *Builder) finalizeIndex() (int64, bool, error) {
	if len(b.mstack) == 0 {
		// No entries were ever added.
		return 0, true, nil
	}
	if b.zBlockCount == 1 && len(b.mstack) == 1 && len(b.mstack[0].slots) == 1 {
		return b.lastZOffset, true, nil
	}

	level := 0
	for {
		isTop := level == len(b.mstack)-1
		m := b.mstack[level]
		if isTop {
			offset, err := b.writeBlock(m, b.opts.MBlockSize)
			if err != nil {
				return 0, false, err
			}
			return offset, false, nil
		}
		if m.empty() {
			level++
			continue
		}
		offset, err := b.writeBlock(m, b.opts.MBlockSize)
		if err != nil {
			return 0, false, err
		}
		firstKey := m.firstKey
		b.mstack[level] = newBlockBuf()
		if err := b.insertIndex(level+1, firstKey, offset, false); err != nil {
			return 0, false, err
		}
		level++
	}
}

// Stats summarises a built table.
type Stats struct {
	NumEntries uint64
	NumDeleted uint64
	MinKey     []byte
	MaxKey     []byte
}
