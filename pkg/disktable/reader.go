package disktable

import (
	"bytes"
	"os"

	"github.com/mnohosten/dgmkv/pkg/blockcodec"
	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Table is a read-only handle onto a built disk table. Multiple Tables (or
// goroutines sharing one) may read concurrently; each Get/Iter opens no
// additional file descriptors beyond the value-log, which is opened lazily
// and shared across the Table's lifetime (spec.md §6: "readers obtain that
// handle at open time and keep it for the snapshot's lifetime").
type Table struct {
	path    string
	f       *os.File
	trailer *trailer
	codec   blockcodec.Codec
	bloom   BloomFilter
	vr      *vlogReader
}

// Open reads a table's trailer and prepares it for Get/Iter. The block file
// itself stays open for the Table's lifetime; call Close when done.
func Open(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < 4 {
		f.Close()
		return nil, ErrCorrupt
	}

	lenBuf := make([]byte, 4)
	if _, err := f.ReadAt(lenBuf, fi.Size()-4); err != nil {
		f.Close()
		return nil, err
	}
	c := &cursor{data: lenBuf}
	trailerLen, err := c.u32()
	if err != nil {
		f.Close()
		return nil, err
	}
	if int64(trailerLen) > fi.Size() {
		f.Close()
		return nil, ErrCorrupt
	}

	tBuf := make([]byte, trailerLen-4)
	if _, err := f.ReadAt(tBuf, fi.Size()-int64(trailerLen)); err != nil {
		f.Close()
		return nil, err
	}
	tr, err := decodeTrailer(tBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	t := &Table{path: path, f: f, trailer: tr}
	if len(tr.bloomBytes) > 0 {
		bf, err := UnmarshalBloom(tr.bloomBytes)
		if err == nil {
			t.bloom = bf
		}
	}
	if tr.codecTag != 0 {
		codec, err := blockcodec.ForTag(tr.codecTag)
		if err == nil {
			t.codec = codec
		}
	}
	if tr.valueInVlog {
		t.vr = &vlogReader{path: VlogPath(path)}
	}
	return t, nil
}

// Path returns the table's .indx file path, for callers (the level
// manager) that track files by name rather than by handle.
func (t *Table) Path() string { return t.path }

func (t *Table) Close() error {
	if t.vr != nil {
		t.vr.close()
	}
	return t.f.Close()
}

// Stats reports the table's entry counts and key range.
func (t *Table) Stats() Stats {
	return Stats{
		NumEntries: t.trailer.numEntries,
		NumDeleted: t.trailer.numDeleted,
		MinKey:     t.trailer.minKey,
		MaxKey:     t.trailer.maxKey,
	}
}

// readRawBlock reads the fixed-size block at offset and returns its decoded
// body (entryCount | offsets | slots), undoing compression when the table
// was built with a codec: the block's first 4 bytes are then the
// compressed length, not the entry count.
func (t *Table) readRawBlock(offset int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := t.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	if t.codec == nil {
		return buf, nil
	}
	c := &cursor{data: buf}
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	compressed, err := c.bytes(int(n))
	if err != nil {
		return nil, err
	}
	return t.codec.Decompress(compressed)
}

// blockHeader parses entryCount and the offset table common to both Z- and
// M-blocks, returning a cursor positioned at the first entry slot.
func blockHeader(raw []byte) (count uint32, offsets []uint32, c *cursor, err error) {
	c = &cursor{data: raw}
	count, err = c.u32()
	if err != nil {
		return 0, nil, nil, err
	}
	offsets = make([]uint32, count)
	for i := range offsets {
		offsets[i], err = c.u32()
		if err != nil {
			return 0, nil, nil, err
		}
	}
	return count, offsets, c, nil
}

func (t *Table) loadZBlock(offset int64) ([]*entry.Entry, error) {
	raw, err := t.readRawBlock(offset, int(t.trailer.zBlockSize))
	if err != nil {
		return nil, err
	}
	count, _, c, err := blockHeader(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*entry.Entry, count)
	for i := range out {
		e, err := decodeEntrySlot(c, t.trailer.deltaOk)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (t *Table) loadMBlock(offset int64) ([]indexSlot, error) {
	raw, err := t.readRawBlock(offset, int(t.trailer.mBlockSize))
	if err != nil {
		return nil, err
	}
	count, _, c, err := blockHeader(raw)
	if err != nil {
		return nil, err
	}
	out := make([]indexSlot, count)
	for i := range out {
		s, err := decodeIndexSlot(c)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// materialise resolves a reference-valued Payload by reading its bytes from
// the value-log; inline payloads pass through unchanged.
func (t *Table) materialise(p entry.Payload) (entry.Payload, error) {
	if !p.IsRef {
		return p, nil
	}
	if t.vr == nil {
		return entry.Payload{}, ErrCorrupt
	}
	data, err := t.vr.read(p.Ref)
	if err != nil {
		return entry.Payload{}, err
	}
	return entry.InlinePayload(data), nil
}

// inflate materialises every reference-valued payload in e's value and
// deltas.
func (t *Table) inflate(e *entry.Entry) (*entry.Entry, error) {
	out := e.Clone()
	if out.Value.Kind == entry.KindUpsert && out.Value.Payload.IsRef {
		p, err := t.materialise(out.Value.Payload)
		if err != nil {
			return nil, err
		}
		out.Value.Payload = p
	}
	for i, d := range out.Deltas {
		if d.Kind == entry.KindUpsert && d.Diff.IsRef {
			p, err := t.materialise(d.Diff)
			if err != nil {
				return nil, err
			}
			out.Deltas[i].Diff = p
		}
	}
	return out, nil
}

// descendToLeaf walks from the root M-block down to the Z-block whose key range
// may contain key, returning that Z-block's file offset.
func (t *Table) descendToLeaf(key []byte) (int64, error) {
	if t.trailer.numEntries == 0 {
		return 0, ErrKeyNotFound
	}
	offset := t.trailer.rootOffset
	isLeaf := t.trailer.rootIsLeaf
	for !isLeaf {
		slots, err := t.loadMBlock(offset)
		if err != nil {
			return 0, err
		}
		idx := searchMSlots(slots, key)
		if idx < 0 {
			return 0, ErrKeyNotFound
		}
		offset = slots[idx].childFpos
		isLeaf = slots[idx].childIsLeaf
	}
	return offset, nil
}

// searchMSlots returns the index of the last slot whose key is <= key
// (descending into the child that may hold it), or -1 if key is smaller
// than every slot's first key.
func searchMSlots(slots []indexSlot, key []byte) int {
	lo, hi := 0, len(slots)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if bytes.Compare(slots[mid].key, key) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// Get returns the entry stored under key (materialising reference payloads
// from the value-log), or ErrKeyNotFound.
func (t *Table) Get(key []byte) (*entry.Entry, error) {
	if t.bloom != nil && !t.bloom.MayContain(key) {
		return nil, ErrKeyNotFound
	}
	offset, err := t.descendToLeaf(key)
	if err != nil {
		return nil, err
	}
	entries, err := t.loadZBlock(offset)
	if err != nil {
		return nil, err
	}
	i := searchZSlots(entries, key)
	if i < 0 || !bytes.Equal(entries[i].Key, key) {
		return nil, ErrKeyNotFound
	}
	return t.inflate(entries[i])
}

func searchZSlots(entries []*entry.Entry, key []byte) int {
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(entries[mid].Key, key)
		switch {
		case c == 0:
			return mid
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

// collectLeafOffsets walks the index tree in key order, collecting every
// Z-block's file offset. Tables built by this package are small enough
// (spec.md's test tables and a level manager's per-level fan-out) that
// holding the whole offset list in memory is the simplest correct
// implementation; Get does not use this path.
func (t *Table) collectLeafOffsets() ([]int64, error) {
	if t.trailer.numEntries == 0 {
		return nil, nil
	}
	var out []int64
	var walk func(offset int64, isLeaf bool) error
	walk = func(offset int64, isLeaf bool) error {
		if isLeaf {
			out = append(out, offset)
			return nil
		}
		slots, err := t.loadMBlock(offset)
		if err != nil {
			return err
		}
		for _, s := range slots {
			if err := walk(s.childFpos, s.childIsLeaf); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.trailer.rootOffset, t.trailer.rootIsLeaf); err != nil {
		return nil, err
	}
	return out, nil
}
