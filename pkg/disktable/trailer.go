package disktable

import (
	"bytes"
	"hash/crc32"
)

// trailerMagic identifies a disktable trailer; version allows the format to
// evolve without breaking readers of older files outright (they fail fast
// on a magic/version mismatch instead of misreading the layout).
const (
	trailerMagic   uint32 = 0x444b4d31 // "DKM1"
	trailerVersion byte   = 1
)

// trailer is the file's closing section: magic and version, build flags and
// block sizes, the root block pointer, stats, bitmap filter and application
// metadata, followed by a CRC and a final length so a reader can seek from
// EOF without knowing the file's
// total size up front (spec.md §6.1: "Trailer: compressed statistics,
// optional bitmap filter, application metadata blob, root-M-block
// file-offset and size, magic, version, CRC").
type trailer struct {
	codecTag    byte
	deltaOk     bool
	valueInVlog bool
	zBlockSize  uint32
	mBlockSize  uint32
	vBlockSize  uint32
	rootOffset  int64
	rootIsLeaf  bool
	numEntries  uint64
	numDeleted  uint64
	minKey      []byte
	maxKey      []byte
	bloomBytes  []byte
	metadata    []byte
}

func (t *trailer) encode() []byte {
	var buf bytes.Buffer
	putU32(&buf, trailerMagic)
	buf.WriteByte(trailerVersion)
	buf.WriteByte(t.codecTag)
	buf.WriteByte(boolByte(t.deltaOk))
	buf.WriteByte(boolByte(t.valueInVlog))
	putU32(&buf, t.zBlockSize)
	putU32(&buf, t.mBlockSize)
	putU32(&buf, t.vBlockSize)
	putI64(&buf, t.rootOffset)
	buf.WriteByte(boolByte(t.rootIsLeaf))
	putU64(&buf, t.numEntries)
	putU64(&buf, t.numDeleted)
	putU16(&buf, uint16(len(t.minKey)))
	buf.Write(t.minKey)
	putU16(&buf, uint16(len(t.maxKey)))
	buf.Write(t.maxKey)
	putU32(&buf, uint32(len(t.bloomBytes)))
	buf.Write(t.bloomBytes)
	putU32(&buf, uint32(len(t.metadata)))
	buf.Write(t.metadata)

	body := buf.Bytes()
	sum := crc32.ChecksumIEEE(body)

	out := make([]byte, 0, len(body)+8)
	out = append(out, body...)
	var crcBuf bytes.Buffer
	putU32(&crcBuf, sum)
	out = append(out, crcBuf.Bytes()...)

	var lenBuf bytes.Buffer
	// The stored length counts the length field itself, so a reader finds
	// the trailer's start at EOF minus that length.
	putU32(&lenBuf, uint32(len(out)+4))
	out = append(out, lenBuf.Bytes()...)
	return out
}

func decodeTrailer(data []byte) (*trailer, error) {
	// data is [body|crc]; the trailer's own length field, used to slice it
	// out of the file tail, has already been consumed by the caller.
	if len(data) < 4 {
		return nil, ErrCorrupt
	}
	body := data[:len(data)-4]
	crcBytes := data[len(data)-4:]

	c := &cursor{data: crcBytes}
	wantCRC, err := c.u32()
	if err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, ErrCorrupt
	}

	c = &cursor{data: body}
	magic, err := c.u32()
	if err != nil || magic != trailerMagic {
		return nil, ErrCorrupt
	}
	version, err := c.byte()
	if err != nil || version != trailerVersion {
		return nil, ErrCorrupt
	}
	t := &trailer{}
	if t.codecTag, err = c.byte(); err != nil {
		return nil, err
	}
	deltaOk, err := c.byte()
	if err != nil {
		return nil, err
	}
	t.deltaOk = deltaOk == 1
	valueInVlog, err := c.byte()
	if err != nil {
		return nil, err
	}
	t.valueInVlog = valueInVlog == 1
	if t.zBlockSize, err = c.u32(); err != nil {
		return nil, err
	}
	if t.mBlockSize, err = c.u32(); err != nil {
		return nil, err
	}
	if t.vBlockSize, err = c.u32(); err != nil {
		return nil, err
	}
	if t.rootOffset, err = c.i64(); err != nil {
		return nil, err
	}
	rootIsLeaf, err := c.byte()
	if err != nil {
		return nil, err
	}
	t.rootIsLeaf = rootIsLeaf == 1
	if t.numEntries, err = c.u64(); err != nil {
		return nil, err
	}
	if t.numDeleted, err = c.u64(); err != nil {
		return nil, err
	}
	minLen, err := c.u16()
	if err != nil {
		return nil, err
	}
	minKey, err := c.bytes(int(minLen))
	if err != nil {
		return nil, err
	}
	t.minKey = append([]byte(nil), minKey...)
	maxLen, err := c.u16()
	if err != nil {
		return nil, err
	}
	maxKey, err := c.bytes(int(maxLen))
	if err != nil {
		return nil, err
	}
	t.maxKey = append([]byte(nil), maxKey...)
	bloomLen, err := c.u32()
	if err != nil {
		return nil, err
	}
	bloomBytes, err := c.bytes(int(bloomLen))
	if err != nil {
		return nil, err
	}
	t.bloomBytes = append([]byte(nil), bloomBytes...)
	metaLen, err := c.u32()
	if err != nil {
		return nil, err
	}
	metadata, err := c.bytes(int(metaLen))
	if err != nil {
		return nil, err
	}
	t.metadata = append([]byte(nil), metadata...)
	return t, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
