package disktable

import (
	"bytes"
	"encoding/binary"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// Every multi-byte on-disk numeric in this package is big-endian, per
// spec.md's explicit choice of network byte order for the wire format.

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putI64(buf *bytes.Buffer, v int64) { putU64(buf, uint64(v)) }

// cursor reads big-endian primitives from a byte slice, tracking position.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) u16() (uint16, error) {
	if c.pos+2 > len(c.data) {
		return 0, ErrCorrupt
	}
	v := binary.BigEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.data) {
		return 0, ErrCorrupt
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.pos+8 > len(c.data) {
		return 0, ErrCorrupt
	}
	v := binary.BigEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) i64() (int64, error) {
	v, err := c.u64()
	return int64(v), err
}

func (c *cursor) byte() (byte, error) {
	if c.pos+1 > len(c.data) {
		return 0, ErrCorrupt
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, ErrCorrupt
	}
	v := c.data[c.pos : c.pos+n]
	c.pos += n
	return v, nil
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

// encodePayload writes {isRef(1) | ref(24) } or {isRef(1) | len(4) | bytes}.
func encodePayload(buf *bytes.Buffer, p entry.Payload) {
	if p.IsRef {
		buf.WriteByte(1)
		putI64(buf, p.Ref.Fpos)
		putI64(buf, p.Ref.Length)
		putU64(buf, uint64(p.Ref.Seqno))
		return
	}
	buf.WriteByte(0)
	putU32(buf, uint32(len(p.Inline)))
	buf.Write(p.Inline)
}

func decodePayload(c *cursor) (entry.Payload, error) {
	isRef, err := c.byte()
	if err != nil {
		return entry.Payload{}, err
	}
	if isRef == 1 {
		fpos, err := c.i64()
		if err != nil {
			return entry.Payload{}, err
		}
		length, err := c.i64()
		if err != nil {
			return entry.Payload{}, err
		}
		seqno, err := c.u64()
		if err != nil {
			return entry.Payload{}, err
		}
		return entry.RefPayload(entry.Ref{Fpos: fpos, Length: length, Seqno: entry.Seqno(seqno)}), nil
	}
	n, err := c.u32()
	if err != nil {
		return entry.Payload{}, err
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return entry.Payload{}, err
	}
	return entry.InlinePayload(append([]byte(nil), b...)), nil
}

// encodeValue writes seqno(8) | kind(1) | [payload if upsert].
func encodeValue(buf *bytes.Buffer, v entry.Value) {
	putU64(buf, uint64(v.Seqno))
	buf.WriteByte(byte(v.Kind))
	if v.Kind == entry.KindUpsert {
		encodePayload(buf, v.Payload)
	}
}

func decodeValue(c *cursor) (entry.Value, error) {
	seqno, err := c.u64()
	if err != nil {
		return entry.Value{}, err
	}
	kind, err := c.byte()
	if err != nil {
		return entry.Value{}, err
	}
	if entry.ValueKind(kind) == entry.KindDelete {
		return entry.NewDeleteValue(entry.Seqno(seqno)), nil
	}
	payload, err := decodePayload(c)
	if err != nil {
		return entry.Value{}, err
	}
	return entry.NewUpsertValue(payload, entry.Seqno(seqno)), nil
}

func encodeDelta(buf *bytes.Buffer, d entry.Delta) {
	putU64(buf, uint64(d.Seqno))
	buf.WriteByte(byte(d.Kind))
	if d.Kind == entry.KindUpsert {
		encodePayload(buf, d.Diff)
	}
}

func decodeDelta(c *cursor) (entry.Delta, error) {
	seqno, err := c.u64()
	if err != nil {
		return entry.Delta{}, err
	}
	kind, err := c.byte()
	if err != nil {
		return entry.Delta{}, err
	}
	if entry.ValueKind(kind) == entry.KindDelete {
		return entry.NewDeleteDelta(entry.Seqno(seqno)), nil
	}
	diff, err := decodePayload(c)
	if err != nil {
		return entry.Delta{}, err
	}
	return entry.NewUpsertDelta(diff, entry.Seqno(seqno)), nil
}

// encodeEntrySlot writes a single Z-block entry:
// keyLen(2) | key | value | [deltaCount(2) | deltas...]
func encodeEntrySlot(e *entry.Entry, deltaOk bool) []byte {
	var buf bytes.Buffer
	putU16(&buf, uint16(len(e.Key)))
	buf.Write(e.Key)
	encodeValue(&buf, e.Value)
	if deltaOk {
		putU16(&buf, uint16(len(e.Deltas)))
		for _, d := range e.Deltas {
			encodeDelta(&buf, d)
		}
	}
	return buf.Bytes()
}

// decodeEntrySlot reads one entry starting at c.pos, advancing it past the
// slot. deltaOk must match the flag the table was built with.
func decodeEntrySlot(c *cursor, deltaOk bool) (*entry.Entry, error) {
	keyLen, err := c.u16()
	if err != nil {
		return nil, err
	}
	key, err := c.bytes(int(keyLen))
	if err != nil {
		return nil, err
	}
	value, err := decodeValue(c)
	if err != nil {
		return nil, err
	}
	e := &entry.Entry{Key: append([]byte(nil), key...), Value: value}
	if deltaOk {
		n, err := c.u16()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			e.Deltas = make([]entry.Delta, n)
			for i := range e.Deltas {
				d, err := decodeDelta(c)
				if err != nil {
					return nil, err
				}
				e.Deltas[i] = d
			}
		}
	}
	return e, nil
}

// encodeIndexSlot writes an M-block entry: keyLen(2) | key | childFpos(8) |
// childIsLeaf(1).
func encodeIndexSlot(key []byte, childFpos int64, childIsLeaf bool) []byte {
	var buf bytes.Buffer
	putU16(&buf, uint16(len(key)))
	buf.Write(key)
	putI64(&buf, childFpos)
	if childIsLeaf {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

type indexSlot struct {
	key         []byte
	childFpos   int64
	childIsLeaf bool
}

func decodeIndexSlot(c *cursor) (indexSlot, error) {
	keyLen, err := c.u16()
	if err != nil {
		return indexSlot{}, err
	}
	key, err := c.bytes(int(keyLen))
	if err != nil {
		return indexSlot{}, err
	}
	fpos, err := c.i64()
	if err != nil {
		return indexSlot{}, err
	}
	leafByte, err := c.byte()
	if err != nil {
		return indexSlot{}, err
	}
	return indexSlot{key: append([]byte(nil), key...), childFpos: fpos, childIsLeaf: leafByte == 1}, nil
}
