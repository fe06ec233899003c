package levels

import (
	"encoding/binary"
	"errors"
)

// ErrCorruptRoot is returned when a root file fails its checksum or
// fails to parse.
var ErrCorruptRoot = errors.New("levels: corrupt root file")

// cursor is a small big-endian reader, mirroring pkg/disktable's cursor —
// kept as its own copy since the root file's framing is a distinct format
// from a disk table's trailer.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.data) {
		return 0, ErrCorruptRoot
	}
	v := binary.BigEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.pos+8 > len(c.data) {
		return 0, ErrCorruptRoot
	}
	v := binary.BigEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) byte() (byte, error) {
	if c.pos+1 > len(c.data) {
		return 0, ErrCorruptRoot
	}
	v := c.data[c.pos]
	c.pos++
	return v, nil
}
