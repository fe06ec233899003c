package engine

import (
	"encoding/binary"

	"github.com/mnohosten/dgmkv/pkg/entry"
)

// encodeWALRecord frames one mutation's key and seqno for the optional WAL
// collaborator. The engine is the only thing that assigns this layout
// meaning — the WAL itself stays ignorant of it — so it's a private helper
// rather than anything walshim or a caller decodes.
func encodeWALRecord(key []byte, seqno entry.Seqno, deleted bool) []byte {
	buf := make([]byte, 8+1+4+len(key))
	binary.BigEndian.PutUint64(buf[0:8], uint64(seqno))
	if deleted {
		buf[8] = 1
	}
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(key)))
	copy(buf[13:], key)
	return buf
}
