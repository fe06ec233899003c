package disktable

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// BloomFilter is a pluggable membership-test collaborator a disk table's
// trailer may carry (spec.md's Non-goals name "bitmap/bloom implementations"
// as something reached only through an interface, not built out as a first
// party concern). A Builder with Bloom set to nil skips the filter entirely
// and every Get falls through to the block index.
type BloomFilter interface {
	Add(key []byte)
	MayContain(key []byte) bool
	Marshal() []byte
}

// defaultBloom is a small FNV double-hashing filter adapted from the
// teacher's pkg/lsm/bloom.go, ported from its little-endian wire format to
// the big-endian convention spec.md mandates for every on-disk numeric in a
// disk table. It exists so Builder/Open have a working default; nothing
// about its hashing scheme is part of the on-disk contract beyond the bytes
// it marshals into the trailer's bloom slot, which a reader only ever hands
// back to UnmarshalBloom unchanged.
type defaultBloom struct {
	bits      []byte
	size      uint64
	numHashes uint32
}

// NewBloomFilter returns the default filter sized for n expected keys at
// false-positive rate p (0 < p < 1).
func NewBloomFilter(n int, p float64) BloomFilter {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	size := optimalBloomSize(n, p)
	numHashes := optimalBloomHashes(n, size)
	return &defaultBloom{
		bits:      make([]byte, (size+7)/8),
		size:      size,
		numHashes: numHashes,
	}
}

func optimalBloomSize(n int, p float64) uint64 {
	m := -1.0 * float64(n) * math.Log(p) / (ln2 * ln2)
	if m < 8 {
		m = 8
	}
	return uint64(m)
}

func optimalBloomHashes(n int, size uint64) uint32 {
	k := float64(size) / float64(n) * ln2
	if k < 1 {
		k = 1
	}
	return uint32(k)
}

const ln2 = 0.6931471805599453

func (b *defaultBloom) Add(key []byte) {
	h1, h2 := bloomHashes(key)
	for i := uint32(0); i < b.numHashes; i++ {
		bit := (h1 + uint64(i)*h2) % b.size
		b.bits[bit/8] |= 1 << (bit % 8)
	}
}

func (b *defaultBloom) MayContain(key []byte) bool {
	h1, h2 := bloomHashes(key)
	for i := uint32(0); i < b.numHashes; i++ {
		bit := (h1 + uint64(i)*h2) % b.size
		if b.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Marshal writes size(8) + numHashes(4) + bits, all big-endian.
func (b *defaultBloom) Marshal() []byte {
	out := make([]byte, 8+4+len(b.bits))
	binary.BigEndian.PutUint64(out[0:8], b.size)
	binary.BigEndian.PutUint32(out[8:12], b.numHashes)
	copy(out[12:], b.bits)
	return out
}

// UnmarshalBloom decodes a filter written by (*defaultBloom).Marshal.
func UnmarshalBloom(data []byte) (BloomFilter, error) {
	if len(data) < 12 {
		return nil, ErrCorrupt
	}
	size := binary.BigEndian.Uint64(data[0:8])
	numHashes := binary.BigEndian.Uint32(data[8:12])
	bits := append([]byte(nil), data[12:]...)
	return &defaultBloom{bits: bits, size: size, numHashes: numHashes}, nil
}

func bloomHashes(key []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write(key)
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(key)
	sum2 := h2.Sum64()
	if sum2 == 0 {
		sum2 = 1
	}
	return sum1, sum2
}
