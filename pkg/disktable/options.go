package disktable

import "github.com/mnohosten/dgmkv/pkg/blockcodec"

// Options configures a Builder. Block sizes must be multiples of 4096
// (spec.md §6); DefaultOptions uses the spec's default of 4 KiB for all
// three.
type Options struct {
	ZBlockSize  int
	MBlockSize  int
	VBlockSize  int
	DeltaOk     bool
	ValueInVlog bool
	Codec       blockcodec.Codec
	Bloom       BloomFilter
	Metadata    []byte
}

const defaultBlockSize = 4096

// DefaultOptions returns the spec's default block sizes with delta chains
// retained, values stored inline, and no codec/bloom filter.
func DefaultOptions() Options {
	return Options{
		ZBlockSize: defaultBlockSize,
		MBlockSize: defaultBlockSize,
		VBlockSize: defaultBlockSize,
		DeltaOk:    true,
	}
}

func (o Options) validate() error {
	if o.ZBlockSize%4096 != 0 || o.ZBlockSize <= 0 {
		return ErrCorrupt
	}
	if o.MBlockSize%4096 != 0 || o.MBlockSize <= 0 {
		return ErrCorrupt
	}
	if o.VBlockSize%4096 != 0 || o.VBlockSize < 0 {
		return ErrCorrupt
	}
	return nil
}
