// Package blockcodec provides the pluggable block-compression codec used
// by pkg/disktable's Z-blocks and M-blocks: the same Algorithm/Config/
// Compressor shape as a general-purpose byte codec, plus a stable on-disk
// Tag so a table's trailer can record which codec built it and a reader
// opened later picks the same one back up without out-of-band
// configuration.
package blockcodec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Algorithm identifies a compression algorithm.
type Algorithm int

const (
	// AlgorithmNone indicates no compression.
	AlgorithmNone Algorithm = iota
	// AlgorithmSnappy is fast compression with moderate ratio.
	AlgorithmSnappy
	// AlgorithmZstd is balanced compression with good speed and ratio.
	AlgorithmZstd
	// AlgorithmGzip is standard compression with good ratio.
	AlgorithmGzip
	// AlgorithmZlib is similar to gzip.
	AlgorithmZlib
)

// Tag is the single byte stamped into a disktable trailer identifying the
// codec a table was built with.
func (a Algorithm) Tag() byte { return byte(a) }

// FromTag recovers an Algorithm from a trailer byte.
func FromTag(tag byte) (Algorithm, error) {
	switch Algorithm(tag) {
	case AlgorithmNone, AlgorithmSnappy, AlgorithmZstd, AlgorithmGzip, AlgorithmZlib:
		return Algorithm(tag), nil
	default:
		return 0, fmt.Errorf("blockcodec: unknown codec tag %d", tag)
	}
}

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZlib:
		return "zlib"
	default:
		return "unknown"
	}
}

// Config holds codec configuration.
type Config struct {
	Algorithm Algorithm
	Level     int
}

// DefaultConfig returns Zstd at a balanced level.
func DefaultConfig() *Config {
	return &Config{Algorithm: AlgorithmZstd, Level: 3}
}

// SnappyConfig returns the fast, low-ratio codec (hot levels).
func SnappyConfig() *Config {
	return &Config{Algorithm: AlgorithmSnappy}
}

// ZstdConfig returns Zstd at the given level (1-19; out of range falls
// back to the default level).
func ZstdConfig(level int) *Config {
	if level < 1 || level > 19 {
		level = 3
	}
	return &Config{Algorithm: AlgorithmZstd, Level: level}
}

// GzipConfig returns Gzip at the given level.
func GzipConfig(level int) *Config {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Config{Algorithm: AlgorithmGzip, Level: level}
}

// Codec compresses and decompresses disktable blocks. It is an interface
// (spec.md §9 design note: pluggable, not a fixed implementation) so
// pkg/disktable depends only on this surface, not on *Compressor directly.
type Codec interface {
	Tag() byte
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Compressor is the default Codec implementation.
type Compressor struct {
	config  *Config
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
	buf     bytes.Buffer
}

// NewCompressor creates a codec for config (DefaultConfig if nil).
func NewCompressor(config *Config) (*Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Compressor{config: config}

	if config.Algorithm == AlgorithmZstd {
		var err error
		encLevel := zstd.EncoderLevelFromZstd(config.Level)
		c.zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			return nil, fmt.Errorf("blockcodec: create zstd encoder: %w", err)
		}
		c.zstdDec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: create zstd decoder: %w", err)
		}
	}
	return c, nil
}

func (c *Compressor) Tag() byte { return c.config.Algorithm.Tag() }

func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch c.config.Algorithm {
	case AlgorithmNone:
		return data, nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	case AlgorithmZstd:
		return c.zstdEnc.EncodeAll(data, nil), nil
	case AlgorithmGzip:
		c.buf.Reset()
		w, err := gzip.NewWriterLevel(&c.buf, c.config.Level)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: gzip writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("blockcodec: gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blockcodec: gzip close: %w", err)
		}
		return append([]byte(nil), c.buf.Bytes()...), nil
	case AlgorithmZlib:
		c.buf.Reset()
		w, err := zlib.NewWriterLevel(&c.buf, c.config.Level)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: zlib writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("blockcodec: zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blockcodec: zlib close: %w", err)
		}
		return append([]byte(nil), c.buf.Bytes()...), nil
	default:
		return nil, fmt.Errorf("blockcodec: unsupported algorithm %v", c.config.Algorithm)
	}
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch c.config.Algorithm {
	case AlgorithmNone:
		return data, nil
	case AlgorithmSnappy:
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: snappy decode: %w", err)
		}
		return decoded, nil
	case AlgorithmZstd:
		decoded, err := c.zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("blockcodec: zstd decode: %w", err)
		}
		return decoded, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("blockcodec: gzip reader: %w", err)
		}
		defer r.Close()
		c.buf.Reset()
		if _, err := io.Copy(&c.buf, r); err != nil {
			return nil, fmt.Errorf("blockcodec: gzip read: %w", err)
		}
		return append([]byte(nil), c.buf.Bytes()...), nil
	case AlgorithmZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("blockcodec: zlib reader: %w", err)
		}
		defer r.Close()
		c.buf.Reset()
		if _, err := io.Copy(&c.buf, r); err != nil {
			return nil, fmt.Errorf("blockcodec: zlib read: %w", err)
		}
		return append([]byte(nil), c.buf.Bytes()...), nil
	default:
		return nil, fmt.Errorf("blockcodec: unsupported algorithm %v", c.config.Algorithm)
	}
}

func (c *Compressor) Close() error {
	if c.zstdEnc != nil {
		c.zstdEnc.Close()
	}
	if c.zstdDec != nil {
		c.zstdDec.Close()
	}
	return nil
}

// ForTag builds the default Codec matching a trailer's recorded tag, used
// by a table reader that did not build the table itself.
func ForTag(tag byte) (Codec, error) {
	alg, err := FromTag(tag)
	if err != nil {
		return nil, err
	}
	return NewCompressor(&Config{Algorithm: alg, Level: 3})
}
