package blockcodec

import (
	"bytes"
	"testing"
)

func TestCompressorRoundTrip(t *testing.T) {
	configs := []*Config{
		{Algorithm: AlgorithmNone},
		SnappyConfig(),
		ZstdConfig(3),
		GzipConfig(6),
		{Algorithm: AlgorithmZlib, Level: 6},
	}

	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 64)

	for _, cfg := range configs {
		c, err := NewCompressor(cfg)
		if err != nil {
			t.Fatalf("%v: new compressor: %v", cfg.Algorithm, err)
		}
		defer c.Close()

		compressed, err := c.Compress(data)
		if err != nil {
			t.Fatalf("%v: compress: %v", cfg.Algorithm, err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("%v: decompress: %v", cfg.Algorithm, err)
		}
		if !bytes.Equal(data, decompressed) {
			t.Fatalf("%v: round trip mismatch", cfg.Algorithm)
		}
	}
}

func TestCompressorEmptyInput(t *testing.T) {
	c, err := NewCompressor(DefaultConfig())
	if err != nil {
		t.Fatalf("new compressor: %v", err)
	}
	defer c.Close()

	compressed, err := c.Compress(nil)
	if err != nil {
		t.Fatalf("compress empty: %v", err)
	}
	if len(compressed) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(compressed))
	}
}

func TestTagRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmNone, AlgorithmSnappy, AlgorithmZstd, AlgorithmGzip, AlgorithmZlib} {
		got, err := FromTag(alg.Tag())
		if err != nil {
			t.Fatalf("%v: from tag: %v", alg, err)
		}
		if got != alg {
			t.Fatalf("tag round trip: got %v, want %v", got, alg)
		}
	}
	if _, err := FromTag(255); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestForTagBuildsWorkingCodec(t *testing.T) {
	codec, err := ForTag(AlgorithmZstd.Tag())
	if err != nil {
		t.Fatalf("for tag: %v", err)
	}
	data := []byte("hello world")
	compressed, err := codec.Compress(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	decompressed, err := codec.Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(data, decompressed) {
		t.Fatal("round trip mismatch via ForTag codec")
	}
}
