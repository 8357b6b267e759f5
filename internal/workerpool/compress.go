package workerpool

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/wlrelay/wlrelay/config"
)

// Compressor is a pluggable byte transform applied to outbound
// update-frame payloads before they cross the non-local channel.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// NewCompressor builds the Compressor for mode at the given level,
// negotiated once per connection rather than per frame. level's
// meaning follows config.Config.CompressionLevel's doc comment and is
// ignored for CompressionNone.
func NewCompressor(mode config.CompressionMode, level int) (Compressor, error) {
	switch mode {
	case config.CompressionLZ4:
		return lz4Compressor{level: lz4Level(level)}, nil
	case config.CompressionZSTD:
		return newZstdCompressor(level)
	default:
		return noneCompressor{}, nil
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(src []byte) ([]byte, error)   { return src, nil }
func (noneCompressor) Decompress(src []byte) ([]byte, error) { return src, nil }

// lz4Level maps a 0..9 config level onto the library's named
// CompressionLevel constants rather than converting the int directly,
// since those constants are not guaranteed to be sequential values.
func lz4Level(n int) lz4.CompressionLevel {
	switch {
	case n <= 0:
		return lz4.Fast
	case n == 1:
		return lz4.Level1
	case n == 2:
		return lz4.Level2
	case n == 3:
		return lz4.Level3
	case n == 4:
		return lz4.Level4
	case n == 5:
		return lz4.Level5
	case n == 6:
		return lz4.Level6
	case n == 7:
		return lz4.Level7
	case n == 8:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func (c lz4Compressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}

// zstdLevel maps a 1..4 config level onto zstd's named speed tiers.
func zstdLevel(n int) zstd.EncoderLevel {
	switch n {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// zstdCompressor reuses one encoder/decoder pair across calls, as
// the library recommends, rather than allocating one per frame.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor(level int) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (c *zstdCompressor) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCompressor) Decompress(src []byte) ([]byte, error) {
	return c.dec.DecodeAll(src, nil)
}
