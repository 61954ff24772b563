// Package compression provides the codecs used for levelbind dump streams.
//
// A dump records the codec as a one-byte Type in its header, and every frame
// is compressed as a whole with that codec. The byte values are part of the
// dump format and must not change.
package compression

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type uint8

const (
	// NoCompression indicates no compression.
	NoCompression Type = 0x0

	// SnappyCompression uses Google Snappy compression.
	SnappyCompression Type = 0x1

	// ZlibCompression uses zlib compression.
	ZlibCompression Type = 0x2

	// LZ4Compression uses LZ4 compression.
	LZ4Compression Type = 0x4

	// LZ4HCCompression uses LZ4 High Compression mode.
	LZ4HCCompression Type = 0x5

	// ZstdCompression uses Zstandard compression.
	ZstdCompression Type = 0x7
)

var names = map[Type]string{
	NoCompression:     "none",
	SnappyCompression: "snappy",
	ZlibCompression:   "zlib",
	LZ4Compression:    "lz4",
	LZ4HCCompression:  "lz4hc",
	ZstdCompression:   "zstd",
}

// Types lists every supported codec in wire order.
var Types = []Type{
	NoCompression,
	SnappyCompression,
	ZlibCompression,
	LZ4Compression,
	LZ4HCCompression,
	ZstdCompression,
}

// String returns the codec name accepted by ParseType.
func (t Type) String() string {
	if name, ok := names[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// IsSupported returns true if the compression type is supported.
func (t Type) IsSupported() bool {
	_, ok := names[t]
	return ok
}

// ParseType returns the codec with the given name.
func ParseType(name string) (Type, error) {
	for t, n := range names {
		if n == name {
			return t, nil
		}
	}
	return NoCompression, fmt.Errorf("compression: unknown codec %q", name)
}

// Compress compresses data using the specified compression type.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Encode(nil, data), nil

	case ZlibCompression:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, err := w.Write(data)
		if err != nil {
			return nil, fmt.Errorf("zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("zlib close: %w", err)
		}
		return buf.Bytes(), nil

	case LZ4Compression:
		return compressLZ4(data, lz4.Fast)

	case LZ4HCCompression:
		return compressLZ4(data, lz4.Level9)

	case ZstdCompression:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

// compressLZ4 compresses data using LZ4.
func compressLZ4(data []byte, level lz4.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return nil, fmt.Errorf("lz4 apply level: %w", err)
	}
	_, err := w.Write(data)
	if err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// The zstd codec objects are safe for concurrent EncodeAll/DecodeAll, so one
// of each is shared.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	// zstdCapped never decodes past the capacity of its destination.
	zstdCapped *zstd.Decoder
	zstdErr    error
)

func initZstd() {
	zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdErr != nil {
		zstdErr = fmt.Errorf("zstd encoder: %w", zstdErr)
		return
	}
	zstdDec, zstdErr = zstd.NewReader(nil)
	if zstdErr != nil {
		zstdErr = fmt.Errorf("zstd decoder: %w", zstdErr)
		return
	}
	zstdCapped, zstdErr = zstd.NewReader(nil, zstd.WithDecodeAllCapLimit(true))
	if zstdErr != nil {
		zstdErr = fmt.Errorf("zstd decoder: %w", zstdErr)
	}
}

func zstdEncoder() (*zstd.Encoder, error) {
	zstdOnce.Do(initZstd)
	return zstdEnc, zstdErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(initZstd)
	return zstdDec, zstdErr
}

// Decompress decompresses data using the specified compression type.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Decode(nil, data)

	case ZlibCompression:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)

	case LZ4Compression, LZ4HCCompression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case ZstdCompression:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

// ErrTooLarge is returned by DecompressLimit when the output would exceed the
// limit.
var ErrTooLarge = errors.New("compression: decompressed size exceeds limit")

// DecompressLimit decompresses data like Decompress but refuses output larger
// than limit bytes. Snappy and zstd declare their decoded size up front, so
// an oversized block is rejected before anything is allocated. Zlib and lz4
// stop reading one byte past the limit.
func DecompressLimit(t Type, data []byte, limit int) ([]byte, error) {
	switch t {
	case NoCompression:
		if len(data) > limit {
			return nil, ErrTooLarge
		}
		return data, nil

	case SnappyCompression:
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, err
		}
		if n > limit {
			return nil, ErrTooLarge
		}
		return snappy.Decode(nil, data)

	case ZlibCompression:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zlib decompress: %w", err)
		}
		defer func() { _ = r.Close() }()
		return readLimited(r, limit)

	case LZ4Compression, LZ4HCCompression:
		return readLimited(lz4.NewReader(bytes.NewReader(data)), limit)

	case ZstdCompression:
		var h zstd.Header
		if err := h.Decode(data); err == nil && h.HasFCS && h.FrameContentSize > uint64(limit) {
			return nil, ErrTooLarge
		}
		zstdOnce.Do(initZstd)
		if zstdErr != nil {
			return nil, zstdErr
		}
		out, err := zstdCapped.DecodeAll(data, make([]byte, 0, limit))
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return nil, ErrTooLarge
		}
		return out, err

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func readLimited(r io.Reader, limit int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}
