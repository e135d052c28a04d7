package block

import (
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/AadeshGurav/nebuladb/internal/dberr"
)

// Compress transforms the tightly packed entry bytes into the form stored
// as a block's payload, per the block header's compression code. Code 0
// (none) returns raw unchanged (a copy is not made - callers must not
// mutate the returned slice and the input afterwards, mirroring how the
// block writer treats its entry buffer as owned once compressed).
func Compress(code uint8, raw []byte) ([]byte, error) {
	switch code {
	case CompressionNone:
		return raw, nil
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}

		return enc.EncodeAll(raw, nil), nil
	case CompressionLZ4:
		return nil, fmt.Errorf("compress: %w: code %d", dberr.ErrUnsupportedCompression, code)
	default:
		return nil, fmt.Errorf("compress: %w: code %d", dberr.ErrBadCompression, code)
	}
}

// Decompress reverses [Compress]. Code 3 (lz4) has no codec in this build:
// like Compress, it returns ErrUnsupportedCompression for it, so a block
// tagged lz4 passes [Decode] but its payload cannot be read.
func Decompress(code uint8, payload []byte, uncompressedSize uint64) ([]byte, error) {
	switch code {
	case CompressionNone:
		return payload, nil
	case CompressionSnappy:
		dst := make([]byte, 0, uncompressedSize)

		out, err := snappy.Decode(dst, payload)
		if err != nil {
			return nil, fmt.Errorf("decompress: snappy: %w", err)
		}

		return out, nil
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("decompress: zstd: %w", err)
		}

		out, err := dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("decompress: zstd: %w", err)
		}

		return out, nil
	case CompressionLZ4:
		return nil, fmt.Errorf("decompress: %w: lz4 decoding is not wired in this build", dberr.ErrUnsupportedCompression)
	default:
		return nil, fmt.Errorf("decompress: %w: code %d", dberr.ErrBadCompression, code)
	}
}

// zstd encoders/decoders are expensive to construct and safe for concurrent
// use, so each is built once and shared across the process.
var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdEncErr  error

	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
	zstdDecErr  error
)

func zstdEncoder() (*zstd.Encoder, error) {
	zstdEncOnce.Do(func() {
		zstdEnc, zstdEncErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})

	return zstdEnc, zstdEncErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdDecOnce.Do(func() {
		zstdDec, zstdDecErr = zstd.NewReader(nil)
	})

	return zstdDec, zstdDecErr
}
