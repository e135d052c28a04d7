// Package block implements the on-disk block format: a magic-bracketed
// header and footer around a tightly packed run of document entries, plus
// the pure encode/decode functions that serialize and parse it.
//
// A Block is the unit of on-disk packaging for a contiguous run of document
// entries written by one flush of a collection's active buffer. Nothing in
// this package performs I/O; callers (internal/blockstore) own the file
// handle and slot arithmetic.
package block

import (
	"encoding/binary"
	"fmt"

	"github.com/AadeshGurav/nebuladb/internal/dberr"
)

// Magic is the 4-byte identifier at the start and end of every block.
const Magic = "NBLD"

// Compression codes recorded in the block header. See internal/block/compress.go
// for which codes this build can actually encode.
const (
	CompressionNone   uint8 = 0
	CompressionSnappy uint8 = 1
	CompressionZstd   uint8 = 2
	CompressionLZ4    uint8 = 3
)

// Wire layout sizes.
const (
	HeaderSize = 34 // magic(4) + version(1) + compression(1) + doc_count(4) + uncompressed_size(8) + compressed_size(8) + created_at(8)
	FooterSize = 8  // checksum(4) + magic(4)

	// Version is the only block format version this package writes.
	Version uint8 = 1
)

// Block is the decoded in-memory representation of one on-disk block.
type Block struct {
	Version          uint8
	Compression      uint8
	DocCount         uint32
	UncompressedSize uint64
	CompressedSize   uint64
	CreatedAt        uint64 // seconds since Unix epoch
	Payload          []byte // packed document entries, as persisted (i.e. possibly compressed)
}

// NewEmpty returns a fresh block with no entries, tagged with the given
// compression code and creation time, ready to receive appended entries.
func NewEmpty(compression uint8, createdAt uint64) *Block {
	return &Block{
		Version:     Version,
		Compression: compression,
		CreatedAt:   createdAt,
		Payload:     nil,
	}
}

// EncodedSize returns the number of bytes Encode would produce for this
// block's current payload, without actually serializing it.
func (b *Block) EncodedSize() int {
	return HeaderSize + len(b.Payload) + FooterSize
}

// checksum computes the spec-defined 32-bit wrapping-add fold over the
// header fields (with the checksum and trailing magic excluded, since
// those don't exist yet at the point the checksum is computed) and the
// payload bytes.
//
// This is deliberately not a cryptographic or even a well-distributed
// checksum - it is a cheap, order-sensitive fold chosen for the on-disk
// format itself, not swapped for crc32/xxhash (see DESIGN.md).
func checksum(version, compression uint8, docCount uint32, uncompressedSize, compressedSize, createdAt uint64, payload []byte) uint32 {
	var sum uint32

	for _, c := range []byte(Magic) {
		sum += uint32(c)
	}

	sum += uint32(version)
	sum += uint32(compression)
	sum += docCount

	sum += uint32(uncompressedSize)
	sum += uint32(uncompressedSize >> 32)

	sum += uint32(compressedSize)
	sum += uint32(compressedSize >> 32)

	sum += uint32(createdAt)
	sum += uint32(createdAt >> 32)

	for _, c := range payload {
		sum += uint32(c)
	}

	return sum
}

// Checksum returns the footer checksum for the block's current fields and
// payload, recomputed fresh (never cached).
func (b *Block) Checksum() uint32 {
	return checksum(b.Version, b.Compression, b.DocCount, b.UncompressedSize, b.CompressedSize, b.CreatedAt, b.Payload)
}

// Encode serializes the block to its on-disk byte representation. The
// checksum is recomputed immediately before emission.
func Encode(b *Block) []byte {
	buf := make([]byte, HeaderSize+len(b.Payload)+FooterSize)

	copy(buf[0:4], Magic)
	buf[4] = b.Version
	buf[5] = b.Compression
	binary.LittleEndian.PutUint32(buf[6:10], b.DocCount)
	binary.LittleEndian.PutUint64(buf[10:18], b.UncompressedSize)
	binary.LittleEndian.PutUint64(buf[18:26], b.CompressedSize)
	binary.LittleEndian.PutUint64(buf[26:34], b.CreatedAt)

	copy(buf[HeaderSize:], b.Payload)

	footerOff := HeaderSize + len(b.Payload)

	crc := checksum(b.Version, b.Compression, b.DocCount, b.UncompressedSize, b.CompressedSize, b.CreatedAt, b.Payload)
	binary.LittleEndian.PutUint32(buf[footerOff:footerOff+4], crc)
	copy(buf[footerOff+4:], Magic)

	return buf
}

// Decode parses a block from its on-disk byte representation.
//
// Decode does not verify the footer checksum by default - validity there is
// advisory, matching the documented behavior of the source this format was
// ported from. Callers that want strict verification call [VerifyChecksum]
// explicitly (see internal/blockstore's VerifyChecksums option).
func Decode(buf []byte) (*Block, error) {
	if len(buf) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("decode block: %w: buffer of %d bytes shorter than header+footer", dberr.ErrTruncated, len(buf))
	}

	if string(buf[0:4]) != Magic {
		return nil, fmt.Errorf("decode block: %w: header magic %q", dberr.ErrBadMagic, buf[0:4])
	}

	compression := buf[5]
	if compression > CompressionLZ4 {
		return nil, fmt.Errorf("decode block: %w: code %d", dberr.ErrBadCompression, compression)
	}

	b := &Block{
		Version:          buf[4],
		Compression:      compression,
		DocCount:         binary.LittleEndian.Uint32(buf[6:10]),
		UncompressedSize: binary.LittleEndian.Uint64(buf[10:18]),
		CompressedSize:   binary.LittleEndian.Uint64(buf[18:26]),
		CreatedAt:        binary.LittleEndian.Uint64(buf[26:34]),
	}

	payloadEnd := len(buf) - FooterSize
	b.Payload = buf[HeaderSize:payloadEnd]

	footerMagic := buf[payloadEnd+4 : payloadEnd+8]
	if string(footerMagic) != Magic {
		return nil, fmt.Errorf("decode block: %w: footer magic %q", dberr.ErrBadMagic, footerMagic)
	}

	return b, nil
}

// VerifyChecksum reports whether the block's footer checksum (as encoded in
// buf) matches the checksum recomputed from the decoded block's fields and
// payload. buf must be the exact bytes previously returned by [Encode] (or
// an equivalent on-disk slot read); it is not re-derived from b.
func VerifyChecksum(b *Block, buf []byte) bool {
	payloadEnd := len(buf) - FooterSize
	stored := binary.LittleEndian.Uint32(buf[payloadEnd : payloadEnd+4])

	return stored == b.Checksum()
}
