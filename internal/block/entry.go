package block

import (
	"encoding/binary"
	"fmt"

	"github.com/AadeshGurav/nebuladb/internal/dberr"
)

// MaxIDLen and MaxValueLen are the format's hard limits on document entry
// field lengths, driven by the wire widths of id_len (u16) and value_len (u32).
const (
	MaxIDLen    = 65535
	MaxValueLen = 1<<32 - 1
)

// Entry is one document stored inside a block's payload:
// [id_len:u16 LE][id bytes][value_len:u32 LE][value bytes].
type Entry struct {
	ID    []byte
	Value []byte
}

// EncodedSize returns the on-wire size of the entry.
func (e Entry) EncodedSize() int {
	return 2 + len(e.ID) + 4 + len(e.Value)
}

// ValidateArgs checks id/value lengths against the format's limits. It does
// not check for an already-used id; that's a caller (blockstore/collection)
// concern.
func ValidateArgs(id, value []byte) error {
	if len(id) == 0 {
		return fmt.Errorf("encode entry: %w: id is empty", dberr.ErrArgumentOutOfRange)
	}

	if len(id) > MaxIDLen {
		return fmt.Errorf("encode entry: %w: id length %d exceeds %d", dberr.ErrArgumentOutOfRange, len(id), MaxIDLen)
	}

	if uint64(len(value)) > MaxValueLen {
		return fmt.Errorf("encode entry: %w: value length %d exceeds %d", dberr.ErrArgumentOutOfRange, len(value), MaxValueLen)
	}

	return nil
}

// EncodeEntry appends the wire form of (id, value) to dst and returns the
// extended slice. Callers must validate id/value via [ValidateArgs] first.
func EncodeEntry(dst []byte, id, value []byte) []byte {
	var lenBuf [4]byte

	binary.LittleEndian.PutUint16(lenBuf[0:2], uint16(len(id)))
	dst = append(dst, lenBuf[0:2]...)
	dst = append(dst, id...)

	binary.LittleEndian.PutUint32(lenBuf[0:4], uint32(len(value)))
	dst = append(dst, lenBuf[0:4]...)
	dst = append(dst, value...)

	return dst
}

// DecodeEntry parses one Entry starting at the beginning of buf and returns
// it along with the number of bytes consumed. buf may contain additional
// trailing entries; only the first is decoded.
func DecodeEntry(buf []byte) (Entry, int, error) {
	if len(buf) < 2 {
		return Entry{}, 0, fmt.Errorf("decode entry: %w: buffer shorter than id_len field", dberr.ErrTruncated)
	}

	idLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	off := 2

	if len(buf) < off+idLen {
		return Entry{}, 0, fmt.Errorf("decode entry: %w: buffer shorter than declared id length %d", dberr.ErrTruncated, idLen)
	}

	id := buf[off : off+idLen]
	off += idLen

	if len(buf) < off+4 {
		return Entry{}, 0, fmt.Errorf("decode entry: %w: buffer shorter than value_len field", dberr.ErrTruncated)
	}

	valueLen := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4

	if len(buf) < off+valueLen {
		return Entry{}, 0, fmt.Errorf("decode entry: %w: buffer shorter than declared value length %d", dberr.ErrTruncated, valueLen)
	}

	value := buf[off : off+valueLen]
	off += valueLen

	return Entry{ID: id, Value: value}, off, nil
}

// DecodeAllEntries decodes every fully-framed entry in buf, stopping
// cleanly (without error) at the first truncated or empty remainder. This
// matches the block manager's "doc_count entries, no partial entries"
// invariant: well-formed blocks decode exactly doc_count entries and leave
// no remainder.
func DecodeAllEntries(buf []byte) []Entry {
	var entries []Entry

	for len(buf) > 0 {
		e, n, err := DecodeEntry(buf)
		if err != nil {
			break
		}

		entries = append(entries, e)
		buf = buf[n:]
	}

	return entries
}
