package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/AadeshGurav/nebuladb/internal/dberr"
)

// EntryMagic identifies a framed WAL entry on disk.
const EntryMagic = "NBWL"

// EntryType distinguishes the kind of mutation or marker a WAL entry
// records.
type EntryType uint8

const (
	Noop EntryType = iota
	Insert
	Update
	Delete
	BeginTx
	CommitTx
	AbortTx
	Checkpoint
)

// String renders the entry type the way log output and test failures want
// to see it, rather than a bare integer.
func (t EntryType) String() string {
	switch t {
	case Noop:
		return "Noop"
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	case BeginTx:
		return "BeginTx"
	case CommitTx:
		return "CommitTx"
	case AbortTx:
		return "AbortTx"
	case Checkpoint:
		return "Checkpoint"
	default:
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
}

// Entry is one framed record in a collection's WAL file.
type Entry struct {
	Type          EntryType
	CollectionID  uint64
	TransactionID uint64
	DocID         []byte
	Data          []byte
	Timestamp     uint64
}

// fixedHeaderSize is the number of header bytes preceding the variable-
// length doc id: magic(4) + type(1) + collection_id(8) + transaction_id(8)
// + doc_id_len(2). The trailer following doc id is data_size(4) +
// checksum(4) + timestamp(8). These widths total 39 fixed bytes, which
// follows the format's own field-by-field description rather than its
// summary line (which separately claims 35); see DESIGN.md open question 7.
const (
	fixedHeaderSize  = 4 + 1 + 8 + 8 + 2
	fixedTrailerSize = 4 + 4 + 8
)

// EncodedSize returns the on-wire size of the entry, including its framed
// payload.
func (e Entry) EncodedSize() int {
	return fixedHeaderSize + len(e.DocID) + fixedTrailerSize + len(e.Data)
}

func checksum(data []byte) uint32 {
	var sum uint32

	for _, b := range data {
		sum += uint32(b)
	}

	return sum
}

// Encode appends the wire form of e to dst and returns the extended slice.
func Encode(dst []byte, e Entry) []byte {
	var buf [8]byte

	dst = append(dst, EntryMagic...)
	dst = append(dst, byte(e.Type))

	binary.LittleEndian.PutUint64(buf[:], e.CollectionID)
	dst = append(dst, buf[:8]...)

	binary.LittleEndian.PutUint64(buf[:], e.TransactionID)
	dst = append(dst, buf[:8]...)

	binary.LittleEndian.PutUint16(buf[:2], uint16(len(e.DocID))) //nolint:gosec // doc ids are bounded by block.MaxIDLen
	dst = append(dst, buf[:2]...)
	dst = append(dst, e.DocID...)

	binary.LittleEndian.PutUint32(buf[:4], uint32(len(e.Data))) //nolint:gosec // data sizes fit in u32 per format
	dst = append(dst, buf[:4]...)

	binary.LittleEndian.PutUint32(buf[:4], checksum(e.Data))
	dst = append(dst, buf[:4]...)

	binary.LittleEndian.PutUint64(buf[:], e.Timestamp)
	dst = append(dst, buf[:8]...)

	dst = append(dst, e.Data...)

	return dst
}

// Decode parses one Entry from the start of buf and returns it along with
// the number of bytes consumed. It verifies the magic and the payload
// checksum; a checksum mismatch is reported as dberr.ErrCorruptedEntry
// rather than silently accepted, per spec.
func Decode(buf []byte) (Entry, int, error) {
	if len(buf) < fixedHeaderSize {
		return Entry{}, 0, fmt.Errorf("decode wal entry: %w: buffer shorter than fixed header", dberr.ErrTruncated)
	}

	if string(buf[0:4]) != EntryMagic {
		return Entry{}, 0, fmt.Errorf("decode wal entry: %w: got %q want %q", dberr.ErrBadMagic, buf[0:4], EntryMagic)
	}

	e := Entry{Type: EntryType(buf[4])}
	e.CollectionID = binary.LittleEndian.Uint64(buf[5:13])
	e.TransactionID = binary.LittleEndian.Uint64(buf[13:21])
	docIDLen := int(binary.LittleEndian.Uint16(buf[21:23]))

	off := fixedHeaderSize

	if len(buf) < off+docIDLen+fixedTrailerSize {
		return Entry{}, 0, fmt.Errorf("decode wal entry: %w: buffer shorter than doc id + trailer", dberr.ErrTruncated)
	}

	e.DocID = buf[off : off+docIDLen]
	off += docIDLen

	dataSize := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4

	declaredChecksum := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4

	e.Timestamp = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	if len(buf) < off+dataSize {
		return Entry{}, 0, fmt.Errorf("decode wal entry: %w: buffer shorter than declared data size %d", dberr.ErrTruncated, dataSize)
	}

	e.Data = buf[off : off+dataSize]
	off += dataSize

	if checksum(e.Data) != declaredChecksum {
		return Entry{}, 0, fmt.Errorf("decode wal entry: %w", dberr.ErrCorruptedEntry)
	}

	return e, off, nil
}
