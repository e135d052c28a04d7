// Package dberr defines the sentinel errors shared by every storage-engine
// subsystem (block codec, block manager, collection, WAL log, WAL manager).
//
// Each sentinel corresponds to one entry of the error taxonomy: callers use
// [errors.Is] against these values rather than matching on message text.
// Subsystem packages wrap a sentinel with call-site context via
// fmt.Errorf("...: %w", err); they never invent new top-level error types.
package dberr

import "errors"

var (
	// ErrBadMagic indicates a block or WAL header/footer magic mismatch.
	// Fatal for the affected block or entry; callers may skip it and
	// continue (block scan, WAL iteration).
	ErrBadMagic = errors.New("bad magic")

	// ErrBadCompression indicates an unknown or unsupported compression code.
	// Fatal for the affected block.
	ErrBadCompression = errors.New("bad compression code")

	// ErrTruncated indicates a buffer was too short for the framed entity it
	// claims to hold. During WAL iteration this is treated as a clean EOF
	// (a crash-torn tail); elsewhere it is surfaced to the caller.
	ErrTruncated = errors.New("truncated data")

	// ErrCorruptedEntry indicates a WAL entry's payload checksum did not
	// match its header. Surfaced to the caller; never auto-healed.
	ErrCorruptedEntry = errors.New("corrupted wal entry")

	// ErrArgumentOutOfRange indicates an id or value length exceeds the
	// format's limits (empty id, id longer than 65535 bytes, value longer
	// than 2^32-1 bytes).
	ErrArgumentOutOfRange = errors.New("argument out of range")

	// ErrUnknownTransaction indicates a transactional operation referenced a
	// transaction id that is not in the active transaction set.
	ErrUnknownTransaction = errors.New("unknown transaction")

	// ErrNotFound indicates a lookup found no matching, non-tombstoned
	// document. Not treated as an error by callers of Collection.Get/Store.Get.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedCompression indicates a compression code that a block
	// header may carry (block decoding accepts it) but for which this build
	// has no codec: it can neither compress nor decompress a payload with it.
	ErrUnsupportedCompression = errors.New("unsupported compression for encoding")
)
