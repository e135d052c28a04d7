// Package blockstore implements the per-collection active-block buffer and
// append-on-flush block file described by spec §4.2: insert, find, scan_ids
// and flush operate on a single collection's blocks.bin file using a
// uniform fixed-size slot stride.
package blockstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/AadeshGurav/nebuladb/internal/block"
	"github.com/AadeshGurav/nebuladb/internal/clock"
	"github.com/AadeshGurav/nebuladb/internal/dberr"
	"github.com/AadeshGurav/nebuladb/pkg/fs"
)

// BlocksFileName is the name of the single append-structured block file
// inside a collection's directory.
const BlocksFileName = "blocks.bin"

// Config controls the storage behavior of a Manager.
type Config struct {
	// Compression is the code (block.CompressionNone/Snappy/Zstd) tagged on
	// newly created active blocks. block.CompressionLZ4 is rejected by
	// NewManager because this build cannot encode it (see DESIGN.md).
	Compression uint8

	// FlushThreshold is the active block's serialized-size ceiling (in
	// bytes) at which Insert triggers an automatic Flush.
	FlushThreshold int

	// VerifyChecksums enables the strict read path (spec.md §9 open
	// question #2 / SPEC_FULL.md §12.1): find/scan_ids treat a checksum
	// mismatch the same as a magic mismatch, skipping the slot. Disabled
	// by default to match the documented (advisory-checksum) behavior.
	VerifyChecksums bool
}

// DefaultConfig returns the package defaults: no compression, a 4 MiB
// advisory block size used as the flush threshold, and advisory checksums.
func DefaultConfig() Config {
	return Config{
		Compression:    block.CompressionNone,
		FlushThreshold: 4 << 20,
	}
}

// Manager owns one collection's active block buffer and the file handle to
// its blocks.bin. Exactly one Manager should exist per collection directory
// at a time; concurrent use by multiple goroutines is safe (callers don't
// need an external lock around Manager methods), but concurrent use by
// multiple processes is not arbitrated here - spec.md §5 leaves cross-
// process exclusion to the caller (Store facade uses fs.Locker).
type Manager struct {
	mu sync.RWMutex

	dir      string
	filePath string
	cfg      Config
	clock    clock.Clock
	fsys     fs.FS

	active        *block.Block
	nextSlotIndex uint32
	slotSize      int // size of an empty-payload block; the fixed stride for every slot
}

// NewManager constructs a Manager for the collection directory dir. The
// directory must already exist; NewManager does not create it (the Store
// facade / collection layer is responsible for collection directory
// lifecycle). The block file itself is created lazily, on first Flush.
func NewManager(dir string, cfg Config, fsys fs.FS, clk clock.Clock) (*Manager, error) {
	if cfg.Compression == block.CompressionLZ4 {
		return nil, fmt.Errorf("new block manager: %w: lz4 cannot be selected for encoding", dberr.ErrUnsupportedCompression)
	}

	empty := block.NewEmpty(cfg.Compression, 0)
	slotSize := empty.EncodedSize()

	m := &Manager{
		dir:      dir,
		filePath: filepath.Join(dir, BlocksFileName),
		cfg:      cfg,
		clock:    clk,
		fsys:     fsys,
		slotSize: slotSize,
	}

	nextSlot, err := m.probeNextSlotIndex()
	if err != nil {
		return nil, fmt.Errorf("new block manager: %w", err)
	}

	m.nextSlotIndex = nextSlot

	return m, nil
}

// probeNextSlotIndex derives the next free slot index from the current file
// size (file_size / slot_size), per spec §4.2 step 1. A missing file or an
// empty file yields slot index 0. Trailing partial slots (file size not a
// multiple of slot_size) are tolerated: the partial tail is ignored and the
// next write lands at the next whole-slot boundary, overwriting it.
func (m *Manager) probeNextSlotIndex() (uint32, error) {
	info, err := m.fsys.Stat(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("stat %s: %w", m.filePath, err)
	}

	return uint32(info.Size() / int64(m.slotSize)), nil //nolint:gosec // slot counts fit comfortably in uint32 for any realistic file size
}

// Insert appends a document entry to the active block, creating one if
// none exists yet, and flushes automatically once the active block's
// serialized size reaches the configured flush threshold.
func (m *Manager) Insert(id, value []byte) error {
	if err := block.ValidateArgs(id, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		m.active = block.NewEmpty(m.cfg.Compression, uint64(m.clock.Now().Unix())) //nolint:gosec // epoch seconds fit in uint64 until long past any realistic run
	}

	entry := block.Entry{ID: id, Value: value}

	m.active.Payload = block.EncodeEntry(m.active.Payload, id, value)
	m.active.DocCount++
	m.active.UncompressedSize += uint64(entry.EncodedSize())
	m.active.CompressedSize = m.active.UncompressedSize // compression applied only at flush time

	if m.cfg.FlushThreshold > 0 && m.active.EncodedSize() >= m.cfg.FlushThreshold {
		return m.flushLocked()
	}

	return nil
}

// Flush persists the active block to the next free slot in blocks.bin,
// forces it durable, and replaces the active block with a fresh empty one.
// Flushing an empty or absent active block is a no-op.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if m.active == nil || m.active.DocCount == 0 {
		return nil
	}

	toWrite := *m.active
	toWrite.CompressedSize = uint64(len(toWrite.Payload))

	if m.cfg.Compression != block.CompressionNone {
		compressed, err := block.Compress(m.cfg.Compression, toWrite.Payload)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}

		toWrite.Payload = compressed
		toWrite.CompressedSize = uint64(len(compressed))
	}

	encoded := block.Encode(&toWrite)

	// Slot i always starts at i*slotSize regardless of this block's actual
	// length. The stride is the size of an empty block and a block reaching
	// this point holds at least one entry, so the write always runs past the
	// slot boundary into the start of the next slot; the padding below never
	// applies to such a block. See DESIGN.md open question #1 for why this
	// uniform stride is kept rather than fixed.
	if len(encoded) < m.slotSize {
		padded := make([]byte, m.slotSize)
		copy(padded, encoded)
		encoded = padded
	}

	f, err := m.fsys.OpenFile(m.filePath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("flush: open %s: %w", m.filePath, err)
	}

	defer func() { _ = f.Close() }()

	offset := int64(m.nextSlotIndex) * int64(m.slotSize)

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("flush: seek %s: %w", m.filePath, err)
	}

	if _, err := f.Write(encoded); err != nil {
		return fmt.Errorf("flush: write %s: %w", m.filePath, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("flush: sync %s: %w", m.filePath, err)
	}

	m.nextSlotIndex++
	m.active = nil

	return nil
}

// SlotCount returns the number of on-disk slots persisted so far (not
// counting the active, not-yet-flushed block).
func (m *Manager) SlotCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.nextSlotIndex
}

// Find returns the value for id, searching the active block first and then
// on-disk slots from newest to oldest, so an update-by-reinsert (same id, a
// later block) shadows a prior value. The second return value reports
// whether id was found at all.
func (m *Manager) Find(id []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active != nil {
		if v, ok := findInPayload(m.active.Payload, id); ok {
			return v, true, nil
		}
	}

	if m.nextSlotIndex == 0 {
		return nil, false, nil
	}

	f, err := m.fsys.Open(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("find: open %s: %w", m.filePath, err)
	}

	defer func() { _ = f.Close() }()

	for i := int64(m.nextSlotIndex) - 1; i >= 0; i-- {
		entries, ok := m.readSlotEntries(f, i)
		if !ok {
			continue
		}

		if v, found := findInEntries(entries, id); found {
			return v, true, nil
		}
	}

	return nil, false, nil
}

// ScanIDs returns every non-tombstone-filtered id visible across the active
// block and all on-disk slots, in slot order then intra-slot insertion
// order. Duplicates across slots are emitted as-is; deduplication (and
// tombstone filtering) is the collection layer's job (spec §4.3), except
// for the mechanical tombstone-byte-pattern exclusion blockstore performs
// itself per spec §4.2 step 3.
func (m *Manager) ScanIDs() ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids [][]byte

	if m.active != nil {
		for _, e := range block.DecodeAllEntries(m.active.Payload) {
			if isTombstoneID(e.ID) {
				continue
			}

			ids = append(ids, e.ID)
		}
	}

	if m.nextSlotIndex == 0 {
		return ids, nil
	}

	f, err := m.fsys.Open(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}

		return nil, fmt.Errorf("scan: open %s: %w", m.filePath, err)
	}

	defer func() { _ = f.Close() }()

	for i := int64(0); i < int64(m.nextSlotIndex); i++ {
		entries, ok := m.readSlotEntries(f, i)
		if !ok {
			continue
		}

		for _, e := range entries {
			if isTombstoneID(e.ID) {
				continue
			}

			ids = append(ids, e.ID)
		}
	}

	return ids, nil
}

// readSlotEntries reads and decodes slot i, returning its entries and
// whether the slot decoded successfully. Decode failures (bad magic, bad
// compression, or - when VerifyChecksums is set - a checksum mismatch) are
// non-fatal: the caller skips the slot and continues, per spec §4.2.
func (m *Manager) readSlotEntries(f fs.File, slot int64) ([]block.Entry, bool) {
	offset := slot * int64(m.slotSize)

	info, err := f.Stat()
	if err != nil || offset >= info.Size() {
		return nil, false
	}

	// A block holding any entries is longer than the slot stride, so the
	// read runs from the slot start to the end of the file and is then cut
	// to the length the header's compressed_size field declares.
	buf := make([]byte, info.Size()-offset)

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, false
	}

	n, _ := readFull(f, buf)
	if n < block.HeaderSize+block.FooterSize {
		return nil, false
	}

	size := uint64(block.HeaderSize+block.FooterSize) + binary.LittleEndian.Uint64(buf[18:26])
	if size > uint64(n) {
		return nil, false
	}

	buf = buf[:size]

	b, err := block.Decode(buf)
	if err != nil {
		return nil, false
	}

	if m.cfg.VerifyChecksums && !block.VerifyChecksum(b, buf) {
		return nil, false
	}

	payload := b.Payload
	if b.Compression != block.CompressionNone {
		decompressed, err := block.Decompress(b.Compression, payload, b.UncompressedSize)
		if err != nil {
			return nil, false
		}

		payload = decompressed
	}

	return block.DecodeAllEntries(payload), true
}

// readFull reads up to len(buf) bytes, returning however many were actually
// read even on EOF (a short/final slot is tolerated, not an error).
func readFull(f fs.File, buf []byte) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n

		if err != nil {
			return total, err
		}

		if n == 0 {
			break
		}
	}

	return total, nil
}

func findInPayload(payload, id []byte) ([]byte, bool) {
	return findInEntries(block.DecodeAllEntries(payload), id)
}

func findInEntries(entries []block.Entry, id []byte) ([]byte, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if bytesEqual(entries[i].ID, id) {
			return entries[i].Value, true
		}
	}

	return nil, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// isTombstoneID reports whether id follows the collection layer's tombstone
// convention: bracketed by the underscore byte on both ends. The block
// manager remains otherwise neutral about id semantics (spec §9 design
// note); this is the one mechanical exception spec §4.2 step 3 calls for.
func isTombstoneID(id []byte) bool {
	return len(id) >= 2 && id[0] == '_' && id[len(id)-1] == '_'
}
