// Package wal implements the per-collection write-ahead log file described
// by spec §4.4: a small fixed preamble followed by a sequence of framed
// entries, written append-only and readable as a one-shot iterator that
// tolerates a crash-torn final entry.
package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AadeshGurav/nebuladb/internal/clock"
	"github.com/AadeshGurav/nebuladb/internal/dberr"
	"github.com/AadeshGurav/nebuladb/pkg/fs"
)

// FileMagic identifies a WAL file's preamble.
const FileMagic = "NBWA"

// Version is the only WAL file format version this build writes.
const Version = 1

// PreambleSize is the fixed size of the WAL file header: magic(4) +
// version(1) + reserved(3) + created_at(8).
const PreambleSize = 4 + 1 + 3 + 8

// Log is one collection's on-disk WAL file. It is not safe for concurrent
// use; the WAL Manager serializes access per spec §5.
type Log struct {
	path   string
	fsys   fs.FS
	file   fs.File
	cursor int64

	syncOnWrite bool
}

// Create makes a new WAL file at path, writing its preamble, and leaves the
// cursor positioned just past it. The parent directory is created if
// absent.
func Create(path string, fsys fs.FS, clk clock.Clock, syncOnWrite bool) (*Log, error) {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wal %s: mkdir: %w", path, err)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create wal %s: %w", path, err)
	}

	preamble := make([]byte, 0, PreambleSize)
	preamble = append(preamble, FileMagic...)
	preamble = append(preamble, Version, 0, 0, 0)

	var tsBuf [8]byte

	binary.LittleEndian.PutUint64(tsBuf[:], uint64(clk.Now().Unix())) //nolint:gosec // epoch seconds fit in uint64
	preamble = append(preamble, tsBuf[:]...)

	if _, err := f.Write(preamble); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create wal %s: write preamble: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create wal %s: sync preamble: %w", path, err)
	}

	return &Log{path: path, fsys: fsys, file: f, cursor: PreambleSize, syncOnWrite: syncOnWrite}, nil
}

// Open opens an existing WAL file, validating its preamble magic and
// version, and positions the cursor at the current end of file.
func Open(path string, fsys fs.FS, syncOnWrite bool) (*Log, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}

	preamble := make([]byte, PreambleSize)

	if _, err := io.ReadFull(f, preamble); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open wal %s: read preamble: %w", path, err)
	}

	if string(preamble[0:4]) != FileMagic {
		_ = f.Close()
		return nil, fmt.Errorf("open wal %s: %w: got %q want %q", path, dberr.ErrBadMagic, preamble[0:4], FileMagic)
	}

	if preamble[4] != Version {
		_ = f.Close()
		return nil, fmt.Errorf("open wal %s: unknown version %d", path, preamble[4])
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open wal %s: stat: %w", path, err)
	}

	return &Log{path: path, fsys: fsys, file: f, cursor: info.Size(), syncOnWrite: syncOnWrite}, nil
}

// Path returns the WAL file's path on disk.
func (l *Log) Path() string {
	return l.path
}

// Append frames e and writes it at the current cursor, returning the
// starting byte position of the entry. If the log was configured with
// sync_on_write, the write is forced durable before returning.
func (l *Log) Append(e Entry) (int64, error) {
	pos := l.cursor

	if _, err := l.file.Seek(pos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("append wal %s: seek: %w", l.path, err)
	}

	framed := Encode(nil, e)

	n, err := l.file.Write(framed)
	if err != nil {
		return 0, fmt.Errorf("append wal %s: write: %w", l.path, err)
	}

	l.cursor += int64(n)

	if l.syncOnWrite {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("append wal %s: sync: %w", l.path, err)
		}
	}

	return pos, nil
}

// ReadAt decodes the single entry framed at position, growing its read
// window on demand until the full frame is available.
func (l *Log) ReadAt(position int64) (Entry, error) {
	if position < PreambleSize || position >= l.cursor {
		return Entry{}, fmt.Errorf("read wal %s at %d: %w: out of [%d, %d)", l.path, position, dberr.ErrArgumentOutOfRange, PreambleSize, l.cursor)
	}

	const initialWindow = 4 << 10

	window := initialWindow

	for {
		max := l.cursor - position
		if int64(window) > max {
			window = int(max)
		}

		buf := make([]byte, window)

		if _, err := l.file.Seek(position, io.SeekStart); err != nil {
			return Entry{}, fmt.Errorf("read wal %s at %d: seek: %w", l.path, position, err)
		}

		n, err := readFull(l.file, buf)
		if err != nil && n == 0 {
			return Entry{}, fmt.Errorf("read wal %s at %d: %w", l.path, position, err)
		}

		buf = buf[:n]

		entry, consumed, decErr := Decode(buf)
		if decErr == nil {
			_ = consumed
			return entry, nil
		}

		if window >= int(max) {
			return Entry{}, fmt.Errorf("read wal %s at %d: %w", l.path, position, decErr)
		}

		window *= 2
	}
}

// Iterate returns a finite, one-shot sequence of (position, entry) pairs
// starting just past the preamble. It is not restartable; call Open again
// for a second pass. A truncated final entry ends iteration cleanly,
// without an error, modeling a crash-torn tail.
func (l *Log) Iterate() ([]PositionedEntry, error) {
	if _, err := l.file.Seek(PreambleSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("iterate wal %s: seek: %w", l.path, err)
	}

	rest, err := io.ReadAll(l.file)
	if err != nil {
		return nil, fmt.Errorf("iterate wal %s: read: %w", l.path, err)
	}

	var entries []PositionedEntry

	pos := int64(PreambleSize)

	for len(rest) > 0 {
		entry, n, decErr := Decode(rest)
		if decErr != nil {
			break
		}

		entries = append(entries, PositionedEntry{Position: pos, Entry: entry})
		rest = rest[n:]
		pos += int64(n)
	}

	return entries, nil
}

// PositionedEntry pairs a decoded Entry with its starting byte offset in
// the log, as returned by Iterate and ReadAt's caller-visible contract.
type PositionedEntry struct {
	Position int64
	Entry    Entry
}

// Sync forces the log's data durable.
func (l *Log) Sync() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync wal %s: %w", l.path, err)
	}

	return nil
}

// Close forces durability and releases the file handle.
func (l *Log) Close() error {
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("close wal %s: sync: %w", l.path, err)
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close wal %s: %w", l.path, err)
	}

	return nil
}

func readFull(f fs.File, buf []byte) (int, error) {
	total := 0

	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n

		if err != nil {
			if err == io.EOF { //nolint:errorlint // io.EOF is a sentinel by contract, never wrapped
				return total, nil
			}

			return total, err
		}

		if n == 0 {
			break
		}
	}

	return total, nil
}
