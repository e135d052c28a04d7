// Package manifest persists a list of collection names (the Store writes
// the collections it currently has open), so a future process can read it
// without walking the filesystem. It is advisory bookkeeping, not required
// for correctness: a missing manifest just means Read (and so
// Store.PersistedCollections) reports an empty list. Each Write replaces
// the whole list; names not passed to it again are not kept.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

const (
	magic   = "NBMF"
	version = 1

	headerSize = 4 + 1 + 4 // magic + version + count
)

// Write atomically replaces the manifest file at path with the given set
// of collection names. It uses a temp-file-plus-rename so a reader never
// observes a partially written manifest, matching the write pattern used
// elsewhere in this codebase for small binary index files.
func Write(path string, names []string) error {
	buf := new(bytes.Buffer)
	buf.WriteString(magic)
	buf.WriteByte(version)

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(names)))
	buf.Write(count[:])

	for _, name := range names {
		if len(name) > 1<<16-1 {
			return fmt.Errorf("manifest: collection name %q too long", name)
		}

		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(name)))
		buf.Write(nameLen[:])
		buf.WriteString(name)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", path, err)
	}

	return nil
}

// Read loads the collection names recorded in the manifest at path. A
// missing manifest is not an error: it reports an empty, non-nil slice,
// since a Store with no manifest yet behaves the same as one with an
// empty manifest.
func Read(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}

	if len(data) < headerSize {
		return nil, fmt.Errorf("manifest: %s: truncated header", path)
	}

	if string(data[:4]) != magic {
		return nil, fmt.Errorf("manifest: %s: bad magic", path)
	}

	if data[4] != version {
		return nil, fmt.Errorf("manifest: %s: unsupported version %d", path, data[4])
	}

	count := binary.LittleEndian.Uint32(data[5:9])
	names := make([]string, 0, count)
	pos := headerSize

	for i := uint32(0); i < count; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("manifest: %s: truncated entry %d", path, i)
		}

		nameLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2

		if pos+nameLen > len(data) {
			return nil, fmt.Errorf("manifest: %s: truncated entry %d", path, i)
		}

		names = append(names, string(data[pos:pos+nameLen]))
		pos += nameLen
	}

	return names, nil
}
