// Package walmgr implements the WAL Manager described by spec §4.5: it
// owns every collection's write-ahead log, the transaction table, the
// recovery index, and the auto-checkpoint cadence.
package walmgr

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AadeshGurav/nebuladb/internal/clock"
	"github.com/AadeshGurav/nebuladb/internal/dberr"
	"github.com/AadeshGurav/nebuladb/internal/wal"
	"github.com/AadeshGurav/nebuladb/pkg/fs"
)

// SentinelCollection is the WAL forced into existence to back the
// transaction-id counter when no real collection has been opened yet.
// spec §4.5 documents this as a known quirk, not a bug to silently fix:
// transaction ids are not globally unique if this collection (or whichever
// collection ends up holding the counter) is ever dropped.
const SentinelCollection = "_tx_manager"

// walSuffix is the file extension recovery uses to recognize WAL files in
// the WAL directory.
const walSuffix = ".wal"

// Config controls a Manager's on-disk layout and durability/cadence
// behavior.
type Config struct {
	// Dir is the directory holding one <collection>.wal file per
	// collection.
	Dir string

	// SyncOnWrite forces durability after every WAL append.
	SyncOnWrite bool

	// CheckpointInterval is the auto-checkpoint cadence; 0 disables it.
	CheckpointInterval time.Duration
}

// DefaultConfig matches spec §6's documented defaults (sync on write,
// five-minute auto-checkpoint).
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SyncOnWrite:        true,
		CheckpointInterval: 300 * time.Second,
	}
}

// collectionWal is the per-collection state spec §4.5 calls CollectionWal.
type collectionWal struct {
	log                *wal.Log
	path               string
	lock               *fs.Lock
	lastCheckpointTime time.Time
	nextTxID           uint64
}

type cacheKey struct {
	collection string
	id         string
}

// Manager is the WAL Manager. It is safe for concurrent use; all state is
// guarded by a single lock per spec §5 ("the WAL Manager holds an
// exclusive-writer lock over the collections map, active_transactions, and
// entry_cache").
type Manager struct {
	mu sync.Mutex

	cfg    Config
	fsys   fs.FS
	clock  clock.Clock
	locker *fs.Locker

	collections        map[string]*collectionWal
	collectionOrder    []string // insertion order, for "first known collection"
	activeTx           map[uint64][]int64
	entryCache         map[cacheKey]int64
	lastAutoCheckpoint time.Time

	// counterCollection is the collection whose WAL backs the
	// transaction-id counter, chosen once on the first BeginTx call.
	counterCollection string
}

// New constructs a Manager. It does not eagerly open any WAL file; logs
// are created or opened lazily on first use of their collection.
func New(cfg Config, fsys fs.FS, clk clock.Clock) *Manager {
	return &Manager{
		cfg:         cfg,
		fsys:        fsys,
		clock:       clk,
		locker:      fs.NewLocker(fsys),
		collections: make(map[string]*collectionWal),
		activeTx:    make(map[uint64][]int64),
		entryCache:  make(map[cacheKey]int64),
	}
}

func (m *Manager) walPath(collection string) string {
	return filepath.Join(m.cfg.Dir, collection+walSuffix)
}

// getOrCreateLog returns the collection's WAL state, opening its file if it
// already exists on disk or creating it (with a fresh preamble) otherwise.
// Caller must hold m.mu.
func (m *Manager) getOrCreateLog(collection string) (*collectionWal, error) {
	if cw, ok := m.collections[collection]; ok {
		return cw, nil
	}

	path := m.walPath(collection)

	exists, err := m.fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("wal manager: stat %s: %w", path, err)
	}

	var log *wal.Log

	if exists {
		log, err = wal.Open(path, m.fsys, m.cfg.SyncOnWrite)
	} else {
		log, err = wal.Create(path, m.fsys, m.clock, m.cfg.SyncOnWrite)
	}

	if err != nil {
		return nil, fmt.Errorf("wal manager: open collection %q: %w", collection, err)
	}

	lock, err := m.locker.TryLock(m.walLockPath(collection))
	if err != nil {
		_ = log.Close()

		return nil, fmt.Errorf("wal manager: lock collection %q: %w", collection, err)
	}

	cw := &collectionWal{log: log, path: path, lock: lock}
	m.collections[collection] = cw
	m.collectionOrder = append(m.collectionOrder, collection)

	return cw, nil
}

// walLockPath is the flock(2) target guarding cross-process single-writer
// access to collection's WAL, per spec §5. Acquisition is non-blocking
// (TryLock): a collection already open in another process is reported as
// an error immediately rather than stalling the caller.
func (m *Manager) walLockPath(collection string) string {
	return filepath.Join(m.cfg.Dir, collection+walSuffix+".lock")
}

func (m *Manager) appendEntry(cw *collectionWal, collection string, entryType wal.EntryType, txID uint64, id, value []byte) (int64, error) {
	pos, err := cw.log.Append(wal.Entry{
		Type:          entryType,
		CollectionID:  CollectionID(collection),
		TransactionID: txID,
		DocID:         id,
		Data:          value,
		Timestamp:     uint64(m.clock.Now().Unix()), //nolint:gosec // epoch seconds fit in uint64
	})
	if err != nil {
		return 0, fmt.Errorf("wal manager: append to %q: %w", collection, err)
	}

	return pos, nil
}

// Insert records a non-transactional insert, returning the entry's log
// position.
func (m *Manager) Insert(collection string, id, value []byte) (int64, error) {
	return m.write(collection, wal.Insert, id, value)
}

// Update records a non-transactional update.
func (m *Manager) Update(collection string, id, value []byte) (int64, error) {
	return m.write(collection, wal.Update, id, value)
}

// Delete records a non-transactional delete.
func (m *Manager) Delete(collection string, id []byte) (int64, error) {
	return m.write(collection, wal.Delete, id, nil)
}

func (m *Manager) write(collection string, entryType wal.EntryType, id, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cw, err := m.getOrCreateLog(collection)
	if err != nil {
		return 0, err
	}

	m.checkAutoCheckpointLocked()

	pos, err := m.appendEntry(cw, collection, entryType, 0, id, value)
	if err != nil {
		return 0, err
	}

	m.entryCache[cacheKey{collection, string(id)}] = pos

	return pos, nil
}

// BeginTx opens a new transaction and returns its id. The id is drawn from
// the first-known collection's counter (or a forced sentinel collection's
// counter if none exists yet) - see [SentinelCollection].
func (m *Manager) BeginTx() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counterCollection == "" {
		if len(m.collectionOrder) > 0 {
			m.counterCollection = m.collectionOrder[0]
		} else {
			if _, err := m.getOrCreateLog(SentinelCollection); err != nil {
				return 0, err
			}

			m.counterCollection = SentinelCollection
		}
	}

	cw := m.collections[m.counterCollection]

	// Transaction id 0 marks a non-transactional entry, so the counter
	// never hands it out.
	if cw.nextTxID == 0 {
		cw.nextTxID = 1
	}

	txID := cw.nextTxID
	cw.nextTxID++

	pos, err := m.appendEntry(cw, m.counterCollection, wal.BeginTx, txID, nil, nil)
	if err != nil {
		return 0, err
	}

	m.activeTx[txID] = []int64{pos}

	return txID, nil
}

func (m *Manager) writeInTransaction(txID uint64, collection string, entryType wal.EntryType, id, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.activeTx[txID]; !ok {
		return fmt.Errorf("wal manager: %w: tx %d", dberr.ErrUnknownTransaction, txID)
	}

	cw, err := m.getOrCreateLog(collection)
	if err != nil {
		return err
	}

	pos, err := m.appendEntry(cw, collection, entryType, txID, id, value)
	if err != nil {
		return err
	}

	m.activeTx[txID] = append(m.activeTx[txID], pos)

	return nil
}

// InsertInTransaction appends a transactional insert entry. It does not
// touch the collection's block store: the write lives only in the WAL, and
// nothing in this module replays committed transactional writes into a
// block store.
func (m *Manager) InsertInTransaction(txID uint64, collection string, id, value []byte) error {
	return m.writeInTransaction(txID, collection, wal.Insert, id, value)
}

// UpdateInTransaction appends a transactional update entry.
func (m *Manager) UpdateInTransaction(txID uint64, collection string, id, value []byte) error {
	return m.writeInTransaction(txID, collection, wal.Update, id, value)
}

// DeleteInTransaction appends a transactional delete entry.
func (m *Manager) DeleteInTransaction(txID uint64, collection string, id []byte) error {
	return m.writeInTransaction(txID, collection, wal.Delete, id, nil)
}

// CommitTx marks txID committed by appending a CommitTx entry to the
// counter collection's log, and removes it from the active set.
func (m *Manager) CommitTx(txID uint64) error {
	return m.endTx(txID, wal.CommitTx)
}

// AbortTx marks txID aborted, symmetric with CommitTx. Entries written
// under an aborted transaction remain in the log but are filtered out
// during recovery.
func (m *Manager) AbortTx(txID uint64) error {
	return m.endTx(txID, wal.AbortTx)
}

func (m *Manager) endTx(txID uint64, entryType wal.EntryType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.activeTx[txID]; !ok {
		return fmt.Errorf("wal manager: %w: tx %d", dberr.ErrUnknownTransaction, txID)
	}

	cw := m.collections[m.counterCollection]

	if _, err := m.appendEntry(cw, m.counterCollection, entryType, txID, nil, nil); err != nil {
		return err
	}

	delete(m.activeTx, txID)

	return nil
}

// Checkpoint appends a Checkpoint entry for collection and updates its
// last-checkpoint time. Per spec §9 open question #5, this never truncates
// or rotates the WAL file; SPEC_FULL.md §12.2's retire-count observability
// is surfaced separately via Stats.
func (m *Manager) Checkpoint(collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.checkpointLocked(collection)
}

func (m *Manager) checkpointLocked(collection string) error {
	cw, err := m.getOrCreateLog(collection)
	if err != nil {
		return err
	}

	if _, err := m.appendEntry(cw, collection, wal.Checkpoint, 0, nil, nil); err != nil {
		return err
	}

	cw.lastCheckpointTime = m.clock.Now()

	if err := m.writeCheckpointMarker(collection, cw.lastCheckpointTime); err != nil {
		return err
	}

	return nil
}

// checkpointMarkerSuffix names the small bookkeeping file written next to
// each collection's WAL on every checkpoint, recording when the last
// checkpoint happened. It is advisory: nothing reads it back to make a
// correctness decision, and a missing marker never blocks recovery.
const checkpointMarkerSuffix = ".checkpoint"

func (m *Manager) checkpointMarkerPath(collection string) string {
	return filepath.Join(m.cfg.Dir, collection+checkpointMarkerSuffix)
}

func (m *Manager) writeCheckpointMarker(collection string, at time.Time) error {
	writer := fs.NewAtomicWriter(m.fsys)
	body := strings.NewReader(at.UTC().Format(time.RFC3339Nano) + "\n")

	if err := writer.WriteWithDefaults(m.checkpointMarkerPath(collection), body); err != nil {
		return fmt.Errorf("writing checkpoint marker for %s: %w", collection, err)
	}

	return nil
}

// CheckAutoCheckpoint runs every open collection's checkpoint if the
// configured interval has elapsed since the last auto-checkpoint. It is
// invoked opportunistically on every WAL write, never from a background
// goroutine.
func (m *Manager) CheckAutoCheckpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkAutoCheckpointLocked()

	return nil
}

func (m *Manager) checkAutoCheckpointLocked() {
	if m.cfg.CheckpointInterval <= 0 {
		return
	}

	now := m.clock.Now()

	if m.lastAutoCheckpoint.IsZero() {
		m.lastAutoCheckpoint = now
		return
	}

	if now.Sub(m.lastAutoCheckpoint) <= m.cfg.CheckpointInterval {
		return
	}

	for name := range m.collections {
		_ = m.checkpointLocked(name)
	}

	m.lastAutoCheckpoint = now
}

// EntryCachePosition returns the recovered or live position for
// (collection, id), if any.
func (m *Manager) EntryCachePosition(collection string, id []byte) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.entryCache[cacheKey{collection, string(id)}]

	return pos, ok
}

// ReadEntry reads back the WAL entry at a recovered or live position for a
// collection, such as one returned by EntryCachePosition.
func (m *Manager) ReadEntry(collection string, position int64) (wal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cw, err := m.getOrCreateLog(collection)
	if err != nil {
		return wal.Entry{}, err
	}

	entry, err := cw.log.ReadAt(position)
	if err != nil {
		return wal.Entry{}, fmt.Errorf("wal manager: read entry: %w", err)
	}

	return entry, nil
}

// Close flushes and releases every open WAL file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error

	for _, name := range m.collectionOrder {
		cw, ok := m.collections[name]
		if !ok {
			continue
		}

		if err := cw.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		if cw.lock != nil {
			if err := cw.lock.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// isWalFile reports whether name (a directory entry's base name) names a
// WAL file recovery should consider.
func isWalFile(name string) bool {
	return strings.HasSuffix(name, walSuffix)
}

// collectionNameFromFile strips the .wal suffix to recover the collection
// name, per spec §4.5 recovery step 1 ("treat the stem as the collection
// name").
func collectionNameFromFile(name string) string {
	return strings.TrimSuffix(name, walSuffix)
}
