// Package collection implements the thin routing layer described by spec
// §4.3: it maps collection-level insert/get/delete onto a single Block
// Manager and applies tombstone-based logical deletion on top of it.
package collection

import (
	"encoding/json"
	"fmt"

	"github.com/AadeshGurav/nebuladb/internal/blockstore"
	"github.com/AadeshGurav/nebuladb/internal/clock"
)

// Collection wraps one Block Manager and enforces tombstone semantics. It
// holds no lock of its own; the Store facade is responsible for
// serializing access per spec §5.
type Collection struct {
	name  string
	mgr   *blockstore.Manager
	clock clock.Clock
}

// New wraps an already-constructed Block Manager as a Collection.
func New(name string, mgr *blockstore.Manager, clk clock.Clock) *Collection {
	return &Collection{name: name, mgr: mgr, clock: clk}
}

// Name returns the collection's name as passed to New.
func (c *Collection) Name() string {
	return c.name
}

// tombstone is the opaque payload recorded under a tombstone id when a
// document is deleted (spec §4.3 step 2).
type tombstone struct {
	Deleted   bool   `json:"_deleted"`
	ID        string `json:"_id"`
	DeletedAt int64  `json:"_deleted_at"`
}

func tombstoneID(id []byte) []byte {
	out := make([]byte, 0, len(id)+2)
	out = append(out, '_')
	out = append(out, id...)
	out = append(out, '_')

	return out
}

// Insert stores value under id, routing directly to the Block Manager.
func (c *Collection) Insert(id, value []byte) error {
	if err := c.mgr.Insert(id, value); err != nil {
		return fmt.Errorf("collection %s: insert: %w", c.name, err)
	}

	return nil
}

// Get returns the value stored for id, or ok=false if it was never
// inserted or has since been logically deleted.
func (c *Collection) Get(id []byte) ([]byte, bool, error) {
	value, ok, err := c.mgr.Find(id)
	if err != nil {
		return nil, false, fmt.Errorf("collection %s: get: %w", c.name, err)
	}

	if !ok {
		return nil, false, nil
	}

	_, deleted, err := c.mgr.Find(tombstoneID(id))
	if err != nil {
		return nil, false, fmt.Errorf("collection %s: get: probe tombstone: %w", c.name, err)
	}

	if deleted {
		return nil, false, nil
	}

	return value, true, nil
}

// Delete logically deletes id by inserting a tombstone entry. It is
// idempotent: deleting an already-absent (or already-deleted) id returns
// false without error, and never returns an error for that case.
func (c *Collection) Delete(id []byte) (bool, error) {
	_, ok, err := c.Get(id)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, nil
	}

	payload, err := json.Marshal(tombstone{
		Deleted:   true,
		ID:        string(id),
		DeletedAt: c.clock.Now().Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("collection %s: delete: encode tombstone: %w", c.name, err)
	}

	if err := c.mgr.Insert(tombstoneID(id), payload); err != nil {
		return false, fmt.Errorf("collection %s: delete: %w", c.name, err)
	}

	return true, nil
}

// Scan returns every non-deleted id currently visible in the collection.
// Deleted ids are excluded (Block Manager already strips tombstone ids
// themselves, but not the ids they shadow), so Scan also drops any id for
// which a tombstone was found.
func (c *Collection) Scan() ([][]byte, error) {
	ids, err := c.mgr.ScanIDs()
	if err != nil {
		return nil, fmt.Errorf("collection %s: scan: %w", c.name, err)
	}

	visible := ids[:0]

	for _, id := range ids {
		_, deleted, err := c.mgr.Find(tombstoneID(id))
		if err != nil {
			return nil, fmt.Errorf("collection %s: scan: probe tombstone: %w", c.name, err)
		}

		if !deleted {
			visible = append(visible, id)
		}
	}

	return visible, nil
}

// Stats reports point-in-time counters for the collection (SPEC_FULL.md
// §12.3), derived entirely from existing scan/find primitives.
type Stats struct {
	// LiveCount is the number of ids Scan would currently return.
	LiveCount int
	// TombstoneCount is the number of ids in TotalCount shadowed by a
	// tombstone.
	TombstoneCount int
	// TotalCount is the number of non-tombstone ids Block Manager ScanIDs
	// returns, including those shadowed by a tombstone.
	TotalCount int
	// SlotCount is the number of on-disk slots flushed so far.
	SlotCount uint32
}

// Stats computes point-in-time counters by walking the block file once.
// It is O(n) in the number of stored entries and intended for diagnostics,
// not the hot read/write path.
func (c *Collection) Stats() (Stats, error) {
	ids, err := c.mgr.ScanIDs()
	if err != nil {
		return Stats{}, fmt.Errorf("collection %s: stats: %w", c.name, err)
	}

	live := 0

	for _, id := range ids {
		_, deleted, err := c.mgr.Find(tombstoneID(id))
		if err != nil {
			return Stats{}, fmt.Errorf("collection %s: stats: probe tombstone: %w", c.name, err)
		}

		if !deleted {
			live++
		}
	}

	return Stats{
		LiveCount:      live,
		TombstoneCount: len(ids) - live,
		TotalCount:     len(ids),
		SlotCount:      c.mgr.SlotCount(),
	}, nil
}

// Close flushes the active block to disk.
func (c *Collection) Close() error {
	if err := c.mgr.Flush(); err != nil {
		return fmt.Errorf("collection %s: close: %w", c.name, err)
	}

	return nil
}
