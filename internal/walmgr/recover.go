package walmgr

import (
	"errors"
	"fmt"
	"os"

	"github.com/AadeshGurav/nebuladb/internal/wal"
)

// txOutcome is the recovery-local verdict recorded for a transaction id
// once its matching CommitTx or AbortTx entry is observed.
type txOutcome int

const (
	outcomePending txOutcome = iota
	outcomeCommitted
	outcomeAborted
)

// Recover rebuilds the entry cache and transaction counters from every
// *.wal file in the manager's directory, per spec §4.5. It is read-only:
// it does not replay mutations into any collection's block store, and the
// Store facade does not do so after it returns either. A WAL directory
// that does not exist yet holds no logs, so Recover returns nil for it.
func (m *Manager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.fsys.ReadDir(m.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("wal manager: recover: read dir %s: %w", m.cfg.Dir, err)
	}

	// CommitTx/AbortTx entries go to the counter collection's log, apart
	// from the writes they decide, so a first pass gathers the outcomes from
	// every log and only the second pass judges writes against them.
	outcomes := make(map[uint64]txOutcome)

	for _, apply := range []bool{false, true} {
		for _, entry := range entries {
			if entry.IsDir() || !isWalFile(entry.Name()) {
				continue
			}

			collection := collectionNameFromFile(entry.Name())

			if err := m.recoverCollectionLocked(collection, outcomes, apply); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *Manager) recoverCollectionLocked(collection string, outcomes map[uint64]txOutcome, apply bool) error {
	cw, err := m.getOrCreateLog(collection)
	if err != nil {
		return err
	}

	positioned, err := cw.log.Iterate()
	if err != nil {
		return fmt.Errorf("wal manager: recover %q: %w", collection, err)
	}

	var maxTx uint64

	var sawTx bool

	for _, pe := range positioned {
		e := pe.Entry

		switch e.Type {
		case wal.BeginTx:
			if !sawTx || e.TransactionID > maxTx {
				maxTx = e.TransactionID
				sawTx = true
			}
		case wal.CommitTx:
			outcomes[e.TransactionID] = outcomeCommitted
		case wal.AbortTx:
			outcomes[e.TransactionID] = outcomeAborted
		case wal.Insert, wal.Update, wal.Delete:
			if apply && (e.TransactionID == 0 || outcomes[e.TransactionID] == outcomeCommitted) {
				m.entryCache[cacheKey{collection, string(e.DocID)}] = pe.Position
			}
		case wal.Checkpoint, wal.Noop:
			// ignored at this layer, per spec §4.5 recovery step 4.
		}
	}

	if sawTx {
		cw.nextTxID = maxTx + 1
	} else {
		cw.nextTxID = 0
	}

	// Any transaction whose BeginTx was observed but whose outcome never
	// resolved is implicitly aborted: its entries are already excluded
	// above since outcomes[id] defaults to outcomePending, not committed.
	return nil
}
