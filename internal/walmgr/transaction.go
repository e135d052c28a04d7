package walmgr

import "fmt"

// Transaction wraps a bare tx_id with the operations valid against it,
// supplementing spec §4.5's bare u64 per SPEC_FULL.md §12.4: a committed
// or aborted handle can't be silently reused by a caller holding a stale
// reference. The wire format and recovery algorithm are unchanged; this is
// purely an in-memory guard.
type Transaction struct {
	id     uint64
	mgr    *Manager
	closed bool
}

// ID returns the underlying transaction id.
func (t *Transaction) ID() uint64 {
	return t.id
}

func (t *Transaction) checkOpen() error {
	if t.closed {
		return fmt.Errorf("transaction %d already committed or aborted", t.id)
	}

	return nil
}

// InsertDoc appends a transactional insert entry under this transaction.
func (t *Transaction) InsertDoc(collection string, id, value []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	return t.mgr.InsertInTransaction(t.id, collection, id, value)
}

// UpdateDoc appends a transactional update entry under this transaction.
func (t *Transaction) UpdateDoc(collection string, id, value []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	return t.mgr.UpdateInTransaction(t.id, collection, id, value)
}

// DeleteDoc appends a transactional delete entry under this transaction.
func (t *Transaction) DeleteDoc(collection string, id []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	return t.mgr.DeleteInTransaction(t.id, collection, id)
}

// Commit marks the transaction committed and closes the handle.
func (t *Transaction) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.closed = true

	return t.mgr.CommitTx(t.id)
}

// Abort marks the transaction aborted and closes the handle.
func (t *Transaction) Abort() error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	t.closed = true

	return t.mgr.AbortTx(t.id)
}

// BeginTransaction is the typed counterpart to BeginTx: it returns a
// *Transaction handle instead of a bare id.
func (m *Manager) BeginTransaction() (*Transaction, error) {
	id, err := m.BeginTx()
	if err != nil {
		return nil, err
	}

	return &Transaction{id: id, mgr: m}, nil
}
