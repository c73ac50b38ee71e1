// Package transaction commits multi-document writes atomically: the full
// operation list is logged before anything touches disk, every applied step
// records how to undo itself, and a failed apply is unwound before the
// caller sees the error.
package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb/index"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/metrics"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/internal/wal"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// TransactionManager serializes commits and DDL of one database behind a
// single writer lock.
type TransactionManager struct {
	mu      sync.Mutex
	store   *storage.Store
	indexes *index.Manager
	wal     *wal.WAL
	log     *zap.SugaredLogger
}

// NewTransactionManager wires a manager over the store, its indexes and
// the database log.
func NewTransactionManager(store *storage.Store, indexes *index.Manager, w *wal.WAL) *TransactionManager {
	return &TransactionManager{
		store:   store,
		indexes: indexes,
		wal:     w,
		log:     logger.Named("transaction"),
	}
}

// Execute stages operations through fn and commits them. When fn fails
// nothing is logged or applied; an empty transaction is a no-op.
func (tm *TransactionManager) Execute(fn func(tx *Transaction) error) error {
	tx := NewTransaction()
	if err := fn(tx); err != nil {
		tx.Status = StatusAborted
		return err
	}
	if tx.IsEmpty() {
		tx.Status = StatusCommitted
		return nil
	}
	return tm.Commit(tx)
}

// Exclusive runs fn under the writer lock, so DDL never interleaves with
// a commit.
func (tm *TransactionManager) Exclusive(fn func() error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return fn()
}

// Commit applies a staged transaction:
//  1. Prepare: validate every operation against disk and fill in old
//     documents. Nothing is written.
//  2. Log the full operation list as a pending WAL line.
//  3. Apply each operation (document, indexes, catalog) with an undo entry
//     per step, then save the catalog once.
//  4. Log committed, or unwind the undo stack and log rolled_back.
func (tm *TransactionManager) Commit(tx *Transaction) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tx.Status != StatusActive {
		return fmt.Errorf("%w: transaction %s is %s", util.ErrInvalidArgument, tx.ID, tx.Status)
	}

	catalog, err := storage.LoadCatalog(tm.store.Layout().SystemPath())
	if err != nil {
		tx.Status = StatusAborted
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := tm.prepare(tx); err != nil {
		tx.Status = StatusAborted
		return err
	}

	payload, err := json.Marshal(tx.Operations)
	if err != nil {
		tx.Status = StatusAborted
		return fmt.Errorf("%w: failed to encode operations: %w", util.ErrSerialization, err)
	}
	intent := wal.NewRecord(tx.ID, wal.StatusPending)
	intent.Operations = payload
	if err := tm.wal.Append(intent); err != nil {
		tx.Status = StatusAborted
		return fmt.Errorf("failed to log transaction %s: %w", tx.ID, err)
	}

	var undo undoStack
	applyErr := tm.apply(tx, catalog, &undo)
	if applyErr == nil {
		applyErr = tm.saveCatalog(catalog, &undo)
	}
	if applyErr == nil {
		applyErr = tm.wal.Append(wal.NewRecord(tx.ID, wal.StatusCommitted))
	}
	if applyErr != nil {
		tm.rollback(tx, &undo)
		tx.Status = StatusAborted

		rec := wal.NewRecord(tx.ID, wal.StatusRolledBack)
		rec.Error = applyErr.Error()
		if err := tm.wal.Append(rec); err != nil {
			tm.log.Errorw("failed to log rollback", "tx", tx.ID, "error", err)
		}
		metrics.TransactionsTotal.WithLabelValues("rolled_back").Inc()
		tm.log.Warnw("transaction rolled back", "tx", tx.ID, "error", applyErr)
		return fmt.Errorf("%w: %s: %w", util.ErrTxnAborted, tx.ID, applyErr)
	}

	tx.Status = StatusCommitted
	metrics.TransactionsTotal.WithLabelValues("committed").Inc()
	tm.log.Debugw("transaction committed", "tx", tx.ID, "operations", len(tx.Operations))
	return nil
}

// staged tracks a document's state as the transaction's operations are
// replayed in memory. doc is nil once the document is deleted.
type staged struct {
	doc     storage.Document
	touched bool
}

func (tm *TransactionManager) prepare(tx *Transaction) error {
	state := make(map[string]*staged)
	lookup := func(collection, id string) (*staged, error) {
		key := collection + "/" + id
		if s, ok := state[key]; ok {
			return s, nil
		}
		s := &staged{}
		doc, err := tm.store.ReadDocument(collection, id)
		switch {
		case err == nil:
			s.doc = doc
		case errors.Is(err, util.ErrNotFound):
		default:
			return nil, err
		}
		state[key] = s
		return s, nil
	}

	for i := range tx.Operations {
		op := &tx.Operations[i]
		if !tm.store.CollectionExists(op.Collection) {
			return fmt.Errorf("%w: collection %s", util.ErrNotFound, op.Collection)
		}
		cur, err := lookup(op.Collection, op.ID)
		if err != nil {
			return err
		}

		switch op.Type {
		case OpInsert:
			if cur.doc != nil {
				return fmt.Errorf("%w: document %s/%s", util.ErrAlreadyExists, op.Collection, op.ID)
			}
			cur.doc = op.Document
		case OpUpdate:
			if cur.doc == nil {
				return fmt.Errorf("%w: document %s/%s", util.ErrNotFound, op.Collection, op.ID)
			}
			if op.OldDocument == nil {
				op.OldDocument = cur.doc
			}
			cur.doc = op.NewDocument
		case OpDelete:
			if cur.doc == nil {
				return fmt.Errorf("%w: document %s/%s", util.ErrNotFound, op.Collection, op.ID)
			}
			if op.OldDocument == nil {
				op.OldDocument = cur.doc
			}
			cur.doc = nil
		default:
			return fmt.Errorf("%w: unknown operation %q", util.ErrInvalidArgument, op.Type)
		}
		cur.touched = true
	}

	return tm.checkUnique(tx, state)
}

// checkUnique verifies the final state of every touched document against
// the unique indexes on disk and against each other.
func (tm *TransactionManager) checkUnique(tx *Transaction, state map[string]*staged) error {
	claimed := make(map[string]string)
	seen := make(map[string]bool)
	for _, op := range tx.Operations {
		key := op.Collection + "/" + op.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		doc := state[key].doc
		if doc == nil {
			continue
		}

		err := tm.indexes.CheckUnique(op.Collection, op.ID, doc)
		var uerr *index.UniqueError
		if errors.As(err, &uerr) {
			// the holder may be changed or removed by this same transaction
			if holder, ok := state[op.Collection+"/"+uerr.ExistingID]; ok && holder.touched {
				err = nil
			}
		}
		if err != nil {
			return err
		}

		keys, err := tm.indexes.UniqueKeys(op.Collection, doc)
		if err != nil {
			return err
		}
		for name, value := range keys {
			slot := op.Collection + "\x00" + name + "\x00" + value
			if other, ok := claimed[slot]; ok {
				return &index.UniqueError{Collection: op.Collection, Index: name, Key: value, ExistingID: other}
			}
			claimed[slot] = op.ID
		}
	}
	return nil
}

// undoStack holds compensating actions in apply order.
type undoStack []undoEntry

type undoEntry struct {
	collection string
	desc       string
	fn         func() error
}

func (u *undoStack) push(collection, desc string, fn func() error) {
	*u = append(*u, undoEntry{collection: collection, desc: desc, fn: fn})
}

func (tm *TransactionManager) apply(tx *Transaction, catalog *storage.Catalog, undo *undoStack) error {
	for _, op := range tx.Operations {
		op := op
		switch op.Type {
		case OpInsert:
			if err := tm.store.CreateDocument(op.Collection, op.ID, op.Document); err != nil {
				return err
			}
			undo.push(op.Collection, "delete inserted "+op.ID, func() error {
				return tm.store.DeleteDocument(op.Collection, op.ID)
			})
			if err := tm.updateIndexes(op.Collection, op.ID, nil, op.Document, undo); err != nil {
				return err
			}
			catalog.AddItem(op.Collection, op.ID)

		case OpUpdate:
			if err := tm.store.UpdateDocument(op.Collection, op.ID, op.NewDocument); err != nil {
				return err
			}
			undo.push(op.Collection, "restore "+op.ID, func() error {
				return tm.store.UpdateDocument(op.Collection, op.ID, op.OldDocument)
			})
			if err := tm.updateIndexes(op.Collection, op.ID, op.OldDocument, op.NewDocument, undo); err != nil {
				return err
			}
			catalog.AddItem(op.Collection, op.ID)

		case OpDelete:
			if err := tm.store.DeleteDocument(op.Collection, op.ID); err != nil {
				return err
			}
			undo.push(op.Collection, "recreate "+op.ID, func() error {
				return tm.store.CreateDocument(op.Collection, op.ID, op.OldDocument)
			})
			if err := tm.updateIndexes(op.Collection, op.ID, op.OldDocument, nil, undo); err != nil {
				return err
			}
			catalog.RemoveItem(op.Collection, op.ID)
		}
		metrics.OperationsTotal.WithLabelValues(string(op.Type)).Inc()
	}
	return nil
}

// saveCatalog persists the catalog and records how to put the previous
// file back.
func (tm *TransactionManager) saveCatalog(catalog *storage.Catalog, undo *undoStack) error {
	path := tm.store.Layout().SystemPath()
	prev, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return util.FileError("read catalog", path, err)
	}
	existed := err == nil
	if err := catalog.Save(); err != nil {
		return err
	}
	undo.push("", "restore catalog", func() error {
		if !existed {
			return os.Remove(path)
		}
		return storage.WriteFileAtomic(path, prev)
	})
	return nil
}

// updateIndexes pushes its undo entry before running, since a failure may
// leave some of the collection's indexes updated.
func (tm *TransactionManager) updateIndexes(collection, id string, oldDoc, newDoc storage.Document, undo *undoStack) error {
	undo.push(collection, "revert indexes of "+id, func() error {
		return tm.indexes.UpdateIndexes(collection, id, newDoc, oldDoc)
	})
	return tm.indexes.UpdateIndexes(collection, id, oldDoc, newDoc)
}

// rollback unwinds the undo stack in reverse. Collections where a step
// could not be undone get their indexes rebuilt from disk.
func (tm *TransactionManager) rollback(tx *Transaction, undo *undoStack) {
	dirty := make(map[string]bool)
	for i := len(*undo) - 1; i >= 0; i-- {
		entry := (*undo)[i]
		if err := entry.fn(); err != nil {
			tm.log.Errorw("undo step failed", "tx", tx.ID, "step", entry.desc, "error", err)
			dirty[entry.collection] = true
		}
	}
	for collection := range dirty {
		if collection == "" {
			continue
		}
		if err := tm.indexes.Rebuild(collection); err != nil {
			tm.log.Errorw("failed to rebuild indexes after rollback", "tx", tx.ID, "collection", collection, "error", err)
		}
	}
}

// Recover undoes transactions whose pending line has no terminal line,
// newest first, using the old documents they logged. Catalog entries and
// indexes of the collections involved are then rebuilt from disk. It
// returns the number of transactions undone.
func (tm *TransactionManager) Recover() (int, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	pending, err := tm.wal.Pending()
	if err != nil {
		return 0, fmt.Errorf("failed to scan wal: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	touched := make(map[string]bool)
	for i := len(pending) - 1; i >= 0; i-- {
		rec := pending[i]
		var ops []Operation
		if err := json.Unmarshal(rec.Operations, &ops); err != nil {
			return 0, fmt.Errorf("%w: wal operations of %s: %w", util.ErrSerialization, rec.TxID, err)
		}
		for j := len(ops) - 1; j >= 0; j-- {
			op := ops[j]
			if !tm.store.CollectionExists(op.Collection) {
				continue
			}
			touched[op.Collection] = true
			if err := tm.revert(op); err != nil {
				return 0, fmt.Errorf("failed to undo %s of %s/%s in %s: %w", op.Type, op.Collection, op.ID, rec.TxID, err)
			}
		}
	}

	catalog, err := storage.LoadCatalog(tm.store.Layout().SystemPath())
	if err != nil {
		return 0, err
	}
	for collection := range touched {
		ids, err := tm.store.ListDocumentIDs(collection)
		if err != nil {
			return 0, err
		}
		catalog.SetItems(collection, ids)
		if err := tm.indexes.Rebuild(collection); err != nil {
			return 0, fmt.Errorf("failed to rebuild indexes of %s: %w", collection, err)
		}
	}
	if err := catalog.Save(); err != nil {
		return 0, err
	}

	for _, rec := range pending {
		done := wal.NewRecord(rec.TxID, wal.StatusRolledBack)
		done.Error = "interrupted commit undone by recovery"
		if err := tm.wal.Append(done); err != nil {
			return 0, err
		}
		metrics.TransactionsTotal.WithLabelValues("recovered").Inc()
	}
	tm.log.Infow("recovered interrupted transactions", "count", len(pending))
	return len(pending), nil
}

// revert restores the state before op. It is idempotent so a partially
// applied operation can be reverted safely.
func (tm *TransactionManager) revert(op Operation) error {
	switch op.Type {
	case OpInsert:
		err := tm.store.DeleteDocument(op.Collection, op.ID)
		if err != nil && !errors.Is(err, util.ErrNotFound) {
			return err
		}
	case OpUpdate, OpDelete:
		if op.OldDocument == nil {
			return nil
		}
		return tm.store.UpdateDocument(op.Collection, op.ID, op.OldDocument)
	}
	return nil
}
