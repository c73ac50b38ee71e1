package transaction

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// OpType names a staged document change.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is one staged change. Insert carries Document; update carries
// OldDocument and NewDocument; delete carries OldDocument. Missing old
// documents are filled in from disk when the transaction is prepared.
type Operation struct {
	Type        OpType           `json:"type"`
	Collection  string           `json:"collection"`
	ID          string           `json:"id"`
	Document    storage.Document `json:"document,omitempty"`
	OldDocument storage.Document `json:"old_document,omitempty"`
	NewDocument storage.Document `json:"new_document,omitempty"`
}

// Status represents the lifecycle of a transaction.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Transaction accumulates operations in memory until it is committed.
type Transaction struct {
	ID         string
	Status     Status
	Operations []Operation
}

// NewTransaction returns an empty active transaction.
func NewTransaction() *Transaction {
	return &Transaction{
		ID:     uuid.NewString(),
		Status: StatusActive,
	}
}

// Insert stages a new document. The document must carry its id.
func (t *Transaction) Insert(collection string, doc storage.Document) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	id, ok := doc.GetID()
	if !ok {
		return fmt.Errorf("%w: document has no id", util.ErrInvalidArgument)
	}
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	t.Operations = append(t.Operations, Operation{
		Type:       OpInsert,
		Collection: collection,
		ID:         id,
		Document:   doc.Clone(),
	})
	return nil
}

// Update stages a full replacement of document id. The stored id field is
// forced to id.
func (t *Transaction) Update(collection, id string, doc storage.Document) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	next := doc.Clone()
	next.SetID(id)
	t.Operations = append(t.Operations, Operation{
		Type:        OpUpdate,
		Collection:  collection,
		ID:          id,
		NewDocument: next,
	})
	return nil
}

// Delete stages the removal of document id.
func (t *Transaction) Delete(collection, id string) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	t.Operations = append(t.Operations, Operation{
		Type:       OpDelete,
		Collection: collection,
		ID:         id,
	})
	return nil
}

// IsEmpty reports whether nothing was staged.
func (t *Transaction) IsEmpty() bool {
	return len(t.Operations) == 0
}

func (t *Transaction) checkActive() error {
	if t.Status != StatusActive {
		return fmt.Errorf("%w: transaction %s is %s", util.ErrInvalidArgument, t.ID, t.Status)
	}
	return nil
}
