package wal

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state a WAL line records for a transaction.
type Status string

const (
	StatusPending    Status = "pending"     // intent logged, apply not finished
	StatusCommitted  Status = "committed"   // every operation applied
	StatusRolledBack Status = "rolled_back" // apply failed or recovery undid it
)

// Terminal reports whether no further line is expected for the transaction.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusRolledBack
}

// Record is one line of the log. Operations are carried opaquely so the
// log does not depend on the transaction types.
type Record struct {
	TxID       string          `json:"tx_id"`
	Status     Status          `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`
	Operations json.RawMessage `json:"operations,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// NewRecord stamps a record with the current time.
func NewRecord(txID string, status Status) *Record {
	return &Record{
		TxID:      txID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}
