// Package rowcache provides an ordered in-memory mirror of table rows that
// tracks which rows were inserted, updated or deleted locally and which of
// those changes still have to be synchronized with the backing store.
//
// Nothing in this package performs I/O or is safe for concurrent use. A
// single owner goroutine mutates the cache; asynchronous backend calls are
// correlated back to rows through Transaction and Task ids, which survive
// the row index drift caused by inserts and removals.
package rowcache

import (
	"errors"
	"fmt"
)

// Operation is the pending change of a cached row relative to its last
// known storage state.
type Operation int

const (
	OpNone Operation = iota
	OpInsert
	OpUpdate
	OpDelete
	// OpInsertDelete marks a row inserted locally and then deleted before
	// it was ever stored. Nothing has to be sent to storage for it.
	OpInsertDelete
	// OpUpdateDelete marks a stored row that was edited and then deleted.
	// Storage still has to delete it.
	OpUpdateDelete
)

// ErrUndefinedTransition is returned by MergeOperation for combinations of
// existing and incoming operations that have no meaning.
var ErrUndefinedTransition = errors.New("undefined operation transition")

var operationNames = map[Operation]string{
	OpNone:         "none",
	OpInsert:       "insert",
	OpUpdate:       "update",
	OpDelete:       "delete",
	OpInsertDelete: "insert-delete",
	OpUpdateDelete: "update-delete",
}

// String returns the lower-case name of the operation.
func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", int(op))
}

// IsValid reports whether op is one of the six known operations.
func (op Operation) IsValid() bool {
	_, ok := operationNames[op]
	return ok
}

// IsDelete returns true for every kind of pending deletion.
func (op Operation) IsDelete() bool {
	return op == OpDelete || op == OpInsertDelete || op == OpUpdateDelete
}

// MergeOperation returns the operation a row ends up with when incoming is
// applied on top of existing.
//
// A delete wins but keeps the history of the row: an inserted row becomes
// InsertDelete, an updated row UpdateDelete. An update never demotes an
// insert, and it revives a row that was deleted locally. Applying None or
// Insert on top of an existing operation is undefined.
func MergeOperation(existing, incoming Operation) (Operation, error) {
	if !existing.IsValid() || !incoming.IsValid() {
		return OpNone, fmt.Errorf("%w: %s -> %s", ErrUndefinedTransition, existing, incoming)
	}
	if existing == OpNone {
		return incoming, nil
	}

	switch incoming {
	case OpDelete:
		switch existing {
		case OpInsert, OpInsertDelete:
			return OpInsertDelete, nil
		case OpUpdate, OpUpdateDelete:
			return OpUpdateDelete, nil
		default:
			return OpDelete, nil
		}
	case OpUpdate:
		switch existing {
		case OpInsert, OpInsertDelete:
			return OpInsert, nil
		default:
			return OpUpdate, nil
		}
	}

	return existing, fmt.Errorf("%w: %s -> %s", ErrUndefinedTransition, existing, incoming)
}

// TransactionState is the progress of the write submitted for a row.
type TransactionState int

const (
	TransactionNone TransactionState = iota
	TransactionPending
	TransactionFailed
)

// String returns the lower-case name of the state.
func (s TransactionState) String() string {
	switch s {
	case TransactionNone:
		return "none"
	case TransactionPending:
		return "pending"
	case TransactionFailed:
		return "failed"
	}
	return fmt.Sprintf("transaction-state(%d)", int(s))
}

// OperationIndex is the bookkeeping entry of one row.
type OperationIndex struct {
	Row int
	// Column is the edited column, or -1 when the whole row is affected.
	Column           int
	Operation        Operation
	TransactionID    Transaction
	TransactionState TransactionState
	// Revision changes on every edit of the row.
	Revision uint64
}

// IsNull reports whether the index refers to no row.
func (oi OperationIndex) IsNull() bool {
	return oi.Row < 0
}

// RowRange is an inclusive range of rows.
type RowRange struct {
	First int
	Last  int
}

// Len returns the number of rows in the range.
func (r RowRange) Len() int {
	return r.Last - r.First + 1
}

// Contains reports whether row lies within the range.
func (r RowRange) Contains(row int) bool {
	return row >= r.First && row <= r.Last
}
