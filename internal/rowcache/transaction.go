package rowcache

import "fmt"

// CreateTransaction starts a new transaction for the operation pending at
// row. It returns the null transaction when the row has nothing pending.
// Any earlier transaction or failure on the row is replaced.
func (m *OperationMap) CreateTransaction(row int) Transaction {
	mustRow(row)
	e := m.entry(row)
	if e == nil {
		return 0
	}
	e.TransactionID = Transaction(m.txIDs.next())
	e.TransactionState = TransactionNone
	return e.TransactionID
}

// BeginRowTransaction is CreateTransaction returning the row alongside.
func (m *OperationMap) BeginRowTransaction(row int) RowTransaction {
	return RowTransaction{Row: row, Transaction: m.CreateTransaction(row)}
}

// RowForTransaction returns the current row of tx, or -1 when no entry
// carries it anymore. The lookup goes by id because inserts and removals
// may have moved the row since the transaction was created.
func (m *OperationMap) RowForTransaction(tx Transaction) int {
	if tx.IsNull() {
		return -1
	}
	row := -1
	m.entries.Ascend(func(e *OperationIndex) bool {
		if e.TransactionID == tx {
			row = e.Row
			return false
		}
		return true
	})
	return row
}

// TransactionForRow returns the transaction stored for row, if any.
func (m *OperationMap) TransactionForRow(row int) Transaction {
	if e := m.entry(row); e != nil {
		return e.TransactionID
	}
	return 0
}

// TransactionStateForRow returns the state of the transaction at row.
func (m *OperationMap) TransactionStateForRow(row int) TransactionState {
	if e := m.entry(row); e != nil {
		return e.TransactionState
	}
	return TransactionNone
}

// SetTransactionPendingForRow marks the write for row as submitted.
func (m *OperationMap) SetTransactionPendingForRow(row int) {
	m.mustEntry(row).TransactionState = TransactionPending
}

// IsTransactionPendingForRow reports whether a write for row is in flight.
func (m *OperationMap) IsTransactionPendingForRow(row int) bool {
	return m.TransactionStateForRow(row) == TransactionPending
}

// SetTransactionFailedForRow marks the write for row as failed. The
// operation itself is kept so the row can be resubmitted or reverted.
func (m *OperationMap) SetTransactionFailedForRow(row int) {
	m.mustEntry(row).TransactionState = TransactionFailed
}

// IsTransactionFailedForRow reports whether the last write for row failed.
func (m *OperationMap) IsTransactionFailedForRow(row int) bool {
	return m.TransactionStateForRow(row) == TransactionFailed
}

// ClearTransactionForRow marks the write for row as acknowledged while
// keeping the operation and the transaction id, so the row still resolves
// until the batch it belongs to is finalized.
func (m *OperationMap) ClearTransactionForRow(row int) {
	m.mustEntry(row).TransactionState = TransactionNone
}

// SetTransactionDoneForRow finishes a successful write: the row returns to
// OpNone.
func (m *OperationMap) SetTransactionDoneForRow(row int) {
	m.mustEntry(row)
	m.RemoveOperationAtRow(row)
}

// PendingTransactions returns the number of rows with a write in flight.
func (m *OperationMap) PendingTransactions() int {
	n := 0
	m.entries.Ascend(func(e *OperationIndex) bool {
		if e.TransactionState == TransactionPending {
			n++
		}
		return true
	})
	return n
}

// FailedRows returns the rows whose last write failed, ascending.
func (m *OperationMap) FailedRows() []int {
	var rows []int
	m.entries.Ascend(func(e *OperationIndex) bool {
		if e.TransactionState == TransactionFailed {
			rows = append(rows, e.Row)
		}
		return true
	})
	return rows
}

// RevisionForRow returns the edit revision of row, or 0 when the row has no
// entry.
func (m *OperationMap) RevisionForRow(row int) uint64 {
	if e := m.entry(row); e != nil {
		return e.Revision
	}
	return 0
}

// RestartOperationAtRow replaces the operation of row with op and drops its
// transaction, so the row is picked up again by the next write. The
// revision is kept.
func (m *OperationMap) RestartOperationAtRow(row int, op Operation) {
	e := m.mustEntry(row)
	if op == OpNone {
		panic(fmt.Sprintf("rowcache: restarting row %d with no operation", row))
	}
	m.touch()
	e.Operation = op
	e.Column = -1
	e.TransactionID = 0
	e.TransactionState = TransactionNone
}
