package rowcache

import (
	"fmt"
	"slices"
)

// Schema gives a RowCache per-column access to its records.
type Schema[R any] interface {
	ColumnCount() int
	Value(rec R, column int) any
	// WithValue returns rec with column set to v. Implementations for
	// pointer records must not modify rec in place.
	WithValue(rec R, column int, v any) R
}

type slot[R any] struct {
	rec R
	// original is the record as last loaded from storage, captured on the
	// first local edit so the edit can be reverted.
	original *R
}

// RowCache is an ordered sequence of records plus the bookkeeping of the
// changes made to them since they were loaded.
type RowCache[R any] struct {
	rows     []slot[R]
	ops      *OperationMap
	tasks    *TaskMap
	schema   Schema[R]
	observer Observer
}

// Option configures a RowCache.
type Option[R any] func(*RowCache[R])

// WithSchema enables ValueAt, SetValueAt and ColumnCount.
func WithSchema[R any](schema Schema[R]) Option[R] {
	return func(c *RowCache[R]) { c.schema = schema }
}

// WithObserver installs the receiver of change notifications.
func WithObserver[R any](observer Observer) Option[R] {
	return func(c *RowCache[R]) { c.SetObserver(observer) }
}

// New creates a cache holding records, all of them unmodified.
func New[R any](records []R, opts ...Option[R]) *RowCache[R] {
	c := &RowCache[R]{
		rows:     make([]slot[R], len(records)),
		ops:      NewOperationMap(),
		tasks:    NewTaskMap(),
		observer: NopObserver{},
	}
	for i, rec := range records {
		c.rows[i] = slot[R]{rec: rec}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver replaces the observer. A nil observer disables notifications.
func (c *RowCache[R]) SetObserver(observer Observer) {
	if observer == nil {
		observer = NopObserver{}
	}
	c.observer = observer
}

func (c *RowCache[R]) mustRow(row int) {
	if row < 0 || row >= len(c.rows) {
		panic(fmt.Sprintf("rowcache: row %d out of range [0,%d)", row, len(c.rows)))
	}
}

// Len returns the number of rows, including rows marked for deletion.
func (c *RowCache[R]) Len() int {
	return len(c.rows)
}

// ColumnCount returns the number of columns, or 0 without a schema.
func (c *RowCache[R]) ColumnCount() int {
	if c.schema == nil {
		return 0
	}
	return c.schema.ColumnCount()
}

// RecordAt returns the record at row.
func (c *RowCache[R]) RecordAt(row int) R {
	c.mustRow(row)
	return c.rows[row].rec
}

// Records returns a copy of all records in row order.
func (c *RowCache[R]) Records() []R {
	out := make([]R, len(c.rows))
	for i, s := range c.rows {
		out[i] = s.rec
	}
	return out
}

// ValueAt returns one column of the record at row.
func (c *RowCache[R]) ValueAt(row, column int) any {
	c.mustRow(row)
	c.mustSchema()
	return c.schema.Value(c.rows[row].rec, column)
}

func (c *RowCache[R]) mustSchema() {
	if c.schema == nil {
		panic("rowcache: cache has no schema")
	}
}

// OperationAtRow returns the pending operation of row.
func (c *RowCache[R]) OperationAtRow(row int) Operation {
	return c.ops.OperationAtRow(row)
}

// OperationIndexAtRow returns a copy of the bookkeeping entry of row.
func (c *RowCache[R]) OperationIndexAtRow(row int) (OperationIndex, bool) {
	return c.ops.OperationIndexAtRow(row)
}

// Status returns the operation and in-flight state of row.
func (c *RowCache[R]) Status(row int) RowStatus {
	c.mustRow(row)
	return RowStatus{
		Operation:   c.ops.OperationAtRow(row),
		Transaction: c.ops.TransactionStateForRow(row),
		TaskPending: c.tasks.IsTaskPendingForRow(row),
		TaskFailed:  c.tasks.IsTaskFailedForRow(row),
	}
}

// snapshot remembers the stored version of row before its first edit.
// Rows that were never stored have nothing to go back to.
func (c *RowCache[R]) snapshot(row int) {
	s := &c.rows[row]
	if s.original != nil {
		return
	}
	switch c.ops.OperationAtRow(row) {
	case OpInsert, OpInsertDelete:
		return
	}
	orig := s.rec
	s.original = &orig
}

// SetRecordAt replaces the record at row and marks the row as updated.
func (c *RowCache[R]) SetRecordAt(row int, rec R) {
	c.mustRow(row)
	c.snapshot(row)
	c.rows[row].rec = rec
	c.ops.SetOperationAtRow(row, OpUpdate)
	c.observer.RowsChanged(row, row)
}

// SetValueAt changes one column of the record at row and marks the row as
// updated.
func (c *RowCache[R]) SetValueAt(row, column int, v any) {
	c.mustRow(row)
	c.mustSchema()
	if column < 0 || column >= c.schema.ColumnCount() {
		panic(fmt.Sprintf("rowcache: column %d out of range [0,%d)", column, c.schema.ColumnCount()))
	}
	c.snapshot(row)
	c.rows[row].rec = c.schema.WithValue(c.rows[row].rec, column, v)
	c.ops.SetOperationAt(row, column, OpUpdate)
	c.observer.RowsChanged(row, row)
}

// ReplaceRecordAt overwrites the record at row with values that came from
// storage, such as generated ids. The pending operation is left as is.
func (c *RowCache[R]) ReplaceRecordAt(row int, rec R) {
	c.mustRow(row)
	c.rows[row].rec = rec
	c.observer.RowsChanged(row, row)
}

// InsertRecord inserts rec at pos and marks it as inserted.
func (c *RowCache[R]) InsertRecord(pos int, rec R) {
	c.InsertRecords(pos, rec)
}

// InsertRecords inserts recs at pos, shifting the rows after it, and marks
// each of them as inserted.
func (c *RowCache[R]) InsertRecords(pos int, recs ...R) {
	if pos < 0 || pos > len(c.rows) {
		panic(fmt.Sprintf("rowcache: insert position %d out of range [0,%d]", pos, len(c.rows)))
	}
	if len(recs) == 0 {
		return
	}
	first, last := pos, pos+len(recs)-1
	c.observer.RowsAboutToBeInserted(first, last)

	c.insertSlots(pos, recs)
	c.ops.InsertRecords(pos, len(recs))
	c.tasks.ShiftRows(pos, len(recs))

	c.observer.RowsInserted(first, last)
}

func (c *RowCache[R]) insertSlots(pos int, recs []R) {
	slots := make([]slot[R], len(recs))
	for i, rec := range recs {
		slots[i] = slot[R]{rec: rec}
	}
	c.rows = slices.Insert(c.rows, pos, slots...)
}

// AppendRecord adds rec after the last row and marks it as inserted.
func (c *RowCache[R]) AppendRecord(rec R) {
	c.InsertRecords(len(c.rows), rec)
}

// AppendFetched adds a record read from storage after the last row. No
// operation is recorded for it.
func (c *RowCache[R]) AppendFetched(rec R) {
	row := len(c.rows)
	c.observer.RowsAboutToBeInserted(row, row)
	c.rows = append(c.rows, slot[R]{rec: rec})
	c.observer.RowsInserted(row, row)
}

// Load appends records read from storage in one notification.
func (c *RowCache[R]) Load(recs []R) {
	if len(recs) == 0 {
		return
	}
	first := len(c.rows)
	last := first + len(recs) - 1
	c.observer.RowsAboutToBeInserted(first, last)
	c.insertSlots(first, recs)
	c.observer.RowsInserted(first, last)
}

// RemoveRecords marks count rows starting at pos for deletion. The rows
// stay in the cache until CommitChanges.
func (c *RowCache[R]) RemoveRecords(pos, count int) {
	if count <= 0 {
		return
	}
	c.mustRow(pos)
	c.mustRow(pos + count - 1)
	c.ops.RemoveRecords(pos, count)
	c.observer.RowsChanged(pos, pos+count-1)
}

// EraseRow drops row from the cache immediately together with its
// operation and task, moving the rows after it up by one.
func (c *RowCache[R]) EraseRow(row int) {
	c.mustRow(row)
	c.observer.RowsAboutToBeRemoved(row, row)
	c.erase(row)
	c.observer.RowsRemoved(row, row)
}

func (c *RowCache[R]) erase(row int) {
	c.ops.RemoveOperationAtRow(row)
	c.ops.ShiftRowsForRemove(row, 1)
	c.tasks.RemoveTasksInRange(row, 1)
	c.tasks.ShiftRows(row, -1)
	c.rows = slices.Delete(c.rows, row, row+1)
}

// RevertRow throws away the local change of row. Rows that were never
// stored are erased; edited rows get their stored record back.
func (c *RowCache[R]) RevertRow(row int) {
	c.mustRow(row)
	switch c.ops.OperationAtRow(row) {
	case OpNone:
		return
	case OpInsert, OpInsertDelete:
		c.EraseRow(row)
		return
	}

	s := &c.rows[row]
	if s.original != nil {
		s.rec = *s.original
		s.original = nil
	}
	c.ops.RemoveOperationAtRow(row)
	c.observer.RowsChanged(row, row)
}

// CommitChanges finalizes a successful synchronization. Rows marked for
// deletion are erased, highest row first so earlier erasures never move a
// row still to be erased. Then the operation map records the range of the
// remaining inserted and updated rows and is cleared.
func (c *RowCache[R]) CommitChanges() (RowRange, bool) {
	for _, row := range c.ops.RowsToDeleteInCache() {
		c.observer.RowsAboutToBeRemoved(row, row)
		c.erase(row)
		c.observer.RowsRemoved(row, row)
	}

	committed, ok := c.ops.CommitChanges()
	for i := range c.rows {
		c.rows[i].original = nil
	}
	if ok {
		c.observer.RowsChanged(committed.First, committed.Last)
	}
	return committed, ok
}

// CommittedRows returns the range reported by the last CommitChanges.
func (c *RowCache[R]) CommittedRows() (RowRange, bool) {
	return c.ops.CommittedRows()
}

// Clear drops all records and bookkeeping.
func (c *RowCache[R]) Clear() {
	if len(c.rows) > 0 {
		last := len(c.rows) - 1
		c.observer.RowsAboutToBeRemoved(0, last)
		c.rows = nil
		c.ops.Clear()
		c.tasks.Clear()
		c.observer.RowsRemoved(0, last)
		return
	}
	c.ops.Clear()
	c.tasks.Clear()
}

// HasPendingOperations reports whether any row has a local change.
func (c *RowCache[R]) HasPendingOperations() bool {
	return c.ops.HasPendingOperations()
}

// PendingOperations returns copies of all bookkeeping entries.
func (c *RowCache[R]) PendingOperations() []OperationIndex {
	return c.ops.Entries()
}

func (c *RowCache[R]) RowsToInsertIntoStorage() []int { return c.ops.RowsToInsertIntoStorage() }
func (c *RowCache[R]) RowsToUpdateInStorage() []int   { return c.ops.RowsToUpdateInStorage() }
func (c *RowCache[R]) RowsToDeleteInStorage() []int   { return c.ops.RowsToDeleteInStorage() }
func (c *RowCache[R]) RowsToDeleteInCacheOnly() []int { return c.ops.RowsToDeleteInCacheOnly() }
func (c *RowCache[R]) RowsToDeleteInCache() []int     { return c.ops.RowsToDeleteInCache() }

// CreateTransaction starts a write for the change pending at row.
func (c *RowCache[R]) CreateTransaction(row int) Transaction {
	c.mustRow(row)
	return c.ops.CreateTransaction(row)
}

// BeginRowTransaction is CreateTransaction returning the row alongside.
func (c *RowCache[R]) BeginRowTransaction(row int) RowTransaction {
	c.mustRow(row)
	return c.ops.BeginRowTransaction(row)
}

// RowForTransaction returns the current row of tx, or -1.
func (c *RowCache[R]) RowForTransaction(tx Transaction) int {
	return c.ops.RowForTransaction(tx)
}

// TransactionForRow returns the transaction stored for row.
func (c *RowCache[R]) TransactionForRow(row int) Transaction {
	return c.ops.TransactionForRow(row)
}

// SetTransactionPendingForRow marks the write of row as submitted.
func (c *RowCache[R]) SetTransactionPendingForRow(row int) {
	c.mustRow(row)
	c.ops.SetTransactionPendingForRow(row)
	c.observer.RowsChanged(row, row)
}

// IsTransactionPendingForRow reports whether a write for row is in flight.
func (c *RowCache[R]) IsTransactionPendingForRow(row int) bool {
	return c.ops.IsTransactionPendingForRow(row)
}

// SetTransactionFailedForRow marks the write of row as failed.
func (c *RowCache[R]) SetTransactionFailedForRow(row int) {
	c.mustRow(row)
	c.ops.SetTransactionFailedForRow(row)
	c.observer.RowsChanged(row, row)
}

// IsTransactionFailedForRow reports whether the last write for row failed.
func (c *RowCache[R]) IsTransactionFailedForRow(row int) bool {
	return c.ops.IsTransactionFailedForRow(row)
}

// ClearTransactionForRow acknowledges the write of row without finishing
// the operation.
func (c *RowCache[R]) ClearTransactionForRow(row int) {
	c.mustRow(row)
	c.ops.ClearTransactionForRow(row)
	c.observer.RowsChanged(row, row)
}

// SetTransactionDoneForRow finishes the write of row; the row becomes
// unmodified.
func (c *RowCache[R]) SetTransactionDoneForRow(row int) {
	c.mustRow(row)
	c.ops.SetTransactionDoneForRow(row)
	c.rows[row].original = nil
	c.observer.RowsChanged(row, row)
}

// RevisionForRow returns the edit revision of row. It changes with every
// edit, so a writer can tell whether the row moved on after submission.
func (c *RowCache[R]) RevisionForRow(row int) uint64 {
	return c.ops.RevisionForRow(row)
}

// RestartRow settles a write that storage acknowledged after row was
// edited again. rec replaces the cached record and op is the change still
// to be written. stored is what storage now holds; it becomes the revert
// point unless op is an insert.
func (c *RowCache[R]) RestartRow(row int, stored, rec R, op Operation) {
	c.mustRow(row)
	c.ops.RestartOperationAtRow(row, op)
	s := &c.rows[row]
	s.rec = rec
	switch op {
	case OpInsert, OpInsertDelete:
		s.original = nil
	default:
		s.original = &stored
	}
	c.observer.RowsChanged(row, row)
}

// PendingTransactions returns the number of writes in flight.
func (c *RowCache[R]) PendingTransactions() int {
	return c.ops.PendingTransactions()
}

// FailedRows returns the rows whose last write failed.
func (c *RowCache[R]) FailedRows() []int {
	return c.ops.FailedRows()
}

// BeginRowTask starts a read for row.
func (c *RowCache[R]) BeginRowTask(row int) RowTask {
	c.mustRow(row)
	rt := c.tasks.BeginRowTask(row)
	c.observer.RowsChanged(row, row)
	return rt
}

// RowForTask returns the current row of task, or -1.
func (c *RowCache[R]) RowForTask(task Task) int {
	return c.tasks.RowForTask(task)
}

// HasTask reports whether row has a read pending or failed.
func (c *RowCache[R]) HasTask(row int) bool {
	return c.tasks.HasTask(row)
}

// SetTaskDoneForRow ends the read of row.
func (c *RowCache[R]) SetTaskDoneForRow(row int) {
	c.mustRow(row)
	c.tasks.SetTaskDoneForRow(row)
	c.observer.RowsChanged(row, row)
}

// SetTaskFailedForRow marks the read of row as failed.
func (c *RowCache[R]) SetTaskFailedForRow(row int) {
	c.mustRow(row)
	c.tasks.SetTaskFailedForRow(row)
	c.observer.RowsChanged(row, row)
}

// PendingTasks returns the number of rows with a read in flight or failed.
func (c *RowCache[R]) PendingTasks() int {
	return c.tasks.Len()
}
