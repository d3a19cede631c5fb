package rowcache

import (
	"fmt"

	"github.com/google/btree"
)

const btreeDegree = 16

// OperationMap holds the pending operation of every row that has one, in
// row order. Rows without an entry are implicitly OpNone.
type OperationMap struct {
	entries *btree.BTreeG[*OperationIndex]
	txIDs   idGenerator
	// revision is stamped on an entry by every edit.
	revision uint64

	committed    RowRange
	hasCommitted bool
}

// NewOperationMap creates an empty operation map.
func NewOperationMap() *OperationMap {
	return &OperationMap{
		entries: btree.NewG(btreeDegree, lessOperationIndex),
	}
}

func lessOperationIndex(a, b *OperationIndex) bool {
	return a.Row < b.Row
}

func mustRow(row int) {
	if row < 0 {
		panic(fmt.Sprintf("rowcache: negative row %d", row))
	}
}

func mustCount(count int) {
	if count < 0 {
		panic(fmt.Sprintf("rowcache: negative count %d", count))
	}
}

func (m *OperationMap) entry(row int) *OperationIndex {
	e, ok := m.entries.Get(&OperationIndex{Row: row})
	if !ok {
		return nil
	}
	return e
}

func (m *OperationMap) mustEntry(row int) *OperationIndex {
	mustRow(row)
	e := m.entry(row)
	if e == nil {
		panic(fmt.Sprintf("rowcache: no operation at row %d", row))
	}
	return e
}

// touch drops the committed range; it only describes the state right after
// CommitChanges.
func (m *OperationMap) touch() {
	m.hasCommitted = false
	m.committed = RowRange{}
}

// Len returns the number of rows with a pending operation.
func (m *OperationMap) Len() int {
	return m.entries.Len()
}

// IsEmpty reports whether no row has a pending operation.
func (m *OperationMap) IsEmpty() bool {
	return m.entries.Len() == 0
}

// HasPendingOperations reports whether anything has to be synchronized.
func (m *OperationMap) HasPendingOperations() bool {
	return !m.IsEmpty()
}

// Clear removes every entry and the committed range.
func (m *OperationMap) Clear() {
	m.entries.Clear(false)
	m.touch()
}

// OperationAtRow returns the pending operation of row.
func (m *OperationMap) OperationAtRow(row int) Operation {
	if e := m.entry(row); e != nil {
		return e.Operation
	}
	return OpNone
}

// OperationIndexAtRow returns a copy of the entry for row.
func (m *OperationMap) OperationIndexAtRow(row int) (OperationIndex, bool) {
	if e := m.entry(row); e != nil {
		return *e, true
	}
	return OperationIndex{Row: -1, Column: -1}, false
}

// Entries returns copies of all entries in ascending row order.
func (m *OperationMap) Entries() []OperationIndex {
	out := make([]OperationIndex, 0, m.entries.Len())
	m.entries.Ascend(func(e *OperationIndex) bool {
		out = append(out, *e)
		return true
	})
	return out
}

// SetOperationAtRow records op for the whole row, merging it with any
// operation already pending there.
func (m *OperationMap) SetOperationAtRow(row int, op Operation) {
	m.SetOperationAt(row, -1, op)
}

// SetOperationAt records op for a single column of row. When the row
// already has an entry for a different column the entry widens to the
// whole row. Undefined transitions panic.
func (m *OperationMap) SetOperationAt(row, column int, op Operation) {
	mustRow(row)
	if column < -1 {
		column = -1
	}
	m.touch()

	e := m.entry(row)
	if e == nil {
		merged, err := MergeOperation(OpNone, op)
		if err != nil {
			panic(fmt.Sprintf("rowcache: row %d: %v", row, err))
		}
		if merged == OpNone {
			return
		}
		m.revision++
		m.entries.ReplaceOrInsert(&OperationIndex{
			Row:       row,
			Column:    column,
			Operation: merged,
			Revision:  m.revision,
		})
		return
	}

	merged, err := MergeOperation(e.Operation, op)
	if err != nil {
		panic(fmt.Sprintf("rowcache: row %d: %v", row, err))
	}
	m.revision++
	e.Operation = merged
	e.Revision = m.revision
	if e.Column != column {
		e.Column = -1
	}
}

// RemoveOperationAtRow drops the entry for row. It returns false when the
// row had no entry.
func (m *OperationMap) RemoveOperationAtRow(row int) bool {
	mustRow(row)
	m.touch()
	_, ok := m.entries.Delete(&OperationIndex{Row: row})
	return ok
}

// ShiftRowsForInsert moves every entry at or after atRow down by count rows.
func (m *OperationMap) ShiftRowsForInsert(atRow, count int) {
	mustRow(atRow)
	mustCount(count)
	m.touch()
	if count == 0 {
		return
	}
	m.shift(atRow, count)
}

// ShiftRowsForRemove moves every entry at or after atRow+count up by count
// rows. Entries inside [atRow, atRow+count) are left alone; the caller must
// have removed them already.
func (m *OperationMap) ShiftRowsForRemove(atRow, count int) {
	mustRow(atRow)
	mustCount(count)
	m.touch()
	if count == 0 {
		return
	}
	m.shift(atRow+count, -count)
}

// shift adds delta to the row of every entry at or after from. Keys cannot
// change in place, so the affected entries are taken out and reinserted.
func (m *OperationMap) shift(from, delta int) {
	var moved []*OperationIndex
	m.entries.AscendGreaterOrEqual(&OperationIndex{Row: from}, func(e *OperationIndex) bool {
		moved = append(moved, e)
		return true
	})
	for _, e := range moved {
		m.entries.Delete(e)
	}
	for _, e := range moved {
		e.Row += delta
		if _, replaced := m.entries.ReplaceOrInsert(e); replaced {
			panic(fmt.Sprintf("rowcache: shift by %d collides at row %d", delta, e.Row))
		}
	}
}

// InsertRecords makes room for count new rows at pos and marks each of
// them as inserted.
func (m *OperationMap) InsertRecords(pos, count int) {
	m.ShiftRowsForInsert(pos, count)
	for row := pos; row < pos+count; row++ {
		m.SetOperationAtRow(row, OpInsert)
	}
}

// RemoveRecords marks count rows starting at pos as deleted. Rows are only
// dropped from the cache on commit, so nothing is shifted.
func (m *OperationMap) RemoveRecords(pos, count int) {
	mustRow(pos)
	mustCount(count)
	for row := pos; row < pos+count; row++ {
		m.SetOperationAtRow(row, OpDelete)
	}
}

// rowsWhere returns the rows whose operation satisfies match, ascending.
func (m *OperationMap) rowsWhere(match func(Operation) bool) []int {
	var rows []int
	m.entries.Ascend(func(e *OperationIndex) bool {
		if match(e.Operation) {
			rows = append(rows, e.Row)
		}
		return true
	})
	return rows
}

// rowsWhereDescending is rowsWhere in descending row order.
func (m *OperationMap) rowsWhereDescending(match func(Operation) bool) []int {
	var rows []int
	m.entries.Descend(func(e *OperationIndex) bool {
		if match(e.Operation) {
			rows = append(rows, e.Row)
		}
		return true
	})
	return rows
}

// RowsToInsertIntoStorage returns the rows inserted locally, ascending.
func (m *OperationMap) RowsToInsertIntoStorage() []int {
	return m.rowsWhere(func(op Operation) bool { return op == OpInsert })
}

// RowsToUpdateInStorage returns the rows edited locally, ascending.
func (m *OperationMap) RowsToUpdateInStorage() []int {
	return m.rowsWhere(func(op Operation) bool { return op == OpUpdate })
}

// RowsToDeleteInStorage returns stored rows marked for deletion, highest
// row first, so they can be removed one by one without invalidating the
// rows still to be processed.
func (m *OperationMap) RowsToDeleteInStorage() []int {
	return m.rowsWhereDescending(func(op Operation) bool {
		return op == OpDelete || op == OpUpdateDelete
	})
}

// RowsToDeleteInCacheOnly returns rows that were inserted and deleted
// locally and never reached storage, highest row first.
func (m *OperationMap) RowsToDeleteInCacheOnly() []int {
	return m.rowsWhereDescending(func(op Operation) bool { return op == OpInsertDelete })
}

// RowsToDeleteInCache returns every row that disappears from the cache on
// commit, highest row first.
func (m *OperationMap) RowsToDeleteInCache() []int {
	return m.rowsWhereDescending(Operation.IsDelete)
}

// CommitChanges records the range spanned by the rows still marked as
// inserted or updated and clears the map. Rows marked for deletion must
// have been removed by the caller beforehand.
func (m *OperationMap) CommitChanges() (RowRange, bool) {
	rows := m.rowsWhere(func(op Operation) bool { return op == OpInsert || op == OpUpdate })
	m.Clear()
	if len(rows) == 0 {
		return RowRange{}, false
	}
	m.committed = RowRange{First: rows[0], Last: rows[len(rows)-1]}
	m.hasCommitted = true
	return m.committed, true
}

// CommittedRows returns the range computed by the last CommitChanges. It is
// reset by any later mutation.
func (m *OperationMap) CommittedRows() (RowRange, bool) {
	return m.committed, m.hasCommitted
}
