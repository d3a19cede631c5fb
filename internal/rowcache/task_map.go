package rowcache

import (
	"fmt"

	"github.com/google/btree"
)

// TaskState is the progress of a read submitted for a row.
type TaskState int

const (
	TaskPending TaskState = iota + 1
	TaskFailed
)

type taskItem struct {
	row   int
	task  Task
	state TaskState
}

func lessTaskItem(a, b *taskItem) bool {
	return a.row < b.row
}

// TaskMap tracks reads in flight for rows that may have no pending
// operation, such as refetching a single row. It is kept in step with
// structural changes of the cache through ShiftRows.
type TaskMap struct {
	byRow  *btree.BTreeG[*taskItem]
	byTask map[Task]*taskItem
	ids    idGenerator
}

// NewTaskMap creates an empty task map.
func NewTaskMap() *TaskMap {
	return &TaskMap{
		byRow:  btree.NewG(btreeDegree, lessTaskItem),
		byTask: make(map[Task]*taskItem),
	}
}

func (m *TaskMap) item(row int) *taskItem {
	it, ok := m.byRow.Get(&taskItem{row: row})
	if !ok {
		return nil
	}
	return it
}

func (m *TaskMap) mustItem(row int) *taskItem {
	mustRow(row)
	it := m.item(row)
	if it == nil {
		panic(fmt.Sprintf("rowcache: no task at row %d", row))
	}
	return it
}

// Len returns the number of rows with a task.
func (m *TaskMap) Len() int {
	return m.byRow.Len()
}

// Clear drops every task.
func (m *TaskMap) Clear() {
	m.byRow.Clear(false)
	m.byTask = make(map[Task]*taskItem)
}

// BeginRowTask starts a pending task for row. A row can only have one
// task at a time.
func (m *TaskMap) BeginRowTask(row int) RowTask {
	mustRow(row)
	if m.item(row) != nil {
		panic(fmt.Sprintf("rowcache: row %d already has a task", row))
	}
	it := &taskItem{row: row, task: Task(m.ids.next()), state: TaskPending}
	m.byRow.ReplaceOrInsert(it)
	m.byTask[it.task] = it
	return RowTask{Row: row, Task: it.task}
}

// RowForTask returns the current row of task, or -1.
func (m *TaskMap) RowForTask(task Task) int {
	if it, ok := m.byTask[task]; ok {
		return it.row
	}
	return -1
}

// TaskForRow returns the task of row, or the null task.
func (m *TaskMap) TaskForRow(row int) Task {
	if it := m.item(row); it != nil {
		return it.task
	}
	return 0
}

// HasTask reports whether row has a task, pending or failed.
func (m *TaskMap) HasTask(row int) bool {
	return m.item(row) != nil
}

// IsTaskPendingForRow reports whether a read for row is in flight.
func (m *TaskMap) IsTaskPendingForRow(row int) bool {
	it := m.item(row)
	return it != nil && it.state == TaskPending
}

// IsTaskFailedForRow reports whether the read for row failed.
func (m *TaskMap) IsTaskFailedForRow(row int) bool {
	it := m.item(row)
	return it != nil && it.state == TaskFailed
}

// SetTaskFailedForRow keeps the task but marks it failed, so the row can
// still be shown with a failure marker.
func (m *TaskMap) SetTaskFailedForRow(row int) {
	m.mustItem(row).state = TaskFailed
}

// SetTaskDoneForRow erases the task of row.
func (m *TaskMap) SetTaskDoneForRow(row int) {
	it := m.mustItem(row)
	m.byRow.Delete(it)
	delete(m.byTask, it.task)
}

// RemoveTasksInRange erases the tasks of count rows starting at first.
func (m *TaskMap) RemoveTasksInRange(first, count int) {
	mustRow(first)
	mustCount(count)
	var doomed []*taskItem
	m.byRow.AscendRange(&taskItem{row: first}, &taskItem{row: first + count}, func(it *taskItem) bool {
		doomed = append(doomed, it)
		return true
	})
	for _, it := range doomed {
		m.byRow.Delete(it)
		delete(m.byTask, it.task)
	}
}

// ShiftRows offsets stored rows after a structural change at row. A
// positive count is an insertion of count rows at row; a negative count is
// a removal of -count rows starting at row, whose tasks must already be
// gone.
func (m *TaskMap) ShiftRows(row, count int) {
	mustRow(row)
	from := row
	if count < 0 {
		from = row - count
	}
	if count == 0 {
		return
	}

	var moved []*taskItem
	m.byRow.AscendGreaterOrEqual(&taskItem{row: from}, func(it *taskItem) bool {
		moved = append(moved, it)
		return true
	})
	for _, it := range moved {
		m.byRow.Delete(it)
	}
	for _, it := range moved {
		it.row += count
		if _, replaced := m.byRow.ReplaceOrInsert(it); replaced {
			panic(fmt.Sprintf("rowcache: task shift by %d collides at row %d", count, it.row))
		}
	}
}
