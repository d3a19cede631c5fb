package rowcache

import "strconv"

// Transaction correlates a write submitted for a row with its completion.
// The zero value is the null transaction.
type Transaction uint32

// IsNull reports whether t is the null transaction.
func (t Transaction) IsNull() bool {
	return t == 0
}

func (t Transaction) String() string {
	return "tx-" + strconv.FormatUint(uint64(t), 10)
}

// Task correlates a read submitted for a row with its completion.
// The zero value is the null task.
type Task uint32

// IsNull reports whether t is the null task.
func (t Task) IsNull() bool {
	return t == 0
}

func (t Task) String() string {
	return "task-" + strconv.FormatUint(uint64(t), 10)
}

// RowTransaction is the row a transaction was created for, captured at
// submission time. The row may be stale by the time the write completes;
// resolve the current one with RowForTransaction.
type RowTransaction struct {
	Row         int
	Transaction Transaction
}

// IsNull reports whether no transaction was created.
func (rt RowTransaction) IsNull() bool {
	return rt.Transaction.IsNull()
}

// RowTask is the row a task was started for, captured at submission time.
type RowTask struct {
	Row  int
	Task Task
}

// IsNull reports whether no task was started.
func (rt RowTask) IsNull() bool {
	return rt.Task.IsNull()
}

// idGenerator hands out strictly increasing ids. After the largest
// representable id it starts again at 1; zero is never returned.
type idGenerator struct {
	last uint32
}

func (g *idGenerator) next() uint32 {
	g.last++
	if g.last == 0 {
		g.last = 1
	}
	return g.last
}
