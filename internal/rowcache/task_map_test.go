package rowcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskMap_BeginRowTask(t *testing.T) {
	m := NewTaskMap()

	a := m.BeginRowTask(2)
	b := m.BeginRowTask(5)
	require.False(t, a.IsNull())
	assert.Equal(t, 2, a.Row)
	assert.Greater(t, b.Task, a.Task)

	assert.Equal(t, 2, m.RowForTask(a.Task))
	assert.Equal(t, 5, m.RowForTask(b.Task))
	assert.Equal(t, a.Task, m.TaskForRow(2))
	assert.True(t, m.IsTaskPendingForRow(2))
	assert.False(t, m.IsTaskFailedForRow(2))
	assert.Equal(t, 2, m.Len())

	t.Run("duplicate task panics", func(t *testing.T) {
		assert.Panics(t, func() { m.BeginRowTask(2) })
	})

	t.Run("negative row panics", func(t *testing.T) {
		assert.Panics(t, func() { m.BeginRowTask(-1) })
	})
}

func TestTaskMap_DoneAndFailed(t *testing.T) {
	m := NewTaskMap()
	a := m.BeginRowTask(1)
	b := m.BeginRowTask(3)

	m.SetTaskFailedForRow(1)
	assert.True(t, m.HasTask(1))
	assert.True(t, m.IsTaskFailedForRow(1))
	assert.False(t, m.IsTaskPendingForRow(1))
	assert.Equal(t, 1, m.RowForTask(a.Task))

	m.SetTaskDoneForRow(3)
	assert.False(t, m.HasTask(3))
	assert.Equal(t, -1, m.RowForTask(b.Task))
	assert.True(t, m.TaskForRow(3).IsNull())

	assert.Panics(t, func() { m.SetTaskDoneForRow(3) })
	assert.Panics(t, func() { m.SetTaskFailedForRow(8) })
}

func TestTaskMap_ShiftRows(t *testing.T) {
	build := func() (*TaskMap, []RowTask) {
		m := NewTaskMap()
		var tasks []RowTask
		for _, row := range []int{0, 3, 6} {
			tasks = append(tasks, m.BeginRowTask(row))
		}
		return m, tasks
	}

	t.Run("insert", func(t *testing.T) {
		m, tasks := build()
		m.ShiftRows(3, 2)
		assert.Equal(t, 0, m.RowForTask(tasks[0].Task))
		assert.Equal(t, 5, m.RowForTask(tasks[1].Task))
		assert.Equal(t, 8, m.RowForTask(tasks[2].Task))
		assert.True(t, m.HasTask(5))
		assert.False(t, m.HasTask(3))
	})

	t.Run("remove", func(t *testing.T) {
		m, tasks := build()
		m.RemoveTasksInRange(2, 2)
		m.ShiftRows(2, -2)
		assert.Equal(t, 0, m.RowForTask(tasks[0].Task))
		assert.Equal(t, -1, m.RowForTask(tasks[1].Task))
		assert.Equal(t, 4, m.RowForTask(tasks[2].Task))
	})

	t.Run("round trip", func(t *testing.T) {
		m, tasks := build()
		m.ShiftRows(1, 4)
		m.ShiftRows(1, -4)
		for _, rt := range tasks {
			assert.Equal(t, rt.Row, m.RowForTask(rt.Task))
		}
	})

	t.Run("collision panics", func(t *testing.T) {
		m, _ := build()
		assert.Panics(t, func() { m.ShiftRows(2, -3) })
	})
}

func TestTaskMap_Clear(t *testing.T) {
	m := NewTaskMap()
	rt := m.BeginRowTask(0)
	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, -1, m.RowForTask(rt.Task))

	// Ids keep increasing after a clear
	next := m.BeginRowTask(0)
	assert.Greater(t, next.Task, rt.Task)
}
