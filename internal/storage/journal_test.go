package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/rowcache/internal/model"
)

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items", "journal.jsonl")
	j := NewJournal(path)

	t.Run("missing file reads empty", func(t *testing.T) {
		entries, err := j.ReadAll()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	first := NewBatch()
	second := NewBatch()
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	now := time.Now().UTC()
	rec := &model.Record{ID: "it-aaaaaa", Fields: map[string]interface{}{"name": "a"}}

	require.NoError(t, j.Append(
		JournalEntry{Batch: first, Op: JournalInsert, ID: rec.ID, Record: rec, At: now, Actor: "alice"},
		JournalEntry{Batch: first, Op: JournalDelete, ID: "it-bbbbbb", At: now, Actor: "alice"},
	))
	require.NoError(t, j.Append(JournalEntry{Batch: second, Op: JournalUpdate, ID: rec.ID, Record: rec, At: now, Actor: "bob"}))
	require.NoError(t, j.Append())

	t.Run("read all in order", func(t *testing.T) {
		entries, err := j.ReadAll()
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, JournalInsert, entries[0].Op)
		assert.Equal(t, "a", entries[0].Record.Fields["name"])
		assert.Nil(t, entries[1].Record)
		assert.Equal(t, "bob", entries[2].Actor)
		assert.True(t, now.Equal(entries[2].At))
	})

	t.Run("read batch", func(t *testing.T) {
		entries, err := j.ReadBatch(first)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("corrupt line", func(t *testing.T) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString("{not json\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = j.ReadAll()
		assert.ErrorContains(t, err, "line 4")
	})
}
