package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/rowcache/internal/model"
)

func newTestTable() *model.Table {
	return &model.Table{
		Name:      "test-items",
		Prefix:    "ti-",
		Created:   time.Now(),
		CreatedBy: "test-user",
		Columns: model.ColumnList{
			{Name: "name", Added: time.Now(), AddedBy: "test-user"},
			{Name: "qty", Added: time.Now(), AddedBy: "test-user"},
		},
	}
}

func openTestTable(t *testing.T) (*SQLiteDB, *SQLiteTable) {
	t.Helper()
	db, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tbl := newTestTable()
	require.NoError(t, db.CreateTable(tbl))
	return db, db.Table(tbl, "test-user")
}

func insertNames(t *testing.T, tbl *SQLiteTable, names ...string) []*model.Record {
	t.Helper()
	var out []*model.Record
	for _, n := range names {
		rec, err := tbl.Insert(context.Background(), &model.Record{Fields: map[string]interface{}{"name": n}})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func collect(t *testing.T, tbl *SQLiteTable, opts FetchOptions) []string {
	t.Helper()
	var names []string
	for rec, err := range tbl.Fetch(context.Background(), opts) {
		require.NoError(t, err)
		names = append(names, rec.Fields["name"].(string))
	}
	return names
}

func TestSQLiteDB_CreateTable(t *testing.T) {
	db, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	tbl := newTestTable()

	t.Run("create table with columns", func(t *testing.T) {
		require.NoError(t, db.CreateTable(tbl))

		exists, err := db.columnExists("test_items", "name")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = db.columnExists("test_items", "QTY")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("retrieve table config", func(t *testing.T) {
		got, err := db.GetTable("test-items")
		require.NoError(t, err)
		assert.Equal(t, "ti-", got.Prefix)
		assert.Len(t, got.Columns, 2)
	})

	t.Run("add column is idempotent", func(t *testing.T) {
		require.NoError(t, db.AddColumn("test-items", "note"))
		require.NoError(t, db.AddColumn("test-items", "note"))
		exists, err := db.columnExists("test_items", "note")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("drop table", func(t *testing.T) {
		require.NoError(t, db.DropTable("test-items"))
		_, err := db.GetTable("test-items")
		assert.ErrorIs(t, err, model.ErrTableNotFound)

		tables, err := db.ListTables()
		require.NoError(t, err)
		assert.Empty(t, tables)
	})
}

func TestSQLiteTable_Insert(t *testing.T) {
	ctx := context.Background()
	_, tbl := openTestTable(t)

	t.Run("assigns id and system fields", func(t *testing.T) {
		in := &model.Record{Fields: map[string]interface{}{"name": "bolt", "qty": 3}}
		rec, err := tbl.Insert(ctx, in)
		require.NoError(t, err)

		assert.NoError(t, model.ValidateID(rec.ID))
		assert.Equal(t, "ti-", rec.ID[:3])
		assert.Equal(t, "test-user", rec.CreatedBy)
		assert.Equal(t, "test-user", rec.UpdatedBy)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Equal(t, rec.CalculateHash(), rec.Hash)
		assert.Empty(t, in.ID, "input must not be modified")

		got, err := tbl.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "bolt", got.Fields["name"])
		assert.Equal(t, float64(3), got.Fields["qty"])
		assert.Equal(t, rec.Hash, got.Hash)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("keeps a valid caller id", func(t *testing.T) {
		rec, err := tbl.Insert(ctx, &model.Record{ID: "ti-abc123", Fields: map[string]interface{}{"name": "nut"}})
		require.NoError(t, err)
		assert.Equal(t, "ti-abc123", rec.ID)

		_, err = tbl.Insert(ctx, &model.Record{ID: "ti-abc123"})
		assert.ErrorIs(t, err, model.ErrRecordExists)
	})

	t.Run("rejects invalid id", func(t *testing.T) {
		_, err := tbl.Insert(ctx, &model.Record{ID: "bad"})
		assert.ErrorIs(t, err, model.ErrInvalidID)
	})

	t.Run("rejects unknown column", func(t *testing.T) {
		_, err := tbl.Insert(ctx, &model.Record{Fields: map[string]interface{}{"color": "red"}})
		assert.ErrorIs(t, err, model.ErrColumnNotFound)
	})

	t.Run("rejects nil", func(t *testing.T) {
		_, err := tbl.Insert(ctx, nil)
		assert.ErrorIs(t, err, model.ErrEmptyRecord)
	})
}

func TestSQLiteTable_Update(t *testing.T) {
	ctx := context.Background()
	_, tbl := openTestTable(t)
	recs := insertNames(t, tbl, "a")

	edited := recs[0].Clone()
	edited.Fields["name"] = "A"
	edited.CreatedBy = "someone-else"

	got, err := tbl.Update(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Fields["name"])
	assert.Equal(t, "test-user", got.CreatedBy, "created fields belong to storage")
	assert.NotEqual(t, recs[0].Hash, got.Hash)

	t.Run("missing record", func(t *testing.T) {
		_, err := tbl.Update(ctx, &model.Record{ID: "ti-zzzzzz"})
		assert.ErrorIs(t, err, model.ErrRecordNotFound)

		_, err = tbl.Update(ctx, &model.Record{})
		assert.ErrorIs(t, err, model.ErrRecordNotFound)
	})

	t.Run("stale hash is rejected", func(t *testing.T) {
		stale := recs[0].Clone()
		stale.Fields["name"] = "lost"
		_, err := tbl.Update(ctx, stale)
		assert.ErrorIs(t, err, model.ErrHashMismatch)

		back, err := tbl.Get(ctx, recs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "A", back.Fields["name"])
	})

	t.Run("cleared field reads back absent", func(t *testing.T) {
		cleared := got.Clone()
		delete(cleared.Fields, "name")
		_, err := tbl.Update(ctx, cleared)
		require.NoError(t, err)

		back, err := tbl.Get(ctx, got.ID)
		require.NoError(t, err)
		_, ok := back.Fields["name"]
		assert.False(t, ok)
	})
}

func TestSQLiteTable_Delete(t *testing.T) {
	ctx := context.Background()
	_, tbl := openTestTable(t)
	recs := insertNames(t, tbl, "a", "b")

	require.NoError(t, tbl.Delete(ctx, recs[0].ID))
	_, err := tbl.Get(ctx, recs[0].ID)
	assert.ErrorIs(t, err, model.ErrRecordNotFound)

	err = tbl.Delete(ctx, recs[0].ID)
	assert.ErrorIs(t, err, model.ErrRecordNotFound)

	n, err := tbl.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteTable_Fetch(t *testing.T) {
	_, tbl := openTestTable(t)
	insertNames(t, tbl, "c", "a", "d", "b")

	t.Run("insertion order", func(t *testing.T) {
		assert.Equal(t, []string{"c", "a", "d", "b"}, collect(t, tbl, FetchOptions{}))
	})

	t.Run("descending", func(t *testing.T) {
		assert.Equal(t, []string{"b", "d", "a", "c"}, collect(t, tbl, FetchOptions{Descending: true}))
	})

	t.Run("order by column", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b", "c", "d"}, collect(t, tbl, FetchOptions{OrderBy: "Name"}))
	})

	t.Run("limit and offset", func(t *testing.T) {
		assert.Equal(t, []string{"a", "d"}, collect(t, tbl, FetchOptions{Offset: 1, Limit: 2}))
		assert.Equal(t, []string{"d", "b"}, collect(t, tbl, FetchOptions{Offset: 2}))
	})

	t.Run("unknown order column", func(t *testing.T) {
		var got error
		for _, err := range tbl.Fetch(context.Background(), FetchOptions{OrderBy: "nope"}) {
			got = err
		}
		assert.ErrorIs(t, got, model.ErrColumnNotFound)
	})

	t.Run("stop early", func(t *testing.T) {
		n := 0
		for range tbl.Fetch(context.Background(), FetchOptions{}) {
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var got error
		for _, err := range tbl.Fetch(ctx, FetchOptions{}) {
			if err != nil {
				got = err
				break
			}
		}
		assert.ErrorIs(t, got, context.Canceled)
	})
}

func TestValueEncoding(t *testing.T) {
	enc, err := encodeValue("123")
	require.NoError(t, err)
	assert.Equal(t, "123", decodeValue(enc.(string)), "strings keep their type")

	enc, err = encodeValue(true)
	require.NoError(t, err)
	assert.Equal(t, true, decodeValue(enc.(string)))

	enc, err = encodeValue(nil)
	require.NoError(t, err)
	assert.Nil(t, enc)

	assert.Equal(t, "plain text", decodeValue("plain text"))
}
