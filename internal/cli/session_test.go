package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcctx "github.com/user/rowcache/internal/context"
	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/storage"
	"github.com/user/rowcache/internal/syncer"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []token
	}{
		{"words", "set 0 name bolt", []token{{text: "set"}, {text: "0"}, {text: "name"}, {text: "bolt"}}},
		{"extra spaces", "  show \t 1 ", []token{{text: "show"}, {text: "1"}}},
		{"double quotes", `set 0 name "hex bolt"`, []token{{text: "set"}, {text: "0"}, {text: "name"}, {text: "hex bolt", quoted: true}}},
		{"single quotes", `set 0 qty '12'`, []token{{text: "set"}, {text: "0"}, {text: "qty"}, {text: "12", quoted: true}}},
		{"escape", `append name="say \"hi\""`, []token{{text: "append"}, {text: `name=say "hi"`, quoted: true}}},
		{"empty quotes", `set 0 name ""`, []token{{text: "set"}, {text: "0"}, {text: "name"}, {text: "", quoted: true}}},
		{"blank", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tokenize(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unterminated quote", func(t *testing.T) {
		_, err := tokenize(`set 0 name "bolt`)
		assert.ErrorIs(t, err, ErrInvalidArgs)
	})
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(12), parseValue(token{text: "12"}))
	assert.Equal(t, true, parseValue(token{text: "true"}))
	assert.Nil(t, parseValue(token{text: "null"}))
	assert.Equal(t, []interface{}{"a", float64(1)}, parseValue(token{text: `["a",1]`}))
	assert.Equal(t, "12", parseValue(token{text: "12", quoted: true}))
	assert.Equal(t, "bolt", parseValue(token{text: "bolt"}))
}

// newTestSession opens a fresh "parts" table with columns name and qty
// and loads it into a session writing to out.
func newTestSession(t *testing.T, out *bytes.Buffer) (*Session, *storage.Store) {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateTable(&model.Table{
		Name:    "parts",
		Prefix:  "pt-",
		Columns: model.ColumnList{{Name: "name"}, {Name: "qty"}},
	}))
	return openTestSession(t, store, out), store
}

// openTestSession loads the "parts" table of store into a new session.
func openTestSession(t *testing.T, store *storage.Store, out *bytes.Buffer) *Session {
	t.Helper()

	ctx := &rcctx.Context{Actor: "tester", DataDir: store.BaseDir(), Table: "parts"}
	env, err := newTableEnv(store, ctx, "parts")
	require.NoError(t, err)

	s := env.newSynchronizer(nil)
	t.Cleanup(func() { s.Close() })

	session := NewSession(s, env.table, ctx.Actor, storage.FetchOptions{OrderBy: "name"}, out)
	require.NoError(t, session.Load(context.Background()))
	return session
}

func execAll(t *testing.T, s *Session, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.NoError(t, s.Exec(context.Background(), line), line)
	}
}

func TestSession_Transcript(t *testing.T) {
	var out bytes.Buffer
	s, _ := newTestSession(t, &out)

	for _, line := range []string{
		"append name=bolt qty=10",
		"append name=nut qty=5",
		"insert 1 name=washer",
		"set 0 qty 12",
		"rm 2",
		"show",
		"status",
		"pending",
		"revert 1",
		"show 1",
	} {
		out.WriteString("> " + line + "\n")
		require.NoError(t, s.Exec(context.Background(), line), line)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "session_transcript", out.Bytes())
}

func TestSession_SyncAndReload(t *testing.T) {
	var out bytes.Buffer
	s, store := newTestSession(t, &out)
	ctx := context.Background()

	execAll(t, s, "append name=bolt qty=10", "append name=nut qty=5", "sync")
	assert.Contains(t, out.String(), "synced 2 change(s), 0 failed")
	assert.False(t, s.cache.HasPendingOperations())
	for _, rec := range s.cache.Records() {
		assert.Regexp(t, `^pt-`, rec.ID)
	}

	execAll(t, s, "set 0 qty 12", "rm 1", "sync")
	assert.Contains(t, out.String(), "synced 2 change(s), 0 failed")
	require.Equal(t, 1, s.cache.Len())

	out.Reset()
	execAll(t, s, "reload")
	assert.Equal(t, "loaded 1 row(s)\n", out.String())
	rec := s.cache.RecordAt(0)
	v, _ := rec.GetField("qty")
	assert.Equal(t, float64(12), v)

	entries, err := store.Journal("parts").ReadAll()
	require.NoError(t, err)
	var ops []string
	for _, e := range entries {
		ops = append(ops, e.Op)
		assert.Equal(t, "tester", e.Actor)
	}
	assert.ElementsMatch(t, []string{"insert", "insert", "update", "delete"}, ops)

	t.Run("reload refuses pending changes", func(t *testing.T) {
		execAll(t, s, "set 0 name washer")
		err := s.Exec(ctx, "reload")
		assert.ErrorIs(t, err, syncer.ErrPendingChanges)
		execAll(t, s, "revert all")
		assert.False(t, s.cache.HasPendingOperations())
	})
}

func TestSession_Conflict(t *testing.T) {
	var outA, outB bytes.Buffer
	a, store := newTestSession(t, &outA)
	execAll(t, a, "append name=bolt qty=10", "sync")

	b := openTestSession(t, store, &outB)
	require.NoError(t, a.Exec(context.Background(), "reload"))
	execAll(t, b, "set 0 qty 1", "sync")

	execAll(t, a, "set 0 qty 2")
	err := a.Exec(context.Background(), "sync")
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Contains(t, outA.String(), "synced 1 change(s), 1 failed")
	assert.Equal(t, []int{0}, a.cache.FailedRows())

	// The stored value is the one written first
	outB.Reset()
	execAll(t, b, "reload", "show")
	assert.Contains(t, outB.String(), "bolt  1")
}

func TestSession_Errors(t *testing.T) {
	var out bytes.Buffer
	s, _ := newTestSession(t, &out)
	ctx := context.Background()
	execAll(t, s, "append name=bolt")

	tests := []struct {
		line string
		want error
	}{
		{"frobnicate", ErrInvalidArgs},
		{"set 5 name x", ErrInvalidArgs},
		{"set x name y", ErrInvalidArgs},
		{"set 0 color red", model.ErrColumnNotFound},
		{"set 0 name", ErrInvalidArgs},
		{"insert 3", ErrInvalidArgs},
		{"append color=red", model.ErrColumnNotFound},
		{"append name", ErrInvalidArgs},
		{"rm 0 0", ErrInvalidArgs},
		{"rm 0 2", ErrInvalidArgs},
		{"status now", ErrInvalidArgs},
		{`show "1`, ErrInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.ErrorIs(t, s.Exec(ctx, tt.line), tt.want)
		})
	}

	t.Run("refresh needs a stored row", func(t *testing.T) {
		assert.Error(t, s.Exec(ctx, "refresh 0"))
	})

	t.Run("comments and blank lines", func(t *testing.T) {
		assert.NoError(t, s.Exec(ctx, "# nothing"))
		assert.NoError(t, s.Exec(ctx, "   "))
	})

	t.Run("quit", func(t *testing.T) {
		assert.ErrorIs(t, s.Exec(ctx, "quit"), errQuit)
	})
}

func TestSession_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("reports errors and continues", func(t *testing.T) {
		var out bytes.Buffer
		s, _ := newTestSession(t, &out)
		in := bytes.NewBufferString("set 3 name x\nappend name=bolt\nquit\nappend name=nut\n")

		require.NoError(t, s.Run(ctx, in, "", false))
		assert.Contains(t, out.String(), "error: invalid arguments: row 3 out of range [0,0)")
		assert.Equal(t, 1, s.cache.Len())
	})

	t.Run("stops on error", func(t *testing.T) {
		var out bytes.Buffer
		s, _ := newTestSession(t, &out)
		in := bytes.NewBufferString("append name=bolt\nset 3 name x\nappend name=nut\n")

		err := s.Run(ctx, in, "", true)
		require.ErrorIs(t, err, ErrInvalidArgs)
		assert.Contains(t, err.Error(), "line 2:")
		assert.Equal(t, 1, s.cache.Len())
	})

	t.Run("prompt", func(t *testing.T) {
		var out bytes.Buffer
		s, _ := newTestSession(t, &out)

		require.NoError(t, s.Run(ctx, bytes.NewBufferString("help\n"), "rc> ", false))
		assert.Equal(t, "rc> "+sessionHelp+"rc> ", out.String())
	})
}

func TestSession_RefreshStoredRow(t *testing.T) {
	var out bytes.Buffer
	s, store := newTestSession(t, &out)
	execAll(t, s, "append name=bolt qty=10", "sync")

	other := openTestSession(t, store, &bytes.Buffer{})
	execAll(t, other, "set 0 qty 11", "sync")

	execAll(t, s, "refresh 0")
	v, _ := s.cache.RecordAt(0).GetField("qty")
	assert.Equal(t, float64(11), v)
	assert.Equal(t, 0, s.cache.PendingTasks())
}

func TestSession_EditsWaitForOpenBatch(t *testing.T) {
	var out bytes.Buffer
	s, _ := newTestSession(t, &out)
	ctx := context.Background()
	execAll(t, s, "append name=bolt qty=10", "sync")

	// Results are only applied by wait, so the batch stays open until then
	execAll(t, s, "set 0 qty 11", "push")
	assert.ErrorIs(t, s.Exec(ctx, "set 0 qty 12"), syncer.ErrRowBusy)
	assert.ErrorIs(t, s.Exec(ctx, "rm 0"), syncer.ErrRowBusy)

	execAll(t, s, "wait", "set 0 qty 12", "sync", "reload")
	v, _ := s.cache.RecordAt(0).GetField("qty")
	assert.Equal(t, float64(12), v)
	assert.False(t, s.cache.HasPendingOperations())
}
