package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rowcache/internal/config"
	rcctx "github.com/user/rowcache/internal/context"
	"github.com/user/rowcache/internal/model"
)

// result holds the output of one command run.
type result struct {
	stdout string
	stderr string
	err    error
}

// resetFlags restores every flag variable, since cobra keeps values
// between executions of the same command tree.
func resetFlags() {
	jsonOutput, configPath, dataDirFlag, tableName, actorName = false, "", "", "", ""
	quiet, verbose = false, false
	cfg = config.Default()

	initPrefix, initColumns, initSchema = "", nil, ""
	columnDesc = ""
	listLimit, listOffset, listOrderBy, listDesc, listColumns = 0, 0, "", false, ""
	journalBy, journalBatch, journalSince, journalLimit = "", "", "", 0
	dropYes = false
	editScript, editSync, editKeepGoing, editLimit, editOrderBy = "", false, false, 0, ""
	watchMetricsAddr, watchDebounce = "", 0
}

// runCLI executes rowcache with args, feeding stdin to the command.
func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	resetFlags()

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))

	err := rootCmd.Execute()
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// mustRun executes rowcache and fails the test on error.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	r := runCLI(t, "", args...)
	require.NoError(t, r.err, "rowcache %v\nstdout: %s\nstderr: %s", args, r.stdout, r.stderr)
	return r.stdout
}

// setupWorkspace moves the test into an empty directory with a fixed
// actor and a single sync worker.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ROWCACHE_ACTOR", "tester")
	t.Setenv("ROWCACHE_TABLE", "")
	t.Setenv("ROWCACHE_SYNC_WORKERS", "1")
	return dir
}

// setupTable creates the "parts" table with columns name and qty.
func setupTable(t *testing.T) string {
	t.Helper()
	dir := setupWorkspace(t)
	mustRun(t, "init", "parts", "--prefix", "pt-", "--column", "name", "--column", "qty")
	return dir
}

func listRecords(t *testing.T, args ...string) []map[string]interface{} {
	t.Helper()
	out := mustRun(t, append([]string{"list", "--json", "--order-by", "name"}, args...)...)
	var records []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &records), out)
	return records
}

func TestInit(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		dir := setupWorkspace(t)

		out := mustRun(t, "init", "parts", "--prefix", "pt-", "--column", "name", "--column", "qty")
		assert.Equal(t, "Created table 'parts' with prefix 'pt-'\n  columns: [name qty]\n", out)
		assert.FileExists(t, filepath.Join(dir, rcctx.DataDirName, "parts", "config.json"))
	})

	t.Run("schema file", func(t *testing.T) {
		setupWorkspace(t)
		schema := "name: parts\nprefix: pt-\ncolumns:\n  - name: name\n    desc: Part name\n  - name: qty\n"
		require.NoError(t, os.WriteFile("parts.yaml", []byte(schema), 0644))

		out := mustRun(t, "init", "--schema", "parts.yaml", "--column", "color", "--json")
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "parts", got["name"])
		assert.Equal(t, "pt-", got["prefix"])
		assert.Equal(t, []interface{}{"name", "qty", "color"}, got["columns"])
		assert.Equal(t, "tester", got["created_by"])

		out = mustRun(t, "column", "list")
		assert.Contains(t, out, "Part name")
	})

	t.Run("validation", func(t *testing.T) {
		setupWorkspace(t)

		r := runCLI(t, "", "init", "parts")
		assert.ErrorIs(t, r.err, ErrInvalidArgs)

		r = runCLI(t, "", "init", "parts", "--prefix", "PARTS")
		code, errCode := classifyError(r.err)
		assert.Equal(t, ExitValidation, code)
		assert.Equal(t, ErrCodeValidation, errCode)

		r = runCLI(t, "", "init", "parts", "--prefix", "pt-", "--column", "_id")
		code, _ = classifyError(r.err)
		assert.Equal(t, ExitValidation, code)
	})

	t.Run("duplicate", func(t *testing.T) {
		setupTable(t)
		r := runCLI(t, "", "init", "parts", "--prefix", "pt-")
		assert.ErrorIs(t, r.err, model.ErrTableExists)
	})
}

func TestColumn(t *testing.T) {
	setupTable(t)

	out := mustRun(t, "column", "add", "color", "weight", "--desc", "Physical")
	assert.Equal(t, "Added column 'color' to 'parts'\nAdded column 'weight' to 'parts'\n", out)

	out = mustRun(t, "column", "list", "--json")
	var cols []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &cols))
	require.Len(t, cols, 4)
	assert.Equal(t, "weight", cols[3]["name"])
	assert.Equal(t, "Physical", cols[3]["desc"])
	assert.Equal(t, "tester", cols[3]["added_by"])

	t.Run("existing", func(t *testing.T) {
		r := runCLI(t, "", "column", "add", "Color")
		assert.ErrorIs(t, r.err, model.ErrColumnExists)
	})

	t.Run("repeated in one call", func(t *testing.T) {
		r := runCLI(t, "", "column", "add", "size", "size")
		assert.ErrorIs(t, r.err, model.ErrColumnExists)
		assert.NotContains(t, mustRun(t, "column", "list"), "size")
	})

	t.Run("unknown table", func(t *testing.T) {
		r := runCLI(t, "", "column", "list", "--table", "bins")
		assert.ErrorIs(t, r.err, model.ErrTableNotFound)
	})
}

func TestEditAndList(t *testing.T) {
	setupTable(t)

	r := runCLI(t, "append name=bolt qty=10\nappend name=nut qty=5\n", "edit", "--sync")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "synced 2 change(s), 0 failed")

	records := listRecords(t)
	require.Len(t, records, 2)
	assert.Equal(t, "bolt", records[0]["name"])
	assert.Equal(t, float64(10), records[0]["qty"])
	assert.Equal(t, "tester", records[0]["_created_by"])
	assert.Regexp(t, `^pt-`, records[0]["_id"])
	boltID := records[0]["_id"].(string)

	r = runCLI(t, "set 0 qty 12\nrm 1\n", "edit", "--order-by", "name", "--sync")
	require.NoError(t, r.err, r.stderr)

	records = listRecords(t)
	require.Len(t, records, 1)
	assert.Equal(t, float64(12), records[0]["qty"])

	t.Run("text output", func(t *testing.T) {
		out := mustRun(t, "list", "--columns", "name")
		assert.Contains(t, out, boltID)
		assert.Contains(t, out, "Total: 1 record(s)")
		header := strings.SplitN(out, "\n", 2)[0]
		assert.NotContains(t, header, "qty")
	})

	t.Run("unknown column", func(t *testing.T) {
		r := runCLI(t, "", "list", "--columns", "color")
		assert.ErrorIs(t, r.err, model.ErrColumnNotFound)
	})

	t.Run("journal", func(t *testing.T) {
		out := mustRun(t, "journal", "--json")
		var entries []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		require.Len(t, entries, 4)
		assert.Contains(t, []interface{}{"update", "delete"}, entries[0]["op"])
		assert.Equal(t, "insert", entries[3]["op"])

		out = mustRun(t, "journal", boltID, "--json")
		entries = nil
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, "update", entries[0]["op"])
		assert.Equal(t, "insert", entries[1]["op"])

		batch := entries[0]["batch"].(string)
		out = mustRun(t, "journal", "--batch", batch[:8], "--json")
		entries = nil
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		assert.Len(t, entries, 2)

		out = mustRun(t, "journal", "--by", "someone-else")
		assert.Equal(t, "No changes found.\n", out)

		out = mustRun(t, "history", "--limit", "1")
		assert.Contains(t, out, "1 change(s)")
	})

	t.Run("tables", func(t *testing.T) {
		out := mustRun(t, "tables", "--json")
		var infos []tableInfo
		require.NoError(t, json.Unmarshal([]byte(out), &infos))
		assert.Equal(t, []tableInfo{{Name: "parts", Prefix: "pt-", Columns: []string{"name", "qty"}, Records: 1}}, infos)
	})
}

func TestEditScript(t *testing.T) {
	setupTable(t)
	require.NoError(t, os.WriteFile("changes.txt", []byte("append name=bolt\nset 4 name x\nappend name=nut\n"), 0644))

	t.Run("stops at the first error", func(t *testing.T) {
		r := runCLI(t, "", "edit", "--script", "changes.txt", "--sync")
		require.ErrorIs(t, r.err, ErrInvalidArgs)
		assert.Contains(t, r.err.Error(), "line 2:")
		assert.Empty(t, listRecords(t))
	})

	t.Run("keep going", func(t *testing.T) {
		r := runCLI(t, "", "edit", "--script", "changes.txt", "--keep-going")
		require.NoError(t, r.err)
		assert.Contains(t, r.stdout, "error: invalid arguments: row 4 out of range [0,1)")
		assert.Equal(t, "Discarding 2 unsynchronized change(s)\n", r.stderr)
		assert.Empty(t, listRecords(t))
	})

	t.Run("script from stdin", func(t *testing.T) {
		r := runCLI(t, "append name=bolt\nsync\n", "edit", "--script", "-")
		require.NoError(t, r.err)
		assert.Len(t, listRecords(t), 1)
	})
}

func TestDrop(t *testing.T) {
	setupTable(t)

	r := runCLI(t, "n\n", "drop", "parts")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Aborted.")
	assert.Contains(t, mustRun(t, "tables"), "parts")

	r = runCLI(t, "yes\n", "drop", "parts")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Deleted table 'parts'")
	assert.Equal(t, "No tables found.\n", mustRun(t, "tables"))

	r = runCLI(t, "", "drop", "parts", "--yes")
	assert.ErrorIs(t, r.err, model.ErrTableNotFound)
}

func TestTableResolution(t *testing.T) {
	t.Run("no data directory", func(t *testing.T) {
		setupWorkspace(t)
		r := runCLI(t, "", "list")
		assert.ErrorIs(t, r.err, rcctx.ErrNoDataDir)

		r = runCLI(t, "", "tables")
		assert.ErrorIs(t, r.err, rcctx.ErrNoDataDir)
		assert.NoDirExists(t, rcctx.DataDirName)
	})

	t.Run("several tables need --table", func(t *testing.T) {
		setupTable(t)
		mustRun(t, "init", "bins", "--prefix", "bn-", "--column", "label")

		r := runCLI(t, "", "column", "list")
		assert.ErrorIs(t, r.err, rcctx.ErrNoTable)

		out := mustRun(t, "column", "list", "--table", "bins")
		assert.Contains(t, out, "label")

		t.Setenv("ROWCACHE_TABLE", "bins")
		out = mustRun(t, "column", "list")
		assert.Contains(t, out, "label")
	})

	t.Run("found from a subdirectory", func(t *testing.T) {
		dir := setupTable(t)
		sub := filepath.Join(dir, "a", "b")
		require.NoError(t, os.MkdirAll(sub, 0755))
		t.Chdir(sub)

		out := mustRun(t, "column", "list")
		assert.Contains(t, out, "qty")
	})

	t.Run("explicit data directory", func(t *testing.T) {
		dir := setupWorkspace(t)
		data := filepath.Join(dir, "elsewhere")
		mustRun(t, "init", "parts", "--prefix", "pt-", "--data-dir", data)
		assert.DirExists(t, filepath.Join(data, "parts"))

		r := runCLI(t, "", "tables")
		assert.ErrorIs(t, r.err, rcctx.ErrNoDataDir)
		assert.Contains(t, mustRun(t, "tables", "--data-dir", data), "parts")
	})
}

func TestVersion(t *testing.T) {
	setupWorkspace(t)
	assert.Contains(t, mustRun(t, "version"), "rowcache version")
}
