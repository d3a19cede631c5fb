package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rowcache/internal/storage"
)

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"ID", "Name"}, [][]string{
		{"pt-1", "bolt"},
		{"pt-22", ""},
		{"pt-3", strings.Repeat("x", 50)},
	})

	want := "ID     Name\n" +
		"-----  ----------------------------------------\n" +
		"pt-1   bolt\n" +
		"pt-22\n" +
		"pt-3   " + strings.Repeat("x", 37) + "...\n"
	assert.Equal(t, want, buf.String())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", formatValue(nil))
	assert.Equal(t, "bolt", formatValue("bolt"))
	assert.Equal(t, "12", formatValue(float64(12)))
	assert.Equal(t, "1.5", formatValue(1.5))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, `["a",1]`, formatValue([]interface{}{"a", float64(1)}))
	assert.Equal(t, `{"k":"v"}`, formatValue(map[string]interface{}{"k": "v"}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"90m", 90 * time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseDuration("xd")
	assert.ErrorIs(t, err, ErrInvalidArgs)
	_, err = parseDuration("soon")
	assert.Error(t, err)
}

func TestFilterJournal(t *testing.T) {
	t.Cleanup(resetFlags)
	now := time.Now()
	entries := []storage.JournalEntry{
		{Batch: "aaaaaaaa-1", Op: "insert", ID: "pt-1", Actor: "alice", At: now.Add(-48 * time.Hour)},
		{Batch: "aaaaaaaa-1", Op: "insert", ID: "pt-2", Actor: "alice", At: now.Add(-48 * time.Hour)},
		{Batch: "bbbbbbbb-2", Op: "update", ID: "pt-1", Actor: "bob", At: now.Add(-time.Hour)},
		{Batch: "cccccccc-3", Op: "delete", ID: "pt-2", Actor: "alice", At: now},
	}
	ids := func(es []storage.JournalEntry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Op+" "+e.ID)
		}
		return out
	}

	resetFlags()
	assert.Equal(t, []string{"delete pt-2", "update pt-1", "insert pt-2", "insert pt-1"}, ids(filterJournal(entries, "", time.Time{})))
	assert.Equal(t, []string{"update pt-1", "insert pt-1"}, ids(filterJournal(entries, "pt-1", time.Time{})))
	assert.Equal(t, []string{"delete pt-2", "update pt-1"}, ids(filterJournal(entries, "", now.Add(-2*time.Hour))))

	journalBy = "alice"
	journalLimit = 2
	assert.Equal(t, []string{"delete pt-2", "insert pt-2"}, ids(filterJournal(entries, "", time.Time{})))

	resetFlags()
	journalBatch = "aaaa"
	assert.Equal(t, []string{"insert pt-2", "insert pt-1"}, ids(filterJournal(entries, "", time.Time{})))

	// Input order is left alone
	assert.Equal(t, "pt-1", entries[0].ID)
}

func TestShortBatch(t *testing.T) {
	assert.Equal(t, "0f8fad5b", shortBatch("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Equal(t, "abc", shortBatch("abc"))
}
