package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/rowcache/internal/storage"
)

var (
	journalBy    string
	journalBatch string
	journalSince string
	journalLimit int
)

var journalCmd = &cobra.Command{
	Use:     "journal [id]",
	Aliases: []string{"history"},
	Short:   "Show synchronized changes",
	Long: `Display the journal of changes written to a table.

Without an ID, shows all recent changes. With an ID, shows only changes
for that specific record.

Options:
  --by <actor>     Filter by actor (who made the change)
  --batch <id>     Show only one sync batch (a prefix is enough)
  --since <dur>    Filter by time (e.g., 24h, 7d, 1w)
  --limit <n>      Limit to N most recent changes

Examples:
  rowcache journal
  rowcache journal pt-0a1b2c
  rowcache journal --since 24h --by alice
  rowcache journal --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().StringVar(&journalBy, "by", "", "Filter by actor")
	journalCmd.Flags().StringVar(&journalBatch, "batch", "", "Filter by batch")
	journalCmd.Flags().StringVar(&journalSince, "since", "", "Filter by time (e.g., 24h, 7d)")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 0, "Limit results (0 = no limit)")
	rootCmd.AddCommand(journalCmd)
}

// parseDuration parses duration strings like "24h", "7d", "1w"
func parseDuration(s string) (time.Duration, error) {
	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}

	var n int
	if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &n); err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid duration %q", ErrInvalidArgs, s)
	}
	return time.Duration(n) * unit, nil
}

// filterJournal applies the command's filters and returns the entries
// newest first.
func filterJournal(entries []storage.JournalEntry, recordID string, cutoff time.Time) []storage.JournalEntry {
	out := make([]storage.JournalEntry, 0, len(entries))
	for _, e := range entries {
		if recordID != "" && e.ID != recordID {
			continue
		}
		if journalBy != "" && e.Actor != journalBy {
			continue
		}
		if journalBatch != "" && !strings.HasPrefix(e.Batch, journalBatch) {
			continue
		}
		if !cutoff.IsZero() && e.At.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}

	// Entries are appended in time order
	slices.Reverse(out)
	if journalLimit > 0 && len(out) > journalLimit {
		out = out[:journalLimit]
	}
	return out
}

// shortBatch returns the leading part of a batch id, enough to tell
// batches apart and to pass to --batch.
func shortBatch(batch string) string {
	if len(batch) > 8 {
		return batch[:8]
	}
	return batch
}

func runJournal(cmd *cobra.Command, args []string) error {
	var recordID string
	if len(args) > 0 {
		recordID = args[0]
	}

	var cutoff time.Time
	if journalSince != "" {
		d, err := parseDuration(journalSince)
		if err != nil {
			return fmt.Errorf("%w: invalid duration %q", ErrInvalidArgs, journalSince)
		}
		cutoff = time.Now().Add(-d)
	}

	env, err := openTable()
	if err != nil {
		return err
	}
	defer env.Close()

	all, err := env.store.Journal(env.table.Name).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	entries := filterJournal(all, recordID, cutoff)

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No changes found.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.At.Local().Format("2006-01-02 15:04:05"),
			e.Op,
			e.ID,
			e.Actor,
			shortBatch(e.Batch),
		})
	}
	printTable(out, []string{"Timestamp", "Op", "ID", "Actor", "Batch"}, rows)
	fmt.Fprintf(out, "\n%d change(s)\n", len(entries))
	return nil
}
