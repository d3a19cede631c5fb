package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/storage"
)

var (
	listLimit   int
	listOffset  int
	listOrderBy string
	listDesc    bool
	listColumns string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the records of a table",
	Long: `Load records of the table into the cache and print them.

  --limit N          Limit results to N records (default: fetch.limit)
  --offset N         Skip first N records
  --order-by FIELD   Sort by column, _id, _created_at or _updated_at
  --desc             Sort descending
  --columns COLS     Select specific columns (comma-separated)

Examples:
  rowcache list
  rowcache list --table parts --limit 10 --order-by name
  rowcache list --columns "name,qty" --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Limit results to N records (0 = fetch.limit)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Skip first N records")
	listCmd.Flags().StringVar(&listOrderBy, "order-by", "", "Sort by field (default: insertion order)")
	listCmd.Flags().BoolVar(&listDesc, "desc", false, "Sort descending")
	listCmd.Flags().StringVar(&listColumns, "columns", "", "Select specific columns (comma-separated)")
	rootCmd.AddCommand(listCmd)
}

// splitColumns parses a comma-separated column selection.
func splitColumns(s string) []string {
	var cols []string
	for _, col := range strings.Split(s, ",") {
		if col = strings.TrimSpace(col); col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := openTable()
	if err != nil {
		return err
	}
	defer env.Close()

	columns := env.table.Columns.Names()
	if listColumns != "" {
		columns = splitColumns(listColumns)
		for _, col := range columns {
			if !env.table.Columns.Exists(col) {
				return fmt.Errorf("%w: %s", model.ErrColumnNotFound, col)
			}
		}
	}

	opts := storage.FetchOptions{
		Limit:      listLimit,
		Offset:     listOffset,
		OrderBy:    listOrderBy,
		Descending: listDesc,
	}
	if opts.Limit == 0 {
		opts.Limit = cfg.Fetch.Limit
	}

	s := env.newSynchronizer(nil)
	defer s.Close()

	if err := s.Fetch(cmd.Context(), opts); err != nil {
		return err
	}
	if err := s.Drain(cmd.Context()); err != nil {
		return err
	}
	if err := s.FetchErr(); err != nil {
		return fmt.Errorf("failed to fetch records: %w", err)
	}
	records := s.Cache().Records()

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		if records == nil {
			records = []*model.Record{}
		}
		return printJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	headers := append([]string{"ID"}, columns...)
	headers = append(headers, "Updated")
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := []string{rec.ID}
		for _, col := range columns {
			v, _ := rec.GetField(col)
			row = append(row, formatValue(v))
		}
		row = append(row, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
		rows = append(rows, row)
	}
	printTable(out, headers, rows)
	fmt.Fprintf(out, "\nTotal: %d record(s)\n", len(records))
	return nil
}
