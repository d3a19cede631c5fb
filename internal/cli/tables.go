package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables of the data directory",
	Long: `List every table with its prefix, columns and number of records.

Examples:
  rowcache tables
  rowcache tables --json`,
	Args: cobra.NoArgs,
	RunE: runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}

// tableInfo is the JSON form of a row of the tables listing.
type tableInfo struct {
	Name    string   `json:"name"`
	Prefix  string   `json:"prefix"`
	Columns []string `json:"columns"`
	Records int      `json:"records"`
}

func runTables(cmd *cobra.Command, args []string) error {
	store, ctx, err := openStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	tables, err := store.ListTables()
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	infos := make([]tableInfo, 0, len(tables))
	for _, t := range tables {
		backend, err := store.Table(t.Name, ctx.Actor)
		if err != nil {
			return err
		}
		count, err := backend.Count(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		infos = append(infos, tableInfo{
			Name:    t.Name,
			Prefix:  t.Prefix,
			Columns: t.Columns.Names(),
			Records: count,
		})
	}

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No tables found.")
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{info.Name, info.Prefix, strconv.Itoa(len(info.Columns)), strconv.Itoa(info.Records)})
	}
	printTable(out, []string{"Name", "Prefix", "Columns", "Records"}, rows)
	return nil
}
