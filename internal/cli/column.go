package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/rowcache/internal/model"
)

var columnDesc string

var columnCmd = &cobra.Command{
	Use:     "column",
	Aliases: []string{"col"},
	Short:   "Manage table columns",
	Long: `Manage the columns of a table.

Column names must:
  - Start with a letter
  - Contain only letters, numbers, and underscores
  - Be at most 64 characters
  - Not be a reserved name (_id, _hash, etc.)

Examples:
  rowcache column add color
  rowcache column add color weight --table parts
  rowcache column add price --desc "Price in USD"
  rowcache column list --json`,
}

var columnAddCmd = &cobra.Command{
	Use:   "add <name> [name...]",
	Short: "Add one or more columns to the table",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runColumnAdd,
}

var columnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the columns of the table",
	Args:  cobra.NoArgs,
	RunE:  runColumnList,
}

func init() {
	columnAddCmd.Flags().StringVar(&columnDesc, "desc", "", "Description for the column(s)")
	columnCmd.AddCommand(columnAddCmd)
	columnCmd.AddCommand(columnListCmd)
	rootCmd.AddCommand(columnCmd)
}

func runColumnAdd(cmd *cobra.Command, args []string) error {
	env, err := openTable()
	if err != nil {
		return err
	}
	defer env.Close()

	// Validate all names before touching the table
	seen := make(map[string]bool)
	for _, name := range args {
		if err := model.ValidateColumnName(name); err != nil {
			return fmt.Errorf("%w: %s", err, name)
		}
		if env.table.Columns.Exists(name) || seen[name] {
			return fmt.Errorf("%w: %s", model.ErrColumnExists, name)
		}
		seen[name] = true
	}

	now := time.Now()
	for _, name := range args {
		col := model.Column{Name: name, Desc: columnDesc, Added: now, AddedBy: env.ctx.Actor}
		if err := env.store.AddColumn(env.table.Name, col); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, map[string]interface{}{
			"table": env.table.Name,
			"added": args,
		})
	}
	if !IsQuiet() {
		for _, name := range args {
			fmt.Fprintf(out, "Added column '%s' to '%s'\n", name, env.table.Name)
		}
	}
	return nil
}

func runColumnList(cmd *cobra.Command, args []string) error {
	env, err := openTable()
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, env.table.Columns)
	}
	if len(env.table.Columns) == 0 {
		fmt.Fprintln(out, "No columns defined.")
		return nil
	}

	rows := make([][]string, 0, len(env.table.Columns))
	for _, col := range env.table.Columns {
		rows = append(rows, []string{col.Name, col.Desc, col.AddedBy, col.Added.Format("2006-01-02 15:04:05")})
	}
	printTable(out, []string{"Name", "Description", "Added by", "Added"}, rows)
	return nil
}
