package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var dropYes bool

var dropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Delete a table and all its data",
	Long: `Permanently delete a table, its records, config and journal.

This operation is destructive and cannot be undone.

By default, you will be prompted for confirmation.
Use --yes to skip the confirmation prompt.

Examples:
  rowcache drop parts
  rowcache drop parts --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDrop,
}

func init() {
	dropCmd.Flags().BoolVar(&dropYes, "yes", false, "Skip confirmation prompt")
	rootCmd.AddCommand(dropCmd)
}

func runDrop(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, _, err := openStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	table, err := store.GetTable(name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !dropYes {
		fmt.Fprintf(out, "Are you sure you want to delete table '%s'? This cannot be undone. [y/N] ", name)
		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil && response == "" {
			return fmt.Errorf("failed to read response: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := store.DropTable(name); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}

	if GetJSONOutput() {
		return printJSON(out, map[string]interface{}{
			"name":    name,
			"prefix":  table.Prefix,
			"deleted": true,
		})
	}
	if !IsQuiet() {
		fmt.Fprintf(out, "Deleted table '%s'\n", name)
	}
	return nil
}
