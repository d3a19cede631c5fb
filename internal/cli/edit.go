package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/user/rowcache/internal/rowcache"
	"github.com/user/rowcache/internal/storage"
)

var (
	editScript    string
	editSync      bool
	editKeepGoing bool
	editLimit     int
	editOrderBy   string
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit a table through the row cache",
	Long: `Load the table into a row cache and edit it with line commands.

Edits stay local until 'sync' (or 'push' then 'wait') writes them.
Commands are read from --script, or from stdin; run 'help' inside the
session for the list.

With --script the session stops at the first failing command unless
--keep-going is set. --sync writes remaining changes when input ends.

Examples:
  rowcache edit --table parts
  rowcache edit --script changes.txt --sync
  echo 'set 0 qty 12' | rowcache edit --sync`,
	Args: cobra.NoArgs,
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editScript, "script", "", "Read commands from file (- for stdin)")
	editCmd.Flags().BoolVar(&editSync, "sync", false, "Sync remaining changes when input ends")
	editCmd.Flags().BoolVar(&editKeepGoing, "keep-going", false, "Continue a script after a failing command")
	editCmd.Flags().IntVar(&editLimit, "limit", 0, "Load at most N records (0 = fetch.limit)")
	editCmd.Flags().StringVar(&editOrderBy, "order-by", "", "Load records sorted by field")
	rootCmd.AddCommand(editCmd)
}

// logObserver logs cache notifications at debug level.
type logObserver struct {
	rowcache.NopObserver
	logger *zap.Logger
}

func (o logObserver) RowsInserted(first, last int) {
	o.logger.Debug("rows inserted", zap.Int("first", first), zap.Int("last", last))
}

func (o logObserver) RowsRemoved(first, last int) {
	o.logger.Debug("rows removed", zap.Int("first", first), zap.Int("last", last))
}

func (o logObserver) RowsChanged(first, last int) {
	o.logger.Debug("rows changed", zap.Int("first", first), zap.Int("last", last))
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func runEdit(cmd *cobra.Command, args []string) error {
	env, err := openTable()
	if err != nil {
		return err
	}
	defer env.Close()

	fetch := storage.FetchOptions{Limit: editLimit, OrderBy: editOrderBy}
	if fetch.Limit == 0 {
		fetch.Limit = cfg.Fetch.Limit
	}

	synchronizer := env.newSynchronizer(nil)
	defer synchronizer.Close()
	if verbose {
		synchronizer.Cache().SetObserver(logObserver{logger: logger.With(zap.String("table", env.table.Name))})
	}

	out := cmd.OutOrStdout()
	session := NewSession(synchronizer, env.table, env.ctx.Actor, fetch, out)
	if err := session.Load(cmd.Context()); err != nil {
		return err
	}

	in := cmd.InOrStdin()
	scripted := editScript != ""
	if scripted && editScript != "-" {
		f, err := os.Open(editScript)
		if err != nil {
			return fmt.Errorf("failed to open script: %w", err)
		}
		defer f.Close()
		in = f
	}

	prompt := ""
	if !scripted && isTerminal(in) {
		prompt = "rowcache> "
		if !IsQuiet() {
			fmt.Fprintf(out, "Loaded %d row(s) of '%s'. Type 'help' for commands.\n", synchronizer.Cache().Len(), env.table.Name)
		}
	}

	if err := session.Run(cmd.Context(), in, prompt, scripted && !editKeepGoing); err != nil {
		return err
	}

	// Let pushed writes land before deciding what is left
	if err := synchronizer.Drain(cmd.Context()); err != nil {
		return err
	}
	if editSync {
		if err := session.Exec(cmd.Context(), "sync"); err != nil {
			return err
		}
	}
	if n := len(synchronizer.Cache().PendingOperations()); n > 0 && !IsQuiet() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Discarding %d unsynchronized change(s)\n", n)
	}
	return nil
}
