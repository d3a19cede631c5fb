// Package cli provides the command-line interface for rowcache.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/rowcache/internal/config"
	rcctx "github.com/user/rowcache/internal/context"
	"github.com/user/rowcache/internal/logging"
	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/rowcache"
	"github.com/user/rowcache/internal/storage"
	"github.com/user/rowcache/internal/syncer"
)

// Global flags
var (
	jsonOutput  bool
	configPath  string
	dataDirFlag string
	tableName   string
	actorName   string
	quiet       bool
	verbose     bool
)

// Runtime state set up before every command runs.
var (
	cfg    = config.Default()
	logger = zap.NewNop()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rowcache",
	Short: "Edit SQLite-backed tables through a change-tracking row cache",
	Long: `rowcache loads rows of a table into an in-memory cache, records every
insert, edit and delete made there, and writes them back in batches.

Features:
  - Local edits are merged per row (insert then edit stays an insert)
  - Writes run in the background and survive rows moving underneath them
  - Every synchronized change is appended to the table's journal
  - A watch process follows journal and config changes`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupRuntime,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		HandleError(err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./rowcache.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: nearest .rowcache)")
	rootCmd.PersistentFlags().StringVarP(&tableName, "table", "t", "", "Target table (default: $ROWCACHE_TABLE or the only table)")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "", "Override actor for the journal (default: $ROWCACHE_ACTOR or $USER)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

// setupRuntime loads the configuration and builds the logger.
func setupRuntime(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	opts := logging.Options{
		Level:     loaded.Log.Level,
		File:      loaded.Log.File,
		MaxSizeMB: loaded.Log.MaxSizeMB,
	}
	if verbose {
		opts.Level = "debug"
		opts.Development = true
	} else if loaded.Log.File == "" {
		// Keep stderr quiet for interactive use unless asked otherwise
		opts.Level = "warn"
	}

	l, err := logging.New(opts)
	if err != nil {
		return err
	}

	cfg = loaded
	logger = l.With(zap.String("command", cmd.Name()))
	return nil
}

// ExitCode is used to communicate exit codes for testing
var ExitCode int

// ExitFunc is the function called to exit the program
// Can be overridden for testing
var ExitFunc = os.Exit

// Exit sets the exit code and calls the exit function
func Exit(code int) {
	ExitCode = code
	ExitFunc(code)
}

// GetJSONOutput returns whether JSON output is enabled
func GetJSONOutput() bool {
	return jsonOutput
}

// GetActorName returns the actor name override
func GetActorName() string {
	return actorName
}

// IsQuiet returns whether quiet mode is enabled
func IsQuiet() bool {
	return quiet
}

// dataDir returns the data directory: --data-dir, then a data_dir set in
// config or environment, then the nearest .rowcache, then the default.
func dataDir() string {
	if dataDirFlag != "" {
		return dataDirFlag
	}
	if cfg.DataDir != config.Default().DataDir {
		return cfg.DataDir
	}
	if found := rcctx.FindDataDir(); found != "" {
		return found
	}
	return cfg.DataDir
}

// resolveContext resolves actor, data directory and table.
func resolveContext() *rcctx.Context {
	return rcctx.Resolve(GetActorName(), dataDir(), tableName)
}

// openStore opens the store in the resolved data directory. Unless create
// is set the directory must already exist.
func openStore(create bool) (*storage.Store, *rcctx.Context, error) {
	ctx := resolveContext()
	if !create {
		if _, err := os.Stat(ctx.DataDir); err != nil {
			return nil, nil, rcctx.ErrNoDataDir
		}
	}
	store, err := storage.NewStore(ctx.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	return store, ctx, nil
}

// tableEnv is an open store together with the table a command works on.
type tableEnv struct {
	ctx     *rcctx.Context
	store   *storage.Store
	table   *model.Table
	backend *storage.SQLiteTable
}

// openTable opens the store and the resolved table. The data directory
// must already exist.
func openTable() (*tableEnv, error) {
	ctx := resolveContext()
	if _, err := os.Stat(ctx.DataDir); err != nil {
		return nil, rcctx.ErrNoDataDir
	}
	if err := ctx.RequireTable(); err != nil {
		return nil, err
	}

	store, err := storage.NewStore(ctx.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	env, err := newTableEnv(store, ctx, ctx.Table)
	if err != nil {
		store.Close()
		return nil, err
	}
	return env, nil
}

// newTableEnv looks up a table in an open store.
func newTableEnv(store *storage.Store, ctx *rcctx.Context, name string) (*tableEnv, error) {
	backend, err := store.Table(name, ctx.Actor)
	if err != nil {
		return nil, err
	}
	return &tableEnv{
		ctx:     ctx,
		store:   store,
		table:   backend.Schema(),
		backend: backend,
	}, nil
}

func (e *tableEnv) Close() error {
	return e.store.Close()
}

// newCache returns an empty cache addressing the table's columns.
func (e *tableEnv) newCache() *rowcache.RowCache[*model.Record] {
	return rowcache.New[*model.Record](nil,
		rowcache.WithSchema[*model.Record](model.NewRecordSchema(e.table)))
}

// newSynchronizer wires a cache of the table to its backend and journal.
func (e *tableEnv) newSynchronizer(metrics *syncer.Metrics) *syncer.Synchronizer {
	return syncer.New(e.newCache(), e.backend, syncer.Options{
		Workers:     cfg.Sync.Workers,
		QueueSize:   cfg.Sync.QueueSize,
		StopTimeout: cfg.Sync.StopTimeout,
		Logger:      logger.With(zap.String("table", e.table.Name)),
		Journal:     e.store.Journal(e.table.Name),
		Actor:       e.ctx.Actor,
		Metrics:     metrics,
	})
}
