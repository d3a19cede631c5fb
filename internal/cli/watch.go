package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	rcctx "github.com/user/rowcache/internal/context"
	"github.com/user/rowcache/internal/daemon"
	"github.com/user/rowcache/internal/storage"
	"github.com/user/rowcache/internal/syncer"
)

var (
	watchMetricsAddr string
	watchDebounce    time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow tables and reload them when they change",
	Long: `Keep a row cache of each table loaded and reload it whenever the
table's journal or config changes, e.g. after another process synced.

Only one watch may run per data directory; its pid is kept in
watch.pid. With --metrics-addr, Prometheus metrics are served on
/metrics and a health check on /health.

Examples:
  rowcache watch
  rowcache watch --table parts --metrics-addr :9090
  rowcache watch status`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a watch is running",
	Args:  cobra.NoArgs,
	RunE:  runWatchStatus,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve metrics on this address (default: watch.metrics_addr)")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Quiet period before reloading (default: watch.debounce)")
	watchCmd.AddCommand(watchStatusCmd)
	rootCmd.AddCommand(watchCmd)
}

// watcher keeps one synchronized cache per table.
type watcher struct {
	store   *storage.Store
	ctx     *rcctx.Context
	metrics *syncer.Metrics
	out     io.Writer
	tables  map[string]*syncer.Synchronizer
}

// watchEvent is one line of watch output.
type watchEvent struct {
	At     time.Time `json:"at"`
	Table  string    `json:"table"`
	Reason string    `json:"reason"`
	Rows   int       `json:"rows"`
}

// load (re)creates the table's cache and fetches it.
func (w *watcher) load(ctx context.Context, name, reason string) error {
	if old := w.tables[name]; old != nil {
		old.Close()
		delete(w.tables, name)
	}

	env, err := newTableEnv(w.store, w.ctx, name)
	if err != nil {
		return err
	}
	s := env.newSynchronizer(w.metrics)
	w.tables[name] = s

	if err := s.Reload(ctx, storage.FetchOptions{Limit: cfg.Fetch.Limit}); err != nil {
		return err
	}
	if err := s.Drain(ctx); err != nil {
		return err
	}
	if err := s.FetchErr(); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", name, err)
	}

	w.report(watchEvent{At: time.Now(), Table: name, Reason: reason, Rows: s.Cache().Len()})
	return nil
}

func (w *watcher) report(e watchEvent) {
	if GetJSONOutput() {
		data, _ := json.Marshal(e)
		fmt.Fprintln(w.out, string(data))
		return
	}
	if !IsQuiet() {
		fmt.Fprintf(w.out, "%s  %-8s %s: %d row(s)\n", e.At.Format("15:04:05"), e.Reason, e.Table, e.Rows)
	}
}

// handle reloads a table after a change. The daemon has already applied
// config changes to the store, so the cache is rebuilt with the new
// columns.
func (w *watcher) handle(ctx context.Context) daemon.ChangeFunc {
	return func(c daemon.Change) error {
		reason := "journal"
		if c.ConfigChanged {
			reason = "config"
		}
		return w.load(ctx, c.Table, reason)
	}
}

func (w *watcher) close() {
	for _, s := range w.tables {
		s.Close()
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	store, rctx, err := openStore(false)
	if err != nil {
		return err
	}
	defer store.Close()

	var names []string
	if tableName != "" {
		if _, err := store.GetTable(tableName); err != nil {
			return err
		}
		names = []string{tableName}
	} else {
		tables, err := store.ListTables()
		if err != nil {
			return err
		}
		for _, t := range tables {
			names = append(names, t.Name)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := daemon.Options{
		Debounce:    cfg.Watch.Debounce,
		MetricsAddr: cfg.Watch.MetricsAddr,
		Logger:      logger,
		Registry:    registry,
	}
	if tableName != "" {
		opts.Tables = names
	}
	if watchDebounce > 0 {
		opts.Debounce = watchDebounce
	}
	if watchMetricsAddr != "" {
		opts.MetricsAddr = watchMetricsAddr
	}
	d := daemon.New(store, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &watcher{
		store:   store,
		ctx:     rctx,
		metrics: syncer.NewMetrics(registry),
		out:     cmd.OutOrStdout(),
		tables:  make(map[string]*syncer.Synchronizer),
	}
	defer w.close()

	for _, name := range names {
		if err := w.load(ctx, name, "load"); err != nil {
			return err
		}
	}

	return d.Run(ctx, w.handle(ctx))
}

func runWatchStatus(cmd *cobra.Command, args []string) error {
	rctx := resolveContext()
	pidPath := filepath.Join(rctx.DataDir, daemon.DefaultPIDFile)

	running := false
	pid, err := daemon.ReadPID(pidPath)
	if err == nil {
		running = daemon.IsProcessRunning(pid)
	} else if !errors.Is(err, daemon.ErrPIDFileNotFound) && !errors.Is(err, daemon.ErrInvalidPID) {
		return err
	}
	if !running {
		pid = 0
	}

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, map[string]interface{}{
			"running":  running,
			"pid":      pid,
			"data_dir": rctx.DataDir,
		})
	}
	if running {
		fmt.Fprintf(out, "Watch is running (PID: %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Watch is not running")
	}
	return nil
}

