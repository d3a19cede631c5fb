package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/rowcache/internal/storage"
)

// DefaultPIDFile is the name of the lock file in the data directory.
const DefaultPIDFile = "watch.pid"

// Options configures a Daemon.
type Options struct {
	Tables      []string
	Debounce    time.Duration
	MetricsAddr string
	Logger      *zap.Logger
	// Registry collects the daemon's metrics and is served on MetricsAddr.
	// A fresh registry is created when nil.
	Registry *prometheus.Registry
}

// Daemon watches a data directory and hands table changes to a handler
// running on the goroutine that called Run.
type Daemon struct {
	store    *storage.Store
	opts     Options
	logger   *zap.Logger
	registry *prometheus.Registry
	changes  chan Change

	changesTotal  *prometheus.CounterVec
	handlerErrors prometheus.Counter
}

// New creates a Daemon for store's data directory.
func New(store *storage.Store, opts Options) *Daemon {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(opts.Registry)

	return &Daemon{
		store:    store,
		opts:     opts,
		logger:   opts.Logger,
		registry: opts.Registry,
		changes:  make(chan Change, 16),
		changesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rowcache",
			Subsystem: "watch",
			Name:      "changes_total",
			Help:      "Debounced table changes by file kind.",
		}, []string{"table", "kind"}),
		handlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rowcache",
			Subsystem: "watch",
			Name:      "handler_errors_total",
			Help:      "Change handler calls that returned an error.",
		}),
	}
}

// Registry returns the registry the daemon's metrics live in.
func (d *Daemon) Registry() *prometheus.Registry {
	return d.registry
}

// PIDPath returns the path of the lock file.
func (d *Daemon) PIDPath() string {
	return filepath.Join(d.store.BaseDir(), DefaultPIDFile)
}

// Handler serves /metrics from the daemon's registry and /health.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
	})
	return mux
}

// Run holds the pid lock, watches the data directory and calls handle for
// every debounced change until ctx is done. Config changes are applied to
// the store before handle sees them.
func (d *Daemon) Run(ctx context.Context, handle ChangeFunc) error {
	pid, err := AcquirePID(d.PIDPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := pid.Release(); err != nil {
			d.logger.Warn("releasing pid file", zap.Error(err))
		}
	}()

	watcher, err := NewWatcher(d.store.BaseDir(), d.enqueue(ctx),
		WithDebounce(d.opts.Debounce),
		WithTables(d.opts.Tables...),
		WithResolver(d.store.TableForPath),
		WithLogger(d.logger))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		watcher.Close()
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if d.opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:         d.opts.MetricsAddr,
			Handler:      d.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		d.logger.Info("serving metrics", zap.String("addr", d.opts.MetricsAddr))
	}

	d.logger.Info("watching",
		zap.String("data_dir", d.store.BaseDir()),
		zap.Int("tables", watcher.TableCount()),
		zap.Int("pid", pid.PID()))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("watch stopping")
			return nil
		case c := <-d.changes:
			d.handleChange(c, handle)
		}
	}
}

// enqueue hands changes from watcher timers to the Run loop.
func (d *Daemon) enqueue(ctx context.Context) ChangeFunc {
	return func(c Change) error {
		select {
		case d.changes <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Daemon) handleChange(c Change, handle ChangeFunc) {
	if c.ConfigChanged {
		d.changesTotal.WithLabelValues(c.Table, "config").Inc()
		if _, err := d.store.ReloadConfig(c.Table); err != nil {
			d.handlerErrors.Inc()
			d.logger.Error("reloading table config", zap.String("table", c.Table), zap.Error(err))
			return
		}
	}
	if c.Journal {
		d.changesTotal.WithLabelValues(c.Table, "journal").Inc()
	}
	if handle == nil {
		return
	}
	if err := handle(c); err != nil {
		d.handlerErrors.Inc()
		d.logger.Error("handling change", zap.String("table", c.Table), zap.Error(err))
	}
}
