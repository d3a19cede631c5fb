package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounceInterval is the quiet period after the last change before
// a table's ChangeFunc runs.
const DefaultDebounceInterval = 100 * time.Millisecond

const (
	journalFile = "journal.jsonl"
	configFile  = "config.json"
)

// Change describes the files that changed for a table within one debounce
// window.
type Change struct {
	Table         string
	Journal       bool
	ConfigChanged bool
}

// ChangeFunc is called once per debounced Change.
type ChangeFunc func(Change) error

// Watcher monitors table directories under a data dir and reports
// debounced journal and config changes.
type Watcher struct {
	baseDir  string
	changeFn ChangeFunc
	logger   *zap.Logger
	debounce time.Duration
	tables   map[string]bool // empty means every table
	resolve  func(path string) string

	watcher   *fsnotify.Watcher
	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
	started   bool

	mu      sync.Mutex
	pending map[string]*pendingChange
}

type pendingChange struct {
	change Change
	timer  *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce interval. Non-positive values are ignored.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithTables limits notifications to the named tables.
func WithTables(names ...string) WatcherOption {
	return func(w *Watcher) {
		for _, name := range names {
			w.tables[name] = true
		}
	}
}

// WithResolver sets the function mapping a changed file to its table.
// It returns "" for files that belong to no table.
func WithResolver(fn func(path string) string) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.resolve = fn
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for baseDir, the data directory holding one
// subdirectory per table.
func NewWatcher(baseDir string, changeFn ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		baseDir:  filepath.Clean(baseDir),
		changeFn: changeFn,
		logger:   zap.NewNop(),
		debounce: DefaultDebounceInterval,
		tables:   make(map[string]bool),
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		pending:  make(map[string]*pendingChange),
	}
	w.resolve = w.tableForPath
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start adds watches and begins processing events.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.baseDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(w.baseDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.watchTableDir(filepath.Join(w.baseDir, entry.Name()))
		}
	}

	w.started = true
	go w.processEvents()
	return nil
}

// Close stops the watcher and cancels pending notifications.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()

		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = nil
		w.mu.Unlock()

		if w.started {
			<-w.doneChan
		}
	})
}

// TableCount returns the number of table directories being watched.
func (w *Watcher) TableCount() int {
	count := 0
	for _, path := range w.watcher.WatchList() {
		if path != w.baseDir {
			count++
		}
	}
	return count
}

func (w *Watcher) watchTableDir(dir string) {
	name := filepath.Base(dir)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return
	}
	if len(w.tables) > 0 && !w.tables[name] {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("could not watch table directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.logger.Debug("watching table directory", zap.String("dir", dir))
}

func (w *Watcher) processEvents() {
	defer close(w.doneChan)

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	parent := filepath.Dir(path)

	if event.Has(fsnotify.Create) && parent == w.baseDir {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchTableDir(path)
		}
		return
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	table := w.resolve(path)
	if table == "" || (len(w.tables) > 0 && !w.tables[table]) {
		return
	}

	switch filepath.Base(path) {
	case journalFile:
		w.schedule(Change{Table: table, Journal: true})
	case configFile:
		w.schedule(Change{Table: table, ConfigChanged: true})
	}
}

// tableForPath accepts only files directly inside a table directory.
func (w *Watcher) tableForPath(path string) string {
	parent := filepath.Dir(path)
	if filepath.Dir(parent) != w.baseDir {
		return ""
	}
	return filepath.Base(parent)
}

// schedule merges c into the table's pending change and restarts its timer.
func (w *Watcher) schedule(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == nil {
		return
	}

	p, ok := w.pending[c.Table]
	if ok {
		p.timer.Stop()
		p.change.Journal = p.change.Journal || c.Journal
		p.change.ConfigChanged = p.change.ConfigChanged || c.ConfigChanged
	} else {
		p = &pendingChange{change: c}
		w.pending[c.Table] = p
	}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(c.Table) })
}

func (w *Watcher) fire(table string) {
	w.mu.Lock()
	p, ok := w.pending[table]
	if ok {
		delete(w.pending, table)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	w.logger.Debug("table changed",
		zap.String("table", table),
		zap.Bool("journal", p.change.Journal),
		zap.Bool("config", p.change.ConfigChanged))

	if err := w.changeFn(p.change); err != nil {
		w.logger.Error("change handler failed", zap.String("table", table), zap.Error(err))
	}
}
