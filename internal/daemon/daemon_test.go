package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), ".rowcache"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateTable(&model.Table{
		Name:      "parts",
		Prefix:    "pt-",
		Created:   time.Now(),
		CreatedBy: "test-user",
		Columns:   model.ColumnList{{Name: "name", Added: time.Now(), AddedBy: "test-user"}},
	}))
	return store
}

// runDaemon starts d.Run in the background and returns a stop function
// that cancels it and waits for it to return.
func runDaemon(t *testing.T, d *Daemon, handle ChangeFunc) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, handle) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(d.PIDPath())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	// Give the watcher time to register its watches
	time.Sleep(50 * time.Millisecond)

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			runErr = <-errCh
		})
		return runErr
	}
	t.Cleanup(func() { stop() })
	return stop
}

func TestDaemon_JournalChange(t *testing.T) {
	store := newTestStore(t)
	d := New(store, Options{Debounce: testDebounce, Logger: zaptest.NewLogger(t)})

	changes := make(chan Change, 4)
	stop := runDaemon(t, d, func(c Change) error {
		changes <- c
		return nil
	})

	require.NoError(t, store.Journal("parts").Append(storage.JournalEntry{
		Batch: storage.NewBatch(),
		Op:    storage.JournalInsert,
		ID:    "pt-0001",
		At:    time.Now(),
		Actor: "test-user",
	}))

	select {
	case c := <-changes:
		assert.Equal(t, "parts", c.Table)
		assert.True(t, c.Journal)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(d.changesTotal.WithLabelValues("parts", "journal")))

	require.NoError(t, stop())
	assert.NoFileExists(t, d.PIDPath(), "pid file is released")
}

func TestDaemon_ConfigChange(t *testing.T) {
	store := newTestStore(t)
	d := New(store, Options{Debounce: testDebounce})

	changes := make(chan Change, 4)
	runDaemon(t, d, func(c Change) error {
		changes <- c
		return nil
	})

	tbl, err := store.GetTable("parts")
	require.NoError(t, err)
	tbl.Columns = append(tbl.Columns, model.Column{Name: "color"})
	data, err := json.Marshal(tbl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.ConfigPath("parts"), data, 0644))

	select {
	case c := <-changes:
		assert.True(t, c.ConfigChanged)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	// The new column was added before the handler ran
	got, err := store.GetTable("parts")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "color"}, got.Columns.Names())
}

func TestDaemon_HandlerError(t *testing.T) {
	store := newTestStore(t)
	d := New(store, Options{Debounce: testDebounce})

	called := make(chan struct{}, 4)
	runDaemon(t, d, func(c Change) error {
		called <- struct{}{}
		return assert.AnError
	})

	require.NoError(t, store.Journal("parts").Append(storage.JournalEntry{Op: storage.JournalDelete, ID: "pt-0001"}))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(d.handlerErrors) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDaemon_SingleInstance(t *testing.T) {
	store := newTestStore(t)
	first := New(store, Options{})
	runDaemon(t, first, nil)

	second := New(store, Options{})
	err := second.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestDaemon_Handler(t *testing.T) {
	store := newTestStore(t)
	d := New(store, Options{})
	d.changesTotal.WithLabelValues("parts", "journal").Inc()

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `rowcache_watch_changes_total{kind="journal",table="parts"} 1`)
}
