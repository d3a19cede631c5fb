// Package syncer keeps a row cache and its backing table in step. Backend
// calls run on a worker pool; their results come back on a channel and are
// applied to the cache by the goroutine that owns it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/rowcache"
	"github.com/user/rowcache/internal/storage"
	"github.com/user/rowcache/internal/workerpool"
)

// Errors returned by the Synchronizer.
var (
	ErrClosed         = errors.New("synchronizer is closed")
	ErrRowBusy        = errors.New("row has a read or write in flight")
	ErrRowModified    = errors.New("row has unsynchronized changes")
	ErrNotStored      = errors.New("row has not been stored yet")
	ErrPendingChanges = errors.New("cache has unsynchronized changes")
)

// Options configures a Synchronizer.
type Options struct {
	Workers     int
	QueueSize   int
	StopTimeout time.Duration
	Logger      *zap.Logger
	// Journal, when set, receives one entry per acknowledged write.
	Journal *storage.Journal
	Actor   string
	// Metrics, when set, is updated as calls are submitted and applied.
	Metrics *Metrics
}

// batch tracks the writes submitted by one Push.
type batch struct {
	id          string
	outstanding int
	failed      int
	// sealed is set once every write of the batch has been submitted; the
	// batch cannot finish before that.
	sealed bool
	// revisions holds the edit revision each row had when its write was
	// submitted.
	revisions map[rowcache.Transaction]uint64
	acked     map[rowcache.Transaction]Result
	entries   []storage.JournalEntry
}

// write is a transaction collected by Push before submission.
type write struct {
	kind Kind
	tx   rowcache.Transaction
	rev  uint64
	rec  *model.Record
}

// Synchronizer drives a RowCache of records against a Backend. Apart from
// Results, its methods must be called from the goroutine owning the cache.
type Synchronizer struct {
	cache     *rowcache.RowCache[*model.Record]
	backend   storage.Backend
	pool      *workerpool.WorkerPool
	results   chan Result
	done      chan struct{}
	closeOnce sync.Once

	logger      *zap.Logger
	journal     *storage.Journal
	actor       string
	metrics     *Metrics
	stopTimeout time.Duration

	outstanding int
	batches     map[string]*batch
	inflight    map[rowcache.Transaction]string
	fetchErr    error
	closed      bool
}

// New creates a Synchronizer for cache and backend and starts its workers.
func New(cache *rowcache.RowCache[*model.Record], backend storage.Backend, opts Options) *Synchronizer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	return &Synchronizer{
		cache:   cache,
		backend: backend,
		pool: workerpool.New(&workerpool.Config{
			Name:       "sync",
			MaxWorkers: opts.Workers,
			QueueSize:  opts.QueueSize,
			Logger:     opts.Logger,
		}),
		results:     make(chan Result, opts.QueueSize),
		done:        make(chan struct{}),
		logger:      opts.Logger,
		journal:     opts.Journal,
		actor:       opts.Actor,
		metrics:     opts.Metrics,
		stopTimeout: opts.StopTimeout,
		batches:     make(map[string]*batch),
		inflight:    make(map[rowcache.Transaction]string),
	}
}

// Cache returns the cache being synchronized.
func (s *Synchronizer) Cache() *rowcache.RowCache[*model.Record] {
	return s.cache
}

// Results returns the channel backend results arrive on. Callers running
// their own event loop receive from it and pass each value to Apply.
func (s *Synchronizer) Results() <-chan Result {
	return s.results
}

// Outstanding returns the number of submitted calls whose result has not
// been applied yet.
func (s *Synchronizer) Outstanding() int {
	return s.outstanding
}

// FetchErr returns the error of the last fetch that stopped early.
func (s *Synchronizer) FetchErr() error {
	return s.fetchErr
}

// deliver hands a result to the owner unless the synchronizer is closed.
func (s *Synchronizer) deliver(r Result) {
	select {
	case s.results <- r:
	case <-s.done:
	}
}

// submit queues fn on the pool. fn hands its results to deliver. When it
// stops without delivering its final result, as when the backend panics,
// fail is delivered instead with the job's error. While the queue is full,
// results are applied so workers blocked on delivery can make progress.
func (s *Synchronizer) submit(ctx context.Context, id string, fail Result, fn func(context.Context, func(Result)) error) error {
	if s.closed {
		return ErrClosed
	}
	kind := fail.Kind
	// Only touched by the worker running the job
	finished := false
	deliver := func(r Result) {
		if r.Kind != KindFetched {
			finished = true
		}
		s.deliver(r)
	}
	job := workerpool.Job{
		ID:      id,
		Context: ctx,
		Fn: func(ctx context.Context) error {
			start := time.Now()
			defer func() { s.metrics.observe(kind, time.Since(start).Seconds()) }()
			return fn(ctx, deliver)
		},
		Done: func(err error) {
			if finished {
				return
			}
			if err == nil {
				err = fmt.Errorf("job %s returned without a result", id)
			}
			r := fail
			r.Err = err
			s.deliver(r)
		},
	}

	for {
		err := s.pool.Submit(job)
		if err == nil {
			s.outstanding++
			s.metrics.submitted(kind)
			s.metrics.setOutstanding(s.outstanding)
			return nil
		}
		if !errors.Is(err, workerpool.ErrQueueFull) {
			return err
		}
		select {
		case r := <-s.results:
			s.Apply(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Fetch streams the backend's records into the cache, appending them after
// the existing rows as they arrive.
func (s *Synchronizer) Fetch(ctx context.Context, opts storage.FetchOptions) error {
	s.fetchErr = nil
	return s.submit(ctx, "fetch", Result{Kind: KindFetchDone}, func(ctx context.Context, deliver func(Result)) error {
		var fetchErr error
		for rec, err := range s.backend.Fetch(ctx, opts) {
			if err != nil {
				fetchErr = err
				break
			}
			deliver(Result{Kind: KindFetched, Record: rec})
		}
		deliver(Result{Kind: KindFetchDone, Err: fetchErr})
		return fetchErr
	})
}

// Reload replaces the cache contents with a fresh fetch. It refuses to
// throw away local changes or calls in flight.
func (s *Synchronizer) Reload(ctx context.Context, opts storage.FetchOptions) error {
	if s.cache.HasPendingOperations() || s.outstanding > 0 {
		return ErrPendingChanges
	}
	s.cache.Clear()
	return s.Fetch(ctx, opts)
}

// Refresh re-reads the record at row from the backend through a task.
func (s *Synchronizer) Refresh(ctx context.Context, row int) (rowcache.RowTask, error) {
	if row < 0 || row >= s.cache.Len() {
		return rowcache.RowTask{}, fmt.Errorf("row %d out of range [0,%d)", row, s.cache.Len())
	}
	if s.Busy(row) {
		return rowcache.RowTask{}, fmt.Errorf("%w: row %d", ErrRowBusy, row)
	}
	status := s.cache.Status(row)
	if status.Operation != rowcache.OpNone {
		return rowcache.RowTask{}, fmt.Errorf("%w: row %d", ErrRowModified, row)
	}
	rec := s.cache.RecordAt(row)
	if rec == nil || !rec.IsStored() {
		return rowcache.RowTask{}, fmt.Errorf("%w: row %d", ErrNotStored, row)
	}
	if status.TaskFailed {
		s.cache.SetTaskDoneForRow(row)
	}

	rt := s.cache.BeginRowTask(row)
	id := rec.ID
	fail := Result{Kind: KindRefreshed, Task: rt.Task, ID: id}
	err := s.submit(ctx, rt.Task.String(), fail, func(ctx context.Context, deliver func(Result)) error {
		got, err := s.backend.Get(ctx, id)
		deliver(Result{Kind: KindRefreshed, Task: rt.Task, Record: got, ID: id, Err: err})
		return err
	})
	if err != nil {
		if r := s.cache.RowForTask(rt.Task); r >= 0 {
			s.cache.SetTaskFailedForRow(r)
		}
		return rt, err
	}
	return rt, nil
}

// busy reports whether row's current transaction belongs to a batch that
// has not finished.
func (s *Synchronizer) busy(row int) bool {
	tx := s.cache.TransactionForRow(row)
	if tx.IsNull() {
		return false
	}
	_, ok := s.inflight[tx]
	return ok
}

// Busy reports whether row has a read in flight or a write whose batch has
// not finished yet.
func (s *Synchronizer) Busy(row int) bool {
	return s.busy(row) || s.cache.Status(row).TaskPending
}

// Push writes every local change to the backend: inserts, updates and
// deletes of stored rows. Each row gets a transaction and is marked
// pending. Rows already in flight are skipped. It returns the number of
// writes submitted.
func (s *Synchronizer) Push(ctx context.Context) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	var writes []write
	collect := func(rows []int, kind Kind) {
		for _, row := range rows {
			if s.busy(row) {
				continue
			}
			tx := s.cache.CreateTransaction(row)
			if tx.IsNull() {
				continue
			}
			s.cache.SetTransactionPendingForRow(row)
			writes = append(writes, write{
				kind: kind,
				tx:   tx,
				rev:  s.cache.RevisionForRow(row),
				rec:  s.cache.RecordAt(row).Clone(),
			})
		}
	}
	collect(s.cache.RowsToInsertIntoStorage(), KindInserted)
	collect(s.cache.RowsToUpdateInStorage(), KindUpdated)
	collect(s.cache.RowsToDeleteInStorage(), KindDeleted)

	if len(writes) == 0 {
		// Only rows inserted and deleted locally may be left
		if len(s.batches) == 0 && s.cache.HasPendingOperations() && s.settled(nil) {
			s.commit()
		}
		return 0, nil
	}

	b := &batch{
		id:        storage.NewBatch(),
		revisions: make(map[rowcache.Transaction]uint64, len(writes)),
		acked:     make(map[rowcache.Transaction]Result),
	}
	s.batches[b.id] = b
	for _, w := range writes {
		s.inflight[w.tx] = b.id
		b.revisions[w.tx] = w.rev
	}

	s.logger.Debug("pushing changes",
		zap.String("batch", b.id),
		zap.Int("writes", len(writes)))

	submitted := 0
	var submitErr error
	for i, w := range writes {
		if err := s.submitWrite(ctx, b, w); err != nil {
			submitErr = err
			for _, rest := range writes[i:] {
				s.failUnsubmitted(b, rest)
			}
			break
		}
		submitted++
	}

	b.sealed = true
	if b.outstanding == 0 {
		s.finish(b)
	}
	return submitted, submitErr
}

func (s *Synchronizer) submitWrite(ctx context.Context, b *batch, w write) error {
	b.outstanding++
	fail := Result{Kind: w.kind, Batch: b.id, Transaction: w.tx}
	if w.kind == KindDeleted {
		fail.ID = w.rec.ID
	}
	err := s.submit(ctx, w.tx.String(), fail, func(ctx context.Context, deliver func(Result)) error {
		r := Result{Kind: w.kind, Batch: b.id, Transaction: w.tx}
		switch w.kind {
		case KindInserted:
			r.Record, r.Err = s.backend.Insert(ctx, w.rec)
		case KindUpdated:
			r.Record, r.Err = s.backend.Update(ctx, w.rec)
		case KindDeleted:
			r.ID = w.rec.ID
			r.Err = s.backend.Delete(ctx, w.rec.ID)
		}
		deliver(r)
		return r.Err
	})
	if err != nil {
		b.outstanding--
	}
	return err
}

// failUnsubmitted marks a write that never reached the pool as failed.
func (s *Synchronizer) failUnsubmitted(b *batch, w write) {
	b.failed++
	if row := s.cache.RowForTransaction(w.tx); row >= 0 {
		s.cache.SetTransactionFailedForRow(row)
	}
}

// Apply applies one backend result to the cache. Results whose row has
// gone away are dropped.
func (s *Synchronizer) Apply(r Result) {
	s.metrics.result(r.Kind, r.Err)

	switch r.Kind {
	case KindFetched:
		s.cache.AppendFetched(r.Record)
		return
	case KindFetchDone:
		s.settle()
		if r.Err != nil {
			s.fetchErr = r.Err
			s.logger.Warn("fetch stopped early", zap.Error(r.Err))
		}
	case KindRefreshed:
		s.settle()
		s.applyRefresh(r)
	case KindInserted, KindUpdated, KindDeleted:
		s.settle()
		s.applyWrite(r)
	default:
		s.logger.Warn("unknown result kind", zap.Stringer("kind", r.Kind))
	}
}

func (s *Synchronizer) settle() {
	s.outstanding--
	s.metrics.setOutstanding(s.outstanding)
}

func (s *Synchronizer) applyRefresh(r Result) {
	row := s.cache.RowForTask(r.Task)
	if row < 0 {
		s.metrics.dropped()
		s.logger.Debug("dropping refresh for removed row", zap.Stringer("task", r.Task))
		return
	}
	if r.Err != nil {
		s.cache.SetTaskFailedForRow(row)
		s.logger.Warn("refresh failed",
			zap.Int("row", row),
			zap.String("id", r.ID),
			zap.Error(r.Err))
		return
	}
	s.cache.ReplaceRecordAt(row, r.Record)
	s.cache.SetTaskDoneForRow(row)
}

func (s *Synchronizer) applyWrite(r Result) {
	b := s.batches[r.Batch]
	if b == nil {
		s.metrics.dropped()
		s.logger.Debug("dropping result of unknown batch", zap.String("batch", r.Batch))
		return
	}
	b.outstanding--

	row := s.cache.RowForTransaction(r.Transaction)
	switch {
	case row < 0:
		s.metrics.dropped()
		s.logger.Debug("dropping write for removed row", zap.Stringer("transaction", r.Transaction))
	case r.Err != nil:
		b.failed++
		s.cache.SetTransactionFailedForRow(row)
		s.logger.Warn("write failed",
			zap.Stringer("op", r.Kind),
			zap.Int("row", row),
			zap.Error(r.Err))
	case s.changedSince(b, r, row):
		s.restart(row, r)
		b.entries = append(b.entries, s.journalEntry(b.id, r))
	default:
		if r.Record != nil {
			s.cache.ReplaceRecordAt(row, r.Record)
		}
		s.cache.ClearTransactionForRow(row)
		b.acked[r.Transaction] = r
		b.entries = append(b.entries, s.journalEntry(b.id, r))
	}

	if b.sealed && b.outstanding == 0 {
		s.finish(b)
	}
}

func (s *Synchronizer) journalEntry(batchID string, r Result) storage.JournalEntry {
	e := storage.JournalEntry{
		Batch:  batchID,
		Op:     storage.JournalInsert,
		Record: r.Record,
		At:     time.Now().UTC(),
		Actor:  s.actor,
	}
	switch r.Kind {
	case KindUpdated:
		e.Op = storage.JournalUpdate
	case KindDeleted:
		e.Op = storage.JournalDelete
	}
	if r.Record != nil {
		e.ID = r.Record.ID
	} else {
		e.ID = r.ID
	}
	return e
}

// changedSince reports whether row was edited after the write answered by
// r was submitted, in a way that write does not cover. A row deleted again
// after its delete was submitted needs nothing more.
func (s *Synchronizer) changedSince(b *batch, r Result, row int) bool {
	if s.cache.RevisionForRow(row) == b.revisions[r.Transaction] {
		return false
	}
	return r.Kind != KindDeleted || !s.cache.OperationAtRow(row).IsDelete()
}

// restart keeps an edit made to row after its write was submitted. The
// acknowledged write is folded in: the record takes the identity storage
// gave it and the row is left with what still has to be written.
func (s *Synchronizer) restart(row int, r Result) {
	op := s.cache.OperationAtRow(row)
	rec := s.cache.RecordAt(row).Clone()
	var stored *model.Record
	if r.Kind == KindDeleted {
		// Revived after storage dropped it
		rec.Hash = ""
		op = rowcache.OpInsert
	} else {
		stored = r.Record
		if stored != nil {
			rec.ID = stored.ID
			rec.Hash = stored.Hash
		}
		switch op {
		case rowcache.OpInsert:
			op = rowcache.OpUpdate
		case rowcache.OpInsertDelete:
			op = rowcache.OpDelete
		}
	}
	s.cache.RestartRow(row, stored, rec, op)
	s.logger.Debug("row changed while its write was in flight",
		zap.Int("row", row),
		zap.Stringer("op", op))
}

// settled reports whether every local change is either acknowledged in b
// or a row inserted and deleted locally that never needs a write.
func (s *Synchronizer) settled(b *batch) bool {
	for _, e := range s.cache.PendingOperations() {
		if b != nil {
			if r, ok := b.acked[e.TransactionID]; ok && e.TransactionState == rowcache.TransactionNone && !s.changedSince(b, r, e.Row) {
				continue
			}
		}
		if e.Operation == rowcache.OpInsertDelete && e.TransactionState != rowcache.TransactionPending {
			if _, ok := s.inflight[e.TransactionID]; !ok {
				continue
			}
		}
		return false
	}
	return true
}

func (s *Synchronizer) commit() {
	committed, ok := s.cache.CommitChanges()
	s.metrics.committed()
	if ok {
		s.logger.Debug("changes committed",
			zap.Int("first", committed.First),
			zap.Int("last", committed.Last))
	} else {
		s.logger.Debug("changes committed")
	}
}

// finish closes a batch once all of its results have been applied. A clean
// batch covering every local change is committed as a whole. Otherwise
// each acknowledged row is finalized on its own, rows edited since their
// write are restarted, and failed rows stay marked for another push.
func (s *Synchronizer) finish(b *batch) {
	delete(s.batches, b.id)
	defer func() {
		for tx, id := range s.inflight {
			if id == b.id {
				delete(s.inflight, tx)
			}
		}
	}()

	if s.journal != nil {
		if err := s.journal.Append(b.entries...); err != nil {
			s.logger.Error("failed to write journal", zap.String("batch", b.id), zap.Error(err))
		}
	}

	if b.failed == 0 && s.settled(b) {
		s.commit()
		return
	}

	var erase []int
	restarted := 0
	for tx, r := range b.acked {
		row := s.cache.RowForTransaction(tx)
		if row < 0 {
			continue
		}
		switch {
		case s.changedSince(b, r, row):
			s.restart(row, r)
			restarted++
		case r.Kind == KindDeleted:
			erase = append(erase, row)
		default:
			s.cache.SetTransactionDoneForRow(row)
		}
	}
	// Highest row first so earlier erasures never move a row still to go
	slices.Sort(erase)
	for i := len(erase) - 1; i >= 0; i-- {
		s.cache.EraseRow(erase[i])
	}

	s.logger.Info("batch finished row by row",
		zap.String("batch", b.id),
		zap.Int("acknowledged", len(b.acked)),
		zap.Int("restarted", restarted),
		zap.Int("failed", b.failed))
}

// Drain applies results until no call is outstanding or ctx is done.
func (s *Synchronizer) Drain(ctx context.Context) error {
	for s.outstanding > 0 {
		select {
		case r := <-s.results:
			s.Apply(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Sync pushes local changes and waits until they are applied. It returns
// the number of rows left failed.
func (s *Synchronizer) Sync(ctx context.Context) (int, error) {
	if _, err := s.Push(ctx); err != nil {
		return 0, err
	}
	if err := s.Drain(ctx); err != nil {
		return 0, err
	}
	return len(s.cache.FailedRows()), nil
}

// Stats returns the counters of the worker pool running backend calls.
func (s *Synchronizer) Stats() workerpool.Stats {
	return s.pool.Stats()
}

// Close stops the workers. Results not yet applied are discarded.
func (s *Synchronizer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		close(s.done)
		err = s.pool.Stop(s.stopTimeout)

		stats := s.pool.Stats()
		s.logger.Debug("synchronizer closed",
			zap.Uint64("calls", stats.TotalJobs),
			zap.Uint64("failed", stats.FailedJobs),
			zap.Uint64("rejected", stats.RejectedJobs),
			zap.Float64("success_rate", stats.SuccessRate()))
	})
	return err
}
