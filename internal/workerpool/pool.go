// Package workerpool runs backend calls on a bounded set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Errors returned by Submit.
var (
	ErrStopped   = errors.New("worker pool is stopped")
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Job is a unit of work. Done, when set, is called with the job's error
// after Fn returns, including when Fn panicked.
type Job struct {
	ID      string
	Fn      func(context.Context) error
	Context context.Context
	Done    func(error)
}

// WorkerPool manages a bounded pool of goroutines for executing jobs.
type WorkerPool struct {
	name          string
	maxWorkers    int
	queue         chan Job
	queueSize     int
	logger        *zap.Logger
	wg            sync.WaitGroup
	stopOnce      sync.Once
	stopChan      chan struct{}
	activeWorkers int32
	totalJobs     uint64
	completedJobs uint64
	failedJobs    uint64
	rejectedJobs  uint64
}

// Config holds worker pool configuration.
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// New creates a worker pool and starts its workers.
func New(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		queueSize:  cfg.QueueSize,
		queue:      make(chan Job, cfg.QueueSize),
		logger:     cfg.Logger.With(zap.String("pool", cfg.Name)),
		stopChan:   make(chan struct{}),
	}

	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Debug("worker pool started",
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", pool.queueSize))

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.queue:
			p.execute(id, job)
		}
	}
}

func (p *WorkerPool) execute(workerID int, job Job) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()
	err := p.safeExecute(job)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedJobs, 1)
		p.logger.Debug("job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedJobs, 1)
		p.logger.Debug("job completed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID),
			zap.Duration("duration", duration))
	}

	if job.Done != nil {
		job.Done(err)
	}
}

// safeExecute runs the job, turning a panic into an error.
func (p *WorkerPool) safeExecute(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
			p.logger.Error("job panic recovered",
				zap.String("job_id", job.ID),
				zap.Any("panic", r))
		}
	}()

	ctx := job.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return job.Fn(ctx)
}

// Submit queues a job without blocking.
// Returns ErrQueueFull or ErrStopped if the job was not accepted.
func (p *WorkerPool) Submit(job Job) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedJobs, 1)
		return fmt.Errorf("%w: %s", ErrStopped, p.name)
	default:
	}

	select {
	case p.queue <- job:
		atomic.AddUint64(&p.totalJobs, 1)
		return nil
	default:
		atomic.AddUint64(&p.rejectedJobs, 1)
		return fmt.Errorf("%w: %s", ErrQueueFull, p.name)
	}
}

// Stop stops the workers and waits up to timeout for running jobs.
// Jobs still queued are discarded.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Debug("worker pool stopped")
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("worker pool stop timeout", zap.Duration("timeout", timeout))
		}
	})
	return err
}

// Stats returns current worker pool statistics.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:          p.name,
		MaxWorkers:    p.maxWorkers,
		ActiveWorkers: int(atomic.LoadInt32(&p.activeWorkers)),
		QueueSize:     p.queueSize,
		QueuedJobs:    len(p.queue),
		TotalJobs:     atomic.LoadUint64(&p.totalJobs),
		CompletedJobs: atomic.LoadUint64(&p.completedJobs),
		FailedJobs:    atomic.LoadUint64(&p.failedJobs),
		RejectedJobs:  atomic.LoadUint64(&p.rejectedJobs),
	}
}

// Stats is a snapshot of worker pool counters.
type Stats struct {
	Name          string
	MaxWorkers    int
	ActiveWorkers int
	QueueSize     int
	QueuedJobs    int
	TotalJobs     uint64
	CompletedJobs uint64
	FailedJobs    uint64
	RejectedJobs  uint64
}

// SuccessRate returns the percentage of accepted jobs that succeeded.
func (s Stats) SuccessRate() float64 {
	if s.TotalJobs == 0 {
		return 100.0
	}
	return (float64(s.CompletedJobs) / float64(s.TotalJobs)) * 100.0
}
