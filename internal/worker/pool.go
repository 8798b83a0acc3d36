// Package worker runs classification jobs on a fixed number of goroutines fed
// by a bounded queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/imageclassify/internal/logging"
)

// ErrClosed is returned by Submit once Shutdown has begun.
var ErrClosed = errors.New("worker: pool closed")

// Job holds the attributes needed to perform one unit of work.
type Job struct {
	ID       string
	Enqueued time.Time
}

// Handler processes one job. ctx carries the per-job deadline.
type Handler func(ctx context.Context, job Job)

// Options configures a Pool.
type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Pool dispatches submitted jobs to a fixed set of workers.
type Pool struct {
	handler Handler
	jobs    chan Job
	workers int
	timeout time.Duration
	logger  *zap.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	quit       chan struct{}
	quitOnce   sync.Once
	startOnce  sync.Once

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool. Workers and QueueSize default to 1 and 0 (an
// unbuffered hand-off) when unset.
func NewPool(handler Handler, opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler:    handler,
		jobs:       make(chan Job, queueSize),
		workers:    workers,
		timeout:    opts.JobTimeout,
		logger:     logger.Named("worker_pool"),
		baseCtx:    ctx,
		cancelBase: cancel,
		quit:       make(chan struct{}),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting workers", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.jobs)))
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(i + 1)
		}
	})
}

// Submit enqueues job, blocking while the queue is full until a slot frees,
// ctx ends, or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now()
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrClosed
	}
}

// Pending reports how many jobs are queued but not yet picked up.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx ends first, running jobs see their context cancelled and
// ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelBase()
		return nil
	case <-ctx.Done():
		p.cancelBase()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))
	for job := range p.jobs {
		p.run(logger, job)
	}
	logger.Debug("worker stopping")
}

func (p *Pool) run(logger *zap.Logger, job Job) {
	ctx := p.baseCtx
	var cancel context.CancelFunc = func() {}
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.WithOperation(logger, "worker.run", job.ID).Error("job handler panicked", zap.Any("panic", r))
		}
	}()

	logging.WithOperation(logger, "worker.run", job.ID).Debug("job picked up", zap.Duration("queued_for", time.Since(job.Enqueued)))
	p.handler(ctx, job)
}
