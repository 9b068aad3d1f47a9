package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolStopped is returned when submitting to a pool that is shutting down
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is a unit of work run by one pool worker
type Job func(workerID int)

// Pool runs jobs on a fixed number of workers fed by a bounded queue
type Pool struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job
	quit    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a pool with the given number of workers and queue capacity
func NewPool(logger *slog.Logger, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, queueSize),
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Submit queues job without blocking. It reports false when the queue is
// full or the pool is stopping.
func (p *Pool) Submit(job Job) bool {
	select {
	case <-p.quit:
		return false
	default:
	}

	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// SubmitWait queues job, blocking until there is room, ctx is done or the
// pool stops
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the workers to finish the jobs already queued and waits for them
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

// Len returns the number of queued jobs
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Cap returns the queue capacity
func (p *Pool) Cap() int {
	return cap(p.jobs)
}

func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", slog.Int("worker_id", workerID))

	for {
		select {
		case job := <-p.jobs:
			p.run(job, workerID)
		case <-p.quit:
			p.drain(workerID)
			p.logger.Debug("Worker stopped", slog.Int("worker_id", workerID))
			return
		}
	}
}

func (p *Pool) drain(workerID int) {
	for {
		select {
		case job := <-p.jobs:
			p.run(job, workerID)
		default:
			return
		}
	}
}

// run executes job and keeps the worker alive if it panics
func (p *Pool) run(job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job panicked",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
			)
		}
	}()
	job(workerID)
}
