package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/anime-shed/image-classifier-go/internal/logger"
)

// Stats is a point-in-time view of the pool counters
type Stats struct {
	Workers       int   `json:"workers"`
	QueueCapacity int   `json:"queue_capacity"`
	Queued        int   `json:"queued"`
	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	RejectedJobs  int64 `json:"rejected_jobs"`
	ActiveWorkers int64 `json:"active_workers"`
}

// Pool runs analysis jobs on a fixed number of goroutines with a bounded queue
type Pool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	startOne sync.Once
	closeOne sync.Once

	mu     sync.RWMutex
	closed bool

	totalJobs     atomic.Int64
	completedJobs atomic.Int64
	rejectedJobs  atomic.Int64
	activeWorkers atomic.Int64
}

// NewPool creates a pool. workers <= 0 uses the CPU count; queueSize <= 0
// uses twice the worker count.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	return &Pool{
		workers:  workers,
		jobQueue: make(chan func(), queueSize),
	}
}

// Start initializes and starts all workers in the pool
func (p *Pool) Start() {
	p.startOne.Do(func() {
		for i := 0; i < p.workers; i++ {
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	for job := range p.jobQueue {
		p.run(job)
	}
}

func (p *Pool) run(job func()) {
	p.activeWorkers.Add(1)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Worker job panicked")
		}
		p.activeWorkers.Add(-1)
		p.completedJobs.Add(1)
		p.wg.Done()
	}()
	job()
}

// Submit queues job without blocking. It returns false when the queue is
// full or the pool is closed.
func (p *Pool) Submit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejectedJobs.Add(1)
		return false
	}

	p.wg.Add(1)
	select {
	case p.jobQueue <- job:
		p.totalJobs.Add(1)
		return true
	default:
		p.wg.Done()
		p.rejectedJobs.Add(1)
		return false
	}
}

// Wait waits for all submitted jobs to complete
func (p *Pool) Wait() {
	p.wg.Wait()
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if jobs are
// still running when ctx is done.
func (p *Pool) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (p *Pool) Close() {
	p.closeOne.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobQueue)
		p.mu.Unlock()
	})
}

// GetStats returns the current counters
func (p *Pool) GetStats() Stats {
	return Stats{
		Workers:       p.workers,
		QueueCapacity: cap(p.jobQueue),
		Queued:        len(p.jobQueue),
		TotalJobs:     p.totalJobs.Load(),
		CompletedJobs: p.completedJobs.Load(),
		RejectedJobs:  p.rejectedJobs.Load(),
		ActiveWorkers: p.activeWorkers.Load(),
	}
}
