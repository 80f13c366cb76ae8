package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
)

// Submitter accepts delivery jobs for execution. Satisfied by Pool; the
// dispatcher and retry scheduler only depend on this.
type Submitter interface {
	Submit(job engine.DeliveryJob)
}

// Pool runs a fixed number of worker goroutines draining delivery jobs, so a
// single slow endpoint cannot starve deliveries for other subscriptions.
type Pool struct {
	numWorkers int
	jobs       chan engine.DeliveryJob
	deliverer  *Deliverer
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewPool(numWorkers int, deliverer *Deliverer, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan engine.DeliveryJob, numWorkers*2),
		deliverer:  deliverer,
		logger:     logger,
	}
}

// Start launches the worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit sends a job to the pool. After Stop the job is dropped rather than
// sent on the closed channel; the ledger row stays pending and is visible to
// operators.
func (p *Pool) Submit(job engine.DeliveryJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.logger.Warn("pool stopped, dropping job", "delivery_id", job.DeliveryID)
		return
	}
	p.jobs <- job
}

// Stop closes the jobs channel and waits for all workers to finish.
// Idempotent; Submit calls racing with Stop either land before the close or
// are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.deliverer.Deliver(ctx, job)
		}
	}
}
