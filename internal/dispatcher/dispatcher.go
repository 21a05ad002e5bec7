// Package dispatcher accepts scrape jobs and fans queue work out to workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/scrape"
	"github.com/JakeFAU/catalog-gateway/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue    scrape.Queue
	jobStore scrape.JobStore
	ids      scrape.IDGenerator
	clock    scrape.Clock
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue scrape.Queue,
	jobStore scrape.JobStore,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		jobStore: jobStore,
		ids:      ids,
		clock:    clock,
		workers:  workers,
		logger:   logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued job and hands it to the workers.
func (d *Dispatcher) Submit(ctx context.Context, params scrape.JobParameters) (scrape.Job, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scrape.Job{
		ID:         id,
		Status:     scrape.JobStatusQueued,
		Submitted:  d.clock.Now(),
		Parameters: params,
	}
	if err := d.jobStore.CreateJob(ctx, job); err != nil {
		return scrape.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, scrape.QueueItem{JobID: id, Params: params, Submitted: job.Submitted.UnixMilli()}); err != nil {
		if updErr := d.jobStore.UpdateJobStatus(ctx, id, scrape.JobStatusFailed, err.Error(), scrape.JobCounters{}); updErr != nil {
			d.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(updErr))
		}
		return scrape.Job{}, err
	}
	d.logger.Info("job queued", zap.String("job_id", id), zap.Int("urls", len(params.URLs)))
	return job, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
