package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamshubha/poly-copytrade-sub000/internal/metrics"
	"github.com/iamshubha/poly-copytrade-sub000/internal/queue"
)

// WorkerPool runs a fixed number of goroutines, each reserving and
// executing jobs in a loop, draining the queue with a default pool size
// of 10.
type WorkerPool struct {
	concurrency int
	queue       queue.Queue
	executor    *Executor
	log         zerolog.Logger
	pollIdle    time.Duration

	wg sync.WaitGroup
}

// NewWorkerPool constructs a WorkerPool of size concurrency.
func NewWorkerPool(concurrency int, q queue.Queue, ex *Executor, log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		concurrency: concurrency,
		queue:       q,
		executor:    ex,
		log:         log.With().Str("component", "worker_pool").Logger(),
		pollIdle:    200 * time.Millisecond,
	}
}

// Start launches the worker goroutines. They run until ctx is cancelled.
// A worker does not ack a job it is mid-execution on when ctx is
// cancelled — it finishes the current
// Execute call and then exits, leaving the visibility timeout to return
// any truly abandoned job to the queue.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() { p.wg.Wait() }

func (p *WorkerPool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Reserve(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("reserve failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollIdle):
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollIdle):
			}
			continue
		}

		outcome := p.executor.Execute(ctx, job.IntentID)
		switch outcome {
		case OutcomeAck:
			metrics.ObserveWorkerJob("ack")
			if err := p.queue.Ack(ctx, *job); err != nil {
				log.Error().Err(err).Str("intent_id", job.IntentID).Msg("ack failed")
			}
		default:
			metrics.ObserveWorkerJob("retry")
			if err := p.queue.Nack(ctx, *job, false); err != nil {
				log.Error().Err(err).Str("intent_id", job.IntentID).Msg("nack failed")
			}
		}
	}
}
