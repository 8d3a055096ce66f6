// Package orchestrator runs the worker pool that pulls jobs off the queue,
// claims them and hands them to the pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"translator/internal/model"
	"translator/internal/queue"
	"translator/internal/store"
)

// duplicateRequeueDelay is how long a delivery for a job leased elsewhere is
// held before it goes back to the queue. It stays far below any consumer
// timeout so the lane keeps moving.
const duplicateRequeueDelay = 5 * time.Second

// Source yields queue deliveries in dispatch order
type Source interface {
	Next(ctx context.Context) (queue.Delivery, error)
}

// JobRunner executes a claimed job
type JobRunner interface {
	Run(ctx context.Context, job *model.Job) error
}

// RunnerFunc adapts a function to JobRunner
type RunnerFunc func(ctx context.Context, job *model.Job) error

func (f RunnerFunc) Run(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

// Pool is a fixed set of workers, each running one job at a time
type Pool struct {
	source   Source
	jobs     store.JobStore
	runner   JobRunner
	registry WorkerRegistry
	size     int
	lease    time.Duration
	requeue  time.Duration

	cancel    context.CancelFunc
	stopped   chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	deferrals sync.WaitGroup
}

// NewPool creates a pool of size workers. Claimed jobs hold a lease of the
// given length, renewed while they run.
func NewPool(source Source, jobs store.JobStore, runner JobRunner, size int, lease time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		source:   source,
		jobs:     jobs,
		runner:   runner,
		registry: NewWorkerRegistry(),
		size:     size,
		lease:    lease,
		requeue:  duplicateRequeueDelay,
		stopped:  make(chan struct{}),
	}
}

// Registry exposes the pool's worker states
func (p *Pool) Registry() WorkerRegistry {
	return p.registry
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		p.registry.Register(workerID)

		p.wg.Add(1)
		go p.work(ctx, workerID)
	}

	log.Info().Int("workers", p.size).Dur("lease", p.lease).Msg("Worker pool started")
}

// Stop stops pulling new jobs and waits for running ones to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.stopped)
	})
	p.wg.Wait()
	p.deferrals.Wait()
	log.Info().Msg("Worker pool stopped")
}

func (p *Pool) work(ctx context.Context, workerID string) {
	defer p.wg.Done()
	defer p.registry.Unregister(workerID)

	logger := log.With().Str("workerId", workerID).Logger()

	for {
		d, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				logger.Debug().Msg("Worker exiting")
				return
			}
			logger.Error().Err(err).Msg("Failed to receive from queue")

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// running jobs finish even when the pool is stopping
		p.handle(context.WithoutCancel(ctx), logger, workerID, d)
	}
}

func (p *Pool) handle(ctx context.Context, logger zerolog.Logger, workerID string, d queue.Delivery) {
	msg := d.Message()
	logger = logger.With().Str("jobId", msg.JobID).Str("lane", string(d.Lane())).Logger()

	job, err := p.jobs.GetJob(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("Job not found, dropping message")
		p.settle(logger, d.Ack())
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load job, requeueing")
		p.settle(logger, d.Nack(true))
		return
	}

	claimed, err := p.jobs.Claim(ctx, job.ID, workerID, p.lease)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to claim job, requeueing")
		p.settle(logger, d.Nack(true))
		return
	}
	if !claimed {
		p.duplicate(ctx, logger, job.ID, d)
		return
	}

	p.registry.SetActive(workerID, job.ID)
	defer p.registry.SetIdle(workerID)

	renewCtx, stopRenew := context.WithCancel(ctx)
	go p.renew(renewCtx, logger, job.ID, workerID)

	err = p.run(ctx, logger, job)
	stopRenew()

	if err != nil {
		logger.Info().Err(err).Msg("Job ended in failure")
	}
	p.settle(logger, d.Ack())
}

// duplicate handles a delivery for a job another worker claimed. Terminal
// jobs are dropped. A job still under someone's lease goes back to the queue
// after a short delay, so it is picked up again if its owner dies.
func (p *Pool) duplicate(ctx context.Context, logger zerolog.Logger, jobID string, d queue.Delivery) {
	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil || job.Status.Terminal() || job.LeaseExpiresAt == nil {
		logger.Debug().Msg("Duplicate delivery, dropping message")
		p.settle(logger, d.Ack())
		return
	}

	delay := time.Until(*job.LeaseExpiresAt) + time.Second
	if delay > p.requeue {
		delay = p.requeue
	}
	if delay < 0 {
		delay = 0
	}
	logger.Debug().Time("leaseExpiresAt", *job.LeaseExpiresAt).Dur("requeueIn", delay).Msg("Job is leased by another worker, requeueing message")

	p.deferrals.Add(1)
	go func() {
		defer p.deferrals.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-p.stopped:
		}
		p.settle(logger, d.Nack(true))
	}()
}

func (p *Pool) run(ctx context.Context, logger zerolog.Logger, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Job runner panicked")
			err = fmt.Errorf("runner panic: %v", r)
			if _, merr := p.jobs.MarkFailed(ctx, job.ID, "internal error: "+err.Error(), nil); merr != nil {
				logger.Error().Err(merr).Msg("Failed to mark job failed")
			}
		}
	}()

	return p.runner.Run(ctx, job)
}

// renew extends the job's lease every third of its length
func (p *Pool) renew(ctx context.Context, logger zerolog.Logger, jobID, workerID string) {
	interval := p.lease / 3
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.jobs.RenewLease(ctx, jobID, workerID, p.lease)
			if errors.Is(err, store.ErrLeaseLost) {
				logger.Warn().Msg("Lease lost while job was running")
				return
			}
			if err != nil {
				logger.Error().Err(err).Msg("Failed to renew lease")
			}
		}
	}
}

func (p *Pool) settle(logger zerolog.Logger, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, queue.ErrSettled) {
		logger.Debug().Msg("Delivery was already settled")
		return
	}
	logger.Error().Err(err).Msg("Failed to settle delivery")
}
