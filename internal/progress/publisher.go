// Package progress publishes per-batch outcomes of a running job: partial
// results go to the partial-result store, progress and failures go to the
// job store.
package progress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"translator/internal/store"
)

const (
	// DispatchProgress is reported once batches are in flight
	DispatchProgress = 10.0
	// BatchSpan is the share of progress earned by completing batches
	BatchSpan = 85.0
)

// Progress returns 10 + 85*completed/total
func Progress(completed, total int) float64 {
	if total <= 0 {
		return DispatchProgress
	}
	return DispatchProgress + BatchSpan*float64(completed)/float64(total)
}

// Publisher writes job progress and partial results
type Publisher struct {
	jobs     store.JobStore
	partials store.PartialStore
	ttl      time.Duration
}

// NewPublisher creates a publisher whose partial results live for ttl
func NewPublisher(jobs store.JobStore, partials store.PartialStore, ttl time.Duration) *Publisher {
	return &Publisher{
		jobs:     jobs,
		partials: partials,
		ttl:      ttl,
	}
}

// Track starts tracking a job made of total batches
func (p *Publisher) Track(jobID string, total int) *Tracker {
	return &Tracker{
		p:      p,
		jobID:  jobID,
		total:  total,
		logger: log.With().Str("jobId", jobID).Int("batches", total).Logger(),
	}
}

// Tracker holds the per-job completion counter. Its methods may be called
// from several goroutines.
type Tracker struct {
	p      *Publisher
	jobID  string
	total  int
	logger zerolog.Logger

	completed atomic.Int64
	failed    atomic.Bool
}

// Completed returns how many batches have succeeded so far
func (t *Tracker) Completed() int {
	return int(t.completed.Load())
}

// HasFailed reports whether the job has been marked failed
func (t *Tracker) HasFailed() bool {
	return t.failed.Load()
}

// Dispatched records that the job's batches are in flight
func (t *Tracker) Dispatched(ctx context.Context, batches int) {
	msg := fmt.Sprintf("Dispatched %d batches", batches)
	if _, err := t.p.jobs.UpdateProgress(ctx, t.jobID, DispatchProgress, msg); err != nil {
		t.logger.Error().Err(err).Msg("Failed to record dispatch progress")
	}
}

// BatchSucceeded stores the batch text and advances progress. After the job
// has failed the text is still stored but progress no longer moves.
func (t *Tracker) BatchSucceeded(ctx context.Context, index int, text string) {
	if err := t.p.partials.PutPartial(ctx, t.jobID, index, text, t.p.ttl); err != nil {
		t.logger.Warn().Err(err).Int("batch", index).Msg("Failed to store partial result")
	}

	n := int(t.completed.Add(1))
	if t.failed.Load() {
		t.logger.Debug().Int("batch", index).Msg("Stored partial result of failed job")
		return
	}

	progress := Progress(n, t.total)
	msg := fmt.Sprintf("Completed batch %d (%d/%d, %.1f%%)", index, n, t.total, progress)

	if _, err := t.p.jobs.UpdateProgress(ctx, t.jobID, progress, msg); err != nil {
		t.logger.Error().Err(err).Int("batch", index).Msg("Failed to update progress")
		return
	}

	t.logger.Debug().
		Int("batch", index).
		Int("completed", n).
		Float64("progress", progress).
		Msg("Batch completed")
}

// BatchFailed marks the job failed. Only the first failure is recorded.
func (t *Tracker) BatchFailed(ctx context.Context, index int, err error) {
	if !t.failed.CompareAndSwap(false, true) {
		return
	}
	t.fail(ctx, err.Error())
	t.logger.Warn().Err(err).Int("batch", index).Msg("Job failed")
}

// Fail marks the job failed for a reason not tied to a batch
func (t *Tracker) Fail(ctx context.Context, message string) {
	if !t.failed.CompareAndSwap(false, true) {
		return
	}
	t.fail(ctx, message)
	t.logger.Warn().Str("reason", message).Msg("Job failed")
}

func (t *Tracker) fail(ctx context.Context, message string) {
	if _, err := t.p.jobs.MarkFailed(ctx, t.jobID, message, nil); err != nil {
		t.logger.Error().Err(err).Msg("Failed to mark job failed")
	}
}

// Complete records the final result at progress 100
func (t *Tracker) Complete(ctx context.Context, c store.Completion) error {
	ok, err := t.p.jobs.MarkCompleted(ctx, t.jobID, c)
	if err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}
	if !ok {
		t.logger.Warn().Msg("Job was no longer running at completion")
	}
	return nil
}
