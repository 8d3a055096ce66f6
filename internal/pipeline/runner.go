// Package pipeline runs one claimed job end to end: segmentation, batch
// execution, archiving, completion and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"translator/internal/adapter"
	"translator/internal/config"
	"translator/internal/executor"
	"translator/internal/model"
	"translator/internal/progress"
	"translator/internal/retry"
	"translator/internal/segment"
	"translator/internal/store"
)

// Resolver picks the translator for a model name
type Resolver interface {
	Resolve(model string) (adapter.Translator, error)
}

// Archiver stores a completed job's text and returns its location
type Archiver interface {
	UploadResult(ctx context.Context, jobID, text string) (string, error)
}

// Notifier tells the caller that a job finished
type Notifier interface {
	Notify(ctx context.Context, job *model.Job) error
}

// Deps are the collaborators of a Runner. Archive and Notifier are optional.
type Deps struct {
	Jobs        store.JobStore
	Partials    store.PartialStore
	Segmenter   *segment.Engine
	Translators Resolver
	Archive     Archiver
	Notifier    Notifier
}

// Runner executes claimed jobs
type Runner struct {
	deps      Deps
	opts      config.PipelineOptions
	executor  *executor.Executor
	publisher *progress.Publisher
	now       func() time.Time
}

// NewRunner creates a runner with the given options
func NewRunner(deps Deps, opts config.PipelineOptions) *Runner {
	rc := retry.New(retry.Policy{
		MaxAttempts: opts.MaxRetryAttempts,
		Base:        opts.BackoffBase,
		Ceiling:     opts.BackoffCeiling,
	})

	return &Runner{
		deps:      deps,
		opts:      opts,
		executor:  executor.New(rc),
		publisher: progress.NewPublisher(deps.Jobs, deps.Partials, opts.PartialResultTTL),
		now:       time.Now,
	}
}

// Run executes a job the caller has already claimed. The returned error
// describes why the job failed; the failure is already recorded in the job
// store.
func (r *Runner) Run(ctx context.Context, job *model.Job) error {
	start := r.now()
	logger := log.With().
		Str("jobId", job.ID).
		Str("model", job.Model).
		Int("priority", job.Priority).
		Logger()

	logger.Info().Int("chars", len(job.Content)).Msg("Processing job")

	batches, totalChars, err := r.deps.Segmenter.Split(job.Content)
	if err != nil {
		r.fail(ctx, logger, job.ID, fmt.Sprintf("segmentation failed: %v", err), nil)
		return err
	}

	tracker := r.publisher.Track(job.ID, len(batches))

	translator, err := r.deps.Translators.Resolve(job.Model)
	if err != nil {
		reason := fmt.Sprintf("model %q: %v", job.Model, err)
		tracker.Fail(ctx, reason)
		r.finish(ctx, logger, job.ID, r.metrics(start, len(batches), totalChars, nil), reason)
		return err
	}

	done := r.resumed(ctx, logger, job.ID, len(batches))
	concurrency := r.deps.Segmenter.Concurrency(totalChars, r.opts.MaxConcurrentBatchesPerJob, len(batches))

	ctx = adapter.WithLanguages(ctx, adapter.Languages{
		Source: job.MetadataString("source_language"),
		Target: job.MetadataString("target_language"),
	})

	outcome, err := r.executor.Run(ctx, executor.Request{
		Job:         job,
		Translator:  translator,
		Batches:     batches,
		Concurrency: concurrency,
		Done:        done,
	}, tracker)

	metrics := r.metrics(start, len(batches), totalChars, outcome)

	if err != nil {
		reason := err.Error()
		var failure *executor.JobFailure
		if !errors.As(err, &failure) {
			reason = fmt.Sprintf("internal error: %v", err)
			tracker.Fail(ctx, reason)
		}
		r.finish(ctx, logger, job.ID, metrics, reason)
		return err
	}

	completion := store.Completion{
		Result:  outcome.Text,
		Message: fmt.Sprintf("Translated %d batches with %s", len(batches), translator.Name()),
		Metrics: metrics,
	}

	if r.deps.Archive != nil {
		url, err := r.deps.Archive.UploadResult(ctx, job.ID, outcome.Text)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to archive result, keeping it inline")
		} else {
			completion.ResultURL = url
		}
	}

	if err := tracker.Complete(ctx, completion); err != nil {
		logger.Error().Err(err).Msg("Failed to record completion")
		return err
	}

	r.finish(ctx, logger, job.ID, metrics, "")
	return nil
}

// resumed loads batch texts left by an earlier attempt at this job
func (r *Runner) resumed(ctx context.Context, logger zerolog.Logger, jobID string, batches int) map[int]string {
	rec, err := r.deps.Partials.GetPartials(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to load partial results, starting from scratch")
		}
		return nil
	}

	done := make(map[int]string, len(rec.Batches))
	for idx, text := range rec.Batches {
		if idx >= 0 && idx < batches {
			done[idx] = text
		}
	}
	if len(done) > 0 {
		logger.Info().Int("resumed", len(done)).Msg("Resuming job from partial results")
	}
	return done
}

func (r *Runner) metrics(start time.Time, batches, totalChars int, outcome *executor.Outcome) *model.JobMetrics {
	elapsed := r.now().Sub(start)
	m := &model.JobMetrics{
		TotalTimeMs:  elapsed.Milliseconds(),
		TotalBatches: batches,
	}
	if outcome != nil {
		m.BatchesCompleted = outcome.Completed
		m.BatchesFailed = outcome.Failed
	}
	if secs := elapsed.Seconds(); secs > 0 && outcome != nil && outcome.Failed == 0 {
		m.CharsPerSecond = float64(totalChars) / secs
	}
	return m
}

func (r *Runner) fail(ctx context.Context, logger zerolog.Logger, jobID, message string, metrics *model.JobMetrics) {
	if _, err := r.deps.Jobs.MarkFailed(ctx, jobID, message, metrics); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job failed")
	}
	logger.Warn().Str("reason", message).Msg("Job failed")
	r.notify(ctx, logger, jobID)
}

// finish records metrics and notifies the caller. A non-empty reason means
// the job failed; it is written again in case the first failure write was
// lost, and a store that already holds the failure keeps its message.
func (r *Runner) finish(ctx context.Context, logger zerolog.Logger, jobID string, metrics *model.JobMetrics, reason string) {
	ok := reason == ""
	if !ok {
		if _, err := r.deps.Jobs.MarkFailed(ctx, jobID, reason, metrics); err != nil {
			logger.Error().Err(err).Msg("Failed to record job failure")
		}
	}

	logger.Info().
		Bool("success", ok).
		Int64("totalTimeMs", metrics.TotalTimeMs).
		Int("batches", metrics.TotalBatches).
		Int("batchesCompleted", metrics.BatchesCompleted).
		Int("batchesFailed", metrics.BatchesFailed).
		Float64("charsPerSecond", metrics.CharsPerSecond).
		Msg("Job finished")

	r.notify(ctx, logger, jobID)
}

func (r *Runner) notify(ctx context.Context, logger zerolog.Logger, jobID string) {
	if r.deps.Notifier == nil {
		return
	}
	job, err := r.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load job for webhook")
		return
	}
	if job.WebhookURL == "" {
		return
	}
	if err := r.deps.Notifier.Notify(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("Webhook notification failed")
	}
}
