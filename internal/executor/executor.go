// Package executor runs the batches of one job concurrently and reassembles
// their translations in index order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"translator/internal/adapter"
	"translator/internal/model"
	"translator/internal/retry"
)

var (
	// ErrOrderAssemblyInvariantViolation means the resolved batches do not
	// cover the job's full index range
	ErrOrderAssemblyInvariantViolation = errors.New("order assembly invariant violation")

	errSkipped = errors.New("batch skipped after job failure")
)

// JobFailure names the batch that failed the job and why
type JobFailure struct {
	BatchIndex int
	Attempts   int
	Cause      error
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("batch %d failed after %d attempt(s): %s: %v",
		e.BatchIndex, e.Attempts, adapter.KindOf(e.Cause), rootCause(e.Cause))
}

func (e *JobFailure) Unwrap() error {
	return e.Cause
}

// rootCause strips the retry and classification wrappers for messages
func rootCause(err error) error {
	var bf *retry.BatchFailure
	if errors.As(err, &bf) && bf.Cause != nil {
		err = bf.Cause
	}
	var f *adapter.Failure
	if errors.As(err, &f) && f.Err != nil {
		err = f.Err
	}
	return err
}

// Reporter receives batch outcomes as they resolve, first completed first
type Reporter interface {
	Dispatched(ctx context.Context, batches int)
	BatchSucceeded(ctx context.Context, index int, text string)
	BatchFailed(ctx context.Context, index int, err error)
}

// Request describes one job execution
type Request struct {
	Job         *model.Job
	Translator  adapter.Translator
	Batches     []model.Batch
	Concurrency int
	// Done holds batch texts already produced by an earlier attempt
	Done map[int]string
}

// Outcome summarizes an execution
type Outcome struct {
	Text      string
	Completed int
	Failed    int
	Skipped   int
}

// Executor drives batches through the retry controller
type Executor struct {
	retry *retry.Controller
}

// New creates an executor using rc for every batch
func New(rc *retry.Controller) *Executor {
	return &Executor{retry: rc}
}

// Run executes every batch of req and returns the assembled text. A failed
// batch yields a *JobFailure; once one is seen, batches not yet started are
// skipped and in-flight batches stop retrying, but in-flight calls are
// allowed to finish and their results are still reported.
func (e *Executor) Run(ctx context.Context, req Request, reporter Reporter) (*Outcome, error) {
	outcome := &Outcome{}

	if len(req.Batches) == 0 {
		return outcome, fmt.Errorf("%w: job has no batches", ErrOrderAssemblyInvariantViolation)
	}
	for i, b := range req.Batches {
		if b.Index != i {
			return outcome, fmt.Errorf("%w: batch at position %d has index %d", ErrOrderAssemblyInvariantViolation, i, b.Index)
		}
	}

	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	logger := log.With().
		Str("jobId", req.Job.ID).
		Str("model", req.Job.Model).
		Str("translator", req.Translator.Name()).
		Logger()

	logger.Info().
		Int("batches", len(req.Batches)).
		Int("concurrency", concurrency).
		Int("resumed", len(req.Done)).
		Msg("Executing batches")

	reporter.Dispatched(ctx, len(req.Batches))

	var failed atomic.Bool
	results := make(chan model.BatchResult, len(req.Batches))

	go func() {
		var g errgroup.Group
		g.SetLimit(concurrency)

		for _, b := range req.Batches {
			if text, ok := req.Done[b.Index]; ok {
				results <- model.BatchResult{Index: b.Index, Text: text}
				continue
			}
			if failed.Load() {
				results <- model.BatchResult{Index: b.Index, Err: errSkipped}
				continue
			}

			b := b
			g.Go(func() error {
				if failed.Load() {
					results <- model.BatchResult{Index: b.Index, Err: errSkipped}
					return nil
				}
				results <- e.runBatch(ctx, req, b, failed.Load)
				return nil
			})
		}

		_ = g.Wait()
		close(results)
	}()

	texts := make([]string, len(req.Batches))
	have := make([]bool, len(req.Batches))
	var firstFailure *JobFailure
	var invariantErr error

	for res := range results {
		switch {
		case errors.Is(res.Err, errSkipped):
			outcome.Skipped++

		case res.Err != nil:
			outcome.Failed++
			if firstFailure == nil {
				firstFailure = &JobFailure{BatchIndex: res.Index, Attempts: res.Attempts, Cause: res.Err}
				failed.Store(true)
				reporter.BatchFailed(ctx, res.Index, firstFailure)
			}

		default:
			if res.Index < 0 || res.Index >= len(have) || have[res.Index] {
				invariantErr = fmt.Errorf("%w: unexpected result for batch %d", ErrOrderAssemblyInvariantViolation, res.Index)
				continue
			}
			texts[res.Index] = res.Text
			have[res.Index] = true
			outcome.Completed++
			reporter.BatchSucceeded(ctx, res.Index, res.Text)
		}
	}

	if firstFailure != nil {
		return outcome, firstFailure
	}
	if invariantErr != nil {
		return outcome, invariantErr
	}
	for i, ok := range have {
		if !ok {
			return outcome, fmt.Errorf("%w: batch %d has no result", ErrOrderAssemblyInvariantViolation, i)
		}
	}

	outcome.Text = strings.Join(texts, "")
	return outcome, nil
}

func (e *Executor) runBatch(ctx context.Context, req Request, b model.Batch, abort func() bool) (res model.BatchResult) {
	res.Index = b.Index
	segments := b.Texts()

	logger := log.With().
		Str("jobId", req.Job.ID).
		Int("batch", b.Index).
		Int("segments", len(segments)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Translator panicked")
			res.Err = adapter.Permanent(fmt.Errorf("translator panic: %v", r))
			res.Translations = nil
			res.Text = ""
		}
	}()

	var translations []string
	attempts, err := e.retry.Do(ctx, abort, func(ctx context.Context, attempt int) error {
		out, err := req.Translator.Translate(ctx, segments, req.Job.Model, req.Job.Credential)
		if err == nil {
			err = adapter.CheckCount(len(out), len(segments))
		}
		if err != nil {
			logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Bool("permanent", adapter.IsPermanent(err)).
				Msg("Batch attempt failed")
			return err
		}
		translations = out
		return nil
	})

	res.Attempts = attempts
	if err != nil {
		res.Err = err
		return res
	}

	res.Translations = translations
	res.Text = b.Join(translations)
	return res
}
