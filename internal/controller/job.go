package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"translator/internal/metrics"
	"translator/internal/model"
	"translator/internal/orchestrator"
	"translator/internal/queue"
	"translator/internal/segment"
	"translator/internal/store"
)

// ErrModelRequired is returned when a submission names no model
var ErrModelRequired = errors.New("model is required")

// Enqueuer places a job id on the priority queue
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, priority int) (queue.Lane, error)
	Depths(ctx context.Context) (map[queue.Lane]int, error)
}

// SubmitRequest is a caller's translation request
type SubmitRequest struct {
	Content    string                 `json:"content"`
	Model      string                 `json:"model"`
	Credential string                 `json:"api_key"`
	Priority   int                    `json:"priority"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	WebhookURL string                 `json:"webhook_url,omitempty"`
}

// QueueStats summarises jobs, lanes and workers
type QueueStats struct {
	Jobs          map[model.JobStatus]int64 `json:"jobs"`
	Lanes         map[queue.Lane]int        `json:"lanes"`
	Workers       int                       `json:"workers"`
	ActiveWorkers int                       `json:"active_workers"`
	System        metrics.System            `json:"system"`
}

// JobController handles submission and read-side job operations
type JobController interface {
	// Submit validates and records a job, then queues it
	Submit(ctx context.Context, req SubmitRequest) (*model.Job, error)

	GetStatus(ctx context.Context, id string) (*model.StatusRecord, error)
	GetPartialResults(ctx context.Context, id string) (*model.PartialResultRecord, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)

	QueueStats(ctx context.Context) (*QueueStats, error)
}

type jobController struct {
	jobs     store.JobStore
	partials store.PartialStore
	queue    Enqueuer
	workers  orchestrator.WorkerRegistry
}

// NewJobController creates a job controller. workers may be nil when this
// process runs no worker pool.
func NewJobController(jobs store.JobStore, partials store.PartialStore, q Enqueuer, workers orchestrator.WorkerRegistry) JobController {
	return &jobController{
		jobs:     jobs,
		partials: partials,
		queue:    q,
		workers:  workers,
	}
}

func (c *jobController) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, segment.ErrEmptyContent
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, ErrModelRequired
	}

	job := &model.Job{
		ID:         uuid.NewString(),
		Content:    req.Content,
		Model:      req.Model,
		Credential: req.Credential,
		Priority:   req.Priority,
		Metadata:   req.Metadata,
		WebhookURL: req.WebhookURL,
		Status:     model.StatusPending,
		Message:    "Queued",
	}
	if job.WebhookURL == "" {
		job.WebhookURL = job.MetadataString("webhook")
	}

	if err := c.jobs.CreateJob(ctx, job); err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to create job")
		return nil, fmt.Errorf("create job: %w", err)
	}

	lane, err := c.queue.Enqueue(ctx, job.ID, job.Priority)
	if err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to enqueue job")
		if _, merr := c.jobs.MarkFailed(ctx, job.ID, "enqueue failed: "+err.Error(), nil); merr != nil {
			log.Error().Err(merr).Str("jobId", job.ID).Msg("Failed to mark job failed")
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	log.Info().
		Str("jobId", job.ID).
		Str("model", job.Model).
		Str("credential", job.MaskedCredential()).
		Int("priority", job.Priority).
		Str("lane", string(lane)).
		Int("chars", len(job.Content)).
		Msg("Job submitted")

	return job, nil
}

func (c *jobController) GetStatus(ctx context.Context, id string) (*model.StatusRecord, error) {
	return c.jobs.GetStatus(ctx, id)
}

func (c *jobController) GetPartialResults(ctx context.Context, id string) (*model.PartialResultRecord, error) {
	if _, err := c.jobs.GetStatus(ctx, id); err != nil {
		return nil, err
	}
	return c.partials.GetPartials(ctx, id)
}

// GetJob returns the full job. The result is only kept once the job has
// completed.
func (c *jobController) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusCompleted {
		job.Result = ""
		job.ResultURL = ""
	}
	return job, nil
}

func (c *jobController) QueueStats(ctx context.Context) (*QueueStats, error) {
	counts, err := c.jobs.CountByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count jobs by status")
		return nil, err
	}

	lanes, err := c.queue.Depths(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read queue depths")
	}

	stats := &QueueStats{
		Jobs:   counts,
		Lanes:  lanes,
		System: metrics.CollectSystem(ctx),
	}
	if c.workers != nil {
		stats.Workers = len(c.workers.Snapshot())
		stats.ActiveWorkers = c.workers.Active()
	}
	return stats, nil
}
