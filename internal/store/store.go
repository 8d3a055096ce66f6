// Package store defines the job status and partial-result stores shared by
// the API and the workers, and provides in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"translator/internal/model"
)

var (
	// ErrNotFound is returned for unknown or expired keys
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when creating a job whose id already exists
	ErrDuplicate = errors.New("duplicate job id")

	// ErrLeaseLost means the worker no longer owns the job it is renewing
	ErrLeaseLost = errors.New("lease lost")
)

// JobStore is the durable record of each job's lifecycle. All mutations are
// conditional on the job's current state so concurrent writers cannot move a
// job backwards.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetStatus(ctx context.Context, id string) (*model.StatusRecord, error)

	// Claim moves a pending job, or a started job whose lease has expired,
	// to started under workerID. It returns false when the job belongs to
	// someone else or is terminal.
	Claim(ctx context.Context, id, workerID string, lease time.Duration) (bool, error)
	RenewLease(ctx context.Context, id, workerID string, lease time.Duration) error

	// UpdateProgress applies only while the job is started and progress
	// does not decrease. It reports whether the record changed.
	UpdateProgress(ctx context.Context, id string, progress float64, message string) (bool, error)
	MarkFailed(ctx context.Context, id, message string, metrics *model.JobMetrics) (bool, error)
	MarkCompleted(ctx context.Context, id string, result Completion) (bool, error)

	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
	Health() error
}

// Completion carries the final output of a successful job
type Completion struct {
	Result    string
	ResultURL string
	Message   string
	Metrics   *model.JobMetrics
}

// PartialStore holds per-batch translated text for a bounded time
type PartialStore interface {
	// PutPartial stores text for batchIndex unless that index already has
	// a value. The record's retention window starts at its first write.
	PutPartial(ctx context.Context, jobID string, batchIndex int, text string, ttl time.Duration) error
	GetPartials(ctx context.Context, jobID string) (*model.PartialResultRecord, error)
	Health() error
}
