package model

import (
	"time"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusStarted   JobStatus = "started"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{StatusPending, StatusStarted, StatusCompleted, StatusFailed}

// JobMetrics is recorded once the job reaches a terminal state
type JobMetrics struct {
	TotalTimeMs      int64   `bson:"total_time_ms" json:"total_time_ms"`
	TotalBatches     int     `bson:"total_batches" json:"total_batches"`
	BatchesCompleted int     `bson:"batches_completed" json:"batches_completed"`
	BatchesFailed    int     `bson:"batches_failed" json:"batches_failed"`
	CharsPerSecond   float64 `bson:"chars_per_second" json:"chars_per_second"`
}

// Job is one end-to-end translation request
type Job struct {
	ID         string                 `bson:"_id" json:"id"`
	Content    string                 `bson:"content" json:"content"`
	Model      string                 `bson:"model" json:"model"`
	Credential string                 `bson:"credential" json:"-"`
	Priority   int                    `bson:"priority" json:"priority"`
	Metadata   map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	WebhookURL string                 `bson:"webhook_url,omitempty" json:"webhook_url,omitempty"`

	Status     JobStatus `bson:"status" json:"status"`
	Progress   float64   `bson:"progress" json:"progress"`
	Message    string    `bson:"message" json:"message"`
	RetryCount int       `bson:"retry_count" json:"retry_count"`

	ClaimedBy      string     `bson:"claimed_by,omitempty" json:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time `bson:"lease_expires_at,omitempty" json:"-"`

	Result    string      `bson:"result,omitempty" json:"result,omitempty"`
	ResultURL string      `bson:"result_url,omitempty" json:"result_url,omitempty"`
	Metrics   *JobMetrics `bson:"metrics,omitempty" json:"metrics,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// MaskedCredential returns the credential with everything but its edges hidden
func (j *Job) MaskedCredential() string {
	return MaskCredential(j.Credential)
}

// MaskCredential hides all but the first and last four characters
func MaskCredential(credential string) string {
	r := []rune(credential)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "****" + string(r[len(r)-4:])
}

// MetadataString returns metadata[key] if it is a string
func (j *Job) MetadataString(key string) string {
	if j.Metadata == nil {
		return ""
	}
	v, _ := j.Metadata[key].(string)
	return v
}

// StatusRecord snapshots the job's lifecycle fields
func (j *Job) StatusRecord() *StatusRecord {
	return &StatusRecord{
		JobID:      j.ID,
		StatusType: j.Status,
		Progress:   j.Progress,
		Message:    j.Message,
		UpdatedAt:  j.UpdatedAt,
	}
}

// StatusRecord is the caller-visible lifecycle snapshot of a job
type StatusRecord struct {
	JobID      string    `json:"job_id"`
	StatusType JobStatus `json:"status_type"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PartialResultRecord maps batch index to translated text
type PartialResultRecord struct {
	JobID     string         `json:"job_id"`
	Batches   map[int]string `json:"batches"`
	UpdatedAt time.Time      `json:"updated_at"`
}
