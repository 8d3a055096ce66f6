package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"translator/internal/model"
)

// jobEntry guards a single job; writers lock the entry, never the whole map
type jobEntry struct {
	mu  sync.Mutex
	job model.Job
}

// sweepEvery bounds how often writes scan the stores for expired records
const sweepEvery = time.Minute

// sweeper runs a scan at most once per sweepEvery of store time
type sweeper struct {
	mu   sync.Mutex
	last time.Time
}

func (w *sweeper) due(now time.Time) bool {
	if !w.mu.TryLock() {
		return false
	}
	defer w.mu.Unlock()

	if !w.last.IsZero() && now.Sub(w.last) < sweepEvery {
		return false
	}
	w.last = now
	return true
}

// MemoryJobStore keeps jobs in process memory. With a retention set,
// terminal jobs are dropped once they are older than it.
type MemoryJobStore struct {
	jobs      sync.Map // id -> *jobEntry
	now       func() time.Time
	retention time.Duration
	sweep     sweeper
}

// NewMemoryJobStore creates an empty in-memory job store that keeps jobs
// until the process exits
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{now: time.Now}
}

// NewMemoryJobStoreWithRetention creates a job store that forgets terminal
// jobs retention after they finished
func NewMemoryJobStoreWithRetention(retention time.Duration) *MemoryJobStore {
	return &MemoryJobStore{now: time.Now, retention: retention}
}

// Sweep drops terminal jobs past the retention and returns how many it removed
func (s *MemoryJobStore) Sweep() int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.retention)

	removed := 0
	s.jobs.Range(func(k, v any) bool {
		e := v.(*jobEntry)
		e.mu.Lock()
		stale := e.job.Status.Terminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff)
		e.mu.Unlock()
		if stale && s.jobs.CompareAndDelete(k, e) {
			removed++
		}
		return true
	})
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired jobs")
	}
	return removed
}

func (s *MemoryJobStore) entry(id string) (*jobEntry, error) {
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*jobEntry), nil
}

func (s *MemoryJobStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := s.now()
	if s.sweep.due(now) {
		s.Sweep()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.StatusPending
	}

	e := &jobEntry{job: *job}
	if _, loaded := s.jobs.LoadOrStore(job.ID, e); loaded {
		return ErrDuplicate
	}

	log.Debug().Str("jobId", job.ID).Msg("Created job")
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	job := e.job
	return &job, nil
}

func (s *MemoryJobStore) GetStatus(ctx context.Context, id string) (*model.StatusRecord, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.StatusRecord(), nil
}

func (s *MemoryJobStore) Claim(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now()
	j := &e.job

	switch {
	case j.Status == model.StatusPending:
	case j.Status == model.StatusStarted && j.LeaseExpiresAt != nil && now.After(*j.LeaseExpiresAt):
		j.RetryCount++
	default:
		return false, nil
	}

	expires := now.Add(lease)
	j.Status = model.StatusStarted
	j.ClaimedBy = workerID
	j.LeaseExpiresAt = &expires
	j.Message = "Claimed by worker " + workerID
	j.UpdatedAt = now

	return true, nil
}

func (s *MemoryJobStore) RenewLease(ctx context.Context, id, workerID string, lease time.Duration) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != model.StatusStarted || e.job.ClaimedBy != workerID {
		return ErrLeaseLost
	}
	expires := s.now().Add(lease)
	e.job.LeaseExpiresAt = &expires
	return nil
}

func (s *MemoryJobStore) UpdateProgress(ctx context.Context, id string, progress float64, message string) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != model.StatusStarted || progress < e.job.Progress {
		return false, nil
	}
	e.job.Progress = progress
	e.job.Message = message
	e.job.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryJobStore) MarkFailed(ctx context.Context, id, message string, metrics *model.JobMetrics) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.Terminal() {
		// metrics arrive after the failure itself was recorded
		if metrics != nil && e.job.Status == model.StatusFailed {
			e.job.Metrics = metrics
		}
		return false, nil
	}

	now := s.now()
	e.job.Status = model.StatusFailed
	e.job.Message = message
	e.job.UpdatedAt = now
	e.job.CompletedAt = &now
	e.job.LeaseExpiresAt = nil
	if metrics != nil {
		e.job.Metrics = metrics
	}
	return true, nil
}

func (s *MemoryJobStore) MarkCompleted(ctx context.Context, id string, c Completion) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != model.StatusStarted {
		return false, nil
	}

	now := s.now()
	e.job.Status = model.StatusCompleted
	e.job.Progress = 100
	e.job.Message = c.Message
	e.job.Result = c.Result
	e.job.ResultURL = c.ResultURL
	e.job.Metrics = c.Metrics
	e.job.UpdatedAt = now
	e.job.CompletedAt = &now
	e.job.LeaseExpiresAt = nil
	return true, nil
}

func (s *MemoryJobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	counts := make(map[model.JobStatus]int64, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		counts[st] = 0
	}

	s.jobs.Range(func(_, v any) bool {
		e := v.(*jobEntry)
		e.mu.Lock()
		counts[e.job.Status]++
		e.mu.Unlock()
		return true
	})

	return counts, nil
}

func (s *MemoryJobStore) Health() error {
	return nil
}

type partialEntry struct {
	mu        sync.Mutex
	batches   map[int]string
	updatedAt time.Time
	expiresAt time.Time // zero means no expiry
}

func (e *partialEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryPartialStore keeps partial results in process memory with expiry.
// Writes periodically sweep out expired records of every job.
type MemoryPartialStore struct {
	records sync.Map // jobID -> *partialEntry
	now     func() time.Time
	sweep   sweeper
}

// NewMemoryPartialStore creates an empty in-memory partial-result store
func NewMemoryPartialStore() *MemoryPartialStore {
	return &MemoryPartialStore{now: time.Now}
}

func (s *MemoryPartialStore) PutPartial(ctx context.Context, jobID string, batchIndex int, text string, ttl time.Duration) error {
	now := s.now()
	if s.sweep.due(now) {
		s.Sweep()
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	for {
		v, _ := s.records.LoadOrStore(jobID, &partialEntry{
			batches:   make(map[int]string),
			expiresAt: expiresAt,
		})
		e := v.(*partialEntry)

		e.mu.Lock()
		if e.expired(now) {
			// expired record: drop it and start a fresh window
			e.mu.Unlock()
			s.records.CompareAndDelete(jobID, e)
			continue
		}
		if _, exists := e.batches[batchIndex]; !exists {
			e.batches[batchIndex] = text
			e.updatedAt = now
		}
		e.mu.Unlock()
		return nil
	}
}

func (s *MemoryPartialStore) GetPartials(ctx context.Context, jobID string) (*model.PartialResultRecord, error) {
	v, ok := s.records.Load(jobID)
	if !ok {
		return nil, ErrNotFound
	}
	e := v.(*partialEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.expired(s.now()) {
		s.records.CompareAndDelete(jobID, e)
		return nil, ErrNotFound
	}

	batches := make(map[int]string, len(e.batches))
	for k, v := range e.batches {
		batches[k] = v
	}

	return &model.PartialResultRecord{
		JobID:     jobID,
		Batches:   batches,
		UpdatedAt: e.updatedAt,
	}, nil
}

// Sweep drops every expired record and returns how many it removed
func (s *MemoryPartialStore) Sweep() int {
	now := s.now()

	removed := 0
	s.records.Range(func(k, v any) bool {
		e := v.(*partialEntry)
		e.mu.Lock()
		expired := e.expired(now)
		e.mu.Unlock()
		if expired && s.records.CompareAndDelete(k, e) {
			removed++
		}
		return true
	})
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired partial results")
	}
	return removed
}

func (s *MemoryPartialStore) Health() error {
	return nil
}
