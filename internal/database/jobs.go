package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"translator/internal/model"
	"translator/internal/store"
)

// CreateJob inserts a new pending job
func (m *mongoDB) CreateJob(ctx context.Context, job *model.Job) error {
	now := m.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.StatusPending
	}

	_, err := m.jobsCol.InsertOne(ctx, job)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicate
		}
		log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to create job")
		return err
	}

	log.Debug().Str("jobId", job.ID).Str("model", job.Model).Msg("Created new job")
	return nil
}

// GetJob retrieves a job by its ID
func (m *mongoDB) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		log.Error().Err(err).Str("jobId", id).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

// GetStatus reads only the lifecycle fields of a job
func (m *mongoDB) GetStatus(ctx context.Context, id string) (*model.StatusRecord, error) {
	opts := options.FindOne().SetProjection(bson.M{
		"status":     1,
		"progress":   1,
		"message":    1,
		"updated_at": 1,
	})

	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		log.Error().Err(err).Str("jobId", id).Msg("Failed to get job status")
		return nil, err
	}

	return job.StatusRecord(), nil
}

// exists distinguishes "condition not met" from "no such job"
func (m *mongoDB) exists(ctx context.Context, id string) error {
	n, err := m.jobsCol.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Claim takes a pending job, or re-takes a started job whose lease expired
func (m *mongoDB) Claim(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	now := m.now().UTC()
	set := bson.M{
		"status":           model.StatusStarted,
		"claimed_by":       workerID,
		"lease_expires_at": now.Add(lease),
		"message":          "Claimed by worker " + workerID,
		"updated_at":       now,
	}

	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.StatusPending},
		bson.M{"$set": set},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to claim job")
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	res, err = m.jobsCol.UpdateOne(ctx,
		bson.M{
			"_id":              id,
			"status":           model.StatusStarted,
			"lease_expires_at": bson.M{"$lt": now},
		},
		bson.M{"$set": set, "$inc": bson.M{"retry_count": 1}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to re-claim job")
		return false, err
	}
	if res.MatchedCount > 0 {
		log.Warn().Str("jobId", id).Str("workerId", workerID).Msg("Re-claimed job with expired lease")
		return true, nil
	}

	return false, m.exists(ctx, id)
}

// RenewLease extends the lease held by workerID
func (m *mongoDB) RenewLease(ctx context.Context, id, workerID string, lease time.Duration) error {
	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.StatusStarted, "claimed_by": workerID},
		bson.M{"$set": bson.M{"lease_expires_at": m.now().UTC().Add(lease)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrLeaseLost
	}
	return nil
}

// UpdateProgress applies a non-decreasing progress value to a started job
func (m *mongoDB) UpdateProgress(ctx context.Context, id string, progress float64, message string) (bool, error) {
	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{
			"_id":      id,
			"status":   model.StatusStarted,
			"progress": bson.M{"$lte": progress},
		},
		bson.M{"$set": bson.M{
			"progress":   progress,
			"message":    message,
			"updated_at": m.now().UTC(),
		}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Float64("progress", progress).Msg("Failed to update job progress")
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, m.exists(ctx, id)
	}

	log.Debug().Str("jobId", id).Float64("progress", progress).Msg("Updated job progress")
	return true, nil
}

// MarkFailed moves a non-terminal job to failed
func (m *mongoDB) MarkFailed(ctx context.Context, id, message string, metrics *model.JobMetrics) (bool, error) {
	now := m.now().UTC()
	set := bson.M{
		"status":       model.StatusFailed,
		"message":      message,
		"updated_at":   now,
		"completed_at": now,
	}
	if metrics != nil {
		set["metrics"] = metrics
	}

	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": bson.A{model.StatusPending, model.StatusStarted}}},
		bson.M{"$set": set, "$unset": bson.M{"lease_expires_at": ""}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to mark job failed")
		return false, err
	}
	if res.MatchedCount > 0 {
		log.Debug().Str("jobId", id).Str("status", string(model.StatusFailed)).Msg("Updated job status")
		return true, nil
	}

	if metrics != nil {
		// metrics arrive after the failure itself was recorded
		_, err = m.jobsCol.UpdateOne(ctx,
			bson.M{"_id": id, "status": model.StatusFailed},
			bson.M{"$set": bson.M{"metrics": metrics}},
		)
		if err != nil {
			return false, err
		}
	}
	return false, m.exists(ctx, id)
}

// MarkCompleted stores the final result of a started job
func (m *mongoDB) MarkCompleted(ctx context.Context, id string, c store.Completion) (bool, error) {
	now := m.now().UTC()
	set := bson.M{
		"status":       model.StatusCompleted,
		"progress":     100.0,
		"message":      c.Message,
		"result":       c.Result,
		"updated_at":   now,
		"completed_at": now,
	}
	if c.ResultURL != "" {
		set["result_url"] = c.ResultURL
	}
	if c.Metrics != nil {
		set["metrics"] = c.Metrics
	}

	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.StatusStarted},
		bson.M{"$set": set, "$unset": bson.M{"lease_expires_at": ""}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to mark job completed")
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, m.exists(ctx, id)
	}

	log.Debug().Str("jobId", id).Str("status", string(model.StatusCompleted)).Msg("Updated job status")
	return true, nil
}

// CountByStatus groups jobs by status
func (m *mongoDB) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := m.jobsCol.Aggregate(ctx, pipeline)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count jobs by status")
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status model.JobStatus `bson:"_id"`
		Count  int64           `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[model.JobStatus]int64, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
