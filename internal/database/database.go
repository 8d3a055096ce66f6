// Package database persists jobs in MongoDB.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"translator/internal/config"
	"translator/internal/store"
)

// Database is the MongoDB-backed job store
type Database interface {
	store.JobStore
	Close(ctx context.Context) error
}

type mongoDB struct {
	client  *mongo.Client
	db      *mongo.Database
	jobsCol *mongo.Collection
	now     func() time.Time
}

// New connects to MongoDB and ensures the jobs collection indexes
func New(cfg *config.Config) (Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.MongoDB.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.MongoDB.Username,
			Password: cfg.MongoDB.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDB.DB)
	jobsCol := db.Collection("jobs")

	jobIndexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Lease expiry lookups for re-claim
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "lease_expires_at", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	if cfg.MongoDB.RetentionDays > 0 {
		jobIndexModels = append(jobIndexModels, mongo.IndexModel{
			// TTL index to drop finished jobs after the retention period
			Keys:    bson.D{{Key: "completed_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cfg.MongoDB.RetentionDays * 24 * 60 * 60)),
		})
	}

	_, err = jobsCol.Indexes().CreateMany(ctx, jobIndexModels)
	if err != nil {
		log.Warn().Err(err).Str("Collection", "Jobs").Msg("Error creating indexes")
	}

	log.Info().Str("db", cfg.MongoDB.DB).Msg("Connected to MongoDB")

	return &mongoDB{
		client:  client,
		db:      db,
		jobsCol: jobsCol,
		now:     time.Now,
	}, nil
}

// Health implements store.JobStore
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)
	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}

func (m *mongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
