// Package cache keeps short-lived job data in Redis.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"translator/internal/config"
	"translator/internal/model"
	"translator/internal/store"
)

const updatedAtField = "_updated_at"

// putPartial sets the batch field only if absent and starts the key's expiry
// on its first write.
var putPartial = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('HSET', KEYS[1], '` + updatedAtField + `', ARGV[3])
end
local ttl = tonumber(ARGV[4])
if ttl > 0 and redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// RedisPartialStore implements store.PartialStore with one hash per job
type RedisPartialStore struct {
	client *redis.Client
	prefix string
}

// NewRedisPartialStore creates a new Redis-backed partial-result store
func NewRedisPartialStore(config config.RedisConfig) (*RedisPartialStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return nil, err
	}

	log.Info().
		Str("address", config.Address).
		Str("prefix", config.Prefix).
		Int("db", config.DB).
		Msg("Redis partial store initialized successfully")

	return &RedisPartialStore{
		client: client,
		prefix: config.Prefix,
	}, nil
}

// formatKey adds the prefix to the job's key
func (c *RedisPartialStore) formatKey(jobID string) string {
	return c.prefix + ":partial:" + jobID
}

// PutPartial stores text for batchIndex unless it is already present
func (c *RedisPartialStore) PutPartial(ctx context.Context, jobID string, batchIndex int, text string, ttl time.Duration) error {
	key := c.formatKey(jobID)

	start := time.Now()
	err := putPartial.Run(ctx, c.client, []string{key},
		strconv.Itoa(batchIndex),
		text,
		time.Now().UTC().Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Err()
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Int("batch", batchIndex).
			Dur("duration", duration).
			Msg("Error storing partial result in Redis")
		return err
	}

	log.Debug().
		Str("key", key).
		Int("batch", batchIndex).
		Int("size", len(text)).
		Dur("duration", duration).
		Msg("Stored partial result")

	return nil
}

// GetPartials returns every batch stored for the job
func (c *RedisPartialStore) GetPartials(ctx context.Context, jobID string) (*model.PartialResultRecord, error) {
	key := c.formatKey(jobID)

	start := time.Now()
	fields, err := c.client.HGetAll(ctx, key).Result()
	duration := time.Since(start)

	if err != nil && err != redis.Nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("duration", duration).
			Msg("Error reading partial results from Redis")
		return nil, err
	}
	if len(fields) == 0 {
		log.Debug().
			Str("key", key).
			Dur("duration", duration).
			Msg("Cache miss")
		return nil, store.ErrNotFound
	}

	return decodePartials(jobID, fields)
}

// decodePartials turns a job hash into a record
func decodePartials(jobID string, fields map[string]string) (*model.PartialResultRecord, error) {
	rec := &model.PartialResultRecord{
		JobID:   jobID,
		Batches: make(map[int]string, len(fields)),
	}

	for k, v := range fields {
		if k == updatedAtField {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("bad %s on partial record %s: %w", updatedAtField, jobID, err)
			}
			rec.UpdatedAt = t
			continue
		}

		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad batch field %q on partial record %s: %w", k, jobID, err)
		}
		rec.Batches[idx] = v
	}

	if len(rec.Batches) == 0 {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

// Health tests the connection to Redis
func (c *RedisPartialStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Dur("duration", duration).
			Msg("Error pinging Redis")
		return err
	}

	return nil
}

// Close releases resources used by the store
func (c *RedisPartialStore) Close() error {
	log.Info().Msg("Closing Redis connection")
	return c.client.Close()
}
