package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Env          string                   `json:"env" yaml:"env"`
	Port         int                      `json:"port" yaml:"port"`
	AppName      string                   `json:"app_name" yaml:"app_name"`
	Drivers      DriversConfig            `json:"drivers" yaml:"drivers"`
	MongoDB      MongoDBConfig            `json:"mongodb" yaml:"mongodb"`
	Redis        RedisConfig              `json:"redis" yaml:"redis"`
	RabbitMQ     RabbitMQConfig           `json:"rabbitmq" yaml:"rabbitmq"`
	AWS          AWSConfig                `json:"aws" yaml:"aws"`
	Logging      LoggingConfig            `json:"logging" yaml:"logging"`
	CORS         CORSConfig               `json:"cors" yaml:"cors"`
	Pipeline     PipelineConfig           `json:"pipeline" yaml:"pipeline"`
	Workers      WorkersConfig            `json:"workers" yaml:"workers"`
	Segmentation SegmentationConfig       `json:"segmentation" yaml:"segmentation"`
	Backends     map[string]BackendConfig `json:"backends" yaml:"backends"`
	Webhook      WebhookConfig            `json:"webhook" yaml:"webhook"`
}

// DriversConfig selects the storage and queue implementations
type DriversConfig struct {
	Jobs     string `json:"jobs" yaml:"jobs"`         // mongo | memory
	Partials string `json:"partials" yaml:"partials"` // redis | memory
	Queue    string `json:"queue" yaml:"queue"`       // rabbitmq | memory
}

type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string                 `json:"uri" yaml:"uri"`
	Username string                 `json:"username" yaml:"username"`
	Password string                 `json:"password" yaml:"password"`
	DB       string                 `json:"db" yaml:"db"`
	Options  map[string]interface{} `json:"options" yaml:"options"`
	// RetentionDays bounds how long terminal jobs are kept
	RetentionDays int `json:"retention_days" yaml:"retention_days"`
}

// RabbitMQConfig contains broker connection and topology settings
type RabbitMQConfig struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Username      string `json:"username" yaml:"username"`
	Password      string `json:"password" yaml:"password"`
	VHost         string `json:"vhost" yaml:"vhost"`
	ExchangeName  string `json:"exchange_name" yaml:"exchange_name"`
	QueuePrefix   string `json:"queue_prefix" yaml:"queue_prefix"`
	PrefetchCount int    `json:"prefetch_count" yaml:"prefetch_count"`
}

// AWSConfig configures the optional S3 result archive
type AWSConfig struct {
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"`
	Directory string `json:"directory" yaml:"directory"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty" yaml:"max_age,omitempty"` // seconds
}

// PipelineConfig is the file form of PipelineOptions. Durations are in
// milliseconds except the partial result TTL, which is in minutes.
type PipelineConfig struct {
	HighPriorityThreshold      *int `json:"high_priority_threshold" yaml:"high_priority_threshold"`
	MaxConcurrentBatchesPerJob int  `json:"max_concurrent_batches_per_job" yaml:"max_concurrent_batches_per_job"`
	MaxRetryAttempts           int  `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	BackoffBaseMs              int  `json:"backoff_base_ms" yaml:"backoff_base_ms"`
	BackoffCeilingMs           int  `json:"backoff_ceiling_ms" yaml:"backoff_ceiling_ms"`
	PartialResultTTLMin        int  `json:"partial_result_ttl_min" yaml:"partial_result_ttl_min"`
}

// WorkersConfig sizes the worker pool and its delivery semantics
type WorkersConfig struct {
	PoolSize             int `json:"pool_size" yaml:"pool_size"`
	VisibilityTimeoutSec int `json:"visibility_timeout_sec" yaml:"visibility_timeout_sec"`
	DefaultLaneEvery     int `json:"default_lane_every" yaml:"default_lane_every"`
}

// SegmentationConfig overrides the segmentation policy defaults
type SegmentationConfig struct {
	Mode                string `json:"mode" yaml:"mode"`
	MaxSegmentChars     int    `json:"max_segment_chars" yaml:"max_segment_chars"`
	MaxBatchChars       int    `json:"max_batch_chars" yaml:"max_batch_chars"`
	MaxBatches          int    `json:"max_batches" yaml:"max_batches"`
	SmallContentChars   int    `json:"small_content_chars" yaml:"small_content_chars"`
	LargeContentChars   int    `json:"large_content_chars" yaml:"large_content_chars"`
	SmallBatchSegments  int    `json:"small_batch_segments" yaml:"small_batch_segments"`
	MediumBatchSegments int    `json:"medium_batch_segments" yaml:"medium_batch_segments"`
	LargeBatchSegments  int    `json:"large_batch_segments" yaml:"large_batch_segments"`
	SlotChars           int    `json:"slot_chars" yaml:"slot_chars"`
}

// BackendConfig configures one HTTP translation backend
type BackendConfig struct {
	BaseURL           string `json:"base_url" yaml:"base_url"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
	TimeoutSec        int    `json:"timeout_sec" yaml:"timeout_sec"`
}

// WebhookConfig configures completion callbacks
type WebhookConfig struct {
	TimeoutSec int `json:"timeout_sec" yaml:"timeout_sec"`
}

// PipelineOptions is the explicit configuration object handed to the
// dispatcher, executor and publisher at construction.
type PipelineOptions struct {
	HighPriorityThreshold      int
	MaxConcurrentBatchesPerJob int
	MaxRetryAttempts           int
	BackoffBase                time.Duration
	BackoffCeiling             time.Duration
	PartialResultTTL           time.Duration
}

// DefaultPipelineOptions returns the pipeline defaults
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		HighPriorityThreshold:      5,
		MaxConcurrentBatchesPerJob: 20,
		MaxRetryAttempts:           5,
		BackoffBase:                time.Second,
		BackoffCeiling:             30 * time.Second,
		PartialResultTTL:           4 * time.Hour,
	}
}

// PipelineOptions resolves the file values against the defaults
func (c *Config) PipelineOptions() PipelineOptions {
	opts := DefaultPipelineOptions()
	p := c.Pipeline

	if p.HighPriorityThreshold != nil {
		opts.HighPriorityThreshold = *p.HighPriorityThreshold
	}
	if p.MaxConcurrentBatchesPerJob > 0 {
		opts.MaxConcurrentBatchesPerJob = p.MaxConcurrentBatchesPerJob
	}
	if p.MaxRetryAttempts > 0 {
		opts.MaxRetryAttempts = p.MaxRetryAttempts
	}
	if p.BackoffBaseMs > 0 {
		opts.BackoffBase = time.Duration(p.BackoffBaseMs) * time.Millisecond
	}
	if p.BackoffCeilingMs > 0 {
		opts.BackoffCeiling = time.Duration(p.BackoffCeilingMs) * time.Millisecond
	}
	if p.PartialResultTTLMin > 0 {
		opts.PartialResultTTL = time.Duration(p.PartialResultTTLMin) * time.Minute
	}

	return opts
}

// Size returns the configured worker count, defaulting to 4
func (w WorkersConfig) Size() int {
	if w.PoolSize > 0 {
		return w.PoolSize
	}
	return 4
}

// VisibilityTimeout returns how long a claimed job stays invisible to other workers
func (w WorkersConfig) VisibilityTimeout() time.Duration {
	if w.VisibilityTimeoutSec > 0 {
		return time.Duration(w.VisibilityTimeoutSec) * time.Second
	}
	return 30 * time.Minute
}

// LaneEvery returns how often the default lane is checked first
func (w WorkersConfig) LaneEvery() int {
	if w.DefaultLaneEvery > 0 {
		return w.DefaultLaneEvery
	}
	return 4
}

// Validate checks the driver selection
func (c *Config) Validate() error {
	checks := []struct {
		name    string
		value   string
		allowed []string
	}{
		{"drivers.jobs", c.Drivers.Jobs, []string{"mongo", "memory"}},
		{"drivers.partials", c.Drivers.Partials, []string{"redis", "memory"}},
		{"drivers.queue", c.Drivers.Queue, []string{"rabbitmq", "memory"}},
	}

	for _, check := range checks {
		ok := false
		for _, a := range check.allowed {
			if check.value == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("invalid %s %q: must be one of %s", check.name, check.value, strings.Join(check.allowed, ", "))
		}
	}

	if c.Port <= 0 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AppName == "" {
		c.AppName = "translator"
	}
	if c.Drivers.Jobs == "" {
		c.Drivers.Jobs = "memory"
	}
	if c.Drivers.Partials == "" {
		c.Drivers.Partials = "memory"
	}
	if c.Drivers.Queue == "" {
		c.Drivers.Queue = "memory"
	}
	if c.RabbitMQ.ExchangeName == "" {
		c.RabbitMQ.ExchangeName = "translation"
	}
	if c.RabbitMQ.QueuePrefix == "" {
		c.RabbitMQ.QueuePrefix = "translation"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "translator"
	}
	if c.MongoDB.RetentionDays == 0 {
		c.MongoDB.RetentionDays = 30
	}
	if c.Webhook.TimeoutSec == 0 {
		c.Webhook.TimeoutSec = 10
	}
}

// LoadConfig reads configuration from the specified file path. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
