package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	Convey("Given a minimal JSON config", t, func() {
		path := writeFile(t, "config.json", `{"port": 9090}`)

		cfg, err := LoadConfig(path)
		So(err, ShouldBeNil)

		Convey("defaults fill the gaps", func() {
			So(cfg.Port, ShouldEqual, 9090)
			So(cfg.Drivers.Jobs, ShouldEqual, "memory")
			So(cfg.Drivers.Queue, ShouldEqual, "memory")
			So(cfg.RabbitMQ.QueuePrefix, ShouldEqual, "translation")
			So(cfg.Webhook.TimeoutSec, ShouldEqual, 10)
			So(cfg.Workers.Size(), ShouldEqual, 4)
			So(cfg.Workers.VisibilityTimeout(), ShouldEqual, 30*time.Minute)
			So(cfg.Workers.LaneEvery(), ShouldEqual, 4)
		})

		Convey("pipeline options use the defaults", func() {
			So(cfg.PipelineOptions(), ShouldResemble, DefaultPipelineOptions())
		})
	})

	Convey("Given a YAML config with pipeline overrides", t, func() {
		path := writeFile(t, "config.yaml", `
port: 8081
drivers:
  jobs: mongo
  partials: redis
  queue: rabbitmq
pipeline:
  high_priority_threshold: 0
  max_retry_attempts: 3
  backoff_base_ms: 250
  partial_result_ttl_min: 30
workers:
  pool_size: 8
`)

		cfg, err := LoadConfig(path)
		So(err, ShouldBeNil)
		So(cfg.Drivers.Partials, ShouldEqual, "redis")
		So(cfg.Workers.Size(), ShouldEqual, 8)

		opts := cfg.PipelineOptions()
		So(opts.HighPriorityThreshold, ShouldEqual, 0)
		So(opts.MaxRetryAttempts, ShouldEqual, 3)
		So(opts.BackoffBase, ShouldEqual, 250*time.Millisecond)
		So(opts.BackoffCeiling, ShouldEqual, 30*time.Second)
		So(opts.PartialResultTTL, ShouldEqual, 30*time.Minute)
		So(opts.MaxConcurrentBatchesPerJob, ShouldEqual, 20)
	})

	Convey("Unknown drivers are rejected", t, func() {
		path := writeFile(t, "config.json", `{"drivers": {"queue": "kafka"}}`)

		_, err := LoadConfig(path)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "drivers.queue")
	})

	Convey("A missing file is an error", t, func() {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		So(err, ShouldNotBeNil)
	})
}
