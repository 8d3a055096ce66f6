package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"translator/internal/adapter"
	"translator/internal/aws"
	"translator/internal/cache"
	"translator/internal/config"
	"translator/internal/database"
	"translator/internal/queue"
	"translator/internal/rabbitmq"
	"translator/internal/store"
)

// role is the part of the service a command runs
type role string

const (
	roleServe  role = "serve"
	roleAPI    role = "api"
	roleWorker role = "worker"
	roleSubmit role = "submit"
)

// app holds the shared infrastructure of every command
type app struct {
	cfg        *config.Config
	jobs       store.JobStore
	partials   store.PartialStore
	broker     queue.Broker
	dispatcher *queue.Dispatcher
	archive    aws.ResultArchive

	closers []func()
}

func setupLogger(config config.LoggingConfig) {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch config.Format {
	case "json":
		// JSON is the default for zerolog
	case "console", "combined":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	log.Logger = log.With().Timestamp().Logger()
}

// checkDrivers rejects in-memory drivers for commands that share state with
// other processes
func checkDrivers(cfg *config.Config, r role) error {
	if r == roleServe {
		return nil
	}
	if cfg.Drivers.Queue == "memory" || cfg.Drivers.Jobs == "memory" {
		return fmt.Errorf("the %s command needs shared drivers: drivers.jobs and drivers.queue cannot be memory", r)
	}
	return nil
}

func bootstrap(ctx context.Context, cfg *config.Config, r role) (*app, error) {
	if err := checkDrivers(cfg, r); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if err := a.openJobs(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openPartials(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openQueue(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openArchive(ctx); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) openJobs(ctx context.Context) error {
	switch a.cfg.Drivers.Jobs {
	case "mongo":
		db, err := database.New(a.cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize mongo job store: %w", err)
		}
		a.jobs = db
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			db.Close(ctx)
		})
		log.Info().Str("db", a.cfg.MongoDB.DB).Msg("MongoDB job store connected")
	default:
		retention := time.Duration(a.cfg.MongoDB.RetentionDays) * 24 * time.Hour
		a.jobs = store.NewMemoryJobStoreWithRetention(retention)
		log.Info().Dur("retention", retention).Msg("Using in-memory job store")
	}
	return nil
}

func (a *app) openPartials() error {
	switch a.cfg.Drivers.Partials {
	case "redis":
		rc, err := cache.NewRedisPartialStore(a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis partial store: %w", err)
		}
		a.partials = rc
		a.closers = append(a.closers, func() { rc.Close() })
		log.Info().Str("address", a.cfg.Redis.Address).Msg("Redis partial store connected")
	default:
		a.partials = store.NewMemoryPartialStore()
		log.Info().Msg("Using in-memory partial store")
	}
	return nil
}

func (a *app) openQueue() error {
	visibility := a.cfg.Workers.VisibilityTimeout()

	switch a.cfg.Drivers.Queue {
	case "rabbitmq":
		rcfg := a.cfg.RabbitMQ
		rcfg.PrefetchCount = rabbitmq.ConsumerPrefetch(rcfg.PrefetchCount, a.cfg.Workers.Size())

		client, err := rabbitmq.NewClientFromConfig(rcfg)
		if err != nil {
			return fmt.Errorf("failed to create RabbitMQ client: %w", err)
		}
		a.closers = append(a.closers, func() { client.Close() })

		broker, err := rabbitmq.NewBroker(client, rcfg, visibility)
		if err != nil {
			return fmt.Errorf("failed to set up RabbitMQ lanes: %w", err)
		}
		a.broker = broker
		log.Info().Str("exchange", rcfg.ExchangeName).Int("prefetch", rcfg.PrefetchCount).Msg("RabbitMQ broker ready")
	default:
		a.broker = queue.NewMemoryBroker(visibility)
		log.Info().Msg("Using in-memory queue")
	}
	a.closers = append(a.closers, func() { a.broker.Close() })

	opts := a.cfg.PipelineOptions()
	dispatcher, err := queue.NewDispatcher(a.broker, opts.HighPriorityThreshold, a.cfg.Workers.LaneEvery())
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher
	return nil
}

func (a *app) openArchive(ctx context.Context) error {
	if a.cfg.AWS.Bucket == "" {
		return nil
	}

	archive, err := aws.NewResultArchive(ctx, a.cfg.AWS)
	if err != nil {
		return fmt.Errorf("failed to initialize result archive: %w", err)
	}
	a.archive = archive
	log.Info().Str("bucket", a.cfg.AWS.Bucket).Msg("S3 result archive enabled")
	return nil
}

func (a *app) translators() (*adapter.Registry, error) {
	registry, err := adapter.BuildRegistry(a.cfg.Backends)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, registry.Close)
	log.Info().Strs("translators", registry.Available()).Msg("Translation backends registered")
	return registry, nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
