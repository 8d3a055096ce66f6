package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"translator/internal/config"
	"translator/internal/controller"
	"translator/internal/orchestrator"
	"translator/internal/pipeline"
	"translator/internal/segment"
	"translator/internal/server"
	"translator/internal/webhook"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "translator",
		Short: "Batch translation pipeline: API, priority queue and worker pool",
		Long: `translator splits documents into batches, translates them through
LLM backends with bounded parallelism and reports progress per job.

Commands:
  serve    Run the API and the worker pool in one process
  api      Run only the HTTP API
  worker   Run only the worker pool
  submit   Queue a file for translation`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.json", "Path to the configuration file")

	root.AddCommand(
		newServeCmd(),
		newAPICmd(),
		newWorkerCmd(),
		newSubmitCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Logging)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API and the worker pool in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(roleServe, true, true)
		},
	}
}

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run only the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(roleAPI, true, false)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(roleWorker, false, true)
		},
	}
}

func run(r role, withAPI, withWorkers bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	log.Info().Str("command", string(r)).Str("env", cfg.Env).Msg("Starting translator")

	a, err := bootstrap(ctx, cfg, r)
	if err != nil {
		return err
	}
	defer a.close()

	var pool *orchestrator.Pool
	if withWorkers {
		pool, err = startPool(ctx, a)
		if err != nil {
			return err
		}
	}

	var srv *http.Server
	serverErr := make(chan error, 1)
	if withAPI {
		var workers orchestrator.WorkerRegistry
		if pool != nil {
			workers = pool.Registry()
		}
		jc := controller.NewJobController(a.jobs, a.partials, a.dispatcher, workers)
		sc := controller.NewServer(a.jobs, a.partials, a.broker, a.archive)
		srv = server.New(*cfg, jc, sc)

		go func() {
			log.Info().Int("port", cfg.Port).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case err = <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Error().Err(serr).Msg("HTTP server shutdown failed")
		}
		cancel()
	}
	if pool != nil {
		pool.Stop()
	}

	return err
}

func startPool(ctx context.Context, a *app) (*orchestrator.Pool, error) {
	translators, err := a.translators()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Jobs:        a.jobs,
		Partials:    a.partials,
		Segmenter:   segment.New(segment.PolicyFromConfig(a.cfg.Segmentation)),
		Translators: translators,
		Notifier:    webhook.NewNotifier(time.Duration(a.cfg.Webhook.TimeoutSec) * time.Second),
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}

	runner := pipeline.NewRunner(deps, a.cfg.PipelineOptions())
	pool := orchestrator.NewPool(a.dispatcher, a.jobs, runner, a.cfg.Workers.Size(), a.cfg.Workers.VisibilityTimeout())
	pool.Start(ctx)

	return pool, nil
}

func newSubmitCmd() *cobra.Command {
	var (
		file     string
		req      controller.SubmitRequest
		source   string
		target   string
		webhookU string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a file for translation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			content, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			req.Content = string(content)
			req.WebhookURL = webhookU
			req.Metadata = map[string]interface{}{}
			if source != "" {
				req.Metadata["source_language"] = source
			}
			if target != "" {
				req.Metadata["target_language"] = target
			}
			if req.Credential == "" {
				req.Credential = os.Getenv("TRANSLATOR_API_KEY")
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, cfg, roleSubmit)
			if err != nil {
				return err
			}
			defer a.close()

			jc := controller.NewJobController(a.jobs, a.partials, a.dispatcher, nil)
			job, err := jc.Submit(ctx, req)
			if err != nil {
				return err
			}

			fmt.Println(job.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the text to translate")
	cmd.Flags().StringVarP(&req.Model, "model", "m", "", "Model name, e.g. gpt-4o or claude-3-5-sonnet")
	cmd.Flags().IntVarP(&req.Priority, "priority", "p", 0, "Job priority, higher runs first")
	cmd.Flags().StringVar(&req.Credential, "api-key", "", "Backend credential (defaults to $TRANSLATOR_API_KEY)")
	cmd.Flags().StringVar(&source, "source", "", "Source language")
	cmd.Flags().StringVar(&target, "target", "", "Target language")
	cmd.Flags().StringVar(&webhookU, "webhook", "", "URL notified when the job finishes")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("model")

	return cmd
}
