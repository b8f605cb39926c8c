package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/admission"
	"github.com/newsharvest/crawld/internal/api"
	"github.com/newsharvest/crawld/internal/config"
	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/fetch"
	"github.com/newsharvest/crawld/internal/logging"
	"github.com/newsharvest/crawld/internal/processor"
	"github.com/newsharvest/crawld/internal/render"
	"github.com/newsharvest/crawld/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// newRunCmd creates the 'run' subcommand, the long-running crawler service.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the crawler service",
		Long: `Starts the worker fleet and the operational HTTP endpoint. One worker
drives a headless browser for pages that need JavaScript or sit behind
anti-bot challenges; the rest use plain HTTP. The service runs until
interrupted.`,
		RunE: runService,
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Jobs a dead instance left in processing go back to pending.
	if requeued, err := store.RequeueStuckJobs(ctx); err != nil {
		return fmt.Errorf("requeue stuck jobs: %w", err)
	} else if requeued > 0 {
		logger.Info("requeued stuck jobs", zap.Int64("count", requeued))
	}

	browser, err := render.NewBrowser(render.Config{
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.Crawler.NavTimeout(),
		MaxParallel:       cfg.Crawler.Concurrency,
	}, logger.Named("render"))
	if err != nil {
		return fmt.Errorf("init browser: %w", err)
	}
	defer browser.Close()

	workers, err := buildFleet(cfg, store, browser, logger)
	if err != nil {
		return err
	}
	supervisor := worker.NewSupervisor(workers, logger.Named("supervisor"))

	admitter := admission.New(store, store, logger.Named("admission"))
	apiServer := api.NewServer(store, store, admitter, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops endpoint started", zap.Int("port", cfg.Ops.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops endpoint error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("crawler started", zap.Int("workers", len(workers)))
	supervisor.Run(ctx)

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops endpoint shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildFleet constructs one rendering-capable worker plus lightweight
// workers for the remaining slots. Worker count defaults to the CPU count.
func buildFleet(
	cfg config.Config,
	store dataStore,
	browser *render.Browser,
	logger *zap.Logger,
) ([]*worker.Worker, error) {
	count := cfg.Crawler.Workers
	if count <= 0 {
		count = runtime.NumCPU()
	}
	if count < 1 {
		count = 1
	}

	procCfg := processor.Config{
		MaxRetries: cfg.Crawler.MaxRetries,
		Pruning: processor.PruningConfig{
			Enabled:            cfg.Pruning.Enabled,
			FailureThreshold:   cfg.Pruning.FailureThreshold,
			DoneCountThreshold: cfg.Pruning.DoneCountThreshold,
		},
	}
	fetchCfg := fetch.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		RequestTimeout: cfg.Crawler.RequestTimeout(),
		Concurrency:    cfg.Crawler.Concurrency,
	}

	workers := make([]*worker.Worker, 0, count)
	for i := 0; i < count; i++ {
		rendering := i == 0

		var renderer crawler.Renderer = render.Unavailable{}
		if rendering {
			renderer = browser
		}

		wlog := logging.ForWorker(logger, i, rendering)
		fetcher, err := fetch.New(fetchCfg, renderer, wlog)
		if err != nil {
			return nil, fmt.Errorf("init fetcher for worker %d: %w", i, err)
		}

		proc := processor.New(fetcher, store, store, procCfg, wlog)
		workers = append(workers, worker.New(store, proc, worker.Config{
			Concurrency: cfg.Crawler.Concurrency,
			Delay:       cfg.Crawler.Delay(),
			Sleep:       cfg.Crawler.Sleep(),
			Rendering:   rendering,
		}, wlog))
	}
	return workers, nil
}
