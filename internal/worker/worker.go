// Package worker implements the crawl execution loop and the supervisor
// that keeps a fleet of workers running.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/processor"
)

// Config controls Worker behavior.
type Config struct {
	// Concurrency is the number of jobs a worker processes in parallel
	// within one claim round.
	Concurrency int

	// Delay separates claim rounds, keeping request pressure on target
	// sites bounded.
	Delay time.Duration

	// Sleep is how long the worker idles when the queue is empty.
	Sleep time.Duration

	// Rendering selects which queue partition this worker claims from.
	Rendering bool
}

// Worker repeatedly claims pending jobs from its partition of the shared
// queue and runs them through the processor.
type Worker struct {
	jobs      crawler.JobStore
	processor *processor.Processor
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(jobs crawler.JobStore, proc *processor.Processor, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		jobs:      jobs,
		processor: proc,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, claiming and processing jobs until the context finishes.
// It returns a non-nil error only when the store becomes unusable; the
// supervisor treats that as a restart signal.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Bool("rendering", w.cfg.Rendering),
	)

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopping")
			return nil
		}

		processed, err := w.claimRound(ctx)
		if err != nil {
			return err
		}

		if processed == 0 {
			if !sleepCtx(ctx, w.cfg.Sleep) {
				w.logger.Info("worker stopping")
				return nil
			}
		}

		// Delay paces every round, empty or not.
		if !sleepCtx(ctx, w.cfg.Delay) {
			w.logger.Info("worker stopping")
			return nil
		}
	}
}

// claimRound claims up to Concurrency jobs and processes them in parallel,
// returning how many were claimed. Claiming stops early once the partition
// runs dry so an empty queue costs one query, not Concurrency of them.
func (w *Worker) claimRound(ctx context.Context) (int, error) {
	claimed := make([]crawler.Job, 0, w.cfg.Concurrency)
	for len(claimed) < w.cfg.Concurrency {
		job, ok, err := w.jobs.ClaimOnePending(ctx, w.cfg.Rendering)
		if err != nil {
			if ctx.Err() != nil {
				return len(claimed), nil
			}
			return 0, fmt.Errorf("claim pending job: %w", err)
		}
		if !ok {
			break
		}
		claimed = append(claimed, job)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	errs := make([]error, len(claimed))
	var wg sync.WaitGroup
	for i, job := range claimed {
		wg.Add(1)
		go func(i int, job crawler.Job) {
			defer wg.Done()
			errs[i] = w.processor.Process(ctx, job)
		}(i, job)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && ctx.Err() == nil {
			return 0, err
		}
	}
	return len(claimed), nil
}

// sleepCtx waits for d unless the context finishes first. It reports
// whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
