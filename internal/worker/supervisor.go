package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultRestartDelay spaces out restarts so a persistently broken store
// does not produce a tight crash loop.
const defaultRestartDelay = 5 * time.Second

// Supervisor runs a fleet of workers and restarts any that exit with an
// error. Workers exit cleanly only on context cancellation.
type Supervisor struct {
	workers      []*Worker
	restartDelay time.Duration
	logger       *zap.Logger
}

// NewSupervisor constructs a Supervisor over an already-built fleet.
func NewSupervisor(workers []*Worker, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		workers:      workers,
		restartDelay: defaultRestartDelay,
		logger:       logger,
	}
}

// Run blocks until the context finishes and every worker has returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range s.workers {
		wg.Add(1)
		go func(index int, w *Worker) {
			defer wg.Done()
			s.supervise(ctx, index, w)
		}(i, w)
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, index int, w *Worker) {
	for {
		err := w.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("worker exited, restarting",
				zap.Int("worker", index),
				zap.Error(err),
			)
		}
		if !sleepCtx(ctx, s.restartDelay) {
			return
		}
	}
}
