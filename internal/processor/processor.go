// Package processor orchestrates one claimed job: fetch, link discovery,
// extraction, persistence, status transition, failure classification and
// the bad-source pruning check.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/extract"
	"github.com/newsharvest/crawld/internal/metrics"
)

// PruningConfig tunes the bad-source circuit breaker.
type PruningConfig struct {
	Enabled            bool
	FailureThreshold   int64
	DoneCountThreshold int64
}

// Config controls retry and pruning behavior.
type Config struct {
	MaxRetries int
	Pruning    PruningConfig
}

// Processor runs the per-job pipeline. It owns the claimed job exclusively
// from entry until the final status write.
type Processor struct {
	fetcher  crawler.Fetcher
	jobs     crawler.JobStore
	articles crawler.ArticleStore
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Processor.
func New(
	fetcher crawler.Fetcher,
	jobs crawler.JobStore,
	articles crawler.ArticleStore,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		fetcher:  fetcher,
		jobs:     jobs,
		articles: articles,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs one attempt for a job already claimed into processing.
// Every pipeline error is converted into a status transition; the returned
// error is non-nil only for store failures, which are fatal to the calling
// worker.
func (p *Processor) Process(ctx context.Context, job crawler.Job) error {
	metrics.InFlightJobs.Inc()
	defer metrics.InFlightJobs.Dec()

	p.logger.Debug("processing job", zap.String("url", job.URL))

	html, err := p.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		if errors.Is(err, crawler.ErrChallengeDetected) {
			// Routing decision, not a failure: hand the job to the
			// rendering-capable worker without touching the retry counter.
			if serr := p.jobs.MarkRequiresRendering(ctx, job.ID); serr != nil {
				return fmt.Errorf("mark job for rendering: %w", serr)
			}
			metrics.JobsProcessedTotal.WithLabelValues("rerouted").Inc()
			p.logger.Info("challenge detected, rerouting to rendering worker",
				zap.String("url", job.URL))
			return nil
		}
		return p.fail(ctx, job, err)
	}

	links, err := collectLinks(job, html)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	if err := p.enqueueLinks(ctx, job, links); err != nil {
		return err
	}

	if len(job.Config.ContentSelectors) == 0 {
		return p.fail(ctx, job, crawler.ErrMissingConfig)
	}

	article, err := extract.Article(html, job.Config.ContentSelectors)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	article.URL = job.URL
	article.CrawledAt = time.Now().UTC()
	if err := p.articles.UpsertArticle(ctx, article); err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	if err := p.jobs.MarkDone(ctx, job.ID); err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}

	metrics.JobsProcessedTotal.WithLabelValues("done").Inc()
	metrics.ArticlesStoredTotal.Inc()
	p.logger.Info("article stored", zap.String("url", job.URL), zap.String("title", article.Title))
	return nil
}

// collectLinks finds every same-origin document link on the page. Errors
// here mean the job's own URL is malformed, which is permanent.
func collectLinks(job crawler.Job, html string) ([]string, error) {
	origin, err := extract.Origin(job.URL)
	if err != nil {
		return nil, err
	}
	return extract.Links(html, origin)
}

// enqueueLinks inserts pending jobs for discovered links, propagating the
// parent job's config so crawl policy follows the links. Existing jobs for
// a URL are never reset.
func (p *Processor) enqueueLinks(ctx context.Context, job crawler.Job, links []string) error {
	if len(links) == 0 {
		return nil
	}

	inserted, err := p.jobs.UpsertLinks(ctx, links, job.Config)
	if err != nil {
		return fmt.Errorf("upsert discovered links: %w", err)
	}
	if inserted > 0 {
		metrics.LinksDiscoveredTotal.Add(float64(inserted))
		p.logger.Debug("links discovered",
			zap.String("url", job.URL),
			zap.Int("found", len(links)),
			zap.Int64("queued", inserted),
		)
	}
	return nil
}

// fail classifies a pipeline error. Transient network errors under the
// retry limit re-queue the job; everything else is a permanent failure,
// recorded for operator inspection and followed by the pruning check.
func (p *Processor) fail(ctx context.Context, job crawler.Job, cause error) error {
	if crawler.IsTransient(cause) && job.RetryCount < p.cfg.MaxRetries {
		if err := p.jobs.Requeue(ctx, job.ID); err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		metrics.JobsProcessedTotal.WithLabelValues("retried").Inc()
		p.logger.Warn("transient failure, job re-queued",
			zap.String("url", job.URL),
			zap.Int("attempt", job.RetryCount+1),
			zap.Error(cause),
		)
		return nil
	}

	if err := p.jobs.MarkFailed(ctx, job.ID, shortMessage(cause), cause.Error()); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
	p.logger.Warn("job failed permanently",
		zap.String("url", job.URL),
		zap.Int("retries", job.RetryCount),
		zap.Error(cause),
	)

	if job.Config.SourceURL != "" {
		if err := p.pruneSource(ctx, job.Config.SourceURL); err != nil {
			return err
		}
	}
	return nil
}

// shortMessage reduces an error chain to its innermost sentinel when one of
// the recognized kinds is present, keeping the stored message stable.
func shortMessage(err error) string {
	for _, sentinel := range []error{
		crawler.ErrMissingConfig,
		crawler.ErrInsufficientContent,
		crawler.ErrNotEnglish,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		return "fetch failed"
	}
	return err.Error()
}

// pruneSource is a one-way, best-effort circuit breaker: when a source has
// accumulated enough permanent failures with near-zero successes, its
// still-pending jobs are deleted. Concurrent triggers are harmless because
// deleting zero rows is a no-op.
func (p *Processor) pruneSource(ctx context.Context, sourceURL string) error {
	if !p.cfg.Pruning.Enabled {
		return nil
	}

	failed, err := p.jobs.CountBySource(ctx, sourceURL, crawler.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("count failed jobs: %w", err)
	}
	if failed < p.cfg.Pruning.FailureThreshold {
		return nil
	}

	done, err := p.jobs.CountBySource(ctx, sourceURL, crawler.JobStatusDone)
	if err != nil {
		return fmt.Errorf("count done jobs: %w", err)
	}
	if done > p.cfg.Pruning.DoneCountThreshold {
		return nil
	}

	deleted, err := p.jobs.DeletePendingBySource(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("prune pending jobs: %w", err)
	}
	if deleted > 0 {
		metrics.PrunedJobsTotal.Add(float64(deleted))
		p.logger.Warn("pruned bad source",
			zap.String("source", sourceURL),
			zap.Int64("failed", failed),
			zap.Int64("done", done),
			zap.Int64("deleted", deleted),
		)
	}
	return nil
}
