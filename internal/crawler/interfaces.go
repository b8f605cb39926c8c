package crawler

import (
	"context"
)

// JobStore is the durable work queue. All cross-worker coordination happens
// through ClaimOnePending; every other mutation targets a single document
// the caller already owns, or is an insert-only upsert.
type JobStore interface {
	// ClaimOnePending atomically selects one pending job whose
	// requires_rendering flag matches the worker's capability, marks it
	// processing, and returns the post-update job. The second return is
	// false when no eligible job exists.
	ClaimOnePending(ctx context.Context, requiresRendering bool) (Job, bool, error)

	// UpsertLinks inserts a pending job per URL with the given config,
	// skipping URLs that already have a job. Returns the number inserted.
	UpsertLinks(ctx context.Context, urls []string, defaults JobConfig) (int64, error)

	// SeedJob inserts a single pending job if none exists for the URL.
	SeedJob(ctx context.Context, url string, cfg JobConfig) error

	// MarkDone finalizes a successfully processed job.
	MarkDone(ctx context.Context, id string) error

	// MarkFailed records a permanent failure with operator-facing detail.
	MarkFailed(ctx context.Context, id, message, detail string) error

	// Requeue returns a job to pending and increments its retry counter.
	Requeue(ctx context.Context, id string) error

	// MarkRequiresRendering returns a job to pending flagged for the
	// rendering-capable worker. The retry counter is untouched.
	MarkRequiresRendering(ctx context.Context, id string) error

	// CountPending reports eligible pending jobs for a capability.
	CountPending(ctx context.Context, requiresRendering bool) (int64, error)

	// CountBySource counts jobs for a source URL in a given status.
	CountBySource(ctx context.Context, sourceURL string, status JobStatus) (int64, error)

	// DeletePendingBySource removes all still-pending jobs for a source
	// and returns how many were deleted. Deleting zero rows is a no-op.
	DeletePendingBySource(ctx context.Context, sourceURL string) (int64, error)

	// RequeueStuckJobs resets jobs left in processing by an unclean
	// shutdown back to pending.
	RequeueStuckJobs(ctx context.Context) (int64, error)

	// StatusCounts aggregates the whole queue by status.
	StatusCounts(ctx context.Context) (StatusCounts, error)

	// SourceStatusCounts aggregates one source's jobs by status.
	SourceStatusCounts(ctx context.Context, sourceURL string) (StatusCounts, error)
}

// ArticleStore persists extracted articles keyed by URL.
type ArticleStore interface {
	UpsertArticle(ctx context.Context, article Article) error
}

// SourceStore persists registered seed sites.
type SourceStore interface {
	AddSource(ctx context.Context, source Source) error
	ListSources(ctx context.Context) ([]Source, error)
}

// Fetcher retrieves the HTML document for a URL, escalating to browser
// rendering when the lightweight path is insufficient.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Renderer obtains fully rendered HTML through a browser session. Workers
// without the capability carry a variant whose Render always returns
// ErrRenderingUnavailable.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}
