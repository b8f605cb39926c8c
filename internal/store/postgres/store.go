// Package postgres provides the Postgres-backed queue, article and source
// stores. Job ownership is coordinated entirely through the single-statement
// claim; no application-level read-then-write touches the claim path.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsharvest/crawld/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.JobStore, crawler.ArticleStore and
// crawler.SourceStore on Postgres.
type Store struct {
	pool pgxPool
}

// New creates a Store connected via a pgx pool built from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'pending',
	requires_rendering BOOLEAN NOT NULL DEFAULT FALSE,
	retry_count INT NOT NULL DEFAULT 0,
	config JSONB NOT NULL DEFAULT '{}',
	error_message TEXT,
	error_detail TEXT,
	added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	crawled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (status, requires_rendering, added_at);
CREATE INDEX IF NOT EXISTS jobs_source_idx ON jobs ((config->>'source_url'), status);

CREATE TABLE IF NOT EXISTS articles (
	url TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	description TEXT,
	image TEXT,
	author TEXT,
	published_date TIMESTAMPTZ,
	crawled_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	url TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const jobColumns = `id, url, status, requires_rendering, retry_count, config,
	error_message, error_detail, added_at, crawled_at`

const claimSQL = `
UPDATE jobs SET status = 'processing'
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'pending' AND requires_rendering = $1
	ORDER BY added_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

// ClaimOnePending atomically claims the oldest eligible pending job for the
// given capability. SKIP LOCKED lets concurrent claimers pass over rows
// another transaction is taking, so exactly one claimer wins each job.
func (s *Store) ClaimOnePending(ctx context.Context, requiresRendering bool) (crawler.Job, bool, error) {
	row := s.pool.QueryRow(ctx, claimSQL, requiresRendering)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, false, nil
		}
		return crawler.Job{}, false, fmt.Errorf("claim pending job: %w", err)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job       crawler.Job
		configRaw []byte
		errMsg    *string
		errDetail *string
	)
	err := row.Scan(
		&job.ID,
		&job.URL,
		&job.Status,
		&job.RequiresRendering,
		&job.RetryCount,
		&configRaw,
		&errMsg,
		&errDetail,
		&job.AddedAt,
		&job.CrawledAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &job.Config); err != nil {
			return crawler.Job{}, fmt.Errorf("decode job config: %w", err)
		}
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	if errDetail != nil {
		job.ErrorDetail = *errDetail
	}
	return job, nil
}

// UpsertLinks bulk-inserts pending jobs for newly discovered URLs. Existing
// jobs for the same URL are left untouched, whatever their state.
func (s *Store) UpsertLinks(ctx context.Context, urls []string, defaults crawler.JobConfig) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	configJSON, err := json.Marshal(defaults)
	if err != nil {
		return 0, fmt.Errorf("encode job config: %w", err)
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("INSERT INTO jobs (id, url, status, requires_rendering, retry_count, config) VALUES ")
	for i, u := range urls {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, 'pending', FALSE, 0, $%d)", len(args)+1, len(args)+2, len(args)+3)
		args = append(args, uuid.NewString(), u, configJSON)
	}
	sb.WriteString(" ON CONFLICT (url) DO NOTHING")

	tag, err := s.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("upsert links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SeedJob inserts one pending job unless the URL already has one.
func (s *Store) SeedJob(ctx context.Context, url string, cfg crawler.JobConfig) error {
	if _, err := s.UpsertLinks(ctx, []string{url}, cfg); err != nil {
		return fmt.Errorf("seed job: %w", err)
	}
	return nil
}

// MarkDone finalizes a successfully processed job.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = 'done', crawled_at = NOW() WHERE id = $1`)
}

// MarkFailed records a permanent failure with operator-facing detail.
func (s *Store) MarkFailed(ctx context.Context, id, message, detail string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2, error_detail = $3 WHERE id = $1`,
		id, message, detail)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// Requeue returns a job to pending and increments its retry counter in SQL,
// so the counter only ever increases.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = 'pending', retry_count = retry_count + 1 WHERE id = $1`)
}

// MarkRequiresRendering reroutes a job to the rendering-capable worker
// without touching the retry counter.
func (s *Store) MarkRequiresRendering(ctx context.Context, id string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = 'pending', requires_rendering = TRUE WHERE id = $1`)
}

func (s *Store) updateJob(ctx context.Context, id, sql string) error {
	tag, err := s.pool.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// CountPending reports eligible pending jobs for a capability.
func (s *Store) CountPending(ctx context.Context, requiresRendering bool) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'pending' AND requires_rendering = $1`,
		requiresRendering).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// CountBySource counts jobs for a source URL in a given status.
func (s *Store) CountBySource(ctx context.Context, sourceURL string, status crawler.JobStatus) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE config->>'source_url' = $1 AND status = $2`,
		sourceURL, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count jobs by source: %w", err)
	}
	return n, nil
}

// DeletePendingBySource removes all still-pending jobs for a source.
// Processing, done and failed jobs are never touched.
func (s *Store) DeletePendingBySource(ctx context.Context, sourceURL string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE config->>'source_url' = $1 AND status = 'pending'`,
		sourceURL)
	if err != nil {
		return 0, fmt.Errorf("delete pending jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequeueStuckJobs resets jobs abandoned in processing back to pending.
// Run at startup; while the orchestrator runs, processing jobs are owned.
func (s *Store) RequeueStuckJobs(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StatusCounts aggregates the whole queue by status.
func (s *Store) StatusCounts(ctx context.Context) (crawler.StatusCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return crawler.StatusCounts{}, fmt.Errorf("status counts: %w", err)
	}
	return scanStatusCounts(rows)
}

// SourceStatusCounts aggregates one source's jobs by status.
func (s *Store) SourceStatusCounts(ctx context.Context, sourceURL string) (crawler.StatusCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE config->>'source_url' = $1 GROUP BY status`,
		sourceURL)
	if err != nil {
		return crawler.StatusCounts{}, fmt.Errorf("source status counts: %w", err)
	}
	return scanStatusCounts(rows)
}

func scanStatusCounts(rows pgx.Rows) (crawler.StatusCounts, error) {
	defer rows.Close()
	var counts crawler.StatusCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return crawler.StatusCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		switch crawler.JobStatus(status) {
		case crawler.JobStatusPending:
			counts.Pending = n
		case crawler.JobStatusProcessing:
			counts.Processing = n
		case crawler.JobStatusDone:
			counts.Done = n
		case crawler.JobStatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return crawler.StatusCounts{}, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// UpsertArticle stores or overwrites the article for its URL. Re-crawls
// keep at most one current version; there is no history.
func (s *Store) UpsertArticle(ctx context.Context, article crawler.Article) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO articles (url, title, content, description, image, author, published_date, crawled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	description = EXCLUDED.description,
	image = EXCLUDED.image,
	author = EXCLUDED.author,
	published_date = EXCLUDED.published_date,
	crawled_at = EXCLUDED.crawled_at`,
		article.URL,
		article.Title,
		article.Content,
		nullable(article.Description),
		nullable(article.Image),
		nullable(article.Author),
		article.PublishedDate,
		article.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	return nil
}

// AddSource registers a source; registering the same URL twice is a no-op.
func (s *Store) AddSource(ctx context.Context, source crawler.Source) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sources (url, category, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (url) DO NOTHING`,
		source.URL, source.Category, source.CreatedAt)
	if err != nil {
		return fmt.Errorf("add source: %w", err)
	}
	return nil
}

// ListSources returns all registered sources ordered by URL.
func (s *Store) ListSources(ctx context.Context) ([]crawler.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url, category, created_at FROM sources ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []crawler.Source
	for rows.Next() {
		var src crawler.Source
		if err := rows.Scan(&src.URL, &src.Category, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
