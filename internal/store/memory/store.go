// Package memory provides an in-memory store implementation for
// development and testing. It mirrors the Postgres store's semantics,
// including exclusive claims, behind a single mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsharvest/crawld/internal/crawler"
)

// Store implements crawler.JobStore, crawler.ArticleStore and
// crawler.SourceStore in memory.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]crawler.Job // keyed by URL
	articles map[string]crawler.Article
	sources  map[string]crawler.Source
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]crawler.Job),
		articles: make(map[string]crawler.Article),
		sources:  make(map[string]crawler.Source),
	}
}

// ClaimOnePending marks the oldest eligible pending job processing and
// returns it. The mutex makes the find-and-set atomic, so at most one
// caller can claim a given job.
func (s *Store) ClaimOnePending(_ context.Context, requiresRendering bool) (crawler.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		oldest crawler.Job
		found  bool
	)
	for _, job := range s.jobs {
		if job.Status != crawler.JobStatusPending || job.RequiresRendering != requiresRendering {
			continue
		}
		if !found || job.AddedAt.Before(oldest.AddedAt) {
			oldest = job
			found = true
		}
	}
	if !found {
		return crawler.Job{}, false, nil
	}

	oldest.Status = crawler.JobStatusProcessing
	s.jobs[oldest.URL] = oldest
	return oldest, true, nil
}

// UpsertLinks inserts a pending job per URL unless one already exists.
func (s *Store) UpsertLinks(_ context.Context, urls []string, defaults crawler.JobConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64
	for _, u := range urls {
		if _, exists := s.jobs[u]; exists {
			continue
		}
		s.jobs[u] = crawler.Job{
			ID:      uuid.NewString(),
			URL:     u,
			Status:  crawler.JobStatusPending,
			Config:  defaults,
			AddedAt: time.Now().UTC(),
		}
		inserted++
	}
	return inserted, nil
}

// SeedJob inserts one pending job unless the URL already has one.
func (s *Store) SeedJob(ctx context.Context, url string, cfg crawler.JobConfig) error {
	_, err := s.UpsertLinks(ctx, []string{url}, cfg)
	return err
}

// MarkDone finalizes a job.
func (s *Store) MarkDone(_ context.Context, id string) error {
	return s.update(id, func(job *crawler.Job) {
		now := time.Now().UTC()
		job.Status = crawler.JobStatusDone
		job.CrawledAt = &now
	})
}

// MarkFailed records a permanent failure.
func (s *Store) MarkFailed(_ context.Context, id, message, detail string) error {
	return s.update(id, func(job *crawler.Job) {
		job.Status = crawler.JobStatusFailed
		job.ErrorMessage = message
		job.ErrorDetail = detail
	})
}

// Requeue returns a job to pending and bumps its retry counter.
func (s *Store) Requeue(_ context.Context, id string) error {
	return s.update(id, func(job *crawler.Job) {
		job.Status = crawler.JobStatusPending
		job.RetryCount++
	})
}

// MarkRequiresRendering reroutes a job to the rendering-capable worker.
func (s *Store) MarkRequiresRendering(_ context.Context, id string) error {
	return s.update(id, func(job *crawler.Job) {
		job.Status = crawler.JobStatusPending
		job.RequiresRendering = true
	})
}

func (s *Store) update(id string, mutate func(*crawler.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url, job := range s.jobs {
		if job.ID == id {
			mutate(&job)
			s.jobs[url] = job
			return nil
		}
	}
	return fmt.Errorf("job %s not found", id)
}

// CountPending reports eligible pending jobs for a capability.
func (s *Store) CountPending(_ context.Context, requiresRendering bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.Status == crawler.JobStatusPending && job.RequiresRendering == requiresRendering {
			n++
		}
	}
	return n, nil
}

// CountBySource counts jobs for a source in a given status.
func (s *Store) CountBySource(_ context.Context, sourceURL string, status crawler.JobStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.Config.SourceURL == sourceURL && job.Status == status {
			n++
		}
	}
	return n, nil
}

// DeletePendingBySource removes all pending jobs for a source.
func (s *Store) DeletePendingBySource(_ context.Context, sourceURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for url, job := range s.jobs {
		if job.Config.SourceURL == sourceURL && job.Status == crawler.JobStatusPending {
			delete(s.jobs, url)
			deleted++
		}
	}
	return deleted, nil
}

// RequeueStuckJobs resets processing jobs back to pending.
func (s *Store) RequeueStuckJobs(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for url, job := range s.jobs {
		if job.Status == crawler.JobStatusProcessing {
			job.Status = crawler.JobStatusPending
			s.jobs[url] = job
			n++
		}
	}
	return n, nil
}

// StatusCounts aggregates the queue by status.
func (s *Store) StatusCounts(_ context.Context) (crawler.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts crawler.StatusCounts
	for _, job := range s.jobs {
		tally(&counts, job.Status)
	}
	return counts, nil
}

// SourceStatusCounts aggregates one source's jobs by status.
func (s *Store) SourceStatusCounts(_ context.Context, sourceURL string) (crawler.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts crawler.StatusCounts
	for _, job := range s.jobs {
		if job.Config.SourceURL == sourceURL {
			tally(&counts, job.Status)
		}
	}
	return counts, nil
}

func tally(counts *crawler.StatusCounts, status crawler.JobStatus) {
	switch status {
	case crawler.JobStatusPending:
		counts.Pending++
	case crawler.JobStatusProcessing:
		counts.Processing++
	case crawler.JobStatusDone:
		counts.Done++
	case crawler.JobStatusFailed:
		counts.Failed++
	}
}

// UpsertArticle stores or overwrites the article for its URL.
func (s *Store) UpsertArticle(_ context.Context, article crawler.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[article.URL] = article
	return nil
}

// GetArticle returns the stored article for a URL, if any.
func (s *Store) GetArticle(url string) (crawler.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[url]
	return article, ok
}

// AddSource registers a source unless one exists for the URL.
func (s *Store) AddSource(_ context.Context, source crawler.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[source.URL]; exists {
		return nil
	}
	s.sources[source.URL] = source
	return nil
}

// ListSources returns all registered sources ordered by URL.
func (s *Store) ListSources(_ context.Context) ([]crawler.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sources := make([]crawler.Source, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].URL < sources[j].URL })
	return sources, nil
}

// GetJob returns the job for a URL, if any. Test helper.
func (s *Store) GetJob(url string) (crawler.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[url]
	return job, ok
}

// PutJob inserts or replaces a job wholesale. Test helper.
func (s *Store) PutJob(job crawler.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.AddedAt.IsZero() {
		job.AddedAt = time.Now().UTC()
	}
	s.jobs[job.URL] = job
}
