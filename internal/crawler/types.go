// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the queue store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// JobConfig is the crawl policy attached to a job at creation time. Every
// link discovered while processing a job inherits the parent's config
// verbatim, so policy propagates transitively from the seed. It is never
// mutated after the job is created.
type JobConfig struct {
	ContentSelectors []string `json:"content_selectors"`
	SourceURL        string   `json:"source_url,omitempty"`
	Category         string   `json:"category,omitempty"`
}

// Job is one queued URL with crawl status and inherited configuration.
// The URL is the unique key; at most one worker holds a job in processing
// at a time, enforced by the store's atomic claim.
type Job struct {
	ID                string     `json:"id"`
	URL               string     `json:"url"`
	Status            JobStatus  `json:"status"`
	RequiresRendering bool       `json:"requires_rendering"`
	RetryCount        int        `json:"retry_count"`
	Config            JobConfig  `json:"config"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ErrorDetail       string     `json:"error_detail,omitempty"`
	AddedAt           time.Time  `json:"added_at"`
	CrawledAt         *time.Time `json:"crawled_at,omitempty"`
}

// Source is a registered seed site. Jobs discovered from it carry its URL
// in their config so aggregate statistics and pruning can group by source.
type Source struct {
	URL       string    `json:"url"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Article is extracted page content, upserted by URL. A re-crawl of the
// same URL overwrites the previous version; there is no history.
type Article struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Description   string     `json:"description,omitempty"`
	Image         string     `json:"image,omitempty"`
	Author        string     `json:"author,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	CrawledAt     time.Time  `json:"crawled_at"`
}

// StatusCounts aggregates queue jobs by status.
type StatusCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
}

// Total sums all statuses.
func (c StatusCounts) Total() int64 {
	return c.Pending + c.Processing + c.Done + c.Failed
}
