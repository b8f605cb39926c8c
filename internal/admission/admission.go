// Package admission validates and registers new crawl sources.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
)

// DefaultCategory is applied when the operator registers a source without
// a category.
const DefaultCategory = "general"

var (
	// ErrInvalidURL means the source URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("source URL must be absolute http or https")

	// ErrNoSelectors means no content selectors were supplied.
	ErrNoSelectors = errors.New("at least one content selector is required")
)

// Admitter registers sources and seeds their first crawl job.
type Admitter struct {
	sources crawler.SourceStore
	jobs    crawler.JobStore
	logger  *zap.Logger
}

// New constructs an Admitter.
func New(sources crawler.SourceStore, jobs crawler.JobStore, logger *zap.Logger) *Admitter {
	return &Admitter{sources: sources, jobs: jobs, logger: logger}
}

// AddSource validates the request, records the source, and seeds a pending
// job for its front page. Re-admitting a known source is harmless: both
// writes are idempotent on URL.
func (a *Admitter) AddSource(ctx context.Context, rawURL string, selectors []string, category string) error {
	sourceURL, err := normalizeURL(rawURL)
	if err != nil {
		return err
	}

	cleaned := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			cleaned = append(cleaned, sel)
		}
	}
	if len(cleaned) == 0 {
		return ErrNoSelectors
	}

	if category = strings.TrimSpace(category); category == "" {
		category = DefaultCategory
	}

	cfg := crawler.JobConfig{
		ContentSelectors: cleaned,
		SourceURL:        sourceURL,
		Category:         category,
	}

	source := crawler.Source{
		URL:       sourceURL,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.sources.AddSource(ctx, source); err != nil {
		return fmt.Errorf("add source: %w", err)
	}
	if err := a.jobs.SeedJob(ctx, sourceURL, cfg); err != nil {
		return fmt.Errorf("seed job: %w", err)
	}

	a.logger.Info("source admitted",
		zap.String("source", sourceURL),
		zap.String("category", category),
		zap.Int("selectors", len(cleaned)),
	)
	return nil
}

// normalizeURL validates the raw URL and strips query and fragment so the
// seeded job matches the canonical form used for discovered links.
func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return scheme + "://" + strings.ToLower(u.Host) + u.Path, nil
}
