package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/store/memory"
)

type stubFetcher struct {
	html string
	err  error
}

func (f *stubFetcher) Fetch(context.Context, string) (string, error) {
	return f.html, f.err
}

func testConfig() Config {
	return Config{
		MaxRetries: 3,
		Pruning: PruningConfig{
			Enabled:            true,
			FailureThreshold:   500,
			DoneCountThreshold: 0,
		},
	}
}

func testJob(url string) crawler.Job {
	return crawler.Job{
		ID:     uuid.NewString(),
		URL:    url,
		Status: crawler.JobStatusProcessing,
		Config: crawler.JobConfig{
			ContentSelectors: []string{"div.article"},
			SourceURL:        "https://news.example.com",
			Category:         "economy",
		},
	}
}

// articlePage builds a document that clears the extraction thresholds.
func articlePage(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html lang="en"><head><title>Quarterly Report</title></head><body>`)
	for _, href := range links {
		fmt.Fprintf(&b, `<a href=%q>more</a>`, href)
	}
	b.WriteString(`<div class="article"><p>`)
	b.WriteString(strings.Repeat("consumer prices rose again this quarter ", 40))
	b.WriteString(`</p></div></body></html>`)
	return b.String()
}

func TestProcessStoresArticleAndFinishesJob(t *testing.T) {
	t.Parallel()

	store := memory.New()
	job := testJob("https://news.example.com/economy/report")
	store.PutJob(job)

	fetcher := &stubFetcher{html: articlePage("/economy/follow-up", "https://other.example.org/away")}
	proc := New(fetcher, store, store, testConfig(), zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	got, ok := store.GetJob(job.URL)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusDone, got.Status)
	require.NotNil(t, got.CrawledAt)

	article, ok := store.GetArticle(job.URL)
	require.True(t, ok)
	require.Equal(t, "Quarterly Report", article.Title)
	require.Contains(t, article.Content, "consumer prices rose")
}

func TestProcessQueuesSameOriginLinksWithInheritedConfig(t *testing.T) {
	t.Parallel()

	store := memory.New()
	job := testJob("https://news.example.com/economy/report")
	store.PutJob(job)

	fetcher := &stubFetcher{html: articlePage("/economy/follow-up", "https://other.example.org/away")}
	proc := New(fetcher, store, store, testConfig(), zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	link, ok := store.GetJob("https://news.example.com/economy/follow-up")
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusPending, link.Status)
	require.Equal(t, job.Config, link.Config)

	_, ok = store.GetJob("https://other.example.org/away")
	require.False(t, ok, "cross-origin link must not be queued")
}

func TestProcessChallengeReroutesWithoutRetryCost(t *testing.T) {
	t.Parallel()

	store := memory.New()
	job := testJob("https://news.example.com/guarded")
	job.RetryCount = 2
	store.PutJob(job)

	fetcher := &stubFetcher{err: fmt.Errorf("%s: %w", job.URL, crawler.ErrChallengeDetected)}
	proc := New(fetcher, store, store, testConfig(), zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	got, ok := store.GetJob(job.URL)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusPending, got.Status)
	require.True(t, got.RequiresRendering)
	require.Equal(t, 2, got.RetryCount, "rerouting must not consume a retry")
}

func TestProcessTransientErrorRequeues(t *testing.T) {
	t.Parallel()

	store := memory.New()
	job := testJob("https://news.example.com/flaky")
	store.PutJob(job)

	fetcher := &stubFetcher{err: &crawler.FetchError{URL: job.URL, Err: errors.New("connection reset")}}
	proc := New(fetcher, store, store, testConfig(), zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	got, ok := store.GetJob(job.URL)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusPending, got.Status)
	require.Equal(t, 1, got.RetryCount)
}

func TestProcessRetriesExhaustedFailsPermanently(t *testing.T) {
	t.Parallel()

	store := memory.New()
	job := testJob("https://news.example.com/flaky")
	job.RetryCount = 3
	store.PutJob(job)

	fetcher := &stubFetcher{err: &crawler.FetchError{URL: job.URL, Err: errors.New("connection reset")}}
	proc := New(fetcher, store, store, testConfig(), zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	got, ok := store.GetJob(job.URL)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Equal(t, "fetch failed", got.ErrorMessage)
	require.Contains(t, got.ErrorDetail, "connection reset")
}

func TestProcessMissingSelectorsFailsPermanently(t *testing.T) {
	t.Parallel()

	store := memory.New()
	job := testJob("https://news.example.com/unconfigured")
	job.Config.ContentSelectors = nil
	store.PutJob(job)

	fetcher := &stubFetcher{html: articlePage()}
	proc := New(fetcher, store, store, testConfig(), zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	got, ok := store.GetJob(job.URL)
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Equal(t, crawler.ErrMissingConfig.Error(), got.ErrorMessage)
}

func TestProcessContentFailuresDoNotRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		html    string
		message string
	}{
		{
			name:    "too short",
			html:    `<html lang="en"><body><div class="article"><p>barely anything here</p></div></body></html>`,
			message: crawler.ErrInsufficientContent.Error(),
		},
		{
			name: "wrong language",
			html: `<html lang="fr"><body><div class="article"><p>` +
				strings.Repeat("les prix ont encore augmente ce trimestre ", 40) +
				`</p></div></body></html>`,
			message: crawler.ErrNotEnglish.Error(),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := memory.New()
			job := testJob("https://news.example.com/" + strings.ReplaceAll(tt.name, " ", "-"))
			store.PutJob(job)

			proc := New(&stubFetcher{html: tt.html}, store, store, testConfig(), zap.NewNop())
			require.NoError(t, proc.Process(context.Background(), job))

			got, ok := store.GetJob(job.URL)
			require.True(t, ok)
			require.Equal(t, crawler.JobStatusFailed, got.Status)
			require.Equal(t, tt.message, got.ErrorMessage)
		})
	}
}

func TestProcessPrunesSourceAtThreshold(t *testing.T) {
	t.Parallel()

	store := memory.New()
	cfg := testConfig()
	cfg.Pruning.FailureThreshold = 2

	source := "https://broken.example.com"
	failed := testJob("https://broken.example.com/earlier")
	failed.Status = crawler.JobStatusFailed
	failed.Config.SourceURL = source
	store.PutJob(failed)

	pending := testJob("https://broken.example.com/queued")
	pending.Status = crawler.JobStatusPending
	pending.Config.SourceURL = source
	store.PutJob(pending)

	job := testJob("https://broken.example.com/current")
	job.Config.SourceURL = source
	job.RetryCount = cfg.MaxRetries
	store.PutJob(job)

	fetcher := &stubFetcher{err: &crawler.FetchError{URL: job.URL, Err: errors.New("connection reset")}}
	proc := New(fetcher, store, store, cfg, zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	_, ok := store.GetJob(pending.URL)
	require.False(t, ok, "pending jobs of a pruned source must be deleted")

	got, ok := store.GetJob(failed.URL)
	require.True(t, ok, "failed jobs survive pruning for inspection")
	require.Equal(t, crawler.JobStatusFailed, got.Status)
}

func TestProcessPruningRespectsDoneCount(t *testing.T) {
	t.Parallel()

	store := memory.New()
	cfg := testConfig()
	cfg.Pruning.FailureThreshold = 1

	source := "https://mixed.example.com"
	done := testJob("https://mixed.example.com/worked")
	done.Status = crawler.JobStatusDone
	done.Config.SourceURL = source
	store.PutJob(done)

	pending := testJob("https://mixed.example.com/queued")
	pending.Status = crawler.JobStatusPending
	pending.Config.SourceURL = source
	store.PutJob(pending)

	job := testJob("https://mixed.example.com/current")
	job.Config.SourceURL = source
	job.RetryCount = cfg.MaxRetries
	store.PutJob(job)

	fetcher := &stubFetcher{err: &crawler.FetchError{URL: job.URL, Err: errors.New("connection reset")}}
	proc := New(fetcher, store, store, cfg, zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	_, ok := store.GetJob(pending.URL)
	require.True(t, ok, "a source with successes must not be pruned")
}

func TestProcessPruningDisabled(t *testing.T) {
	t.Parallel()

	store := memory.New()
	cfg := testConfig()
	cfg.Pruning.Enabled = false
	cfg.Pruning.FailureThreshold = 1

	source := "https://broken.example.com"
	pending := testJob("https://broken.example.com/queued")
	pending.Status = crawler.JobStatusPending
	pending.Config.SourceURL = source
	store.PutJob(pending)

	job := testJob("https://broken.example.com/current")
	job.Config.SourceURL = source
	job.RetryCount = cfg.MaxRetries
	store.PutJob(job)

	fetcher := &stubFetcher{err: &crawler.FetchError{URL: job.URL, Err: errors.New("connection reset")}}
	proc := New(fetcher, store, store, cfg, zap.NewNop())

	require.NoError(t, proc.Process(context.Background(), job))

	_, ok := store.GetJob(pending.URL)
	require.True(t, ok)
}
