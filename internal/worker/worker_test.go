package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/processor"
	"github.com/newsharvest/crawld/internal/store/memory"
)

type stubFetcher struct {
	html string
	err  error
}

func (f *stubFetcher) Fetch(context.Context, string) (string, error) {
	return f.html, f.err
}

// brokenClaimStore simulates a store whose claim query starts failing.
type brokenClaimStore struct {
	*memory.Store
	failures atomic.Int64
}

func (s *brokenClaimStore) ClaimOnePending(context.Context, bool) (crawler.Job, bool, error) {
	s.failures.Add(1)
	return crawler.Job{}, false, errors.New("connection closed")
}

func validPage() string {
	return `<html lang="en"><head><title>Report</title></head><body><div class="article"><p>` +
		strings.Repeat("steady growth across every tracked sector this month ", 30) +
		`</p></div></body></html>`
}

func seedJob(t *testing.T, store *memory.Store, url string, rendering bool) {
	t.Helper()
	store.PutJob(crawler.Job{
		ID:                uuid.NewString(),
		URL:               url,
		Status:            crawler.JobStatusPending,
		RequiresRendering: rendering,
		Config: crawler.JobConfig{
			ContentSelectors: []string{"div.article"},
			SourceURL:        "https://news.example.com",
		},
	})
}

func newTestWorker(store *memory.Store, cfg Config) *Worker {
	proc := processor.New(
		&stubFetcher{html: validPage()},
		store, store,
		processor.Config{MaxRetries: 3},
		zap.NewNop(),
	)
	return New(store, proc, cfg, zap.NewNop())
}

func TestWorkerDrainsQueue(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedJob(t, store, "https://news.example.com/one", false)
	seedJob(t, store, "https://news.example.com/two", false)
	seedJob(t, store, "https://news.example.com/three", false)

	w := newTestWorker(store, Config{Concurrency: 2, Sleep: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		counts, err := store.StatusCounts(context.Background())
		return err == nil && counts.Done == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerClaimsOnlyItsPartition(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedJob(t, store, "https://news.example.com/plain", false)
	seedJob(t, store, "https://news.example.com/guarded", true)

	w := newTestWorker(store, Config{Concurrency: 2, Sleep: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, ok := store.GetJob("https://news.example.com/plain")
		return ok && job.Status == crawler.JobStatusDone
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	guarded, ok := store.GetJob("https://news.example.com/guarded")
	require.True(t, ok)
	require.Equal(t, crawler.JobStatusPending, guarded.Status,
		"rendering-partition jobs must be left for the rendering worker")
}

func TestWorkerReturnsOnStoreFailure(t *testing.T) {
	t.Parallel()

	store := &brokenClaimStore{Store: memory.New()}
	proc := processor.New(&stubFetcher{html: validPage()}, store.Store, store.Store,
		processor.Config{MaxRetries: 3}, zap.NewNop())
	w := New(store, proc, Config{Concurrency: 1, Sleep: time.Millisecond}, zap.NewNop())

	err := w.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "claim pending job")
}

// countingClaimStore records how often the claim query runs.
type countingClaimStore struct {
	*memory.Store
	claims atomic.Int64
}

func (s *countingClaimStore) ClaimOnePending(ctx context.Context, rendering bool) (crawler.Job, bool, error) {
	s.claims.Add(1)
	return s.Store.ClaimOnePending(ctx, rendering)
}

func TestWorkerPacesEmptyRounds(t *testing.T) {
	t.Parallel()

	store := &countingClaimStore{Store: memory.New()}
	proc := processor.New(&stubFetcher{html: validPage()}, store.Store, store.Store,
		processor.Config{MaxRetries: 3}, zap.NewNop())
	w := New(store, proc, Config{Concurrency: 1, Sleep: 0, Delay: 50 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	require.LessOrEqual(t, store.claims.Load(), int64(5),
		"every round, including empty ones, must be paced by the delay")
}

func TestWorkerStopsDuringSleep(t *testing.T) {
	t.Parallel()

	store := memory.New()
	w := newTestWorker(store, Config{Concurrency: 1, Sleep: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}

func TestSupervisorRestartsFailedWorker(t *testing.T) {
	t.Parallel()

	store := &brokenClaimStore{Store: memory.New()}
	proc := processor.New(&stubFetcher{html: validPage()}, store.Store, store.Store,
		processor.Config{MaxRetries: 3}, zap.NewNop())
	w := New(store, proc, Config{Concurrency: 1, Sleep: time.Millisecond}, zap.NewNop())

	sup := NewSupervisor([]*Worker{w}, zap.NewNop())
	sup.restartDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return store.failures.Load() >= 3
	}, 2*time.Second, time.Millisecond, "worker should be restarted after store failures")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop on cancellation")
	}
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()

	require.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, sleepCtx(ctx, time.Hour))
	require.False(t, sleepCtx(ctx, 0))
}
