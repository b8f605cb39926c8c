// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessedTotal counts finished job attempts by outcome:
	// done, failed, retried, rerouted (challenge escalation).
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawld_jobs_processed_total",
			Help: "Total job attempts processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// FetchesTotal counts fetch attempts by path (http or render) and result.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawld_fetches_total",
			Help: "Total fetch attempts, labeled by path and result.",
		},
		[]string{"path", "result"},
	)

	// ChallengesDetectedTotal counts anti-bot interstitials seen on the
	// lightweight path.
	ChallengesDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawld_challenges_detected_total",
			Help: "Total anti-bot challenge pages detected.",
		},
	)

	// LinksDiscoveredTotal counts newly enqueued links.
	LinksDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawld_links_discovered_total",
			Help: "Total new links discovered and enqueued.",
		},
	)

	// ArticlesStoredTotal counts successfully extracted articles.
	ArticlesStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawld_articles_stored_total",
			Help: "Total articles extracted and stored.",
		},
	)

	// PrunedJobsTotal counts pending jobs removed by the bad-source
	// circuit breaker.
	PrunedJobsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawld_pruned_jobs_total",
			Help: "Total pending jobs deleted by source pruning.",
		},
	)

	// InFlightJobs tracks claims currently being processed.
	InFlightJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawld_in_flight_jobs",
			Help: "Number of claimed jobs currently being processed.",
		},
	)
)
