// Package metrics provides Prometheus metrics for trendframe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsTotal counts scanned ingestion candidates by outcome.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendframe",
			Name:      "ingest_items_total",
			Help:      "Ingestion candidates by outcome",
		},
		[]string{"outcome"},
	)

	// SourceFetchErrors counts failed source fetches.
	SourceFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendframe",
			Name:      "source_fetch_errors_total",
			Help:      "Total number of failed source fetches",
		},
		[]string{"source_type"},
	)

	// TranslationsTotal counts title translations by result.
	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendframe",
			Name:      "translations_total",
			Help:      "Title translations by result",
		},
		[]string{"result"},
	)

	// JobRuns counts finished pipeline runs.
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trendframe",
			Name:      "job_runs_total",
			Help:      "Pipeline runs by job type and final status",
		},
		[]string{"job_type", "status"},
	)

	// JobDuration measures pipeline run duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trendframe",
			Name:      "job_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	// StaleJobs counts running jobs failed by the staleness sweep.
	StaleJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trendframe",
			Name:      "stale_jobs_total",
			Help:      "Running jobs marked failed after exceeding the stale threshold",
		},
	)

	// FeedSize observes the number of items placed in a generated feed.
	FeedSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trendframe",
			Name:      "feed_size",
			Help:      "Distribution of generated feed sizes",
			Buckets:   []float64{0, 1, 3, 5, 10, 15, 20, 30, 50},
		},
		[]string{"slot"},
	)
)

// RecordItem records the outcome of one ingestion candidate.
func RecordItem(outcome string) {
	ItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordJob records a finished run.
func RecordJob(jobType, status string, seconds float64) {
	JobRuns.WithLabelValues(jobType, status).Inc()
	JobDuration.WithLabelValues(jobType).Observe(seconds)
}
