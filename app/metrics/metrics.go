// Package metrics provides Prometheus metrics for the sitemap service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newscomb"

var (
	BuildTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_total",
			Help:      "Total number of sitemap builds",
		},
		[]string{"feed", "status"},
	)

	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of sitemap builds in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"feed"},
	)

	CacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_reads_total",
			Help:      "Sitemap reads by cache result",
		},
		[]string{"feed", "result"},
	)

	InvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Sitemap cache invalidations by reason",
		},
		[]string{"feed", "reason"},
	)

	IngestedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_items_total",
			Help:      "Upstream feed items ingested as posts",
		},
		[]string{"source", "status"},
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Number of tasks waiting for a worker",
		},
	)
)

// RecordBuild records one sitemap build attempt
func RecordBuild(feed, status string, duration time.Duration) {
	BuildTotal.WithLabelValues(feed, status).Inc()
	BuildDuration.WithLabelValues(feed).Observe(duration.Seconds())
}

func RecordCacheRead(feed, result string) {
	CacheReadsTotal.WithLabelValues(feed, result).Inc()
}

func RecordInvalidation(feed, reason string) {
	InvalidationsTotal.WithLabelValues(feed, reason).Inc()
}

func RecordIngest(source, status string, count int) {
	IngestedItemsTotal.WithLabelValues(source, status).Add(float64(count))
}

func SetQueueDepth(depth int) {
	TaskQueueDepth.Set(float64(depth))
}
