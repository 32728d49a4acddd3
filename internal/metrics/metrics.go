// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Total number of HTTP fetches, labeled by host and status code.",
		},
		[]string{"host", "status"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_bytes_total",
			Help: "Total number of body bytes fetched, labeled by host.",
		},
		[]string{"host"},
	)

	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Cache hits, labeled by cache kind (conditional, link).",
		},
		[]string{"kind"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-host token bucket.",
			Buckets: []float64{0.005, 0.05, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	pipelineItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_pipeline_items_total",
			Help: "Pipeline items processed, labeled by source, stage and outcome.",
		},
		[]string{"source", "stage", "outcome"},
	)

	duplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_duplicates_total",
			Help: "Duplicate documents detected, labeled by detector (hash, simhash, minhash).",
		},
		[]string{"detector"},
	)
)

// IncFetch records one completed fetch for a host/status pair.
func IncFetch(host, status string) {
	fetchesTotal.WithLabelValues(host, status).Inc()
}

// AddFetchBytes records body bytes received from a host.
func AddFetchBytes(host string, n int) {
	fetchBytesTotal.WithLabelValues(host).Add(float64(n))
}

// IncCacheHit records a hit on one of the client caches.
func IncCacheHit(kind string) {
	cacheHitsTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records time a caller spent blocked on a bucket.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// IncPipelineItem records a per-item pipeline outcome for one stage.
func IncPipelineItem(source, stage, outcome string) {
	pipelineItemsTotal.WithLabelValues(source, stage, outcome).Inc()
}

// IncDuplicate records a detected duplicate.
func IncDuplicate(detector string) {
	duplicatesTotal.WithLabelValues(detector).Inc()
}

// Handler returns the Prometheus scrape handler for the admin server.
func Handler() http.Handler {
	return promhttp.Handler()
}
