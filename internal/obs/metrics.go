// Package obs registers optional Prometheus metrics for the engine's
// three subsystems. Metrics are entirely opt-in: a hosting process that
// never calls Register simply runs without them.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters and histograms a hosting process
// increments from the components' hook callbacks (OnStall, OnRetry,
// hit/miss hooks, fetch observer), grounded on the teacher pack's
// Prometheus usage for venue-facing counters/histograms.
type Metrics struct {
	RateLimiterStalls  prometheus.Counter
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	RetryAttempts      *prometheus.CounterVec
	StrategyOutcomes   *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
}

// Register creates and registers every metric against reg. Calling it
// more than once against the same registry panics (prometheus client
// behavior); callers should construct one Metrics per process.
func Register(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RateLimiterStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "correlation_crack_rate_limiter_stalls_total",
			Help: "Count of WaitForSlot calls that hit the safety-cap poll limit.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "correlation_crack_cache_hits_total",
			Help: "Count of TTL cache reads that returned a live value.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "correlation_crack_cache_misses_total",
			Help: "Count of TTL cache reads that found nothing or an expired entry.",
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlation_crack_retry_attempts_total",
			Help: "Count of retry attempts per venue, labeled by outcome.",
		}, []string{"venue", "outcome"}),
		StrategyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "correlation_crack_strategy_outcomes_total",
			Help: "Count of strategy runs by outcome: signalling, quiet, failed.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "correlation_crack_fetch_duration_seconds",
			Help:    "Per-asset candle fetch latency, labeled by venue.",
			Buckets: prometheus.DefBuckets,
		}, []string{"venue"}),
	}

	reg.MustRegister(m.RateLimiterStalls, m.CacheHits, m.CacheMisses, m.RetryAttempts, m.StrategyOutcomes, m.FetchDuration)
	return m
}
