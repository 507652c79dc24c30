// Package metrics exposes Prometheus instrumentation for the runner cache
// and dispatch layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits counts runner-map lookups that found an entry, labeled by
	// the key scheme that matched ("structural" or "symbolic").
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_runner_cache_hits_total",
			Help: "Runner cache lookups that resolved an existing compiled runner.",
		},
		[]string{"kind"},
	)

	// CacheMisses counts resolutions that fell through to building a new
	// runner.
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offload_runner_cache_misses_total",
			Help: "Runner resolutions that had to construct a new compiled runner.",
		},
	)

	// MapSize tracks the current number of entries in the runner map.
	MapSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offload_runner_map_entries",
			Help: "Current number of cached compiled runners.",
		},
	)

	// Compiles counts backend compilations of subgraph specializations.
	Compiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offload_backend_compiles_total",
			Help: "Backend compilations of subgraph specializations.",
		},
	)

	// CompileSeconds observes how long each backend compilation took.
	CompileSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offload_backend_compile_seconds",
			Help:    "Duration of backend compilations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 10, 7),
		},
	)

	// Executions counts compiled-runner invocations by outcome.
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_runner_executions_total",
			Help: "Compiled-runner invocations by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(CacheHits, CacheMisses, MapSize, Compiles, CompileSeconds, Executions)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
