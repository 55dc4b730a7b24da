// Package metrics exposes Prometheus instruments for function handlers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	embedJobs   *prometheus.CounterVec
	cacheEvents *prometheus.CounterVec
}

// New registers the instruments on a private registry so tests can build
// as many as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_function_invocations_total",
			Help: "Function invocations by outcome.",
		}, []string{"function", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadflow_function_duration_seconds",
			Help:    "Function handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"function"}),
		embedJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_embed_jobs_total",
			Help: "Background lead embedding jobs by outcome.",
		}, []string{"outcome"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_query_cache_invalidations_total",
			Help: "Query cache invalidations by resource.",
		}, []string{"resource"}),
	}
	m.registry.MustRegister(
		m.invocations,
		m.duration,
		m.embedJobs,
		m.cacheEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveFunction records one handler run. outcome is "success" or an error code.
func (m *Metrics) ObserveFunction(function, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(function, outcome).Inc()
	m.duration.WithLabelValues(function).Observe(elapsed.Seconds())
}

func (m *Metrics) EmbedJob(outcome string) {
	if m == nil {
		return
	}
	m.embedJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheInvalidated(resource string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(resource).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
