// Package metrics exposes the pipeline's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	Submissions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dealintel_submissions_total",
		Help: "Analysis submissions by outcome (accepted, duplicate, cached, rejected).",
	}, []string{"outcome"})

	RequestsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dealintel_requests_finished_total",
		Help: "Analysis requests that reached a terminal state.",
	}, []string{"state", "error_kind"})

	AnalyzerDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dealintel_analyzer_duration_seconds",
		Help:    "Time spent in each analyzer.",
		Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 15, 45, 120},
	}, []string{"analyzer", "outcome"})

	ProcessingDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "dealintel_processing_duration_seconds",
		Help:    "End-to-end worker time per request.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.5, 10),
	})

	CacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dealintel_cache_lookups_total",
		Help: "Result cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	QuotaDenials = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "dealintel_quota_denials_total",
		Help: "Submissions refused by the usage limiter.",
	}, []string{"tier", "reason"})

	StaleRequeued = factory.NewCounter(prometheus.CounterOpts{
		Name: "dealintel_stale_requeued_total",
		Help: "Requests re-enqueued after a lost worker or dropped task.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
