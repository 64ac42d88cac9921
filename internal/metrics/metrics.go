// Package metrics defines Prometheus metrics for the sandbox server.
//
// Metrics live on a private registry served at /metrics. Names carry the
// outscraper_sandbox_ prefix; counters end in _total, durations in _seconds.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	// TasksSubmittedTotal counts accepted submissions by namespace and endpoint.
	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outscraper_sandbox_tasks_submitted_total",
			Help: "Total tasks accepted for resolution.",
		},
		[]string{"namespace", "endpoint"},
	)

	// TasksResolvedTotal counts tasks reaching a terminal state.
	TasksResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outscraper_sandbox_tasks_resolved_total",
			Help: "Total tasks resolved by namespace and terminal status.",
		},
		[]string{"namespace", "status"},
	)

	ResolveDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outscraper_sandbox_resolve_duration_seconds",
			Help:    "Time spent resolving a single task.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"namespace"},
	)

	ArchiveLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outscraper_sandbox_archive_lookups_total",
			Help: "Archive lookups by reported status.",
		},
		[]string{"status"},
	)

	// ActiveDispatches is the number of namespaces currently being drained.
	ActiveDispatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outscraper_sandbox_active_dispatches",
			Help: "Number of namespace dispatch loops currently running.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TasksSubmittedTotal,
		TasksResolvedTotal,
		ResolveDurationSeconds,
		ArchiveLookupsTotal,
		ActiveDispatches,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func RecordSubmitted(namespace, endpoint string) {
	TasksSubmittedTotal.WithLabelValues(namespace, endpoint).Inc()
}

// RecordResolved records a task reaching status after running for duration.
func RecordResolved(namespace, status string, duration time.Duration) {
	TasksResolvedTotal.WithLabelValues(namespace, status).Inc()
	ResolveDurationSeconds.WithLabelValues(namespace).Observe(duration.Seconds())
}

func RecordArchiveLookup(status string) {
	ArchiveLookupsTotal.WithLabelValues(status).Inc()
}
