// Package metrics exposes Prometheus instrumentation for workers and
// producers. All methods are nil-safe so instrumentation stays optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	sendResults *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "jobs_total",
		Help:      "Jobs processed, by queue and outcome.",
	}, []string{"queue", "outcome"})

	m.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fanout",
		Name:      "job_duration_seconds",
		Help:      "Job processing time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"queue"})

	m.sendResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "send_results_total",
		Help:      "Per-recipient send results, by channel and status.",
	}, []string{"channel", "status"})

	m.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fanout",
		Name:      "queue_depth",
		Help:      "Queue depth, by state.",
	}, []string{"queue", "state"})

	m.registry.MustRegister(m.jobsTotal, m.jobDuration, m.sendResults, m.queueDepth)
	return m
}

// JobProcessed records one finished job.
func (m *Metrics) JobProcessed(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(queue, outcome).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SendResults adds n per-recipient outcomes for a channel.
func (m *Metrics) SendResults(channel, status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sendResults.WithLabelValues(channel, status).Add(float64(n))
}

// SetQueueDepth records a depth snapshot for one state.
func (m *Metrics) SetQueueDepth(queue, state string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue, state).Set(float64(n))
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
