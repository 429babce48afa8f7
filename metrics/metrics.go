// Package metrics holds the prometheus collectors for the sync pipeline and the API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "abceats"

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched      prometheus.Counter
	rowsFetched       prometheus.Counter
	fetchRetries      prometheus.Counter
	fetchFailures     *prometheus.CounterVec
	recordsSkipped    *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	restaurantsLoaded prometheus.Gauge
	queryDuration     *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	scheduledWakeups  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_pages_fetched_total",
			Help:      "Pages successfully fetched from the open-data endpoint.",
		}),
		rowsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rows_fetched_total",
			Help:      "Inspection rows received from the open-data endpoint.",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_retries_total",
			Help:      "Page requests retried after a transient failure.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_failures_total",
			Help:      "Page requests that failed for good, by error kind.",
		}, []string{"kind"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidator_skipped_total",
			Help:      "Rows or restaurants dropped during consolidation, by reason.",
		}, []string{"reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Completed refresh passes by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a full refresh pass.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		restaurantsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "restaurants_loaded",
			Help:      "Restaurants currently held in memory.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query layer latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"method", "route", "status"}),
		scheduledWakeups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_wakeups_total",
			Help:      "Background refresh wake-ups by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.pagesFetched,
		m.rowsFetched,
		m.fetchRetries,
		m.fetchFailures,
		m.recordsSkipped,
		m.refreshes,
		m.refreshDuration,
		m.restaurantsLoaded,
		m.queryDuration,
		m.httpRequests,
		m.scheduledWakeups,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PageFetched(rows int) {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
	m.rowsFetched.Add(float64(rows))
}

func (m *Metrics) FetchRetried() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) FetchFailed(kind string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(kind).Inc()
}

// Skipped records dropped rows or restaurants; reason is "coordinates" or "identifier"
func (m *Metrics) Skipped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.recordsSkipped.WithLabelValues(reason).Add(float64(n))
}

// RefreshFinished records the outcome and duration of one refresh pass
func (m *Metrics) RefreshFinished(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetRestaurantsLoaded(n int) {
	if m == nil {
		return
	}
	m.restaurantsLoaded.Set(float64(n))
}

// ObserveQuery records how long a query layer operation took
func (m *Metrics) ObserveQuery(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Wakeup records a scheduler wake-up; outcome is "completed", "failed" or "expired"
func (m *Metrics) Wakeup(outcome string) {
	if m == nil {
		return
	}
	m.scheduledWakeups.WithLabelValues(outcome).Inc()
}
