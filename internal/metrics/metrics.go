// Package metrics exposes Prometheus collectors for the library server.
// A nil *Metrics is valid and records nothing, so services and tests can omit it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "library"

// Circulation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	circulation   *prometheus.CounterVec
	circulationMs *prometheus.HistogramVec
	storeRetries  prometheus.Counter
	overdueOpen   prometheus.Gauge
	overdueLastAt prometheus.Gauge
	cacheResults  *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		circulation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circulation",
			Name:      "operations_total",
			Help:      "Issue and return operations by outcome and reason.",
		}, []string{"operation", "outcome", "reason"}),
		circulationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "circulation",
			Name:      "operation_duration_seconds",
			Help:      "Issue and return latency including retries.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Transient store failures that were retried.",
		}),
		overdueOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circulation",
			Name:      "overdue_records",
			Help:      "Open issue records past their due date at the last scan.",
		}),
		overdueLastAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circulation",
			Name:      "overdue_last_scan_timestamp_seconds",
			Help:      "Unix time of the last completed overdue scan.",
		}),
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Catalog cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.circulation,
		m.circulationMs,
		m.storeRetries,
		m.overdueOpen,
		m.overdueLastAt,
		m.cacheResults,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveCirculation records one issue or return.
// reason is empty on success.
func (m *Metrics) ObserveCirculation(operation, outcome, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.circulation.WithLabelValues(operation, outcome, reason).Inc()
	m.circulationMs.WithLabelValues(operation).Observe(d.Seconds())
}

// StoreRetry counts one retried transient failure.
func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

// SetOverdue records the result of an overdue scan.
func (m *Metrics) SetOverdue(count int, at time.Time) {
	if m == nil {
		return
	}
	m.overdueOpen.Set(float64(count))
	m.overdueLastAt.Set(float64(at.Unix()))
}

// CacheLookup counts a catalog cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheResults.WithLabelValues("hit").Inc()
		return
	}
	m.cacheResults.WithLabelValues("miss").Inc()
}
