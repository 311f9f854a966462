package http

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds all Prometheus metrics for the corn API
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Request metrics
	RequestDuration *prometheus.HistogramVec

	// Purchase outcome metrics
	PurchasesTotal prometheus.Counter
	DenialsTotal   prometheus.Counter

	// Infrastructure metrics
	StoreErrorsTotal   prometheus.Counter
	DenyCacheHitsTotal prometheus.Counter
	FloodShedTotal     prometheus.Counter
}

// NewMetricsRegistry creates a metrics registry with all corn API metrics
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cornd_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"route", "status"},
		),

		PurchasesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cornd_purchases_total",
				Help: "Total number of successful corn purchases",
			},
		),

		DenialsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cornd_denials_total",
				Help: "Total number of purchases denied by the window policy",
			},
		),

		StoreErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cornd_store_errors_total",
				Help: "Total number of ledger failures surfaced as 503",
			},
		),

		DenyCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cornd_deny_cache_hits_total",
				Help: "Total number of denials served from the redis fast path",
			},
		),

		FloodShedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cornd_flood_shed_total",
				Help: "Total number of requests shed by the per-client flood guard",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestDuration,
		m.PurchasesTotal,
		m.DenialsTotal,
		m.StoreErrorsTotal,
		m.DenyCacheHitsTotal,
		m.FloodShedTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this registry
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one request's duration labeled by route and status
func (m *MetricsRegistry) ObserveRequest(route string, status int, seconds float64) {
	m.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(seconds)
}

// IncPurchases satisfies handlers.Metrics
func (m *MetricsRegistry) IncPurchases() { m.PurchasesTotal.Inc() }

// IncDenials satisfies handlers.Metrics
func (m *MetricsRegistry) IncDenials() { m.DenialsTotal.Inc() }

// IncStoreErrors satisfies handlers.Metrics
func (m *MetricsRegistry) IncStoreErrors() { m.StoreErrorsTotal.Inc() }
