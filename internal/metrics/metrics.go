package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the memory subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Layer metrics
	LayerOperationsTotal   *prometheus.CounterVec
	LayerOperationDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
	CascadeFailuresTotal   *prometheus.CounterVec

	// Search metrics
	SearchBranchTotal  *prometheus.CounterVec
	SearchDuration     *prometheus.HistogramVec
	SearchResultsTotal prometheus.Histogram
	ConfigReloadsTotal prometheus.Counter
	PromotionsTotal    *prometheus.CounterVec
	MigrationsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		LayerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_layer_operations_total",
				Help: "Total number of layer operations by operation, layer and status",
			},
			[]string{"op", "layer", "status"},
		),
		LayerOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memory_layer_operation_duration_seconds",
				Help:    "Duration of layer operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "layer"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memory_store_operation_duration_seconds",
				Help:    "Duration of tiered store operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		CascadeFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_cascade_failures_total",
				Help: "Total number of failed best-effort cascade writes",
			},
			[]string{"layer"},
		),
		SearchBranchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_search_branch_total",
				Help: "Total number of hybrid search branches by branch and outcome",
			},
			[]string{"branch", "outcome"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memory_search_duration_seconds",
				Help:    "Hybrid search duration in seconds by fusion method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"fusion"},
		),
		SearchResultsTotal: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memory_search_results",
				Help:    "Number of results returned by hybrid search",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		ConfigReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_config_reloads_total",
				Help: "Total number of search configuration reloads",
			},
		),
		PromotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_promotions_total",
				Help: "Total number of promote/demote copies by direction and status",
			},
			[]string{"direction", "status"},
		),
		MigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_read_migrations_total",
				Help: "Total number of warm-cache copies made on read, by destination layer",
			},
			[]string{"layer"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.LayerOperationsTotal)
	m.registry.MustRegister(m.LayerOperationDuration)

	m.registry.MustRegister(m.StoreOperationDuration)
	m.registry.MustRegister(m.CascadeFailuresTotal)

	m.registry.MustRegister(m.SearchBranchTotal)
	m.registry.MustRegister(m.SearchDuration)
	m.registry.MustRegister(m.SearchResultsTotal)
	m.registry.MustRegister(m.ConfigReloadsTotal)
	m.registry.MustRegister(m.PromotionsTotal)
	m.registry.MustRegister(m.MigrationsTotal)
}

// RecordLayerOp records the outcome and latency of a single layer call.
func (m *Metrics) RecordLayerOp(op, layer string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.LayerOperationsTotal.WithLabelValues(op, layer, status).Inc()
	m.LayerOperationDuration.WithLabelValues(op, layer).Observe(duration.Seconds())
}

// RecordStoreOp records the latency of a tiered store operation.
func (m *Metrics) RecordStoreOp(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCascadeFailure counts a failed cascade write into layer.
func (m *Metrics) RecordCascadeFailure(layer string) {
	if m == nil {
		return
	}
	m.CascadeFailuresTotal.WithLabelValues(layer).Inc()
}

// RecordBranch counts a search branch outcome: ok, empty, timeout or error.
func (m *Metrics) RecordBranch(branch, outcome string) {
	if m == nil {
		return
	}
	m.SearchBranchTotal.WithLabelValues(branch, outcome).Inc()
}

// RecordSearch records a completed hybrid search.
func (m *Metrics) RecordSearch(fusion string, duration time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(fusion).Observe(duration.Seconds())
	m.SearchResultsTotal.Observe(float64(results))
}

// RecordConfigReload counts an applied configuration reload.
func (m *Metrics) RecordConfigReload() {
	if m == nil {
		return
	}
	m.ConfigReloadsTotal.Inc()
}

// RecordPromotion counts a promote or demote attempt.
func (m *Metrics) RecordPromotion(direction string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.PromotionsTotal.WithLabelValues(direction, status).Inc()
}

// RecordMigration counts a warm-cache copy into layer.
func (m *Metrics) RecordMigration(layer string) {
	if m == nil {
		return
	}
	m.MigrationsTotal.WithLabelValues(layer).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
