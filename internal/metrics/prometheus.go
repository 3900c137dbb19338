package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	EngineOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_engine_operations_total",
			Help: "Total number of analysis engine operations",
		},
		[]string{"engine", "operation", "status"}, // engine: optimization|attribution, status: success|error
	)

	EngineOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_engine_operation_duration_seconds",
			Help:    "Analysis engine operation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"engine", "operation"},
	)

	AttributionFactorsRetained = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_attribution_factors_retained",
			Help:    "Number of factors retained per attribution",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Metric store metrics
	MetricStoreQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_metric_store_queries_total",
			Help: "Total number of metric store queries",
		},
		[]string{"kind", "status"}, // kind: aggregate|breakdown, status: success|error
	)

	MetricStoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_metric_store_query_duration_seconds",
			Help:    "Metric store query duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"kind"},
	)

	// Ledger metrics
	LedgerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_ledger_writes_total",
			Help: "Total number of optimization ledger writes",
		},
		[]string{"record", "status"}, // record: recommendation|result
	)

	// Event metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_published_total",
			Help: "Total number of ledger events published to Kafka",
		},
		[]string{"event", "status"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(EngineOperations)
	prometheus.MustRegister(EngineOperationDuration)
	prometheus.MustRegister(AttributionFactorsRetained)

	prometheus.MustRegister(MetricStoreQueries)
	prometheus.MustRegister(MetricStoreQueryDuration)

	prometheus.MustRegister(LedgerWrites)
	prometheus.MustRegister(EventsPublished)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
