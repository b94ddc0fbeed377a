package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application collectors. A nil *Metrics records nothing
type Metrics struct {
	registry *prometheus.Registry

	apiRequests     *prometheus.CounterVec
	apiLatency      *prometheus.HistogramVec
	recordsFetched  *prometheus.CounterVec
	cleaningRows    *prometheus.CounterVec
	cleaningErrors  *prometheus.CounterVec
	predictions     *prometheus.CounterVec
	datasetRowsSave *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpe",
			Name:      "api_requests_total",
			Help:      "Outbound open-data API requests by host and status.",
		}, []string{"host", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dpe",
			Name:      "api_request_duration_seconds",
			Help:      "Outbound open-data API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		recordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpe",
			Name:      "records_fetched_total",
			Help:      "ADEME records fetched by dataset.",
		}, []string{"dataset"}),
		cleaningRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpe",
			Name:      "cleaning_rows_dropped_total",
			Help:      "Rows dropped by each cleaning stage.",
		}, []string{"stage"}),
		cleaningErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpe",
			Name:      "cleaning_errors_total",
			Help:      "Cleaning runs aborted by kind.",
		}, []string{"kind"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpe",
			Name:      "predictions_total",
			Help:      "DPE predictions by class and whether the cost was predicted.",
		}, []string{"class", "cost_predicted"}),
		datasetRowsSave: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpe",
			Name:      "dataset_rows_saved_total",
			Help:      "Rows written to the dataset store by mode.",
		}, []string{"mode"}),
	}
	m.registry.MustRegister(
		m.apiRequests, m.apiLatency, m.recordsFetched, m.cleaningRows,
		m.cleaningErrors, m.predictions, m.datasetRowsSave,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one outbound API attempt
func (m *Metrics) ObserveRequest(host, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(host, outcome).Inc()
	m.apiLatency.WithLabelValues(host).Observe(elapsed.Seconds())
}

// RecordsFetched counts records pulled from a dataset
func (m *Metrics) RecordsFetched(dataset string, n int) {
	if m == nil {
		return
	}
	m.recordsFetched.WithLabelValues(dataset).Add(float64(n))
}

// RowsDropped counts rows removed by a cleaning stage
func (m *Metrics) RowsDropped(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleaningRows.WithLabelValues(stage).Add(float64(n))
}

// CleaningFailed counts an aborted cleaning run
func (m *Metrics) CleaningFailed(kind string) {
	if m == nil {
		return
	}
	m.cleaningErrors.WithLabelValues(kind).Inc()
}

// Prediction counts a served prediction
func (m *Metrics) Prediction(class string, costPredicted bool) {
	if m == nil {
		return
	}
	predicted := "false"
	if costPredicted {
		predicted = "true"
	}
	m.predictions.WithLabelValues(class, predicted).Inc()
}

// RowsSaved counts rows written to the dataset store
func (m *Metrics) RowsSaved(mode string, n int) {
	if m == nil {
		return
	}
	m.datasetRowsSave.WithLabelValues(mode).Add(float64(n))
}
