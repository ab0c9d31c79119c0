// Package metrics provides Prometheus metrics for the forecast retriever.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the forecast retriever.
// Every method is a no-op on a nil *Metrics.
type Metrics struct {
	// Retrieval outcomes
	RetrievalsCommitted  *prometheus.CounterVec
	RetrievalsRolledBack *prometheus.CounterVec
	RetrievalsFailed     *prometheus.CounterVec
	AllocationConflicts  prometheus.Counter

	// Provider
	CostChecks      *prometheus.CounterVec
	ProviderRetries *prometheus.CounterVec

	// Storage
	IndexAppends  prometheus.Counter
	ArchiveErrors *prometheus.CounterVec
	CatalogErrors prometheus.Counter
	AuditEvents   *prometheus.CounterVec

	// Preprocess
	PreprocessEntries *prometheus.CounterVec

	// Timing
	RetrievalDuration *prometheus.HistogramVec

	// Pipeline
	InFlightRetrievals prometheus.Gauge
}

var defaultMetrics *Metrics

// Init registers the metrics on the default registry. Call this once at
// startup.
func Init(namespace string) *Metrics {
	defaultMetrics = New(prometheus.DefaultRegisterer, namespace)
	return defaultMetrics
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "forecast_retriever"
	}
	f := promauto.With(reg)

	return &Metrics{
		RetrievalsCommitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrievals_committed_total",
				Help:      "Retrievals committed to the index",
			},
			[]string{"model", "mode"},
		),
		RetrievalsRolledBack: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrievals_rolled_back_total",
				Help:      "Retrievals finalized without commit",
			},
			[]string{"model", "mode", "reason"},
		),
		RetrievalsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrievals_failed_total",
				Help:      "Retrieval units that failed, by stage",
			},
			[]string{"stage"},
		),
		AllocationConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocation_conflicts_total",
				Help:      "Allocations refused because the data file existed",
			},
		),
		CostChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_checks_total",
				Help:      "Cost estimation calls by result",
			},
			[]string{"result"},
		),
		ProviderRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_retries_total",
				Help:      "Retried provider HTTP exchanges",
			},
			[]string{"operation"},
		),
		IndexAppends: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_appends_total",
				Help:      "Rows appended to the retrieval index",
			},
		),
		ArchiveErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_errors_total",
				Help:      "Failed archive uploads",
			},
			[]string{"backend"},
		),
		CatalogErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Failed catalog writes",
			},
		),
		AuditEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_total",
				Help:      "Audit events emitted, by result",
			},
			[]string{"result"},
		),
		PreprocessEntries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preprocess_entries_total",
				Help:      "Index entries seen by preprocess, by outcome",
			},
			[]string{"outcome"},
		),
		RetrievalDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_duration_seconds",
				Help:      "Time from allocate to finalize",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
			},
			[]string{"model", "outcome"},
		),
		InFlightRetrievals: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_retrievals",
				Help:      "Retrieval units currently running",
			},
		),
	}
}

// Handler serves /metrics from g and a /health probe.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler(prometheus.DefaultGatherer))
}

// IncCommitted counts a committed retrieval.
func (m *Metrics) IncCommitted(model, mode string) {
	if m == nil {
		return
	}
	m.RetrievalsCommitted.WithLabelValues(model, mode).Inc()
}

// IncRolledBack counts a rollback. reason is "failed", "dry_run" or "skip_query".
func (m *Metrics) IncRolledBack(model, mode, reason string) {
	if m == nil {
		return
	}
	m.RetrievalsRolledBack.WithLabelValues(model, mode, reason).Inc()
}

// IncFailed counts a failed unit at stage ("allocate", "retrieve", "finalize").
func (m *Metrics) IncFailed(stage string) {
	if m == nil {
		return
	}
	m.RetrievalsFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncAllocationConflict() {
	if m == nil {
		return
	}
	m.AllocationConflicts.Inc()
}

// IncCostCheck counts a cost estimation with result "ok" or "error".
func (m *Metrics) IncCostCheck(result string) {
	if m == nil {
		return
	}
	m.CostChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) IncProviderRetry(operation string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncIndexAppends() {
	if m == nil {
		return
	}
	m.IndexAppends.Inc()
}

func (m *Metrics) IncArchiveErrors(backend string) {
	if m == nil {
		return
	}
	m.ArchiveErrors.WithLabelValues(backend).Inc()
}

func (m *Metrics) IncCatalogErrors() {
	if m == nil {
		return
	}
	m.CatalogErrors.Inc()
}

// IncAuditEvent counts an audit event by result ("emitted" or "failed").
func (m *Metrics) IncAuditEvent(result string) {
	if m == nil {
		return
	}
	m.AuditEvents.WithLabelValues(result).Inc()
}

// IncPreprocess counts an index entry by outcome ("staged", "skipped", "missing", "invalid").
func (m *Metrics) IncPreprocess(outcome string) {
	if m == nil {
		return
	}
	m.PreprocessEntries.WithLabelValues(outcome).Inc()
}

// ObserveRetrievalDuration records the allocate-to-finalize time.
func (m *Metrics) ObserveRetrievalDuration(model, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RetrievalDuration.WithLabelValues(model, outcome).Observe(seconds)
}

func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlightRetrievals.Add(delta)
}
