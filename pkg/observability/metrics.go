package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the indexing core.
type Metrics struct {
	// Indexing
	IndexOperationsTotal *prometheus.CounterVec
	IndexBatchDuration   prometheus.Histogram
	IndexedDocuments     prometheus.Counter
	BulkRetriesTotal     prometheus.Counter
	BulkItemErrorsTotal  *prometheus.CounterVec
	MappingConflicts     prometheus.Counter

	// Propagation
	PropagationFanout prometheus.Histogram

	// Search
	SearchRequestsTotal *prometheus.CounterVec
	SearchDuration      prometheus.Histogram

	// Datastore cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers the collectors on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		IndexOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_index_operations_total",
				Help: "Bulk index operations by action and outcome",
			},
			[]string{"action", "status"},
		),
		IndexBatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_index_batch_duration_seconds",
				Help:    "Wall time per bulk batch including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		IndexedDocuments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_indexed_documents_total",
				Help: "Documents successfully written to the index",
			},
		),
		BulkRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_bulk_retries_total",
				Help: "Per-item bulk retries",
			},
		),
		BulkItemErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_bulk_item_errors_total",
				Help: "Bulk item failures by error type",
			},
			[]string{"type"},
		),
		MappingConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_mapping_conflicts_total",
				Help: "Rejected mapping fragments",
			},
		),
		PropagationFanout: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_propagation_fanout",
				Help:    "Affected entities per propagated change",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_search_requests_total",
				Help: "Search requests by outcome",
			},
			[]string{"status"},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_search_duration_seconds",
				Help:    "End to end search latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_cache_hits_total",
				Help: "Datastore cache hits by record kind",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_cache_misses_total",
				Help: "Datastore cache misses by record kind",
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.IndexOperationsTotal,
		m.IndexBatchDuration,
		m.IndexedDocuments,
		m.BulkRetriesTotal,
		m.BulkItemErrorsTotal,
		m.MappingConflicts,
		m.PropagationFanout,
		m.SearchRequestsTotal,
		m.SearchDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
