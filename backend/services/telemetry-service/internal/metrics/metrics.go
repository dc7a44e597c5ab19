package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "aquaflow"

// Ingest message outcomes.
const (
	OutcomeStored       = "stored"
	OutcomeDuplicate    = "duplicate"
	OutcomeDecodeFailed = "decode_failed"
	OutcomeStoreFailed  = "store_failed"
	OutcomeRejected     = "rejected"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds collectors registered on an explicit registry.
type Metrics struct {
	registry      *prometheus.Registry
	messages      *prometheus.CounterVec
	syncRuns      *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	cacheLookups  *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Telemetry messages processed, by ingestion mode and outcome.",
		}, []string{"mode", "outcome"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Pull sync cycles, by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of pull sync cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query cache lookups, by query and result.",
		}, []string{"query", "result"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_failures_total",
			Help:      "Store operation failures, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.messages,
		m.syncRuns,
		m.syncDuration,
		m.cacheLookups,
		m.storeFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Message counts one processed message.
func (m *Metrics) Message(mode, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(mode, outcome).Inc()
}

// SyncRun records a finished pull cycle.
func (m *Metrics) SyncRun(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
}

// CacheLookup counts a query cache lookup.
func (m *Metrics) CacheLookup(query, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(query, result).Inc()
}

// StoreFailure counts a failed store operation.
func (m *Metrics) StoreFailure(kind string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(kind).Inc()
}
