package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbi_queries_total",
			Help: "Total number of question pipeline runs by outcome.",
		},
		[]string{"status"},
	)
	sqlRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbi_sql_rejected_total",
			Help: "Total number of generated statements rejected by validation.",
		},
		[]string{"reason"},
	)
	llmLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatbi_llm_latency_seconds",
			Help:    "Model completion latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	queryLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatbi_query_latency_seconds",
			Help:    "Warehouse query execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	schemaRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbi_schema_refreshes_total",
			Help: "Total number of schema snapshot refreshes.",
		},
	)
	narrativeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbi_narrative_failures_total",
			Help: "Total number of failed narrative generations.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		sqlRejectedTotal,
		llmLatencySeconds,
		queryLatencySeconds,
		schemaRefreshesTotal,
		narrativeFailuresTotal,
	)
}

func ObserveQuery(status string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(status).Inc()
	queryLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveSQLRejected(reason string) {
	sqlRejectedTotal.WithLabelValues(reason).Inc()
}

func ObserveLLMLatency(elapsed time.Duration) {
	llmLatencySeconds.Observe(elapsed.Seconds())
}

func IncrementSchemaRefresh() {
	schemaRefreshesTotal.Inc()
}

func IncrementNarrativeFailure() {
	narrativeFailuresTotal.Inc()
}
