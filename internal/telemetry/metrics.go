package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	QueriesTotal   prometheus.Counter
	SlowQueries    prometheus.Counter
	DroppedEntries prometheus.Counter
	QueryDuration  prometheus.Histogram
}

// NewMetrics builds and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kipgate_queries_total",
			Help: "Total queries executed.",
		}),
		SlowQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kipgate_slow_queries_total",
			Help: "Queries exceeding the slow-query threshold.",
		}),
		DroppedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kipgate_telemetry_dropped_total",
			Help: "Telemetry entries discarded to buffer overflow.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kipgate_query_duration_seconds",
			Help:    "End to end query execution time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	reg.MustRegister(m.QueriesTotal, m.SlowQueries, m.DroppedEntries, m.QueryDuration)
	return m
}
