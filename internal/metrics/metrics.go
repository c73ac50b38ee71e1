package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsTotal counts transaction outcomes (committed, rolled_back, recovered).
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_transactions_total",
			Help: "Total number of transactions by outcome",
		},
		[]string{"status"},
	)
	// OperationsTotal counts applied write operations by type.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_operations_total",
			Help: "Total number of applied document operations",
		},
		[]string{"type"},
	)
	// QueryDuration is the latency of query execution by access plan (index, range, scan).
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsondb_query_duration_seconds",
			Help:    "Query execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plan"},
	)
	// IndexLookupsTotal counts index searches by index type.
	IndexLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_index_lookups_total",
			Help: "Total number of index lookups",
		},
		[]string{"type"},
	)
	// CacheRequestsTotal counts document cache lookups (hit, miss).
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_cache_requests_total",
			Help: "Total number of document cache lookups",
		},
		[]string{"result"},
	)
)
