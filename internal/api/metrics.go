package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Prometheus Metrics ─────────────────────────────────────────────────────

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_http_requests_total",
		Help: "HTTP requests served, by path and status code.",
	}, []string{"path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerd_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	ledgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_ledger_operations_total",
		Help: "Ledger operations, by operation and outcome.",
	}, []string{"operation", "outcome"})
)

// recordOperation counts a ledger operation outcome. Outcomes are the
// machine-readable reasons surfaced to callers (created, recorded,
// duplicate_ignored, overpayment, invoice_not_found, ...).
func recordOperation(operation, outcome string) {
	ledgerOpsTotal.WithLabelValues(operation, outcome).Inc()
}
