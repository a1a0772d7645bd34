// Package metrics provides Prometheus metrics for IndiCompute.
// Counters, gauges and histograms for job admission, settlement, the wallet
// ledger, node liveness, health and the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Jobs ───────────────────────────────────────────────────────────────────

// JobsSubmitted tracks jobs admitted after a successful debit.
var JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "indicompute",
	Name:      "jobs_submitted_total",
	Help:      "Total jobs admitted.",
})

// JobsRejected tracks submissions refused at admission, by reason.
var JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indicompute",
	Name:      "jobs_rejected_total",
	Help:      "Total job submissions rejected at admission.",
}, []string{"reason"})

// JobsCompleted tracks settled jobs.
var JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "indicompute",
	Name:      "jobs_completed_total",
	Help:      "Total jobs completed and paid out.",
})

// JobsRunning tracks jobs admitted but not yet settled in this process.
var JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "indicompute",
	Name:      "jobs_running",
	Help:      "Jobs admitted minus jobs settled since start.",
})

// ─── Ledger ─────────────────────────────────────────────────────────────────

// LedgerVolume tracks money moved through the ledger in minor units.
var LedgerVolume = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indicompute",
	Name:      "ledger_volume_minor_units_total",
	Help:      "Total amount moved through the wallet ledger, in minor currency units.",
}, []string{"kind"})

// LedgerEntries tracks ledger transactions by kind.
var LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "indicompute",
	Name:      "ledger_entries_total",
	Help:      "Total wallet ledger transactions.",
}, []string{"kind"})

// ─── Nodes ──────────────────────────────────────────────────────────────────

// Heartbeats tracks accepted node heartbeats.
var Heartbeats = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "indicompute",
	Name:      "node_heartbeats_total",
	Help:      "Total accepted node heartbeats.",
})

// NodesOnline tracks nodes whose last heartbeat is within the liveness TTL.
var NodesOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "indicompute",
	Name:      "nodes_online",
	Help:      "Nodes with a heartbeat within the liveness TTL.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "indicompute",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPLatency tracks request duration by route pattern and status code.
var HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "indicompute",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "code"})
