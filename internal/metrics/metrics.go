// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	EntriesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_appended_total",
			Help: "Total number of ledger entries appended",
		},
		[]string{"type"},
	)

	ReconciliationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_reconciliation_outcomes_total",
			Help: "Payment reconciliation attempts by outcome",
		},
		[]string{"outcome"},
	)

	TxConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_tx_conflicts_total",
			Help: "Transactions rolled back because of a write conflict",
		},
		[]string{"op"},
	)

	IntegrityFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_integrity_faults_total",
			Help: "Wallets whose cached balance disagreed with the ledger",
		},
	)

	ProviderEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_provider_events_total",
			Help: "Provider payment events handled by the worker",
		},
		[]string{"result"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_provider_event_queue_depth",
			Help: "Provider events on the Redis queue lists",
		},
		[]string{"list"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)

	ExportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_export_rows_total",
			Help: "Rows written by exports",
		},
		[]string{"kind"},
	)
)
