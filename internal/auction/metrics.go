package auction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// BidsTotal tracks bid attempts by outcome (accepted or an error kind).
	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_bids_total",
			Help: "Total number of bid attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RefundsTotal tracks refunds issued to outbid bidders.
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_refunds_total",
		Help: "Total number of refunds issued to displaced bidders",
	})

	// PayoutsTotal tracks payout attempts by kind (single, batch) and outcome.
	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_payouts_total",
			Help: "Total number of payout attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// OperationDurationSeconds tracks engine operation latency, collaborator calls included.
	OperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slot_auction_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CompensationFailuresTotal tracks rollback steps that themselves failed.
	CompensationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_compensation_failures_total",
			Help: "Total number of failed rollback steps by step",
		},
		[]string{"step"},
	)

	// EventsPublishedTotal tracks events handed to sinks.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_events_published_total",
			Help: "Total number of settlement events published",
		},
		[]string{"kind"},
	)

	// PendingTransfers tracks transfers whose outcome is not confirmed yet.
	PendingTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slot_auction_pending_transfers",
		Help: "Number of submitted transfers awaiting confirmation",
	})

	// PendingResolvedTotal tracks pending transfers settled by reconciliation.
	PendingResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_pending_resolved_total",
			Help: "Total number of pending transfers resolved by operation and status",
		},
		[]string{"operation", "status"},
	)

	// SinkErrorsTotal tracks event sink failures.
	SinkErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_sink_errors_total",
		Help: "Total number of event sink publish failures",
	})
)
