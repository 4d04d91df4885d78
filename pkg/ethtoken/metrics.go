package ethtoken

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// TxTotal tracks sent transactions by contract method and outcome.
	TxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_chain_transactions_total",
			Help: "Total number of token transactions by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// TxDurationSeconds tracks send-to-receipt latency.
	TxDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slot_auction_chain_transaction_duration_seconds",
			Help:    "Time from signing a token transaction to its receipt",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	// CallErrorsTotal tracks failed eth_call reads.
	CallErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_chain_call_errors_total",
			Help: "Total number of failed contract reads by method",
		},
		[]string{"method"},
	)

	// RegistryResolvesTotal tracks contract resolutions that missed the cache.
	RegistryResolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_chain_registry_resolves_total",
			Help: "Total number of token contract resolutions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)
