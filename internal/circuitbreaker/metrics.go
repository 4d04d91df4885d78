package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// CircuitBreakerEnabled indicates whether the circuit breaker allows settlement.
	CircuitBreakerEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slot_auction_circuit_breaker_enabled",
		Help: "Whether circuit breaker allows settlement (1=enabled, 0=disabled)",
	})

	// CircuitBreakerShortfall tracks missing custody per payment token, in base units.
	CircuitBreakerShortfall = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slot_auction_circuit_breaker_shortfall",
			Help: "Escrow owed minus custody held per payment token (0 when covered)",
		},
		[]string{"token"},
	)

	// CircuitBreakerStateChanges tracks the number of times the circuit breaker changed state.
	CircuitBreakerStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_circuit_breaker_state_changes_total",
		Help: "Total number of times circuit breaker changed state (enabled/disabled)",
	})

	// CircuitBreakerCheckErrors tracks failed custody audits.
	CircuitBreakerCheckErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_circuit_breaker_check_errors_total",
		Help: "Total number of custody audits that failed",
	})

	// CircuitBreakerCheckDuration tracks the time taken to audit custody.
	CircuitBreakerCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_auction_circuit_breaker_check_duration_seconds",
		Help:    "Time taken to audit custody",
		Buckets: prometheus.DefBuckets,
	})
)
