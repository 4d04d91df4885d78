package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// FeedClients tracks connected event feed clients.
	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slot_auction_feed_clients",
		Help: "Number of connected event feed clients",
	})

	// FeedMessagesSentTotal tracks events queued to feed clients by kind.
	FeedMessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_feed_messages_sent_total",
			Help: "Total number of events queued to event feed clients",
		},
		[]string{"kind"},
	)

	// FeedMessagesDroppedTotal tracks events not delivered to a client.
	FeedMessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_feed_messages_dropped_total",
			Help: "Total number of events dropped by the event feed",
		},
		[]string{"reason"},
	)

	// FeedConnectionDuration tracks feed connection lifetime.
	FeedConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_auction_feed_connection_duration_seconds",
		Help:    "Duration of event feed connections before disconnect",
		Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400, 86400},
	})

	// SubscriberEventsReceivedTotal tracks events received by feed subscribers.
	SubscriberEventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_auction_feed_subscriber_events_received_total",
			Help: "Total number of events received by event feed subscribers",
		},
		[]string{"kind"},
	)

	// ReconnectAttemptsTotal tracks subscriber reconnection attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_feed_reconnect_attempts_total",
		Help: "Total number of event feed reconnection attempts",
	})

	// ReconnectFailuresTotal tracks failed subscriber reconnections.
	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slot_auction_feed_reconnect_failures_total",
		Help: "Total number of failed event feed reconnections",
	})
)
