package websocket

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Registration(t *testing.T) {
	if FeedClients == nil {
		t.Error("FeedClients not registered")
	}
	if FeedMessagesSentTotal == nil {
		t.Error("FeedMessagesSentTotal not registered")
	}
	if FeedMessagesDroppedTotal == nil {
		t.Error("FeedMessagesDroppedTotal not registered")
	}
	if FeedConnectionDuration == nil {
		t.Error("FeedConnectionDuration not registered")
	}
	if SubscriberEventsReceivedTotal == nil {
		t.Error("SubscriberEventsReceivedTotal not registered")
	}
	if ReconnectAttemptsTotal == nil || ReconnectFailuresTotal == nil {
		t.Error("reconnect counters not registered")
	}
}

func TestMetrics_DroppedByReason(t *testing.T) {
	before := promtest.ToFloat64(FeedMessagesDroppedTotal.WithLabelValues("slow_client"))
	FeedMessagesDroppedTotal.WithLabelValues("slow_client").Inc()
	after := promtest.ToFloat64(FeedMessagesDroppedTotal.WithLabelValues("slow_client"))

	if after-before != 1 {
		t.Errorf("slow_client drops grew by %v, want 1", after-before)
	}
}
