package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordNegotiation_IncrementsCountersAndActiveSessions(t *testing.T) {
	before := testutil.ToFloat64(ActiveSessions.WithLabelValues("direct"))

	RecordNegotiation("initiator", "direct", 0.25)

	if got := testutil.ToFloat64(NegotiationsTotal.WithLabelValues("initiator", "direct")); got < 1 {
		t.Errorf("NegotiationsTotal = %v, want >= 1", got)
	}
	after := testutil.ToFloat64(ActiveSessions.WithLabelValues("direct"))
	if after != before+1 {
		t.Errorf("ActiveSessions delta = %v, want 1", after-before)
	}
}

func TestRecordNegotiation_FailedModeDoesNotTouchActiveSessions(t *testing.T) {
	before := testutil.ToFloat64(ActiveSessions.WithLabelValues("failed"))
	RecordNegotiation("responder", "failed", 1.0)
	after := testutil.ToFloat64(ActiveSessions.WithLabelValues("failed"))
	if after != before {
		t.Errorf("ActiveSessions[failed] changed from %v to %v, want unchanged", before, after)
	}
}

func TestRecordSessionClosed_DecrementsActiveSessions(t *testing.T) {
	RecordNegotiation("initiator", "relay", 0.1)
	before := testutil.ToFloat64(ActiveSessions.WithLabelValues("relay"))

	RecordSessionClosed("relay")

	after := testutil.ToFloat64(ActiveSessions.WithLabelValues("relay"))
	if after != before-1 {
		t.Errorf("ActiveSessions delta = %v, want -1", after-before)
	}
}

func TestRecordEventDropped_IncrementsByReason(t *testing.T) {
	before := testutil.ToFloat64(SignalingEventsDropped.WithLabelValues("malformed"))
	RecordEventDropped("malformed")
	after := testutil.ToFloat64(SignalingEventsDropped.WithLabelValues("malformed"))
	if after != before+1 {
		t.Errorf("SignalingEventsDropped delta = %v, want 1", after-before)
	}
}

func TestRecordEventOverLimit_IncrementsByKey(t *testing.T) {
	before := testutil.ToFloat64(SignalingEventsOverLimit.WithLabelValues("signaling:quic_relay"))
	RecordEventOverLimit("signaling:quic_relay")
	after := testutil.ToFloat64(SignalingEventsOverLimit.WithLabelValues("signaling:quic_relay"))
	if after != before+1 {
		t.Errorf("SignalingEventsOverLimit delta = %v, want 1", after-before)
	}
}
