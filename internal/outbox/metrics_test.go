package outbox

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/worktrack/internal/platform/events"
)

func TestRecordRelayedCountsActivitySegments(t *testing.T) {
	activity := relayedEvents.WithLabelValues(events.TypeActivityIngested)
	membership := relayedEvents.WithLabelValues(events.TypeMembershipUpdated)
	beforeActivity := testutil.ToFloat64(activity)
	beforeMembership := testutil.ToFloat64(membership)
	beforeSegments := testutil.ToFloat64(relayedSegments)

	recordRelayed([]Message{
		{EventType: events.TypeActivityIngested, Payload: []byte(`{"event_count":42}`)},
		{EventType: events.TypeActivityIngested, Payload: []byte(`not json`)},
		{EventType: events.TypeMembershipUpdated, Payload: []byte(`{}`)},
	})

	require.InDelta(t, beforeActivity+2, testutil.ToFloat64(activity), 0.0001)
	require.InDelta(t, beforeMembership+1, testutil.ToFloat64(membership), 0.0001)
	require.InDelta(t, beforeSegments+42, testutil.ToFloat64(relayedSegments), 0.0001)
}

func TestRecordReplayOutcomes(t *testing.T) {
	entry := dlqEntry{EventType: events.TypePolicyUpdated}
	quarantined := deadLetterReplays.WithLabelValues(events.TypePolicyUpdated, outcomeQuarantined)
	before := testutil.ToFloat64(quarantined)

	recordReplay(entry, outcomeQuarantined)
	recordDeadLettered(Message{EventType: events.TypePolicyUpdated, Topic: "policy_events"})

	require.InDelta(t, before+1, testutil.ToFloat64(quarantined), 0.0001)
	require.GreaterOrEqual(t, testutil.ToFloat64(deadLettered.WithLabelValues(events.TypePolicyUpdated, "policy_events")), 1.0)
}
