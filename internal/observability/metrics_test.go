package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordBatchIngested(t *testing.T) {
	before := testutil.ToFloat64(ingestedEvents)
	ts := time.Unix(1700000000, 0)

	RecordBatchIngested(3, ts)

	require.InDelta(t, before+3, testutil.ToFloat64(ingestedEvents), 0.0001)
	require.InDelta(t, float64(ts.Unix()), testutil.ToFloat64(lastIngestGauge), 0.0001)
}

func TestRecordBatchRejected(t *testing.T) {
	before := testutil.ToFloat64(rejectedBatches.WithLabelValues("validation"))
	RecordBatchRejected("validation")
	require.InDelta(t, before+1, testutil.ToFloat64(rejectedBatches.WithLabelValues("validation")), 0.0001)
}

func TestAgentDeliveryMetrics(t *testing.T) {
	before := testutil.ToFloat64(agentDelivered.WithLabelValues("activity"))
	RecordDelivered("activity", 4)
	require.InDelta(t, before+4, testutil.ToFloat64(agentDelivered.WithLabelValues("activity")), 0.0001)

	SetQueueDepth("screenshot", 7)
	require.InDelta(t, 7, testutil.ToFloat64(agentQueueDepth.WithLabelValues("screenshot")), 0.0001)
}
