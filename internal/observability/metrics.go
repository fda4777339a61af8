// Package observability registers the Prometheus metrics of the server and the agent.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ingestedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Number of activity events persisted from agent batches.",
	})
	rejectedBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "ingest",
		Name:      "batches_rejected_total",
		Help:      "Number of agent batches rejected, labeled by reason.",
	}, []string{"reason"})
	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worktrack",
		Subsystem: "ingest",
		Name:      "batch_size",
		Help:      "Number of events per accepted agent batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
	})
	lastIngestGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worktrack",
		Subsystem: "ingest",
		Name:      "last_batch_timestamp_seconds",
		Help:      "Unix timestamp of the most recent accepted agent batch.",
	})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worktrack",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
	purgedScreenshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "retention",
		Name:      "screenshots_purged_total",
		Help:      "Number of expired screenshots removed by the purger.",
	})
)

func init() {
	prometheus.MustRegister(ingestedEvents, rejectedBatches, batchSize, lastIngestGauge, requestDuration, purgedScreenshots)
}

// RecordBatchIngested updates the ingestion counters for an accepted batch.
func RecordBatchIngested(events int, ts time.Time) {
	ingestedEvents.Add(float64(events))
	batchSize.Observe(float64(events))
	if !ts.IsZero() {
		lastIngestGauge.Set(float64(ts.Unix()))
	}
}

// RecordBatchRejected counts a rejected batch.
func RecordBatchRejected(reason string) {
	rejectedBatches.WithLabelValues(reason).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func ObserveRequest(route string, status int, elapsed time.Duration) {
	requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordPurged counts screenshots removed by a purge pass.
func RecordPurged(n int) {
	purgedScreenshots.Add(float64(n))
}
