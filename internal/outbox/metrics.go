package outbox

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/worktrack/internal/platform/events"
)

// Dead-letter replay outcomes.
const (
	outcomeReplayed    = "replayed"
	outcomeRescheduled = "rescheduled"
	outcomeQuarantined = "quarantined"
)

var (
	relayedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "outbox",
		Name:      "events_relayed_total",
		Help:      "Tracking events published from the outbox to Kafka, by event type.",
	}, []string{"event_type"})

	relayedSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "outbox",
		Name:      "activity_segments_relayed_total",
		Help:      "Activity segments covered by relayed activity.ingested events.",
	})

	deadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Tracking events parked in outbox_dlq after a failed relay, by event type and topic.",
	}, []string{"event_type", "topic"})

	relayBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worktrack",
		Subsystem: "outbox",
		Name:      "relay_batch_duration_seconds",
		Help:      "Time to claim, publish and mark one batch of outbox rows.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	deadLetterReplays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "outbox",
		Name:      "dead_letter_replays_total",
		Help:      "Dead-letter replay attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})

	deadLetterBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worktrack",
		Subsystem: "outbox",
		Name:      "dead_letter_backlog",
		Help:      "Dead-lettered tracking events not yet replayed or quarantined.",
	})
)

func init() {
	prometheus.MustRegister(relayedEvents, relayedSegments, deadLettered, relayBatchDuration, deadLetterReplays, deadLetterBacklog)
}

func recordRelayed(messages []Message) {
	for _, msg := range messages {
		relayedEvents.WithLabelValues(msg.EventType).Inc()
		if msg.EventType != events.TypeActivityIngested {
			continue
		}
		var batch events.ActivityIngested
		if err := json.Unmarshal(msg.Payload, &batch); err == nil {
			relayedSegments.Add(float64(batch.EventCount))
		}
	}
}

func recordDeadLettered(msg Message) {
	deadLettered.WithLabelValues(msg.EventType, msg.Topic).Inc()
}

func recordReplay(entry dlqEntry, outcome string) {
	deadLetterReplays.WithLabelValues(entry.EventType, outcome).Inc()
}

func refreshDeadLetterBacklog(ctx context.Context, pool *pgxpool.Pool) error {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		return err
	}
	deadLetterBacklog.Set(float64(count))
	return nil
}
