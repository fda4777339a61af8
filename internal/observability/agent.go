package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	agentDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "agent",
		Name:      "delivered_total",
		Help:      "Items acknowledged by the server, labeled by kind.",
	}, []string{"kind"})
	agentFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "agent",
		Name:      "delivery_failures_total",
		Help:      "Failed delivery attempts, labeled by kind.",
	}, []string{"kind"})
	agentQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "worktrack",
		Subsystem: "agent",
		Name:      "queue_depth",
		Help:      "Rows waiting in the local durable queue, labeled by kind.",
	}, []string{"kind"})
	agentCaptures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worktrack",
		Subsystem: "agent",
		Name:      "captures_total",
		Help:      "Screenshot capture ticks, labeled by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(agentDelivered, agentFailed, agentQueueDepth, agentCaptures)
}

// RecordDelivered counts n items of kind acknowledged by the server.
func RecordDelivered(kind string, n int) {
	agentDelivered.WithLabelValues(kind).Add(float64(n))
}

// RecordDeliveryFailed counts one failed delivery attempt.
func RecordDeliveryFailed(kind string) {
	agentFailed.WithLabelValues(kind).Inc()
}

// SetQueueDepth publishes the current number of queued rows of kind.
func SetQueueDepth(kind string, n int) {
	agentQueueDepth.WithLabelValues(kind).Set(float64(n))
}

// RecordCapture counts a capture tick by outcome: uploaded, queued or skipped.
func RecordCapture(outcome string) {
	agentCaptures.WithLabelValues(outcome).Inc()
}
