package outbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrUnroutedTopic is returned for a topic outside the event catalog.
var ErrUnroutedTopic = errors.New("outbox: topic not in event catalog")

// KafkaProducer holds one writer per catalog topic. Records are keyed by
// the outbox partition key (tenant, or tenant and user), and hash
// balancing keeps each key's tracking events in order on one partition.
type KafkaProducer struct {
	writers map[string]*kafka.Writer
}

// NewKafkaProducer builds writers for every topic in the catalog. No
// connection is made until the first write.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	addr := kafka.TCP(brokers...)
	writers := make(map[string]*kafka.Writer)
	for _, topic := range Topics() {
		writers[topic] = topicWriter(addr, topic)
	}
	return &KafkaProducer{writers: writers}
}

func topicWriter(addr net.Addr, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         addr,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// WriteMessages publishes msgs to topic.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	w, ok := p.writers[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnroutedTopic, topic)
	}
	return w.WriteMessages(ctx, msgs...)
}

// Close flushes and closes every writer.
func (p *KafkaProducer) Close() error {
	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}
