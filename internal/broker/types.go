package broker

import (
	"context"

	"revguard/pkg/models"
)

// Producer publishes envelopes. Kafka messages are keyed by the
// declaration id carried in the payload when there is one.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer delivers every message on topic to handler until ctx is done.
// A handler error wrapped with retry.NewFatalError skips the retries and
// parks the message on the DLQ.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

var (
	_ Producer = (*KafkaProducer)(nil)
	_ Producer = (*MemoryProducer)(nil)
	_ Consumer = (*KafkaConsumer)(nil)
)
