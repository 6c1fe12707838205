package broker

import (
	"context"
	"fmt"

	"revguard/pkg/models"
)

// ConfigEventPublisher sends policy pack change events on the config
// update topic.
type ConfigEventPublisher struct {
	producer Producer
	topic    string
	source   string
}

func NewConfigEventPublisher(producer Producer, topic, source string) *ConfigEventPublisher {
	return &ConfigEventPublisher{producer: producer, topic: topic, source: source}
}

func (p *ConfigEventPublisher) PublishConfigUpdate(ctx context.Context, event models.ConfigUpdateEvent) error {
	payload, err := models.ToPayload(event)
	if err != nil {
		return fmt.Errorf("failed to encode config update: %w", err)
	}

	msg := models.NewMessageEnvelopeBuilder(models.MessageTypeConfigUpdate).
		WithSource(p.source).
		WithTimestamp(event.Timestamp).
		WithPayload(payload).
		Build()

	return p.producer.Publish(ctx, p.topic, *msg)
}
