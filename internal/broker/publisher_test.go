package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/pkg/models"
)

func TestConfigEventPublisherWrapsEvent(t *testing.T) {
	producer := NewMemoryProducer()
	pub := NewConfigEventPublisher(producer, "config_updates", "management-service")

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := pub.PublishConfigUpdate(context.Background(), models.ConfigUpdateEvent{
		EventType:   models.EventTypePolicyPackUpdated,
		ServiceType: models.ServiceTypePolicy,
		RuleID:      "undervaluation",
		PackVersion: 4,
		Action:      models.ActionToggle,
		Timestamp:   ts,
	})
	require.NoError(t, err)

	msgs := producer.Messages("config_updates")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageTypeConfigUpdate, msgs[0].Type)
	assert.Equal(t, "management-service", msgs[0].Source)
	assert.True(t, ts.Equal(msgs[0].Timestamp))
	assert.NotEmpty(t, msgs[0].ID)

	var decoded models.ConfigUpdateEvent
	require.NoError(t, models.DecodePayload(msgs[0].Payload, &decoded))
	assert.Equal(t, 4, decoded.PackVersion)
	assert.Equal(t, "undervaluation", decoded.RuleID)
	assert.Empty(t, producer.Messages("other"))
}

func TestConfigEventPublisherReturnsProducerError(t *testing.T) {
	producer := NewMemoryProducer()
	producer.Err = errors.New("broker down")

	err := NewConfigEventPublisher(producer, "t", "s").PublishConfigUpdate(context.Background(), models.ConfigUpdateEvent{})
	assert.EqualError(t, err, "broker down")
}
