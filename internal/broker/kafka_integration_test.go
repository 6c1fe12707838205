package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"

	"revguard/internal/config"
	"revguard/internal/logger"
	"revguard/pkg/models"
	"revguard/pkg/retry"
)

func startKafka(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	ctx := context.Background()
	container, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkamodule.WithClusterID("revguard-test"),
	)
	require.NoError(t, err, "failed to start kafka container")
	t.Cleanup(func() { container.Terminate(ctx) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func testKafkaConfig(brokers []string, group string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:  brokers,
		GroupID:  group,
		DLQTopic: group + "_dlq",
		Retry: config.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

type received struct {
	mu   sync.Mutex
	msgs []models.MessageEnvelope
	got  chan struct{}
}

func newReceived() *received {
	return &received{got: make(chan struct{}, 16)}
}

func (r *received) handler(err error) HandlerFunc {
	return func(_ context.Context, msg models.MessageEnvelope) error {
		r.mu.Lock()
		r.msgs = append(r.msgs, msg)
		r.mu.Unlock()
		r.got <- struct{}{}
		return err
	}
}

func (r *received) wait(t *testing.T, n int) []models.MessageEnvelope {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(60 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MessageEnvelope(nil), r.msgs...)
}

func consume(t *testing.T, consumer *KafkaConsumer, topic string, handler HandlerFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(ctx, topic, handler) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		consumer.Close()
	})
}

func TestKafkaRoundTrip(t *testing.T) {
	brokers := startKafka(t)
	cfg := testKafkaConfig(brokers, fmt.Sprintf("roundtrip-%d", time.Now().UnixNano()))
	topic := cfg.GroupID + "_decisions"

	producer := NewKafkaProducer(cfg, "test", logger.NopLogger())
	defer producer.Close()

	msg := models.NewMessageEnvelopeBuilder(models.MessageTypeDecision).
		WithSource("test").
		WithPayload(map[string]interface{}{"declaration_id": "DEC-1", "outcome": "HOLD"}).
		Build()
	require.NoError(t, producer.Publish(context.Background(), topic, *msg))

	got := newReceived()
	consume(t, NewKafkaConsumer(cfg, logger.NopLogger()), topic, got.handler(nil))

	msgs := got.wait(t, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, "DEC-1", msgs[0].Payload["declaration_id"])
}

func TestKafkaFatalErrorGoesToDLQ(t *testing.T) {
	brokers := startKafka(t)
	cfg := testKafkaConfig(brokers, fmt.Sprintf("dlq-%d", time.Now().UnixNano()))
	topic := cfg.GroupID + "_assessments"

	producer := NewKafkaProducer(cfg, "test", logger.NopLogger())
	defer producer.Close()

	msg := models.NewMessageEnvelopeBuilder(models.MessageTypeAssessment).
		WithSource("test").
		WithPayload(map[string]interface{}{"declaration": map[string]interface{}{}}).
		Build()
	require.NoError(t, producer.Publish(context.Background(), topic, *msg))

	attempts := newReceived()
	consume(t, NewKafkaConsumer(cfg, logger.NopLogger()), topic,
		attempts.handler(retry.NewFatalError(errors.New("missing declaration id"))))

	parked := newReceived()
	dlqCfg := cfg
	dlqCfg.GroupID = cfg.GroupID + "-dlq-reader"
	dlqCfg.DLQTopic = ""
	consume(t, NewKafkaConsumer(dlqCfg, logger.NopLogger()), cfg.DLQTopic, parked.handler(nil))

	assert.Len(t, attempts.wait(t, 1), 1)
	dlq := parked.wait(t, 1)
	require.NotNil(t, dlq[0].Metadata.DLQ)
	assert.Equal(t, topic, dlq[0].Metadata.DLQ.SourceTopic)
	assert.Equal(t, 1, dlq[0].Metadata.DLQ.Attempts)
	assert.Contains(t, dlq[0].Metadata.DLQ.Reason, "missing declaration id")
}
