package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"revguard/internal/broker"
	"revguard/internal/logger"
	"revguard/internal/workflow"
	"revguard/pkg/circuitbreaker"
	"revguard/pkg/metrics"
	"revguard/pkg/models"
	"revguard/pkg/retry"
)

// Message is the payload published for every workflow notification.
type Message struct {
	Event           workflow.EventType `json:"event"`
	WorkflowID      string             `json:"workflow_id"`
	DeclarationID   string             `json:"declaration_id"`
	ActionType      string             `json:"action_type"`
	Status          workflow.Status    `json:"status"`
	Priority        workflow.Priority  `json:"priority"`
	AssignedTo      string             `json:"assigned_to,omitempty"`
	EscalationLevel int                `json:"escalation_level,omitempty"`
	ExpiresAt       time.Time          `json:"expires_at"`
	Channels        []string           `json:"channels,omitempty"`
	Threshold       int                `json:"threshold,omitempty"`
	SLAPercent      float64            `json:"sla_percent,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

func newMessage(n workflow.Notification) Message {
	wf := n.Workflow
	return Message{
		Event:           n.Event,
		WorkflowID:      wf.ID,
		DeclarationID:   wf.DeclarationID,
		ActionType:      string(wf.ActionType),
		Status:          wf.Status,
		Priority:        wf.Priority,
		AssignedTo:      wf.AssignedTo,
		EscalationLevel: wf.EscalationLevel,
		ExpiresAt:       wf.ExpiresAt,
		Channels:        n.Channels,
		Threshold:       n.Threshold,
		SLAPercent:      n.SLAPercent,
		Timestamp:       n.Timestamp,
	}
}

// KafkaNotifier publishes notifications to a topic. Publishing is retried
// with backoff inside a circuit breaker so that a broker outage fails fast
// instead of stalling workflow transitions.
type KafkaNotifier struct {
	producer broker.Producer
	topic    string
	source   string
	breaker  *circuitbreaker.Wrapper
	policy   retry.Policy
	timeout  time.Duration
	logger   logger.Logger
}

type KafkaOption func(*KafkaNotifier)

func WithRetryPolicy(p retry.Policy) KafkaOption {
	return func(n *KafkaNotifier) {
		n.policy = p
	}
}

func WithBreaker(b *circuitbreaker.Wrapper) KafkaOption {
	return func(n *KafkaNotifier) {
		n.breaker = b
	}
}

func WithTimeout(d time.Duration) KafkaOption {
	return func(n *KafkaNotifier) {
		n.timeout = d
	}
}

func NewKafkaNotifier(producer broker.Producer, topic, source string, log logger.Logger, opts ...KafkaOption) *KafkaNotifier {
	n := &KafkaNotifier{
		producer: producer,
		topic:    topic,
		source:   source,
		breaker:  circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("notification-publisher")),
		policy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
		},
		timeout: 5 * time.Second,
		logger:  log,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *KafkaNotifier) Notify(ctx context.Context, note workflow.Notification) error {
	payload, err := models.ToPayload(newMessage(note))
	if err != nil {
		return err
	}
	msg := models.NewMessageEnvelopeBuilder(models.MessageTypeNotification).
		WithSource(n.source).
		WithPayload(payload).
		Build()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err = n.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Retry(ctx, n.policy, func() error {
			return n.producer.Publish(ctx, n.topic, *msg)
		})
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.FallbackUsageTotal.WithLabelValues("notification", "drop", "circuit_open").Inc()
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", note.Event, err)
	}

	n.logger.DebugwCtx(ctx, "Workflow notification published",
		"workflow_id", note.Workflow.ID,
		"event", note.Event,
		"topic", n.topic,
	)
	return nil
}

// LogNotifier writes notifications to the service log. It is the
// notifier used when no broker is configured.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(ctx context.Context, note workflow.Notification) error {
	fields := []interface{}{
		"event", note.Event,
		"workflow_id", note.Workflow.ID,
		"declaration_id", note.Workflow.DeclarationID,
		"status", note.Workflow.Status,
		"assigned_to", note.Workflow.AssignedTo,
		"channels", note.Channels,
	}
	if note.Event == workflow.EventSLAWarning {
		fields = append(fields, "threshold", note.Threshold, "sla_percent", note.SLAPercent)
		n.logger.WarnwCtx(ctx, "Workflow SLA warning", fields...)
		return nil
	}
	n.logger.InfowCtx(ctx, "Workflow notification", fields...)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []workflow.Notifier

func (m Multi) Notify(ctx context.Context, note workflow.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
