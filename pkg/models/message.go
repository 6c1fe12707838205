package models

import (
	"fmt"
	"time"
)

// MessageEnvelope is the Kafka wire format shared by every topic the
// services read or write. Type names the payload schema.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

const (
	MessageTypeAssessment   = "declaration_assessment"
	MessageTypeDecision     = "policy_decision"
	MessageTypeNotification = "workflow_notification"
	MessageTypeConfigUpdate = "config_update"
)

type Metadata struct {
	TraceID       string             `json:"trace_id,omitempty"`
	Deduplication *DeduplicationInfo `json:"deduplication,omitempty"`
	Screening     *ScreeningInfo     `json:"screening,omitempty"`
	DLQ           *DLQInfo           `json:"dlq,omitempty"`
}

// DLQInfo is attached to envelopes parked on the dead letter topic.
type DLQInfo struct {
	Reason      string    `json:"reason"`
	SourceTopic string    `json:"source_topic"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
}

type DeduplicationInfo struct {
	IsUnique  bool      `json:"is_unique"`
	CheckedAt time.Time `json:"checked_at"`
}

type ScreeningInfo struct {
	ScreenedAt    time.Time `json:"screened_at"`
	PolicyVersion string    `json:"policy_version"`
	RuleIDs       []string  `json:"rule_ids,omitempty"`
	WorkflowID    string    `json:"workflow_id,omitempty"`
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	switch {
	case msg == nil:
		return &ValidationError{Field: "envelope", Message: "message envelope cannot be nil"}
	case msg.ID == "":
		return &ValidationError{Field: "id", Message: "message ID is required"}
	case msg.Timestamp.IsZero():
		return &ValidationError{Field: "timestamp", Message: "message timestamp is required"}
	case msg.Payload == nil:
		return &ValidationError{Field: "payload", Message: "message payload cannot be nil"}
	}
	return nil
}
