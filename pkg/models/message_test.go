package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuilderFillsIdentity(t *testing.T) {
	msg := NewMessageEnvelopeBuilder(MessageTypeDecision).
		WithSource("screening-service").
		WithPayload(map[string]interface{}{"declaration_id": "D-1"}).
		Build()

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, MessageTypeDecision, msg.Type)
	assert.NoError(t, ValidateMessageEnvelope(msg))
}

func TestValidateMessageEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		msg   *MessageEnvelope
		field string
	}{
		{name: "nil", msg: nil, field: "envelope"},
		{name: "missing id", msg: &MessageEnvelope{Timestamp: time.Now(), Payload: map[string]interface{}{}}, field: "id"},
		{name: "missing timestamp", msg: &MessageEnvelope{ID: "m", Payload: map[string]interface{}{}}, field: "timestamp"},
		{name: "missing payload", msg: &MessageEnvelope{ID: "m", Timestamp: time.Now()}, field: "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageEnvelope(tt.msg)
			var verr *ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tt.field, verr.Field)
			}
		})
	}
}
