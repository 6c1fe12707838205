package screening

import (
	"context"

	"revguard/internal/logger"
	apperrors "revguard/pkg/errors"
	"revguard/pkg/models"
	"revguard/pkg/retry"
)

// Handler consumes declaration assessments from Kafka.
type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// HandleAssessment is a broker.HandlerFunc. Malformed or invalid
// assessments are fatal so they go straight to the DLQ; other failures
// are retried by the consumer.
func (h *Handler) HandleAssessment(ctx context.Context, msg models.MessageEnvelope) error {
	if err := models.ValidateMessageEnvelope(&msg); err != nil {
		return retry.NewFatalError(err)
	}

	var a Assessment
	if err := models.DecodePayload(msg.Payload, &a); err != nil {
		return retry.NewFatalError(err)
	}
	if a.ID == "" {
		a.ID = msg.ID
	}

	_, err := h.service.Screen(ctx, a)
	if apperrors.IsValidation(err) {
		return retry.NewFatalError(err)
	}
	return err
}
