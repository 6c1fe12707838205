package config_handler

import (
	"context"
	"fmt"

	"revguard/internal/logger"
	"revguard/pkg/models"
)

// Reloader re-reads the active policy pack from its store.
type Reloader interface {
	Reload(ctx context.Context) error
}

// FieldsUpdater accepts a new list of de-duplication fields carried in
// the event metadata under "fields_to_hash".
type FieldsUpdater interface {
	UpdateFieldsToHash(fields []string) error
}

type Handler struct {
	expectedEventType   string
	expectedServiceType string
	reloader            Reloader
	updater             FieldsUpdater
	logger              logger.Logger
}

func NewHandler(expectedEventType, expectedServiceType string, reloader Reloader, log logger.Logger) *Handler {
	return &Handler{
		expectedEventType:   expectedEventType,
		expectedServiceType: expectedServiceType,
		reloader:            reloader,
		logger:              log,
	}
}

func (h *Handler) WithFieldsUpdater(updater FieldsUpdater) *Handler {
	h.updater = updater
	return h
}

// HandleConfigUpdateEvent is a broker.HandlerFunc. Events for other
// services or event types are acknowledged and ignored.
func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, envelope models.MessageEnvelope) error {
	if envelope.Type != "" && envelope.Type != models.MessageTypeConfigUpdate {
		return nil
	}

	var event models.ConfigUpdateEvent
	if err := models.DecodePayload(envelope.Payload, &event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode config event", "error", err, "id", envelope.ID)
		return nil
	}

	switch {
	case event.EventType == "" || event.ServiceType == "":
		h.logger.WarnwCtx(ctx, "Config event missing event_type or service_type", "id", envelope.ID)
		return nil
	case event.EventType != h.expectedEventType, event.ServiceType != h.expectedServiceType:
		return nil
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"rule_id", event.RuleID,
		"pack_version", event.PackVersion,
	)

	if h.reloader != nil {
		if err := h.reloader.Reload(ctx); err != nil {
			return fmt.Errorf("failed to reload policy pack: %w", err)
		}
	}

	if h.updater != nil {
		if fields := stringList(event.Metadata["fields_to_hash"]); len(fields) > 0 {
			if err := h.updater.UpdateFieldsToHash(fields); err != nil {
				return fmt.Errorf("failed to update dedup fields: %w", err)
			}
		}
	}

	return nil
}

func stringList(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
