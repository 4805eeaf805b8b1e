package helpdesk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/asset-loan/internal/core/events"
)

type TicketQueue interface {
	Enabled() bool
	Enqueue(req TicketRequest) error
}

type EventHandler struct {
	queue  TicketQueue
	logger *slog.Logger
}

func NewEventHandler(queue TicketQueue, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{
		queue:  queue,
		logger: logger,
	}
}

// HandleDamageLinked turns a damage link into a helpdesk ticket job. A failed
// enqueue is returned so the outbox relay retries the event.
func (h *EventHandler) HandleDamageLinked(ctx context.Context, event events.Event) error {
	var payload events.DamageLinked
	if err := events.DecodePayload(event, &payload); err != nil {
		h.logger.Error("invalid payload for damage linked handler", "event_id", event.EventID(), "error", err)
		return err
	}

	if !h.queue.Enabled() {
		h.logger.Info("helpdesk integration disabled, ticket must be linked manually",
			"link_id", payload.LinkID,
			"application_id", payload.ApplicationID)
		return nil
	}

	req := TicketRequest{
		ExternalID:        payload.LinkID,
		ApplicationID:     payload.ApplicationID,
		ApplicationNumber: payload.ApplicationNumber,
		AssetID:           payload.AssetID,
		Category:          payload.Category,
		Condition:         payload.Condition,
		Description:       payload.Description,
		ReportedBy:        payload.ReportedBy,
	}
	if err := h.queue.Enqueue(req); err != nil {
		return fmt.Errorf("queue helpdesk ticket for link %s: %w", payload.LinkID, err)
	}

	h.logger.Info("helpdesk ticket requested",
		"link_id", payload.LinkID,
		"asset_id", payload.AssetID,
		"event_id", event.EventID())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeDamageLinked, h.HandleDamageLinked)

	h.logger.Info("helpdesk event handlers registered",
		"handlers", []string{events.EventTypeDamageLinked})
}
