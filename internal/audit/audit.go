package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/asset-loan/internal/core/events"
)

// redactedKeys never reach the audit trail.
var redactedKeys = []string{"approval_token"}

// actorKeys are checked in order to attribute an event to a user.
var actorKeys = []string{"actor_id", "approved_by", "rejected_by", "issued_by", "returned_by", "reported_by", "submitted_by"}

type Entry struct {
	ID          int64                  `json:"id"`
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	ActorID     string                 `json:"actor_id,omitempty"`
	Details     map[string]interface{} `json:"details"`
	OccurredAt  time.Time              `json:"occurred_at"`
	RecordedAt  time.Time              `json:"recorded_at"`
}

type Repository interface {
	// Append stores the entry unless one already exists for its event id.
	Append(ctx context.Context, e *Entry) (bool, error)
	ListByAggregate(ctx context.Context, aggregateID string) ([]*Entry, error)
}

// Writer keeps an append-only trail of every published event.
type Writer struct {
	repo   Repository
	logger *slog.Logger
}

func NewWriter(repo Repository, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{repo: repo, logger: logger}
}

// EntryFromEvent copies the event payload, drops secrets and picks the actor.
func EntryFromEvent(event events.Event) (*Entry, error) {
	details := map[string]interface{}{}
	if err := events.DecodePayload(event, &details); err != nil {
		return nil, err
	}
	for _, k := range redactedKeys {
		delete(details, k)
	}

	entry := &Entry{
		EventID:     event.EventID(),
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		Details:     details,
		OccurredAt:  event.OccurredAt(),
	}
	for _, k := range actorKeys {
		if v, ok := details[k].(string); ok && v != "" {
			entry.ActorID = v
			break
		}
	}
	return entry, nil
}

func (w *Writer) HandleEvent(ctx context.Context, event events.Event) error {
	entry, err := EntryFromEvent(event)
	if err != nil {
		return err
	}

	created, err := w.repo.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("append audit entry for %s: %w", event.EventID(), err)
	}
	if !created {
		w.logger.Debug("audit entry already present", "event_id", event.EventID())
	}
	return nil
}

func (w *Writer) Trail(ctx context.Context, aggregateID string) ([]*Entry, error) {
	return w.repo.ListByAggregate(ctx, aggregateID)
}

func (w *Writer) RegisterEventHandlers(bus *events.EventBus) {
	bus.SubscribeAll(w.HandleEvent)
	w.logger.Info("audit writer subscribed to all events")
}
