package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/asset-loan/internal"
	outboxDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/outbox"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

const maxErrorLength = 1000

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

var _ workflow.OutboxStore = (*OutboxRepository)(nil)

func (r *OutboxRepository) Append(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	rows := make([]*outboxDatamodel.Message, 0, len(evts))
	for _, e := range evts {
		payload, err := json.Marshal(e.Payload())
		if err != nil {
			return fmt.Errorf("encode outbox event %s: %w", e.EventType(), err)
		}
		rows = append(rows, &outboxDatamodel.Message{
			EventID:     e.EventID(),
			AggregateID: e.AggregateID(),
			EventType:   e.EventType(),
			Payload:     datatypes.JSON(payload),
			OccurredAt:  e.OccurredAt(),
		})
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("append outbox events: %w", err)
	}
	return nil
}

// Pending returns undispatched messages in commit order. Messages that used
// up maxAttempts stay in the table for inspection.
func (r *OutboxRepository) Pending(ctx context.Context, limit, maxAttempts int) ([]workflow.OutboxMessage, error) {
	var rows []*outboxDatamodel.Message
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND attempts < ?", maxAttempts).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending outbox events: %w", err)
	}

	out := make([]workflow.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := toMessage(row)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, sequence int64, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&outboxDatamodel.Message{}).
		Where("sequence = ?", sequence).
		Updates(map[string]interface{}{
			"dispatched_at": at,
			"last_error":    nil,
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox event %d dispatched: %w", sequence, err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, sequence int64, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	err := r.db.WithContext(ctx).
		Model(&outboxDatamodel.Message{}).
		Where("sequence = ?", sequence).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox event %d failed: %w", sequence, err)
	}
	return nil
}

// Get returns a stored event by its event id, dispatched or not.
func (r *OutboxRepository) Get(ctx context.Context, eventID string) (*events.BaseEvent, error) {
	var row outboxDatamodel.Message
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError("Event not found", internal.ErrCodeEventNotFound)
		}
		return nil, fmt.Errorf("get outbox event %s: %w", eventID, err)
	}
	msg, err := toMessage(&row)
	if err != nil {
		return nil, err
	}
	return msg.Event, nil
}

// ListByAggregate returns every event of an application in commit order.
func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateID string) ([]*events.BaseEvent, error) {
	var rows []*outboxDatamodel.Message
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	out := make([]*events.BaseEvent, 0, len(rows))
	for _, row := range rows {
		msg, err := toMessage(row)
		if err != nil {
			return nil, err
		}
		out = append(out, msg.Event)
	}
	return out, nil
}

func toMessage(row *outboxDatamodel.Message) (workflow.OutboxMessage, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(row.Payload, &data); err != nil {
		return workflow.OutboxMessage{}, fmt.Errorf("decode outbox event %d: %w", row.Sequence, err)
	}
	return workflow.OutboxMessage{
		Sequence: row.Sequence,
		Attempts: row.Attempts,
		Event: &events.BaseEvent{
			ID:        row.EventID,
			Type:      row.EventType,
			Aggregate: row.AggregateID,
			Timestamp: row.OccurredAt,
			Data:      data,
		},
	}, nil
}
