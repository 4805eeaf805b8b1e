package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/asset-loan/internal/audit"
	auditDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/audit"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, e *audit.Entry) (bool, error) {
	details := e.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return false, fmt.Errorf("encode audit details: %w", err)
	}

	row := &auditDatamodel.Entry{
		EventID:     e.EventID,
		EventType:   e.EventType,
		AggregateID: e.AggregateID,
		ActorID:     e.ActorID,
		Details:     raw,
		OccurredAt:  e.OccurredAt,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	e.ID = row.ID
	e.RecordedAt = row.RecordedAt
	return true, nil
}

func (r *AuditRepository) ListByAggregate(ctx context.Context, aggregateID string) ([]*audit.Entry, error) {
	var rows []*auditDatamodel.Entry
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("occurred_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*audit.Entry, 0, len(rows))
	for _, row := range rows {
		details := map[string]interface{}{}
		if len(row.Details) > 0 {
			if err := json.Unmarshal(row.Details, &details); err != nil {
				return nil, fmt.Errorf("decode audit entry %d: %w", row.ID, err)
			}
		}
		entries = append(entries, &audit.Entry{
			ID:          row.ID,
			EventID:     row.EventID,
			EventType:   row.EventType,
			AggregateID: row.AggregateID,
			ActorID:     row.ActorID,
			Details:     details,
			OccurredAt:  row.OccurredAt,
			RecordedAt:  row.RecordedAt,
		})
	}
	return entries, nil
}
