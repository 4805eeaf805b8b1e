package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"

	slaDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/sla"
	"github.com/frahmantamala/asset-loan/internal/sla"
)

type TimerRepository struct {
	db *gorm.DB
}

func NewTimerRepository(db *gorm.DB) *TimerRepository {
	return &TimerRepository{db: db}
}

var _ sla.Store = (*TimerRepository)(nil)

// Get returns nil without error when no timer of that kind exists.
func (r *TimerRepository) Get(ctx context.Context, applicationID string, kind sla.Kind) (*sla.Timer, error) {
	var row slaDatamodel.Timer
	err := r.db.WithContext(ctx).
		Where("application_id = ? AND kind = ?", applicationID, string(kind)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sla timer: %w", err)
	}
	return sla.FromDataModel(&row), nil
}

func (r *TimerRepository) Save(ctx context.Context, t *sla.Timer) error {
	if err := r.db.WithContext(ctx).Save(sla.ToDataModel(t)).Error; err != nil {
		return fmt.Errorf("save sla timer: %w", err)
	}
	return nil
}

func (r *TimerRepository) ListByApplication(ctx context.Context, applicationID string) ([]*sla.Timer, error) {
	var rows []*slaDatamodel.Timer
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("kind ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sla timers: %w", err)
	}
	out := make([]*sla.Timer, 0, len(rows))
	for _, row := range rows {
		out = append(out, sla.FromDataModel(row))
	}
	return out, nil
}

// SnapshotReader reads the sweep work list with plain SQL outside any
// command transaction, so it only ever sees committed timer state.
type SnapshotReader struct {
	db *sqlx.DB
}

func NewSnapshotReader(db *sqlx.DB) *SnapshotReader {
	return &SnapshotReader{db: db}
}

var _ sla.SnapshotReader = (*SnapshotReader)(nil)

const dueApplicationsQuery = `
SELECT application_id FROM sla_timers WHERE state = ?
UNION
SELECT id FROM loan_applications
 WHERE approval_token_expires_at IS NOT NULL AND approval_token_expires_at <= ?
ORDER BY 1`

func (r *SnapshotReader) DueApplicationIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	query := r.db.Rebind(dueApplicationsQuery)
	if err := r.db.SelectContext(ctx, &ids, query, string(sla.StateRunning), now); err != nil {
		return nil, fmt.Errorf("list applications with active timers: %w", err)
	}
	return ids, nil
}
