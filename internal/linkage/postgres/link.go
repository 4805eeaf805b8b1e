package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/asset-loan/internal"
	linkDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/linkage"
	"github.com/frahmantamala/asset-loan/internal/linkage"
)

type LinkRepository struct {
	db *gorm.DB
}

func NewLinkRepository(db *gorm.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

var _ linkage.Repository = (*LinkRepository)(nil)

// CreateIfAbsent relies on the unique dedupe key; a conflicting insert is
// not an error and the existing row is returned instead.
func (r *LinkRepository) CreateIfAbsent(ctx context.Context, link *linkage.Link) (*linkage.Link, bool, error) {
	row, err := linkage.ToDataModel(link)
	if err != nil {
		return nil, false, err
	}

	db := r.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create link: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return link, true, nil
	}

	var existing linkDatamodel.Link
	if err := db.Where("dedupe_key = ?", link.DedupeKey).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("load existing link: %w", err)
	}
	stored, err := linkage.FromDataModel(&existing)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *LinkRepository) GetByID(ctx context.Context, id string) (*linkage.Link, error) {
	var row linkDatamodel.Link
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrLinkNotFound
		}
		return nil, fmt.Errorf("get link: %w", err)
	}
	return linkage.FromDataModel(&row)
}

func (r *LinkRepository) ListByApplication(ctx context.Context, applicationID string) ([]*linkage.Link, error) {
	var rows []*linkDatamodel.Link
	err := r.db.WithContext(ctx).
		Where("source_module = ? AND source_entity_id = ?", string(linkage.ModuleAssetLoan), applicationID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make([]*linkage.Link, 0, len(rows))
	for _, row := range rows {
		l, err := linkage.FromDataModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *LinkRepository) SetTarget(ctx context.Context, id string, target linkage.Ref) error {
	module := string(target.Module)
	res := r.db.WithContext(ctx).Model(&linkDatamodel.Link{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"target_module":    module,
			"target_entity_id": target.EntityID,
		})
	if res.Error != nil {
		return fmt.Errorf("set link target: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return internal.ErrLinkNotFound
	}
	return nil
}
