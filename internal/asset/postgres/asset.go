package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/asset"
	assetDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/asset"
	loanDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/loan"
	"github.com/frahmantamala/asset-loan/internal/loan"
)

type AssetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

var _ asset.RepositoryAPI = (*AssetRepository)(nil)

func (r *AssetRepository) GetAll(ctx context.Context, category string) ([]*asset.Asset, error) {
	var rows []*assetDatamodel.Asset
	q := r.db.WithContext(ctx).Order("category ASC, id ASC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return fromRows(rows), nil
}

func (r *AssetRepository) GetByIDs(ctx context.Context, ids []string) ([]*asset.Asset, error) {
	var rows []*assetDatamodel.Asset
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get assets: %w", err)
	}
	return fromRows(rows), nil
}

func (r *AssetRepository) GetByID(ctx context.Context, id string) (*asset.Asset, error) {
	var row assetDatamodel.Asset
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrAssetNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset.FromDataModel(&row), nil
}

func (r *AssetRepository) Save(ctx context.Context, a *asset.Asset) error {
	row := asset.ToDataModel(a)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "category", "serial_number", "location", "unit_value",
			"status", "status_note", "is_active", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	return nil
}

func (r *AssetRepository) Reserved(ctx context.Context, assetIDs []string, start, end time.Time, excludeApplicationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&loanDatamodel.Item{}).
		Distinct("loan_items.asset_id").
		Joins("JOIN loan_applications ON loan_applications.id = loan_items.application_id").
		Where("loan_items.asset_id IN ?", assetIDs).
		Where("loan_applications.id <> ?", excludeApplicationID).
		Where("loan_applications.status IN ?", holdingStatuses()).
		Where("loan_applications.loan_start_date <= ? AND loan_applications.loan_end_date >= ?", end, start).
		Order("loan_items.asset_id ASC").
		Pluck("loan_items.asset_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	return ids, nil
}

// holdingStatuses are the states in which an application keeps its assets
// away from other borrowers.
func holdingStatuses() []string {
	out := []string{}
	for _, s := range loan.AllStatuses {
		if s.IsActiveLoan() || s == loan.StatusReturning {
			out = append(out, string(s))
		}
	}
	return out
}

func fromRows(rows []*assetDatamodel.Asset) []*asset.Asset {
	out := make([]*asset.Asset, 0, len(rows))
	for _, row := range rows {
		out = append(out, asset.FromDataModel(row))
	}
	return out
}
