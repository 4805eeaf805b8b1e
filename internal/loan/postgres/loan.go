package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/asset-loan/internal"
	loanDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/loan"
	"github.com/frahmantamala/asset-loan/internal/loan"
)

// LoanRepository implements loan.Repository using GORM. It works on whatever
// handle it is given, so passing a transaction scopes every call to it.
type LoanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

var _ loan.Repository = (*LoanRepository)(nil)

func (r *LoanRepository) Create(ctx context.Context, app *loan.Application) error {
	row, err := loan.ToDataModel(app)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	app.CreatedAt = row.CreatedAt
	app.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *LoanRepository) GetByID(ctx context.Context, id string) (*loan.Application, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

// GetByIDForUpdate locks the application row until the surrounding
// transaction ends.
func (r *LoanRepository) GetByIDForUpdate(ctx context.Context, id string) (*loan.Application, error) {
	q := r.db.WithContext(ctx)
	if q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.first(q, "id = ?", id)
}

func (r *LoanRepository) GetByNumber(ctx context.Context, number string) (*loan.Application, error) {
	return r.first(r.db.WithContext(ctx), "application_number = ?", number)
}

func (r *LoanRepository) first(q *gorm.DB, query string, arg interface{}) (*loan.Application, error) {
	var row loanDatamodel.Application
	err := q.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Where(query, arg).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	return loan.FromDataModel(&row)
}

// Update saves the application row and each of its items. Items are never
// added or removed after creation.
func (r *LoanRepository) Update(ctx context.Context, app *loan.Application) error {
	row, err := loan.ToDataModel(app)
	if err != nil {
		return err
	}
	items := row.Items
	row.Items = nil

	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Save(row).Error; err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	for i := range items {
		if err := db.Save(&items[i]).Error; err != nil {
			return fmt.Errorf("update item %s: %w", items[i].ID, err)
		}
	}
	return nil
}

func (r *LoanRepository) List(ctx context.Context, filter loan.ListFilter) ([]*loan.Application, error) {
	q := r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	if filter.ApplicantUserID != nil {
		q = q.Where("applicant_user_id = ?", *filter.ApplicantUserID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []*loanDatamodel.Application
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	apps := make([]*loan.Application, 0, len(rows))
	for _, row := range rows {
		app, err := loan.FromDataModel(row)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// NextNumber allocates the next application number for the month of at.
// The upsert serialises concurrent callers on the sequence row.
func (r *LoanRepository) NextNumber(ctx context.Context, prefix string, at time.Time) (string, error) {
	period := at.Format("200601")
	seq := loanDatamodel.NumberSequence{Prefix: prefix, Period: period, LastValue: 1}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "prefix"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_value": gorm.Expr("loan_number_sequences.last_value + 1"),
		}),
	}).Create(&seq).Error
	if err != nil {
		return "", fmt.Errorf("allocate application number: %w", err)
	}

	var current loanDatamodel.NumberSequence
	if err := db.Where("prefix = ? AND period = ?", prefix, period).First(&current).Error; err != nil {
		return "", fmt.Errorf("read application number: %w", err)
	}
	return fmt.Sprintf("%s%s%04d", prefix, period, current.LastValue), nil
}

func (r *LoanRepository) AppendTransaction(ctx context.Context, tx *loan.Transaction) error {
	if err := r.db.WithContext(ctx).Create(loan.TransactionToDataModel(tx)).Error; err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (r *LoanRepository) ListTransactions(ctx context.Context, applicationID string) ([]*loan.Transaction, error) {
	var rows []*loanDatamodel.Transaction
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("occurred_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]*loan.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, loan.TransactionFromDataModel(row))
	}
	return out, nil
}

func (r *LoanRepository) RecordDecision(ctx context.Context, d *loan.Decision) error {
	if err := r.db.WithContext(ctx).Create(loan.DecisionToDataModel(d)).Error; err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (r *LoanRepository) ListDecisions(ctx context.Context, applicationID string) ([]*loan.Decision, error) {
	var rows []*loanDatamodel.Decision
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("level ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	out := make([]*loan.Decision, 0, len(rows))
	for _, row := range rows {
		out = append(out, loan.DecisionFromDataModel(row))
	}
	return out, nil
}
