package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	ruleDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/approvalrule"
)

// RuleRepository stores approval rules and serves them as a Source.
type RuleRepository struct {
	db                        *gorm.DB
	defaultNoApprovalRequired bool
}

func NewRuleRepository(db *gorm.DB, defaultNoApprovalRequired bool) *RuleRepository {
	return &RuleRepository{db: db, defaultNoApprovalRequired: defaultNoApprovalRequired}
}

// Load reads every rule in insertion order and returns them as a snapshot.
func (r *RuleRepository) Load(ctx context.Context) (*approvalmatrix.RuleSet, error) {
	var rows []*ruleDatamodel.ApprovalRule
	if err := r.db.WithContext(ctx).Order("position ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load approval rules: %w", err)
	}

	rules := make([]approvalmatrix.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := approvalmatrix.FromDataModel(row)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return approvalmatrix.NewRuleSet(rules, r.defaultNoApprovalRequired)
}

// ReplaceAll swaps the stored rules for the given list in one transaction.
func (r *RuleRepository) ReplaceAll(ctx context.Context, rules []approvalmatrix.Rule) error {
	if _, err := approvalmatrix.NewRuleSet(rules, r.defaultNoApprovalRequired); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ruleDatamodel.ApprovalRule{}).Error; err != nil {
			return fmt.Errorf("clear approval rules: %w", err)
		}
		for i, rule := range rules {
			row, err := approvalmatrix.ToDataModel(rule, i)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
				return fmt.Errorf("store approval rule %s: %w", rule.ID, err)
			}
		}
		return nil
	})
}
