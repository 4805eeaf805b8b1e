package approvalmatrix

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	ruleDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/approvalrule"
)

func ToDataModel(r Rule, position int) (*ruleDatamodel.ApprovalRule, error) {
	approvers, err := json.Marshal(r.Approvers)
	if err != nil {
		return nil, fmt.Errorf("marshal approvers for rule %s: %w", r.ID, err)
	}

	row := &ruleDatamodel.ApprovalRule{
		ID:              r.ID,
		Name:            r.Name,
		Priority:        r.Priority,
		Position:        position,
		MinValue:        r.MinValue,
		MinGrade:        r.MinGrade,
		MaxGrade:        r.MaxGrade,
		MinDurationDays: r.MinDurationDays,
		MaxDurationDays: r.MaxDurationDays,
		Categories:      r.Categories,
		Approvers:       approvers,
		Active:          r.Active,
	}
	if r.MaxValue != nil {
		row.MaxValue = decimal.NewNullDecimal(*r.MaxValue)
	}
	return row, nil
}

func FromDataModel(row *ruleDatamodel.ApprovalRule) (Rule, error) {
	var approvers []ApproverSpec
	if len(row.Approvers) > 0 {
		if err := json.Unmarshal(row.Approvers, &approvers); err != nil {
			return Rule{}, invalidRule(fmt.Sprintf("rule %s: stored approvers are not valid JSON", row.ID))
		}
	}

	rule := Rule{
		ID:              row.ID,
		Name:            row.Name,
		Priority:        row.Priority,
		MinValue:        row.MinValue,
		MinGrade:        row.MinGrade,
		MaxGrade:        row.MaxGrade,
		MinDurationDays: row.MinDurationDays,
		MaxDurationDays: row.MaxDurationDays,
		Categories:      row.Categories,
		Approvers:       approvers,
		Active:          row.Active,
	}
	if row.MaxValue.Valid {
		v := row.MaxValue.Decimal
		rule.MaxValue = &v
	}
	return rule, nil
}
