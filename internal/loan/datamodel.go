package loan

import (
	"encoding/json"
	"fmt"

	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	loanDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/loan"
)

func ToDataModel(a *Application) (*loanDatamodel.Application, error) {
	var levels []byte
	if a.RequiredLevels != nil {
		var err error
		levels, err = json.Marshal(a.RequiredLevels)
		if err != nil {
			return nil, fmt.Errorf("marshal required levels: %w", err)
		}
	}

	row := &loanDatamodel.Application{
		ID:                     a.ID,
		Number:                 a.Number,
		ApplicantName:          a.ApplicantName,
		ApplicantEmail:         a.ApplicantEmail,
		ApplicantPhone:         a.ApplicantPhone,
		StaffID:                a.StaffID,
		ApplicantUserID:        a.ApplicantUserID,
		Division:               a.Division,
		Grade:                  a.Grade,
		Purpose:                a.Purpose,
		Location:               a.Location,
		StartDate:              a.StartDate,
		EndDate:                a.EndDate,
		Priority:               string(a.Priority),
		TotalValue:             a.TotalValue,
		Status:                 string(a.Status),
		RequiredLevels:         levels,
		ApprovalTokenHash:      a.ApprovalTokenHash,
		ApprovalTokenExpiresAt: a.ApprovalTokenExpiresAt,
		ApprovedBy:             a.ApprovedBy,
		ApprovedAt:             a.ApprovedAt,
		ApprovalRemarks:        a.ApprovalRemarks,
		RejectionReason:        a.RejectionReason,
		MaintenanceRequired:    a.MaintenanceRequired,
		RelatedTicketIDs:       a.RelatedTicketIDs,
		SubmittedAt:            a.SubmittedAt,
		IssuedAt:               a.IssuedAt,
		ReturnedAt:             a.ReturnedAt,
		CompletedAt:            a.CompletedAt,
		AnonymizedAt:           a.AnonymizedAt,
		ClaimedAt:              a.ClaimedAt,
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
	for i, it := range a.Items {
		row.Items = append(row.Items, ItemToDataModel(it, i))
	}
	return row, nil
}

func ItemToDataModel(it *Item, position int) loanDatamodel.Item {
	return loanDatamodel.Item{
		ID:                  it.ID,
		ApplicationID:       it.ApplicationID,
		AssetID:             it.AssetID,
		Category:            it.Category,
		Quantity:            it.Quantity,
		UnitValue:           it.UnitValue,
		TotalValue:          it.TotalValue,
		ConditionBefore:     conditionToString(it.ConditionBefore),
		ConditionAfter:      conditionToString(it.ConditionAfter),
		AccessoriesIssued:   it.AccessoriesIssued,
		AccessoriesReturned: it.AccessoriesReturned,
		DamageReport:        it.DamageReport,
		Position:            position,
	}
}

// FromDataModel rejects rows whose status is not part of the lifecycle.
func FromDataModel(row *loanDatamodel.Application) (*Application, error) {
	status, err := ParseStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("application %s: %w", row.ID, err)
	}

	var levels []approvalmatrix.RequiredLevel
	if len(row.RequiredLevels) > 0 {
		if err := json.Unmarshal(row.RequiredLevels, &levels); err != nil {
			return nil, fmt.Errorf("application %s: decode required levels: %w", row.ID, err)
		}
	}

	app := &Application{
		ID:                     row.ID,
		Number:                 row.Number,
		ApplicantName:          row.ApplicantName,
		ApplicantEmail:         row.ApplicantEmail,
		ApplicantPhone:         row.ApplicantPhone,
		StaffID:                row.StaffID,
		ApplicantUserID:        row.ApplicantUserID,
		Division:               row.Division,
		Grade:                  row.Grade,
		Purpose:                row.Purpose,
		Location:               row.Location,
		StartDate:              row.StartDate,
		EndDate:                row.EndDate,
		Priority:               Priority(row.Priority),
		TotalValue:             row.TotalValue,
		Status:                 status,
		RequiredLevels:         levels,
		ApprovalTokenHash:      row.ApprovalTokenHash,
		ApprovalTokenExpiresAt: row.ApprovalTokenExpiresAt,
		ApprovedBy:             row.ApprovedBy,
		ApprovedAt:             row.ApprovedAt,
		ApprovalRemarks:        row.ApprovalRemarks,
		RejectionReason:        row.RejectionReason,
		MaintenanceRequired:    row.MaintenanceRequired,
		RelatedTicketIDs:       row.RelatedTicketIDs,
		SubmittedAt:            row.SubmittedAt,
		IssuedAt:               row.IssuedAt,
		ReturnedAt:             row.ReturnedAt,
		CompletedAt:            row.CompletedAt,
		AnonymizedAt:           row.AnonymizedAt,
		ClaimedAt:              row.ClaimedAt,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
	for i := range row.Items {
		item, err := ItemFromDataModel(&row.Items[i])
		if err != nil {
			return nil, err
		}
		app.Items = append(app.Items, item)
	}
	return app, nil
}

func ItemFromDataModel(row *loanDatamodel.Item) (*Item, error) {
	before, err := conditionFromString(row.ConditionBefore)
	if err != nil {
		return nil, err
	}
	after, err := conditionFromString(row.ConditionAfter)
	if err != nil {
		return nil, err
	}
	return &Item{
		ID:                  row.ID,
		ApplicationID:       row.ApplicationID,
		AssetID:             row.AssetID,
		Category:            row.Category,
		Quantity:            row.Quantity,
		UnitValue:           row.UnitValue,
		TotalValue:          row.TotalValue,
		ConditionBefore:     before,
		ConditionAfter:      after,
		AccessoriesIssued:   row.AccessoriesIssued,
		AccessoriesReturned: row.AccessoriesReturned,
		DamageReport:        row.DamageReport,
	}, nil
}

func TransactionToDataModel(t *Transaction) *loanDatamodel.Transaction {
	return &loanDatamodel.Transaction{
		ID:              t.ID,
		ApplicationID:   t.ApplicationID,
		Type:            string(t.Type),
		ActorID:         t.ActorID,
		AssetID:         t.AssetID,
		ConditionBefore: conditionToString(t.ConditionBefore),
		ConditionAfter:  conditionToString(t.ConditionAfter),
		Notes:           t.Notes,
		OccurredAt:      t.OccurredAt,
	}
}

func TransactionFromDataModel(row *loanDatamodel.Transaction) *Transaction {
	before, _ := conditionFromString(row.ConditionBefore)
	after, _ := conditionFromString(row.ConditionAfter)
	return &Transaction{
		ID:              row.ID,
		ApplicationID:   row.ApplicationID,
		Type:            TransactionType(row.Type),
		ActorID:         row.ActorID,
		AssetID:         row.AssetID,
		ConditionBefore: before,
		ConditionAfter:  after,
		Notes:           row.Notes,
		OccurredAt:      row.OccurredAt,
	}
}

func DecisionToDataModel(d *Decision) *loanDatamodel.Decision {
	return &loanDatamodel.Decision{
		ID:            d.ID,
		ApplicationID: d.ApplicationID,
		Level:         d.Level,
		Decision:      string(d.Decision),
		ActorID:       d.ActorID,
		Remarks:       d.Remarks,
		DecidedAt:     d.DecidedAt,
	}
}

func DecisionFromDataModel(row *loanDatamodel.Decision) *Decision {
	return &Decision{
		ID:            row.ID,
		ApplicationID: row.ApplicationID,
		Level:         row.Level,
		Decision:      DecisionKind(row.Decision),
		ActorID:       row.ActorID,
		Remarks:       row.Remarks,
		DecidedAt:     row.DecidedAt,
	}
}

func conditionToString(c *Condition) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func conditionFromString(s *string) (*Condition, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	c, err := ParseCondition(*s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
