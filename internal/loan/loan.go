package loan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Condition string

const (
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionDamaged   Condition = "damaged"
)

func ParseCondition(v string) (Condition, error) {
	c := Condition(strings.ToLower(strings.TrimSpace(v)))
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return c, nil
	}
	return "", internal.NewValidationFieldError("condition", fmt.Sprintf("unknown condition %q", v), internal.ErrCodeInvalidCondition)
}

// NeedsMaintenance is true for conditions that trigger a damage report.
func (c Condition) NeedsMaintenance() bool {
	return c == ConditionPoor || c == ConditionDamaged
}

type TransactionType string

const (
	TransactionIssue  TransactionType = "issue"
	TransactionReturn TransactionType = "return"
	TransactionExtend TransactionType = "extend"
	TransactionRecall TransactionType = "recall"
)

type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
)

type Application struct {
	ID                     string                         `json:"id"`
	Number                 string                         `json:"application_number"`
	ApplicantName          string                         `json:"applicant_name"`
	ApplicantEmail         string                         `json:"applicant_email"`
	ApplicantPhone         string                         `json:"applicant_phone,omitempty"`
	StaffID                string                         `json:"staff_id,omitempty"`
	ApplicantUserID        *string                        `json:"applicant_user_id,omitempty"`
	Division               string                         `json:"division,omitempty"`
	Grade                  int                            `json:"grade"`
	Purpose                string                         `json:"purpose"`
	Location               string                         `json:"location,omitempty"`
	StartDate              time.Time                      `json:"loan_start_date"`
	EndDate                time.Time                      `json:"loan_end_date"`
	Priority               Priority                       `json:"priority"`
	TotalValue             decimal.Decimal                `json:"total_value"`
	Status                 Status                         `json:"status"`
	RequiredLevels         []approvalmatrix.RequiredLevel `json:"required_levels,omitempty"`
	ApprovalTokenHash      *string                        `json:"-"`
	ApprovalTokenExpiresAt *time.Time                     `json:"approval_token_expires_at,omitempty"`
	ApprovedBy             *string                        `json:"approved_by,omitempty"`
	ApprovedAt             *time.Time                     `json:"approved_at,omitempty"`
	ApprovalRemarks        *string                        `json:"approval_remarks,omitempty"`
	RejectionReason        *string                        `json:"rejection_reason,omitempty"`
	MaintenanceRequired    bool                           `json:"maintenance_required"`
	RelatedTicketIDs       []string                       `json:"related_ticket_ids,omitempty"`
	SubmittedAt            *time.Time                     `json:"submitted_at,omitempty"`
	IssuedAt               *time.Time                     `json:"issued_at,omitempty"`
	ReturnedAt             *time.Time                     `json:"returned_at,omitempty"`
	CompletedAt            *time.Time                     `json:"completed_at,omitempty"`
	AnonymizedAt           *time.Time                     `json:"anonymized_at,omitempty"`
	ClaimedAt              *time.Time                     `json:"claimed_at,omitempty"`
	Items                  []*Item                        `json:"items"`
	CreatedAt              time.Time                      `json:"created_at"`
	UpdatedAt              time.Time                      `json:"updated_at"`
}

type Item struct {
	ID                  string          `json:"id"`
	ApplicationID       string          `json:"application_id"`
	AssetID             string          `json:"asset_id"`
	Category            string          `json:"category"`
	Quantity            int             `json:"quantity"`
	UnitValue           decimal.Decimal `json:"unit_value"`
	TotalValue          decimal.Decimal `json:"total_value"`
	ConditionBefore     *Condition      `json:"condition_before,omitempty"`
	ConditionAfter      *Condition      `json:"condition_after,omitempty"`
	AccessoriesIssued   []string        `json:"accessories_issued,omitempty"`
	AccessoriesReturned []string        `json:"accessories_returned,omitempty"`
	DamageReport        *string         `json:"damage_report,omitempty"`
}

// Transaction is an append-only record of a physical lifecycle event.
type Transaction struct {
	ID              string          `json:"id"`
	ApplicationID   string          `json:"application_id"`
	Type            TransactionType `json:"type"`
	ActorID         string          `json:"actor_id"`
	AssetID         *string         `json:"asset_id,omitempty"`
	ConditionBefore *Condition      `json:"condition_before,omitempty"`
	ConditionAfter  *Condition      `json:"condition_after,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

type Decision struct {
	ID            string       `json:"id"`
	ApplicationID string       `json:"application_id"`
	Level         int          `json:"level"`
	Decision      DecisionKind `json:"decision"`
	ActorID       string       `json:"actor_id"`
	Remarks       string       `json:"remarks,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}

type ListFilter struct {
	Status          *Status
	ApplicantUserID *string
	Limit           int
	Offset          int
}

// Repository is the persistence port for applications and their records.
// Implementations must be bound to the caller's transaction.
type Repository interface {
	Create(ctx context.Context, app *Application) error
	GetByID(ctx context.Context, id string) (*Application, error)
	GetByIDForUpdate(ctx context.Context, id string) (*Application, error)
	GetByNumber(ctx context.Context, number string) (*Application, error)
	Update(ctx context.Context, app *Application) error
	List(ctx context.Context, filter ListFilter) ([]*Application, error)
	NextNumber(ctx context.Context, prefix string, at time.Time) (string, error)
	AppendTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, applicationID string) ([]*Transaction, error)
	RecordDecision(ctx context.Context, d *Decision) error
	ListDecisions(ctx context.Context, applicationID string) ([]*Decision, error)
}

// NewApplication builds a draft from a validated request. Item totals and the
// application total must agree exactly.
func NewApplication(dto CreateApplicationDTO, now time.Time) (*Application, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		ID:              uuid.New().String(),
		ApplicantName:   strings.TrimSpace(dto.ApplicantName),
		ApplicantEmail:  strings.TrimSpace(dto.ApplicantEmail),
		ApplicantPhone:  dto.ApplicantPhone,
		StaffID:         dto.StaffID,
		ApplicantUserID: dto.ApplicantUserID,
		Division:        dto.Division,
		Grade:           dto.Grade,
		Purpose:         dto.Purpose,
		Location:        dto.Location,
		StartDate:       dto.StartDate.Time,
		EndDate:         dto.EndDate.Time,
		Priority:        dto.priority(),
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, in := range dto.Items {
		unit, _ := decimal.NewFromString(in.UnitValue)
		total, _ := decimal.NewFromString(in.TotalValue)
		item := &Item{
			ID:                uuid.New().String(),
			ApplicationID:     app.ID,
			AssetID:           in.AssetID,
			Category:          strings.ToLower(strings.TrimSpace(in.Category)),
			Quantity:          in.Quantity,
			UnitValue:         unit,
			TotalValue:        total,
			AccessoriesIssued: in.Accessories,
		}
		if in.Condition != "" {
			c, err := ParseCondition(in.Condition)
			if err != nil {
				return nil, err
			}
			item.ConditionBefore = &c
		}
		app.Items = append(app.Items, item)
	}

	app.TotalValue, _ = decimal.NewFromString(dto.TotalValue)
	if err := app.CheckValue(); err != nil {
		return nil, err
	}
	return app, nil
}

// CheckValue enforces the item and application totals.
func (a *Application) CheckValue() error {
	sum := decimal.Zero
	for _, it := range a.Items {
		expected := it.UnitValue.Mul(decimal.NewFromInt(int64(it.Quantity)))
		if !expected.Equal(it.TotalValue) {
			return internal.NewValidationFieldError("items.total_value",
				fmt.Sprintf("item %s total %s does not equal %d x %s", it.AssetID, it.TotalValue, it.Quantity, it.UnitValue),
				internal.ErrCodeValueMismatch)
		}
		sum = sum.Add(it.TotalValue)
	}
	if !sum.Equal(a.TotalValue) {
		return internal.NewValidationFieldError("total_value",
			fmt.Sprintf("total value %s does not equal the sum of items %s", a.TotalValue, sum),
			internal.ErrCodeValueMismatch)
	}
	return nil
}

// DurationDays counts both the first and the last day of the loan.
func (a *Application) DurationDays() int {
	return int(a.EndDate.Sub(a.StartDate).Hours()/24) + 1
}

// ReturnDueAt is the first instant after the last loan day in loc.
func (a *Application) ReturnDueAt(loc *time.Location) time.Time {
	y, m, d := a.EndDate.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

func (a *Application) AssetIDs() []string {
	ids := make([]string, 0, len(a.Items))
	for _, it := range a.Items {
		ids = append(ids, it.AssetID)
	}
	return ids
}

func (a *Application) Categories() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(a.Items))
	for _, it := range a.Items {
		if it.Category == "" || seen[it.Category] {
			continue
		}
		seen[it.Category] = true
		out = append(out, it.Category)
	}
	return out
}

func (a *Application) ApprovalRequest() approvalmatrix.Request {
	return approvalmatrix.Request{
		TotalValue:     a.TotalValue,
		ApplicantGrade: a.Grade,
		DurationDays:   a.DurationDays(),
		Categories:     a.Categories(),
	}
}

func (a *Application) Item(assetID string) *Item {
	for _, it := range a.Items {
		if it.AssetID == assetID {
			return it
		}
	}
	return nil
}

// MoveTo applies one edge of the lifecycle.
func (a *Application) MoveTo(to Status, at time.Time) error {
	if err := Transition(a.Status, to); err != nil {
		return err
	}
	a.Status = to
	a.UpdatedAt = at
	switch to {
	case StatusSubmitted:
		a.SubmittedAt = &at
	case StatusApproved:
		a.ApprovedAt = &at
	case StatusIssued:
		a.IssuedAt = &at
	case StatusReturned:
		a.ReturnedAt = &at
	case StatusCompleted:
		a.CompletedAt = &at
	case StatusMaintenanceRequired:
		a.MaintenanceRequired = true
	}
	return nil
}

func (a *Application) HasApprovalToken() bool {
	return a.ApprovalTokenHash != nil
}

func (a *Application) SetApprovalToken(hash string, expiresAt time.Time) {
	a.ApprovalTokenHash = &hash
	a.ApprovalTokenExpiresAt = &expiresAt
}

func (a *Application) ClearApprovalToken() {
	a.ApprovalTokenHash = nil
	a.ApprovalTokenExpiresAt = nil
}

// ApprovalTokenExpired reports whether a stored token can no longer be used.
func (a *Application) ApprovalTokenExpired(now time.Time) bool {
	return a.ApprovalTokenExpiresAt != nil && !now.Before(*a.ApprovalTokenExpiresAt)
}

func (a *Application) AddRelatedTicket(ticketID string) bool {
	for _, t := range a.RelatedTicketIDs {
		if t == ticketID {
			return false
		}
	}
	a.RelatedTicketIDs = append(a.RelatedTicketIDs, ticketID)
	return true
}

const anonymizedValue = "anonymized"

// Anonymize scrubs applicant personal data from a closed application.
func (a *Application) Anonymize(now time.Time) error {
	if !a.Status.IsTerminal() {
		return internal.NewGuardFailedError("terminal_state",
			fmt.Sprintf("only rejected or completed applications can be anonymized, application is %s", a.Status))
	}
	if a.AnonymizedAt != nil {
		return nil
	}
	a.ApplicantName = anonymizedValue
	a.ApplicantEmail = anonymizedValue
	a.ApplicantPhone = ""
	a.StaffID = ""
	a.Location = ""
	a.AnonymizedAt = &now
	a.UpdatedAt = now
	return nil
}

// Claim binds a guest application to an authenticated user.
func (a *Application) Claim(userID string, now time.Time) error {
	if a.AnonymizedAt != nil {
		return internal.NewGuardFailedError("not_anonymized", "anonymized applications cannot be claimed")
	}
	if a.ApplicantUserID != nil {
		if *a.ApplicantUserID == userID {
			return nil
		}
		return internal.NewConflictError("application already belongs to another user", internal.ErrCodeAlreadyClaimed)
	}
	a.ApplicantUserID = &userID
	a.ClaimedAt = &now
	a.UpdatedAt = now
	return nil
}

func NewTransaction(appID string, typ TransactionType, actorID string, at time.Time) *Transaction {
	return &Transaction{
		ID:            uuid.New().String(),
		ApplicationID: appID,
		Type:          typ,
		ActorID:       actorID,
		OccurredAt:    at,
	}
}

func NewDecision(appID string, level int, kind DecisionKind, actorID, remarks string, at time.Time) *Decision {
	return &Decision{
		ID:            uuid.New().String(),
		ApplicationID: appID,
		Level:         level,
		Decision:      kind,
		ActorID:       actorID,
		Remarks:       remarks,
		DecidedAt:     at,
	}
}
