package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeApplicationSubmitted   = "loan.application_submitted"
	EventTypeApprovalRequired       = "loan.approval_required"
	EventTypeApplicationApproved    = "loan.application_approved"
	EventTypeApplicationRejected    = "loan.application_rejected"
	EventTypeStatusChanged          = "loan.status_changed"
	EventTypeAssetIssued            = "loan.asset_issued"
	EventTypeAssetReturned          = "loan.asset_returned"
	EventTypeSlaAtRisk              = "loan.sla_at_risk"
	EventTypeSlaBreached            = "loan.sla_breached"
	EventTypeDamageLinked           = "loan.damage_linked"
	EventTypeTransactionRecorded    = "loan.transaction_recorded"
	EventTypeHelpdeskTicketRecorded = "loan.helpdesk_ticket_recorded"
)

var LoanEventTypes = []string{
	EventTypeApplicationSubmitted,
	EventTypeApprovalRequired,
	EventTypeApplicationApproved,
	EventTypeApplicationRejected,
	EventTypeStatusChanged,
	EventTypeAssetIssued,
	EventTypeAssetReturned,
	EventTypeSlaAtRisk,
	EventTypeSlaBreached,
	EventTypeDamageLinked,
	EventTypeTransactionRecorded,
	EventTypeHelpdeskTicketRecorded,
}

func IsLoanEventType(t string) bool {
	for _, known := range LoanEventTypes {
		if known == t {
			return true
		}
	}
	return false
}

type ApplicationSubmitted struct {
	ApplicationID     string    `json:"application_id"`
	ApplicationNumber string    `json:"application_number"`
	ApplicantName     string    `json:"applicant_name"`
	ApplicantEmail    string    `json:"applicant_email"`
	TotalValue        string    `json:"total_value"`
	SubmittedAt       time.Time `json:"submitted_at"`
}

// ApprovalRequired carries the signed one-time token so a notifier can mail
// an approve link. Audit storage must drop ApprovalToken.
type ApprovalRequired struct {
	ApplicationID     string     `json:"application_id"`
	ApplicationNumber string     `json:"application_number"`
	Level             int        `json:"level"`
	ApproverSpec      string     `json:"approver_spec"`
	CandidateIDs      []string   `json:"candidate_approver_ids,omitempty"`
	ApprovalToken     string     `json:"approval_token,omitempty"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
}

type ApplicationApproved struct {
	ApplicationID     string    `json:"application_id"`
	ApplicationNumber string    `json:"application_number"`
	ApprovedBy        string    `json:"approved_by"`
	Remarks           string    `json:"remarks,omitempty"`
	ApprovedAt        time.Time `json:"approved_at"`
}

type ApplicationRejected struct {
	ApplicationID     string    `json:"application_id"`
	ApplicationNumber string    `json:"application_number"`
	Level             int       `json:"level"`
	RejectedBy        string    `json:"rejected_by"`
	Reason            string    `json:"reason"`
	RejectedAt        time.Time `json:"rejected_at"`
}

type StatusChanged struct {
	ApplicationID string    `json:"application_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Command       string    `json:"command"`
	ActorID       string    `json:"actor_id,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

type AssetIssued struct {
	ApplicationID     string    `json:"application_id"`
	ApplicationNumber string    `json:"application_number"`
	AssetIDs          []string  `json:"asset_ids"`
	IssuedBy          string    `json:"issued_by"`
	IssuedAt          time.Time `json:"issued_at"`
	ReturnDueAt       time.Time `json:"return_due_at"`
}

type ReturnedItem struct {
	AssetID      string `json:"asset_id"`
	Condition    string `json:"condition"`
	DamageReport string `json:"damage_report,omitempty"`
}

type AssetReturned struct {
	ApplicationID       string         `json:"application_id"`
	ApplicationNumber   string         `json:"application_number"`
	ReturnedBy          string         `json:"returned_by"`
	Items               []ReturnedItem `json:"items"`
	MaintenanceRequired bool           `json:"maintenance_required"`
	ReturnedAt          time.Time      `json:"returned_at"`
}

type SlaCrossed struct {
	ApplicationID string    `json:"application_id"`
	Kind          string    `json:"kind"`
	Level         string    `json:"level"`
	DueAt         time.Time `json:"due_at"`
	ElapsedPct    int       `json:"elapsed_pct"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

type DamageLinked struct {
	ApplicationID     string    `json:"application_id"`
	ApplicationNumber string    `json:"application_number"`
	LinkID            string    `json:"link_id"`
	AssetID           string    `json:"asset_id"`
	Category          string    `json:"category,omitempty"`
	Condition         string    `json:"condition"`
	Description       string    `json:"description,omitempty"`
	ReportedBy        string    `json:"reported_by"`
	ReportedAt        time.Time `json:"reported_at"`
}

type TransactionRecorded struct {
	TransactionID   string    `json:"transaction_id"`
	ApplicationID   string    `json:"application_id"`
	Type            string    `json:"type"`
	ActorID         string    `json:"actor_id"`
	AssetID         string    `json:"asset_id,omitempty"`
	ConditionBefore string    `json:"condition_before,omitempty"`
	ConditionAfter  string    `json:"condition_after,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type HelpdeskTicketRecorded struct {
	ApplicationID string    `json:"application_id"`
	LinkID        string    `json:"link_id"`
	TicketID      string    `json:"ticket_id"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// NewLoanEvent wraps a typed payload into a BaseEvent for the application.
func NewLoanEvent(eventType, applicationID string, payload interface{}, at time.Time) (*BaseEvent, error) {
	data, err := toData(payload)
	if err != nil {
		return nil, fmt.Errorf("build %s event: %w", eventType, err)
	}
	return &BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Aggregate: applicationID,
		Timestamp: at,
		Data:      data,
	}, nil
}

func toData(payload interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}
