package loan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/core/common/validation"
)

const dateLayout = "2006-01-02"

// Date is a calendar day carried as YYYY-MM-DD on the wire.
type Date struct {
	time.Time
}

func NewDate(y int, m time.Month, d int) Date {
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(v string) (Date, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return Date{}, internal.NewValidationFieldError("date", fmt.Sprintf("%q is not a YYYY-MM-DD date", v), internal.ErrCodeInvalidDate)
	}
	return Date{t}, nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type CreateItemDTO struct {
	AssetID     string   `json:"asset_id"`
	Category    string   `json:"category"`
	Quantity    int      `json:"quantity"`
	UnitValue   string   `json:"unit_value"`
	TotalValue  string   `json:"total_value"`
	Condition   string   `json:"condition,omitempty"`
	Accessories []string `json:"accessories,omitempty"`
}

type CreateApplicationDTO struct {
	ApplicantName   string          `json:"applicant_name"`
	ApplicantEmail  string          `json:"applicant_email"`
	ApplicantPhone  string          `json:"applicant_phone,omitempty"`
	StaffID         string          `json:"staff_id,omitempty"`
	ApplicantUserID *string         `json:"-"`
	Division        string          `json:"division,omitempty"`
	Grade           int             `json:"grade"`
	Purpose         string          `json:"purpose"`
	Location        string          `json:"location,omitempty"`
	StartDate       Date            `json:"loan_start_date"`
	EndDate         Date            `json:"loan_end_date"`
	Priority        string          `json:"priority,omitempty"`
	TotalValue      string          `json:"total_value"`
	Items           []CreateItemDTO `json:"items"`
	Submit          bool            `json:"submit,omitempty"`
}

func (dto CreateApplicationDTO) priority() Priority {
	if dto.Priority == "" {
		return PriorityNormal
	}
	return Priority(dto.Priority)
}

func (dto CreateApplicationDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("applicant_name", strings.TrimSpace(dto.ApplicantName)).Required().MaxLength(255)
	v.Field("applicant_email", strings.TrimSpace(dto.ApplicantEmail)).Required().Email()
	v.Field("purpose", strings.TrimSpace(dto.Purpose)).Required().MaxLength(1000)
	v.Field("grade", dto.Grade).MinInt(0, internal.ErrCodeValidationFailed)
	v.Field("priority", dto.Priority).OneOf(string(PriorityLow), string(PriorityNormal), string(PriorityHigh), string(PriorityUrgent))
	v.Field("loan_start_date", dto.StartDate.Time).Required()
	v.Field("loan_end_date", dto.EndDate.Time).Required().NotBefore(dto.StartDate.Time, "loan_start_date")
	v.Field("total_value", dto.TotalValue).Required().Money(false)
	v.Field("items", len(dto.Items)).MinInt(1, internal.ErrCodeValidationFailed)

	seen := make(map[string]int, len(dto.Items))
	for i, item := range dto.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		v.Field(prefix+"asset_id", item.AssetID).Required().Custom(duplicateAsset(prefix+"asset_id", seen, i))
		v.Field(prefix+"quantity", item.Quantity).MinInt(1, internal.ErrCodeValidationFailed)
		v.Field(prefix+"unit_value", item.UnitValue).Required().Money(true)
		v.Field(prefix+"total_value", item.TotalValue).Required().Money(true)
		v.Field(prefix+"condition", item.Condition).OneOf(
			string(ConditionExcellent), string(ConditionGood), string(ConditionFair),
			string(ConditionPoor), string(ConditionDamaged))
	}

	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// duplicateAsset refuses an asset already listed on an earlier line. Items
// are addressed by asset id, so each asset appears once.
func duplicateAsset(field string, seen map[string]int, line int) func(interface{}) *internal.AppError {
	return func(value interface{}) *internal.AppError {
		id, _ := value.(string)
		id = strings.TrimSpace(id)
		if id == "" {
			return nil
		}
		if first, ok := seen[id]; ok {
			return internal.NewValidationFieldError(field,
				fmt.Sprintf("asset %s is already listed in items[%d]", id, first), internal.ErrCodeValidationFailed)
		}
		seen[id] = line
		return nil
	}
}

type ApproveDTO struct {
	Level   int    `json:"level"`
	Remarks string `json:"remarks,omitempty"`
}

func (dto ApproveDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("level", dto.Level).MinInt(1, internal.ErrCodeValidationFailed)
	v.Field("remarks", dto.Remarks).MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type RejectDTO struct {
	Level  int    `json:"level"`
	Reason string `json:"reason"`
}

func (dto RejectDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("level", dto.Level).MinInt(1, internal.ErrCodeValidationFailed)
	v.Field("reason", strings.TrimSpace(dto.Reason)).Required().MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type TokenApprovalDTO struct {
	Token   string `json:"token"`
	Remarks string `json:"remarks,omitempty"`
}

func (dto TokenApprovalDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("token", dto.Token).Required()
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type NoteDTO struct {
	Notes string `json:"notes,omitempty"`
}

type IssueItemDTO struct {
	AssetID     string   `json:"asset_id"`
	Condition   string   `json:"condition"`
	Accessories []string `json:"accessories,omitempty"`
}

type IssueDTO struct {
	Items []IssueItemDTO `json:"items,omitempty"`
	Notes string         `json:"notes,omitempty"`
}

func (dto IssueDTO) Validate() error {
	v := validation.NewValidator()
	seen := make(map[string]int, len(dto.Items))
	for i, item := range dto.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		v.Field(prefix+"asset_id", item.AssetID).Required().Custom(duplicateAsset(prefix+"asset_id", seen, i))
		v.Field(prefix+"condition", item.Condition).Required().OneOf(
			string(ConditionExcellent), string(ConditionGood), string(ConditionFair),
			string(ConditionPoor), string(ConditionDamaged))
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type ReturnItemDTO struct {
	AssetID      string   `json:"asset_id"`
	Condition    string   `json:"condition"`
	Accessories  []string `json:"accessories,omitempty"`
	DamageReport string   `json:"damage_report,omitempty"`
}

// ReturnDTO must carry a condition for every item of the application.
type ReturnDTO struct {
	Items []ReturnItemDTO `json:"items"`
	Notes string          `json:"notes,omitempty"`
}

func (dto ReturnDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("items", len(dto.Items)).MinInt(1, internal.ErrCodeValidationFailed)
	seen := make(map[string]int, len(dto.Items))
	for i, item := range dto.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		v.Field(prefix+"asset_id", item.AssetID).Required().Custom(duplicateAsset(prefix+"asset_id", seen, i))
		v.Field(prefix+"condition", item.Condition).Required().OneOf(
			string(ConditionExcellent), string(ConditionGood), string(ConditionFair),
			string(ConditionPoor), string(ConditionDamaged))
		v.Field(prefix+"damage_report", item.DamageReport).MaxLength(2000)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type ExtendDTO struct {
	NewEndDate    Date   `json:"new_end_date"`
	Justification string `json:"justification"`
}

func (dto ExtendDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("new_end_date", dto.NewEndDate.Time).Required()
	v.Field("justification", strings.TrimSpace(dto.Justification)).Required().MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type RecallDTO struct {
	Reason string `json:"reason"`
}

func (dto RecallDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("reason", strings.TrimSpace(dto.Reason)).Required().MaxLength(1000)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type LinkTicketDTO struct {
	TicketID string `json:"ticket_id"`
	LinkType string `json:"link_type"`
}

type ListQuery struct {
	Status string
	Mine   bool
	Limit  int
	Offset int
}

func (q ListQuery) Filter(actorID string) (ListFilter, error) {
	f := ListFilter{Limit: q.Limit, Offset: q.Offset}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if q.Status != "" {
		s, err := ParseStatus(q.Status)
		if err != nil {
			return ListFilter{}, err
		}
		f.Status = &s
	}
	if q.Mine && actorID != "" {
		f.ApplicantUserID = &actorID
	}
	return f, nil
}
