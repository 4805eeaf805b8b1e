package loan

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Application struct {
	ID                     string          `gorm:"column:id;primaryKey"`
	Number                 string          `gorm:"column:application_number;uniqueIndex;not null"`
	ApplicantName          string          `gorm:"column:applicant_name;not null"`
	ApplicantEmail         string          `gorm:"column:applicant_email;not null"`
	ApplicantPhone         string          `gorm:"column:applicant_phone"`
	StaffID                string          `gorm:"column:staff_id"`
	ApplicantUserID        *string         `gorm:"column:applicant_user_id;index"`
	Division               string          `gorm:"column:division"`
	Grade                  int             `gorm:"column:grade"`
	Purpose                string          `gorm:"column:purpose"`
	Location               string          `gorm:"column:location"`
	StartDate              time.Time       `gorm:"column:loan_start_date;type:date;not null"`
	EndDate                time.Time       `gorm:"column:loan_end_date;type:date;not null"`
	Priority               string          `gorm:"column:priority;not null"`
	TotalValue             decimal.Decimal `gorm:"column:total_value;type:numeric(18,2);not null"`
	Status                 string          `gorm:"column:status;index;not null"`
	RequiredLevels         datatypes.JSON  `gorm:"column:required_levels"`
	ApprovalTokenHash      *string         `gorm:"column:approval_token_hash"`
	ApprovalTokenExpiresAt *time.Time      `gorm:"column:approval_token_expires_at;index"`
	ApprovedBy             *string         `gorm:"column:approved_by"`
	ApprovedAt             *time.Time      `gorm:"column:approved_at"`
	ApprovalRemarks        *string         `gorm:"column:approval_remarks"`
	RejectionReason        *string         `gorm:"column:rejection_reason"`
	MaintenanceRequired    bool            `gorm:"column:maintenance_required;not null"`
	RelatedTicketIDs       []string        `gorm:"column:related_ticket_ids;serializer:json"`
	SubmittedAt            *time.Time      `gorm:"column:submitted_at"`
	IssuedAt               *time.Time      `gorm:"column:issued_at"`
	ReturnedAt             *time.Time      `gorm:"column:returned_at"`
	CompletedAt            *time.Time      `gorm:"column:completed_at"`
	AnonymizedAt           *time.Time      `gorm:"column:anonymized_at"`
	ClaimedAt              *time.Time      `gorm:"column:claimed_at"`
	Items                  []Item          `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Application) TableName() string {
	return "loan_applications"
}

type Item struct {
	ID                  string          `gorm:"column:id;primaryKey"`
	ApplicationID       string          `gorm:"column:application_id;index;not null"`
	AssetID             string          `gorm:"column:asset_id;index;not null"`
	Category            string          `gorm:"column:category"`
	Quantity            int             `gorm:"column:quantity;not null"`
	UnitValue           decimal.Decimal `gorm:"column:unit_value;type:numeric(18,2);not null"`
	TotalValue          decimal.Decimal `gorm:"column:total_value;type:numeric(18,2);not null"`
	ConditionBefore     *string         `gorm:"column:condition_before"`
	ConditionAfter      *string         `gorm:"column:condition_after"`
	AccessoriesIssued   []string        `gorm:"column:accessories_issued;serializer:json"`
	AccessoriesReturned []string        `gorm:"column:accessories_returned;serializer:json"`
	DamageReport        *string         `gorm:"column:damage_report"`
	Position            int             `gorm:"column:position;not null"`
}

func (Item) TableName() string {
	return "loan_items"
}

type Transaction struct {
	ID              string    `gorm:"column:id;primaryKey"`
	ApplicationID   string    `gorm:"column:application_id;index;not null"`
	Type            string    `gorm:"column:transaction_type;not null"`
	ActorID         string    `gorm:"column:actor_id;not null"`
	AssetID         *string   `gorm:"column:asset_id"`
	ConditionBefore *string   `gorm:"column:condition_before"`
	ConditionAfter  *string   `gorm:"column:condition_after"`
	Notes           string    `gorm:"column:notes"`
	OccurredAt      time.Time `gorm:"column:occurred_at;not null"`
}

func (Transaction) TableName() string {
	return "loan_transactions"
}

type Decision struct {
	ID            string    `gorm:"column:id;primaryKey"`
	ApplicationID string    `gorm:"column:application_id;uniqueIndex:idx_decision_level;not null"`
	Level         int       `gorm:"column:level;uniqueIndex:idx_decision_level;not null"`
	Decision      string    `gorm:"column:decision;not null"`
	ActorID       string    `gorm:"column:actor_id;not null"`
	Remarks       string    `gorm:"column:remarks"`
	DecidedAt     time.Time `gorm:"column:decided_at;not null"`
}

func (Decision) TableName() string {
	return "approval_decisions"
}

type NumberSequence struct {
	Prefix    string `gorm:"column:prefix;primaryKey"`
	Period    string `gorm:"column:period;primaryKey"`
	LastValue int    `gorm:"column:last_value;not null"`
}

func (NumberSequence) TableName() string {
	return "loan_number_sequences"
}
