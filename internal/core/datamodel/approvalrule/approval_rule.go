package approvalrule

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ApprovalRule struct {
	ID              string              `gorm:"column:id;primaryKey"`
	Name            string              `gorm:"column:name;not null"`
	Priority        int                 `gorm:"column:priority;not null"`
	Position        int                 `gorm:"column:position;not null"`
	MinValue        decimal.Decimal     `gorm:"column:min_value;type:numeric(18,2);not null"`
	MaxValue        decimal.NullDecimal `gorm:"column:max_value;type:numeric(18,2)"`
	MinGrade        *int                `gorm:"column:min_grade"`
	MaxGrade        *int                `gorm:"column:max_grade"`
	MinDurationDays *int                `gorm:"column:min_duration_days"`
	MaxDurationDays *int                `gorm:"column:max_duration_days"`
	Categories      []string            `gorm:"column:categories;serializer:json"`
	Approvers       datatypes.JSON      `gorm:"column:approvers;not null"`
	Active          bool                `gorm:"column:active;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (ApprovalRule) TableName() string {
	return "approval_rules"
}
