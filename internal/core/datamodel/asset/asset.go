package asset

import (
	"time"

	"github.com/shopspring/decimal"
)

type Asset struct {
	ID           string          `gorm:"column:id;primaryKey"`
	Name         string          `gorm:"column:name;not null"`
	Category     string          `gorm:"column:category;index;not null"`
	SerialNumber string          `gorm:"column:serial_number"`
	Location     string          `gorm:"column:location"`
	UnitValue    decimal.Decimal `gorm:"column:unit_value;type:numeric(18,2);not null"`
	Status       string          `gorm:"column:status;index;not null;default:available"`
	StatusNote   string          `gorm:"column:status_note"`
	IsActive     bool            `gorm:"column:is_active;default:true"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Asset) TableName() string {
	return "assets"
}
