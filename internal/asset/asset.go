package asset

import (
	"time"

	"github.com/shopspring/decimal"

	assetDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/asset"
)

type Status string

const (
	StatusAvailable     Status = "available"
	StatusInMaintenance Status = "in_maintenance"
	StatusRetired       Status = "retired"
)

type Asset struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	SerialNumber string          `json:"serial_number,omitempty"`
	Location     string          `json:"location,omitempty"`
	UnitValue    decimal.Decimal `json:"unit_value"`
	Status       Status          `json:"status"`
	StatusNote   string          `json:"status_note,omitempty"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsLendable reports whether the catalogue allows the asset to go out at all.
// Reservations by other loans are checked separately.
func (a *Asset) IsLendable() bool {
	return a.IsActive && a.Status == StatusAvailable
}

func (a *Asset) SendToMaintenance(note string, now time.Time) {
	a.Status = StatusInMaintenance
	a.StatusNote = note
	a.UpdatedAt = now
}

func (a *Asset) Restore(now time.Time) {
	a.Status = StatusAvailable
	a.StatusNote = ""
	a.UpdatedAt = now
}

func (a *Asset) Retire(now time.Time) {
	a.Status = StatusRetired
	a.IsActive = false
	a.UpdatedAt = now
}

func NewAsset(id, name, category string, unitValue decimal.Decimal) *Asset {
	now := time.Now()
	return &Asset{
		ID:        id,
		Name:      name,
		Category:  category,
		UnitValue: unitValue,
		Status:    StatusAvailable,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ToDataModel(a *Asset) *assetDatamodel.Asset {
	return &assetDatamodel.Asset{
		ID:           a.ID,
		Name:         a.Name,
		Category:     a.Category,
		SerialNumber: a.SerialNumber,
		Location:     a.Location,
		UnitValue:    a.UnitValue,
		Status:       string(a.Status),
		StatusNote:   a.StatusNote,
		IsActive:     a.IsActive,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func FromDataModel(a *assetDatamodel.Asset) *Asset {
	return &Asset{
		ID:           a.ID,
		Name:         a.Name,
		Category:     a.Category,
		SerialNumber: a.SerialNumber,
		Location:     a.Location,
		UnitValue:    a.UnitValue,
		Status:       Status(a.Status),
		StatusNote:   a.StatusNote,
		IsActive:     a.IsActive,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
