package linkage

import (
	"time"

	"gorm.io/datatypes"
)

type Link struct {
	ID             string         `gorm:"column:id;primaryKey"`
	LinkType       string         `gorm:"column:link_type;not null"`
	SourceModule   string         `gorm:"column:source_module;not null"`
	SourceEntityID string         `gorm:"column:source_entity_id;index;not null"`
	TargetModule   *string        `gorm:"column:target_module"`
	TargetEntityID *string        `gorm:"column:target_entity_id"`
	AssetID        *string        `gorm:"column:asset_id"`
	TriggerEvent   string         `gorm:"column:trigger_event;not null"`
	Snapshot       datatypes.JSON `gorm:"column:snapshot"`
	DedupeKey      string         `gorm:"column:dedupe_key;uniqueIndex;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Link) TableName() string {
	return "cross_module_links"
}
