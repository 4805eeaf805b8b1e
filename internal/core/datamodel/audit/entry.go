package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Entry struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	EventID     string         `gorm:"column:event_id;uniqueIndex;not null"`
	EventType   string         `gorm:"column:event_type;index;not null"`
	AggregateID string         `gorm:"column:aggregate_id;index;not null"`
	ActorID     string         `gorm:"column:actor_id"`
	Details     datatypes.JSON `gorm:"column:details"`
	OccurredAt  time.Time      `gorm:"column:occurred_at;not null"`
	RecordedAt  time.Time      `gorm:"column:recorded_at;autoCreateTime"`
}

func (Entry) TableName() string {
	return "audit_entries"
}
