package outbox

import (
	"time"

	"gorm.io/datatypes"
)

type Message struct {
	Sequence     int64          `gorm:"column:sequence;primaryKey;autoIncrement"`
	EventID      string         `gorm:"column:event_id;uniqueIndex;not null"`
	AggregateID  string         `gorm:"column:aggregate_id;index;not null"`
	EventType    string         `gorm:"column:event_type;not null"`
	Payload      datatypes.JSON `gorm:"column:payload;not null"`
	OccurredAt   time.Time      `gorm:"column:occurred_at;not null"`
	DispatchedAt *time.Time     `gorm:"column:dispatched_at;index"`
	Attempts     int            `gorm:"column:attempts;not null"`
	LastError    *string        `gorm:"column:last_error"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName() string {
	return "outbox_messages"
}
