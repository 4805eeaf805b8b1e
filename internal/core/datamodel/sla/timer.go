package sla

import "time"

type Timer struct {
	ApplicationID string     `gorm:"column:application_id;primaryKey"`
	Kind          string     `gorm:"column:kind;primaryKey"`
	Mode          string     `gorm:"column:mode;not null"`
	State         string     `gorm:"column:state;index;not null"`
	StartedAt     time.Time  `gorm:"column:started_at;not null"`
	DueAt         time.Time  `gorm:"column:due_at;not null"`
	WindowMinutes int        `gorm:"column:window_minutes;not null"`
	PausedAt      *time.Time `gorm:"column:paused_at"`
	PausedMinutes int        `gorm:"column:paused_minutes;not null"`
	LastLevel     string     `gorm:"column:last_level;not null"`
	StoppedAt     *time.Time `gorm:"column:stopped_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Timer) TableName() string {
	return "sla_timers"
}
