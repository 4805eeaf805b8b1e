package sla

import (
	"context"
	"fmt"
	"time"

	slaDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/sla"
)

type Kind string

const (
	KindResponse   Kind = "response_due"
	KindResolution Kind = "resolution_due"
	KindReturn     Kind = "return_due"
)

type Mode string

const (
	ModeWallClock     Mode = "wall_clock"
	ModeBusinessHours Mode = "business_hours"
)

func ParseMode(v string) (Mode, error) {
	switch Mode(v) {
	case ModeWallClock, ModeBusinessHours:
		return Mode(v), nil
	}
	return "", fmt.Errorf("unknown sla mode %q", v)
}

type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Level is the evaluated health of a timer. Levels only move forward until
// the timer is explicitly started or resumed again.
type Level string

const (
	LevelOK       Level = "ok"
	LevelAtRisk   Level = "at_risk"
	LevelBreached Level = "breached"
)

func (l Level) rank() int {
	switch l {
	case LevelAtRisk:
		return 1
	case LevelBreached:
		return 2
	}
	return 0
}

type Timer struct {
	ApplicationID string     `json:"application_id"`
	Kind          Kind       `json:"kind"`
	Mode          Mode       `json:"mode"`
	State         State      `json:"state"`
	StartedAt     time.Time  `json:"started_at"`
	DueAt         time.Time  `json:"due_at"`
	WindowMinutes int        `json:"window_minutes"`
	PausedAt      *time.Time `json:"paused_at,omitempty"`
	PausedMinutes int        `json:"paused_minutes"`
	LastLevel     Level      `json:"last_level"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

func (t *Timer) IsActive() bool {
	return t.State == StateRunning || t.State == StatePaused
}

// Crossing is one boundary a timer passed during an evaluation.
type Crossing struct {
	ApplicationID string
	Kind          Kind
	Level         Level
	DueAt         time.Time
	EvaluatedAt   time.Time
	ElapsedPct    int
}

// Store persists timers. Implementations are bound to the caller's
// transaction so timer changes commit together with the state change.
type Store interface {
	Get(ctx context.Context, applicationID string, kind Kind) (*Timer, error)
	Save(ctx context.Context, t *Timer) error
	ListByApplication(ctx context.Context, applicationID string) ([]*Timer, error)
}

func ToDataModel(t *Timer) *slaDatamodel.Timer {
	return &slaDatamodel.Timer{
		ApplicationID: t.ApplicationID,
		Kind:          string(t.Kind),
		Mode:          string(t.Mode),
		State:         string(t.State),
		StartedAt:     t.StartedAt,
		DueAt:         t.DueAt,
		WindowMinutes: t.WindowMinutes,
		PausedAt:      t.PausedAt,
		PausedMinutes: t.PausedMinutes,
		LastLevel:     string(t.LastLevel),
		StoppedAt:     t.StoppedAt,
	}
}

func FromDataModel(row *slaDatamodel.Timer) *Timer {
	return &Timer{
		ApplicationID: row.ApplicationID,
		Kind:          Kind(row.Kind),
		Mode:          Mode(row.Mode),
		State:         State(row.State),
		StartedAt:     row.StartedAt,
		DueAt:         row.DueAt,
		WindowMinutes: row.WindowMinutes,
		PausedAt:      row.PausedAt,
		PausedMinutes: row.PausedMinutes,
		LastLevel:     Level(row.LastLevel),
		StoppedAt:     row.StoppedAt,
	}
}
