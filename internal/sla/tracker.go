package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/calendar"
)

type Config struct {
	ResponseHours        int
	ResolutionHours      int
	Mode                 Mode
	RiskThresholdPercent int
}

func ConfigFromSettings(cfg internal.SLAConfig) (Config, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return Config{}, internal.NewConfigurationError(err.Error(), internal.ErrCodeCalendarMisconfigured)
	}
	return Config{
		ResponseHours:        cfg.ResponseHours,
		ResolutionHours:      cfg.ResolutionHours,
		Mode:                 mode,
		RiskThresholdPercent: cfg.RiskThresholdPercent,
	}, nil
}

// Tracker computes and evaluates deadline timers. It holds no timer state of
// its own; every operation reads and writes through the given Store.
type Tracker struct {
	cfg      Config
	calendar *calendar.BusinessCalendar
}

func NewTracker(cfg Config, cal *calendar.BusinessCalendar) (*Tracker, error) {
	if cfg.RiskThresholdPercent <= 0 || cfg.RiskThresholdPercent > 100 {
		return nil, internal.NewConfigurationError(
			fmt.Sprintf("risk threshold must be within 1..100, got %d", cfg.RiskThresholdPercent),
			internal.ErrCodeCalendarMisconfigured)
	}
	if cfg.Mode == ModeBusinessHours {
		if cal == nil {
			return nil, internal.NewConfigurationError("business hours mode needs a calendar", internal.ErrCodeCalendarMisconfigured)
		}
		if err := cal.Validate(); err != nil {
			return nil, err
		}
	}
	return &Tracker{cfg: cfg, calendar: cal}, nil
}

func (tr *Tracker) windowMinutes(kind Kind) int {
	switch kind {
	case KindResponse:
		return tr.cfg.ResponseHours * 60
	case KindResolution:
		return tr.cfg.ResolutionHours * 60
	}
	return 0
}

// Start begins a timer for kind at ref. A timer that is already running or
// paused is returned unchanged.
func (tr *Tracker) Start(ctx context.Context, store Store, applicationID string, kind Kind, ref time.Time) (*Timer, error) {
	existing, err := store.Get(ctx, applicationID, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsActive() {
		return existing, nil
	}

	window := tr.windowMinutes(kind)
	if window <= 0 {
		return nil, internal.NewConfigurationError(fmt.Sprintf("no window configured for %s", kind), internal.ErrCodeCalendarMisconfigured)
	}

	start := truncate(ref)
	due, err := tr.addMinutes(tr.cfg.Mode, start, window)
	if err != nil {
		return nil, err
	}

	t := &Timer{
		ApplicationID: applicationID,
		Kind:          kind,
		Mode:          tr.cfg.Mode,
		State:         StateRunning,
		StartedAt:     start,
		DueAt:         due,
		WindowMinutes: window,
		LastLevel:     LevelOK,
	}
	if err := store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// StartWithDue begins a wall-clock timer with a fixed due timestamp.
func (tr *Tracker) StartWithDue(ctx context.Context, store Store, applicationID string, kind Kind, ref, due time.Time) (*Timer, error) {
	existing, err := store.Get(ctx, applicationID, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsActive() {
		return existing, nil
	}

	start := truncate(ref)
	t := &Timer{
		ApplicationID: applicationID,
		Kind:          kind,
		Mode:          ModeWallClock,
		State:         StateRunning,
		StartedAt:     start,
		DueAt:         truncate(due),
		WindowMinutes: wallMinutes(start, truncate(due)),
		LastLevel:     LevelOK,
	}
	if err := store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Reschedule moves the due timestamp of an active timer and re-derives its
// level at now without emitting crossings.
func (tr *Tracker) Reschedule(ctx context.Context, store Store, applicationID string, kind Kind, due, now time.Time) (*Timer, error) {
	t, err := store.Get(ctx, applicationID, kind)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.IsActive() {
		return t, nil
	}

	t.DueAt = truncate(due)
	if t.Mode == ModeWallClock {
		t.WindowMinutes = wallMinutes(t.StartedAt, t.DueAt) - t.PausedMinutes
	}
	level, _, err := tr.levelAt(t, now)
	if err != nil {
		return nil, err
	}
	t.LastLevel = level
	if err := store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Pause freezes a running timer. Other states are left alone.
func (tr *Tracker) Pause(ctx context.Context, store Store, applicationID string, kind Kind, at time.Time) error {
	t, err := store.Get(ctx, applicationID, kind)
	if err != nil || t == nil || t.State != StateRunning {
		return err
	}
	pausedAt := truncate(at)
	t.State = StatePaused
	t.PausedAt = &pausedAt
	return store.Save(ctx, t)
}

// Resume restarts a paused timer and pushes its due timestamp out by the
// time spent paused, measured in the timer's own mode.
func (tr *Tracker) Resume(ctx context.Context, store Store, applicationID string, kind Kind, at time.Time) error {
	t, err := store.Get(ctx, applicationID, kind)
	if err != nil || t == nil || t.State != StatePaused {
		return err
	}

	resumedAt := truncate(at)
	paused := 0
	if t.PausedAt != nil && resumedAt.After(*t.PausedAt) {
		paused, err = tr.minutesBetween(t.Mode, *t.PausedAt, resumedAt)
		if err != nil {
			return err
		}
	}
	if paused > 0 {
		due, err := tr.addMinutes(t.Mode, t.DueAt, paused)
		if err != nil {
			return err
		}
		t.DueAt = due
		t.PausedMinutes += paused
	}
	t.State = StateRunning
	t.PausedAt = nil

	level, _, err := tr.levelAt(t, resumedAt)
	if err != nil {
		return err
	}
	t.LastLevel = level
	return store.Save(ctx, t)
}

func (tr *Tracker) Stop(ctx context.Context, store Store, applicationID string, kind Kind, at time.Time) error {
	t, err := store.Get(ctx, applicationID, kind)
	if err != nil || t == nil || !t.IsActive() {
		return err
	}
	stoppedAt := truncate(at)
	t.State = StateStopped
	t.StoppedAt = &stoppedAt
	t.PausedAt = nil
	return store.Save(ctx, t)
}

// StopAll stops every active timer of an application.
func (tr *Tracker) StopAll(ctx context.Context, store Store, applicationID string, at time.Time) error {
	timers, err := store.ListByApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	for _, t := range timers {
		if err := tr.Stop(ctx, store, applicationID, t.Kind, at); err != nil {
			return err
		}
	}
	return nil
}

// Observe evaluates a single timer at now and advances its LastLevel. Each
// boundary yields one crossing the first time it is passed; a jump from ok
// straight to breached yields both.
func (tr *Tracker) Observe(t *Timer, now time.Time) ([]Crossing, error) {
	if t.State != StateRunning {
		return nil, nil
	}
	level, pct, err := tr.levelAt(t, now)
	if err != nil {
		return nil, err
	}
	if level.rank() <= t.LastLevel.rank() {
		return nil, nil
	}

	var crossings []Crossing
	for _, l := range []Level{LevelAtRisk, LevelBreached} {
		if l.rank() > t.LastLevel.rank() && l.rank() <= level.rank() {
			crossings = append(crossings, Crossing{
				ApplicationID: t.ApplicationID,
				Kind:          t.Kind,
				Level:         l,
				DueAt:         t.DueAt,
				EvaluatedAt:   truncate(now),
				ElapsedPct:    pct,
			})
		}
	}
	t.LastLevel = level
	return crossings, nil
}

// Evaluate observes every running timer of an application and persists the
// new levels so a repeated sweep never reports the same crossing twice.
func (tr *Tracker) Evaluate(ctx context.Context, store Store, applicationID string, now time.Time) ([]Crossing, error) {
	timers, err := store.ListByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	var all []Crossing
	for _, t := range timers {
		crossings, err := tr.Observe(t, now)
		if err != nil {
			return nil, err
		}
		if len(crossings) == 0 {
			continue
		}
		if err := store.Save(ctx, t); err != nil {
			return nil, err
		}
		all = append(all, crossings...)
	}
	return all, nil
}

// LevelAt reports the level of t at now without changing it.
func (tr *Tracker) LevelAt(t *Timer, now time.Time) (Level, error) {
	if t.State == StatePaused {
		return t.LastLevel, nil
	}
	level, _, err := tr.levelAt(t, now)
	return level, err
}

func (tr *Tracker) levelAt(t *Timer, now time.Time) (Level, int, error) {
	now = truncate(now)
	if now.After(t.DueAt) {
		return LevelBreached, 100, nil
	}
	if t.WindowMinutes <= 0 {
		return LevelOK, 0, nil
	}

	remaining, err := tr.minutesBetween(t.Mode, now, t.DueAt)
	if err != nil {
		return "", 0, err
	}
	elapsed := t.WindowMinutes - remaining
	if elapsed < 0 {
		elapsed = 0
	}
	pct := elapsed * 100 / t.WindowMinutes
	if pct >= tr.cfg.RiskThresholdPercent {
		return LevelAtRisk, pct, nil
	}
	return LevelOK, pct, nil
}

func (tr *Tracker) addMinutes(mode Mode, from time.Time, minutes int) (time.Time, error) {
	if mode == ModeBusinessHours {
		return tr.calendar.AddBusinessMinutes(from, minutes)
	}
	return from.Add(time.Duration(minutes) * time.Minute), nil
}

func (tr *Tracker) minutesBetween(mode Mode, from, to time.Time) (int, error) {
	if mode == ModeBusinessHours {
		return tr.calendar.BusinessMinutesBetween(from, to)
	}
	return wallMinutes(from, to), nil
}

func wallMinutes(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / time.Minute)
}

func truncate(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
