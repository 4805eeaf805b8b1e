package calendar

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/frahmantamala/asset-loan/internal"
)

const dateLayout = "2006-01-02"

// maxScanDays bounds the day-by-day walk so a calendar whose working days are
// all covered by holidays fails instead of looping.
const maxScanDays = 3660

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// BusinessCalendar answers whether an instant is within configured opening
// hours and does deadline arithmetic that only advances while open.
type BusinessCalendar struct {
	location    *time.Location
	openMinute  int
	closeMinute int
	workingDays map[time.Weekday]bool
	holidays    map[string]bool
}

func New(timezone, openTime, closeTime string, workingDays, holidays []string) (*BusinessCalendar, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, misconfigured(fmt.Sprintf("unknown timezone %q", timezone))
	}

	open, err := parseClock(openTime)
	if err != nil {
		return nil, err
	}
	closing, err := parseClock(closeTime)
	if err != nil {
		return nil, err
	}

	cal := &BusinessCalendar{
		location:    loc,
		openMinute:  open,
		closeMinute: closing,
		workingDays: make(map[time.Weekday]bool),
		holidays:    make(map[string]bool),
	}

	for _, d := range workingDays {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdayNames[key]
		if !ok {
			return nil, misconfigured(fmt.Sprintf("unknown working day %q", d))
		}
		cal.workingDays[wd] = true
	}

	for _, h := range holidays {
		day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(h), loc)
		if err != nil {
			return nil, misconfigured(fmt.Sprintf("invalid holiday %q", h))
		}
		cal.holidays[day.Format(dateLayout)] = true
	}

	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// FromConfig builds the calendar from the inline section, or from the YAML
// file it points to.
func FromConfig(cfg internal.CalendarConfig) (*BusinessCalendar, error) {
	if cfg.File != "" {
		return LoadFile(cfg.File)
	}
	return New(cfg.Timezone, cfg.OpenTime, cfg.CloseTime, cfg.WorkingDays, cfg.Holidays)
}

func (c *BusinessCalendar) Validate() error {
	if c.location == nil {
		return misconfigured("calendar has no location")
	}
	if c.closeMinute <= c.openMinute {
		return misconfigured("close time must be after open time")
	}
	if len(c.workingDays) == 0 {
		return misconfigured("calendar has zero working days")
	}
	return nil
}

func (c *BusinessCalendar) Location() *time.Location {
	return c.location
}

// IsBusinessDay reports whether the local day of t is a working, non-holiday day.
func (c *BusinessCalendar) IsBusinessDay(t time.Time) bool {
	local := t.In(c.location)
	if !c.workingDays[local.Weekday()] {
		return false
	}
	return !c.holidays[local.Format(dateLayout)]
}

func (c *BusinessCalendar) IsOpen(t time.Time) bool {
	if !c.IsBusinessDay(t) {
		return false
	}
	m := minuteOfDay(t.In(c.location))
	return m >= c.openMinute && m < c.closeMinute
}

// NextOpen returns t when the calendar is open at t, otherwise the start of
// the next opening window.
func (c *BusinessCalendar) NextOpen(t time.Time) (time.Time, error) {
	local := t.In(c.location)
	for i := 0; i < maxScanDays; i++ {
		if c.IsBusinessDay(local) {
			open := c.at(local, c.openMinute)
			closing := c.at(local, c.closeMinute)
			if local.Before(open) {
				return open, nil
			}
			if local.Before(closing) {
				return local, nil
			}
		}
		local = c.at(local.AddDate(0, 0, 1), 0)
	}
	return time.Time{}, misconfigured("no business day found within scan window")
}

// AddBusinessMinutes advances start by the given number of open minutes. A
// start outside business hours is first moved to the next opening.
func (c *BusinessCalendar) AddBusinessMinutes(start time.Time, minutes int) (time.Time, error) {
	if err := c.Validate(); err != nil {
		return time.Time{}, err
	}
	cur, err := c.NextOpen(start)
	if err != nil {
		return time.Time{}, err
	}
	remaining := minutes

	for i := 0; i < maxScanDays; i++ {
		closing := c.at(cur, c.closeMinute)
		available := int(closing.Sub(cur) / time.Minute)
		if remaining <= available {
			return cur.Add(time.Duration(remaining) * time.Minute), nil
		}
		remaining -= available
		cur, err = c.NextOpen(closing)
		if err != nil {
			return time.Time{}, err
		}
	}
	return time.Time{}, misconfigured("business minute arithmetic exceeded scan window")
}

// BusinessMinutesBetween counts open minutes in [from, to).
func (c *BusinessCalendar) BusinessMinutesBetween(from, to time.Time) (int, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if !to.After(from) {
		return 0, nil
	}

	total := 0
	day := c.at(from.In(c.location), 0)
	end := to.In(c.location)
	for i := 0; !day.After(end); i++ {
		if i > maxScanDays*10 {
			return 0, misconfigured("business minute count exceeded scan window")
		}
		if c.IsBusinessDay(day) {
			open := c.at(day, c.openMinute)
			closing := c.at(day, c.closeMinute)
			lo := maxTime(open, from)
			hi := minTime(closing, to)
			if hi.After(lo) {
				total += int(hi.Sub(lo) / time.Minute)
			}
		}
		day = c.at(day.AddDate(0, 0, 1), 0)
	}
	return total, nil
}

func (c *BusinessCalendar) at(t time.Time, minute int) time.Time {
	local := t.In(c.location)
	y, m, d := local.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, c.location)
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, misconfigured(fmt.Sprintf("invalid clock time %q", v))
	}
	return t.Hour()*60 + t.Minute(), nil
}

func misconfigured(msg string) *internal.AppError {
	return internal.NewConfigurationError(msg, internal.ErrCodeCalendarMisconfigured)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
