package engine

import (
	"time"
)

// =============================================================================
// TIME POINT - Day-granularity time abstraction
// =============================================================================

// TimePoint is a calendar day in UTC. The engine never needs finer
// granularity: hours records, milestones and periods are all dated by day.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func NewTimePointFromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return NewTimePointFromTime(time.Now().UTC())
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.normalize().Weekday() }
func (tp TimePoint) IsWeekend() bool {
	wd := tp.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
func (tp TimePoint) IsZero() bool { return tp.Time.IsZero() }

func (tp TimePoint) String() string { return tp.normalize().Format("2006-01-02") }

// DaysBetween returns the whole days from one point to another (negative if
// to precedes from).
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// CALENDAR - Working-day lookup
// =============================================================================

// Calendar answers whether a date is a working day. Weekends are never
// working days; implementations additionally exclude externally supplied
// non-working dates (public holidays, shutdown days).
type Calendar interface {
	IsWorkingDay(date TimePoint) bool
}

// WeekendCalendar treats every weekday as working. Used when no non-working
// dates have been supplied.
type WeekendCalendar struct{}

func (WeekendCalendar) IsWorkingDay(date TimePoint) bool { return !date.IsWeekend() }

// HolidayCalendar excludes weekends plus a fixed set of dates.
type HolidayCalendar struct {
	nonWorking map[string]bool
}

func NewHolidayCalendar(dates ...TimePoint) *HolidayCalendar {
	m := make(map[string]bool, len(dates))
	for _, d := range dates {
		m[d.String()] = true
	}
	return &HolidayCalendar{nonWorking: m}
}

func (c *HolidayCalendar) IsWorkingDay(date TimePoint) bool {
	if date.IsWeekend() {
		return false
	}
	return !c.nonWorking[date.String()]
}

// WorkingDays counts working days in [start, end], both endpoints inclusive.
func WorkingDays(cal Calendar, start, end TimePoint) int {
	if cal == nil {
		cal = WeekendCalendar{}
	}
	count := 0
	for d := start; d.BeforeOrEqual(end); d = d.AddDays(1) {
		if cal.IsWorkingDay(d) {
			count++
		}
	}
	return count
}
