package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Closed date range
// =============================================================================

// Period is a closed date range [Start, End]. Commitments, forecasts and
// P&L queries are all expressed as periods.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if t falls within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps returns true if the two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return !p.Start.After(other.End) && !p.End.Before(other.Start)
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool { return !p.End.Before(p.Start) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthPeriod returns the period spanning one calendar month.
func MonthPeriod(year int, month time.Month) Period {
	start := NewTimePoint(year, month, 1)
	end := TimePoint{Time: time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
	return Period{Start: start, End: end}
}

// =============================================================================
// FISCAL YEAR - Label derivation for ledger entries and rate lookup
// =============================================================================

// DefaultFiscalYearStart is the month a fiscal year begins when the host has
// not configured one. April matches the ledger convention this engine
// inherited: April 2026 falls in FY2027, March 2026 in FY2026.
const DefaultFiscalYearStart = time.April

// FiscalYearLabel returns the fiscal-year label for a calendar month. Months
// before the start month belong to the current calendar year's label; months
// at or after it belong to the next.
func FiscalYearLabel(year int, month time.Month, startMonth time.Month) string {
	if startMonth < time.January || startMonth > time.December {
		startMonth = DefaultFiscalYearStart
	}
	if month >= startMonth && startMonth != time.January {
		year++
	}
	return fmt.Sprintf("FY%d", year)
}

// FiscalYearOf returns the fiscal-year label a date falls into.
func FiscalYearOf(t TimePoint, startMonth time.Month) string {
	return FiscalYearLabel(t.Year(), t.Month(), startMonth)
}

// FiscalYearPeriod returns the full period covered by the fiscal year that
// contains the given date.
func FiscalYearPeriod(t TimePoint, startMonth time.Month) Period {
	if startMonth < time.January || startMonth > time.December {
		startMonth = DefaultFiscalYearStart
	}
	year := t.Year()
	start := NewTimePoint(year, startMonth, 1)
	if t.Before(start) {
		start = NewTimePoint(year-1, startMonth, 1)
	}
	end := TimePoint{Time: start.Time.AddDate(1, 0, -1)}
	return Period{Start: start, End: end}
}
