/*
capacity_test.go - Working-day capacity math tests

CORE DESIGN:
- Total available hours derive from the calendar, never from stored counters
- Both period endpoints count; weekends and supplied holidays do not
- Derived commitment fields are recomputed from source on every Recalculate
*/
package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/variance-engine/engine"
	"github.com/warp/variance-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// Shared by the other _test.go files in this package.

func tp(year int, month time.Month, day int) engine.TimePoint {
	return engine.NewTimePoint(year, month, day)
}

func tpp(year int, month time.Month, day int) *engine.TimePoint {
	t := tp(year, month, day)
	return &t
}

func hours(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// assertDecimal compares by value, not representation ("80" == "80.00").
func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "expected %s, got %s %v", want, got, msgAndArgs)
}

func weekdayCalc() *engine.CapacityCalculator {
	return &engine.CapacityCalculator{Calendar: engine.WeekendCalendar{}}
}

// marchWeek is Mon 2026-03-02 .. Fri 2026-03-06: 5 working days.
func marchWeek() engine.Period {
	return engine.Period{Start: tp(2026, time.March, 2), End: tp(2026, time.March, 6)}
}

func commitment(id string, res string, p engine.Period, cadence engine.Cadence, committed int64) engine.Commitment {
	return engine.Commitment{
		ID:             engine.CommitmentID(id),
		ResourceID:     engine.ResourceID(res),
		Period:         p,
		Cadence:        cadence,
		CommittedHours: hours(committed),
	}
}

// =============================================================================
// TOTAL AVAILABLE HOURS
// =============================================================================

func TestTotalAvailable_PerDay(t *testing.T) {
	// GIVEN: 8h/day over Mon-Fri (5 working days)
	// WHEN: Converting to total available hours
	// THEN: 8 * 5 = 40

	total, err := weekdayCalc().TotalAvailable(
		commitment("cmt-1", "res-1", marchWeek(), engine.CadencePerDay, 8))
	require.NoError(t, err)
	assertDecimal(t, "40", total)
}

func TestTotalAvailable_PerWeek(t *testing.T) {
	// GIVEN: 40h/week over two full working weeks (10 working days)
	// WHEN: Converting to total available hours
	// THEN: 40 * 10/5 = 80

	p := engine.Period{Start: tp(2026, time.March, 2), End: tp(2026, time.March, 13)}
	total, err := weekdayCalc().TotalAvailable(
		commitment("cmt-1", "res-1", p, engine.CadencePerWeek, 40))
	require.NoError(t, err)
	assertDecimal(t, "80", total)
}

func TestTotalAvailable_PerFortnight(t *testing.T) {
	// GIVEN: 40h/fortnight over four weeks (20 working days)
	// WHEN: Converting to total available hours
	// THEN: 40 * 20/10 = 80

	p := engine.Period{Start: tp(2026, time.March, 2), End: tp(2026, time.March, 27)}
	total, err := weekdayCalc().TotalAvailable(
		commitment("cmt-1", "res-1", p, engine.CadencePerFortnight, 40))
	require.NoError(t, err)
	assertDecimal(t, "80", total)
}

func TestTotalAvailable_EndpointsInclusive(t *testing.T) {
	// GIVEN: a single-day commitment (start == end, a Monday)
	// WHEN: Converting to total available hours
	// THEN: that one day counts

	p := engine.Period{Start: tp(2026, time.March, 2), End: tp(2026, time.March, 2)}
	total, err := weekdayCalc().TotalAvailable(
		commitment("cmt-1", "res-1", p, engine.CadencePerDay, 8))
	require.NoError(t, err)
	assertDecimal(t, "8", total)
}

func TestTotalAvailable_HolidayExcluded(t *testing.T) {
	// GIVEN: 8h/day over Mon-Fri with Wednesday a public holiday
	// WHEN: Converting with a holiday calendar
	// THEN: 4 working days remain, total = 32

	calc := &engine.CapacityCalculator{
		Calendar: engine.NewHolidayCalendar(tp(2026, time.March, 4)),
	}
	total, err := calc.TotalAvailable(
		commitment("cmt-1", "res-1", marchWeek(), engine.CadencePerDay, 8))
	require.NoError(t, err)
	assertDecimal(t, "32", total)
}

func TestTotalAvailable_InvalidRange(t *testing.T) {
	// GIVEN: a commitment whose period ends before it starts
	// WHEN: Converting to total available hours
	// THEN: rejected with ErrInvalidRange

	p := engine.Period{Start: tp(2026, time.March, 6), End: tp(2026, time.March, 2)}
	_, err := weekdayCalc().TotalAvailable(
		commitment("cmt-1", "res-1", p, engine.CadencePerDay, 8))
	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}

func TestTotalAvailable_UnknownCadence(t *testing.T) {
	// GIVEN: a commitment with an unrecognized cadence
	// WHEN: Converting to total available hours
	// THEN: rejected with a structured InvalidCadenceError

	_, err := weekdayCalc().TotalAvailable(
		commitment("cmt-1", "res-1", marchWeek(), engine.Cadence("per-lunar-cycle"), 8))
	assert.ErrorIs(t, err, engine.ErrInvalidCadence)

	var cadErr *engine.InvalidCadenceError
	require.ErrorAs(t, err, &cadErr)
	assert.Equal(t, engine.Cadence("per-lunar-cycle"), cadErr.Cadence)
}

// =============================================================================
// RECALCULATE - Derived fields recomputed from source
// =============================================================================

func TestRecalculate_RecomputesFromSource(t *testing.T) {
	// GIVEN: a commitment with stale cached fields and three allocations,
	//        one outside the commitment window
	// WHEN: Recalculating
	// THEN: total and allocated are rebuilt from the calendar and the
	//       allocation set; the out-of-window allocation does not count

	ctx := context.Background()
	mem := store.NewMemory()

	c := commitment("cmt-1", "res-1", marchWeek(), engine.CadencePerDay, 8)
	c.TotalAvailableHours = hours(999) // stale on purpose
	c.AllocatedHours = hours(999)
	require.NoError(t, mem.SaveCommitment(ctx, c))

	require.NoError(t, mem.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: hours(20),
		ForecastStart:  tpp(2026, time.March, 2), ForecastEnd: tpp(2026, time.March, 6),
	}))
	require.NoError(t, mem.SaveAllocation(ctx, engine.Allocation{
		// No forecast dates: always counts against the resource.
		ID: "alloc-2", ResourceID: "res-1", WorkItemID: "wi-2", ProjectID: "proj-1",
		AllocatedHours: hours(10),
	}))
	require.NoError(t, mem.SaveAllocation(ctx, engine.Allocation{
		// Window entirely after the commitment: out of scope.
		ID: "alloc-3", ResourceID: "res-1", WorkItemID: "wi-3", ProjectID: "proj-1",
		AllocatedHours: hours(40),
		ForecastStart:  tpp(2026, time.April, 1), ForecastEnd: tpp(2026, time.April, 30),
	}))

	snap, err := weekdayCalc().Recalculate(ctx, mem, "cmt-1")
	require.NoError(t, err)

	assertDecimal(t, "40", snap.Total)
	assertDecimal(t, "30", snap.Allocated)
	assertDecimal(t, "10", snap.Remaining)

	// Persisted, not just returned.
	stored, err := mem.GetCommitment(ctx, "cmt-1")
	require.NoError(t, err)
	assertDecimal(t, "40", stored.TotalAvailableHours)
	assertDecimal(t, "30", stored.AllocatedHours)
}

func TestRecalculate_IgnoresOtherResources(t *testing.T) {
	// GIVEN: an allocation belonging to a different resource
	// WHEN: Recalculating the commitment
	// THEN: it does not count toward allocated hours

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveCommitment(ctx,
		commitment("cmt-1", "res-1", marchWeek(), engine.CadencePerDay, 8)))
	require.NoError(t, mem.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-1", ResourceID: "res-2", WorkItemID: "wi-1", AllocatedHours: hours(20),
	}))

	snap, err := weekdayCalc().Recalculate(ctx, mem, "cmt-1")
	require.NoError(t, err)
	assertDecimal(t, "0", snap.Allocated)
}

func TestRecalculate_UnknownCommitment(t *testing.T) {
	_, err := weekdayCalc().Recalculate(context.Background(), store.NewMemory(), "nope")
	assert.ErrorIs(t, err, engine.ErrCommitmentNotFound)
}

func TestDisplayHours_RoundsToOneDecimal(t *testing.T) {
	assertDecimal(t, "13.3", engine.DisplayHours(dec("13.3333")))
	assertDecimal(t, "13.4", engine.DisplayHours(dec("13.35")))
}
