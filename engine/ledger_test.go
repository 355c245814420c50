/*
ledger_test.go - Period ledger and P&L tests

CORE DESIGN:
- One entry per (project, cost code, period, expenditure type), upserted
- Labour forecast is priced through the rate table; non-labour has no
  forecast feed, so its variance equals actual spend
- Fiscal-year labels roll at the configured start month (default April)
*/
package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/variance-engine/engine"
	"github.com/warp/variance-engine/engine/store"
)

// =============================================================================
// FISCAL YEAR LABELS
// =============================================================================

func TestFiscalYearLabel_AprilStart(t *testing.T) {
	// GIVEN: the default April fiscal-year start
	// THEN: March 2026 stays FY2026, April 2026 rolls to FY2027

	assert.Equal(t, "FY2026", engine.FiscalYearLabel(2026, time.March, time.April))
	assert.Equal(t, "FY2027", engine.FiscalYearLabel(2026, time.April, time.April))
	assert.Equal(t, "FY2027", engine.FiscalYearLabel(2026, time.December, time.April))
	assert.Equal(t, "FY2027", engine.FiscalYearLabel(2027, time.January, time.April))
}

func TestFiscalYearLabel_JanuaryStartMatchesCalendarYear(t *testing.T) {
	assert.Equal(t, "FY2026", engine.FiscalYearLabel(2026, time.January, time.January))
	assert.Equal(t, "FY2026", engine.FiscalYearLabel(2026, time.December, time.January))
}

func TestFiscalYearLabel_InvalidStartFallsBackToApril(t *testing.T) {
	assert.Equal(t, "FY2027", engine.FiscalYearLabel(2026, time.June, 0))
}

func TestFiscalYearPeriod_SpansTwelveMonths(t *testing.T) {
	p := engine.FiscalYearPeriod(tp(2026, time.June, 15), time.April)
	assert.True(t, tp(2026, time.April, 1).Equal(p.Start))
	assert.True(t, tp(2027, time.March, 31).Equal(p.End))

	// A date before the start month belongs to the previous fiscal year.
	p = engine.FiscalYearPeriod(tp(2026, time.February, 10), time.April)
	assert.True(t, tp(2025, time.April, 1).Equal(p.Start))
}

// =============================================================================
// LEDGER BUILD
// =============================================================================

func newBuilder(rates engine.RateTable) *engine.LedgerBuilder {
	return &engine.LedgerBuilder{Rates: rates, FiscalYearStart: time.April, Log: zerolog.Nop()}
}

// seedMarchLedgerData populates one reconciled labour allocation plus mixed
// non-labour postings for March 2026 (FY2026).
func seedMarchLedgerData(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, mem.SaveResource(ctx, engine.Resource{
		ID: "res-1", Name: "Dana", RateClass: "std", Labour: engine.LabourContractor, Active: true,
	}))
	require.NoError(t, mem.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: hours(100),
		ForecastStart:  tpp(2026, time.March, 2), ForecastEnd: tpp(2026, time.March, 27),
		ActualHours: hours(96), ActualCost: hours(4800),
	}))

	mem.AddActuals(
		engine.ActualRecord{ID: "ac-1", ProjectID: "proj-1", CostCode: "SW-101", Date: tp(2026, time.March, 5), Amount: hours(200)},
		engine.ActualRecord{ID: "ac-2", ProjectID: "proj-1", CostCode: "SW-204", Date: tp(2026, time.March, 18), Amount: hours(100)},
		engine.ActualRecord{ID: "ac-3", ProjectID: "proj-1", CostCode: "HW-330", Date: tp(2026, time.March, 9), Amount: hours(300)},
		engine.ActualRecord{ID: "ac-4", ProjectID: "proj-1", CostCode: "TRAVEL", Date: tp(2026, time.March, 20), Amount: hours(50)},
		// Outside the month: must not count.
		engine.ActualRecord{ID: "ac-5", ProjectID: "proj-1", CostCode: "SW-999", Date: tp(2026, time.April, 1), Amount: hours(999)},
	)
}

func TestBuildLedger_LabourAndNonLabourEntries(t *testing.T) {
	// GIVEN: a reconciled allocation (100h forecast, 4800 actual cost, rate 50)
	//        and software/hardware/other postings inside March 2026
	// WHEN: Building the March ledger
	// THEN: one Capped Labour row and one row per non-labour category

	ctx := context.Background()
	mem := store.NewMemory()
	rates := store.NewStaticRates()
	rates.Set("std", "FY2026", hours(50))
	seedMarchLedgerData(t, mem)

	entries, err := newBuilder(rates).BuildLedger(ctx, mem, "proj-1", time.March, 2026)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byType := map[string]engine.LedgerEntry{}
	for _, e := range entries {
		byType[e.ExpenditureType] = e
		assert.Equal(t, time.March, e.Month)
		assert.Equal(t, 2026, e.Year)
		assert.Equal(t, "FY2026", e.FiscalYear)
	}

	labour := byType[engine.ExpenditureCappedLabour]
	assert.Equal(t, "CAPLAB", labour.CostCode)
	assert.Equal(t, engine.SourceLabour, labour.Source)
	assertDecimal(t, "5000", labour.Forecast)
	assertDecimal(t, "4800", labour.Actual)
	assertDecimal(t, "-200", labour.Variance)

	software := byType[engine.ExpenditureSoftware]
	assert.Equal(t, "SW", software.CostCode)
	assert.Equal(t, engine.SourceNonLabour, software.Source)
	assertDecimal(t, "0", software.Forecast)
	assertDecimal(t, "300", software.Actual)
	assertDecimal(t, "300", software.Variance)

	assertDecimal(t, "300", byType[engine.ExpenditureHardware].Actual)
	assert.Equal(t, "HW", byType[engine.ExpenditureHardware].CostCode)

	other := byType[engine.ExpenditureOther]
	assert.Equal(t, "OTH", other.CostCode)
	assertDecimal(t, "50", other.Actual)
}

func TestBuildLedger_RebuildIsIdempotent(t *testing.T) {
	// GIVEN: a built March ledger
	// WHEN: Building the same month again
	// THEN: the same four rows, never doubled totals

	ctx := context.Background()
	mem := store.NewMemory()
	rates := store.NewStaticRates()
	rates.Set("std", "FY2026", hours(50))
	seedMarchLedgerData(t, mem)
	builder := newBuilder(rates)

	_, err := builder.BuildLedger(ctx, mem, "proj-1", time.March, 2026)
	require.NoError(t, err)
	_, err = builder.BuildLedger(ctx, mem, "proj-1", time.March, 2026)
	require.NoError(t, err)

	stored, err := mem.ListLedgerEntries(ctx, "proj-1", int(time.March), 2026)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for _, e := range stored {
		if e.ExpenditureType == engine.ExpenditureCappedLabour {
			assertDecimal(t, "5000", e.Forecast)
		}
	}
}

func TestBuildLedger_RateMissing_ForecastZero(t *testing.T) {
	// GIVEN: no rate for the allocation's class in FY2026
	// WHEN: Building the ledger
	// THEN: the labour row still lands with a zero forecast; reconciled actual
	//       cost is preserved

	ctx := context.Background()
	mem := store.NewMemory()
	seedMarchLedgerData(t, mem)

	entries, err := newBuilder(store.NewStaticRates()).BuildLedger(ctx, mem, "proj-1", time.March, 2026)
	require.NoError(t, err)

	for _, e := range entries {
		if e.ExpenditureType == engine.ExpenditureCappedLabour {
			assertDecimal(t, "0", e.Forecast)
			assertDecimal(t, "4800", e.Actual)
			return
		}
	}
	t.Fatal("labour entry missing")
}

func TestBuildLedger_NoActivity_NoEntries(t *testing.T) {
	entries, err := newBuilder(store.NewStaticRates()).
		BuildLedger(context.Background(), store.NewMemory(), "proj-empty", time.March, 2026)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// P&L
// =============================================================================

func TestCalculatePnL_TotalsAndBreakdown(t *testing.T) {
	// GIVEN: ledger rows across two months and two expenditure types
	// WHEN: Calculating P&L over the range
	// THEN: totals sum all rows; the breakdown groups by type

	ctx := context.Background()
	mem := store.NewMemory()
	seed := []engine.LedgerEntry{
		{ProjectID: "proj-1", CostCode: "CAPLAB", Month: time.April, Year: 2026, FiscalYear: "FY2027",
			ExpenditureType: engine.ExpenditureCappedLabour,
			Forecast:        hours(5000), Actual: hours(5500), Variance: hours(500), Source: engine.SourceLabour},
		{ProjectID: "proj-1", CostCode: "CAPLAB", Month: time.May, Year: 2026, FiscalYear: "FY2027",
			ExpenditureType: engine.ExpenditureCappedLabour,
			Forecast:        hours(5000), Actual: hours(4700), Variance: hours(-300), Source: engine.SourceLabour},
		{ProjectID: "proj-1", CostCode: "SW", Month: time.May, Year: 2026, FiscalYear: "FY2027",
			ExpenditureType: engine.ExpenditureSoftware,
			Forecast:        hours(0), Actual: hours(400), Variance: hours(400), Source: engine.SourceNonLabour},
		// Different project: excluded.
		{ProjectID: "proj-2", CostCode: "CAPLAB", Month: time.May, Year: 2026, FiscalYear: "FY2027",
			ExpenditureType: engine.ExpenditureCappedLabour,
			Forecast:        hours(9999), Actual: hours(9999), Variance: hours(0), Source: engine.SourceLabour},
	}
	for _, e := range seed {
		require.NoError(t, mem.UpsertLedgerEntry(ctx, e))
	}

	period := engine.Period{Start: tp(2026, time.April, 1), End: tp(2027, time.March, 31)}
	summary, err := newBuilder(store.NewStaticRates()).CalculatePnL(ctx, mem, "proj-1", period)
	require.NoError(t, err)

	assertDecimal(t, "10000", summary.TotalForecast)
	assertDecimal(t, "10600", summary.TotalActual)
	assertDecimal(t, "600", summary.TotalVariance)

	require.Len(t, summary.ByType, 2)
	byType := map[string]engine.PnLLine{}
	for _, l := range summary.ByType {
		byType[l.ExpenditureType] = l
	}
	assertDecimal(t, "10200", byType[engine.ExpenditureCappedLabour].Actual)
	assertDecimal(t, "400", byType[engine.ExpenditureSoftware].Actual)
}

func TestCalculatePnL_InvalidRange(t *testing.T) {
	period := engine.Period{Start: tp(2026, time.May, 1), End: tp(2026, time.April, 1)}
	_, err := newBuilder(store.NewStaticRates()).
		CalculatePnL(context.Background(), store.NewMemory(), "proj-1", period)
	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}

func TestCalculatePnL_RangeExcludesOutsideMonths(t *testing.T) {
	// GIVEN: rows in March and April 2026
	// WHEN: Summing April 2026 through March 2027
	// THEN: only the April row counts

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertLedgerEntry(ctx, engine.LedgerEntry{
		ProjectID: "proj-1", CostCode: "CAPLAB", Month: time.March, Year: 2026, FiscalYear: "FY2026",
		ExpenditureType: engine.ExpenditureCappedLabour,
		Forecast:        hours(1000), Actual: hours(1000), Variance: hours(0), Source: engine.SourceLabour,
	}))
	require.NoError(t, mem.UpsertLedgerEntry(ctx, engine.LedgerEntry{
		ProjectID: "proj-1", CostCode: "CAPLAB", Month: time.April, Year: 2026, FiscalYear: "FY2027",
		ExpenditureType: engine.ExpenditureCappedLabour,
		Forecast:        hours(2000), Actual: hours(2100), Variance: hours(100), Source: engine.SourceLabour,
	}))

	period := engine.Period{Start: tp(2026, time.April, 1), End: tp(2027, time.March, 31)}
	summary, err := newBuilder(store.NewStaticRates()).CalculatePnL(ctx, mem, "proj-1", period)
	require.NoError(t, err)
	assertDecimal(t, "2000", summary.TotalForecast)
}
