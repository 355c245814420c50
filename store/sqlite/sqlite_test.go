/*
sqlite_test.go - SQLite store round-trip and write-semantics tests

CORE DESIGN:
- Decimals travel as TEXT and must survive round trips exactly
- alerts: INSERT OR IGNORE preserves acknowledgment across re-detection
- ledger_entries: natural-key upsert updates in place, never appends
*/
package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/variance-engine/engine"
	"github.com/warp/variance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tp(year int, month time.Month, day int) engine.TimePoint {
	return engine.NewTimePoint(year, month, day)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// CORE ENTITY ROUND TRIPS
// =============================================================================

func TestResource_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := engine.Resource{ID: "res-1", Name: "Dana", RateClass: "senior",
		Labour: engine.LabourContractor, Active: true}
	require.NoError(t, s.SaveResource(ctx, in))

	out, err := s.GetResource(ctx, "res-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in, *out)

	// Unknown id reads as nil, not an error.
	missing, err := s.GetResource(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCommitment_RoundTripPreservesDecimals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveResource(ctx, engine.Resource{ID: "res-1", Name: "Dana", RateClass: "std", Labour: engine.LabourInternal, Active: true}))

	in := engine.Commitment{
		ID: "cmt-1", ResourceID: "res-1",
		Period:              engine.Period{Start: tp(2026, time.March, 2), End: tp(2026, time.March, 27)},
		Cadence:             engine.CadencePerFortnight,
		CommittedHours:      dec("37.5"),
		TotalAvailableHours: dec("75"),
		AllocatedHours:      dec("71.25"),
	}
	require.NoError(t, s.SaveCommitment(ctx, in))

	out, err := s.GetCommitment(ctx, "cmt-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CommittedHours.Equal(out.CommittedHours))
	assert.True(t, in.AllocatedHours.Equal(out.AllocatedHours))
	assert.True(t, in.Period.Start.Equal(out.Period.Start))
	assert.True(t, in.Period.End.Equal(out.Period.End))
	assert.True(t, dec("3.75").Equal(out.Remaining()))
}

func TestAllocation_RoundTripAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start, end := tp(2026, time.April, 6), tp(2026, time.April, 30)
	in := engine.Allocation{
		ID: "alloc-1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: dec("160"),
		ForecastStart:  &start, ForecastEnd: &end,
		Provenance:  engine.ProvenanceExternal,
		ActualHours: dec("176"), ActualCost: dec("17600"),
		VarianceHours: dec("16"), VarianceCost: dec("1600"), VariancePct: dec("10"),
		Status: engine.StatusOnTrack,
	}
	require.NoError(t, s.SaveAllocation(ctx, in))

	out, err := s.FindAllocation(ctx, "res-1", "wi-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.VariancePct.Equal(out.VariancePct))
	require.NotNil(t, out.ForecastStart)
	assert.True(t, start.Equal(*out.ForecastStart))
	assert.Equal(t, engine.StatusOnTrack, out.Status)

	none, err := s.FindAllocation(ctx, "res-1", "wi-other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAllocation_DuplicatePairRejected(t *testing.T) {
	// GIVEN: an existing allocation for (res-1, wi-1)
	// WHEN: Creating a second allocation with a different id for the same pair
	// THEN: rejected with ErrDuplicateAllocation

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: dec("10"),
	}))

	err := s.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-2", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: dec("20"),
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateAllocation)

	// Updating the existing row through its own id is fine.
	require.NoError(t, s.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: dec("25"),
	}))
}

// =============================================================================
// ALERT WRITE SEMANTICS
// =============================================================================

func testAlert(id engine.AlertID) engine.VarianceAlert {
	return engine.VarianceAlert{
		ID: id, Type: engine.AlertEffort, Severity: engine.SeverityHigh,
		EntityScope: "allocation", EntityID: "alloc-1",
		Message: "drift", Amount: dec("16"), Percent: dec("40"),
		CreatedAt: tp(2026, time.June, 15),
	}
}

func TestInsertAlert_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	inserted, err := s.InsertAlert(ctx, testAlert("al-1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertAlert(ctx, testAlert("al-1"))
	require.NoError(t, err)
	assert.False(t, inserted, "re-detection must be a no-op")
}

func TestInsertAlert_AckSurvivesRedetection(t *testing.T) {
	// GIVEN: an acknowledged alert
	// WHEN: The same alert id is re-inserted by a later detection pass
	// THEN: acknowledgment state is untouched

	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.InsertAlert(ctx, testAlert("al-1"))
	require.NoError(t, err)

	ackAt := tp(2026, time.June, 16)
	a := testAlert("al-1")
	a.Acknowledged = true
	a.AcknowledgedBy = "lead"
	a.AcknowledgedAt = &ackAt
	require.NoError(t, s.UpdateAlertAck(ctx, a))

	_, err = s.InsertAlert(ctx, testAlert("al-1"))
	require.NoError(t, err)

	out, err := s.GetAlert(ctx, "al-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Acknowledged)
	assert.Equal(t, "lead", out.AcknowledgedBy)
	require.NotNil(t, out.AcknowledgedAt)
	assert.True(t, ackAt.Equal(*out.AcknowledgedAt))
}

func TestUpdateAlertAck_UnknownAlert(t *testing.T) {
	err := newTestStore(t).UpdateAlertAck(context.Background(), testAlert("ghost"))
	assert.ErrorIs(t, err, engine.ErrAlertNotFound)
}

func TestListAlerts_Filters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	open := testAlert("al-open")
	_, err := s.InsertAlert(ctx, open)
	require.NoError(t, err)

	critical := testAlert("al-crit")
	critical.Severity = engine.SeverityCritical
	critical.Type = engine.AlertCost
	_, err = s.InsertAlert(ctx, critical)
	require.NoError(t, err)

	acked := testAlert("al-done")
	_, err = s.InsertAlert(ctx, acked)
	require.NoError(t, err)
	acked.Acknowledged = true
	acked.AcknowledgedBy = "lead"
	require.NoError(t, s.UpdateAlertAck(ctx, acked))

	unacked := false
	got, err := s.ListAlerts(ctx, engine.AlertFilter{Acknowledged: &unacked})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	costType := engine.AlertCost
	got, err = s.ListAlerts(ctx, engine.AlertFilter{Type: &costType})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, engine.AlertID("al-crit"), got[0].ID)

	sev := engine.SeverityCritical
	got, err = s.ListAlerts(ctx, engine.AlertFilter{Severity: &sev})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// =============================================================================
// LEDGER UPSERT SEMANTICS
// =============================================================================

func ledgerEntry(actual string) engine.LedgerEntry {
	return engine.LedgerEntry{
		ProjectID: "proj-1", CostCode: "CAPLAB", Month: time.April, Year: 2026,
		FiscalYear: "FY2027", ExpenditureType: engine.ExpenditureCappedLabour,
		Forecast: dec("5000"), Actual: dec(actual),
		Variance: dec(actual).Sub(dec("5000")), Source: engine.SourceLabour,
	}
}

func TestUpsertLedgerEntry_NaturalKeyUpdatesInPlace(t *testing.T) {
	// GIVEN: an existing row for (proj-1, CAPLAB, April 2026, Capped Labour)
	// WHEN: Upserting the same key with fresh amounts
	// THEN: one row remains, carrying the latest amounts

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertLedgerEntry(ctx, ledgerEntry("4800")))
	require.NoError(t, s.UpsertLedgerEntry(ctx, ledgerEntry("5300")))

	rows, err := s.ListLedgerEntries(ctx, "proj-1", int(time.April), 2026)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, dec("5300").Equal(rows[0].Actual))
	assert.True(t, dec("300").Equal(rows[0].Variance))
}

func TestListLedgerEntriesInRange_MonthBoundaries(t *testing.T) {
	// GIVEN: rows in March 2026, April 2026 and May 2027
	// WHEN: Querying the FY2027 window (Apr 2026 - Mar 2027)
	// THEN: only the April row falls inside

	ctx := context.Background()
	s := newTestStore(t)
	march := ledgerEntry("100")
	march.Month, march.Year, march.FiscalYear = time.March, 2026, "FY2026"
	april := ledgerEntry("200")
	late := ledgerEntry("300")
	late.Month, late.Year = time.May, 2027
	for _, e := range []engine.LedgerEntry{march, april, late} {
		require.NoError(t, s.UpsertLedgerEntry(ctx, e))
	}

	period := engine.Period{Start: tp(2026, time.April, 1), End: tp(2027, time.March, 31)}
	rows, err := s.ListLedgerEntriesInRange(ctx, "proj-1", period)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, time.April, rows[0].Month)
}

// =============================================================================
// THRESHOLDS, RATES, MILESTONES, FEEDS
// =============================================================================

func TestThresholds_GlobalRowIsSingular(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveThreshold(ctx, engine.VarianceThreshold{
		Scope: engine.ScopeGlobal, EntityID: "stray",
		HoursPct: dec("25"), CostPct: dec("25"), ScheduleDays: 10,
	}))
	require.NoError(t, s.SaveThreshold(ctx, engine.VarianceThreshold{
		Scope: engine.ScopeGlobal, EntityID: "another",
		HoursPct: dec("30"), CostPct: dec("30"), ScheduleDays: 14,
	}))

	row, err := s.GetThreshold(ctx, engine.ScopeGlobal, "whatever")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "", row.EntityID)
	assert.True(t, dec("30").Equal(row.HoursPct), "second save must overwrite the single row")

	require.NoError(t, s.DeleteThreshold(ctx, engine.ScopeGlobal, ""))
	row, err = s.GetThreshold(ctx, engine.ScopeGlobal, "")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRates_RoundTripAndMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveRate(ctx, "senior", "FY2027", dec("112.50")))
	rate, err := s.HourlyRate(ctx, "senior", "FY2027")
	require.NoError(t, err)
	assert.True(t, dec("112.50").Equal(rate))

	_, err = s.HourlyRate(ctx, "senior", "FY2028")
	assert.ErrorIs(t, err, engine.ErrRateMissing)
	var rateErr *engine.RateMissingError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "FY2028", rateErr.FiscalYear)
}

func TestMilestoneSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := engine.MilestoneSnapshot{
		WorkItemID: "wi-1", ProjectID: "proj-1", Phase: engine.PhaseInProgress,
		Milestones: []engine.Milestone{
			{Phase: engine.PhaseDelivered, TargetDate: tp(2026, time.July, 1)},
			{Phase: engine.PhaseClosed, TargetDate: tp(2026, time.August, 1)},
		},
	}
	require.NoError(t, s.SaveMilestoneSnapshot(ctx, in))

	out, err := s.GetMilestoneSnapshot(ctx, "wi-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, engine.PhaseInProgress, out.Phase)
	require.Len(t, out.Milestones, 2)
	assert.True(t, tp(2026, time.July, 1).Equal(out.Milestones[0].TargetDate))

	// A newer sync replaces the snapshot wholesale.
	in.Phase = engine.PhaseDelivered
	in.Milestones = in.Milestones[1:]
	require.NoError(t, s.SaveMilestoneSnapshot(ctx, in))
	out, err = s.GetMilestoneSnapshot(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseDelivered, out.Phase)
	assert.Len(t, out.Milestones, 1)
}

func TestHoursAndActualFeeds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveHoursRecord(ctx, engine.HoursRecord{
		ID: "h1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		Date: tp(2026, time.April, 6), Hours: dec("7.5"),
	}))
	require.NoError(t, s.SaveHoursRecord(ctx, engine.HoursRecord{
		ID: "h2", ResourceID: "res-1", WorkItemID: "wi-2", ProjectID: "proj-1",
		Date: tp(2026, time.April, 7), Hours: dec("8"),
	}))

	got, err := s.ListHours(ctx, "res-1", "wi-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, dec("7.5").Equal(got[0].Hours))

	all, err := s.ListAllHours(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.SaveActualRecord(ctx, engine.ActualRecord{
		ID: "ac-1", ProjectID: "proj-1", CostCode: "SW-101",
		Date: tp(2026, time.April, 10), Amount: dec("250"), Description: "licences",
	}))
	require.NoError(t, s.SaveActualRecord(ctx, engine.ActualRecord{
		ID: "ac-2", ProjectID: "proj-1", CostCode: "HW-2",
		Date: tp(2026, time.May, 2), Amount: dec("90"),
	}))

	april := engine.Period{Start: tp(2026, time.April, 1), End: tp(2026, time.April, 30)}
	actuals, err := s.ListActuals(ctx, "proj-1", april)
	require.NoError(t, err)
	require.Len(t, actuals, 1)
	assert.Equal(t, "SW-101", actuals[0].CostCode)
	assert.Equal(t, "licences", actuals[0].Description)

	projects, err := s.ListActualProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []engine.ProjectID{"proj-1"}, projects)
}

// =============================================================================
// ENGINE OVER SQLITE - one end-to-end pass
// =============================================================================

func TestEngine_SweepOnSQLite(t *testing.T) {
	// GIVEN: a SQLite-backed engine with one reconciled world
	// WHEN: Running a full sweep
	// THEN: allocations update, alerts persist, ledger rows land

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveResource(ctx, engine.Resource{
		ID: "res-1", Name: "Dana", RateClass: "std", Labour: engine.LabourInternal, Active: true,
	}))
	require.NoError(t, s.SaveRate(ctx, "std", "FY2026", dec("50")))
	require.NoError(t, s.SaveCommitment(ctx, engine.Commitment{
		ID: "cmt-1", ResourceID: "res-1",
		Period:         engine.Period{Start: tp(2026, time.March, 2), End: tp(2026, time.March, 6)},
		Cadence:        engine.CadencePerDay,
		CommittedHours: dec("8"),
	}))
	start, end := tp(2026, time.March, 2), tp(2026, time.March, 6)
	require.NoError(t, s.SaveAllocation(ctx, engine.Allocation{
		ID: "alloc-1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		AllocatedHours: dec("60"), ForecastStart: &start, ForecastEnd: &end,
	}))
	require.NoError(t, s.SaveHoursRecord(ctx, engine.HoursRecord{
		ID: "h1", ResourceID: "res-1", WorkItemID: "wi-1", ProjectID: "proj-1",
		Date: tp(2026, time.March, 3), Hours: dec("30"),
	}))

	eng := engine.New(s, s, s, engine.Options{
		FiscalYearStart: time.April,
		Now:             func() engine.TimePoint { return tp(2026, time.June, 15) },
	})

	result, err := eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ResourcesReconciled)
	assert.Greater(t, result.AlertsRaised, 0)
	assert.Greater(t, result.LedgerEntriesWritten, 0)

	alloc, err := s.GetAllocation(ctx, "alloc-1")
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(alloc.ActualHours))
	assert.Equal(t, engine.StatusOver, alloc.Status)

	entries, err := s.ListLedgerEntries(ctx, "proj-1", int(time.March), 2026)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, dec("3000").Equal(entries[0].Forecast))
}
