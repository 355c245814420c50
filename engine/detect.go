/*
detect.go - Variance detection sweeps

PURPOSE:
  Scans commitments, allocations, ledger entries, milestone snapshots and
  raw hours records for threshold breaches across five independent
  dimensions, producing deduplicated, severity-ranked alerts.

IDEMPOTENCE:
  A sweep is safe to re-run: alert ids derive deterministically from
  (type, entity, day bucket), and persistence is insert-if-absent. Unchanged
  inputs produce the same alert set with no duplicate rows. An acknowledged
  alert is never resurrected - a fresh breach on a later day mints a new id.

THE FIVE SCANS:
  commitment   - allocated hours exceed total available
  effort       - allocation hours variance beyond the resolved threshold
  cost         - project ledger variance beyond the resolved threshold
                 (consumes the ledger builder's output from the prior sweep)
  schedule     - milestone target date passed without the phase advancing
  unauthorized - hours booked with no matching allocation (zero tolerance:
                 no threshold applies, every orphaned entry surfaces)

SEVERITY BANDS:
  Each scan carries its own banding. Effort and cost scale with magnitude
  (>50% critical, >30% high, else medium); schedule scales with days late
  (>14 critical, >7 high, else medium); commitment overage is flat high;
  unauthorized time is flat high. The bands are intentionally NOT unified
  across scans.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	effortPrefilterPct  = decimal.NewFromInt(10)
	criticalVariancePct = decimal.NewFromInt(50)
	highVariancePct     = decimal.NewFromInt(30)
)

const (
	criticalLateDays = 14
	highLateDays     = 7
)

// =============================================================================
// VARIANCE DETECTOR
// =============================================================================

// VarianceDetector runs the five detection scans as one idempotent sweep.
type VarianceDetector struct {
	Thresholds      *ThresholdResolver
	Milestones      MilestoneSource
	FiscalYearStart time.Month
	Log             zerolog.Logger

	// Now is injectable for deterministic tests; defaults to Today.
	Now func() TimePoint
}

func (vd *VarianceDetector) now() TimePoint {
	if vd.Now != nil {
		return vd.Now()
	}
	return Today()
}

// Detect runs all five scans and persists the resulting alerts with
// insert-if-absent semantics. Individual scan failures are logged and the
// remaining scans still run; the sweep never aborts wholesale.
func (vd *VarianceDetector) Detect(ctx context.Context, store Store) ([]VarianceAlert, error) {
	var all []VarianceAlert

	scans := []struct {
		name string
		fn   func(context.Context, Store) ([]VarianceAlert, error)
	}{
		{"commitment", vd.scanCommitments},
		{"effort", vd.scanEffort},
		{"cost", vd.scanCost},
		{"schedule", vd.scanSchedule},
		{"unauthorized", vd.scanUnauthorized},
	}

	for _, s := range scans {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
		alerts, err := s.fn(ctx, store)
		if err != nil {
			vd.Log.Error().Err(err).Str("scan", s.name).Msg("variance scan failed; continuing sweep")
			continue
		}
		all = append(all, alerts...)
	}

	kept := all[:0]
	for _, a := range all {
		if ctx.Err() != nil {
			break
		}
		if _, err := store.InsertAlert(ctx, a); err != nil {
			vd.Log.Error().Err(err).Str("alert", string(a.ID)).Msg("alert insert failed")
			continue
		}
		kept = append(kept, a)
	}

	SortAlerts(kept)
	return kept, nil
}

// -----------------------------------------------------------------------------
// Scan 1: commitment variance - allocated beyond available
// -----------------------------------------------------------------------------

func (vd *VarianceDetector) scanCommitments(ctx context.Context, store Store) ([]VarianceAlert, error) {
	commitments, err := store.ListCommitments(ctx)
	if err != nil {
		return nil, err
	}

	var alerts []VarianceAlert
	for _, c := range commitments {
		if !c.AllocatedHours.GreaterThan(c.TotalAvailableHours) {
			continue
		}

		overage := c.AllocatedHours.Sub(c.TotalAvailableHours)
		overagePct := hundred
		if c.TotalAvailableHours.IsPositive() {
			overagePct = overage.Div(c.TotalAvailableHours).Mul(hundred)
		}

		threshold := vd.Thresholds.Resolve(ctx, ScopeResource, string(c.ResourceID))
		if !overagePct.GreaterThan(threshold.HoursPct) {
			continue
		}

		alerts = append(alerts, vd.newAlert(AlertCommitment, "resource", string(c.ResourceID),
			SeverityHigh, overage, overagePct,
			fmt.Sprintf("resource %s is over-committed by %s hours (%s%% above %s available)",
				c.ResourceID, overage.Round(1), overagePct.Round(1), c.TotalAvailableHours.Round(1))))
	}
	return alerts, nil
}

// -----------------------------------------------------------------------------
// Scan 2: effort variance - reconciled allocation drift
// -----------------------------------------------------------------------------

func (vd *VarianceDetector) scanEffort(ctx context.Context, store Store) ([]VarianceAlert, error) {
	allocations, err := store.ListAllocations(ctx)
	if err != nil {
		return nil, err
	}

	var alerts []VarianceAlert
	for _, a := range allocations {
		absPct := a.VariancePct.Abs()
		if !absPct.GreaterThan(effortPrefilterPct) {
			continue
		}

		threshold := vd.Thresholds.Resolve(ctx, ScopeProject, string(a.ProjectID))
		if !absPct.GreaterThan(threshold.HoursPct) {
			continue
		}

		alerts = append(alerts, vd.newAlert(AlertEffort, "allocation", string(a.ID),
			magnitudeSeverity(absPct), a.VarianceHours, a.VariancePct,
			fmt.Sprintf("allocation %s (%s on %s): %s actual vs %s forecast hours (%s%% variance)",
				a.ID, a.ResourceID, a.WorkItemID,
				a.ActualHours.Round(1), a.AllocatedHours.Round(1), a.VariancePct.Round(1))))
	}
	return alerts, nil
}

// magnitudeSeverity bands effort and cost variance by absolute percent.
func magnitudeSeverity(absPct decimal.Decimal) Severity {
	switch {
	case absPct.GreaterThan(criticalVariancePct):
		return SeverityCritical
	case absPct.GreaterThan(highVariancePct):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// -----------------------------------------------------------------------------
// Scan 3: cost variance - project ledger drift (prior sweep's ledger output)
// -----------------------------------------------------------------------------

func (vd *VarianceDetector) scanCost(ctx context.Context, store Store) ([]VarianceAlert, error) {
	projects, err := vd.knownProjects(ctx, store)
	if err != nil {
		return nil, err
	}

	fy := FiscalYearPeriod(vd.now(), vd.FiscalYearStart)

	var alerts []VarianceAlert
	for _, p := range projects {
		entries, err := store.ListLedgerEntriesInRange(ctx, p, fy)
		if err != nil {
			vd.Log.Error().Err(err).Str("project", string(p)).Msg("ledger read failed; skipping project")
			continue
		}
		if len(entries) == 0 {
			continue
		}

		forecast, variance := decimal.Zero, decimal.Zero
		for _, e := range entries {
			forecast = forecast.Add(e.Forecast)
			variance = variance.Add(e.Variance)
		}
		if !forecast.IsPositive() {
			continue
		}

		variancePct := variance.Div(forecast).Mul(hundred)
		threshold := vd.Thresholds.Resolve(ctx, ScopeProject, string(p))
		if !variancePct.Abs().GreaterThan(threshold.CostPct) {
			continue
		}

		alerts = append(alerts, vd.newAlert(AlertCost, "project", string(p),
			magnitudeSeverity(variancePct.Abs()), variance, variancePct,
			fmt.Sprintf("project %s cost variance %s against %s budget (%s%%)",
				p, variance.Round(2), forecast.Round(2), variancePct.Round(1))))
	}
	return alerts, nil
}

// knownProjects unions the projects seen on allocations and non-labour
// actuals. The ledger store has no project listing of its own.
func (vd *VarianceDetector) knownProjects(ctx context.Context, store Store) ([]ProjectID, error) {
	seen := map[ProjectID]bool{}
	var projects []ProjectID

	allocations, err := store.ListAllocations(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range allocations {
		if a.ProjectID != "" && !seen[a.ProjectID] {
			seen[a.ProjectID] = true
			projects = append(projects, a.ProjectID)
		}
	}

	fromActuals, err := store.ListActualProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range fromActuals {
		if !seen[p] {
			seen[p] = true
			projects = append(projects, p)
		}
	}
	return projects, nil
}

// -----------------------------------------------------------------------------
// Scan 4: schedule variance - milestones past due without phase advance
// -----------------------------------------------------------------------------

func (vd *VarianceDetector) scanSchedule(ctx context.Context, store Store) ([]VarianceAlert, error) {
	if vd.Milestones == nil {
		return nil, nil
	}
	snapshots, err := vd.Milestones.ListMilestoneSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	today := vd.now()
	var alerts []VarianceAlert
	for _, s := range snapshots {
		daysLate := 0
		var missed *Milestone
		for i, m := range s.Milestones {
			if !m.TargetDate.Before(today) {
				continue
			}
			if phaseRank(m.Phase) <= phaseRank(s.Phase) {
				continue // already advanced past this milestone
			}
			if late := DaysBetween(m.TargetDate, today); late > daysLate {
				daysLate = late
				missed = &s.Milestones[i]
			}
		}
		if missed == nil {
			continue
		}

		threshold := vd.Thresholds.Resolve(ctx, ScopeProject, string(s.ProjectID))
		if daysLate <= threshold.ScheduleDays {
			continue
		}

		severity := SeverityMedium
		switch {
		case daysLate > criticalLateDays:
			severity = SeverityCritical
		case daysLate > highLateDays:
			severity = SeverityHigh
		}

		alerts = append(alerts, vd.newAlert(AlertSchedule, "work-item", string(s.WorkItemID),
			severity, decimal.NewFromInt(int64(daysLate)), decimal.Zero,
			fmt.Sprintf("work item %s is %d days past the %s milestone due %s (still %s)",
				s.WorkItemID, daysLate, missed.Phase, missed.TargetDate, s.Phase)))
	}
	return alerts, nil
}

// -----------------------------------------------------------------------------
// Scan 5: unauthorized time - hours with no matching allocation
// -----------------------------------------------------------------------------

func (vd *VarianceDetector) scanUnauthorized(ctx context.Context, store Store) ([]VarianceAlert, error) {
	records, err := store.ListAllHours(ctx)
	if err != nil {
		return nil, err
	}

	type pair struct {
		r ResourceID
		w WorkItemID
	}
	hoursByPair := map[pair]decimal.Decimal{}
	var order []pair
	for _, rec := range records {
		p := pair{rec.ResourceID, rec.WorkItemID}
		if _, ok := hoursByPair[p]; !ok {
			order = append(order, p)
		}
		hoursByPair[p] = hoursByPair[p].Add(rec.Hours)
	}

	var alerts []VarianceAlert
	for _, p := range order {
		alloc, err := store.FindAllocation(ctx, p.r, p.w)
		if err != nil {
			return nil, err
		}
		if alloc != nil {
			continue
		}

		hours := hoursByPair[p]
		alerts = append(alerts, vd.newAlert(AlertUnauthorized, "timesheet",
			fmt.Sprintf("%s|%s", p.r, p.w),
			SeverityHigh, hours, decimal.Zero,
			fmt.Sprintf("%s hours booked by %s on %s with no allocation", hours.Round(1), p.r, p.w)))
	}
	return alerts, nil
}

// newAlert stamps the deterministic identity and creation bucket.
func (vd *VarianceDetector) newAlert(t AlertType, scope, entityID string, sev Severity, amount, pct decimal.Decimal, msg string) VarianceAlert {
	bucket := vd.now()
	return VarianceAlert{
		ID:          NewAlertID(t, scope, entityID, bucket),
		Type:        t,
		Severity:    sev,
		EntityScope: scope,
		EntityID:    entityID,
		Message:     msg,
		Amount:      amount,
		Percent:     pct,
		CreatedAt:   bucket,
	}
}
