/*
reconcile.go - Allocation reconciliation against normalized actuals

PURPOSE:
  Matches actual hours to forecast allocations, prices them through the rate
  table, computes hours/cost variance, and classifies allocation status. The
  reconciler is the ONLY writer of an allocation's actual/variance fields.

STATUS BANDING (asymmetric by design):
  |variance_pct| <= 10   on-track
  variance_pct  >  20    under
  variance_pct  < -20    over
  otherwise              at-risk

  The positive and negative tails deliberately do not share a band: over-
  and under-delivery carry different operational meaning, and their cutoffs
  are configured independently of the detection scans.

DEGRADED OUTPUT:
  A missing rate does not stop reconciliation. Hours still reconcile; cost
  fields stay at zero and a rate_missing warning is attached to the result.

SEE ALSO:
  - capacity.go: the commitment recompute triggered after reconciliation
  - detect.go:   consumes the reconciled variance figures
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	onTrackBandPct = decimal.NewFromInt(10)
	outerBandPct   = decimal.NewFromInt(20)
	hundred        = decimal.NewFromInt(100)
)

// =============================================================================
// ALLOCATION RECONCILER
// =============================================================================

// AllocationReconciler reconciles allocations one resource at a time. Callers
// must serialize invocations per resource (see Engine); different resources
// reconcile safely in parallel.
type AllocationReconciler struct {
	Rates           RateTable
	Capacity        *CapacityCalculator
	FiscalYearStart time.Month
}

// ClassifyStatus applies the asymmetric banding to a variance percentage.
func ClassifyStatus(variancePct decimal.Decimal) AllocationStatus {
	switch {
	case variancePct.Abs().LessThanOrEqual(onTrackBandPct):
		return StatusOnTrack
	case variancePct.GreaterThan(outerBandPct):
		return StatusUnder
	case variancePct.LessThan(outerBandPct.Neg()):
		return StatusOver
	default:
		return StatusAtRisk
	}
}

// ReconcileAllocation recomputes one allocation's actual and variance fields
// from its matching hours records and persists it. Returns the updated
// allocation plus any data-quality warnings.
func (ar *AllocationReconciler) ReconcileAllocation(ctx context.Context, store Store, alloc Allocation) (Allocation, []Warning, error) {
	var warnings []Warning

	records, err := store.ListHours(ctx, alloc.ResourceID, alloc.WorkItemID)
	if err != nil {
		return alloc, nil, fmt.Errorf("load hours for %s/%s: %w", alloc.ResourceID, alloc.WorkItemID, err)
	}

	actualHours := decimal.Zero
	for _, r := range records {
		actualHours = actualHours.Add(r.Hours)
	}

	rate, warn, err := ar.lookupRate(ctx, store, alloc)
	if err != nil {
		return alloc, nil, err
	}
	if warn != nil {
		warnings = append(warnings, *warn)
	}

	alloc.ActualHours = actualHours
	alloc.ActualCost = actualHours.Mul(rate)
	alloc.VarianceHours = actualHours.Sub(alloc.AllocatedHours)
	alloc.VarianceCost = alloc.VarianceHours.Mul(rate)

	if alloc.AllocatedHours.IsZero() {
		// Degenerate forecast: percent is defined as zero and flagged, so a
		// zero-hour placeholder never divides by zero or drowns the scans.
		alloc.VariancePct = decimal.Zero
		warnings = append(warnings, Warning{
			Code:    WarnDegenerateForecast,
			Message: "allocation has zero allocated hours; variance percent undefined",
			Entity:  string(alloc.ID),
		})
	} else {
		alloc.VariancePct = alloc.VarianceHours.Div(alloc.AllocatedHours).Mul(hundred)
	}

	alloc.Status = ClassifyStatus(alloc.VariancePct)

	if err := store.SaveAllocation(ctx, alloc); err != nil {
		return alloc, warnings, fmt.Errorf("save allocation %s: %w", alloc.ID, err)
	}
	return alloc, warnings, nil
}

// lookupRate resolves the resource's hourly rate for the fiscal year the
// allocation falls into. A missing rate degrades to zero with a warning; a
// missing resource is a real error.
func (ar *AllocationReconciler) lookupRate(ctx context.Context, store Store, alloc Allocation) (decimal.Decimal, *Warning, error) {
	res, err := store.GetResource(ctx, alloc.ResourceID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if res == nil {
		return decimal.Zero, &Warning{
			Code:    WarnUnmappedResource,
			Message: "allocation references unknown resource",
			Entity:  string(alloc.ResourceID),
		}, nil
	}

	at := Today()
	if alloc.ForecastStart != nil {
		at = *alloc.ForecastStart
	}
	fy := FiscalYearOf(at, ar.FiscalYearStart)

	rate, err := ar.Rates.HourlyRate(ctx, res.RateClass, fy)
	if err != nil {
		w := &Warning{
			Code:    WarnRateMissing,
			Message: (&RateMissingError{RateClass: res.RateClass, FiscalYear: fy}).Error(),
			Entity:  string(alloc.ResourceID),
		}
		return decimal.Zero, w, nil
	}
	return rate, nil, nil
}

// ReconcileResource reconciles every allocation belonging to a resource, then
// recomputes each of the resource's commitments so capacity reflects the
// post-reconciliation allocation set.
func (ar *AllocationReconciler) ReconcileResource(ctx context.Context, store Store, id ResourceID) (ReconcileResult, error) {
	result := ReconcileResult{ResourceID: id}

	allocations, err := store.ListAllocationsByResource(ctx, id)
	if err != nil {
		return result, err
	}

	for _, alloc := range allocations {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		_, warnings, err := ar.ReconcileAllocation(ctx, store, alloc)
		if err != nil {
			return result, err
		}
		result.AllocationsUpdated++
		result.Warnings = append(result.Warnings, warnings...)
	}

	commitments, err := store.ListCommitmentsByResource(ctx, id)
	if err != nil {
		return result, err
	}
	for _, c := range commitments {
		if _, err := ar.Capacity.Recalculate(ctx, store, c.ID); err != nil {
			return result, fmt.Errorf("recalculate commitment %s: %w", c.ID, err)
		}
	}

	return result, nil
}
