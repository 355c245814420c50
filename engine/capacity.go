/*
capacity.go - Calendar-aware capacity math

PURPOSE:
  Converts a commitment ("N hours per day/week/fortnight over a date range")
  into total available hours net of weekends and supplied non-working days,
  and recomputes the commitment's cached allocated-hours figure from source.

THE DERIVED-FIELD RULE:
  Commitment.TotalAvailableHours and Commitment.AllocatedHours are a
  materialized view. They are recomputed here from the calendar and the
  allocation set - never incrementally patched by callers. A single
  authoritative recompute function avoids the drift a patched counter
  accumulates.

SEE ALSO:
  - time.go:      WorkingDays and Calendar
  - reconcile.go: triggers a recompute after updating allocations
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

var (
	daysPerWeek      = decimal.NewFromInt(5)
	daysPerFortnight = decimal.NewFromInt(10)
)

// =============================================================================
// CAPACITY CALCULATOR
// =============================================================================

// CapacityCalculator derives available hours from commitments and keeps the
// cached derived fields consistent with the allocation set.
type CapacityCalculator struct {
	Calendar Calendar
}

// TotalAvailable converts the commitment into total available hours.
// Working days count both period endpoints inclusively.
//
// Rejects with ErrInvalidRange when the period ends before it starts and
// ErrInvalidCadence for an unknown cadence. Values are kept at full
// precision; rounding to one decimal is a display concern.
func (cc *CapacityCalculator) TotalAvailable(c Commitment) (decimal.Decimal, error) {
	if !c.Period.Valid() {
		return decimal.Zero, ErrInvalidRange
	}

	wd := decimal.NewFromInt(int64(WorkingDays(cc.Calendar, c.Period.Start, c.Period.End)))

	switch c.Cadence {
	case CadencePerDay:
		return c.CommittedHours.Mul(wd), nil
	case CadencePerWeek:
		return c.CommittedHours.Mul(wd.Div(daysPerWeek)), nil
	case CadencePerFortnight:
		return c.CommittedHours.Mul(wd.Div(daysPerFortnight)), nil
	default:
		return decimal.Zero, &InvalidCadenceError{Cadence: c.Cadence}
	}
}

// AllocatedInWindow sums allocated hours across the resource's allocations
// whose forecast window overlaps the commitment period. Allocations with no
// forecast dates always count against their resource's commitment.
func (cc *CapacityCalculator) AllocatedInWindow(c Commitment, allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		if a.ResourceID != c.ResourceID {
			continue
		}
		if !a.InWindow(c.Period) {
			continue
		}
		total = total.Add(a.AllocatedHours)
	}
	return total
}

// Recalculate recomputes both derived fields on the commitment, persists it,
// and returns the fresh snapshot. Call after any commitment edit or any
// allocated-hours change inside the commitment's resource+date scope.
func (cc *CapacityCalculator) Recalculate(ctx context.Context, store interface {
	CommitmentStore
	AllocationStore
}, commitmentID CommitmentID) (CapacitySnapshot, error) {
	c, err := store.GetCommitment(ctx, commitmentID)
	if err != nil {
		return CapacitySnapshot{}, err
	}
	if c == nil {
		return CapacitySnapshot{}, ErrCommitmentNotFound
	}

	total, err := cc.TotalAvailable(*c)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	allocations, err := store.ListAllocationsByResource(ctx, c.ResourceID)
	if err != nil {
		return CapacitySnapshot{}, err
	}

	c.TotalAvailableHours = total
	c.AllocatedHours = cc.AllocatedInWindow(*c, allocations)

	if err := store.SaveCommitment(ctx, *c); err != nil {
		return CapacitySnapshot{}, err
	}

	return CapacitySnapshot{
		CommitmentID: c.ID,
		Total:        c.TotalAvailableHours,
		Allocated:    c.AllocatedHours,
		Remaining:    c.Remaining(),
	}, nil
}

// DisplayHours rounds an hours value to one decimal for presentation.
// Stored values keep full precision.
func DisplayHours(d decimal.Decimal) decimal.Decimal {
	return d.Round(1)
}
