/*
Package engine provides the resource coordination and variance detection core.

PURPOSE:
  This package reconciles independent data feeds - submitted time entries,
  financial actuals, forecast allocations, and milestone state from an external
  work-tracking system - into one consistent picture of what was promised,
  planned, and actually delivered per resource and per work item. Discrepancies
  surface as deduplicated alerts; reconciled numbers roll into period ledger
  entries for P&L reporting.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource:    an identity capable of performing work, priced by rate class
  - Commitment:  declared availability over a date range at a cadence
  - Allocation:  forecast effort for one resource on one work item
  - HoursRecord: a normalized, pre-validated actual-hours row
  - ActualRecord: a non-labour financial posting

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every hours/cost quantity - no float money
  2. Type safety: distinct ID types so resource and work-item IDs cannot mix
  3. Derived fields are recomputed, never patched: Commitment.AllocatedHours
     and TotalAvailableHours are owned by the capacity calculator alone
  4. Actual/variance fields on Allocation are write-only by the reconciler

SEE ALSO:
  - capacity.go:  working-day capacity math
  - reconcile.go: actuals-vs-forecast reconciliation
  - detect.go:    variance scans and alerting
  - ledger.go:    period ledger and P&L
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ResourceID string
type WorkItemID string
type ProjectID string
type CommitmentID string
type AllocationID string
type AlertID string

// =============================================================================
// RESOURCE - An identity capable of performing work
// =============================================================================

type LabourType string

const (
	LabourInternal     LabourType = "internal"      // internal staff
	LabourContractor   LabourType = "contractor"    // contracted individual
	LabourExternalTeam LabourType = "external-team" // external delivery team
)

// Resource is immutable once created except for contact/rate-class metadata.
// Resources are deactivated, never deleted.
type Resource struct {
	ID        ResourceID
	Name      string
	RateClass string
	Labour    LabourType
	Active    bool
}

// =============================================================================
// COMMITMENT - Declared availability over a closed date range
// =============================================================================

type Cadence string

const (
	CadencePerDay       Cadence = "per-day"
	CadencePerWeek      Cadence = "per-week"
	CadencePerFortnight Cadence = "per-fortnight"
)

// Commitment declares "N hours per cadence" for a resource over Period
// (both endpoints inclusive).
//
// TotalAvailableHours and AllocatedHours are derived, cached values. They are
// recomputed by the capacity calculator whenever the commitment or any
// allocation inside its resource+date scope changes. Nothing else writes them.
type Commitment struct {
	ID             CommitmentID
	ResourceID     ResourceID
	Period         Period
	Cadence        Cadence
	CommittedHours decimal.Decimal

	// Derived; owned by Recalculate. Invariant: Remaining = Total - Allocated.
	TotalAvailableHours decimal.Decimal
	AllocatedHours      decimal.Decimal
}

// Remaining returns remaining capacity from the cached derived fields.
func (c Commitment) Remaining() decimal.Decimal {
	return c.TotalAvailableHours.Sub(c.AllocatedHours)
}

// =============================================================================
// ALLOCATION - Forecast effort for one resource on one work item
// =============================================================================

type AllocationStatus string

const (
	StatusOnTrack AllocationStatus = "on-track"
	StatusAtRisk  AllocationStatus = "at-risk"
	StatusOver    AllocationStatus = "over"
	StatusUnder   AllocationStatus = "under"
)

type Provenance string

const (
	ProvenanceManual   Provenance = "manual"
	ProvenanceExternal Provenance = "external-sync"
	ProvenanceImported Provenance = "imported"
)

// Allocation forecasts effort for a (resource, work item) pair. The pair is
// unique across all allocations.
//
// ActualHours, ActualCost, VarianceHours, VarianceCost, VariancePct and
// Status are written only by the reconciler. Callers must treat them as
// read-only output.
type Allocation struct {
	ID             AllocationID
	ResourceID     ResourceID
	WorkItemID     WorkItemID
	ProjectID      ProjectID
	AllocatedHours decimal.Decimal
	ForecastStart  *TimePoint
	ForecastEnd    *TimePoint
	Provenance     Provenance

	// Reconciler-owned output fields.
	ActualHours   decimal.Decimal
	ActualCost    decimal.Decimal
	VarianceHours decimal.Decimal
	VarianceCost  decimal.Decimal
	VariancePct   decimal.Decimal
	Status        AllocationStatus
}

// InWindow reports whether the allocation's forecast window overlaps the
// given period. Allocations without forecast dates are treated as always
// in scope for their resource.
func (a Allocation) InWindow(p Period) bool {
	if a.ForecastStart == nil || a.ForecastEnd == nil {
		return true
	}
	return !a.ForecastStart.After(p.End) && !a.ForecastEnd.Before(p.Start)
}

// =============================================================================
// NORMALIZED INPUT RECORDS
// =============================================================================

// HoursRecord is one normalized actual-hours row handed over by record
// ingestion. Rows arriving here have already passed per-row validation.
type HoursRecord struct {
	ID         string
	ResourceID ResourceID
	WorkItemID WorkItemID
	ProjectID  ProjectID
	Date       TimePoint
	Hours      decimal.Decimal
}

// ActualRecord is a non-labour financial posting (software licences,
// hardware, services). Category is derived from the cost-code prefix.
type ActualRecord struct {
	ID          string
	ProjectID   ProjectID
	CostCode    string
	Date        TimePoint
	Amount      decimal.Decimal
	Description string
}

// =============================================================================
// MILESTONE SNAPSHOT - Normalized external work-tracking state
// =============================================================================

type Phase string

const (
	PhasePlanned    Phase = "planned"
	PhaseInProgress Phase = "in-progress"
	PhaseDelivered  Phase = "delivered"
	PhaseClosed     Phase = "closed"
)

// phaseRank orders phases for schedule-variance checks. Unknown phases rank
// lowest so they are always treated as not-yet-advanced.
func phaseRank(p Phase) int {
	switch p {
	case PhasePlanned:
		return 1
	case PhaseInProgress:
		return 2
	case PhaseDelivered:
		return 3
	case PhaseClosed:
		return 4
	default:
		return 0
	}
}

// Milestone is one expected phase transition with its target date.
type Milestone struct {
	Phase      Phase
	TargetDate TimePoint
}

// MilestoneSnapshot is the work-tracking sync's normalized view of one work
// item: its current phase plus the dated milestones it is expected to hit.
type MilestoneSnapshot struct {
	WorkItemID WorkItemID
	ProjectID  ProjectID
	Phase      Phase
	Milestones []Milestone
}

// =============================================================================
// RESULT ENVELOPES
// =============================================================================

// CapacitySnapshot is the result of a capacity recalculation.
type CapacitySnapshot struct {
	CommitmentID CommitmentID
	Total        decimal.Decimal
	Allocated    decimal.Decimal
	Remaining    decimal.Decimal
}

// ReconcileResult summarizes one resource reconciliation pass.
type ReconcileResult struct {
	ResourceID         ResourceID
	AllocationsUpdated int
	Warnings           []Warning
}

// SweepResult summarizes one full sweep run.
type SweepResult struct {
	RunID                string
	ResourcesReconciled  int
	AllocationsUpdated   int
	AlertsRaised         int
	LedgerEntriesWritten int
	Warnings             []Warning
}
