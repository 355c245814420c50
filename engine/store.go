/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the repository-style contracts between the engine and durable
  storage. The engine assumes at-least read-your-writes consistency and
  treats every method as a potential blocking boundary (hence ctx).

KEY INTERFACES:
  ResourceStore, CommitmentStore, AllocationStore: planning records
  HoursStore, ActualsStore:   normalized input feeds (written upstream)
  ThresholdStore:             variance threshold overrides
  AlertStore:                 insert-if-absent alert persistence
  LedgerStore:                upsert-by-natural-key ledger entries
  RateTable:                  hourly rate lookup (host collaborator)
  MilestoneSource:            work-tracking sync snapshots (host collaborator)

INSERT-IF-ABSENT / UPSERT CONTRACTS:
  AlertStore.Insert must be a no-op when the deterministic alert id already
  exists - this is what makes detection sweeps idempotent without an
  in-memory dedup set. LedgerStore.Upsert must update in place on the entry's
  natural key, never append a duplicate.

IMPLEMENTATIONS:
  - engine/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: production SQLite
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLANNING RECORDS
// =============================================================================

type ResourceStore interface {
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)
	SaveResource(ctx context.Context, r Resource) error
}

type CommitmentStore interface {
	GetCommitment(ctx context.Context, id CommitmentID) (*Commitment, error)
	ListCommitmentsByResource(ctx context.Context, id ResourceID) ([]Commitment, error)
	ListCommitments(ctx context.Context) ([]Commitment, error)

	// SaveCommitment persists the record including its derived fields. Only
	// the capacity calculator writes the derived fields.
	SaveCommitment(ctx context.Context, c Commitment) error
}

type AllocationStore interface {
	GetAllocation(ctx context.Context, id AllocationID) (*Allocation, error)
	ListAllocationsByResource(ctx context.Context, id ResourceID) ([]Allocation, error)
	ListAllocationsByProject(ctx context.Context, id ProjectID) ([]Allocation, error)
	ListAllocations(ctx context.Context) ([]Allocation, error)

	// FindAllocation returns the unique allocation for a (resource, work item)
	// pair, or nil when none exists.
	FindAllocation(ctx context.Context, r ResourceID, w WorkItemID) (*Allocation, error)

	// SaveAllocation persists the record including reconciler-owned fields.
	SaveAllocation(ctx context.Context, a Allocation) error
}

// =============================================================================
// NORMALIZED INPUT FEEDS - Written by record ingestion, read-only here
// =============================================================================

type HoursStore interface {
	ListHours(ctx context.Context, r ResourceID, w WorkItemID) ([]HoursRecord, error)
	ListHoursByResource(ctx context.Context, r ResourceID) ([]HoursRecord, error)
	ListAllHours(ctx context.Context) ([]HoursRecord, error)
}

type ActualsStore interface {
	// ListActuals returns non-labour postings for a project dated within the
	// period.
	ListActuals(ctx context.Context, p ProjectID, period Period) ([]ActualRecord, error)

	// ListActualProjects returns the distinct projects with any postings.
	ListActualProjects(ctx context.Context) ([]ProjectID, error)
}

// =============================================================================
// THRESHOLDS AND ALERTS
// =============================================================================

type ThresholdStore interface {
	// GetThreshold returns the override row for (scope, entityID), or nil when
	// none exists. The global row uses an empty entityID.
	GetThreshold(ctx context.Context, scope ThresholdScope, entityID string) (*VarianceThreshold, error)
	SaveThreshold(ctx context.Context, t VarianceThreshold) error
	DeleteThreshold(ctx context.Context, scope ThresholdScope, entityID string) error
}

type AlertStore interface {
	// InsertAlert persists an alert with insert-if-absent semantics. Returns
	// true if the alert was new, false when the id already existed (including
	// already-acknowledged alerts, which must never be resurrected).
	InsertAlert(ctx context.Context, a VarianceAlert) (bool, error)

	GetAlert(ctx context.Context, id AlertID) (*VarianceAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]VarianceAlert, error)

	// UpdateAlertAck records the acknowledgment transition. The only legal
	// mutation of an alert.
	UpdateAlertAck(ctx context.Context, a VarianceAlert) error
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Acknowledged *bool
	Type         *AlertType
	Severity     *Severity
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerStore interface {
	// UpsertLedgerEntry writes an entry keyed by (project, cost code, period,
	// expenditure type), updating in place when the key exists.
	UpsertLedgerEntry(ctx context.Context, e LedgerEntry) error

	ListLedgerEntries(ctx context.Context, p ProjectID, month int, year int) ([]LedgerEntry, error)
	ListLedgerEntriesInRange(ctx context.Context, p ProjectID, period Period) ([]LedgerEntry, error)
}

// =============================================================================
// HOST COLLABORATORS
// =============================================================================

// RateTable resolves an hourly rate for a rate class within a fiscal year.
// Returns ErrRateMissing (or a RateMissingError) when no rate is configured.
type RateTable interface {
	HourlyRate(ctx context.Context, rateClass string, fiscalYear string) (decimal.Decimal, error)
}

// MilestoneSource exposes the work-tracking sync's latest normalized
// snapshots. The engine never talks to the external system directly.
type MilestoneSource interface {
	GetMilestoneSnapshot(ctx context.Context, w WorkItemID) (*MilestoneSnapshot, error)
	ListMilestoneSnapshots(ctx context.Context) ([]MilestoneSnapshot, error)
}

// Store aggregates every persistence capability the engine needs. Both the
// in-memory and SQLite implementations satisfy it.
type Store interface {
	ResourceStore
	CommitmentStore
	AllocationStore
	HoursStore
	ActualsStore
	ThresholdStore
	AlertStore
	LedgerStore
}
