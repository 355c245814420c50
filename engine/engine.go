/*
engine.go - Engine facade

PURPOSE:
  Wires the five components together behind the operation surface the host
  application calls: reconcileResource, recalculateCapacity, detectVariances,
  acknowledgeAlert, buildLedger, calculatePnL, plus the full sweep.

SERIALIZATION:
  Reconciliation is serialized per resource through a keyed mutex. Two
  concurrent reconciliations of the same resource would race on the
  commitment's cached allocated-hours; different resources proceed in
  parallel. The sweep shares the same locks, so ad hoc calls and scheduled
  sweeps cannot interleave on one resource.

SEE ALSO:
  - sweep.go: sweep orchestration and phase ordering
*/
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the host-facing entry point. Construct with New.
type Engine struct {
	store      Store
	rates      RateTable
	milestones MilestoneSource
	log        zerolog.Logger

	capacity   *CapacityCalculator
	reconciler *AllocationReconciler
	thresholds *ThresholdResolver
	detector   *VarianceDetector
	ledger     *LedgerBuilder

	locks        *keyedMutex
	sweepWorkers int
	now          func() TimePoint
}

// Options tune engine behavior; zero values fall back to sane defaults.
type Options struct {
	// Calendar supplies non-working dates. Defaults to weekends-only.
	Calendar Calendar

	// FiscalYearStart is the month fiscal years begin. Defaults to April.
	FiscalYearStart time.Month

	// Logger for sweep progress and skipped entities. Defaults to a nop logger.
	Logger *zerolog.Logger

	// Now is injectable for deterministic tests. Defaults to Today.
	Now func() TimePoint

	// SweepWorkers bounds the parallel reconcile phase. Defaults to 4.
	SweepWorkers int
}

func New(store Store, rates RateTable, milestones MilestoneSource, opts Options) *Engine {
	if opts.Calendar == nil {
		opts.Calendar = WeekendCalendar{}
	}
	if opts.FiscalYearStart == 0 {
		opts.FiscalYearStart = DefaultFiscalYearStart
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = 4
	}

	capacity := &CapacityCalculator{Calendar: opts.Calendar}
	thresholds := &ThresholdResolver{Store: store}

	e := &Engine{
		store:      store,
		rates:      rates,
		milestones: milestones,
		log:        log,
		capacity:   capacity,
		thresholds: thresholds,
		reconciler: &AllocationReconciler{
			Rates:           rates,
			Capacity:        capacity,
			FiscalYearStart: opts.FiscalYearStart,
		},
		detector: &VarianceDetector{
			Thresholds:      thresholds,
			Milestones:      milestones,
			FiscalYearStart: opts.FiscalYearStart,
			Log:             log,
			Now:             opts.Now,
		},
		ledger: &LedgerBuilder{
			Rates:           rates,
			FiscalYearStart: opts.FiscalYearStart,
			Log:             log,
		},
		locks: newKeyedMutex(),
	}
	e.sweepWorkers = opts.SweepWorkers
	e.now = opts.Now
	return e
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ReconcileResource reconciles every allocation of one resource and refreshes
// its commitments' capacity. Serialized per resource.
func (e *Engine) ReconcileResource(ctx context.Context, id ResourceID) (ReconcileResult, error) {
	unlock := e.locks.Lock(string(id))
	defer unlock()
	return e.reconciler.ReconcileResource(ctx, e.store, id)
}

// RecalculateCapacity recomputes a commitment's derived fields from source.
func (e *Engine) RecalculateCapacity(ctx context.Context, id CommitmentID) (CapacitySnapshot, error) {
	c, err := e.store.GetCommitment(ctx, id)
	if err != nil {
		return CapacitySnapshot{}, err
	}
	if c == nil {
		return CapacitySnapshot{}, ErrCommitmentNotFound
	}

	unlock := e.locks.Lock(string(c.ResourceID))
	defer unlock()
	return e.capacity.Recalculate(ctx, e.store, id)
}

// DetectVariances runs the full five-scan detection sweep. Idempotent.
func (e *Engine) DetectVariances(ctx context.Context) ([]VarianceAlert, error) {
	return e.detector.Detect(ctx, e.store)
}

// AcknowledgeAlert transitions an alert to its terminal acknowledged state.
// Fails with ErrAlertNotFound for unknown ids and ErrAlreadyAcknowledged when
// the alert is already closed.
func (e *Engine) AcknowledgeAlert(ctx context.Context, id AlertID, actor string) error {
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if alert == nil {
		return ErrAlertNotFound
	}
	if alert.Acknowledged {
		return ErrAlreadyAcknowledged
	}

	now := e.timeNow()
	alert.Acknowledged = true
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	return e.store.UpdateAlertAck(ctx, *alert)
}

// BuildLedger rebuilds the ledger for one project and calendar month.
func (e *Engine) BuildLedger(ctx context.Context, project ProjectID, month time.Month, year int) ([]LedgerEntry, error) {
	return e.ledger.BuildLedger(ctx, e.store, project, month, year)
}

// CalculatePnL totals ledger entries for a project over a period range.
func (e *Engine) CalculatePnL(ctx context.Context, project ProjectID, period Period) (PnLSummary, error) {
	return e.ledger.CalculatePnL(ctx, e.store, project, period)
}

// ListAlerts exposes stored alerts to the host.
func (e *Engine) ListAlerts(ctx context.Context, filter AlertFilter) ([]VarianceAlert, error) {
	alerts, err := e.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	SortAlerts(alerts)
	return alerts, nil
}

// ListLedgerEntries exposes stored ledger rows to the host.
func (e *Engine) ListLedgerEntries(ctx context.Context, project ProjectID, month time.Month, year int) ([]LedgerEntry, error) {
	return e.store.ListLedgerEntries(ctx, project, int(month), year)
}

// ResolveThreshold exposes effective-threshold resolution to the host.
func (e *Engine) ResolveThreshold(ctx context.Context, scope ThresholdScope, entityID string) VarianceThreshold {
	return e.thresholds.Resolve(ctx, scope, entityID)
}

// SetThreshold upserts an override row.
func (e *Engine) SetThreshold(ctx context.Context, t VarianceThreshold) error {
	return e.store.SaveThreshold(ctx, t)
}

// RemoveThreshold deletes an override row; resolution falls back to the next
// link in the chain.
func (e *Engine) RemoveThreshold(ctx context.Context, scope ThresholdScope, entityID string) error {
	return e.store.DeleteThreshold(ctx, scope, entityID)
}

func (e *Engine) timeNow() TimePoint {
	if e.now != nil {
		return e.now()
	}
	return Today()
}
