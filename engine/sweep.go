/*
sweep.go - Full sweep orchestration

PURPOSE:
  Runs the three sweep phases in order with a hard barrier between them:

    1. reconcile - every resource's allocations, resources in parallel,
                   one worker per resource so a resource is never touched
                   by two goroutines
    2. detect    - the five variance scans, reading post-reconciliation
                   capacity values only (the barrier guarantees this)
    3. ledger    - rebuild ledger entries for every (project, month)
                   touched by actuals or hours in scope

CANCELLATION:
  A cancelled context stops scheduling further work. Completed ledger
  upserts stand - each upsert is a single atomic write and sweeps are
  idempotent, so a partial run is safely resumable by the next sweep.

FAILURE POLICY:
  A failing entity is logged, recorded as a warning, and skipped. Nothing
  in a sweep is fatal to the host process.
*/
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// KEYED MUTEX - Per-resource serialization
// =============================================================================

// keyedMutex hands out one mutex per key. Locks are never evicted; the
// resource population is small and stable.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &sync.Mutex{}
		km.locks[key] = l
	}
	km.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// =============================================================================
// SWEEP
// =============================================================================

// Sweep runs one full reconcile -> detect -> ledger pass. Triggered by the
// scheduler or by an explicit "data just imported" event.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{RunID: uuid.NewString()}
	started := time.Now()

	e.log.Info().Str("run", result.RunID).Msg("sweep started")

	if err := e.sweepReconcile(ctx, &result); err != nil {
		return result, err
	}

	// Barrier: every resource reconciled before detection reads capacity.
	alerts, err := e.detector.Detect(ctx, e.store)
	if err != nil {
		return result, err
	}
	result.AlertsRaised = len(alerts)

	if err := e.sweepLedger(ctx, &result); err != nil {
		return result, err
	}

	e.log.Info().
		Str("run", result.RunID).
		Int("resources", result.ResourcesReconciled).
		Int("alerts", result.AlertsRaised).
		Int("ledger_entries", result.LedgerEntriesWritten).
		Dur("took", time.Since(started)).
		Msg("sweep completed")
	return result, nil
}

// sweepReconcile is phase 1: all resources, parallel across resources,
// serial within one.
func (e *Engine) sweepReconcile(ctx context.Context, result *SweepResult) error {
	resources, err := e.store.ListResources(ctx)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepWorkers)

	for _, res := range resources {
		if !res.Active {
			continue
		}
		res := res
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			unlock := e.locks.Lock(string(res.ID))
			r, err := e.reconciler.ReconcileResource(gctx, e.store, res.ID)
			unlock()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Skip and continue; the next sweep retries this resource.
				e.log.Error().Err(err).Str("resource", string(res.ID)).Msg("reconcile failed; skipping")
				result.Warnings = append(result.Warnings, Warning{
					Code:    WarnEntitySkipped,
					Message: err.Error(),
					Entity:  string(res.ID),
				})
				return nil
			}
			result.ResourcesReconciled++
			result.AllocationsUpdated += r.AllocationsUpdated
			result.Warnings = append(result.Warnings, r.Warnings...)
			return nil
		})
	}
	return g.Wait()
}

// sweepLedger is phase 3: rebuild every (project, month) with activity.
func (e *Engine) sweepLedger(ctx context.Context, result *SweepResult) error {
	targets, err := e.ledgerTargets(ctx)
	if err != nil {
		return err
	}

	for _, t := range targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entries, err := e.ledger.BuildLedger(ctx, e.store, t.project, t.month, t.year)
		if err != nil {
			e.log.Error().Err(err).Str("project", string(t.project)).Msg("ledger build failed; skipping")
			result.Warnings = append(result.Warnings, Warning{
				Code:    WarnEntitySkipped,
				Message: err.Error(),
				Entity:  string(t.project),
			})
			continue
		}
		result.LedgerEntriesWritten += len(entries)
	}
	return nil
}

type ledgerTarget struct {
	project ProjectID
	month   time.Month
	year    int
}

// ledgerTargets collects the distinct (project, month) pairs seen on hours
// records, plus the current month for every project with postings, so the
// sweep rebuilds exactly the periods that can have moved.
func (e *Engine) ledgerTargets(ctx context.Context) ([]ledgerTarget, error) {
	seen := map[ledgerTarget]bool{}
	var targets []ledgerTarget
	add := func(t ledgerTarget) {
		if t.project == "" || seen[t] {
			return
		}
		seen[t] = true
		targets = append(targets, t)
	}

	hours, err := e.store.ListAllHours(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hours {
		add(ledgerTarget{project: h.ProjectID, month: h.Date.Month(), year: h.Date.Year()})
	}

	now := e.timeNow()
	projects, err := e.store.ListActualProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		add(ledgerTarget{project: p, month: now.Month(), year: now.Year()})
	}

	sort.Slice(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if a.project != b.project {
			return a.project < b.project
		}
		if a.year != b.year {
			return a.year < b.year
		}
		return a.month < b.month
	})
	return targets, nil
}
