/*
scheduler.go - Periodic sweep scheduler

PURPOSE:
  Drives the engine's full sweep (reconcile -> detect -> ledger) on a fixed
  interval so variance alerts and ledger rows stay current without manual
  POST /api/sweeps calls.

DESIGN:
  - Background goroutine with a configurable tick interval
  - Runs one sweep immediately on Start, then on every tick
  - Sweeps are idempotent, so overlapping manual triggers are harmless;
    per-resource locks inside the engine serialize the contended parts
  - Stop drains the goroutine before returning

USAGE:
  scheduler := NewSweepScheduler(eng, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual trigger)
  - engine/sweep.go: sweep orchestration
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/variance-engine/engine"
)

// SweepScheduler runs engine sweeps on a fixed interval.
type SweepScheduler struct {
	Engine        *engine.Engine
	Log           zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler with a one-hour default interval.
func NewSweepScheduler(eng *engine.Engine, log zerolog.Logger) *SweepScheduler {
	return &SweepScheduler{
		Engine:        eng,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info().Msg("sweep scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.Log.Info().Dur("interval", s.CheckInterval).Msg("sweep scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info().Msg("sweep scheduler stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx := context.Background()

	result, err := s.Engine.Sweep(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("scheduled sweep failed")
		return
	}

	s.Log.Info().
		Str("run_id", result.RunID).
		Int("resources", result.ResourcesReconciled).
		Int("allocations", result.AllocationsUpdated).
		Int("alerts", result.AlertsRaised).
		Int("ledger_entries", result.LedgerEntriesWritten).
		Int("warnings", len(result.Warnings)).
		Msg("scheduled sweep completed")
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (s *SweepScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
