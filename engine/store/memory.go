// Package store provides engine.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/variance-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory satisfies engine.Store with map-backed state guarded by a RWMutex.
// Also carries the normalized input feeds (hours, actuals) so tests can seed
// them directly.
type Memory struct {
	mu sync.RWMutex

	resources   map[engine.ResourceID]engine.Resource
	commitments map[engine.CommitmentID]engine.Commitment
	allocations map[engine.AllocationID]engine.Allocation
	thresholds  map[thresholdKey]engine.VarianceThreshold
	alerts      map[engine.AlertID]engine.VarianceAlert
	ledger      map[string]engine.LedgerEntry
	hours       []engine.HoursRecord
	actuals     []engine.ActualRecord
}

type thresholdKey struct {
	Scope    engine.ThresholdScope
	EntityID string
}

func NewMemory() *Memory {
	return &Memory{
		resources:   make(map[engine.ResourceID]engine.Resource),
		commitments: make(map[engine.CommitmentID]engine.Commitment),
		allocations: make(map[engine.AllocationID]engine.Allocation),
		thresholds:  make(map[thresholdKey]engine.VarianceThreshold),
		alerts:      make(map[engine.AlertID]engine.VarianceAlert),
		ledger:      make(map[string]engine.LedgerEntry),
	}
}

// -----------------------------------------------------------------------------
// Resources
// -----------------------------------------------------------------------------

func (m *Memory) GetResource(_ context.Context, id engine.ResourceID) (*engine.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.resources[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *Memory) ListResources(_ context.Context) ([]engine.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveResource(_ context.Context, r engine.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = r
	return nil
}

// -----------------------------------------------------------------------------
// Commitments
// -----------------------------------------------------------------------------

func (m *Memory) GetCommitment(_ context.Context, id engine.CommitmentID) (*engine.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.commitments[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) ListCommitmentsByResource(_ context.Context, id engine.ResourceID) ([]engine.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Commitment
	for _, c := range m.commitments {
		if c.ResourceID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListCommitments(_ context.Context) ([]engine.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Commitment, 0, len(m.commitments))
	for _, c := range m.commitments {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveCommitment(_ context.Context, c engine.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitments[c.ID] = c
	return nil
}

// -----------------------------------------------------------------------------
// Allocations
// -----------------------------------------------------------------------------

func (m *Memory) GetAllocation(_ context.Context, id engine.AllocationID) (*engine.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.allocations[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) ListAllocationsByResource(_ context.Context, id engine.ResourceID) ([]engine.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Allocation
	for _, a := range m.allocations {
		if a.ResourceID == id {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out, nil
}

func (m *Memory) ListAllocationsByProject(_ context.Context, id engine.ProjectID) ([]engine.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Allocation
	for _, a := range m.allocations {
		if a.ProjectID == id {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out, nil
}

func (m *Memory) ListAllocations(_ context.Context) ([]engine.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Allocation, 0, len(m.allocations))
	for _, a := range m.allocations {
		out = append(out, a)
	}
	sortAllocations(out)
	return out, nil
}

func (m *Memory) FindAllocation(_ context.Context, r engine.ResourceID, w engine.WorkItemID) (*engine.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.allocations {
		if a.ResourceID == r && a.WorkItemID == w {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) SaveAllocation(_ context.Context, a engine.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Enforce (resource, work item) uniqueness on create.
	for id, existing := range m.allocations {
		if id != a.ID && existing.ResourceID == a.ResourceID && existing.WorkItemID == a.WorkItemID {
			return engine.ErrDuplicateAllocation
		}
	}
	m.allocations[a.ID] = a
	return nil
}

func sortAllocations(out []engine.Allocation) {
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
}

// -----------------------------------------------------------------------------
// Hours and non-labour actuals (seeded by tests / ingestion)
// -----------------------------------------------------------------------------

// AddHours seeds normalized hours records.
func (m *Memory) AddHours(records ...engine.HoursRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours = append(m.hours, records...)
}

// AddActuals seeds non-labour postings.
func (m *Memory) AddActuals(records ...engine.ActualRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actuals = append(m.actuals, records...)
}

func (m *Memory) ListHours(_ context.Context, r engine.ResourceID, w engine.WorkItemID) ([]engine.HoursRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.HoursRecord
	for _, h := range m.hours {
		if h.ResourceID == r && h.WorkItemID == w {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ListHoursByResource(_ context.Context, r engine.ResourceID) ([]engine.HoursRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.HoursRecord
	for _, h := range m.hours {
		if h.ResourceID == r {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ListAllHours(_ context.Context) ([]engine.HoursRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.HoursRecord, len(m.hours))
	copy(out, m.hours)
	return out, nil
}

func (m *Memory) ListActuals(_ context.Context, p engine.ProjectID, period engine.Period) ([]engine.ActualRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.ActualRecord
	for _, a := range m.actuals {
		if a.ProjectID == p && period.Contains(a.Date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListActualProjects(_ context.Context) ([]engine.ProjectID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[engine.ProjectID]bool{}
	var out []engine.ProjectID
	for _, a := range m.actuals {
		if !seen[a.ProjectID] {
			seen[a.ProjectID] = true
			out = append(out, a.ProjectID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// -----------------------------------------------------------------------------
// Thresholds
// -----------------------------------------------------------------------------

func (m *Memory) GetThreshold(_ context.Context, scope engine.ThresholdScope, entityID string) (*engine.VarianceThreshold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.thresholds[thresholdKey{scope, entityID}]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *Memory) SaveThreshold(_ context.Context, t engine.VarianceThreshold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Scope == engine.ScopeGlobal {
		t.EntityID = "" // exactly one global row
	}
	m.thresholds[thresholdKey{t.Scope, t.EntityID}] = t
	return nil
}

func (m *Memory) DeleteThreshold(_ context.Context, scope engine.ThresholdScope, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.thresholds, thresholdKey{scope, entityID})
	return nil
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

func (m *Memory) InsertAlert(_ context.Context, a engine.VarianceAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerts[a.ID]; exists {
		// Insert-if-absent: acknowledged alerts are never resurrected.
		return false, nil
	}
	m.alerts[a.ID] = a
	return true, nil
}

func (m *Memory) GetAlert(_ context.Context, id engine.AlertID) (*engine.VarianceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.alerts[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *Memory) ListAlerts(_ context.Context, filter engine.AlertFilter) ([]engine.VarianceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.VarianceAlert
	for _, a := range m.alerts {
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		if filter.Type != nil && a.Type != *filter.Type {
			continue
		}
		if filter.Severity != nil && a.Severity != *filter.Severity {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAlertAck(_ context.Context, a engine.VarianceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		return engine.ErrAlertNotFound
	}
	m.alerts[a.ID] = a
	return nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (m *Memory) UpsertLedgerEntry(_ context.Context, e engine.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[e.NaturalKey()] = e
	return nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, p engine.ProjectID, month int, year int) ([]engine.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.LedgerEntry
	for _, e := range m.ledger {
		if e.ProjectID == p && int(e.Month) == month && e.Year == year {
			out = append(out, e)
		}
	}
	sortLedger(out)
	return out, nil
}

func (m *Memory) ListLedgerEntriesInRange(_ context.Context, p engine.ProjectID, period engine.Period) ([]engine.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.LedgerEntry
	for _, e := range m.ledger {
		if e.ProjectID != p {
			continue
		}
		monthStart := engine.NewTimePoint(e.Year, e.Month, 1)
		if period.Contains(monthStart) {
			out = append(out, e)
		}
	}
	sortLedger(out)
	return out, nil
}

func sortLedger(out []engine.LedgerEntry) {
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey() < out[j].NaturalKey() })
}

// =============================================================================
// STATIC RATE TABLE - Map-backed RateTable for tests/dev
// =============================================================================

// StaticRates resolves rates from a fixed (rate class, fiscal year) map.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[rateKey]decimal.Decimal
}

type rateKey struct {
	Class      string
	FiscalYear string
}

func NewStaticRates() *StaticRates {
	return &StaticRates{rates: make(map[rateKey]decimal.Decimal)}
}

// Set registers a rate for a class and fiscal year.
func (s *StaticRates) Set(class, fiscalYear string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey{class, fiscalYear}] = rate
}

func (s *StaticRates) HourlyRate(_ context.Context, class, fiscalYear string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rates[rateKey{class, fiscalYear}]; ok {
		return r, nil
	}
	return decimal.Zero, &engine.RateMissingError{RateClass: class, FiscalYear: fiscalYear}
}

// =============================================================================
// MEMORY MILESTONES - Map-backed MilestoneSource for tests/dev
// =============================================================================

// Milestones holds normalized snapshots pushed by the work-tracking sync.
type Milestones struct {
	mu        sync.RWMutex
	snapshots map[engine.WorkItemID]engine.MilestoneSnapshot
}

func NewMilestones() *Milestones {
	return &Milestones{snapshots: make(map[engine.WorkItemID]engine.MilestoneSnapshot)}
}

// Put stores the latest snapshot for a work item.
func (m *Milestones) Put(s engine.MilestoneSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.WorkItemID] = s
}

func (m *Milestones) GetMilestoneSnapshot(_ context.Context, w engine.WorkItemID) (*engine.MilestoneSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.snapshots[w]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *Milestones) ListMilestoneSnapshots(_ context.Context) ([]engine.MilestoneSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.MilestoneSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkItemID < out[j].WorkItemID })
	return out, nil
}
