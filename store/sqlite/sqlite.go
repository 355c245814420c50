/*
Package sqlite provides a SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements engine.Store plus the RateTable and MilestoneSource collaborator
  contracts using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  resources:           work identities with rate class and labour type
  commitments:         declared availability + cached derived fields
  allocations:         forecast effort + reconciler-owned actuals/variance
  hours_records:       normalized actual-hours feed (written by ingestion)
  actual_records:      non-labour postings
  thresholds:          variance threshold overrides (one global row max)
  alerts:              variance alerts, insert-if-absent on deterministic id
  ledger_entries:      upsert-by-natural-key period ledger
  rates:               hourly rates keyed by (rate class, fiscal year)
  milestone_snapshots: latest normalized work-tracking state per work item

IDEMPOTENT WRITE SEMANTICS:
  alerts:          INSERT OR IGNORE on the deterministic id - re-running a
                   sweep is a no-op, and acknowledged alerts keep their state
                   because the insert never overwrites.
  ledger_entries:  INSERT ... ON CONFLICT DO UPDATE on the natural key -
                   rebuilds update in place, never append.

DECIMALS AND DATES:
  Money and hours are stored as TEXT via decimal.Decimal.String() to avoid
  float drift; dates are stored as TEXT in 2006-01-02 form.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single writer
  at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/variance.db")
  if err != nil { ... }
  defer store.Close()
  eng := engine.New(store, store, store, engine.Options{})

SEE ALSO:
  - engine/store.go: interface definitions
  - engine/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/variance-engine/engine"
)

const dateLayout = "2006-01-02"

// Store implements engine.Store, engine.RateTable and engine.MilestoneSource.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		rate_class TEXT NOT NULL,
		labour_type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(id),
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		cadence TEXT NOT NULL,
		committed_hours TEXT NOT NULL,
		total_available_hours TEXT NOT NULL DEFAULT '0',
		allocated_hours TEXT NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_commitments_resource ON commitments(resource_id);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		work_item_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		allocated_hours TEXT NOT NULL,
		forecast_start TEXT,
		forecast_end TEXT,
		provenance TEXT NOT NULL DEFAULT 'manual',
		actual_hours TEXT NOT NULL DEFAULT '0',
		actual_cost TEXT NOT NULL DEFAULT '0',
		variance_hours TEXT NOT NULL DEFAULT '0',
		variance_cost TEXT NOT NULL DEFAULT '0',
		variance_pct TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'on-track'
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_resource_work_item
		ON allocations(resource_id, work_item_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_project ON allocations(project_id);

	CREATE TABLE IF NOT EXISTS hours_records (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		work_item_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		hours TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hours_resource_work_item
		ON hours_records(resource_id, work_item_id);

	CREATE TABLE IF NOT EXISTS actual_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		cost_code TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_actuals_project_date
		ON actual_records(project_id, entry_date);

	CREATE TABLE IF NOT EXISTS thresholds (
		scope TEXT NOT NULL,
		entity_id TEXT NOT NULL DEFAULT '',
		hours_pct TEXT NOT NULL,
		cost_pct TEXT NOT NULL,
		schedule_days INTEGER NOT NULL,
		PRIMARY KEY (scope, entity_id)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		entity_scope TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		message TEXT NOT NULL,
		amount TEXT NOT NULL,
		percent TEXT NOT NULL,
		created_at TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		acknowledged_by TEXT,
		acknowledged_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_ack ON alerts(acknowledged);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		project_id TEXT NOT NULL,
		cost_code TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		fiscal_year TEXT NOT NULL,
		expenditure_type TEXT NOT NULL,
		forecast TEXT NOT NULL,
		actual TEXT NOT NULL,
		variance TEXT NOT NULL,
		source TEXT NOT NULL,
		PRIMARY KEY (project_id, cost_code, month, year, expenditure_type)
	);

	CREATE TABLE IF NOT EXISTS rates (
		rate_class TEXT NOT NULL,
		fiscal_year TEXT NOT NULL,
		hourly_rate TEXT NOT NULL,
		PRIMARY KEY (rate_class, fiscal_year)
	);

	CREATE TABLE IF NOT EXISTS milestone_snapshots (
		work_item_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		milestones_json TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RESOURCES
// =============================================================================

func (s *Store) SaveResource(ctx context.Context, r engine.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, name, rate_class, labour_type, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			rate_class = excluded.rate_class,
			labour_type = excluded.labour_type,
			active = excluded.active`,
		r.ID, r.Name, r.RateClass, r.Labour, boolToInt(r.Active))
	return err
}

func (s *Store) GetResource(ctx context.Context, id engine.ResourceID) (*engine.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, rate_class, labour_type, active FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context) ([]engine.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, rate_class, labour_type, active FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanResource(row rowScanner) (*engine.Resource, error) {
	var r engine.Resource
	var active int
	if err := row.Scan(&r.ID, &r.Name, &r.RateClass, &r.Labour, &active); err != nil {
		return nil, err
	}
	r.Active = active != 0
	return &r, nil
}

// =============================================================================
// COMMITMENTS
// =============================================================================

func (s *Store) SaveCommitment(ctx context.Context, c engine.Commitment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commitments (id, resource_id, period_start, period_end, cadence,
			committed_hours, total_available_hours, allocated_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_id = excluded.resource_id,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			cadence = excluded.cadence,
			committed_hours = excluded.committed_hours,
			total_available_hours = excluded.total_available_hours,
			allocated_hours = excluded.allocated_hours`,
		c.ID, c.ResourceID, fmtDate(c.Period.Start), fmtDate(c.Period.End), c.Cadence,
		c.CommittedHours.String(), c.TotalAvailableHours.String(), c.AllocatedHours.String())
	return err
}

func (s *Store) GetCommitment(ctx context.Context, id engine.CommitmentID) (*engine.Commitment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, period_start, period_end, cadence,
			committed_hours, total_available_hours, allocated_hours
		FROM commitments WHERE id = ?`, id)
	c, err := scanCommitment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListCommitmentsByResource(ctx context.Context, id engine.ResourceID) ([]engine.Commitment, error) {
	return s.queryCommitments(ctx, `
		SELECT id, resource_id, period_start, period_end, cadence,
			committed_hours, total_available_hours, allocated_hours
		FROM commitments WHERE resource_id = ? ORDER BY id`, id)
}

func (s *Store) ListCommitments(ctx context.Context) ([]engine.Commitment, error) {
	return s.queryCommitments(ctx, `
		SELECT id, resource_id, period_start, period_end, cadence,
			committed_hours, total_available_hours, allocated_hours
		FROM commitments ORDER BY id`)
}

func (s *Store) queryCommitments(ctx context.Context, query string, args ...any) ([]engine.Commitment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCommitment(row rowScanner) (*engine.Commitment, error) {
	var c engine.Commitment
	var start, end, committed, total, allocated string
	if err := row.Scan(&c.ID, &c.ResourceID, &start, &end, &c.Cadence,
		&committed, &total, &allocated); err != nil {
		return nil, err
	}
	var err error
	if c.Period.Start, err = parseDate(start); err != nil {
		return nil, err
	}
	if c.Period.End, err = parseDate(end); err != nil {
		return nil, err
	}
	if c.CommittedHours, err = decimal.NewFromString(committed); err != nil {
		return nil, err
	}
	if c.TotalAvailableHours, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	if c.AllocatedHours, err = decimal.NewFromString(allocated); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

const allocationCols = `id, resource_id, work_item_id, project_id, allocated_hours,
	forecast_start, forecast_end, provenance, actual_hours, actual_cost,
	variance_hours, variance_cost, variance_pct, status`

func (s *Store) SaveAllocation(ctx context.Context, a engine.Allocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allocations (`+allocationCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			allocated_hours = excluded.allocated_hours,
			forecast_start = excluded.forecast_start,
			forecast_end = excluded.forecast_end,
			provenance = excluded.provenance,
			actual_hours = excluded.actual_hours,
			actual_cost = excluded.actual_cost,
			variance_hours = excluded.variance_hours,
			variance_cost = excluded.variance_cost,
			variance_pct = excluded.variance_pct,
			status = excluded.status`,
		a.ID, a.ResourceID, a.WorkItemID, a.ProjectID, a.AllocatedHours.String(),
		fmtDatePtr(a.ForecastStart), fmtDatePtr(a.ForecastEnd), a.Provenance,
		a.ActualHours.String(), a.ActualCost.String(), a.VarianceHours.String(),
		a.VarianceCost.String(), a.VariancePct.String(), a.Status)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return engine.ErrDuplicateAllocation
	}
	return err
}

func (s *Store) GetAllocation(ctx context.Context, id engine.AllocationID) (*engine.Allocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+allocationCols+` FROM allocations WHERE id = ?`, id)
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) FindAllocation(ctx context.Context, r engine.ResourceID, w engine.WorkItemID) (*engine.Allocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+allocationCols+` FROM allocations WHERE resource_id = ? AND work_item_id = ?`, r, w)
	a, err := scanAllocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAllocationsByResource(ctx context.Context, id engine.ResourceID) ([]engine.Allocation, error) {
	return s.queryAllocations(ctx,
		`SELECT `+allocationCols+` FROM allocations WHERE resource_id = ? ORDER BY id`, id)
}

func (s *Store) ListAllocationsByProject(ctx context.Context, id engine.ProjectID) ([]engine.Allocation, error) {
	return s.queryAllocations(ctx,
		`SELECT `+allocationCols+` FROM allocations WHERE project_id = ? ORDER BY id`, id)
}

func (s *Store) ListAllocations(ctx context.Context) ([]engine.Allocation, error) {
	return s.queryAllocations(ctx,
		`SELECT `+allocationCols+` FROM allocations ORDER BY id`)
}

func (s *Store) queryAllocations(ctx context.Context, query string, args ...any) ([]engine.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAllocation(row rowScanner) (*engine.Allocation, error) {
	var a engine.Allocation
	var allocated, actualH, actualC, varH, varC, varPct string
	var fStart, fEnd sql.NullString
	if err := row.Scan(&a.ID, &a.ResourceID, &a.WorkItemID, &a.ProjectID, &allocated,
		&fStart, &fEnd, &a.Provenance, &actualH, &actualC, &varH, &varC, &varPct,
		&a.Status); err != nil {
		return nil, err
	}

	var err error
	if a.AllocatedHours, err = decimal.NewFromString(allocated); err != nil {
		return nil, err
	}
	if a.ActualHours, err = decimal.NewFromString(actualH); err != nil {
		return nil, err
	}
	if a.ActualCost, err = decimal.NewFromString(actualC); err != nil {
		return nil, err
	}
	if a.VarianceHours, err = decimal.NewFromString(varH); err != nil {
		return nil, err
	}
	if a.VarianceCost, err = decimal.NewFromString(varC); err != nil {
		return nil, err
	}
	if a.VariancePct, err = decimal.NewFromString(varPct); err != nil {
		return nil, err
	}
	if a.ForecastStart, err = parseDatePtr(fStart); err != nil {
		return nil, err
	}
	if a.ForecastEnd, err = parseDatePtr(fEnd); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// HOURS AND NON-LABOUR ACTUALS
// =============================================================================

// SaveHoursRecord persists one normalized hours row. Called by the host's
// ingestion component, not by the engine.
func (s *Store) SaveHoursRecord(ctx context.Context, h engine.HoursRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hours_records (id, resource_id, work_item_id, project_id, entry_date, hours)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hours = excluded.hours`,
		h.ID, h.ResourceID, h.WorkItemID, h.ProjectID, fmtDate(h.Date), h.Hours.String())
	return err
}

func (s *Store) ListHours(ctx context.Context, r engine.ResourceID, w engine.WorkItemID) ([]engine.HoursRecord, error) {
	return s.queryHours(ctx, `
		SELECT id, resource_id, work_item_id, project_id, entry_date, hours
		FROM hours_records WHERE resource_id = ? AND work_item_id = ? ORDER BY entry_date`, r, w)
}

func (s *Store) ListHoursByResource(ctx context.Context, r engine.ResourceID) ([]engine.HoursRecord, error) {
	return s.queryHours(ctx, `
		SELECT id, resource_id, work_item_id, project_id, entry_date, hours
		FROM hours_records WHERE resource_id = ? ORDER BY entry_date`, r)
}

func (s *Store) ListAllHours(ctx context.Context) ([]engine.HoursRecord, error) {
	return s.queryHours(ctx, `
		SELECT id, resource_id, work_item_id, project_id, entry_date, hours
		FROM hours_records ORDER BY entry_date`)
}

func (s *Store) queryHours(ctx context.Context, query string, args ...any) ([]engine.HoursRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.HoursRecord
	for rows.Next() {
		var h engine.HoursRecord
		var date, hours string
		if err := rows.Scan(&h.ID, &h.ResourceID, &h.WorkItemID, &h.ProjectID, &date, &hours); err != nil {
			return nil, err
		}
		if h.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if h.Hours, err = decimal.NewFromString(hours); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveActualRecord persists one non-labour posting.
func (s *Store) SaveActualRecord(ctx context.Context, a engine.ActualRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actual_records (id, project_id, cost_code, entry_date, amount, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET amount = excluded.amount`,
		a.ID, a.ProjectID, a.CostCode, fmtDate(a.Date), a.Amount.String(), a.Description)
	return err
}

func (s *Store) ListActuals(ctx context.Context, p engine.ProjectID, period engine.Period) ([]engine.ActualRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, cost_code, entry_date, amount, description
		FROM actual_records
		WHERE project_id = ? AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date`,
		p, fmtDate(period.Start), fmtDate(period.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ActualRecord
	for rows.Next() {
		var a engine.ActualRecord
		var date, amount string
		var desc sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.CostCode, &date, &amount, &desc); err != nil {
			return nil, err
		}
		if a.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		a.Description = desc.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListActualProjects(ctx context.Context) ([]engine.ProjectID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT project_id FROM actual_records ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ProjectID
	for rows.Next() {
		var p engine.ProjectID
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// THRESHOLDS
// =============================================================================

func (s *Store) SaveThreshold(ctx context.Context, t engine.VarianceThreshold) error {
	if t.Scope == engine.ScopeGlobal {
		t.EntityID = "" // exactly one global row
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thresholds (scope, entity_id, hours_pct, cost_pct, schedule_days)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, entity_id) DO UPDATE SET
			hours_pct = excluded.hours_pct,
			cost_pct = excluded.cost_pct,
			schedule_days = excluded.schedule_days`,
		t.Scope, t.EntityID, t.HoursPct.String(), t.CostPct.String(), t.ScheduleDays)
	return err
}

func (s *Store) GetThreshold(ctx context.Context, scope engine.ThresholdScope, entityID string) (*engine.VarianceThreshold, error) {
	if scope == engine.ScopeGlobal {
		entityID = ""
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT scope, entity_id, hours_pct, cost_pct, schedule_days
		FROM thresholds WHERE scope = ? AND entity_id = ?`, scope, entityID)

	var t engine.VarianceThreshold
	var hours, cost string
	err := row.Scan(&t.Scope, &t.EntityID, &hours, &cost, &t.ScheduleDays)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.HoursPct, err = decimal.NewFromString(hours); err != nil {
		return nil, err
	}
	if t.CostPct, err = decimal.NewFromString(cost); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteThreshold(ctx context.Context, scope engine.ThresholdScope, entityID string) error {
	if scope == engine.ScopeGlobal {
		entityID = ""
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM thresholds WHERE scope = ? AND entity_id = ?`, scope, entityID)
	return err
}

// =============================================================================
// ALERTS
// =============================================================================

func (s *Store) InsertAlert(ctx context.Context, a engine.VarianceAlert) (bool, error) {
	// INSERT OR IGNORE: re-detection of an existing alert (acknowledged or
	// not) is a no-op.
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alerts (id, alert_type, severity, entity_scope, entity_id,
			message, amount, percent, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		a.ID, a.Type, a.Severity, a.EntityScope, a.EntityID,
		a.Message, a.Amount.String(), a.Percent.String(), fmtDate(a.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetAlert(ctx context.Context, id engine.AlertID) (*engine.VarianceAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, alert_type, severity, entity_scope, entity_id, message,
			amount, percent, created_at, acknowledged, acknowledged_by, acknowledged_at
		FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context, filter engine.AlertFilter) ([]engine.VarianceAlert, error) {
	query := `
		SELECT id, alert_type, severity, entity_scope, entity_id, message,
			amount, percent, created_at, acknowledged, acknowledged_by, acknowledged_at
		FROM alerts WHERE 1=1`
	var args []any
	if filter.Acknowledged != nil {
		query += ` AND acknowledged = ?`
		args = append(args, boolToInt(*filter.Acknowledged))
	}
	if filter.Type != nil {
		query += ` AND alert_type = ?`
		args = append(args, *filter.Type)
	}
	if filter.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, *filter.Severity)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.VarianceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAlertAck(ctx context.Context, a engine.VarianceAlert) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ?`,
		boolToInt(a.Acknowledged), a.AcknowledgedBy, fmtDatePtr(a.AcknowledgedAt), a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrAlertNotFound
	}
	return nil
}

func scanAlert(row rowScanner) (*engine.VarianceAlert, error) {
	var a engine.VarianceAlert
	var amount, percent, created string
	var acked int
	var ackBy, ackAt sql.NullString
	if err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.EntityScope, &a.EntityID,
		&a.Message, &amount, &percent, &created, &acked, &ackBy, &ackAt); err != nil {
		return nil, err
	}

	var err error
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if a.Percent, err = decimal.NewFromString(percent); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseDate(created); err != nil {
		return nil, err
	}
	a.Acknowledged = acked != 0
	a.AcknowledgedBy = ackBy.String
	if a.AcknowledgedAt, err = parseDatePtr(ackAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) UpsertLedgerEntry(ctx context.Context, e engine.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (project_id, cost_code, month, year, fiscal_year,
			expenditure_type, forecast, actual, variance, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, cost_code, month, year, expenditure_type) DO UPDATE SET
			fiscal_year = excluded.fiscal_year,
			forecast = excluded.forecast,
			actual = excluded.actual,
			variance = excluded.variance,
			source = excluded.source`,
		e.ProjectID, e.CostCode, int(e.Month), e.Year, e.FiscalYear,
		e.ExpenditureType, e.Forecast.String(), e.Actual.String(), e.Variance.String(), e.Source)
	return err
}

func (s *Store) ListLedgerEntries(ctx context.Context, p engine.ProjectID, month int, year int) ([]engine.LedgerEntry, error) {
	return s.queryLedger(ctx, `
		SELECT project_id, cost_code, month, year, fiscal_year, expenditure_type,
			forecast, actual, variance, source
		FROM ledger_entries WHERE project_id = ? AND month = ? AND year = ?
		ORDER BY cost_code, expenditure_type`, p, month, year)
}

func (s *Store) ListLedgerEntriesInRange(ctx context.Context, p engine.ProjectID, period engine.Period) ([]engine.LedgerEntry, error) {
	// An entry is in range when the first day of its month falls in the period.
	return s.queryLedger(ctx, `
		SELECT project_id, cost_code, month, year, fiscal_year, expenditure_type,
			forecast, actual, variance, source
		FROM ledger_entries
		WHERE project_id = ?
			AND printf('%04d-%02d-01', year, month) >= ?
			AND printf('%04d-%02d-01', year, month) <= ?
		ORDER BY year, month, cost_code, expenditure_type`,
		p, fmtDate(period.Start), fmtDate(period.End))
}

func (s *Store) queryLedger(ctx context.Context, query string, args ...any) ([]engine.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.LedgerEntry
	for rows.Next() {
		var e engine.LedgerEntry
		var month int
		var forecast, actual, variance string
		if err := rows.Scan(&e.ProjectID, &e.CostCode, &month, &e.Year, &e.FiscalYear,
			&e.ExpenditureType, &forecast, &actual, &variance, &e.Source); err != nil {
			return nil, err
		}
		e.Month = time.Month(month)
		if e.Forecast, err = decimal.NewFromString(forecast); err != nil {
			return nil, err
		}
		if e.Actual, err = decimal.NewFromString(actual); err != nil {
			return nil, err
		}
		if e.Variance, err = decimal.NewFromString(variance); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// RATE TABLE (engine.RateTable)
// =============================================================================

// SaveRate registers an hourly rate for (rate class, fiscal year).
func (s *Store) SaveRate(ctx context.Context, rateClass, fiscalYear string, rate decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rates (rate_class, fiscal_year, hourly_rate)
		VALUES (?, ?, ?)
		ON CONFLICT(rate_class, fiscal_year) DO UPDATE SET hourly_rate = excluded.hourly_rate`,
		rateClass, fiscalYear, rate.String())
	return err
}

func (s *Store) HourlyRate(ctx context.Context, rateClass, fiscalYear string) (decimal.Decimal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hourly_rate FROM rates WHERE rate_class = ? AND fiscal_year = ?`,
		rateClass, fiscalYear)
	var rate string
	err := row.Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Zero, &engine.RateMissingError{RateClass: rateClass, FiscalYear: fiscalYear}
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(rate)
}

// =============================================================================
// MILESTONE SNAPSHOTS (engine.MilestoneSource)
// =============================================================================

type milestoneJSON struct {
	Phase      string `json:"phase"`
	TargetDate string `json:"target_date"`
}

// SaveMilestoneSnapshot stores the latest normalized snapshot for a work
// item. Called by the work-tracking sync component.
func (s *Store) SaveMilestoneSnapshot(ctx context.Context, snap engine.MilestoneSnapshot) error {
	ms := make([]milestoneJSON, 0, len(snap.Milestones))
	for _, m := range snap.Milestones {
		ms = append(ms, milestoneJSON{Phase: string(m.Phase), TargetDate: fmtDate(m.TargetDate)})
	}
	payload, err := json.Marshal(ms)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO milestone_snapshots (work_item_id, project_id, phase, milestones_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(work_item_id) DO UPDATE SET
			project_id = excluded.project_id,
			phase = excluded.phase,
			milestones_json = excluded.milestones_json`,
		snap.WorkItemID, snap.ProjectID, snap.Phase, string(payload))
	return err
}

func (s *Store) GetMilestoneSnapshot(ctx context.Context, w engine.WorkItemID) (*engine.MilestoneSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT work_item_id, project_id, phase, milestones_json
		FROM milestone_snapshots WHERE work_item_id = ?`, w)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) ListMilestoneSnapshots(ctx context.Context) ([]engine.MilestoneSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT work_item_id, project_id, phase, milestones_json
		FROM milestone_snapshots ORDER BY work_item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.MilestoneSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSnapshot(row rowScanner) (*engine.MilestoneSnapshot, error) {
	var snap engine.MilestoneSnapshot
	var payload string
	if err := row.Scan(&snap.WorkItemID, &snap.ProjectID, &snap.Phase, &payload); err != nil {
		return nil, err
	}

	var ms []milestoneJSON
	if err := json.Unmarshal([]byte(payload), &ms); err != nil {
		return nil, err
	}
	for _, m := range ms {
		date, err := parseDate(m.TargetDate)
		if err != nil {
			return nil, err
		}
		snap.Milestones = append(snap.Milestones, engine.Milestone{
			Phase:      engine.Phase(m.Phase),
			TargetDate: date,
		})
	}
	return &snap, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtDate(t engine.TimePoint) string { return t.Time.UTC().Format(dateLayout) }

func fmtDatePtr(t *engine.TimePoint) any {
	if t == nil {
		return nil
	}
	return fmtDate(*t)
}

func parseDate(s string) (engine.TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return engine.TimePoint{}, err
	}
	return engine.NewTimePointFromTime(t), nil
}

func parseDatePtr(s sql.NullString) (*engine.TimePoint, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
