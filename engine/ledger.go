/*
ledger.go - Period ledger aggregation and P&L

PURPOSE:
  Rolls reconciled labour allocations and non-labour actuals into one ledger
  entry per (project, cost code, period, expenditure type), then sums entries
  into a P&L view. Rebuilds are idempotent: every write is an upsert on the
  entry's natural key, so running the builder twice leaves one entry per
  expenditure type with the latest amounts, never doubled totals.

EXPENDITURE TYPES:
  Capped Labour  - all labour allocations in scope, forecast priced through
                   the rate table, actuals taken from reconciled cost
  Software/Hardware/Other - non-labour actuals grouped by cost-code prefix

FISCAL YEAR:
  Entry labels derive from the configurable fiscal-year start month (default
  April): months before the start month belong to the current calendar
  year's label, months at/after to the next.
*/
package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

const (
	ExpenditureCappedLabour = "Capped Labour"
	ExpenditureSoftware     = "Software"
	ExpenditureHardware     = "Hardware"
	ExpenditureOther        = "Other"

	costCodeLabour   = "CAPLAB"
	costCodeSoftware = "SW"
	costCodeHardware = "HW"
	costCodeOther    = "OTH"

	SourceLabour    = "labour-allocations"
	SourceNonLabour = "non-labour-actuals"
)

// LedgerEntry is one row per (project, cost code, period, expenditure type).
// Upserted, never duplicated for the same natural key within a period.
type LedgerEntry struct {
	ProjectID       ProjectID
	CostCode        string
	Month           time.Month
	Year            int
	FiscalYear      string
	ExpenditureType string
	Forecast        decimal.Decimal
	Actual          decimal.Decimal
	Variance        decimal.Decimal
	Source          string
}

// NaturalKey identifies the upsert target.
func (e LedgerEntry) NaturalKey() string {
	return strings.Join([]string{string(e.ProjectID), e.CostCode,
		e.Month.String(), strconv.Itoa(e.Year), e.ExpenditureType}, "|")
}

// categoryForCostCode maps a non-labour cost code to its expenditure
// category via its prefix.
func categoryForCostCode(code string) (category, groupCode string) {
	switch {
	case strings.HasPrefix(code, costCodeSoftware):
		return ExpenditureSoftware, costCodeSoftware
	case strings.HasPrefix(code, costCodeHardware):
		return ExpenditureHardware, costCodeHardware
	default:
		return ExpenditureOther, costCodeOther
	}
}

// =============================================================================
// LEDGER BUILDER
// =============================================================================

// LedgerBuilder aggregates reconciled data into period ledger entries.
type LedgerBuilder struct {
	Rates           RateTable
	FiscalYearStart time.Month
	Log             zerolog.Logger
}

// BuildLedger rebuilds the ledger for one (project, month, year). Safe to run
// repeatedly; each entry is an atomic upsert, so a cancelled rebuild leaves a
// consistent partial result that the next run completes.
func (lb *LedgerBuilder) BuildLedger(ctx context.Context, store Store, project ProjectID, month time.Month, year int) ([]LedgerEntry, error) {
	period := MonthPeriod(year, month)
	fy := FiscalYearLabel(year, month, lb.FiscalYearStart)

	var entries []LedgerEntry

	labour, err := lb.labourEntry(ctx, store, project, period, month, year, fy)
	if err != nil {
		return nil, err
	}
	if labour != nil {
		entries = append(entries, *labour)
	}

	nonLabour, err := lb.nonLabourEntries(ctx, store, project, period, month, year, fy)
	if err != nil {
		return nil, err
	}
	entries = append(entries, nonLabour...)

	for _, e := range entries {
		if ctx.Err() != nil {
			return entries, ctx.Err()
		}
		if err := store.UpsertLedgerEntry(ctx, e); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

// labourEntry prices all in-scope labour allocations into a single Capped
// Labour row. Returns nil when the project has no labour in the period.
func (lb *LedgerBuilder) labourEntry(ctx context.Context, store Store, project ProjectID, period Period, month time.Month, year int, fy string) (*LedgerEntry, error) {
	allocations, err := store.ListAllocationsByProject(ctx, project)
	if err != nil {
		return nil, err
	}

	forecast, actual := decimal.Zero, decimal.Zero
	inScope := 0
	for _, a := range allocations {
		if !a.InWindow(period) {
			continue
		}
		inScope++

		rate, err := lb.rateFor(ctx, store, a, fy)
		if err != nil {
			lb.Log.Warn().Err(err).Str("allocation", string(a.ID)).Msg("forecast priced at zero")
			rate = decimal.Zero
		}
		forecast = forecast.Add(a.AllocatedHours.Mul(rate))
		actual = actual.Add(a.ActualCost)
	}
	if inScope == 0 {
		return nil, nil
	}

	return &LedgerEntry{
		ProjectID:       project,
		CostCode:        costCodeLabour,
		Month:           month,
		Year:            year,
		FiscalYear:      fy,
		ExpenditureType: ExpenditureCappedLabour,
		Forecast:        forecast,
		Actual:          actual,
		Variance:        actual.Sub(forecast),
		Source:          SourceLabour,
	}, nil
}

func (lb *LedgerBuilder) rateFor(ctx context.Context, store Store, a Allocation, fy string) (decimal.Decimal, error) {
	res, err := store.GetResource(ctx, a.ResourceID)
	if err != nil {
		return decimal.Zero, err
	}
	if res == nil {
		return decimal.Zero, ErrResourceNotFound
	}
	return lb.Rates.HourlyRate(ctx, res.RateClass, fy)
}

// nonLabourEntries groups the period's non-labour postings by cost-code
// category, one entry per category. Non-labour has no forecast feed, so
// forecast stays zero and variance equals actual spend.
func (lb *LedgerBuilder) nonLabourEntries(ctx context.Context, store Store, project ProjectID, period Period, month time.Month, year int, fy string) ([]LedgerEntry, error) {
	records, err := store.ListActuals(ctx, project, period)
	if err != nil {
		return nil, err
	}

	totals := map[string]decimal.Decimal{}
	codes := map[string]string{}
	var order []string
	for _, r := range records {
		category, groupCode := categoryForCostCode(r.CostCode)
		if _, ok := totals[category]; !ok {
			order = append(order, category)
			codes[category] = groupCode
		}
		totals[category] = totals[category].Add(r.Amount)
	}

	var entries []LedgerEntry
	for _, category := range order {
		actual := totals[category]
		entries = append(entries, LedgerEntry{
			ProjectID:       project,
			CostCode:        codes[category],
			Month:           month,
			Year:            year,
			FiscalYear:      fy,
			ExpenditureType: category,
			Forecast:        decimal.Zero,
			Actual:          actual,
			Variance:        actual,
			Source:          SourceNonLabour,
		})
	}
	return entries, nil
}

// =============================================================================
// P&L
// =============================================================================

// PnLLine is the per-expenditure-type breakdown inside a P&L summary.
type PnLLine struct {
	ExpenditureType string
	Forecast        decimal.Decimal
	Actual          decimal.Decimal
	Variance        decimal.Decimal
}

// PnLSummary totals ledger entries for a project over a period range.
type PnLSummary struct {
	ProjectID     ProjectID
	Period        Period
	TotalForecast decimal.Decimal
	TotalActual   decimal.Decimal
	TotalVariance decimal.Decimal
	ByType        []PnLLine
}

// CalculatePnL sums all ledger entries for the project whose period falls in
// the requested range, with a per-expenditure-type breakdown.
func (lb *LedgerBuilder) CalculatePnL(ctx context.Context, store Store, project ProjectID, period Period) (PnLSummary, error) {
	summary := PnLSummary{
		ProjectID:     project,
		Period:        period,
		TotalForecast: decimal.Zero,
		TotalActual:   decimal.Zero,
		TotalVariance: decimal.Zero,
	}
	if !period.Valid() {
		return summary, ErrInvalidRange
	}

	entries, err := store.ListLedgerEntriesInRange(ctx, project, period)
	if err != nil {
		return summary, err
	}

	byType := map[string]*PnLLine{}
	var order []string
	for _, e := range entries {
		summary.TotalForecast = summary.TotalForecast.Add(e.Forecast)
		summary.TotalActual = summary.TotalActual.Add(e.Actual)
		summary.TotalVariance = summary.TotalVariance.Add(e.Variance)

		line, ok := byType[e.ExpenditureType]
		if !ok {
			line = &PnLLine{ExpenditureType: e.ExpenditureType}
			byType[e.ExpenditureType] = line
			order = append(order, e.ExpenditureType)
		}
		line.Forecast = line.Forecast.Add(e.Forecast)
		line.Actual = line.Actual.Add(e.Actual)
		line.Variance = line.Variance.Add(e.Variance)
	}

	for _, t := range order {
		summary.ByType = append(summary.ByType, *byType[t])
	}
	return summary, nil
}
