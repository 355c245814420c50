/*
dto.go - JSON request/response shapes

PURPOSE:
  Wire representations for the HTTP surface. The engine never formats for
  display; these DTOs are the boundary where decimals become JSON numbers
  and TimePoints become 2006-01-02 strings.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/variance-engine/engine"
)

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

type capacityResponse struct {
	CommitmentID string          `json:"commitment_id"`
	Total        decimal.Decimal `json:"total_available_hours"`
	Allocated    decimal.Decimal `json:"allocated_hours"`
	Remaining    decimal.Decimal `json:"remaining_capacity"`
}

func toCapacityResponse(s engine.CapacitySnapshot) capacityResponse {
	return capacityResponse{
		CommitmentID: string(s.CommitmentID),
		Total:        s.Total,
		Allocated:    s.Allocated,
		Remaining:    s.Remaining,
	}
}

type warningDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
}

func toWarnings(ws []engine.Warning) []warningDTO {
	out := make([]warningDTO, 0, len(ws))
	for _, w := range ws {
		out = append(out, warningDTO{Code: string(w.Code), Message: w.Message, Entity: w.Entity})
	}
	return out
}

type reconcileResponse struct {
	ResourceID         string       `json:"resource_id"`
	AllocationsUpdated int          `json:"allocations_updated"`
	Warnings           []warningDTO `json:"warnings"`
}

type sweepResponse struct {
	RunID                string       `json:"run_id"`
	ResourcesReconciled  int          `json:"resources_reconciled"`
	AllocationsUpdated   int          `json:"allocations_updated"`
	AlertsRaised         int          `json:"alerts_raised"`
	LedgerEntriesWritten int          `json:"ledger_entries_written"`
	Warnings             []warningDTO `json:"warnings"`
}

type alertDTO struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Severity       string          `json:"severity"`
	EntityScope    string          `json:"entity_scope"`
	EntityID       string          `json:"entity_id"`
	Message        string          `json:"message"`
	Amount         decimal.Decimal `json:"amount"`
	Percent        decimal.Decimal `json:"percent"`
	CreatedAt      string          `json:"created_at"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt string          `json:"acknowledged_at,omitempty"`
}

func toAlertDTO(a engine.VarianceAlert) alertDTO {
	dto := alertDTO{
		ID:             string(a.ID),
		Type:           string(a.Type),
		Severity:       string(a.Severity),
		EntityScope:    a.EntityScope,
		EntityID:       a.EntityID,
		Message:        a.Message,
		Amount:         a.Amount,
		Percent:        a.Percent,
		CreatedAt:      a.CreatedAt.String(),
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
	}
	if a.AcknowledgedAt != nil {
		dto.AcknowledgedAt = a.AcknowledgedAt.String()
	}
	return dto
}

type ledgerEntryDTO struct {
	ProjectID       string          `json:"project_id"`
	CostCode        string          `json:"cost_code"`
	Month           string          `json:"month"`
	Year            int             `json:"year"`
	FiscalYear      string          `json:"fiscal_year"`
	ExpenditureType string          `json:"expenditure_type"`
	Forecast        decimal.Decimal `json:"forecast"`
	Actual          decimal.Decimal `json:"actual"`
	Variance        decimal.Decimal `json:"variance"`
	Source          string          `json:"source"`
}

func toLedgerEntryDTO(e engine.LedgerEntry) ledgerEntryDTO {
	return ledgerEntryDTO{
		ProjectID:       string(e.ProjectID),
		CostCode:        e.CostCode,
		Month:           e.Month.String(),
		Year:            e.Year,
		FiscalYear:      e.FiscalYear,
		ExpenditureType: e.ExpenditureType,
		Forecast:        e.Forecast,
		Actual:          e.Actual,
		Variance:        e.Variance,
		Source:          e.Source,
	}
}

type pnlLineDTO struct {
	ExpenditureType string          `json:"expenditure_type"`
	Forecast        decimal.Decimal `json:"forecast"`
	Actual          decimal.Decimal `json:"actual"`
	Variance        decimal.Decimal `json:"variance"`
}

type pnlResponse struct {
	ProjectID     string          `json:"project_id"`
	PeriodStart   string          `json:"period_start"`
	PeriodEnd     string          `json:"period_end"`
	TotalForecast decimal.Decimal `json:"total_forecast"`
	TotalActual   decimal.Decimal `json:"total_actual"`
	TotalVariance decimal.Decimal `json:"total_variance"`
	ByType        []pnlLineDTO    `json:"by_type"`
}

func toPnLResponse(p engine.PnLSummary) pnlResponse {
	resp := pnlResponse{
		ProjectID:     string(p.ProjectID),
		PeriodStart:   p.Period.Start.String(),
		PeriodEnd:     p.Period.End.String(),
		TotalForecast: p.TotalForecast,
		TotalActual:   p.TotalActual,
		TotalVariance: p.TotalVariance,
	}
	for _, l := range p.ByType {
		resp.ByType = append(resp.ByType, pnlLineDTO{
			ExpenditureType: l.ExpenditureType,
			Forecast:        l.Forecast,
			Actual:          l.Actual,
			Variance:        l.Variance,
		})
	}
	return resp
}

type thresholdDTO struct {
	Scope        string          `json:"scope"`
	EntityID     string          `json:"entity_id,omitempty"`
	HoursPct     decimal.Decimal `json:"hours_pct"`
	CostPct      decimal.Decimal `json:"cost_pct"`
	ScheduleDays int             `json:"schedule_days"`
}

func toThresholdDTO(t engine.VarianceThreshold) thresholdDTO {
	return thresholdDTO{
		Scope:        string(t.Scope),
		EntityID:     t.EntityID,
		HoursPct:     t.HoursPct,
		CostPct:      t.CostPct,
		ScheduleDays: t.ScheduleDays,
	}
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

type buildLedgerRequest struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (r buildLedgerRequest) valid() bool {
	return r.Month >= int(time.January) && r.Month <= int(time.December) && r.Year > 0
}

type acknowledgeRequest struct {
	Actor string `json:"actor"`
}

type thresholdRequest struct {
	HoursPct     decimal.Decimal `json:"hours_pct"`
	CostPct      decimal.Decimal `json:"cost_pct"`
	ScheduleDays int             `json:"schedule_days"`
}

type errorResponse struct {
	Error string `json:"error"`
}
