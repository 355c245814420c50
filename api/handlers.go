/*
handlers.go - HTTP handlers for the engine's operation surface

PURPOSE:
  Thin JSON adapters over the engine facade. Handlers parse input, call one
  engine operation, and map structured errors onto HTTP status codes:

    validation errors      400
    unknown entities       404
    already acknowledged   409
    everything else        500

SEE ALSO:
  - server.go: route wiring
  - dto.go:    request/response shapes
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/variance-engine/engine"
)

// Handler carries the engine and logger for all routes.
type Handler struct {
	Engine *engine.Engine
	Log    zerolog.Logger
}

func NewHandler(eng *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{Engine: eng, Log: log}
}

// -----------------------------------------------------------------------------
// Reconciliation and capacity
// -----------------------------------------------------------------------------

// ReconcileResource POST /api/resources/{id}/reconcile
func (h *Handler) ReconcileResource(w http.ResponseWriter, r *http.Request) {
	id := engine.ResourceID(chi.URLParam(r, "id"))

	result, err := h.Engine.ReconcileResource(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reconcileResponse{
		ResourceID:         string(result.ResourceID),
		AllocationsUpdated: result.AllocationsUpdated,
		Warnings:           toWarnings(result.Warnings),
	})
}

// RecalculateCapacity POST /api/commitments/{id}/recalculate
func (h *Handler) RecalculateCapacity(w http.ResponseWriter, r *http.Request) {
	id := engine.CommitmentID(chi.URLParam(r, "id"))

	snap, err := h.Engine.RecalculateCapacity(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCapacityResponse(snap))
}

// RunSweep POST /api/sweeps
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Sweep(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sweepResponse{
		RunID:                result.RunID,
		ResourcesReconciled:  result.ResourcesReconciled,
		AllocationsUpdated:   result.AllocationsUpdated,
		AlertsRaised:         result.AlertsRaised,
		LedgerEntriesWritten: result.LedgerEntriesWritten,
		Warnings:             toWarnings(result.Warnings),
	})
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// DetectVariances POST /api/variances/detect
func (h *Handler) DetectVariances(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Engine.DetectVariances(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertDTO(a))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ListAlerts GET /api/alerts?acknowledged=false&type=effort&severity=high
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var filter engine.AlertFilter
	if v := r.URL.Query().Get("acknowledged"); v != "" {
		acked := v == "true"
		filter.Acknowledged = &acked
	}
	if v := r.URL.Query().Get("type"); v != "" {
		t := engine.AlertType(v)
		filter.Type = &t
	}
	if v := r.URL.Query().Get("severity"); v != "" {
		s := engine.Severity(v)
		filter.Severity = &s
	}

	alerts, err := h.Engine.ListAlerts(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]alertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertDTO(a))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// AcknowledgeAlert POST /api/alerts/{id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := engine.AlertID(chi.URLParam(r, "id"))

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "actor is required"})
		return
	}

	if err := h.Engine.AcknowledgeAlert(r.Context(), id, req.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

// -----------------------------------------------------------------------------
// Ledger and P&L
// -----------------------------------------------------------------------------

// BuildLedger POST /api/projects/{id}/ledger
func (h *Handler) BuildLedger(w http.ResponseWriter, r *http.Request) {
	project := engine.ProjectID(chi.URLParam(r, "id"))

	var req buildLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.valid() {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "month (1-12) and year are required"})
		return
	}

	entries, err := h.Engine.BuildLedger(r.Context(), project, time.Month(req.Month), req.Year)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerEntryDTO(e))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ListLedger GET /api/projects/{id}/ledger?month=3&year=2026
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	project := engine.ProjectID(chi.URLParam(r, "id"))
	month, okM := atoiParam(r, "month")
	year, okY := atoiParam(r, "year")
	if !okM || !okY {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "month and year query params are required"})
		return
	}

	entries, err := h.Engine.ListLedgerEntries(r.Context(), project, time.Month(month), year)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toLedgerEntryDTO(e))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CalculatePnL GET /api/projects/{id}/pnl?from=2026-04-01&to=2027-03-31
func (h *Handler) CalculatePnL(w http.ResponseWriter, r *http.Request) {
	project := engine.ProjectID(chi.URLParam(r, "id"))

	from, err1 := parseDateParam(r, "from")
	to, err2 := parseDateParam(r, "to")
	if err1 != nil || err2 != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from and to must be 2006-01-02 dates"})
		return
	}

	summary, err := h.Engine.CalculatePnL(r.Context(), project, engine.Period{Start: from, End: to})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPnLResponse(summary))
}

// -----------------------------------------------------------------------------
// Thresholds
// -----------------------------------------------------------------------------

// GetThreshold GET /api/thresholds/{scope}/{entityID} (and /{scope} for global)
func (h *Handler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	scope := engine.ThresholdScope(chi.URLParam(r, "scope"))
	entityID := chi.URLParam(r, "entityID")

	t := h.Engine.ResolveThreshold(r.Context(), scope, entityID)
	h.writeJSON(w, http.StatusOK, toThresholdDTO(t))
}

// PutThreshold PUT /api/thresholds/{scope}/{entityID}
func (h *Handler) PutThreshold(w http.ResponseWriter, r *http.Request) {
	scope := engine.ThresholdScope(chi.URLParam(r, "scope"))
	entityID := chi.URLParam(r, "entityID")
	if !validScope(scope) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "scope must be resource, project or global"})
		return
	}

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid threshold payload"})
		return
	}

	t := engine.VarianceThreshold{
		Scope:        scope,
		EntityID:     entityID,
		HoursPct:     req.HoursPct,
		CostPct:      req.CostPct,
		ScheduleDays: req.ScheduleDays,
	}
	if err := h.Engine.SetThreshold(r.Context(), t); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toThresholdDTO(t))
}

// DeleteThreshold DELETE /api/thresholds/{scope}/{entityID}
func (h *Handler) DeleteThreshold(w http.ResponseWriter, r *http.Request) {
	scope := engine.ThresholdScope(chi.URLParam(r, "scope"))
	entityID := chi.URLParam(r, "entityID")
	if !validScope(scope) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "scope must be resource, project or global"})
		return
	}

	if err := h.Engine.RemoveThreshold(r.Context(), scope, entityID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validScope(s engine.ThresholdScope) bool {
	return s == engine.ScopeResource || s == engine.ScopeProject || s == engine.ScopeGlobal
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error().Err(err).Msg("response encode failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsValidation(err):
		status = http.StatusBadRequest
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case err == engine.ErrAlreadyAcknowledged:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func atoiParam(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func parseDateParam(r *http.Request, name string) (engine.TimePoint, error) {
	t, err := time.Parse("2006-01-02", r.URL.Query().Get(name))
	if err != nil {
		return engine.TimePoint{}, err
	}
	return engine.NewTimePointFromTime(t), nil
}
