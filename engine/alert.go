/*
alert.go - Variance alerts and deterministic identity

PURPOSE:
  A VarianceAlert is an immutable fact once created; its only legal mutation
  is the acknowledgment transition, which is terminal. Alert identity is
  derived from the alert's defining fields plus a coarse day bucket, so a
  re-run of the same sweep regenerates the same ids and insert-if-absent
  persistence deduplicates without any in-memory "seen" cache surviving
  process restarts.
*/
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALERT MODEL
// =============================================================================

type AlertType string

const (
	AlertCommitment   AlertType = "commitment"
	AlertEffort       AlertType = "effort"
	AlertCost         AlertType = "cost"
	AlertSchedule     AlertType = "schedule"
	AlertUnauthorized AlertType = "unauthorized"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for sorting; higher is more urgent.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// VarianceAlert records one threshold breach. EntityScope/EntityID identify
// what breached (a resource, a project, a work item, or an hours record).
type VarianceAlert struct {
	ID          AlertID
	Type        AlertType
	Severity    Severity
	EntityScope string
	EntityID    string
	Message     string
	Amount      decimal.Decimal
	Percent     decimal.Decimal
	CreatedAt   TimePoint

	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *TimePoint
}

// =============================================================================
// DETERMINISTIC IDENTITY
// =============================================================================

// NewAlertID derives the alert's stable identity from its defining fields
// plus a day bucket. A fresh breach on a later day yields a new id; the same
// breach detected twice in one day yields the same id.
func NewAlertID(t AlertType, entityScope, entityID string, bucket TimePoint) AlertID {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", t, entityScope, entityID, bucket)))
	return AlertID(hex.EncodeToString(sum[:16]))
}

// SortAlerts orders alerts by severity (critical first), then type, then
// entity for a stable listing.
func SortAlerts(alerts []VarianceAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if severityRank(a.Severity) != severityRank(b.Severity) {
			return severityRank(a.Severity) > severityRank(b.Severity)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.EntityID < b.EntityID
	})
}
