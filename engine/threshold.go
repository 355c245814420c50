/*
threshold.go - Variance threshold resolution with scoped overrides

PURPOSE:
  Resolves the effective variance threshold for an entity. Precedence is an
  ordered lookup chain - exact (scope, id) row, then the single global row,
  then a hard-coded default - so a new scope level can be inserted without
  touching call sites. Resolution never fails.
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// THRESHOLD MODEL
// =============================================================================

type ThresholdScope string

const (
	ScopeResource ThresholdScope = "resource"
	ScopeProject  ThresholdScope = "project"
	ScopeGlobal   ThresholdScope = "global"
)

// VarianceThreshold is an override row scoped to (Scope, EntityID). The
// global row is the only one with an empty EntityID, and at most one global
// row exists.
type VarianceThreshold struct {
	Scope        ThresholdScope
	EntityID     string
	HoursPct     decimal.Decimal
	CostPct      decimal.Decimal
	ScheduleDays int
}

// DefaultThreshold is the hard-coded fallback when neither an entity override
// nor a global row exists: 20% hours, 20% cost, 7 schedule days.
func DefaultThreshold() VarianceThreshold {
	return VarianceThreshold{
		Scope:        ScopeGlobal,
		HoursPct:     decimal.NewFromInt(20),
		CostPct:      decimal.NewFromInt(20),
		ScheduleDays: 7,
	}
}

// =============================================================================
// RESOLVER
// =============================================================================

// ThresholdResolver resolves effective thresholds through the override chain.
type ThresholdResolver struct {
	Store ThresholdStore
}

// lookup is one link in the resolution chain.
type lookup struct {
	scope    ThresholdScope
	entityID string
}

// Resolve returns the effective threshold for an entity. Storage errors are
// swallowed into the fallback chain: a threshold read must never block a
// detection sweep.
func (tr *ThresholdResolver) Resolve(ctx context.Context, scope ThresholdScope, entityID string) VarianceThreshold {
	chain := []lookup{
		{scope: scope, entityID: entityID},
		{scope: ScopeGlobal, entityID: ""},
	}

	for _, l := range chain {
		t, err := tr.Store.GetThreshold(ctx, l.scope, l.entityID)
		if err == nil && t != nil {
			return *t
		}
	}
	return DefaultThreshold()
}
