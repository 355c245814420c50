/*
errors.go - Centralized error and warning types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected immediately, never partially applied
  2. Data-quality warnings - recorded, processing continues with degraded output
  3. Not-found / state errors - missing entities, illegal state transitions

NOTHING HERE IS FATAL:
  Every operation returns a structured result. Sweeps log and continue past
  individual entity failures rather than aborting the whole run.

USAGE:
  if errors.Is(err, engine.ErrInvalidCadence) { ... }

  var rateErr *engine.RateMissingError
  if errors.As(err, &rateErr) { ... }
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned when a commitment or query period ends
	// before it starts. Validation error: the caller must fix the input.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInvalidCadence is returned for an unrecognized commitment cadence.
	ErrInvalidCadence = errors.New("invalid cadence")

	// ErrRateMissing indicates no hourly rate exists for a rate class and
	// fiscal year. Non-fatal: hours still reconcile, cost fields stay zero.
	ErrRateMissing = errors.New("hourly rate missing")

	// ErrAlreadyAcknowledged is returned when acknowledging an alert that is
	// already in its terminal state.
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")

	// ErrAlertNotFound is returned for an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrCommitmentNotFound is returned for an unknown commitment id.
	ErrCommitmentNotFound = errors.New("commitment not found")

	// ErrResourceNotFound is returned for an unknown resource id.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrAllocationNotFound is returned for an unknown allocation id.
	ErrAllocationNotFound = errors.New("allocation not found")

	// ErrDuplicateAllocation is returned when creating a second allocation for
	// the same (resource, work item) pair.
	ErrDuplicateAllocation = errors.New("allocation exists for resource and work item")

	// ErrThresholdNotFound is returned when no override row exists for a scope.
	// The resolver itself never surfaces this; it falls back instead.
	ErrThresholdNotFound = errors.New("threshold override not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RateMissingError reports which rate lookup failed during reconciliation.
type RateMissingError struct {
	RateClass  string
	FiscalYear string
}

func (e *RateMissingError) Error() string {
	return fmt.Sprintf("hourly rate missing for class %q in %s", e.RateClass, e.FiscalYear)
}

func (e *RateMissingError) Unwrap() error { return ErrRateMissing }

// InvalidCadenceError reports the rejected cadence value.
type InvalidCadenceError struct {
	Cadence Cadence
}

func (e *InvalidCadenceError) Error() string {
	return fmt.Sprintf("invalid cadence %q", e.Cadence)
}

func (e *InvalidCadenceError) Unwrap() error { return ErrInvalidCadence }

// =============================================================================
// WARNINGS - Data-quality problems that do not stop processing
// =============================================================================

type WarningCode string

const (
	WarnRateMissing        WarningCode = "rate_missing"
	WarnDegenerateForecast WarningCode = "degenerate_forecast" // allocation with zero allocated hours
	WarnUnmappedResource   WarningCode = "unmapped_resource"
	WarnEntitySkipped      WarningCode = "entity_skipped" // sweep continued past a failing entity
)

// Warning records a data-quality problem encountered mid-operation. The
// operation's primary result is still produced, possibly degraded.
type Warning struct {
	Code    WarningCode
	Message string
	Entity  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Code, w.Message, w.Entity)
}

// IsValidation returns true if the error is a reject-immediately input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrInvalidCadence)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrCommitmentNotFound) ||
		errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrThresholdNotFound)
}
