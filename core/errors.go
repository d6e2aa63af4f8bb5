/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  Domain packages wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors - Bad input, abort the operation immediately
  2. Version errors    - Version manager lookup/rollback failures

Consistency warnings (all-zero usage details, a missing schedule during
bill generation) are NOT errors: they are logged and the operation
degrades gracefully.

USAGE:
  if errors.Is(err, core.ErrStaticAllocationMismatch) { ... }
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStaticAllocationMismatch is returned when a deposit's fixed
	// principal/interest/fees/prepayment split does not sum to the
	// deposit amount.
	ErrStaticAllocationMismatch = errors.New("static allocation components do not sum to deposit amount")

	// ErrZeroUsageDetail is returned when a usage detail allocates
	// nothing to any component. Callers typically log and skip.
	ErrZeroUsageDetail = errors.New("usage detail allocates zero to every component")

	// ErrBalanceModificationMismatch is returned when a usage detail's
	// attached balance modification would be swapped for a different id.
	ErrBalanceModificationMismatch = errors.New("usage detail already linked to a different balance modification")

	// ErrUnknownStrategy is returned for an unrecognized allocation
	// strategy name.
	ErrUnknownStrategy = errors.New("unknown allocation strategy")

	// ErrMissingPriorityComponent is returned when a payment priority
	// does not cover interest, fees, and principal exactly once.
	ErrMissingPriorityComponent = errors.New("payment priority must list interest, fees, and principal exactly once")

	// ErrVersionNotFound is returned when a version id does not exist.
	ErrVersionNotFound = errors.New("version not found")

	// ErrRollbackCurrentVersion is returned when rolling back to the
	// version that is already current.
	ErrRollbackCurrentVersion = errors.New("cannot roll back to the current version")

	// ErrNoSchedule is returned when an operation needs a computed
	// amortization plan and none exists.
	ErrNoSchedule = errors.New("amortization plan has not been calculated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StaticAllocationError reports the offending sums.
type StaticAllocationError struct {
	DepositID string
	Expected  Money
	Actual    Money
}

func (e *StaticAllocationError) Error() string {
	return fmt.Sprintf("static allocation for deposit %s sums to %s, expected %s",
		e.DepositID, e.Actual, e.Expected)
}

func (e *StaticAllocationError) Unwrap() error { return ErrStaticAllocationMismatch }

// VersionNotFoundError identifies the missing version.
type VersionNotFoundError struct {
	VersionID string
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %s not found", e.VersionID)
}

func (e *VersionNotFoundError) Unwrap() error { return ErrVersionNotFound }
