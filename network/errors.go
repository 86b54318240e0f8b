/*
errors.go - Centralized error types for the network engine

PURPOSE:
  All error kinds in one place. Business outcomes (a move that would form
  a cycle, a double approval, an overdrawn transfer) are typed sentinel
  errors that callers branch on with errors.Is; infrastructure faults
  (store unavailable) propagate as ordinary wrapped errors and abort the
  enclosing transaction.

ERROR CATEGORIES:
  1. NotFound            - missing user/node/purchase, returned not thrown
  2. InvalidMove         - cycle-forming tree mutation
  3. InvalidState        - double approval / double delete
  4. InsufficientBalance - ledger transfer exceeding available funds

SEE ALSO:
  - tree.go: InvalidMove in action
  - ledger.go: InsufficientBalance and InvalidState in action
  - approval.go: InvalidState in action
*/
package network

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a user, tree node, purchase or ledger
	// entry cannot be resolved. Expected during lookups; never a fault.
	ErrNotFound = errors.New("not found")

	// ErrInvalidMove is returned when a tree move would create a cycle
	// (the new parent is a descendant of the moved node).
	ErrInvalidMove = errors.New("invalid move")

	// ErrInvalidState is returned when a lifecycle action repeats
	// (approving an approved purchase, deleting a deleted entry).
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientBalance is returned when a transfer or balance-paid
	// purchase exceeds the available confirmed funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidMoveError reports why a relocation was rejected.
type InvalidMoveError struct {
	SubjectID   string
	NewParentID string
	Reason      string
}

func (e *InvalidMoveError) Error() string {
	return fmt.Sprintf("invalid move of %s under %s: %s", e.SubjectID, e.NewParentID, e.Reason)
}

func (e *InvalidMoveError) Unwrap() error { return ErrInvalidMove }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidStateError names the lifecycle conflict.
type InvalidStateError struct {
	Kind   string // "affiliation", "activation", "transaction"
	ID     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s already %s", e.Kind, e.ID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err is a missing-resource outcome.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError reports whether err is an expected business outcome rather
// than an infrastructure fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidMove) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientBalance)
}
