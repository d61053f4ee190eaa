/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every sentinel belongs to exactly one Kind so adapters can render a
  status code without string matching.

ERROR KINDS:
  1. Validation       - Bad input: empty lines, unbalanced, amount too large
  2. StateConflict    - Operation not legal in the entry's current status
  3. NotFound         - Entry, line or counterparty absent
  4. Dependency       - Cash account update or storage failure

GUARANTEE:
  Validation and state-conflict errors are detected before any mutation.
  A rejected operation never touches accumulators or the audit trail.

USAGE:
  _, err := engine.RegisterPayment(ctx, in)
  if errors.Is(err, ledger.ErrAmountExceedsBalance) {
      var opErr *ledger.OperationError
      errors.As(err, &opErr)
      fmt.Println("outstanding:", opErr.Balance)
  }

SEE ALSO:
  - engine.go: Wraps every failure in OperationError
  - api/handlers.go: Maps Kind to HTTP status
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindStateConflict Kind = "STATE_CONFLICT"
	KindNotFound      Kind = "NOT_FOUND"
	KindDependency    Kind = "DEPENDENCY_FAILURE"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Validation
	ErrEmptyLines           = errors.New("entry has no lines")
	ErrUnbalanced           = errors.New("entry debits and credits do not balance")
	ErrAmountExceedsBalance = errors.New("amount exceeds outstanding balance")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidLine          = errors.New("line must carry exactly one of debit or credit")
	ErrUnknownAccountCode   = errors.New("unknown account code")
	ErrInvalidIndex         = errors.New("invalid index value")
	ErrInvalidReceipt       = errors.New("invalid receipt line")
	ErrMissingField         = errors.New("required field missing")

	// State conflicts
	ErrTerminalState  = errors.New("entry is in a terminal state")
	ErrInvalidState   = errors.New("operation not allowed in current status")
	ErrAlreadySettled = errors.New("creditor already settled for what has been collected")
	ErrAlreadyPaid    = errors.New("entry is paid; reverse the payment first")
	ErrAlreadyVoided  = errors.New("entry is already voided")
	ErrReceiptExists  = errors.New("receipt already processed")

	// Not found
	ErrEntryNotFound       = errors.New("entry not found")
	ErrNoMatchingLines     = errors.New("entry has no credit lines for counterparty")
	ErrCashAccountNotFound = errors.New("cash account not found")
	ErrReceiptNotFound     = errors.New("receipt not found")

	// Dependency / retryable
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrCashAccountUpdate      = errors.New("cash account update failed")
	ErrDuplicateEntry         = errors.New("entry id already exists")
)

// kinds is checked in order. Engine errors can wrap more than one sentinel
// (ErrCashAccountUpdate around the store's cause), so causes come before the
// wrappers that carry them.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrEmptyLines, KindValidation},
	{ErrUnbalanced, KindValidation},
	{ErrAmountExceedsBalance, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidLine, KindValidation},
	{ErrUnknownAccountCode, KindValidation},
	{ErrInvalidIndex, KindValidation},
	{ErrInvalidReceipt, KindValidation},
	{ErrMissingField, KindValidation},
	{ErrDuplicateEntry, KindValidation},
	{ErrTerminalState, KindStateConflict},
	{ErrInvalidState, KindStateConflict},
	{ErrAlreadySettled, KindStateConflict},
	{ErrAlreadyPaid, KindStateConflict},
	{ErrAlreadyVoided, KindStateConflict},
	{ErrReceiptExists, KindStateConflict},
	{ErrConcurrentModification, KindStateConflict},
	{ErrEntryNotFound, KindNotFound},
	{ErrNoMatchingLines, KindNotFound},
	{ErrReceiptNotFound, KindNotFound},
	{ErrCashAccountNotFound, KindDependency},
	{ErrCashAccountUpdate, KindDependency},
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OperationError carries enough context to render a user-facing message.
type OperationError struct {
	Op        string
	EntryID   EntryID
	Status    Status
	Requested decimal.Decimal
	Balance   decimal.Decimal
	Err       error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.EntryID, e.Err)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s)", e.Status)
	}
	if !e.Requested.IsZero() || !e.Balance.IsZero() {
		msg += fmt.Sprintf(" (requested %s, balance %s)", e.Requested.StringFixed(MoneyPlaces), e.Balance.StringFixed(MoneyPlaces))
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Err }

// Kind classifies the wrapped error.
func (e *OperationError) Kind() Kind { return KindOf(e.Err) }

// opError wraps err with entry context unless an apply step already did.
func opError(op string, entry *Entry, err error) *OperationError {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe
	}
	oe = &OperationError{Op: op, Err: err}
	if entry != nil {
		oe.EntryID = entry.ID
		oe.Status = entry.Status
		oe.Balance = entry.Outstanding()
	}
	return oe
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of err, defaulting to KindDependency for
// anything the engine does not recognise (storage failures and the like).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindDependency
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input
// or an illegal state transition.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k == KindValidation || k == KindStateConflict
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
