// internal/util/errors.go
package util

import (
	"errors"
	"fmt"

	"creditledger/internal/domain"

	"github.com/shopspring/decimal"
)

// Common application-specific errors.
var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidInput            = errors.New("invalid input provided")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrEntryNotFound           = errors.New("ledger entry not found")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrDuplicateEntry          = errors.New("duplicate entry") // e.g. creating a payment with an existing ID
	ErrDuplicateReconciliation = errors.New("payment already reconciled")
	ErrInvalidTransition       = errors.New("invalid payment status transition")
	ErrWalletFrozen            = errors.New("wallet is frozen")
	ErrWalletSuspended         = errors.New("wallet is suspended")
	ErrRefundExceedsOriginal   = errors.New("refund exceeds original entry amount")
	ErrConcurrencyConflict     = errors.New("concurrent modification conflict")
	ErrIntegrityFault          = errors.New("ledger integrity fault")
	ErrUnavailable             = errors.New("dependency unavailable")
)

// IsError reports whether any error in err's chain matches target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// ValidationError reports a malformed or out-of-range input field.
// Err optionally narrows the failure (e.g. ErrRefundExceedsOriginal).
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
}

// NewValidationError is a shorthand for the common case.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientBalanceError is returned when a debit exceeds the current balance.
type InsufficientBalanceError struct {
	UserID    string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: balance %s, requested %s",
		e.UserID, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientFunds }

// DuplicateReconciliationError signals that a payment has already produced its credit.
// It is a no-op outcome, not a failure. Entry may be nil when the existing entry
// could not be loaded.
type DuplicateReconciliationError struct {
	PaymentID string
	EntryID   string
	Entry     *domain.LedgerEntry
}

func (e *DuplicateReconciliationError) Error() string {
	return fmt.Sprintf("payment %s already reconciled by entry %s", e.PaymentID, e.EntryID)
}

func (e *DuplicateReconciliationError) Unwrap() error { return ErrDuplicateReconciliation }

// ConcurrencyConflictError is returned once every transaction attempt has conflicted.
type ConcurrencyConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: gave up after %d attempts", e.Op, e.Attempts)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// IntegrityFaultError is raised when the cached balance disagrees with the ledger fold.
type IntegrityFaultError struct {
	UserID     string
	Cached     decimal.Decimal
	Recomputed decimal.Decimal
	Detail     string
}

func (e *IntegrityFaultError) Error() string {
	return fmt.Sprintf("integrity fault on wallet %s: cached %s, recomputed %s (%s)",
		e.UserID, e.Cached.String(), e.Recomputed.String(), e.Detail)
}

func (e *IntegrityFaultError) Unwrap() error { return ErrIntegrityFault }
