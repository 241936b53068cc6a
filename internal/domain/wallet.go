// internal/domain/wallet.go
package domain

import (
	"time"

	"github.com/shopspring/decimal" // For precise monetary calculations
)

// WalletStatus controls which ledger writes a wallet accepts.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusSuspended WalletStatus = "suspended" // credits allowed, debits rejected
	WalletStatusFrozen    WalletStatus = "frozen"    // all appends rejected
)

// IsValid reports whether s is a known wallet status.
func (s WalletStatus) IsValid() bool {
	switch s {
	case WalletStatusActive, WalletStatusSuspended, WalletStatusFrozen:
		return true
	}
	return false
}

// Wallet is the cached projection of a user's ledger.
// CurrentBalance always equals TotalCredits - TotalDebits.
type Wallet struct {
	UserID         string          `db:"user_id" json:"user_id"`                   // Primary key
	UserName       string          `db:"user_name" json:"user_name"`               // Denormalized for exports
	UserEmail      string          `db:"user_email" json:"user_email"`             // Denormalized for exports
	CurrentBalance decimal.Decimal `db:"current_balance" json:"current_balance"`   // NUMERIC(20, 4) in DB
	TotalCredits   decimal.Decimal `db:"total_credits" json:"total_credits"`       // Sum of credit, bonus and refund amounts
	TotalDebits    decimal.Decimal `db:"total_debits" json:"total_debits"`         // Sum of debit amounts
	Status         WalletStatus    `db:"status" json:"status"`                     // active, suspended, frozen
	Version        int64           `db:"version" json:"version"`                   // Bumped on every balance write
	LastActivityAt time.Time       `db:"last_activity_at" json:"last_activity_at"` // Time of the most recent entry
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// NewWallet creates an empty active wallet.
func NewWallet(userID, userName, userEmail string, now time.Time) *Wallet {
	return &Wallet{
		UserID:         userID,
		UserName:       userName,
		UserEmail:      userEmail,
		CurrentBalance: decimal.Zero,
		TotalCredits:   decimal.Zero,
		TotalDebits:    decimal.Zero,
		Status:         WalletStatusActive,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Apply folds a single entry into the cached totals and stamps the
// entry's ResultingBalance. The caller persists both.
func (w *Wallet) Apply(e *LedgerEntry) {
	if e.Type.IsDebit() {
		w.TotalDebits = w.TotalDebits.Add(e.Amount)
	} else {
		w.TotalCredits = w.TotalCredits.Add(e.Amount)
	}
	w.CurrentBalance = w.TotalCredits.Sub(w.TotalDebits)
	w.LastActivityAt = e.CreatedAt
	w.UpdatedAt = e.CreatedAt
	w.Version++
	e.ResultingBalance = w.CurrentBalance
}

// Consistent reports whether the balance identity holds.
func (w *Wallet) Consistent() bool {
	return w.CurrentBalance.Equal(w.TotalCredits.Sub(w.TotalDebits)) &&
		!w.TotalCredits.IsNegative() && !w.TotalDebits.IsNegative()
}

// AcceptsEntry reports the status-level error class for appending t, or "" if allowed.
func (w *Wallet) AcceptsEntry(t EntryType) WalletStatus {
	switch w.Status {
	case WalletStatusFrozen:
		return WalletStatusFrozen
	case WalletStatusSuspended:
		if t.IsDebit() {
			return WalletStatusSuspended
		}
	}
	return ""
}

// BalanceCheck is the result of recomputing a wallet from its ledger.
type BalanceCheck struct {
	UserID             string          `json:"user_id"`
	CachedBalance      decimal.Decimal `json:"cached_balance"`
	RecomputedBalance  decimal.Decimal `json:"recomputed_balance"`
	RecomputedCredits  decimal.Decimal `json:"recomputed_credits"`
	RecomputedDebits   decimal.Decimal `json:"recomputed_debits"`
	EntryCount         int             `json:"entry_count"`
	Consistent         bool            `json:"consistent"`
	FirstBrokenEntryID string          `json:"first_broken_entry_id,omitempty"` // First entry whose ResultingBalance disagrees with the running fold
	CheckedAt          time.Time       `json:"checked_at"`
}
