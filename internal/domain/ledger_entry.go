// internal/domain/ledger_entry.go
package domain

import (
	"time"

	"github.com/shopspring/decimal" // For precise monetary calculations
)

// AmountScale is the number of decimal places amounts and balances are stored with.
const AmountScale = 4

// HasStorableScale reports whether amount survives storage without rounding.
// Trailing zeros beyond the scale are fine: 1.50000 is stored as 1.5000.
func HasStorableScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(AmountScale))
}

// EntryType defines the kind of a ledger entry.
type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
	EntryTypeRefund EntryType = "refund"
	EntryTypeBonus  EntryType = "bonus"
)

// IsValid reports whether t is a known entry type.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypeCredit, EntryTypeDebit, EntryTypeRefund, EntryTypeBonus:
		return true
	}
	return false
}

// IsDebit reports whether the entry decreases the balance.
// Refunds restore funds to the wallet and count as credits.
func (t EntryType) IsDebit() bool { return t == EntryTypeDebit }

// EntryStatus is the status of a ledger entry. Only completed entries are persisted.
type EntryStatus string

const EntryStatusCompleted EntryStatus = "completed"

// LedgerEntry is an immutable record of a single balance change.
type LedgerEntry struct {
	Seq               int64           `db:"seq" json:"-"`                                     // BIGSERIAL, per-wallet commit order
	ID                string          `db:"id" json:"id"`                                     // TXN-<ULID>
	WalletUserID      string          `db:"wallet_user_id" json:"user_id"`                    // Owning wallet
	Type              EntryType       `db:"type" json:"type"`                                 // credit, debit, refund, bonus
	Amount            decimal.Decimal `db:"amount" json:"amount"`                             // Always > 0, NUMERIC(20, 4) in DB
	ResultingBalance  decimal.Decimal `db:"resulting_balance" json:"resulting_balance"`       // Wallet balance right after this entry
	Description       string          `db:"description" json:"description"`                   // Free text
	ExternalReference *string         `db:"external_reference" json:"external_reference"`     // Payment ID for reconciled credits, original reference for refunds
	RefundOfEntryID   *string         `db:"refund_of_entry_id" json:"refund_of_entry_id"`     // Set on refunds
	Status            EntryStatus     `db:"status" json:"status"`                             // Always completed
	AdminNotes        *string         `db:"admin_notes" json:"admin_notes"`                   // Optional
	IssuedBy          *string         `db:"issued_by" json:"issued_by"`                       // Admin that issued the entry, if any
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`                     // Creation time
}

// SignedAmount returns the entry's effect on the balance.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Type.IsDebit() {
		return e.Amount.Neg()
	}
	return e.Amount
}

// NewLedgerEntry creates a completed entry. ResultingBalance is stamped by Wallet.Apply.
func NewLedgerEntry(id, userID string, entryType EntryType, amount decimal.Decimal, description string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:           id,
		WalletUserID: userID,
		Type:         entryType,
		Amount:       amount,
		Description:  description,
		Status:       EntryStatusCompleted,
		CreatedAt:    now,
	}
}

// LedgerEntryView joins an entry with its wallet's user details for exports.
type LedgerEntryView struct {
	LedgerEntry
	UserName  string `db:"user_name"`
	UserEmail string `db:"user_email"`
}

// FoldResult is the outcome of replaying a wallet's entries in order.
type FoldResult struct {
	Balance            decimal.Decimal
	Credits            decimal.Decimal
	Debits             decimal.Decimal
	Count              int
	FirstBrokenEntryID string // first entry whose stored ResultingBalance disagrees with the replay
}

// Fold replays entries, which must be in commit order, from a zero balance.
func Fold(entries []LedgerEntry) FoldResult {
	res := FoldResult{Balance: decimal.Zero, Credits: decimal.Zero, Debits: decimal.Zero}
	for i := range entries {
		e := &entries[i]
		if e.Type.IsDebit() {
			res.Debits = res.Debits.Add(e.Amount)
		} else {
			res.Credits = res.Credits.Add(e.Amount)
		}
		res.Balance = res.Credits.Sub(res.Debits)
		if res.FirstBrokenEntryID == "" && !e.ResultingBalance.Equal(res.Balance) {
			res.FirstBrokenEntryID = e.ID
		}
		res.Count++
	}
	return res
}
