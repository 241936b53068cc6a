// internal/domain/payment.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of an external payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed}, // cancel is only valid while pending
}

// CanTransition reports whether a payment may move from one status to another.
// Terminal statuses never move.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentRecord mirrors a payment made with an external provider.
type PaymentRecord struct {
	ID            string          `db:"id" json:"id"`                           // Provider payment ID, used as the credit's external reference
	UserID        string          `db:"user_id" json:"user_id"`                 // Wallet owner
	UserName      string          `db:"user_name" json:"user_name"`
	UserEmail     string          `db:"user_email" json:"user_email"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`                   // Always > 0
	Currency      string          `db:"currency" json:"currency"`               // ISO code, e.g. "USD"
	PaymentMethod string          `db:"payment_method" json:"payment_method"`   // e.g. "card", "bank_transfer"
	Status        PaymentStatus   `db:"status" json:"status"`
	Description   string          `db:"description" json:"description"`
	LedgerEntryID *string         `db:"ledger_entry_id" json:"ledger_entry_id"` // Set once completed
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// NewPaymentRecord creates a pending payment.
func NewPaymentRecord(id, userID, userName, userEmail string, amount decimal.Decimal, currency, method, description string, now time.Time) *PaymentRecord {
	return &PaymentRecord{
		ID:            id,
		UserID:        userID,
		UserName:      userName,
		UserEmail:     userEmail,
		Amount:        amount,
		Currency:      currency,
		PaymentMethod: method,
		Status:        PaymentStatusPending,
		Description:   description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ProviderEvent is a payment notification received from the provider webhook.
type ProviderEvent struct {
	EventID       string          `json:"event_id"`
	PaymentID     string          `json:"payment_id"`
	UserID        string          `json:"user_id"`
	UserName      string          `json:"user_name"`
	UserEmail     string          `json:"user_email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Description   string          `json:"description"`
	Status        PaymentStatus   `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
