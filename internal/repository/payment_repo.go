// internal/repository/payment_repo.go
package repository

import (
	"context"
	"time"

	"creditledger/internal/domain"
)

// PaymentRepository defines the interface for payment record operations.
type PaymentRepository interface {
	// CreatePayment inserts a pending payment. An existing ID fails with util.ErrDuplicateEntry.
	CreatePayment(ctx context.Context, q DBExecutor, payment *domain.PaymentRecord) error
	// GetPaymentByID retrieves a payment without locking it.
	GetPaymentByID(ctx context.Context, q DBExecutor, id string) (*domain.PaymentRecord, error)
	// GetPaymentForUpdate retrieves a payment and locks its row until the transaction ends.
	GetPaymentForUpdate(ctx context.Context, q DBExecutor, id string) (*domain.PaymentRecord, error)
	// UpdatePaymentStatus moves a payment to status, recording the ledger entry on completion.
	UpdatePaymentStatus(ctx context.Context, q DBExecutor, id string, status domain.PaymentStatus, ledgerEntryID *string, now time.Time) error
	// ListPayments returns a page of payments, newest first, optionally filtered by status.
	ListPayments(ctx context.Context, q DBExecutor, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error)
	// ListPaymentsForExport returns payments matching the filter.
	ListPaymentsForExport(ctx context.Context, q DBExecutor, filter domain.ExportFilter) ([]domain.PaymentRecord, error)
}
