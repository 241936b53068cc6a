// internal/repository/ledger_repo.go
package repository

import (
	"context"

	"creditledger/internal/domain"

	"github.com/shopspring/decimal"
)

// LedgerRepository defines the interface for ledger entry operations.
// Entries are append-only: there is no update or delete.
type LedgerRepository interface {
	// CreateEntry appends an entry. A second credit for the same external
	// reference fails with util.ErrDuplicateReconciliation.
	CreateEntry(ctx context.Context, q DBExecutor, entry *domain.LedgerEntry) error
	// GetEntryByID retrieves a single entry.
	GetEntryByID(ctx context.Context, q DBExecutor, id string) (*domain.LedgerEntry, error)
	// GetCreditByExternalReference finds the credit produced for a payment.
	GetCreditByExternalReference(ctx context.Context, q DBExecutor, reference string) (*domain.LedgerEntry, error)
	// SumRefunds totals refunds already issued against an entry.
	SumRefunds(ctx context.Context, q DBExecutor, originalEntryID string) (decimal.Decimal, error)
	// ListEntriesByUser returns a page of a wallet's entries, newest first, plus the total count.
	ListEntriesByUser(ctx context.Context, q DBExecutor, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error)
	// ListAllEntriesByUser returns every entry for a wallet in commit order.
	ListAllEntriesByUser(ctx context.Context, q DBExecutor, userID string) ([]domain.LedgerEntry, error)
	// ListEntriesForExport returns entries matching the filter, joined with user details.
	ListEntriesForExport(ctx context.Context, q DBExecutor, filter domain.ExportFilter) ([]domain.LedgerEntryView, error)
}
