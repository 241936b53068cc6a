// internal/repository/postgres/ledger_pg.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"creditledger/internal/domain"
	"creditledger/internal/repository"
	"creditledger/internal/util"
	"creditledger/pkg/db"

	"github.com/shopspring/decimal"
)

const entryColumns = `seq, id, wallet_user_id, type, amount, resulting_balance, description,
	external_reference, refund_of_entry_id, status, admin_notes, issued_by, created_at`

// LedgerRepository implements repository.LedgerRepository for PostgreSQL.
type LedgerRepository struct{}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository() repository.LedgerRepository {
	return &LedgerRepository{}
}

// CreateEntry inserts a ledger entry and fills in its sequence number.
func (r *LedgerRepository) CreateEntry(ctx context.Context, q repository.DBExecutor, entry *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (id, wallet_user_id, type, amount, resulting_balance, description,
                  external_reference, refund_of_entry_id, status, admin_notes, issued_by, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING seq`

	err := q.QueryRowContext(ctx, query,
		entry.ID,
		entry.WalletUserID,
		entry.Type,
		entry.Amount,
		entry.ResultingBalance,
		entry.Description,
		entry.ExternalReference,
		entry.RefundOfEntryID,
		entry.Status,
		entry.AdminNotes,
		entry.IssuedBy,
		entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, constraintCreditReference):
			return fmt.Errorf("credit for reference %s: %w", deref(entry.ExternalReference), util.ErrDuplicateReconciliation)
		case db.IsUniqueViolation(err, constraintEntryPK):
			return fmt.Errorf("ledger entry %s: %w", entry.ID, util.ErrDuplicateEntry)
		}
		return wrapErr(err, "failed to create ledger entry")
	}
	return nil
}

// GetEntryByID retrieves a single entry.
func (r *LedgerRepository) GetEntryByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := q.GetContext(ctx, &entry, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrEntryNotFound
		}
		return nil, wrapErr(err, "failed to get ledger entry %s", id)
	}
	return &entry, nil
}

// GetCreditByExternalReference finds the single credit recorded for a payment reference.
func (r *LedgerRepository) GetCreditByExternalReference(ctx context.Context, q repository.DBExecutor, reference string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE external_reference = $1 AND type = 'credit'`
	err := q.GetContext(ctx, &entry, query, reference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrEntryNotFound
		}
		return nil, wrapErr(err, "failed to get credit for reference %s", reference)
	}
	return &entry, nil
}

// SumRefunds totals the refunds recorded against an entry.
func (r *LedgerRepository) SumRefunds(ctx context.Context, q repository.DBExecutor, originalEntryID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE type = 'refund' AND refund_of_entry_id = $1`
	if err := q.GetContext(ctx, &total, query, originalEntryID); err != nil {
		return decimal.Zero, wrapErr(err, "failed to sum refunds for entry %s", originalEntryID)
	}
	return total, nil
}

// ListEntriesByUser retrieves a paginated list of entries for a wallet.
// It performs two queries: one for the data and one for the total count.
func (r *LedgerRepository) ListEntriesByUser(ctx context.Context, q repository.DBExecutor, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
              WHERE wallet_user_id = $1
              ORDER BY created_at DESC, id DESC
              LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &entries, query, userID, limit, offset); err != nil {
		return nil, 0, wrapErr(err, "failed to fetch entries for wallet %s", userID)
	}

	var total int64
	if err := q.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries WHERE wallet_user_id = $1`, userID); err != nil {
		return nil, 0, wrapErr(err, "failed to count entries for wallet %s", userID)
	}
	return entries, total, nil
}

// ListAllEntriesByUser returns a wallet's full history in commit order.
func (r *LedgerRepository) ListAllEntriesByUser(ctx context.Context, q repository.DBExecutor, userID string) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE wallet_user_id = $1 ORDER BY seq`
	if err := q.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, wrapErr(err, "failed to fetch ledger for wallet %s", userID)
	}
	return entries, nil
}

// ListEntriesForExport joins entries with their wallet's user details.
func (r *LedgerRepository) ListEntriesForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.LedgerEntryView, error) {
	where, args := exportWhere(filter, "e.created_at", "e.status", "e.id")
	query := `SELECT e.seq, e.id, e.wallet_user_id, e.type, e.amount, e.resulting_balance, e.description,
                  e.external_reference, e.refund_of_entry_id, e.status, e.admin_notes, e.issued_by, e.created_at,
                  w.user_name, w.user_email
              FROM ledger_entries e
              JOIN wallets w ON w.user_id = e.wallet_user_id` + where + `
              ORDER BY e.created_at, e.id`

	rows := []domain.LedgerEntryView{}
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, wrapErr(err, "failed to list entries for export")
	}
	return rows, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
