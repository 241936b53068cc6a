// internal/repository/postgres/payment_pg.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/repository"
	"creditledger/internal/util"
	"creditledger/pkg/db"
)

const paymentColumns = `id, user_id, user_name, user_email, amount, currency, payment_method, status,
	description, ledger_entry_id, created_at, updated_at`

// PaymentRepository implements repository.PaymentRepository for PostgreSQL.
type PaymentRepository struct{}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository() repository.PaymentRepository {
	return &PaymentRepository{}
}

// CreatePayment inserts a payment record.
func (r *PaymentRepository) CreatePayment(ctx context.Context, q repository.DBExecutor, p *domain.PaymentRecord) error {
	query := `INSERT INTO payment_records (id, user_id, user_name, user_email, amount, currency, payment_method,
                  status, description, ledger_entry_id, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.UserID, p.UserName, p.UserEmail, p.Amount, p.Currency, p.PaymentMethod,
		p.Status, p.Description, p.LedgerEntryID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err, constraintPaymentPK) {
			return fmt.Errorf("payment %s: %w", p.ID, util.ErrDuplicateEntry)
		}
		return wrapErr(err, "failed to create payment %s", p.ID)
	}
	return nil
}

// GetPaymentByID retrieves a payment by ID.
func (r *PaymentRepository) GetPaymentByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.PaymentRecord, error) {
	return r.getPayment(ctx, q, `SELECT `+paymentColumns+` FROM payment_records WHERE id = $1`, id)
}

// GetPaymentForUpdate retrieves a payment and locks its row.
func (r *PaymentRepository) GetPaymentForUpdate(ctx context.Context, q repository.DBExecutor, id string) (*domain.PaymentRecord, error) {
	return r.getPayment(ctx, q, `SELECT `+paymentColumns+` FROM payment_records WHERE id = $1 FOR UPDATE`, id)
}

func (r *PaymentRepository) getPayment(ctx context.Context, q repository.DBExecutor, query, id string) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	if err := q.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrPaymentNotFound
		}
		return nil, wrapErr(err, "failed to get payment %s", id)
	}
	return &p, nil
}

// UpdatePaymentStatus sets the payment status. ledgerEntryID is only written when non-nil.
func (r *PaymentRepository) UpdatePaymentStatus(ctx context.Context, q repository.DBExecutor, id string, status domain.PaymentStatus, ledgerEntryID *string, now time.Time) error {
	query := `UPDATE payment_records
              SET status = $1, ledger_entry_id = COALESCE($2, ledger_entry_id), updated_at = $3
              WHERE id = $4`
	result, err := q.ExecContext(ctx, query, status, ledgerEntryID, now, id)
	if err != nil {
		return wrapErr(err, "failed to update payment %s", id)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating payment %s: %w", id, err)
	}
	if rowsAffected == 0 {
		return util.ErrPaymentNotFound
	}
	return nil
}

// ListPayments retrieves a paginated list of payments. An empty status lists all.
func (r *PaymentRepository) ListPayments(ctx context.Context, q repository.DBExecutor, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	payments := []domain.PaymentRecord{}
	query := `SELECT ` + paymentColumns + ` FROM payment_records
              WHERE ($1::text = '' OR status = $1::text)
              ORDER BY created_at DESC, id DESC
              LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &payments, query, string(status), limit, offset); err != nil {
		return nil, 0, wrapErr(err, "failed to list payments")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM payment_records WHERE ($1::text = '' OR status = $1::text)`
	if err := q.GetContext(ctx, &total, countQuery, string(status)); err != nil {
		return nil, 0, wrapErr(err, "failed to count payments")
	}
	return payments, total, nil
}

// ListPaymentsForExport filters on creation date, status and payment ID.
func (r *PaymentRepository) ListPaymentsForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.PaymentRecord, error) {
	where, args := exportWhere(filter, "created_at", "status", "id")
	query := `SELECT ` + paymentColumns + ` FROM payment_records` + where + ` ORDER BY created_at, id`

	payments := []domain.PaymentRecord{}
	if err := q.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, wrapErr(err, "failed to list payments for export")
	}
	return payments, nil
}
