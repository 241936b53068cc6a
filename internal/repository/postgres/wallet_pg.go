// internal/repository/postgres/wallet_pg.go
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
)

const walletColumns = `user_id, user_name, user_email, current_balance, total_credits, total_debits,
	status, version, last_activity_at, created_at, updated_at`

// WalletRepository implements repository.WalletRepository for PostgreSQL.
type WalletRepository struct{}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository() repository.WalletRepository {
	return &WalletRepository{}
}

// EnsureWallet inserts an empty wallet, or refreshes the stored user details when new ones are supplied.
func (r *WalletRepository) EnsureWallet(ctx context.Context, q repository.DBExecutor, userID, userName, userEmail string, now time.Time) error {
	query := `INSERT INTO wallets (user_id, user_name, user_email, current_balance, total_credits, total_debits,
                  status, version, last_activity_at, created_at, updated_at)
              VALUES ($1, $2, $3, 0, 0, 0, 'active', 0, $4, $4, $4)
              ON CONFLICT (user_id) DO UPDATE
              SET user_name = COALESCE(NULLIF(EXCLUDED.user_name, ''), wallets.user_name),
                  user_email = COALESCE(NULLIF(EXCLUDED.user_email, ''), wallets.user_email)
              WHERE (EXCLUDED.user_name <> '' AND EXCLUDED.user_name <> wallets.user_name)
                 OR (EXCLUDED.user_email <> '' AND EXCLUDED.user_email <> wallets.user_email)`
	if _, err := q.ExecContext(ctx, query, userID, userName, userEmail, now); err != nil {
		return wrapErr(err, "failed to ensure wallet for user %s", userID)
	}
	return nil
}

// GetWalletByUserID retrieves a wallet by its owner using the provided DBExecutor.
func (r *WalletRepository) GetWalletByUserID(ctx context.Context, q repository.DBExecutor, userID string) (*domain.Wallet, error) {
	return r.getWallet(ctx, q, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
}

// GetWalletForUpdate retrieves a wallet with SELECT ... FOR UPDATE.
// Concurrent writers to the same wallet queue behind this lock.
func (r *WalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, userID string) (*domain.Wallet, error) {
	return r.getWallet(ctx, q, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *WalletRepository) getWallet(ctx context.Context, q repository.DBExecutor, query, userID string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := q.GetContext(ctx, &wallet, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, util.ErrWalletNotFound
		}
		return nil, wrapErr(err, "failed to get wallet for user %s", userID)
	}
	return &wallet, nil
}

// UpdateWalletBalance writes the cached totals guarded by the version column.
func (r *WalletRepository) UpdateWalletBalance(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet, expectedVersion int64) error {
	query := `UPDATE wallets
              SET current_balance = $1, total_credits = $2, total_debits = $3, version = $4,
                  last_activity_at = $5, updated_at = $6
              WHERE user_id = $7 AND version = $8`
	result, err := q.ExecContext(ctx, query,
		wallet.CurrentBalance,
		wallet.TotalCredits,
		wallet.TotalDebits,
		wallet.Version,
		wallet.LastActivityAt,
		wallet.UpdatedAt,
		wallet.UserID,
		expectedVersion,
	)
	if err != nil {
		return wrapErr(err, "failed to update wallet balance for user %s", wallet.UserID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating wallet balance for user %s: %w", wallet.UserID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("wallet %s changed since version %d: %w", wallet.UserID, expectedVersion, util.ErrConcurrencyConflict)
	}
	return nil
}

// UpdateWalletStatus sets the wallet status.
func (r *WalletRepository) UpdateWalletStatus(ctx context.Context, q repository.DBExecutor, userID string, status domain.WalletStatus, now time.Time) error {
	result, err := q.ExecContext(ctx, `UPDATE wallets SET status = $1, updated_at = $2 WHERE user_id = $3`, status, now, userID)
	if err != nil {
		return wrapErr(err, "failed to update status for wallet %s", userID)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating status for wallet %s: %w", userID, err)
	}
	if rowsAffected == 0 {
		return util.ErrWalletNotFound
	}
	return nil
}

// ListWalletUserIDs pages through wallet owners with keyset pagination.
func (r *WalletRepository) ListWalletUserIDs(ctx context.Context, q repository.DBExecutor, afterUserID string, limit int) ([]string, error) {
	ids := []string{}
	query := `SELECT user_id FROM wallets WHERE user_id > $1 ORDER BY user_id LIMIT $2`
	if err := q.SelectContext(ctx, &ids, query, afterUserID, limit); err != nil {
		return nil, wrapErr(err, "failed to list wallets after %q", afterUserID)
	}
	return ids, nil
}

// ListWalletsForExport filters on last activity, status and user ID.
func (r *WalletRepository) ListWalletsForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.Wallet, error) {
	where, args := exportWhere(filter, "last_activity_at", "status", "user_id")
	query := `SELECT ` + walletColumns + ` FROM wallets` + where + ` ORDER BY created_at, user_id`

	wallets := []domain.Wallet{}
	if err := q.SelectContext(ctx, &wallets, query, args...); err != nil {
		return nil, wrapErr(err, "failed to list wallets for export")
	}
	return wallets, nil
}
