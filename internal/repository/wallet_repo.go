// internal/repository/wallet_repo.go
package repository

import (
	"context"
	"time"

	"creditledger/internal/domain"
)

// WalletRepository defines the interface for wallet data operations.
type WalletRepository interface {
	// EnsureWallet creates an empty active wallet for userID if none exists.
	EnsureWallet(ctx context.Context, q DBExecutor, userID, userName, userEmail string, now time.Time) error
	// GetWalletByUserID retrieves a wallet without locking it.
	GetWalletByUserID(ctx context.Context, q DBExecutor, userID string) (*domain.Wallet, error)
	// GetWalletForUpdate retrieves a wallet and locks its row until the transaction ends.
	GetWalletForUpdate(ctx context.Context, q DBExecutor, userID string) (*domain.Wallet, error)
	// UpdateWalletBalance persists the cached totals if the stored version still equals expectedVersion.
	UpdateWalletBalance(ctx context.Context, q DBExecutor, wallet *domain.Wallet, expectedVersion int64) error
	// UpdateWalletStatus sets the wallet status.
	UpdateWalletStatus(ctx context.Context, q DBExecutor, userID string, status domain.WalletStatus, now time.Time) error
	// ListWalletUserIDs pages through wallet owners in user ID order, starting after afterUserID.
	ListWalletUserIDs(ctx context.Context, q DBExecutor, afterUserID string, limit int) ([]string, error)
	// ListWalletsForExport returns wallets matching the filter.
	ListWalletsForExport(ctx context.Context, q DBExecutor, filter domain.ExportFilter) ([]domain.Wallet, error)
}
