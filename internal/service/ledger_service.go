// internal/service/ledger_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/metrics"
	"creditledger/internal/repository"
	"creditledger/internal/util"
	"creditledger/pkg/db"
	"creditledger/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const overrideNotePrefix = "[override] "

// AppendEntryParams describes a single balance change.
type AppendEntryParams struct {
	WalletUserID      string
	Type              domain.EntryType
	Amount            decimal.Decimal
	Description       string
	ExternalReference *string
	RefundOfEntryID   *string
	AdminNotes        string
	IssuedBy          string
	Override          bool   // allow a debit below zero; requires AdminNotes
	UserName          string // recorded on the wallet when non-empty
	UserEmail         string
}

// LedgerService defines the interface for ledger and wallet business logic.
type LedgerService interface {
	AppendEntry(ctx context.Context, params AppendEntryParams) (*domain.LedgerEntry, *domain.Wallet, error)
	AppendEntryTx(ctx context.Context, q repository.DBExecutor, params AppendEntryParams) (*domain.LedgerEntry, *domain.Wallet, error)
	GetBalance(ctx context.Context, userID string) (*domain.Wallet, error)
	RecomputeBalance(ctx context.Context, userID string) (*domain.BalanceCheck, error)
	ListEntries(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error)
	SetWalletStatus(ctx context.Context, userID string, status domain.WalletStatus, adminID string) (*domain.Wallet, error)
}

// ledgerService implements the LedgerService interface.
type ledgerService struct {
	tx         *TxManager
	dbExecutor repository.DBExecutor // For non-transactional reads (e.g., *sqlx.DB)
	walletRepo repository.WalletRepository
	ledgerRepo repository.LedgerRepository
	publisher  EventPublisher
	logger     *zap.Logger
}

// NewLedgerService creates a new instance of LedgerService.
func NewLedgerService(
	tx *TxManager,
	dbExecutor repository.DBExecutor,
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerRepository,
	publisher EventPublisher,
	logger *zap.Logger,
) LedgerService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &ledgerService{
		tx:         tx,
		dbExecutor: dbExecutor,
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		publisher:  publisher,
		logger:     logger,
	}
}

// AppendEntry appends one entry and updates the wallet projection in a single transaction.
func (s *ledgerService) AppendEntry(ctx context.Context, params AppendEntryParams) (*domain.LedgerEntry, *domain.Wallet, error) {
	if err := validateAppend(params); err != nil {
		return nil, nil, err
	}

	var (
		entry  *domain.LedgerEntry
		wallet *domain.Wallet
	)
	err := s.tx.Run(ctx, "append_entry", nil, func(q repository.DBExecutor) error {
		var err error
		entry, wallet, err = s.AppendEntryTx(ctx, q, params)
		return err
	})
	if err != nil {
		var fault *util.IntegrityFaultError
		if errors.As(err, &fault) {
			s.reportIntegrityFault(ctx, fault, "")
		}
		return nil, nil, err
	}

	s.entryCommitted(ctx, entry)
	return entry, wallet, nil
}

// AppendEntryTx performs the append inside a caller-owned transaction. The caller
// commits, and is responsible for calling it again from scratch on retry.
func (s *ledgerService) AppendEntryTx(ctx context.Context, q repository.DBExecutor, params AppendEntryParams) (*domain.LedgerEntry, *domain.Wallet, error) {
	if err := validateAppend(params); err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()

	if err := s.walletRepo.EnsureWallet(ctx, q, params.WalletUserID, params.UserName, params.UserEmail, now); err != nil {
		return nil, nil, fmt.Errorf("append entry: failed to ensure wallet %s: %w", params.WalletUserID, err)
	}
	wallet, err := s.walletRepo.GetWalletForUpdate(ctx, q, params.WalletUserID)
	if err != nil {
		return nil, nil, fmt.Errorf("append entry: failed to lock wallet %s: %w", params.WalletUserID, err)
	}

	switch wallet.AcceptsEntry(params.Type) {
	case domain.WalletStatusFrozen:
		return nil, nil, fmt.Errorf("append entry: wallet %s: %w", wallet.UserID, util.ErrWalletFrozen)
	case domain.WalletStatusSuspended:
		return nil, nil, fmt.Errorf("append entry: wallet %s: %w", wallet.UserID, util.ErrWalletSuspended)
	}

	if params.Type.IsDebit() && !params.Override && wallet.CurrentBalance.LessThan(params.Amount) {
		return nil, nil, &util.InsufficientBalanceError{
			UserID:    wallet.UserID,
			Balance:   wallet.CurrentBalance,
			Requested: params.Amount,
		}
	}

	entry := domain.NewLedgerEntry(id.NewEntryID(), wallet.UserID, params.Type, params.Amount, strings.TrimSpace(params.Description), now)
	entry.ExternalReference = params.ExternalReference
	entry.RefundOfEntryID = params.RefundOfEntryID
	if notes := adminNotes(params); notes != "" {
		entry.AdminNotes = &notes
	}
	if params.IssuedBy != "" {
		issuedBy := params.IssuedBy
		entry.IssuedBy = &issuedBy
	}

	expectedVersion := wallet.Version
	wallet.Apply(entry)
	if !wallet.Consistent() {
		// Only reachable if the stored totals were already broken.
		return nil, nil, &util.IntegrityFaultError{
			UserID:     wallet.UserID,
			Cached:     wallet.CurrentBalance,
			Recomputed: wallet.TotalCredits.Sub(wallet.TotalDebits),
			Detail:     "wallet totals inconsistent while appending",
		}
	}

	if err := s.ledgerRepo.CreateEntry(ctx, q, entry); err != nil {
		return nil, nil, fmt.Errorf("append entry: failed to create entry: %w", err)
	}
	if err := s.walletRepo.UpdateWalletBalance(ctx, q, wallet, expectedVersion); err != nil {
		return nil, nil, fmt.Errorf("append entry: failed to update wallet %s: %w", wallet.UserID, err)
	}
	return entry, wallet, nil
}

// entryCommitted records metrics and notifies operators once an entry is durable.
func (s *ledgerService) entryCommitted(ctx context.Context, entry *domain.LedgerEntry) {
	metrics.EntriesAppended.WithLabelValues(string(entry.Type)).Inc()
	s.logger.Info("ledger entry appended",
		zap.String("entry_id", entry.ID),
		zap.String("user_id", entry.WalletUserID),
		zap.String("type", string(entry.Type)),
		zap.String("amount", entry.Amount.String()),
		zap.String("resulting_balance", entry.ResultingBalance.String()),
	)
	publish(ctx, s.publisher, s.logger, EventEntryAppended, entry)
}

// GetBalance returns the cached wallet projection.
func (s *ledgerService) GetBalance(ctx context.Context, userID string) (*domain.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, util.NewValidationError("user_id", "must not be empty")
	}
	// For read-only operations outside a transaction, use s.dbExecutor
	wallet, err := s.walletRepo.GetWalletByUserID(ctx, s.dbExecutor, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: failed to get wallet %s: %w", userID, err)
	}
	return wallet, nil
}

// RecomputeBalance re-derives the wallet from its ledger and compares it with the cache.
// A mismatch is reported, never corrected.
func (s *ledgerService) RecomputeBalance(ctx context.Context, userID string) (*domain.BalanceCheck, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, util.NewValidationError("user_id", "must not be empty")
	}

	var (
		wallet  *domain.Wallet
		entries []domain.LedgerEntry
	)
	err := s.tx.Run(ctx, "recompute_balance", db.ReadSnapshot, func(q repository.DBExecutor) error {
		var err error
		wallet, err = s.walletRepo.GetWalletByUserID(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("recompute balance: failed to get wallet %s: %w", userID, err)
		}
		entries, err = s.ledgerRepo.ListAllEntriesByUser(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("recompute balance: failed to load ledger for %s: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fold := domain.Fold(entries)
	check := &domain.BalanceCheck{
		UserID:             userID,
		CachedBalance:      wallet.CurrentBalance,
		RecomputedBalance:  fold.Balance,
		RecomputedCredits:  fold.Credits,
		RecomputedDebits:   fold.Debits,
		EntryCount:         fold.Count,
		FirstBrokenEntryID: fold.FirstBrokenEntryID,
		CheckedAt:          time.Now().UTC(),
	}

	var problems []string
	if !wallet.Consistent() {
		problems = append(problems, "cached totals do not satisfy balance = credits - debits")
	}
	if !fold.Balance.Equal(wallet.CurrentBalance) {
		problems = append(problems, "cached balance differs from ledger fold")
	}
	if !fold.Credits.Equal(wallet.TotalCredits) || !fold.Debits.Equal(wallet.TotalDebits) {
		problems = append(problems, "cached totals differ from ledger fold")
	}
	if fold.FirstBrokenEntryID != "" {
		problems = append(problems, "resulting balance chain broken at "+fold.FirstBrokenEntryID)
	}
	check.Consistent = len(problems) == 0
	if check.Consistent {
		return check, nil
	}

	fault := &util.IntegrityFaultError{
		UserID:     userID,
		Cached:     wallet.CurrentBalance,
		Recomputed: fold.Balance,
		Detail:     strings.Join(problems, "; "),
	}
	s.reportIntegrityFault(ctx, fault, wallet.Status)
	return check, fault
}

// reportIntegrityFault freezes the wallet so no further entries are accepted,
// then pages operators.
func (s *ledgerService) reportIntegrityFault(ctx context.Context, fault *util.IntegrityFaultError, status domain.WalletStatus) {
	metrics.IntegrityFaults.Inc()
	s.logger.Error("ledger integrity fault",
		zap.String("user_id", fault.UserID),
		zap.String("cached_balance", fault.Cached.String()),
		zap.String("recomputed_balance", fault.Recomputed.String()),
		zap.String("detail", fault.Detail),
	)

	if status != domain.WalletStatusFrozen {
		// The caller's ctx may already be done; the freeze must still land.
		freezeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err := s.tx.Run(freezeCtx, "freeze_wallet", nil, func(q repository.DBExecutor) error {
			return s.walletRepo.UpdateWalletStatus(freezeCtx, q, fault.UserID, domain.WalletStatusFrozen, time.Now().UTC())
		})
		cancel()
		if err != nil {
			s.logger.Error("failed to freeze wallet after integrity fault", zap.String("user_id", fault.UserID), zap.Error(err))
		} else {
			status = domain.WalletStatusFrozen
		}
	}

	publish(ctx, s.publisher, s.logger, EventIntegrityFault, map[string]interface{}{
		"user_id":            fault.UserID,
		"cached_balance":     fault.Cached,
		"recomputed_balance": fault.Recomputed,
		"detail":             fault.Detail,
		"wallet_status":      status,
	})
}

// ListEntries retrieves a paginated list of entries for a specific wallet.
func (s *ledgerService) ListEntries(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	// First, check if the wallet exists
	if _, err := s.walletRepo.GetWalletByUserID(ctx, s.dbExecutor, userID); err != nil {
		if util.IsError(err, util.ErrWalletNotFound) {
			return nil, 0, util.ErrWalletNotFound
		}
		return nil, 0, fmt.Errorf("failed to check wallet existence: %w", err)
	}

	entries, totalCount, err := s.ledgerRepo.ListEntriesByUser(ctx, s.dbExecutor, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve ledger history: %w", err)
	}
	return entries, totalCount, nil
}

// SetWalletStatus changes a wallet's status on behalf of an admin.
func (s *ledgerService) SetWalletStatus(ctx context.Context, userID string, status domain.WalletStatus, adminID string) (*domain.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, util.NewValidationError("user_id", "must not be empty")
	}
	if !status.IsValid() {
		return nil, util.NewValidationError("status", fmt.Sprintf("unknown wallet status %q", status))
	}

	var wallet *domain.Wallet
	err := s.tx.Run(ctx, "set_wallet_status", nil, func(q repository.DBExecutor) error {
		var err error
		wallet, err = s.walletRepo.GetWalletForUpdate(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("set wallet status: failed to lock wallet %s: %w", userID, err)
		}
		now := time.Now().UTC()
		if err := s.walletRepo.UpdateWalletStatus(ctx, q, userID, status, now); err != nil {
			return fmt.Errorf("set wallet status: %w", err)
		}
		wallet.Status = status
		wallet.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet status changed",
		zap.String("user_id", userID),
		zap.String("status", string(status)),
		zap.String("admin_id", adminID),
	)
	publish(ctx, s.publisher, s.logger, EventWalletStatus, map[string]interface{}{
		"user_id":  userID,
		"status":   status,
		"admin_id": adminID,
	})
	return wallet, nil
}

func validateAppend(p AppendEntryParams) error {
	if strings.TrimSpace(p.WalletUserID) == "" {
		return util.NewValidationError("user_id", "must not be empty")
	}
	if !p.Type.IsValid() {
		return util.NewValidationError("type", fmt.Sprintf("unknown entry type %q", p.Type))
	}
	if err := validateAmount(p.Amount); err != nil {
		return err
	}
	if p.Override {
		if !p.Type.IsDebit() {
			return util.NewValidationError("override", "only applies to debits")
		}
		if strings.TrimSpace(p.AdminNotes) == "" {
			return util.NewValidationError("admin_notes", "required when overriding the balance check")
		}
	}
	return nil
}

// validateAmount rejects non-positive amounts and any the NUMERIC(20,4) columns would round.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return util.NewValidationError("amount", "must be greater than zero")
	}
	if !domain.HasStorableScale(amount) {
		return util.NewValidationError("amount", fmt.Sprintf("must have at most %d decimal places", domain.AmountScale))
	}
	return nil
}

func adminNotes(p AppendEntryParams) string {
	notes := strings.TrimSpace(p.AdminNotes)
	if p.Override && !strings.HasPrefix(notes, overrideNotePrefix) {
		return overrideNotePrefix + notes
	}
	return notes
}
