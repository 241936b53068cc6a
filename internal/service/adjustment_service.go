// internal/service/adjustment_service.go
package service

import (
	"context"
	"fmt"
	"strings"

	"creditledger/internal/domain"
	"creditledger/internal/metrics"
	"creditledger/internal/repository"
	"creditledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IssueCreditParams describes an admin credit or bonus.
type IssueCreditParams struct {
	UserID      string
	UserName    string
	UserEmail   string
	Amount      decimal.Decimal
	Type        domain.EntryType // credit or bonus; empty means credit
	Description string
	AdminNotes  string
	AdminID     string
}

// IssueDebitParams describes an admin debit.
type IssueDebitParams struct {
	UserID      string
	Amount      decimal.Decimal
	Description string
	AdminNotes  string
	AdminID     string
	Override    bool
}

// IssueRefundParams describes a refund against an earlier entry. OriginalReference is
// either the external reference of a reconciled credit or a ledger entry ID.
type IssueRefundParams struct {
	OriginalReference string
	Amount            decimal.Decimal
	Reason            string
	AdminID           string
}

// AdjustmentService exposes admin-initiated ledger changes.
type AdjustmentService interface {
	IssueCredit(ctx context.Context, params IssueCreditParams) (*domain.LedgerEntry, error)
	IssueDebit(ctx context.Context, params IssueDebitParams) (*domain.LedgerEntry, error)
	IssueRefund(ctx context.Context, params IssueRefundParams) (*domain.LedgerEntry, error)
}

type adjustmentService struct {
	tx         *TxManager
	walletRepo repository.WalletRepository
	ledgerRepo repository.LedgerRepository
	ledger     LedgerService
	publisher  EventPublisher
	logger     *zap.Logger
}

// NewAdjustmentService creates a new instance of AdjustmentService.
func NewAdjustmentService(
	tx *TxManager,
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerRepository,
	ledger LedgerService,
	publisher EventPublisher,
	logger *zap.Logger,
) AdjustmentService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &adjustmentService{
		tx:         tx,
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		ledger:     ledger,
		publisher:  publisher,
		logger:     logger,
	}
}

// IssueCredit credits a wallet, creating it if it does not exist yet.
func (s *adjustmentService) IssueCredit(ctx context.Context, params IssueCreditParams) (*domain.LedgerEntry, error) {
	entryType := params.Type
	if entryType == "" {
		entryType = domain.EntryTypeCredit
	}
	switch {
	case strings.TrimSpace(params.UserID) == "":
		return nil, util.NewValidationError("user_id", "must not be empty")
	case strings.TrimSpace(params.UserName) == "":
		return nil, util.NewValidationError("user_name", "must not be empty")
	case strings.TrimSpace(params.UserEmail) == "":
		return nil, util.NewValidationError("user_email", "must not be empty")
	case strings.TrimSpace(params.Description) == "":
		return nil, util.NewValidationError("description", "must not be empty")
	case !params.Amount.IsPositive(), !domain.HasStorableScale(params.Amount):
		return nil, validateAmount(params.Amount)
	case entryType != domain.EntryTypeCredit && entryType != domain.EntryTypeBonus:
		return nil, util.NewValidationError("type", "must be credit or bonus")
	}

	entry, _, err := s.ledger.AppendEntry(ctx, AppendEntryParams{
		WalletUserID: strings.TrimSpace(params.UserID),
		Type:         entryType,
		Amount:       params.Amount,
		Description:  params.Description,
		AdminNotes:   params.AdminNotes,
		IssuedBy:     params.AdminID,
		UserName:     strings.TrimSpace(params.UserName),
		UserEmail:    strings.TrimSpace(params.UserEmail),
	})
	if err != nil {
		return nil, fmt.Errorf("issue credit: %w", err)
	}
	return entry, nil
}

// IssueDebit debits a wallet. Without Override the balance may not go negative.
func (s *adjustmentService) IssueDebit(ctx context.Context, params IssueDebitParams) (*domain.LedgerEntry, error) {
	switch {
	case strings.TrimSpace(params.UserID) == "":
		return nil, util.NewValidationError("user_id", "must not be empty")
	case strings.TrimSpace(params.Description) == "":
		return nil, util.NewValidationError("description", "must not be empty")
	case !params.Amount.IsPositive(), !domain.HasStorableScale(params.Amount):
		return nil, validateAmount(params.Amount)
	}

	entry, _, err := s.ledger.AppendEntry(ctx, AppendEntryParams{
		WalletUserID: strings.TrimSpace(params.UserID),
		Type:         domain.EntryTypeDebit,
		Amount:       params.Amount,
		Description:  params.Description,
		AdminNotes:   params.AdminNotes,
		IssuedBy:     params.AdminID,
		Override:     params.Override,
	})
	if err != nil {
		return nil, fmt.Errorf("issue debit: %w", err)
	}
	if params.Override {
		s.logger.Warn("debit issued with balance override",
			zap.String("entry_id", entry.ID),
			zap.String("user_id", entry.WalletUserID),
			zap.String("resulting_balance", entry.ResultingBalance.String()),
			zap.String("admin_id", params.AdminID),
		)
	}
	return entry, nil
}

// IssueRefund appends a refund entry against an earlier entry. Partial refunds
// are allowed; the running total of refunds never exceeds the original amount.
func (s *adjustmentService) IssueRefund(ctx context.Context, params IssueRefundParams) (*domain.LedgerEntry, error) {
	reference := strings.TrimSpace(params.OriginalReference)
	switch {
	case reference == "":
		return nil, util.NewValidationError("original_reference", "must not be empty")
	case strings.TrimSpace(params.Reason) == "":
		return nil, util.NewValidationError("reason", "must not be empty")
	case !params.Amount.IsPositive(), !domain.HasStorableScale(params.Amount):
		return nil, validateAmount(params.Amount)
	}

	var entry *domain.LedgerEntry
	err := s.tx.Run(ctx, "issue_refund", nil, func(q repository.DBExecutor) error {
		original, err := s.resolveOriginal(ctx, q, reference)
		if err != nil {
			return err
		}
		if original.Type == domain.EntryTypeRefund {
			return &util.ValidationError{Field: "original_reference", Reason: "cannot refund a refund entry"}
		}

		// Lock the wallet first so concurrent refunds of the same original serialize.
		if _, err := s.walletRepo.GetWalletForUpdate(ctx, q, original.WalletUserID); err != nil {
			return fmt.Errorf("issue refund: failed to lock wallet %s: %w", original.WalletUserID, err)
		}
		prior, err := s.ledgerRepo.SumRefunds(ctx, q, original.ID)
		if err != nil {
			return fmt.Errorf("issue refund: %w", err)
		}
		if prior.Add(params.Amount).GreaterThan(original.Amount) {
			return &util.ValidationError{
				Field: "amount",
				Reason: fmt.Sprintf("refund of %s exceeds remaining %s on entry %s",
					params.Amount.StringFixed(2), original.Amount.Sub(prior).StringFixed(2), original.ID),
				Err: util.ErrRefundExceedsOriginal,
			}
		}

		refundOf := original.ID
		entry, _, err = s.ledger.AppendEntryTx(ctx, q, AppendEntryParams{
			WalletUserID:      original.WalletUserID,
			Type:              domain.EntryTypeRefund,
			Amount:            params.Amount,
			Description:       params.Reason,
			ExternalReference: &reference,
			RefundOfEntryID:   &refundOf,
			AdminNotes:        params.Reason,
			IssuedBy:          params.AdminID,
		})
		if err != nil {
			return fmt.Errorf("issue refund: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EntriesAppended.WithLabelValues(string(entry.Type)).Inc()
	s.logger.Info("refund issued",
		zap.String("entry_id", entry.ID),
		zap.String("refund_of", *entry.RefundOfEntryID),
		zap.String("user_id", entry.WalletUserID),
		zap.String("amount", entry.Amount.String()),
		zap.String("admin_id", params.AdminID),
	)
	publish(ctx, s.publisher, s.logger, EventEntryAppended, entry)
	return entry, nil
}

// resolveOriginal looks the reference up as a payment reference first, then as an entry ID.
func (s *adjustmentService) resolveOriginal(ctx context.Context, q repository.DBExecutor, reference string) (*domain.LedgerEntry, error) {
	original, err := s.ledgerRepo.GetCreditByExternalReference(ctx, q, reference)
	if err == nil {
		return original, nil
	}
	if !util.IsError(err, util.ErrEntryNotFound) {
		return nil, fmt.Errorf("issue refund: %w", err)
	}
	original, err = s.ledgerRepo.GetEntryByID(ctx, q, reference)
	if err != nil {
		return nil, fmt.Errorf("issue refund: original %s: %w", reference, err)
	}
	return original, nil
}
