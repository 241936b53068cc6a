// internal/service/reconciliation_service.go
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
	"creditledger/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actors recorded as IssuedBy when no admin is involved.
const (
	ActorProvider    = "provider"
	ActorAutoApprove = "auto-approve"
)

// CreatePaymentParams registers a payment attempt. An empty ID is generated.
type CreatePaymentParams struct {
	ID            string
	UserID        string
	UserName      string
	UserEmail     string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Description   string
}

// ApprovalResult is returned by a successful approval.
type ApprovalResult struct {
	Payment *domain.PaymentRecord `json:"payment"`
	Entry   *domain.LedgerEntry   `json:"entry"`
	Wallet  *domain.Wallet        `json:"wallet"`
}

// IngestOutcome describes what a provider event did.
type IngestOutcome string

const (
	IngestCreated    IngestOutcome = "created"
	IngestProcessing IngestOutcome = "processing"
	IngestApproved   IngestOutcome = "approved"
	IngestDuplicate  IngestOutcome = "duplicate"
	IngestRejected   IngestOutcome = "rejected"
	IngestCancelled  IngestOutcome = "cancelled"
	IngestUnchanged  IngestOutcome = "unchanged"
)

// IngestResult is the outcome of applying one provider event.
type IngestResult struct {
	Payment *domain.PaymentRecord `json:"payment"`
	Entry   *domain.LedgerEntry   `json:"entry,omitempty"`
	Outcome IngestOutcome         `json:"outcome"`
}

// ReconciliationOptions configures the optional auto-approve hook.
type ReconciliationOptions struct {
	AutoApproveEnabled   bool
	AutoApproveThreshold decimal.Decimal
}

// ReconciliationService drives payment records through their lifecycle and
// turns completed payments into exactly one ledger credit.
type ReconciliationService interface {
	CreatePayment(ctx context.Context, params CreatePaymentParams) (*domain.PaymentRecord, error)
	MarkProcessing(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)
	Approve(ctx context.Context, paymentID, adminID string) (*ApprovalResult, error)
	Reject(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)
	Cancel(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)
	IngestEvent(ctx context.Context, event domain.ProviderEvent) (*IngestResult, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)
	ListPayments(ctx context.Context, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error)
}

type reconciliationService struct {
	tx          *TxManager
	dbExecutor  repository.DBExecutor
	paymentRepo repository.PaymentRepository
	ledgerRepo  repository.LedgerRepository
	ledger      LedgerService
	publisher   EventPublisher
	logger      *zap.Logger
	opts        ReconciliationOptions
}

// NewReconciliationService creates a new instance of ReconciliationService.
func NewReconciliationService(
	tx *TxManager,
	dbExecutor repository.DBExecutor,
	paymentRepo repository.PaymentRepository,
	ledgerRepo repository.LedgerRepository,
	ledger LedgerService,
	publisher EventPublisher,
	logger *zap.Logger,
	opts ReconciliationOptions,
) ReconciliationService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &reconciliationService{
		tx:          tx,
		dbExecutor:  dbExecutor,
		paymentRepo: paymentRepo,
		ledgerRepo:  ledgerRepo,
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger,
		opts:        opts,
	}
}

// CreatePayment registers a new pending payment.
func (s *reconciliationService) CreatePayment(ctx context.Context, params CreatePaymentParams) (*domain.PaymentRecord, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return nil, util.NewValidationError("user_id", "must not be empty")
	}
	if err := validateAmount(params.Amount); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		return nil, util.NewValidationError("currency", "must not be empty")
	}
	paymentID := strings.TrimSpace(params.ID)
	if paymentID == "" {
		paymentID = id.NewPaymentID()
	}

	payment := domain.NewPaymentRecord(paymentID, params.UserID, params.UserName, params.UserEmail,
		params.Amount, currency, params.PaymentMethod, params.Description, time.Now().UTC())

	err := s.tx.Run(ctx, "create_payment", nil, func(q repository.DBExecutor) error {
		if err := s.paymentRepo.CreatePayment(ctx, q, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// MarkProcessing moves a pending payment to processing, then runs the auto-approve hook.
func (s *reconciliationService) MarkProcessing(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	payment, err := s.transition(ctx, "mark_processing", paymentID, domain.PaymentStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !s.shouldAutoApprove(payment) {
		return payment, nil
	}

	res, err := s.Approve(ctx, paymentID, ActorAutoApprove)
	switch {
	case err == nil:
		return res.Payment, nil
	case isDuplicate(err):
		return s.GetPayment(ctx, paymentID)
	default:
		// The payment stays in processing for a manual decision.
		s.logger.Warn("auto-approve failed", zap.String("payment_id", paymentID), zap.Error(err))
		return payment, nil
	}
}

func (s *reconciliationService) shouldAutoApprove(p *domain.PaymentRecord) bool {
	return s.opts.AutoApproveEnabled &&
		s.opts.AutoApproveThreshold.IsPositive() &&
		p.Amount.LessThanOrEqual(s.opts.AutoApproveThreshold)
}

// Approve completes a payment and credits the wallet in one transaction.
// An already reconciled payment returns *util.DuplicateReconciliationError
// with the existing entry and leaves everything unchanged.
func (s *reconciliationService) Approve(ctx context.Context, paymentID, adminID string) (*ApprovalResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, util.NewValidationError("payment_id", "must not be empty")
	}

	var (
		result *ApprovalResult
		dup    *util.DuplicateReconciliationError
	)
	err := s.tx.Run(ctx, "approve_payment", nil, func(q repository.DBExecutor) error {
		result, dup = nil, nil

		payment, err := s.paymentRepo.GetPaymentForUpdate(ctx, q, paymentID)
		if err != nil {
			return fmt.Errorf("approve payment: failed to get payment %s: %w", paymentID, err)
		}
		if payment.Status == domain.PaymentStatusCompleted {
			dup = s.duplicateOf(ctx, q, payment)
			return nil
		}
		if !domain.CanTransition(payment.Status, domain.PaymentStatusCompleted) {
			return fmt.Errorf("approve payment: payment %s is %s: %w", paymentID, payment.Status, util.ErrInvalidTransition)
		}

		// Idempotency guard, checked under the payment lock in the same transaction as the append.
		existing, err := s.ledgerRepo.GetCreditByExternalReference(ctx, q, payment.ID)
		switch {
		case err == nil:
			dup = &util.DuplicateReconciliationError{PaymentID: payment.ID, EntryID: existing.ID, Entry: existing}
			return nil
		case !util.IsError(err, util.ErrEntryNotFound):
			return fmt.Errorf("approve payment: failed to check existing credit: %w", err)
		}

		reference := payment.ID
		entry, wallet, err := s.ledger.AppendEntryTx(ctx, q, AppendEntryParams{
			WalletUserID:      payment.UserID,
			Type:              domain.EntryTypeCredit,
			Amount:            payment.Amount,
			Description:       paymentDescription(payment),
			ExternalReference: &reference,
			IssuedBy:          adminID,
			UserName:          payment.UserName,
			UserEmail:         payment.UserEmail,
		})
		if err != nil {
			return fmt.Errorf("approve payment %s: %w", paymentID, err)
		}

		now := time.Now().UTC()
		if err := s.paymentRepo.UpdatePaymentStatus(ctx, q, payment.ID, domain.PaymentStatusCompleted, &entry.ID, now); err != nil {
			return fmt.Errorf("approve payment: failed to complete payment %s: %w", paymentID, err)
		}
		payment.Status = domain.PaymentStatusCompleted
		payment.LedgerEntryID = &entry.ID
		payment.UpdatedAt = now

		result = &ApprovalResult{Payment: payment, Entry: entry, Wallet: wallet}
		return nil
	})
	if err != nil {
		if isDuplicate(err) {
			// The unique index caught a concurrent approval that won the race.
			metrics.ReconciliationOutcomes.WithLabelValues(string(IngestDuplicate)).Inc()
			return nil, s.loadDuplicate(ctx, paymentID)
		}
		metrics.ReconciliationOutcomes.WithLabelValues("failed").Inc()
		return nil, err
	}
	if dup != nil {
		metrics.ReconciliationOutcomes.WithLabelValues(string(IngestDuplicate)).Inc()
		s.logger.Info("payment already reconciled", zap.String("payment_id", paymentID), zap.String("entry_id", dup.EntryID))
		return nil, dup
	}

	metrics.ReconciliationOutcomes.WithLabelValues(string(IngestApproved)).Inc()
	metrics.EntriesAppended.WithLabelValues(string(result.Entry.Type)).Inc()
	s.logger.Info("payment approved",
		zap.String("payment_id", paymentID),
		zap.String("entry_id", result.Entry.ID),
		zap.String("user_id", result.Payment.UserID),
		zap.String("amount", result.Entry.Amount.String()),
		zap.String("admin_id", adminID),
	)
	publish(ctx, s.publisher, s.logger, EventPaymentApproved, result)
	return result, nil
}

func (s *reconciliationService) duplicateOf(ctx context.Context, q repository.DBExecutor, payment *domain.PaymentRecord) *util.DuplicateReconciliationError {
	dup := &util.DuplicateReconciliationError{PaymentID: payment.ID}
	var (
		entry *domain.LedgerEntry
		err   error
	)
	if payment.LedgerEntryID != nil {
		entry, err = s.ledgerRepo.GetEntryByID(ctx, q, *payment.LedgerEntryID)
	} else {
		entry, err = s.ledgerRepo.GetCreditByExternalReference(ctx, q, payment.ID)
	}
	if err != nil {
		s.logger.Warn("completed payment without loadable credit", zap.String("payment_id", payment.ID), zap.Error(err))
		return dup
	}
	dup.EntryID = entry.ID
	dup.Entry = entry
	return dup
}

func (s *reconciliationService) loadDuplicate(ctx context.Context, paymentID string) error {
	entry, err := s.ledgerRepo.GetCreditByExternalReference(ctx, s.dbExecutor, paymentID)
	if err != nil {
		return &util.DuplicateReconciliationError{PaymentID: paymentID}
	}
	return &util.DuplicateReconciliationError{PaymentID: paymentID, EntryID: entry.ID, Entry: entry}
}

// Reject marks a payment failed. It never touches the ledger.
func (s *reconciliationService) Reject(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	payment, err := s.transition(ctx, "reject_payment", paymentID, domain.PaymentStatusFailed)
	if err != nil {
		return nil, err
	}
	metrics.ReconciliationOutcomes.WithLabelValues(string(IngestRejected)).Inc()
	publish(ctx, s.publisher, s.logger, EventPaymentRejected, payment)
	return payment, nil
}

// Cancel archives a pending payment. The record is kept so its ID cannot be reused.
func (s *reconciliationService) Cancel(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	payment, err := s.transition(ctx, "cancel_payment", paymentID, domain.PaymentStatusCancelled)
	if err != nil {
		return nil, err
	}
	metrics.ReconciliationOutcomes.WithLabelValues(string(IngestCancelled)).Inc()
	publish(ctx, s.publisher, s.logger, EventPaymentCancelled, payment)
	return payment, nil
}

// transition applies a status change that has no ledger effect.
func (s *reconciliationService) transition(ctx context.Context, op, paymentID string, to domain.PaymentStatus) (*domain.PaymentRecord, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, util.NewValidationError("payment_id", "must not be empty")
	}

	var payment *domain.PaymentRecord
	err := s.tx.Run(ctx, op, nil, func(q repository.DBExecutor) error {
		p, err := s.paymentRepo.GetPaymentForUpdate(ctx, q, paymentID)
		if err != nil {
			return fmt.Errorf("%s: failed to get payment %s: %w", op, paymentID, err)
		}
		if !domain.CanTransition(p.Status, to) {
			return fmt.Errorf("%s: payment %s is %s: %w", op, paymentID, p.Status, util.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		if err := s.paymentRepo.UpdatePaymentStatus(ctx, q, paymentID, to, nil, now); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		p.Status = to
		p.UpdatedAt = now
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment status changed", zap.String("payment_id", paymentID), zap.String("status", string(to)))
	return payment, nil
}

// IngestEvent applies a provider lifecycle event. Replays resolve to no-ops.
func (s *reconciliationService) IngestEvent(ctx context.Context, event domain.ProviderEvent) (*IngestResult, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	payment, err := s.paymentRepo.GetPaymentByID(ctx, s.dbExecutor, event.PaymentID)
	created := false
	switch {
	case util.IsError(err, util.ErrPaymentNotFound):
		payment, err = s.CreatePayment(ctx, CreatePaymentParams{
			ID:            event.PaymentID,
			UserID:        event.UserID,
			UserName:      event.UserName,
			UserEmail:     event.UserEmail,
			Amount:        event.Amount,
			Currency:      event.Currency,
			PaymentMethod: event.PaymentMethod,
			Description:   event.Description,
		})
		if util.IsError(err, util.ErrDuplicateEntry) {
			// Another delivery of the same event created it first.
			payment, err = s.paymentRepo.GetPaymentByID(ctx, s.dbExecutor, event.PaymentID)
		} else {
			created = err == nil
		}
		if err != nil {
			return nil, fmt.Errorf("ingest event: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("ingest event: failed to get payment %s: %w", event.PaymentID, err)
	}

	if err := matchEvent(payment, event); err != nil {
		return nil, err
	}

	result := &IngestResult{Payment: payment, Outcome: IngestUnchanged}
	if created {
		result.Outcome = IngestCreated
	}

	switch event.Status {
	case domain.PaymentStatusPending:
		return result, nil

	case domain.PaymentStatusProcessing:
		if payment.Status != domain.PaymentStatusPending {
			return result, nil
		}
		p, err := s.MarkProcessing(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		result.Payment, result.Outcome = p, IngestProcessing
		if p.Status == domain.PaymentStatusCompleted {
			result.Outcome = IngestApproved
		}
		return result, nil

	case domain.PaymentStatusCompleted:
		res, err := s.Approve(ctx, payment.ID, ActorProvider)
		if err != nil {
			var dup *util.DuplicateReconciliationError
			if !asDuplicate(err, &dup) {
				return nil, err
			}
			current, getErr := s.GetPayment(ctx, payment.ID)
			if getErr == nil {
				result.Payment = current
			}
			result.Entry, result.Outcome = dup.Entry, IngestDuplicate
			return result, nil
		}
		result.Payment, result.Entry, result.Outcome = res.Payment, res.Entry, IngestApproved
		return result, nil

	case domain.PaymentStatusFailed:
		if payment.Status == domain.PaymentStatusFailed {
			return result, nil
		}
		p, err := s.Reject(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		result.Payment, result.Outcome = p, IngestRejected
		return result, nil

	case domain.PaymentStatusCancelled:
		if payment.Status == domain.PaymentStatusCancelled {
			return result, nil
		}
		p, err := s.Cancel(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		result.Payment, result.Outcome = p, IngestCancelled
		return result, nil
	}
	return nil, util.NewValidationError("status", fmt.Sprintf("unknown payment status %q", event.Status))
}

// GetPayment retrieves a payment by ID.
func (s *reconciliationService) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	payment, err := s.paymentRepo.GetPaymentByID(ctx, s.dbExecutor, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

// ListPayments lists payments, optionally filtered by status.
func (s *reconciliationService) ListPayments(ctx context.Context, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	if status != "" && !status.IsValid() {
		return nil, 0, util.NewValidationError("status", fmt.Sprintf("unknown payment status %q", status))
	}
	payments, total, err := s.paymentRepo.ListPayments(ctx, s.dbExecutor, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}

func validateEvent(e domain.ProviderEvent) error {
	switch {
	case strings.TrimSpace(e.PaymentID) == "":
		return util.NewValidationError("payment_id", "must not be empty")
	case strings.TrimSpace(e.UserID) == "":
		return util.NewValidationError("user_id", "must not be empty")
	case !e.Amount.IsPositive(), !domain.HasStorableScale(e.Amount):
		return validateAmount(e.Amount)
	case strings.TrimSpace(e.Currency) == "":
		return util.NewValidationError("currency", "must not be empty")
	case !e.Status.IsValid():
		return util.NewValidationError("status", fmt.Sprintf("unknown payment status %q", e.Status))
	}
	return nil
}

// matchEvent rejects events that disagree with the stored payment.
func matchEvent(p *domain.PaymentRecord, e domain.ProviderEvent) error {
	switch {
	case p.UserID != e.UserID:
		return util.NewValidationError("user_id", "does not match payment "+p.ID)
	case !p.Amount.Equal(e.Amount):
		return util.NewValidationError("amount", "does not match payment "+p.ID)
	case !strings.EqualFold(p.Currency, strings.TrimSpace(e.Currency)):
		return util.NewValidationError("currency", "does not match payment "+p.ID)
	}
	return nil
}

func paymentDescription(p *domain.PaymentRecord) string {
	if d := strings.TrimSpace(p.Description); d != "" {
		return d
	}
	return fmt.Sprintf("Payment %s (%s %s)", p.ID, p.Amount.StringFixed(2), p.Currency)
}

// isDuplicate reports whether err means the payment was already reconciled.
func isDuplicate(err error) bool {
	return errors.Is(err, util.ErrDuplicateReconciliation)
}

func asDuplicate(err error, target **util.DuplicateReconciliationError) bool {
	return errors.As(err, target)
}
