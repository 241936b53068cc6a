// internal/api/handler/mocks_test.go
package handler

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"creditledger/internal/domain"
	"creditledger/internal/repository"
	"creditledger/internal/service"
)

type mockLedgerService struct {
	mock.Mock
}

func (m *mockLedgerService) AppendEntry(ctx context.Context, params service.AppendEntryParams) (*domain.LedgerEntry, *domain.Wallet, error) {
	args := m.Called(ctx, params)
	entry, _ := args.Get(0).(*domain.LedgerEntry)
	wallet, _ := args.Get(1).(*domain.Wallet)
	return entry, wallet, args.Error(2)
}

func (m *mockLedgerService) AppendEntryTx(ctx context.Context, q repository.DBExecutor, params service.AppendEntryParams) (*domain.LedgerEntry, *domain.Wallet, error) {
	args := m.Called(ctx, q, params)
	entry, _ := args.Get(0).(*domain.LedgerEntry)
	wallet, _ := args.Get(1).(*domain.Wallet)
	return entry, wallet, args.Error(2)
}

func (m *mockLedgerService) GetBalance(ctx context.Context, userID string) (*domain.Wallet, error) {
	args := m.Called(ctx, userID)
	wallet, _ := args.Get(0).(*domain.Wallet)
	return wallet, args.Error(1)
}

func (m *mockLedgerService) RecomputeBalance(ctx context.Context, userID string) (*domain.BalanceCheck, error) {
	args := m.Called(ctx, userID)
	check, _ := args.Get(0).(*domain.BalanceCheck)
	return check, args.Error(1)
}

func (m *mockLedgerService) ListEntries(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	entries, _ := args.Get(0).([]domain.LedgerEntry)
	return entries, args.Get(1).(int64), args.Error(2)
}

func (m *mockLedgerService) SetWalletStatus(ctx context.Context, userID string, status domain.WalletStatus, adminID string) (*domain.Wallet, error) {
	args := m.Called(ctx, userID, status, adminID)
	wallet, _ := args.Get(0).(*domain.Wallet)
	return wallet, args.Error(1)
}

type mockReconciliationService struct {
	mock.Mock
}

func (m *mockReconciliationService) CreatePayment(ctx context.Context, params service.CreatePaymentParams) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, params)
	p, _ := args.Get(0).(*domain.PaymentRecord)
	return p, args.Error(1)
}

func (m *mockReconciliationService) MarkProcessing(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*domain.PaymentRecord)
	return p, args.Error(1)
}

func (m *mockReconciliationService) Approve(ctx context.Context, paymentID, adminID string) (*service.ApprovalResult, error) {
	args := m.Called(ctx, paymentID, adminID)
	res, _ := args.Get(0).(*service.ApprovalResult)
	return res, args.Error(1)
}

func (m *mockReconciliationService) Reject(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*domain.PaymentRecord)
	return p, args.Error(1)
}

func (m *mockReconciliationService) Cancel(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*domain.PaymentRecord)
	return p, args.Error(1)
}

func (m *mockReconciliationService) IngestEvent(ctx context.Context, event domain.ProviderEvent) (*service.IngestResult, error) {
	args := m.Called(ctx, event)
	res, _ := args.Get(0).(*service.IngestResult)
	return res, args.Error(1)
}

func (m *mockReconciliationService) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(*domain.PaymentRecord)
	return p, args.Error(1)
}

func (m *mockReconciliationService) ListPayments(ctx context.Context, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	args := m.Called(ctx, status, limit, offset)
	payments, _ := args.Get(0).([]domain.PaymentRecord)
	return payments, args.Get(1).(int64), args.Error(2)
}

type mockAdjustmentService struct {
	mock.Mock
}

func (m *mockAdjustmentService) IssueCredit(ctx context.Context, params service.IssueCreditParams) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, params)
	e, _ := args.Get(0).(*domain.LedgerEntry)
	return e, args.Error(1)
}

func (m *mockAdjustmentService) IssueDebit(ctx context.Context, params service.IssueDebitParams) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, params)
	e, _ := args.Get(0).(*domain.LedgerEntry)
	return e, args.Error(1)
}

func (m *mockAdjustmentService) IssueRefund(ctx context.Context, params service.IssueRefundParams) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, params)
	e, _ := args.Get(0).(*domain.LedgerEntry)
	return e, args.Error(1)
}

type mockExportService struct {
	mock.Mock
}

func (m *mockExportService) Export(ctx context.Context, kind domain.ExportKind, filter domain.ExportFilter) (*domain.ExportTable, error) {
	args := m.Called(ctx, kind, filter)
	t, _ := args.Get(0).(*domain.ExportTable)
	return t, args.Error(1)
}

func (m *mockExportService) WriteCSV(w io.Writer, table *domain.ExportTable) error {
	args := m.Called(w, table)
	return args.Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, event domain.ProviderEvent) error {
	return m.Called(ctx, event).Error(0)
}
