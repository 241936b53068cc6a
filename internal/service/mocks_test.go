// internal/service/mocks_test.go
package service

import (
	"context"
	"database/sql"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/repository"
	"creditledger/pkg/db" // Import pkg/db for interfaces and function types

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockDBExecutor is a mock implementation of repository.DBExecutor.
type MockDBExecutor struct {
	mock.Mock
}

func (m *MockDBExecutor) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	argsCalled := m.Called(ctx, dest, query, args)
	return argsCalled.Error(0)
}

func (m *MockDBExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	argsCalled := m.Called(ctx, query, args)
	return argsCalled.Get(0).(sql.Result), argsCalled.Error(1)
}

func (m *MockDBExecutor) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	m.Called(ctx, query, args)
	return &sql.Row{}
}

// MockWalletRepository is a mock implementation of repository.WalletRepository.
type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) EnsureWallet(ctx context.Context, q repository.DBExecutor, userID, userName, userEmail string, now time.Time) error {
	args := m.Called(ctx, q, userID, userName, userEmail, now)
	return args.Error(0)
}

func (m *MockWalletRepository) GetWalletByUserID(ctx context.Context, q repository.DBExecutor, userID string) (*domain.Wallet, error) {
	args := m.Called(ctx, q, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *MockWalletRepository) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, userID string) (*domain.Wallet, error) {
	args := m.Called(ctx, q, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	// Hand out a copy so a retried transaction starts from the stored state.
	w := *args.Get(0).(*domain.Wallet)
	return &w, args.Error(1)
}

func (m *MockWalletRepository) UpdateWalletBalance(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet, expectedVersion int64) error {
	args := m.Called(ctx, q, wallet, expectedVersion)
	return args.Error(0)
}

func (m *MockWalletRepository) UpdateWalletStatus(ctx context.Context, q repository.DBExecutor, userID string, status domain.WalletStatus, now time.Time) error {
	args := m.Called(ctx, q, userID, status, now)
	return args.Error(0)
}

func (m *MockWalletRepository) ListWalletUserIDs(ctx context.Context, q repository.DBExecutor, afterUserID string, limit int) ([]string, error) {
	args := m.Called(ctx, q, afterUserID, limit)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockWalletRepository) ListWalletsForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.Wallet, error) {
	args := m.Called(ctx, q, filter)
	return args.Get(0).([]domain.Wallet), args.Error(1)
}

// MockLedgerRepository is a mock implementation of repository.LedgerRepository.
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) CreateEntry(ctx context.Context, q repository.DBExecutor, entry *domain.LedgerEntry) error {
	args := m.Called(ctx, q, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetEntryByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) GetCreditByExternalReference(ctx context.Context, q repository.DBExecutor, reference string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, q, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) SumRefunds(ctx context.Context, q repository.DBExecutor, originalEntryID string) (decimal.Decimal, error) {
	args := m.Called(ctx, q, originalEntryID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedgerRepository) ListEntriesByUser(ctx context.Context, q repository.DBExecutor, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	args := m.Called(ctx, q, userID, limit, offset)
	return args.Get(0).([]domain.LedgerEntry), args.Get(1).(int64), args.Error(2)
}

func (m *MockLedgerRepository) ListAllEntriesByUser(ctx context.Context, q repository.DBExecutor, userID string) ([]domain.LedgerEntry, error) {
	args := m.Called(ctx, q, userID)
	return args.Get(0).([]domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) ListEntriesForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.LedgerEntryView, error) {
	args := m.Called(ctx, q, filter)
	return args.Get(0).([]domain.LedgerEntryView), args.Error(1)
}

// MockPaymentRepository is a mock implementation of repository.PaymentRepository.
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) CreatePayment(ctx context.Context, q repository.DBExecutor, payment *domain.PaymentRecord) error {
	args := m.Called(ctx, q, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetPaymentByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentRecord), args.Error(1)
}

func (m *MockPaymentRepository) GetPaymentForUpdate(ctx context.Context, q repository.DBExecutor, id string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	p := *args.Get(0).(*domain.PaymentRecord)
	return &p, args.Error(1)
}

func (m *MockPaymentRepository) UpdatePaymentStatus(ctx context.Context, q repository.DBExecutor, id string, status domain.PaymentStatus, ledgerEntryID *string, now time.Time) error {
	args := m.Called(ctx, q, id, status, ledgerEntryID, now)
	return args.Error(0)
}

func (m *MockPaymentRepository) ListPayments(ctx context.Context, q repository.DBExecutor, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	args := m.Called(ctx, q, status, limit, offset)
	return args.Get(0).([]domain.PaymentRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockPaymentRepository) ListPaymentsForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.PaymentRecord, error) {
	args := m.Called(ctx, q, filter)
	return args.Get(0).([]domain.PaymentRecord), args.Error(1)
}

// MockTxController is a mock implementation of db.TxController.
// It also implicitly implements repository.DBExecutor for testing purposes
// by embedding MockDBExecutor.
type MockTxController struct {
	mock.Mock
	MockDBExecutor // Embed MockDBExecutor to satisfy repository.DBExecutor interface
}

func (m *MockTxController) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTxController) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// newMockTxManager wires a TxManager whose transactions are all mockTx.
func newMockTxManager(mockTx *MockTxController, maxAttempts int) *TxManager {
	return NewTxManager(
		nil,
		func(ctx context.Context, dbConn db.DBTxBeginner, opts *sql.TxOptions) (db.TxController, error) {
			return mockTx, nil
		},
		func(tx db.TxController) error {
			return mockTx.Commit()
		},
		func(tx db.TxController) {
			_ = mockTx.Rollback()
		},
		maxAttempts,
		zap.NewNop(),
	)
}
