// internal/service/ledger_service_test.go
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLedgerService_AppendEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("CreditThenDebit", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})

		credit, wallet, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1",
			Type:         domain.EntryTypeCredit,
			Amount:       dec("100.00"),
			Description:  "Top-up",
			UserName:     "Ada",
			UserEmail:    "ada@example.com",
		})
		require.NoError(t, err)
		assert.True(t, credit.ResultingBalance.Equal(dec("100")))
		assert.True(t, wallet.CurrentBalance.Equal(dec("100")))

		debit, wallet, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1",
			Type:         domain.EntryTypeDebit,
			Amount:       dec("30.00"),
			Description:  "Bid spend",
		})
		require.NoError(t, err)
		assert.True(t, debit.ResultingBalance.Equal(dec("70")))
		assert.True(t, wallet.TotalCredits.Equal(dec("100")))
		assert.True(t, wallet.TotalDebits.Equal(dec("30")))

		stored := env.store.wallet(t, "user_1")
		assert.Equal(t, "Ada", stored.UserName)
		assert.True(t, stored.CurrentBalance.Equal(dec("70")))
		assert.True(t, stored.Consistent())
		assert.Len(t, env.store.entries("user_1"), 2)
		assert.Equal(t, 2, env.pub.published(EventEntryAppended))
	})

	t.Run("DebitWithoutOverrideIsRejected", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("50"), Description: "Top-up",
		})
		require.NoError(t, err)

		_, _, err = env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeDebit, Amount: dec("80"), Description: "Bid spend",
		})
		require.Error(t, err)
		assert.True(t, util.IsError(err, util.ErrInsufficientFunds))

		var insufficient *util.InsufficientBalanceError
		require.True(t, errors.As(err, &insufficient))
		assert.True(t, insufficient.Balance.Equal(dec("50")))
		assert.True(t, insufficient.Requested.Equal(dec("80")))

		// Nothing was written.
		assert.Len(t, env.store.entries("user_1"), 1)
		assert.True(t, env.store.wallet(t, "user_1").CurrentBalance.Equal(dec("50")))
	})

	t.Run("OverrideDebitGoesNegative", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("10"), Description: "Top-up",
		})
		require.NoError(t, err)

		entry, wallet, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1",
			Type:         domain.EntryTypeDebit,
			Amount:       dec("25"),
			Description:  "Chargeback",
			AdminNotes:   "provider chargeback",
			IssuedBy:     "admin_1",
			Override:     true,
		})
		require.NoError(t, err)
		assert.True(t, wallet.CurrentBalance.Equal(dec("-15")))
		require.NotNil(t, entry.AdminNotes)
		assert.Equal(t, "[override] provider chargeback", *entry.AdminNotes)
		require.NotNil(t, entry.IssuedBy)
		assert.Equal(t, "admin_1", *entry.IssuedBy)
	})

	t.Run("OverrideRequiresNotes", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeDebit, Amount: dec("5"), Description: "x", Override: true,
		})
		assert.True(t, util.IsError(err, util.ErrInvalidInput))
	})

	t.Run("Validation", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		cases := []struct {
			name   string
			params AppendEntryParams
			field  string
		}{
			{"EmptyUser", AppendEntryParams{Type: domain.EntryTypeCredit, Amount: dec("1")}, "user_id"},
			{"UnknownType", AppendEntryParams{WalletUserID: "u", Type: "gift", Amount: dec("1")}, "type"},
			{"ZeroAmount", AppendEntryParams{WalletUserID: "u", Type: domain.EntryTypeCredit, Amount: decimal.Zero}, "amount"},
			{"NegativeAmount", AppendEntryParams{WalletUserID: "u", Type: domain.EntryTypeCredit, Amount: dec("-3")}, "amount"},
			{"FifthDecimalPlace", AppendEntryParams{WalletUserID: "u", Type: domain.EntryTypeCredit, Amount: dec("0.00006")}, "amount"},
			{"OverrideOnCredit", AppendEntryParams{WalletUserID: "u", Type: domain.EntryTypeCredit, Amount: dec("1"), Override: true, AdminNotes: "n"}, "override"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, _, err := env.ledger.AppendEntry(ctx, tc.params)
				var verr *util.ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, tc.field, verr.Field)
				assert.True(t, util.IsError(err, util.ErrInvalidInput))
			})
		}
		assert.Equal(t, 0, env.store.begins)
	})

	t.Run("SubUnitAmountsKeepCacheAndFoldEqual", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		for i := 0; i < 2; i++ {
			_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
				WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("0.00006"), Description: "Top-up",
			})
			assert.True(t, util.IsError(err, util.ErrInvalidInput))
		}
		assert.Empty(t, env.store.entries("user_1"))

		for _, amount := range []string{"0.0001", "0.0001", "2.50000"} {
			_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
				WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec(amount), Description: "Top-up",
			})
			require.NoError(t, err)
		}
		check, err := env.ledger.RecomputeBalance(ctx, "user_1")
		require.NoError(t, err)
		assert.True(t, check.Consistent)
		assert.True(t, check.RecomputedBalance.Equal(dec("2.5002")))
	})

	t.Run("WalletStatusGates", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		now := time.Now().UTC()

		suspended := domain.NewWallet("suspended", "S", "s@example.com", now)
		suspended.Status = domain.WalletStatusSuspended
		suspended.CurrentBalance, suspended.TotalCredits = dec("20"), dec("20")
		env.store.seedWallet(*suspended)

		frozen := domain.NewWallet("frozen", "F", "f@example.com", now)
		frozen.Status = domain.WalletStatusFrozen
		env.store.seedWallet(*frozen)

		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "suspended", Type: domain.EntryTypeDebit, Amount: dec("5"), Description: "spend",
		})
		assert.True(t, util.IsError(err, util.ErrWalletSuspended))

		_, _, err = env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "suspended", Type: domain.EntryTypeCredit, Amount: dec("5"), Description: "top-up",
		})
		assert.NoError(t, err)

		_, _, err = env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "frozen", Type: domain.EntryTypeCredit, Amount: dec("5"), Description: "top-up",
		})
		assert.True(t, util.IsError(err, util.ErrWalletFrozen))
		assert.Empty(t, env.store.entries("frozen"))
	})

	t.Run("RollsBackWhenEntryInsertFails", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		env.store.failCreateEntry = errors.New("disk full")

		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("10"), Description: "Top-up",
			UserName: "Ada", UserEmail: "ada@example.com",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 0, env.store.commits)
		assert.Empty(t, env.store.entries("user_1"))
		assert.Equal(t, 0, env.pub.published(EventEntryAppended))
	})

	t.Run("PublishFailureDoesNotFailAppend", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		env.pub.failOn = EventEntryAppended
		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeBonus, Amount: dec("3"), Description: "Welcome bonus",
		})
		assert.NoError(t, err)
		assert.Len(t, env.store.entries("user_1"), 1)
	})
}

func TestLedgerService_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ReconciliationOptions{})
	_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
		WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("100"), Description: "Top-up",
	})
	require.NoError(t, err)

	const workers = 15
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
				WalletUserID: "user_1", Type: domain.EntryTypeDebit, Amount: dec("10"), Description: "Bid spend",
			})
			errs <- err
		}()
	}

	succeeded, insufficient := 0, 0
	for i := 0; i < workers; i++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case util.IsError(err, util.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 5, insufficient)

	w := env.store.wallet(t, "user_1")
	assert.True(t, w.CurrentBalance.IsZero())
	check, err := env.ledger.RecomputeBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.Equal(t, 11, check.EntryCount)
}

func TestLedgerService_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("ConflictThenSuccess", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		env.store.walletConflicts = 1

		_, wallet, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("40"), Description: "Top-up",
		})
		require.NoError(t, err)
		assert.True(t, wallet.CurrentBalance.Equal(dec("40")))
		assert.Equal(t, 2, env.store.begins)
		assert.Len(t, env.store.entries("user_1"), 1)
	})

	t.Run("ExhaustedAttemptsWithMocks", func(t *testing.T) {
		mockTx := new(MockTxController)
		mockWalletRepo := new(MockWalletRepository)
		mockLedgerRepo := new(MockLedgerRepository)
		mockDBExecutor := new(MockDBExecutor)

		stored := domain.NewWallet("user_1", "Ada", "ada@example.com", time.Now().UTC())
		stored.CurrentBalance, stored.TotalCredits = dec("100"), dec("100")

		mockTx.On("Rollback").Return(nil).Times(3)
		mockWalletRepo.On("EnsureWallet", ctx, mockTx, "user_1", "", "", mock.AnythingOfType("time.Time")).Return(nil).Times(3)
		mockWalletRepo.On("GetWalletForUpdate", ctx, mockTx, "user_1").Return(stored, nil).Times(3)
		mockLedgerRepo.On("CreateEntry", ctx, mockTx, mock.AnythingOfType("*domain.LedgerEntry")).Return(nil).Times(3)
		mockWalletRepo.On("UpdateWalletBalance", ctx, mockTx, mock.AnythingOfType("*domain.Wallet"), int64(0)).
			Return(util.ErrConcurrencyConflict).Times(3)

		svc := NewLedgerService(newMockTxManager(mockTx, 3), mockDBExecutor, mockWalletRepo, mockLedgerRepo, nil, zap.NewNop())
		_, _, err := svc.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeDebit, Amount: dec("10"), Description: "Bid spend",
		})

		var conflict *util.ConcurrencyConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "append_entry", conflict.Op)
		assert.Equal(t, 3, conflict.Attempts)
		assert.True(t, util.IsError(err, util.ErrConcurrencyConflict))

		mockTx.AssertNotCalled(t, "Commit")
		mockTx.AssertExpectations(t)
		mockWalletRepo.AssertExpectations(t)
		mockLedgerRepo.AssertExpectations(t)
	})

	t.Run("NonConflictErrorIsNotRetried", func(t *testing.T) {
		mockTx := new(MockTxController)
		mockWalletRepo := new(MockWalletRepository)
		mockLedgerRepo := new(MockLedgerRepository)

		mockTx.On("Rollback").Return(nil).Once()
		mockWalletRepo.On("EnsureWallet", ctx, mockTx, "user_1", "", "", mock.AnythingOfType("time.Time")).Return(nil).Once()
		mockWalletRepo.On("GetWalletForUpdate", ctx, mockTx, "user_1").Return(nil, errors.New("connection reset")).Once()

		svc := NewLedgerService(newMockTxManager(mockTx, 3), new(MockDBExecutor), mockWalletRepo, mockLedgerRepo, nil, zap.NewNop())
		_, _, err := svc.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("10"), Description: "Top-up",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.False(t, util.IsError(err, util.ErrConcurrencyConflict))

		mockTx.AssertNotCalled(t, "Commit")
		mockTx.AssertExpectations(t)
		mockWalletRepo.AssertExpectations(t)
		mockLedgerRepo.AssertNotCalled(t, "CreateEntry", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLedgerService_RecomputeBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("Consistent", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		for _, p := range []AppendEntryParams{
			{WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("100"), Description: "Top-up"},
			{WalletUserID: "user_1", Type: domain.EntryTypeDebit, Amount: dec("30"), Description: "Bid"},
			{WalletUserID: "user_1", Type: domain.EntryTypeRefund, Amount: dec("5"), Description: "Refund"},
		} {
			_, _, err := env.ledger.AppendEntry(ctx, p)
			require.NoError(t, err)
		}

		check, err := env.ledger.RecomputeBalance(ctx, "user_1")
		require.NoError(t, err)
		assert.True(t, check.Consistent)
		assert.True(t, check.RecomputedBalance.Equal(dec("75")))
		assert.True(t, check.RecomputedCredits.Equal(dec("105")))
		assert.True(t, check.RecomputedDebits.Equal(dec("30")))
		assert.Equal(t, 3, check.EntryCount)
		assert.Empty(t, check.FirstBrokenEntryID)
	})

	t.Run("TamperedCacheFreezesWallet", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("100"), Description: "Top-up",
		})
		require.NoError(t, err)

		// Simulate an out-of-band write to the cache.
		w := env.store.wallet(t, "user_1")
		w.CurrentBalance, w.TotalCredits = dec("1000"), dec("1000")
		env.store.seedWallet(w)

		check, err := env.ledger.RecomputeBalance(ctx, "user_1")
		require.Error(t, err)
		assert.True(t, util.IsError(err, util.ErrIntegrityFault))
		require.NotNil(t, check)
		assert.False(t, check.Consistent)
		assert.True(t, check.CachedBalance.Equal(dec("1000")))
		assert.True(t, check.RecomputedBalance.Equal(dec("100")))

		assert.Equal(t, domain.WalletStatusFrozen, env.store.wallet(t, "user_1").Status)
		assert.Equal(t, 1, env.pub.published(EventIntegrityFault))
		// Reported, never corrected.
		assert.True(t, env.store.wallet(t, "user_1").CurrentBalance.Equal(dec("1000")))

		_, _, err = env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("1"), Description: "Top-up",
		})
		assert.True(t, util.IsError(err, util.ErrWalletFrozen))
	})

	t.Run("FaultDuringAppendFreezesWallet", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		w := domain.NewWallet("user_1", "Ada", "ada@example.com", time.Now().UTC())
		w.CurrentBalance, w.TotalCredits = dec("10"), dec("20")
		env.store.seedWallet(*w)

		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("5"), Description: "Top-up",
		})
		assert.True(t, util.IsError(err, util.ErrIntegrityFault))
		assert.Empty(t, env.store.entries("user_1"))
		assert.Equal(t, domain.WalletStatusFrozen, env.store.wallet(t, "user_1").Status)
		assert.Equal(t, 1, env.pub.published(EventIntegrityFault))

		_, _, err = env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("5"), Description: "Top-up",
		})
		assert.True(t, util.IsError(err, util.ErrWalletFrozen))
	})

	t.Run("BrokenChainIsReported", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		now := time.Now().UTC()
		w := domain.NewWallet("user_1", "Ada", "ada@example.com", now)
		w.CurrentBalance, w.TotalCredits = dec("20"), dec("20")
		env.store.seedWallet(*w)

		first := domain.NewLedgerEntry("TXN-1", "user_1", domain.EntryTypeCredit, dec("10"), "a", now)
		first.ResultingBalance = dec("10")
		second := domain.NewLedgerEntry("TXN-2", "user_1", domain.EntryTypeCredit, dec("10"), "b", now)
		second.ResultingBalance = dec("25")
		env.store.seedEntry(*first)
		env.store.seedEntry(*second)

		check, err := env.ledger.RecomputeBalance(ctx, "user_1")
		assert.True(t, util.IsError(err, util.ErrIntegrityFault))
		assert.Equal(t, "TXN-2", check.FirstBrokenEntryID)
	})

	t.Run("UnknownWallet", func(t *testing.T) {
		env := newTestEnv(ReconciliationOptions{})
		_, err := env.ledger.RecomputeBalance(ctx, "ghost")
		assert.True(t, util.IsError(err, util.ErrWalletNotFound))
	})
}

func TestLedgerService_ListEntriesAndStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(ReconciliationOptions{})
	for i := 0; i < 5; i++ {
		_, _, err := env.ledger.AppendEntry(ctx, AppendEntryParams{
			WalletUserID: "user_1", Type: domain.EntryTypeCredit, Amount: dec("1"), Description: "Top-up",
		})
		require.NoError(t, err)
	}

	entries, total, err := env.ledger.ListEntries(ctx, "user_1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].ResultingBalance.Equal(dec("5")))

	_, _, err = env.ledger.ListEntries(ctx, "ghost", 10, 0)
	assert.ErrorIs(t, err, util.ErrWalletNotFound)

	wallet, err := env.ledger.SetWalletStatus(ctx, "user_1", domain.WalletStatusSuspended, "admin_1")
	require.NoError(t, err)
	assert.Equal(t, domain.WalletStatusSuspended, wallet.Status)
	assert.Equal(t, domain.WalletStatusSuspended, env.store.wallet(t, "user_1").Status)
	assert.Equal(t, 1, env.pub.published(EventWalletStatus))

	_, err = env.ledger.SetWalletStatus(ctx, "user_1", "closed", "admin_1")
	assert.True(t, util.IsError(err, util.ErrInvalidInput))

	balance, err := env.ledger.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.Equal(dec("5")))
}
