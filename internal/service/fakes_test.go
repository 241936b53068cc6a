// internal/service/fakes_test.go
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/repository"
	"creditledger/internal/util"
	"creditledger/pkg/db"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ledgerState is one consistent copy of the three tables.
type ledgerState struct {
	wallets  map[string]domain.Wallet
	entries  []domain.LedgerEntry
	payments map[string]domain.PaymentRecord
	seq      int64
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		wallets:  map[string]domain.Wallet{},
		payments: map[string]domain.PaymentRecord{},
	}
}

func (s *ledgerState) clone() *ledgerState {
	c := &ledgerState{
		wallets:  make(map[string]domain.Wallet, len(s.wallets)),
		entries:  append([]domain.LedgerEntry(nil), s.entries...),
		payments: make(map[string]domain.PaymentRecord, len(s.payments)),
		seq:      s.seq,
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

// fakeStore is an in-memory stand-in for PostgreSQL. Transactions run one at a
// time against a private copy of the state, which replaces the committed state
// on commit and is dropped on rollback.
type fakeStore struct {
	txMu      sync.Mutex // held for the lifetime of a transaction
	mu        sync.Mutex // guards committed and counters
	committed *ledgerState

	begins  int
	commits int

	// Failure injection, consumed inside transactions.
	failCreateEntry    error
	failUpdatePayment  error
	walletConflicts    int // UpdateWalletBalance reports a version miss this many times
	hideCreditByRefGet bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{committed: newLedgerState()}
}

type fakeTx struct {
	store *fakeStore
	state *ledgerState
	done  bool
}

func (s *fakeStore) beginTx(ctx context.Context, _ db.DBTxBeginner, _ *sql.TxOptions) (db.TxController, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return &fakeTx{store: s, state: s.committed.clone()}, nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.committed = t.state
	t.store.commits++
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

// fakeTx and fakeStore satisfy repository.DBExecutor; the fake repositories
// below never issue SQL through them.
var errNoSQL = errors.New("fake store does not execute SQL")

func (t *fakeTx) GetContext(context.Context, interface{}, string, ...interface{}) error    { return errNoSQL }
func (t *fakeTx) SelectContext(context.Context, interface{}, string, ...interface{}) error { return errNoSQL }
func (t *fakeTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}
func (t *fakeTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

func (s *fakeStore) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}
func (s *fakeStore) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errNoSQL
}
func (s *fakeStore) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}
func (s *fakeStore) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

// view resolves the state a repository call sees.
func (s *fakeStore) view(q repository.DBExecutor) (*ledgerState, func()) {
	if tx, ok := q.(*fakeTx); ok {
		return tx.state, func() {}
	}
	s.mu.Lock()
	return s.committed, s.mu.Unlock
}

func (s *fakeStore) writable(q repository.DBExecutor) (*ledgerState, error) {
	tx, ok := q.(*fakeTx)
	if !ok {
		return nil, errors.New("fake store: write outside a transaction")
	}
	return tx.state, nil
}

// --- repository.WalletRepository ---

func (s *fakeStore) EnsureWallet(ctx context.Context, q repository.DBExecutor, userID, userName, userEmail string, now time.Time) error {
	st, err := s.writable(q)
	if err != nil {
		return err
	}
	w, ok := st.wallets[userID]
	if !ok {
		st.wallets[userID] = *domain.NewWallet(userID, userName, userEmail, now)
		return nil
	}
	if userName != "" {
		w.UserName = userName
	}
	if userEmail != "" {
		w.UserEmail = userEmail
	}
	st.wallets[userID] = w
	return nil
}

func (s *fakeStore) GetWalletByUserID(ctx context.Context, q repository.DBExecutor, userID string) (*domain.Wallet, error) {
	st, done := s.view(q)
	defer done()
	w, ok := st.wallets[userID]
	if !ok {
		return nil, util.ErrWalletNotFound
	}
	return &w, nil
}

func (s *fakeStore) GetWalletForUpdate(ctx context.Context, q repository.DBExecutor, userID string) (*domain.Wallet, error) {
	if _, err := s.writable(q); err != nil {
		return nil, err
	}
	return s.GetWalletByUserID(ctx, q, userID)
}

func (s *fakeStore) UpdateWalletBalance(ctx context.Context, q repository.DBExecutor, wallet *domain.Wallet, expectedVersion int64) error {
	st, err := s.writable(q)
	if err != nil {
		return err
	}
	if s.walletConflicts > 0 {
		s.walletConflicts--
		return fmt.Errorf("wallet %s: %w", wallet.UserID, util.ErrConcurrencyConflict)
	}
	stored, ok := st.wallets[wallet.UserID]
	if !ok {
		return util.ErrWalletNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("wallet %s: %w", wallet.UserID, util.ErrConcurrencyConflict)
	}
	st.wallets[wallet.UserID] = *wallet
	return nil
}

func (s *fakeStore) UpdateWalletStatus(ctx context.Context, q repository.DBExecutor, userID string, status domain.WalletStatus, now time.Time) error {
	st, err := s.writable(q)
	if err != nil {
		return err
	}
	w, ok := st.wallets[userID]
	if !ok {
		return util.ErrWalletNotFound
	}
	w.Status = status
	w.UpdatedAt = now
	st.wallets[userID] = w
	return nil
}

func (s *fakeStore) ListWalletUserIDs(ctx context.Context, q repository.DBExecutor, afterUserID string, limit int) ([]string, error) {
	st, done := s.view(q)
	defer done()
	ids := []string{}
	for id := range st.wallets {
		if id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *fakeStore) ListWalletsForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.Wallet, error) {
	st, done := s.view(q)
	defer done()
	out := []domain.Wallet{}
	for _, w := range st.wallets {
		out = append(out, w) // unordered superset; the builder filters and sorts
	}
	return out, nil
}

// --- repository.LedgerRepository ---

func (s *fakeStore) CreateEntry(ctx context.Context, q repository.DBExecutor, entry *domain.LedgerEntry) error {
	st, err := s.writable(q)
	if err != nil {
		return err
	}
	if s.failCreateEntry != nil {
		return s.failCreateEntry
	}
	for _, e := range st.entries {
		if e.ID == entry.ID {
			return util.ErrDuplicateEntry
		}
		if entry.Type == domain.EntryTypeCredit && entry.ExternalReference != nil &&
			e.Type == domain.EntryTypeCredit && e.ExternalReference != nil &&
			*e.ExternalReference == *entry.ExternalReference {
			return fmt.Errorf("credit for reference %s: %w", *entry.ExternalReference, util.ErrDuplicateReconciliation)
		}
	}
	st.seq++
	entry.Seq = st.seq
	st.entries = append(st.entries, *entry)
	return nil
}

func (s *fakeStore) GetEntryByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.LedgerEntry, error) {
	st, done := s.view(q)
	defer done()
	for _, e := range st.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, util.ErrEntryNotFound
}

func (s *fakeStore) GetCreditByExternalReference(ctx context.Context, q repository.DBExecutor, reference string) (*domain.LedgerEntry, error) {
	if s.hideCreditByRefGet {
		return nil, util.ErrEntryNotFound
	}
	st, done := s.view(q)
	defer done()
	for _, e := range st.entries {
		if e.Type == domain.EntryTypeCredit && e.ExternalReference != nil && *e.ExternalReference == reference {
			return &e, nil
		}
	}
	return nil, util.ErrEntryNotFound
}

func (s *fakeStore) SumRefunds(ctx context.Context, q repository.DBExecutor, originalEntryID string) (decimal.Decimal, error) {
	st, done := s.view(q)
	defer done()
	total := decimal.Zero
	for _, e := range st.entries {
		if e.Type == domain.EntryTypeRefund && e.RefundOfEntryID != nil && *e.RefundOfEntryID == originalEntryID {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func (s *fakeStore) ListEntriesByUser(ctx context.Context, q repository.DBExecutor, userID string, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	all, _ := s.ListAllEntriesByUser(ctx, q, userID)
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []domain.LedgerEntry{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *fakeStore) ListAllEntriesByUser(ctx context.Context, q repository.DBExecutor, userID string) ([]domain.LedgerEntry, error) {
	st, done := s.view(q)
	defer done()
	out := []domain.LedgerEntry{}
	for _, e := range st.entries {
		if e.WalletUserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) ListEntriesForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.LedgerEntryView, error) {
	st, done := s.view(q)
	defer done()
	out := []domain.LedgerEntryView{}
	for i := len(st.entries) - 1; i >= 0; i-- { // reversed on purpose
		e := st.entries[i]
		w := st.wallets[e.WalletUserID]
		out = append(out, domain.LedgerEntryView{LedgerEntry: e, UserName: w.UserName, UserEmail: w.UserEmail})
	}
	return out, nil
}

// --- repository.PaymentRepository ---

func (s *fakeStore) CreatePayment(ctx context.Context, q repository.DBExecutor, payment *domain.PaymentRecord) error {
	st, err := s.writable(q)
	if err != nil {
		return err
	}
	if _, exists := st.payments[payment.ID]; exists {
		return fmt.Errorf("payment %s: %w", payment.ID, util.ErrDuplicateEntry)
	}
	st.payments[payment.ID] = *payment
	return nil
}

func (s *fakeStore) GetPaymentByID(ctx context.Context, q repository.DBExecutor, id string) (*domain.PaymentRecord, error) {
	st, done := s.view(q)
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return nil, util.ErrPaymentNotFound
	}
	return &p, nil
}

func (s *fakeStore) GetPaymentForUpdate(ctx context.Context, q repository.DBExecutor, id string) (*domain.PaymentRecord, error) {
	if _, err := s.writable(q); err != nil {
		return nil, err
	}
	return s.GetPaymentByID(ctx, q, id)
}

func (s *fakeStore) UpdatePaymentStatus(ctx context.Context, q repository.DBExecutor, id string, status domain.PaymentStatus, ledgerEntryID *string, now time.Time) error {
	st, err := s.writable(q)
	if err != nil {
		return err
	}
	if s.failUpdatePayment != nil {
		return s.failUpdatePayment
	}
	p, ok := st.payments[id]
	if !ok {
		return util.ErrPaymentNotFound
	}
	p.Status = status
	if ledgerEntryID != nil {
		p.LedgerEntryID = ledgerEntryID
	}
	p.UpdatedAt = now
	st.payments[id] = p
	return nil
}

func (s *fakeStore) ListPayments(ctx context.Context, q repository.DBExecutor, status domain.PaymentStatus, limit, offset int) ([]domain.PaymentRecord, int64, error) {
	st, done := s.view(q)
	defer done()
	out := []domain.PaymentRecord{}
	for _, p := range st.payments {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if offset >= len(out) {
		return []domain.PaymentRecord{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (s *fakeStore) ListPaymentsForExport(ctx context.Context, q repository.DBExecutor, filter domain.ExportFilter) ([]domain.PaymentRecord, error) {
	st, done := s.view(q)
	defer done()
	out := []domain.PaymentRecord{}
	for _, p := range st.payments {
		out = append(out, p)
	}
	return out, nil
}

// --- test helpers ---

func (s *fakeStore) wallet(t *testing.T, userID string) domain.Wallet {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.committed.wallets[userID]
	if !ok {
		t.Fatalf("wallet %s not found", userID)
	}
	return w
}

func (s *fakeStore) entries(userID string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.LedgerEntry{}
	for _, e := range s.committed.entries {
		if e.WalletUserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeStore) payment(t *testing.T, id string) domain.PaymentRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.committed.payments[id]
	if !ok {
		t.Fatalf("payment %s not found", id)
	}
	return p
}

// seedWallet commits a wallet directly, bypassing the ledger.
func (s *fakeStore) seedWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.wallets[w.UserID] = w
}

func (s *fakeStore) seedEntry(e domain.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.seq++
	e.Seq = s.committed.seq
	s.committed.entries = append(s.committed.entries, e)
}

func (s *fakeStore) seedPayment(p domain.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.payments[p.ID] = p
}

// recordingPublisher captures published routing keys.
type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	failOn string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	if routingKey == p.failOn {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *recordingPublisher) published(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

type testEnv struct {
	store  *fakeStore
	pub    *recordingPublisher
	tx     *TxManager
	ledger LedgerService
	recon  ReconciliationService
	adjust AdjustmentService
	export ExportService
}

func newTestEnv(reconOpts ReconciliationOptions) *testEnv {
	store := newFakeStore()
	pub := &recordingPublisher{}
	logger := zap.NewNop()
	tx := NewTxManager(nil, store.beginTx, db.CommitTx, db.RollbackTx, DefaultMaxTxAttempts, logger)
	ledger := NewLedgerService(tx, store, store, store, pub, logger)
	return &testEnv{
		store:  store,
		pub:    pub,
		tx:     tx,
		ledger: ledger,
		recon:  NewReconciliationService(tx, store, store, store, ledger, pub, logger, reconOpts),
		adjust: NewAdjustmentService(tx, store, store, ledger, pub, logger),
		export: NewExportService(tx, store, store, store, logger),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }
