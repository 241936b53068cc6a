// internal/service/tx.go
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"creditledger/internal/metrics"
	"creditledger/internal/repository"
	"creditledger/internal/util"
	"creditledger/pkg/db"

	"go.uber.org/zap"
)

// DefaultMaxTxAttempts bounds how often a conflicting transaction is retried.
const DefaultMaxTxAttempts = 3

// TxManager runs units of work in a transaction and retries them on
// transient write conflicts. Services share one instance.
type TxManager struct {
	dbBeginner  db.DBTxBeginner   // For starting transactions (e.g., *sqlx.DB)
	beginTx     db.BeginTxFunc    // Injected dependency for beginning transactions
	commitTx    db.CommitTxFunc   // Injected dependency for committing transactions
	rollbackTx  db.RollbackTxFunc // Injected dependency for rolling back transactions
	maxAttempts int
	logger      *zap.Logger
}

// NewTxManager creates a TxManager. maxAttempts < 1 falls back to DefaultMaxTxAttempts.
func NewTxManager(
	dbBeginner db.DBTxBeginner,
	beginTx db.BeginTxFunc,
	commitTx db.CommitTxFunc,
	rollbackTx db.RollbackTxFunc,
	maxAttempts int,
	logger *zap.Logger,
) *TxManager {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxTxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TxManager{
		dbBeginner:  dbBeginner,
		beginTx:     beginTx,
		commitTx:    commitTx,
		rollbackTx:  rollbackTx,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run executes fn inside a transaction. fn must be safe to re-run from the
// start: on a conflict the whole transaction is rolled back and retried.
// Once the attempts are used up it returns a *util.ConcurrencyConflictError.
func (m *TxManager) Run(ctx context.Context, op string, opts *sql.TxOptions, fn func(q repository.DBExecutor) error) error {
	var lastErr error
	attempt := 0
	for attempt < m.maxAttempts {
		attempt++
		err := m.runOnce(ctx, opts, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		metrics.TxConflicts.WithLabelValues(op).Inc()
		m.logger.Warn("transaction conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return &util.ConcurrencyConflictError{Op: op, Attempts: attempt, Err: lastErr}
}

func (m *TxManager) runOnce(ctx context.Context, opts *sql.TxOptions, fn func(q repository.DBExecutor) error) error {
	txController, err := m.beginTx(ctx, m.dbBeginner, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer m.rollbackTx(txController)

	txExecutor, ok := txController.(repository.DBExecutor)
	if !ok {
		return fmt.Errorf("transaction controller does not implement DBExecutor")
	}

	if err := fn(txExecutor); err != nil {
		return err
	}

	if err := m.commitTx(txController); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var exhausted *util.ConcurrencyConflictError
	if errors.As(err, &exhausted) {
		return false
	}
	return errors.Is(err, util.ErrConcurrencyConflict) || db.IsSerializationFailure(err)
}
