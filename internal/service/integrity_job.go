// internal/service/integrity_job.go
package service

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/repository"
	"creditledger/internal/util"

	"go.uber.org/zap"
)

const integrityPageSize = 200

// IntegrityReport summarizes one sweep over all wallets.
type IntegrityReport struct {
	Checked  int
	Faults   []string // user IDs whose ledger disagreed with the cache
	Errors   int      // wallets that could not be checked
	Duration time.Duration
}

// IntegrityJob periodically recomputes every wallet from its ledger.
type IntegrityJob struct {
	ledger     LedgerService
	walletRepo repository.WalletRepository
	dbExecutor repository.DBExecutor
	interval   time.Duration
	logger     *zap.Logger
}

// NewIntegrityJob creates an IntegrityJob. A non-positive interval disables Run.
func NewIntegrityJob(ledger LedgerService, walletRepo repository.WalletRepository, dbExecutor repository.DBExecutor, interval time.Duration, logger *zap.Logger) *IntegrityJob {
	return &IntegrityJob{
		ledger:     ledger,
		walletRepo: walletRepo,
		dbExecutor: dbExecutor,
		interval:   interval,
		logger:     logger,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (j *IntegrityJob) Run(ctx context.Context) error {
	if j.interval <= 0 {
		j.logger.Info("integrity job disabled")
		return nil
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("integrity job started", zap.Duration("interval", j.interval))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("integrity job stopped")
			return nil
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.Error("integrity sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce checks every wallet once.
func (j *IntegrityJob) RunOnce(ctx context.Context) (*IntegrityReport, error) {
	start := time.Now()
	report := &IntegrityReport{}
	after := ""
	for {
		ids, err := j.walletRepo.ListWalletUserIDs(ctx, j.dbExecutor, after, integrityPageSize)
		if err != nil {
			return report, err
		}
		for _, userID := range ids {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Checked++
			if _, err := j.ledger.RecomputeBalance(ctx, userID); err != nil {
				if util.IsError(err, util.ErrIntegrityFault) {
					report.Faults = append(report.Faults, userID)
					continue
				}
				report.Errors++
				j.logger.Warn("integrity check failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		if len(ids) < integrityPageSize {
			break
		}
		after = ids[len(ids)-1]
	}
	report.Duration = time.Since(start)

	log := j.logger.Info
	if len(report.Faults) > 0 {
		log = j.logger.Error
	}
	log("integrity sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("faults", len(report.Faults)),
		zap.Int("errors", report.Errors),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}
