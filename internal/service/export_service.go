// internal/service/export_service.go
package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/metrics"
	"creditledger/internal/repository"
	"creditledger/internal/util"
	"creditledger/pkg/db"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExportService renders deterministic tabular exports.
type ExportService interface {
	Export(ctx context.Context, kind domain.ExportKind, filter domain.ExportFilter) (*domain.ExportTable, error)
	WriteCSV(w io.Writer, table *domain.ExportTable) error
}

type exportService struct {
	tx          *TxManager
	walletRepo  repository.WalletRepository
	ledgerRepo  repository.LedgerRepository
	paymentRepo repository.PaymentRepository
	logger      *zap.Logger
}

// NewExportService creates a new instance of ExportService.
func NewExportService(
	tx *TxManager,
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerRepository,
	paymentRepo repository.PaymentRepository,
	logger *zap.Logger,
) ExportService {
	return &exportService{
		tx:          tx,
		walletRepo:  walletRepo,
		ledgerRepo:  ledgerRepo,
		paymentRepo: paymentRepo,
		logger:      logger,
	}
}

// Export reads one snapshot of the store and renders it. The snapshot does not
// block writers and may lag writes that are still in flight.
func (s *exportService) Export(ctx context.Context, kind domain.ExportKind, filter domain.ExportFilter) (*domain.ExportTable, error) {
	if !kind.IsValid() {
		return nil, util.NewValidationError("kind", fmt.Sprintf("unknown export kind %q", kind))
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return nil, util.NewValidationError("date_from", "must not be after date_to")
	}

	var table *domain.ExportTable
	err := s.tx.Run(ctx, "export_"+string(kind), db.ReadSnapshot, func(q repository.DBExecutor) error {
		switch kind {
		case domain.ExportPayments:
			rows, err := s.paymentRepo.ListPaymentsForExport(ctx, q, filter)
			if err != nil {
				return fmt.Errorf("export payments: %w", err)
			}
			table = buildPaymentsTable(rows, filter)
		case domain.ExportTransactions:
			rows, err := s.ledgerRepo.ListEntriesForExport(ctx, q, filter)
			if err != nil {
				return fmt.Errorf("export transactions: %w", err)
			}
			table = buildTransactionsTable(rows, filter)
		case domain.ExportWallets:
			rows, err := s.walletRepo.ListWalletsForExport(ctx, q, filter)
			if err != nil {
				return fmt.Errorf("export wallets: %w", err)
			}
			table = buildWalletsTable(rows, filter)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ExportRows.WithLabelValues(string(kind)).Add(float64(len(table.Rows)))
	s.logger.Info("export generated", zap.String("kind", string(kind)), zap.Int("rows", len(table.Rows)))
	return table, nil
}

// WriteCSV writes the header and rows as RFC 4180 CSV.
func (s *exportService) WriteCSV(w io.Writer, table *domain.ExportTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Header); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}
	if err := cw.WriteAll(table.Rows); err != nil {
		return fmt.Errorf("failed to write export rows: %w", err)
	}
	return nil
}

// The builders below re-apply the filter and ordering so the output depends only on
// (kind, filter, rows), whatever order or superset the store hands back.

func buildPaymentsTable(rows []domain.PaymentRecord, f domain.ExportFilter) *domain.ExportTable {
	kept := make([]domain.PaymentRecord, 0, len(rows))
	for _, p := range rows {
		if f.MatchDate(p.CreatedAt) && f.MatchStatus(string(p.Status)) && f.MatchID(p.ID) {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return lessByTimeThenID(kept[i].CreatedAt, kept[i].ID, kept[j].CreatedAt, kept[j].ID)
	})

	table := &domain.ExportTable{Kind: domain.ExportPayments, Header: domain.PaymentExportHeader, Rows: make([][]string, 0, len(kept))}
	for _, p := range kept {
		table.Rows = append(table.Rows, []string{
			p.ID,
			p.UserID,
			p.UserName,
			p.UserEmail,
			money(p.Amount),
			p.Currency,
			string(p.Status),
			p.PaymentMethod,
			p.Description,
			timestamp(p.CreatedAt),
		})
	}
	return table
}

func buildTransactionsTable(rows []domain.LedgerEntryView, f domain.ExportFilter) *domain.ExportTable {
	kept := make([]domain.LedgerEntryView, 0, len(rows))
	for _, e := range rows {
		if f.MatchDate(e.CreatedAt) && f.MatchStatus(string(e.Status)) && f.MatchID(e.ID) {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return lessByTimeThenID(kept[i].CreatedAt, kept[i].ID, kept[j].CreatedAt, kept[j].ID)
	})

	table := &domain.ExportTable{Kind: domain.ExportTransactions, Header: domain.TransactionExportHeader, Rows: make([][]string, 0, len(kept))}
	for _, e := range kept {
		table.Rows = append(table.Rows, []string{
			e.ID,
			e.WalletUserID,
			e.UserName,
			e.UserEmail,
			string(e.Type),
			money(e.Amount),
			money(e.ResultingBalance),
			e.Description,
			string(e.Status),
			optional(e.ExternalReference),
			optional(e.RefundOfEntryID),
			optional(e.IssuedBy),
			optional(e.AdminNotes),
			timestamp(e.CreatedAt),
		})
	}
	return table
}

func buildWalletsTable(rows []domain.Wallet, f domain.ExportFilter) *domain.ExportTable {
	kept := make([]domain.Wallet, 0, len(rows))
	for _, w := range rows {
		if f.MatchDate(w.LastActivityAt) && f.MatchStatus(string(w.Status)) && f.MatchID(w.UserID) {
			kept = append(kept, w)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return lessByTimeThenID(kept[i].CreatedAt, kept[i].UserID, kept[j].CreatedAt, kept[j].UserID)
	})

	table := &domain.ExportTable{Kind: domain.ExportWallets, Header: domain.WalletExportHeader, Rows: make([][]string, 0, len(kept))}
	for _, w := range kept {
		table.Rows = append(table.Rows, []string{
			w.UserID,
			w.UserName,
			w.UserEmail,
			money(w.CurrentBalance),
			money(w.TotalCredits),
			money(w.TotalDebits),
			string(w.Status),
			timestamp(w.LastActivityAt),
		})
	}
	return table
}

func lessByTimeThenID(ti time.Time, idi string, tj time.Time, idj string) bool {
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return idi < idj
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
