// internal/domain/export.go
package domain

import "time"

// ExportKind selects which entity an export covers.
type ExportKind string

const (
	ExportPayments     ExportKind = "payments"
	ExportTransactions ExportKind = "transactions"
	ExportWallets      ExportKind = "wallets"
)

// IsValid reports whether k is a known export kind.
func (k ExportKind) IsValid() bool {
	return k == ExportPayments || k == ExportTransactions || k == ExportWallets
}

// Fixed export headers. Column order never depends on the data.
var (
	PaymentExportHeader = []string{
		"Payment ID", "User ID", "User Name", "Email", "Amount", "Currency",
		"Status", "Payment Method", "Description", "Created At",
	}
	TransactionExportHeader = []string{
		"Transaction ID", "User ID", "User Name", "Email", "Type", "Amount", "Balance",
		"Description", "Status", "External Reference", "Refund Of", "Issued By", "Admin Notes", "Date",
	}
	WalletExportHeader = []string{
		"User ID", "User Name", "Email", "Current Balance", "Total Credits",
		"Total Debits", "Status", "Last Activity",
	}
)

// ExportFilter narrows an export. Zero-valued fields do not filter.
// All set fields must match (intersection); date bounds are inclusive.
type ExportFilter struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Status   string
	IDs      []string
}

// MatchDate reports whether t falls within the inclusive date bounds.
func (f ExportFilter) MatchDate(t time.Time) bool {
	if f.DateFrom != nil && t.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && t.After(*f.DateTo) {
		return false
	}
	return true
}

// MatchStatus reports whether status satisfies the filter.
func (f ExportFilter) MatchStatus(status string) bool {
	return f.Status == "" || f.Status == status
}

// MatchID reports whether id is in the ID set, if one is given.
func (f ExportFilter) MatchID(id string) bool {
	if len(f.IDs) == 0 {
		return true
	}
	for _, candidate := range f.IDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// ExportTable is a rendered export: a fixed header and deterministically ordered rows.
type ExportTable struct {
	Kind   ExportKind
	Header []string
	Rows   [][]string
}
