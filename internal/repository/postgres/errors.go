// internal/repository/postgres/errors.go
package postgres

import (
	"fmt"
	"strings"

	"creditledger/internal/domain"
	"creditledger/internal/util"
	"creditledger/pkg/db"

	"github.com/lib/pq"
)

// Constraint names referenced from schema.sql.
const (
	constraintCreditReference = "ledger_entries_credit_reference_key"
	constraintPaymentPK       = "payment_records_pkey"
	constraintEntryPK         = "ledger_entries_pkey"
)

// wrapErr annotates a driver error, tagging transient conflicts so the
// service layer can retry them.
func wrapErr(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%s: %w: %w", msg, util.ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// exportWhere builds the WHERE clause shared by the export queries.
// Column arguments are trusted identifiers, never user input.
func exportWhere(f domain.ExportFilter, dateCol, statusCol, idCol string) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.DateFrom != nil {
		add(dateCol+" >= $%d", f.DateFrom.UTC())
	}
	if f.DateTo != nil {
		add(dateCol+" <= $%d", f.DateTo.UTC())
	}
	if f.Status != "" {
		add(statusCol+" = $%d", f.Status)
	}
	if len(f.IDs) > 0 {
		add(idCol+" = ANY($%d)", pq.Array(f.IDs))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
