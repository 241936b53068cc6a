// internal/repository/postgres/schema.go
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"creditledger/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates tables, indexes and triggers that do not exist yet.
func ApplySchema(ctx context.Context, q repository.DBExecutor) error {
	if _, err := q.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
