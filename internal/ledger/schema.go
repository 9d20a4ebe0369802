package ledger

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// EnsureSchema creates the issuance table and its indexes when absent. It is
// not a migration tool; schema changes are managed outside the service.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	jsonType, timeType := "TEXT", "TIMESTAMP"
	if db.DriverName() == "postgres" {
		jsonType, timeType = "JSONB", "TIMESTAMPTZ"
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS issuances (
			issuance_id       VARCHAR(255) PRIMARY KEY,
			template_id       VARCHAR(255) NOT NULL,
			fields            %s NOT NULL,
			request_digest    VARCHAR(64) NOT NULL,
			content_id        VARCHAR(64) NOT NULL DEFAULT '',
			artifact_ref      TEXT NOT NULL DEFAULT '',
			verification_code VARCHAR(32) NOT NULL DEFAULT '',
			status            VARCHAR(16) NOT NULL,
			failure_reason    TEXT NOT NULL DEFAULT '',
			attempts          INTEGER NOT NULL DEFAULT 1,
			created_at        %s NOT NULL,
			updated_at        %s NOT NULL
		)`, jsonType, timeType, timeType),
		`CREATE INDEX IF NOT EXISTS idx_issuances_verification_code ON issuances (verification_code)`,
		`CREATE INDEX IF NOT EXISTS idx_issuances_status_updated_at ON issuances (status, updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure ledger schema: %w", err)
		}
	}
	return nil
}
