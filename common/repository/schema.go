package repository

import (
	"context"
	"fmt"

	"github.com/astrokit/sequencer/common/db"
)

// schema is applied at startup via the bootstrap DB init hook. Statements
// are idempotent so restarts are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sequence (
		sequence_id UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		document    JSONB NOT NULL,
		is_template BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sequence_run (
		run_id      UUID PRIMARY KEY,
		sequence_id UUID NOT NULL REFERENCES sequence(sequence_id) ON DELETE CASCADE,
		state       TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		progress    JSONB,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sequence_run_sequence
		ON sequence_run (sequence_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sequence_is_template
		ON sequence (is_template)`,
}

// InitSchema creates the sequencer tables if they do not exist
func InitSchema(ctx context.Context, database *db.DB) error {
	for _, stmt := range schema {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
