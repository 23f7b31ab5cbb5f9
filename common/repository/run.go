package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/astrokit/sequencer/common/db"
	"github.com/astrokit/sequencer/common/models"
)

// RunRepository handles database operations for sequence runs
type RunRepository struct {
	db *db.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(database *db.DB) *RunRepository {
	return &RunRepository{db: database}
}

// Create inserts a new run record
func (r *RunRepository) Create(ctx context.Context, run *models.SequenceRun) error {
	query := `
		INSERT INTO sequence_run (run_id, sequence_id, state, message, progress, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		run.ID,
		run.SequenceID,
		run.State,
		run.Message,
		run.Progress,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID
func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*models.SequenceRun, error) {
	query := `
		SELECT run_id, sequence_id, state, message, progress, started_at, finished_at
		FROM sequence_run
		WHERE run_id = $1
	`

	run := &models.SequenceRun{}
	err := r.db.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.SequenceID,
		&run.State,
		&run.Message,
		&run.Progress,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateState updates a run's state, message and latest progress snapshot.
// A terminal state also stamps finished_at.
func (r *RunRepository) UpdateState(ctx context.Context, runID uuid.UUID, state models.RunState, message string, progress []byte) error {
	var finishedAt *time.Time
	if state.Terminal() {
		now := time.Now().UTC()
		finishedAt = &now
	}

	query := `
		UPDATE sequence_run
		SET state = $2, message = $3, progress = COALESCE($4, progress), finished_at = COALESCE($5, finished_at)
		WHERE run_id = $1
	`

	tag, err := r.db.Exec(ctx, query, runID, state, message, progress, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySequence retrieves runs for a sequence, newest first
func (r *RunRepository) ListBySequence(ctx context.Context, sequenceID uuid.UUID, limit int) ([]*models.SequenceRun, error) {
	query := `
		SELECT run_id, sequence_id, state, message, progress, started_at, finished_at
		FROM sequence_run
		WHERE sequence_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, sequenceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SequenceRun
	for rows.Next() {
		run := &models.SequenceRun{}
		err := rows.Scan(
			&run.ID,
			&run.SequenceID,
			&run.State,
			&run.Message,
			&run.Progress,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ActiveBySequence returns the non-terminal run for a sequence, if any.
// At most one run may hold the execution lease at a time.
func (r *RunRepository) ActiveBySequence(ctx context.Context, sequenceID uuid.UUID) (*models.SequenceRun, error) {
	query := `
		SELECT run_id, sequence_id, state, message, progress, started_at, finished_at
		FROM sequence_run
		WHERE sequence_id = $1 AND state NOT IN ('completed', 'failed', 'stopped')
		ORDER BY started_at DESC
		LIMIT 1
	`

	run := &models.SequenceRun{}
	err := r.db.QueryRow(ctx, query, sequenceID).Scan(
		&run.ID,
		&run.SequenceID,
		&run.State,
		&run.Message,
		&run.Progress,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}
	return run, nil
}
