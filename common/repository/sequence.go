package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/astrokit/sequencer/common/db"
	"github.com/astrokit/sequencer/common/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// SequenceRepository handles database operations for stored sequences
type SequenceRepository struct {
	db *db.DB
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(database *db.DB) *SequenceRepository {
	return &SequenceRepository{db: database}
}

// Create inserts a new sequence record
func (r *SequenceRepository) Create(ctx context.Context, rec *models.SequenceRecord) error {
	query := `
		INSERT INTO sequence (sequence_id, name, description, document, is_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		rec.ID,
		rec.Name,
		rec.Description,
		rec.Document,
		rec.IsTemplate,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sequence: %w", err)
	}
	return nil
}

// GetByID retrieves a sequence by its ID
func (r *SequenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SequenceRecord, error) {
	query := `
		SELECT sequence_id, name, description, document, is_template, created_at, updated_at
		FROM sequence
		WHERE sequence_id = $1
	`

	rec := &models.SequenceRecord{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Name,
		&rec.Description,
		&rec.Document,
		&rec.IsTemplate,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}
	return rec, nil
}

// Update replaces the document and metadata of an existing sequence
func (r *SequenceRepository) Update(ctx context.Context, rec *models.SequenceRecord) error {
	query := `
		UPDATE sequence
		SET name = $2, description = $3, document = $4, is_template = $5, updated_at = $6
		WHERE sequence_id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		rec.ID,
		rec.Name,
		rec.Description,
		rec.Document,
		rec.IsTemplate,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a sequence and, via cascade, its run history
func (r *SequenceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sequence WHERE sequence_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns sequence summaries, newest first. templatesOnly restricts
// the listing to templates.
func (r *SequenceRepository) List(ctx context.Context, templatesOnly bool, limit int) ([]*models.SequenceSummary, error) {
	query := `
		SELECT sequence_id, name, description, is_template, created_at, updated_at
		FROM sequence
		WHERE ($1 = FALSE OR is_template = TRUE)
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, templatesOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	defer rows.Close()

	var out []*models.SequenceSummary
	for rows.Next() {
		s := &models.SequenceSummary{}
		err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Description,
			&s.IsTemplate,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequence: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sequences: %w", err)
	}
	return out, nil
}
