package models

import (
	"time"

	"github.com/google/uuid"
)

// SequenceRecord is the persisted form of a sequence. Document holds the
// versioned JSON envelope produced by the sequence codec; the tree is
// opaque to the database.
type SequenceRecord struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Document    []byte    `json:"document"`
	IsTemplate  bool      `json:"isTemplate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SequenceSummary is the list-view projection, without the document body
type SequenceSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsTemplate  bool      `json:"isTemplate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
