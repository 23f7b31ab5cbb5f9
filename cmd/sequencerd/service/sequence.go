package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/astrokit/sequencer/common/cache"
	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/logger"
	"github.com/astrokit/sequencer/common/models"
	"github.com/astrokit/sequencer/common/repository"
	"github.com/astrokit/sequencer/common/sequence"
	"github.com/astrokit/sequencer/common/validation"
)

// Service-level errors mapped to HTTP statuses by the handlers
var (
	ErrSequenceLeased = errors.New("sequence has an active run")
	ErrNotFound       = repository.ErrNotFound
)

const snapshotCacheKey = "devices:snapshot"
const snapshotCacheTTL = 5 * time.Second

// SequenceService owns sequence CRUD, patching, validation and estimation
type SequenceService struct {
	repo       *repository.SequenceRepository
	registry   devices.Registry
	validator  *validation.Validator
	patchRules *validation.PatchValidator
	cache      cache.Cache
	leases     *LeaseTable
	log        *logger.Logger
}

// NewSequenceService creates a new sequence service
func NewSequenceService(
	repo *repository.SequenceRepository,
	registry devices.Registry,
	snapshotCache cache.Cache,
	leases *LeaseTable,
	log *logger.Logger,
) *SequenceService {
	return &SequenceService{
		repo:       repo,
		registry:   registry,
		validator:  validation.New(),
		patchRules: validation.NewPatchValidator(),
		cache:      snapshotCache,
		leases:     leases,
		log:        log,
	}
}

// CreateInput carries the request body for sequence creation. Document is
// optional; absent, an empty sequence is created.
type CreateInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	IsTemplate  bool            `json:"isTemplate,omitempty"`
	Document    json.RawMessage `json:"document,omitempty"`
}

// Create stores a new sequence. A supplied document is decoded first so a
// structurally invalid or version-incompatible document is rejected.
func (s *SequenceService) Create(ctx context.Context, in CreateInput) (*models.SequenceRecord, error) {
	if in.Name == "" {
		return nil, errors.New("sequence name is required")
	}

	id := uuid.New()
	var doc []byte

	if len(in.Document) > 0 {
		seq, err := sequence.DecodeDocument(in.Document)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence document: %w", err)
		}
		seq.ID = id
		seq.Name = in.Name
		doc, err = sequence.EncodeDocument(seq)
		if err != nil {
			return nil, fmt.Errorf("encode sequence: %w", err)
		}
	} else {
		seq := sequence.New(in.Name)
		seq.ID = id
		var err error
		doc, err = sequence.EncodeDocument(seq)
		if err != nil {
			return nil, fmt.Errorf("encode sequence: %w", err)
		}
	}

	now := time.Now().UTC()
	rec := &models.SequenceRecord{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Document:    doc,
		IsTemplate:  in.IsTemplate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Info("sequence created", "sequence_id", id.String(), "name", in.Name)
	return rec, nil
}

// Get loads a sequence record and its decoded tree
func (s *SequenceService) Get(ctx context.Context, id uuid.UUID) (*models.SequenceRecord, *sequence.Sequence, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	seq, err := sequence.DecodeDocument(rec.Document)
	if err != nil {
		return nil, nil, fmt.Errorf("stored sequence %s is corrupt: %w", id, err)
	}
	return rec, seq, nil
}

// List returns sequence summaries
func (s *SequenceService) List(ctx context.Context, templatesOnly bool, limit int) ([]*models.SequenceSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, templatesOnly, limit)
}

// UpdateInput carries the request body for a full-document update
type UpdateInput struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	IsTemplate  *bool           `json:"isTemplate,omitempty"`
	Document    json.RawMessage `json:"document,omitempty"`
}

// Update replaces a sequence's document and metadata. Rejected while the
// sequence is leased by an active run.
func (s *SequenceService) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*models.SequenceRecord, error) {
	if _, held := s.leases.Holder(id); held {
		return nil, ErrSequenceLeased
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		rec.Name = *in.Name
	}
	if in.Description != nil {
		rec.Description = *in.Description
	}
	if in.IsTemplate != nil {
		rec.IsTemplate = *in.IsTemplate
	}
	if len(in.Document) > 0 {
		seq, err := sequence.DecodeDocument(in.Document)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence document: %w", err)
		}
		seq.ID = id
		rec.Document, err = sequence.EncodeDocument(seq)
		if err != nil {
			return nil, fmt.Errorf("encode sequence: %w", err)
		}
	}
	rec.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("sequence updated", "sequence_id", id.String())
	return rec, nil
}

// Patch applies an RFC 6902 JSON patch to the stored document. The result
// must still decode as a valid versioned sequence; otherwise the patch is
// rejected and nothing is stored.
func (s *SequenceService) Patch(ctx context.Context, id uuid.UUID, patchBody []byte) (*models.SequenceRecord, error) {
	if _, held := s.leases.Holder(id); held {
		return nil, ErrSequenceLeased
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.patchRules.ValidateOperations(patchBody); err != nil {
		return nil, fmt.Errorf("invalid JSON patch: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(patchBody)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON patch: %w", err)
	}

	patched, err := patch.Apply(rec.Document)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	seq, err := sequence.DecodeDocument(patched)
	if err != nil {
		return nil, fmt.Errorf("patch produced invalid sequence: %w", err)
	}
	seq.ID = id

	rec.Document, err = sequence.EncodeDocument(seq)
	if err != nil {
		return nil, fmt.Errorf("encode sequence: %w", err)
	}
	rec.Name = seq.Name
	rec.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("sequence patched", "sequence_id", id.String(), "ops", len(patch))
	return rec, nil
}

// Delete removes a sequence. Rejected while leased.
func (s *SequenceService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, held := s.leases.Holder(id); held {
		return ErrSequenceLeased
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("sequence deleted", "sequence_id", id.String())
	return nil
}

// Validate runs the preflight checks against the current device snapshot
func (s *SequenceService) Validate(ctx context.Context, id uuid.UUID) (validation.Result, error) {
	_, seq, err := s.Get(ctx, id)
	if err != nil {
		return validation.Result{}, err
	}
	snapshot := s.deviceSnapshot(ctx)
	return s.validator.Validate(seq, snapshot, time.Now()), nil
}

// Estimate computes the planned integration time
func (s *SequenceService) Estimate(ctx context.Context, id uuid.UUID) (sequence.Estimate, error) {
	_, seq, err := s.Get(ctx, id)
	if err != nil {
		return sequence.Estimate{}, err
	}
	return seq.Estimate(time.Now()), nil
}

// deviceSnapshot queries connected devices, caching the answer briefly so
// repeated validation calls do not hammer the device backend. A failed
// query degrades to a snapshot the validator reports as a single warning.
func (s *SequenceService) deviceSnapshot(ctx context.Context) devices.Snapshot {
	if cached, ok, _ := s.cache.Get(ctx, snapshotCacheKey); ok {
		var snapshot devices.Snapshot
		if err := json.Unmarshal(cached, &snapshot); err == nil {
			return snapshot
		}
	}

	snapshot := s.registry.ConnectedDevices(ctx)
	// A failed query is never cached: an operator re-check right after
	// restoring the backend must see the recovery, not the stale failure.
	if snapshot.QueryFailed {
		return snapshot
	}
	if payload, err := json.Marshal(snapshot); err == nil {
		_ = s.cache.Set(ctx, snapshotCacheKey, payload, snapshotCacheTTL)
	}
	return snapshot
}
