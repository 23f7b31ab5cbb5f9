package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astrokit/sequencer/common/engine"
	"github.com/astrokit/sequencer/common/logger"
	"github.com/astrokit/sequencer/common/models"
	"github.com/astrokit/sequencer/common/redis"
	"github.com/astrokit/sequencer/common/repository"
	"github.com/astrokit/sequencer/common/validation"
)

// ErrRunNotActive is returned for lifecycle operations on settled runs
var ErrRunNotActive = errors.New("run is not active")

// ValidationError carries the preflight result that blocked a run start
type ValidationError struct {
	Result validation.Result
}

func (e *ValidationError) Error() string {
	return "sequence failed preflight validation"
}

// RunService owns the run lifecycle: lease acquisition, engine start,
// stop/pause/resume, and persistence of run outcomes
type RunService struct {
	runs      *repository.RunRepository
	sequences *SequenceService
	engine    *engine.Engine
	publisher engine.Publisher
	redis     *redis.Client
	leases    *LeaseTable
	log       *logger.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*engine.Run
}

// NewRunService creates a new run service
func NewRunService(
	runs *repository.RunRepository,
	sequences *SequenceService,
	eng *engine.Engine,
	publisher engine.Publisher,
	redisClient *redis.Client,
	leases *LeaseTable,
	log *logger.Logger,
) *RunService {
	return &RunService{
		runs:      runs,
		sequences: sequences,
		engine:    eng,
		publisher: publisher,
		redis:     redisClient,
		leases:    leases,
		log:       log,
		active:    make(map[uuid.UUID]*engine.Run),
	}
}

// Start launches a run for a sequence. Preflight validation must pass
// without errors, and the sequence must not already be leased.
func (s *RunService) Start(ctx context.Context, sequenceID uuid.UUID) (*models.SequenceRun, error) {
	_, seq, err := s.sequences.Get(ctx, sequenceID)
	if err != nil {
		return nil, err
	}

	result, err := s.sequences.Validate(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if result.HasErrors() {
		return nil, &ValidationError{Result: result}
	}

	// Reserve the lease with a placeholder so two concurrent starts cannot
	// both pass the check; swapped to the real run ID below.
	placeholder := uuid.New()
	if !s.leases.Acquire(sequenceID, placeholder) {
		return nil, ErrSequenceLeased
	}

	// The run outlives the HTTP request; detach from its context.
	run, err := s.engine.Start(context.Background(), seq, s.publisher)
	if err != nil {
		s.leases.Release(sequenceID, placeholder)
		return nil, err
	}
	s.leases.Swap(sequenceID, placeholder, run.ID)

	record := &models.SequenceRun{
		ID:         run.ID,
		SequenceID: sequenceID,
		State:      models.RunStateRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.runs.Create(ctx, record); err != nil {
		run.Stop()
		s.leases.Release(sequenceID, run.ID)
		return nil, fmt.Errorf("persist run: %w", err)
	}

	s.mu.Lock()
	s.active[run.ID] = run
	s.mu.Unlock()

	go s.awaitCompletion(sequenceID, run)

	s.log.Info("run started", "run_id", run.ID.String(), "sequence_id", sequenceID.String())
	return record, nil
}

// awaitCompletion persists the final state and releases the lease once
// the engine settles
func (s *RunService) awaitCompletion(sequenceID uuid.UUID, run *engine.Run) {
	<-run.Done()

	final := run.Progress()
	payload, _ := json.Marshal(final)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.runs.UpdateState(ctx, run.ID, models.RunState(final.State), final.Message, payload); err != nil {
		s.log.Error("persist run outcome", "run_id", run.ID.String(), "error", err)
	}

	s.mu.Lock()
	delete(s.active, run.ID)
	s.mu.Unlock()
	s.leases.Release(sequenceID, run.ID)

	s.log.Info("run settled",
		"run_id", run.ID.String(),
		"state", string(final.State),
		"completed_exposures", final.CompletedExposures,
	)
}

func (s *RunService) activeRun(runID uuid.UUID) (*engine.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.active[runID]
	return run, ok
}

// Stop requests cancellation of an active run
func (s *RunService) Stop(ctx context.Context, runID uuid.UUID) error {
	run, ok := s.activeRun(runID)
	if !ok {
		return ErrRunNotActive
	}
	run.Stop()
	return nil
}

// Pause suspends an active run at the next node boundary
func (s *RunService) Pause(ctx context.Context, runID uuid.UUID) error {
	run, ok := s.activeRun(runID)
	if !ok {
		return ErrRunNotActive
	}
	run.Pause()
	if err := s.runs.UpdateState(ctx, runID, models.RunStatePaused, "", nil); err != nil {
		s.log.Warn("persist pause", "run_id", runID.String(), "error", err)
	}
	return nil
}

// Resume continues a paused run
func (s *RunService) Resume(ctx context.Context, runID uuid.UUID) error {
	run, ok := s.activeRun(runID)
	if !ok {
		return ErrRunNotActive
	}
	run.Resume()
	if err := s.runs.UpdateState(ctx, runID, models.RunStateRunning, "", nil); err != nil {
		s.log.Warn("persist resume", "run_id", runID.String(), "error", err)
	}
	return nil
}

// Progress returns the latest snapshot for a run: live from the engine
// while active, from Redis shortly after, and finally from the database
// record
func (s *RunService) Progress(ctx context.Context, runID uuid.UUID) (engine.Progress, error) {
	if run, ok := s.activeRun(runID); ok {
		return run.Progress(), nil
	}

	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, engine.ProgressKey(runID)); err == nil {
			var p engine.Progress
			if err := json.Unmarshal([]byte(raw), &p); err == nil {
				return p, nil
			}
		}
	}

	record, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return engine.Progress{}, err
	}
	if len(record.Progress) > 0 {
		var p engine.Progress
		if err := json.Unmarshal(record.Progress, &p); err == nil {
			return p, nil
		}
	}
	return engine.Progress{
		RunID:      record.ID,
		SequenceID: record.SequenceID,
		State:      engine.State(record.State),
		Message:    record.Message,
	}, nil
}

// Get returns the persisted run record
func (s *RunService) Get(ctx context.Context, runID uuid.UUID) (*models.SequenceRun, error) {
	return s.runs.GetByID(ctx, runID)
}

// ListBySequence returns a sequence's run history, newest first
func (s *RunService) ListBySequence(ctx context.Context, sequenceID uuid.UUID, limit int) ([]*models.SequenceRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.runs.ListBySequence(ctx, sequenceID, limit)
}

// StopAll stops every active run; used during service shutdown
func (s *RunService) StopAll(ctx context.Context) {
	s.mu.Lock()
	runs := make([]*engine.Run, 0, len(s.active))
	for _, run := range s.active {
		runs = append(runs, run)
	}
	s.mu.Unlock()

	for _, run := range runs {
		run.Stop()
	}
	for _, run := range runs {
		select {
		case <-run.Done():
		case <-ctx.Done():
			return
		}
	}
}
