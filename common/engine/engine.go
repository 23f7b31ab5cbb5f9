package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/sequence"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config holds engine tuning knobs
type Config struct {
	// CancelPollInterval bounds how often waits and long instructions
	// check for cancellation and pause.
	CancelPollInterval time.Duration
	// ProgressInterval bounds snapshot publication during long instructions.
	ProgressInterval time.Duration
	// TriggerPollInterval bounds recovery-trigger evaluation while
	// children are running.
	TriggerPollInterval time.Duration
	// RetryBackoffBase is the first retry delay; it doubles per attempt
	// and is capped at RetryBackoffCap.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	SettleTimeout    time.Duration
	AutofocusTimeout time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		CancelPollInterval:  500 * time.Millisecond,
		ProgressInterval:    2 * time.Second,
		TriggerPollInterval: 5 * time.Second,
		RetryBackoffBase:    2 * time.Second,
		RetryBackoffCap:     60 * time.Second,
		SettleTimeout:       2 * time.Minute,
		AutofocusTimeout:    10 * time.Minute,
	}
}

// Engine walks a validated sequence tree, dispatching instruction nodes to
// device capabilities and applying recovery policy on failure. One logical
// run per sequence at a time; the tree is leased for the run's duration.
type Engine struct {
	hub        devices.Hub
	telemetry  Telemetry
	conditions *ConditionEvaluator
	cfg        Config
	log        Logger
	handlers   map[sequence.NodeType]instructionHandler
}

// Opts contains options for creating an engine
type Opts struct {
	Hub       devices.Hub
	Telemetry Telemetry
	Config    Config
	Logger    Logger
}

// New creates an engine and verifies the instruction handler table covers
// the whole node taxonomy. A taxonomy variant without a handler is a
// startup error, never a silent no-op at run time.
func New(opts *Opts) (*Engine, error) {
	if opts.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	if opts.Telemetry == nil {
		return nil, errors.New("engine: telemetry is required")
	}

	cfg := opts.Config
	if cfg.CancelPollInterval <= 0 {
		cfg = DefaultConfig()
	}
	// Ticker intervals must be positive even on a partially filled config.
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultConfig().ProgressInterval
	}
	if cfg.TriggerPollInterval <= 0 {
		cfg.TriggerPollInterval = DefaultConfig().TriggerPollInterval
	}

	e := &Engine{
		hub:        opts.Hub,
		telemetry:  opts.Telemetry,
		conditions: NewConditionEvaluator(),
		cfg:        cfg,
		log:        opts.Logger,
	}
	e.handlers = instructionHandlers()

	for _, t := range sequence.AllNodeTypes {
		if t.IsInstruction() {
			if _, ok := e.handlers[t]; !ok {
				return nil, fmt.Errorf("engine: no execution handler for node type %q", t)
			}
		}
		// Verifies the required-device table too: panics on a missing entry.
		sequence.RequiredDevices(t)
	}

	return e, nil
}

// Run is one execution of a sequence
type Run struct {
	ID  uuid.UUID
	seq *sequence.Sequence
	eng *Engine

	tracker *Tracker
	cancel  context.CancelFunc
	done    chan struct{}

	stopRequested atomic.Bool
	// stoppedMidOp records that a stop interrupted an instruction while it
	// was driving a device; set at the cancellation site in dispatch.
	stoppedMidOp atomic.Bool
	lastHFR      atomic.Uint64 // math.Float64bits

	pauseMu sync.Mutex
	paused  bool
	pauseCh chan struct{}

	statusMu sync.Mutex
	statuses map[uuid.UUID]NodeStatus

	errMu  sync.Mutex
	runErr error
}

// Start begins executing the sequence. The engine takes an exclusive read
// lease on the tree: structural edits during the run are illegal and must
// be rejected by the owner. Malformed trees are rejected at validation
// time; Start only re-checks what it cannot run without.
func (e *Engine) Start(ctx context.Context, seq *sequence.Sequence, publisher Publisher) (*Run, error) {
	if _, ok := seq.Root(); !ok {
		return nil, sequence.ErrNoRoot
	}

	runID := uuid.New()
	tracker := NewTracker(runID, seq.ID, publisher)

	exposures, integrationSecs := planTotals(seq, time.Now())
	tracker.SetTotals(exposures, integrationSecs)

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		ID:       runID,
		seq:      seq,
		eng:      e,
		tracker:  tracker,
		cancel:   cancel,
		done:     make(chan struct{}),
		statuses: make(map[uuid.UUID]NodeStatus),
	}

	e.log.Info("run starting",
		"run_id", runID.String(),
		"sequence_id", seq.ID.String(),
		"planned_exposures", exposures,
		"planned_integration_secs", integrationSecs,
	)

	go r.execute(runCtx)
	return r, nil
}

// Tracker returns the run's progress tracker
func (r *Run) Tracker() *Tracker {
	return r.tracker
}

// Progress returns the current snapshot
func (r *Run) Progress() Progress {
	return r.tracker.Snapshot()
}

// NodeStatus returns the recorded status of a node (pending if never touched)
func (r *Run) NodeStatus(id uuid.UUID) NodeStatus {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if s, ok := r.statuses[id]; ok {
		return s
	}
	return NodePending
}

// Stop requests cancellation. The state moves to stopping, propagates
// downward, and settles in stopped (clean boundary) or failed
// (interrupted mid-operation).
func (r *Run) Stop() {
	if !r.stopRequested.CompareAndSwap(false, true) {
		return
	}
	r.tracker.SetState(StateStopping)
	r.Resume() // a paused run must be able to observe the stop
	r.cancel()
}

// Pause suspends execution at the next node boundary. The in-flight
// instruction finishes first.
func (r *Run) Pause() {
	r.pauseMu.Lock()
	defer r.pauseMu.Unlock()
	if r.paused {
		return
	}
	r.paused = true
	r.pauseCh = make(chan struct{})
	r.tracker.SetState(StatePaused)
}

// Resume continues a paused run from the same position
func (r *Run) Resume() {
	r.pauseMu.Lock()
	defer r.pauseMu.Unlock()
	if !r.paused {
		return
	}
	r.paused = false
	close(r.pauseCh)
	r.tracker.SetState(StateRunning)
}

// Wait blocks until the run settles or the context is cancelled
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		r.errMu.Lock()
		defer r.errMu.Unlock()
		return r.runErr
	}
}

// Done is closed when the run settles
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// waitIfPaused blocks while the run is paused. Returns the context error
// if cancellation arrives first.
func (r *Run) waitIfPaused(ctx context.Context) error {
	for {
		r.pauseMu.Lock()
		paused := r.paused
		ch := r.pauseCh
		r.pauseMu.Unlock()

		if !paused {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// storeHFR records the most recent autofocus result
func (r *Run) storeHFR(hfr float64) {
	r.lastHFR.Store(math.Float64bits(hfr))
}

// LastHFR returns the HFR of the most recent autofocus run, zero if none
func (r *Run) LastHFR() float64 {
	return math.Float64frombits(r.lastHFR.Load())
}

func (r *Run) setStatus(n *sequence.Node, status NodeStatus) {
	r.statusMu.Lock()
	r.statuses[n.ID] = status
	r.statusMu.Unlock()
	r.tracker.SetNode(n.ID, n.Name, status)
}

// markSubtree records a status for every node of a subtree that has not
// already settled
func (r *Run) markSubtree(n *sequence.Node, status NodeStatus) {
	r.statusMu.Lock()
	var mark func(n *sequence.Node)
	seen := make(map[uuid.UUID]bool)
	mark = func(n *sequence.Node) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		switch r.statuses[n.ID] {
		case NodeSuccess, NodeFailure, NodeSkipped, NodeCancelled:
		default:
			r.statuses[n.ID] = status
		}
		for _, c := range r.seq.Children(n) {
			mark(c)
		}
	}
	mark(n)
	r.statusMu.Unlock()
	r.tracker.SetNode(n.ID, n.Name, status)
}

// execute is the run goroutine
func (r *Run) execute(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()

	log := r.eng.log
	r.tracker.SetState(StateRunning)

	x := &execution{
		run:  r,
		eng:  r.eng,
		seq:  r.seq,
		caps: newCapabilitySet(),
	}

	var runErr error
	for _, target := range r.seq.TargetRoots() {
		if target.Target != nil {
			r.tracker.SetTarget(target.Name)
		}
		err := x.execNode(ctx, target)
		if errors.Is(err, errSkipTarget) {
			log.Warn("target skipped by recovery policy", "run_id", r.ID.String(), "target", target.Name)
			continue
		}
		if err != nil {
			runErr = err
			break
		}
	}

	r.errMu.Lock()
	r.runErr = runErr
	r.errMu.Unlock()

	switch {
	case runErr == nil:
		log.Info("run completed", "run_id", r.ID.String())
		r.tracker.Finish(StateCompleted, "")

	case r.stopRequested.Load():
		// Remaining pending nodes are cancelled either way.
		for _, target := range r.seq.TargetRoots() {
			r.markSubtree(target, NodeCancelled)
		}
		if r.stoppedMidOp.Load() || !errors.Is(runErr, context.Canceled) {
			log.Warn("run stopped mid-operation", "run_id", r.ID.String(), "error", runErr)
			r.tracker.Finish(StateFailed, "run stopped mid-operation: "+runErr.Error())
		} else {
			log.Info("run stopped", "run_id", r.ID.String())
			r.tracker.Finish(StateStopped, "run stopped by operator")
		}

	default:
		log.Error("run failed", "run_id", r.ID.String(), "error", runErr)
		for _, target := range r.seq.TargetRoots() {
			r.markSubtree(target, NodeCancelled)
		}
		r.tracker.Finish(StateFailed, runErr.Error())
	}
}
