package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the run-level execution state
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state ends the run
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// NodeStatus is the per-node execution status
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSuccess   NodeStatus = "success"
	NodeFailure   NodeStatus = "failure"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// Progress is the runtime snapshot published after every node-status
// transition and at a bounded interval during long instructions
type Progress struct {
	RunID      uuid.UUID `json:"runId"`
	SequenceID uuid.UUID `json:"sequenceId"`
	State      State     `json:"state"`

	CurrentNodeID     *uuid.UUID `json:"currentNodeId,omitempty"`
	CurrentNodeName   string     `json:"currentNodeName,omitempty"`
	CurrentNodeStatus NodeStatus `json:"currentNodeStatus,omitempty"`

	TotalExposures           int     `json:"totalExposures"`
	CompletedExposures       int     `json:"completedExposures"`
	TotalIntegrationSecs     float64 `json:"totalIntegrationSecs"`
	CompletedIntegrationSecs float64 `json:"completedIntegrationSecs"`
	ElapsedSecs              float64 `json:"elapsedSecs"`
	RemainingSecs            float64 `json:"remainingSecs"`

	CurrentTarget string `json:"currentTarget,omitempty"`
	CurrentFilter string `json:"currentFilter,omitempty"`
	Message       string `json:"message,omitempty"`

	// NodeProgress maps node ID to fractional progress; NodeDetail carries
	// sub-progress strings from long-running nodes such as autofocus.
	NodeProgress map[uuid.UUID]float64 `json:"nodeProgress,omitempty"`
	NodeDetail   map[uuid.UUID]string  `json:"nodeDetail,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Publisher receives progress snapshots. Implementations must not block
// for long; the tracker calls them synchronously under its own lock-free
// copy of the snapshot.
type Publisher interface {
	Publish(p Progress)
}

// NopPublisher discards snapshots
type NopPublisher struct{}

func (NopPublisher) Publish(Progress) {}

// Tracker aggregates per-node status into the single observable snapshot.
// Mutated exclusively by the execution engine; becomes immutable once the
// run reaches a terminal state.
type Tracker struct {
	mu        sync.Mutex
	progress  Progress
	publisher Publisher
	startedAt time.Time
}

// NewTracker creates a tracker in the idle state
func NewTracker(runID, sequenceID uuid.UUID, publisher Publisher) *Tracker {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Tracker{
		progress: Progress{
			RunID:        runID,
			SequenceID:   sequenceID,
			State:        StateIdle,
			NodeProgress: make(map[uuid.UUID]float64),
			NodeDetail:   make(map[uuid.UUID]string),
		},
		publisher: publisher,
		startedAt: time.Now(),
	}
}

// Snapshot returns a deep copy of the current progress
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

func (t *Tracker) copyLocked() Progress {
	p := t.progress
	p.NodeProgress = make(map[uuid.UUID]float64, len(t.progress.NodeProgress))
	for k, v := range t.progress.NodeProgress {
		p.NodeProgress[k] = v
	}
	p.NodeDetail = make(map[uuid.UUID]string, len(t.progress.NodeDetail))
	for k, v := range t.progress.NodeDetail {
		p.NodeDetail[k] = v
	}
	return p
}

// publishLocked stamps and publishes a copy; caller holds the lock
func (t *Tracker) publishLocked() {
	t.progress.ElapsedSecs = time.Since(t.startedAt).Seconds()
	remaining := t.progress.TotalIntegrationSecs - t.progress.CompletedIntegrationSecs
	if remaining < 0 {
		remaining = 0
	}
	t.progress.RemainingSecs = remaining
	t.progress.UpdatedAt = time.Now().UTC()
	snapshot := t.copyLocked()
	t.publisher.Publish(snapshot)
}

// mutate applies fn unless the run is already terminal, then publishes
func (t *Tracker) mutate(fn func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress.State.Terminal() {
		return
	}
	fn(&t.progress)
	t.publishLocked()
}

// Touch republishes the current snapshot with fresh elapsed and remaining
// figures without changing any field. Called at a bounded interval while a
// long instruction is in flight, so listeners see movement even when the
// driver reports no progress of its own.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress.State.Terminal() {
		return
	}
	t.publishLocked()
}

// SetState transitions the run-level state
func (t *Tracker) SetState(s State) {
	t.mutate(func(p *Progress) {
		p.State = s
	})
}

// SetTotals records the planned exposure and integration totals
func (t *Tracker) SetTotals(exposures int, integrationSecs float64) {
	t.mutate(func(p *Progress) {
		p.TotalExposures = exposures
		p.TotalIntegrationSecs = integrationSecs
	})
}

// SetNode records the currently executing node and its status
func (t *Tracker) SetNode(id uuid.UUID, name string, status NodeStatus) {
	t.mutate(func(p *Progress) {
		nodeID := id
		p.CurrentNodeID = &nodeID
		p.CurrentNodeName = name
		p.CurrentNodeStatus = status
	})
}

// SetNodeProgress records fractional progress and detail for a node
func (t *Tracker) SetNodeProgress(id uuid.UUID, fraction float64, detail string) {
	t.mutate(func(p *Progress) {
		p.NodeProgress[id] = fraction
		if detail != "" {
			p.NodeDetail[id] = detail
		}
	})
}

// ExposureCompleted increments the exposure counters. Called only on
// instruction success, never on skipped or cancelled nodes, so both
// counters are strictly monotonically non-decreasing within a run.
func (t *Tracker) ExposureCompleted(durationSecs float64) {
	t.mutate(func(p *Progress) {
		p.CompletedExposures++
		p.CompletedIntegrationSecs += durationSecs
		// Unbounded loops can legitimately run past the planned totals;
		// grow the plan so completed never exceeds total.
		if p.CompletedExposures > p.TotalExposures {
			p.TotalExposures = p.CompletedExposures
		}
		if p.CompletedIntegrationSecs > p.TotalIntegrationSecs {
			p.TotalIntegrationSecs = p.CompletedIntegrationSecs
		}
	})
}

// SetTarget records the current target name
func (t *Tracker) SetTarget(name string) {
	t.mutate(func(p *Progress) {
		p.CurrentTarget = name
	})
}

// SetFilter records the current filter
func (t *Tracker) SetFilter(name string) {
	t.mutate(func(p *Progress) {
		p.CurrentFilter = name
	})
}

// SetMessage records the free-text status message
func (t *Tracker) SetMessage(msg string) {
	t.mutate(func(p *Progress) {
		p.Message = msg
	})
}

// Finish transitions to a terminal state with a message. Further
// mutations are ignored.
func (t *Tracker) Finish(s State, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progress.State.Terminal() {
		return
	}
	t.progress.State = s
	if msg != "" {
		t.progress.Message = msg
	}
	t.publishLocked()
}
