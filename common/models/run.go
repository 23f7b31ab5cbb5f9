package models

import (
	"time"

	"github.com/google/uuid"
)

// RunState mirrors the engine's run-level state in storage
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateStopping  RunState = "stopping"
	RunStateStopped   RunState = "stopped"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// Terminal reports whether the state ends the run
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateStopped
}

// SequenceRun is the persisted record of one execution. Progress holds the
// last published snapshot as JSON; live snapshots come from Redis while
// the run is active.
type SequenceRun struct {
	ID         uuid.UUID  `json:"id"`
	SequenceID uuid.UUID  `json:"sequenceId"`
	State      RunState   `json:"state"`
	Message    string     `json:"message,omitempty"`
	Progress   []byte     `json:"progress,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
