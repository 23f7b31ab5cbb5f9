package service

import (
	"sync"

	"github.com/google/uuid"
)

// LeaseTable tracks which sequences are held by an active run. A leased
// sequence rejects structural edits and further run starts until the run
// settles.
type LeaseTable struct {
	mu     sync.Mutex
	active map[uuid.UUID]uuid.UUID // sequence ID -> run ID
}

// NewLeaseTable creates an empty lease table
func NewLeaseTable() *LeaseTable {
	return &LeaseTable{active: make(map[uuid.UUID]uuid.UUID)}
}

// Acquire takes the lease for a sequence. Returns false if already held.
func (t *LeaseTable) Acquire(sequenceID, runID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.active[sequenceID]; held {
		return false
	}
	t.active[sequenceID] = runID
	return true
}

// Swap transfers the lease from one holder to another in a single step.
// There is no released window a concurrent Acquire could win. Returns
// false if oldRunID does not hold the lease.
func (t *LeaseTable) Swap(sequenceID, oldRunID, newRunID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[sequenceID] != oldRunID {
		return false
	}
	t.active[sequenceID] = newRunID
	return true
}

// Release frees the lease if the given run holds it
func (t *LeaseTable) Release(sequenceID, runID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[sequenceID] == runID {
		delete(t.active, sequenceID)
	}
}

// Holder returns the run holding the lease for a sequence, if any
func (t *LeaseTable) Holder(sequenceID uuid.UUID) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	runID, held := t.active[sequenceID]
	return runID, held
}
