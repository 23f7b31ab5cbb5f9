package service

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseAcquireIsExclusive(t *testing.T) {
	table := NewLeaseTable()
	seqID := uuid.New()

	require.True(t, table.Acquire(seqID, uuid.New()))
	assert.False(t, table.Acquire(seqID, uuid.New()))
}

func TestLeaseSwapTransfersHolder(t *testing.T) {
	table := NewLeaseTable()
	seqID := uuid.New()
	placeholder := uuid.New()
	runID := uuid.New()

	require.True(t, table.Acquire(seqID, placeholder))
	require.True(t, table.Swap(seqID, placeholder, runID))

	holder, held := table.Holder(seqID)
	assert.True(t, held)
	assert.Equal(t, runID, holder)

	// The old holder cannot release the lease after the handoff.
	table.Release(seqID, placeholder)
	_, held = table.Holder(seqID)
	assert.True(t, held)
}

func TestLeaseSwapRequiresCurrentHolder(t *testing.T) {
	table := NewLeaseTable()
	seqID := uuid.New()

	require.True(t, table.Acquire(seqID, uuid.New()))
	assert.False(t, table.Swap(seqID, uuid.New(), uuid.New()))
}

func TestLeaseSwapLeavesNoWindowForConcurrentStarts(t *testing.T) {
	table := NewLeaseTable()
	seqID := uuid.New()
	placeholder := uuid.New()
	runID := uuid.New()
	require.True(t, table.Acquire(seqID, placeholder))

	stolen := make(chan bool, 32)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stolen <- table.Acquire(seqID, uuid.New())
		}()
	}
	require.True(t, table.Swap(seqID, placeholder, runID))
	wg.Wait()
	close(stolen)

	for acquired := range stolen {
		assert.False(t, acquired, "a concurrent start acquired the lease during the handoff")
	}
	holder, _ := table.Holder(seqID)
	assert.Equal(t, runID, holder)
}
