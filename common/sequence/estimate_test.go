package sequence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSeq wires a root InstructionSet and returns the sequence
func buildSeq(t *testing.T) (*Sequence, *Node) {
	t.Helper()
	seq := New("test")
	root := &Node{ID: newID(), Type: TypeInstructionSet, Enabled: true}
	require.NoError(t, seq.AddNode(root))
	seq.RootID = &root.ID
	return seq, root
}

func addChild(t *testing.T, seq *Sequence, parent *Node, child *Node) *Node {
	t.Helper()
	require.NoError(t, seq.AddNode(child))
	require.NoError(t, seq.AttachChild(parent.ID, child.ID))
	return child
}

func exposureNode(durationSecs float64, count int) *Node {
	return &Node{
		ID:      newID(),
		Type:    TypeExposure,
		Enabled: true,
		Exposure: &ExposureSpec{
			DurationSecs: durationSecs,
			Count:        count,
		},
	}
}

func TestEstimateSingleExposureNode(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, exposureNode(120, 10))

	est := seq.Estimate(time.Now())
	assert.Equal(t, 1200.0, est.TotalSecs)
	assert.False(t, est.Unbounded)
}

func TestEstimateCountLoopMultiplies(t *testing.T) {
	seq, root := buildSeq(t)
	loop := addChild(t, seq, root, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopCount, RepeatCount: 5},
	})
	addChild(t, seq, loop, exposureNode(60, 4))

	est := seq.Estimate(time.Now())
	assert.Equal(t, 5*4*60.0, est.TotalSecs)
	assert.Equal(t, 240.0, est.SingleIterationSecs)
	assert.False(t, est.Unbounded)
}

func TestEstimateZeroAndNegativeCountLoops(t *testing.T) {
	for _, count := range []int{0, -3} {
		seq, root := buildSeq(t)
		loop := addChild(t, seq, root, &Node{
			ID:      newID(),
			Type:    TypeLoop,
			Enabled: true,
			Loop:    &LoopSpec{Condition: LoopCount, RepeatCount: count},
		})
		addChild(t, seq, loop, exposureNode(60, 4))

		est := seq.Estimate(time.Now())
		assert.Equal(t, 0.0, est.TotalSecs, "repeat count %d", count)
	}
}

func TestEstimateDisabledNodesContributeNothing(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, exposureNode(100, 1))
	disabled := exposureNode(500, 10)
	disabled.Enabled = false
	addChild(t, seq, root, disabled)

	est := seq.Estimate(time.Now())
	assert.Equal(t, 100.0, est.TotalSecs)
}

func TestEstimateUnboundedPropagation(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, exposureNode(100, 1))
	loop := addChild(t, seq, root, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopWhileDark},
	})
	addChild(t, seq, loop, exposureNode(300, 2))

	est := seq.Estimate(time.Now())
	assert.True(t, est.Unbounded)
	assert.Equal(t, LoopWhileDark, est.UnboundedReason)
	// The unbounded loop contributes its single iteration to the total.
	assert.Equal(t, 100.0+600.0, est.TotalSecs)
}

func TestEstimateUntilTimeLoopIsBounded(t *testing.T) {
	seq, root := buildSeq(t)
	ref := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	until := ref.Add(1 * time.Hour)
	loop := addChild(t, seq, root, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopUntilTime, RepeatUntil: &until},
	})
	addChild(t, seq, loop, exposureNode(300, 2)) // 600s per iteration

	est := seq.Estimate(ref)
	assert.False(t, est.Unbounded)
	// floor(3600/600) = 6 iterations
	assert.Equal(t, 6*600.0, est.TotalSecs)
	require.NotNil(t, est.Until)
	assert.True(t, est.Until.Equal(until))
}

func TestEstimateUntilTimeInPastFallsBackToOneIteration(t *testing.T) {
	seq, root := buildSeq(t)
	ref := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	until := ref.Add(-1 * time.Hour)
	loop := addChild(t, seq, root, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopUntilTime, RepeatUntil: &until},
	})
	addChild(t, seq, loop, exposureNode(300, 2))

	est := seq.Estimate(ref)
	assert.Equal(t, 600.0, est.TotalSecs)
}

func TestEstimateIsIdempotent(t *testing.T) {
	seq, root := buildSeq(t)
	loop := addChild(t, seq, root, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopCount, RepeatCount: 3},
	})
	addChild(t, seq, loop, exposureNode(60, 2))

	ref := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	first := seq.Estimate(ref)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, seq.Estimate(ref))
	}
}

func TestEstimateNoRootSumsEnabledExposures(t *testing.T) {
	seq := New("loose")
	require.NoError(t, seq.AddNode(exposureNode(100, 2)))
	require.NoError(t, seq.AddNode(exposureNode(50, 1)))
	disabled := exposureNode(999, 9)
	disabled.Enabled = false
	require.NoError(t, seq.AddNode(disabled))

	est := seq.Estimate(time.Now())
	assert.Equal(t, 250.0, est.TotalSecs)
	assert.False(t, est.Unbounded)
}

func TestEstimateNestedCountLoops(t *testing.T) {
	seq, root := buildSeq(t)
	outer := addChild(t, seq, root, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopCount, RepeatCount: 2},
	})
	inner := addChild(t, seq, outer, &Node{
		ID:      newID(),
		Type:    TypeLoop,
		Enabled: true,
		Loop:    &LoopSpec{Condition: LoopCount, RepeatCount: 3},
	})
	addChild(t, seq, inner, exposureNode(10, 1))

	est := seq.Estimate(time.Now())
	assert.Equal(t, 2*3*10.0, est.TotalSecs)
}
