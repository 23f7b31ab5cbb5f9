package sequence

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrokit/sequencer/common/devices"
)

func newID() uuid.UUID {
	return uuid.New()
}

func TestChildrenSortedByOrderIndex(t *testing.T) {
	seq, root := buildSeq(t)
	a := addChild(t, seq, root, &Node{ID: newID(), Name: "a", Type: TypeDelay, Enabled: true})
	b := addChild(t, seq, root, &Node{ID: newID(), Name: "b", Type: TypeDelay, Enabled: true})
	c := addChild(t, seq, root, &Node{ID: newID(), Name: "c", Type: TypeDelay, Enabled: true})

	// Reorder: c first.
	c.OrderIndex = -1

	children := seq.Children(root)
	require.Len(t, children, 3)
	assert.Equal(t, c.ID, children[0].ID)
	assert.Equal(t, a.ID, children[1].ID)
	assert.Equal(t, b.ID, children[2].ID)
}

func TestChildrenSkipsDanglingReferences(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, &Node{ID: newID(), Type: TypeDelay, Enabled: true})
	root.ChildIDs = append(root.ChildIDs, newID()) // never added to the arena

	assert.Len(t, seq.Children(root), 1)
	assert.Len(t, seq.MissingChildren(), 1)
}

func TestDetectCycle(t *testing.T) {
	seq, root := buildSeq(t)
	a := addChild(t, seq, root, &Node{ID: newID(), Type: TypeInstructionSet, Enabled: true})
	b := addChild(t, seq, a, &Node{ID: newID(), Type: TypeInstructionSet, Enabled: true})
	require.NoError(t, seq.DetectCycle())

	// Close the loop: b -> a.
	b.ChildIDs = append(b.ChildIDs, a.ID)
	assert.ErrorIs(t, seq.DetectCycle(), ErrCycleDetected)
}

func TestOrphansAreUnreachableNodes(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, &Node{ID: newID(), Type: TypeDelay, Enabled: true})

	orphan := &Node{ID: newID(), Type: TypeDelay, Enabled: true}
	require.NoError(t, seq.AddNode(orphan))

	orphans := seq.Orphans()
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0])
}

func TestTargetRootsPriorityOrder(t *testing.T) {
	seq, root := buildSeq(t)
	low := addChild(t, seq, root, &Node{
		ID: newID(), Name: "low", Type: TypeTargetHeader, Enabled: true,
		Target: &TargetSpec{Priority: 1},
	})
	high := addChild(t, seq, root, &Node{
		ID: newID(), Name: "high", Type: TypeTargetHeader, Enabled: true,
		Target: &TargetSpec{Priority: 9},
	})
	mid := addChild(t, seq, root, &Node{
		ID: newID(), Name: "mid", Type: TypeTargetHeader, Enabled: true,
		Target: &TargetSpec{Priority: 5},
	})

	targets := seq.TargetRoots()
	require.Len(t, targets, 3)
	assert.Equal(t, high.ID, targets[0].ID)
	assert.Equal(t, mid.ID, targets[1].ID)
	assert.Equal(t, low.ID, targets[2].ID)
}

func TestTargetRootsEqualPriorityKeepsOrderIndex(t *testing.T) {
	seq, root := buildSeq(t)
	first := addChild(t, seq, root, &Node{
		ID: newID(), Type: TypeTargetHeader, Enabled: true,
		Target: &TargetSpec{Priority: 5},
	})
	second := addChild(t, seq, root, &Node{
		ID: newID(), Type: TypeTargetHeader, Enabled: true,
		Target: &TargetSpec{Priority: 5},
	})

	targets := seq.TargetRoots()
	require.Len(t, targets, 2)
	assert.Equal(t, first.ID, targets[0].ID)
	assert.Equal(t, second.ID, targets[1].ID)
}

func TestTargetRootsPlainSequenceReturnsRoot(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, &Node{ID: newID(), Type: TypeDelay, Enabled: true})

	targets := seq.TargetRoots()
	require.Len(t, targets, 1)
	assert.Equal(t, root.ID, targets[0].ID)
}

func TestEnclosingTarget(t *testing.T) {
	seq, root := buildSeq(t)
	target := addChild(t, seq, root, &Node{
		ID: newID(), Type: TypeTargetHeader, Enabled: true,
		Target: &TargetSpec{RAHours: 5.5, DecDegrees: -5.4},
	})
	set := addChild(t, seq, target, &Node{ID: newID(), Type: TypeInstructionSet, Enabled: true})
	exp := addChild(t, seq, set, exposureNode(60, 1))

	spec, ok := seq.EnclosingTarget(exp)
	require.True(t, ok)
	assert.Equal(t, 5.5, spec.RAHours)

	_, ok = seq.EnclosingTarget(root)
	assert.False(t, ok)
}

func TestRequiredDeviceUnion(t *testing.T) {
	seq, root := buildSeq(t)
	addChild(t, seq, root, exposureNode(60, 1))
	addChild(t, seq, root, &Node{ID: newID(), Type: TypeSlew, Enabled: true})
	disabledFocus := &Node{ID: newID(), Type: TypeAutofocus, Enabled: false}
	addChild(t, seq, root, disabledFocus)

	union := seq.RequiredDeviceUnion()
	assert.Contains(t, union, devices.Camera)
	assert.Contains(t, union, devices.Mount)
	// Disabled nodes do not contribute device requirements.
	assert.NotContains(t, union, devices.Focuser)
}

func TestRequiredDevicesCoversTaxonomy(t *testing.T) {
	for _, nodeType := range AllNodeTypes {
		assert.NotPanics(t, func() {
			RequiredDevices(nodeType)
		}, "node type %s", nodeType)
	}
}
