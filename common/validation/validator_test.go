package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/sequence"
)

func allConnected() devices.Snapshot {
	connected := make(map[devices.DeviceType]bool, len(devices.AllDeviceTypes))
	for _, d := range devices.AllDeviceTypes {
		connected[d] = true
	}
	return devices.Snapshot{Connected: connected}
}

func testPlan(t *testing.T) (*sequence.Sequence, *sequence.Node) {
	t.Helper()
	seq := sequence.New("plan")
	root := &sequence.Node{ID: uuid.New(), Type: sequence.TypeInstructionSet, Enabled: true}
	require.NoError(t, seq.AddNode(root))
	seq.RootID = &root.ID
	return seq, root
}

func attach(t *testing.T, seq *sequence.Sequence, parent, child *sequence.Node) *sequence.Node {
	t.Helper()
	require.NoError(t, seq.AddNode(child))
	require.NoError(t, seq.AttachChild(parent.ID, child.ID))
	return child
}

func targetNode(name string, ra, dec float64) *sequence.Node {
	return &sequence.Node{
		ID: uuid.New(), Name: name, Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: ra, DecDegrees: dec},
	}
}

func exposure(durationSecs float64, count int) *sequence.Node {
	return &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeExposure, Enabled: true,
		Exposure: &sequence.ExposureSpec{DurationSecs: durationSecs, Count: count},
	}
}

func TestValidateEmptySequence(t *testing.T) {
	seq := sequence.New("empty")

	result := New().Validate(seq, allConnected(), time.Now())

	require.True(t, result.HasErrors())
	issues := result.ByCategory(CategoryStructure)
	require.Len(t, issues, 1)
	assert.Equal(t, "Empty sequence", issues[0].Title)
}

func TestValidateCleanPlanPasses(t *testing.T) {
	seq, root := testPlan(t)
	target := attach(t, seq, root, targetNode("M42", 5.588, -5.39))
	attach(t, seq, target, exposure(300, 10))

	result := New().Validate(seq, allConnected(), time.Now())

	assert.True(t, result.IsValid())
	assert.Empty(t, result.Issues)
}

func TestValidateCoordinateRanges(t *testing.T) {
	seq, root := testPlan(t)
	bad := attach(t, seq, root, targetNode("bad-ra", 25.0, 40.0))
	attach(t, seq, bad, exposure(60, 1))
	good := attach(t, seq, root, targetNode("fine", 12.0, 40.0))
	attach(t, seq, good, exposure(60, 1))

	result := New().Validate(seq, allConnected(), time.Now())

	issues := result.ByCategory(CategoryTargets)
	require.Len(t, issues, 1)
	assert.Equal(t, "Right ascension out of range", issues[0].Title)
	assert.Equal(t, bad.ID, *issues[0].NodeID)
}

func TestValidateDeclinationRange(t *testing.T) {
	seq, root := testPlan(t)
	bad := attach(t, seq, root, targetNode("bad-dec", 10.0, -95.0))
	attach(t, seq, bad, exposure(60, 1))

	result := New().Validate(seq, allConnected(), time.Now())

	issues := result.ByCategory(CategoryTargets)
	require.Len(t, issues, 1)
	assert.Equal(t, "Declination out of range", issues[0].Title)
	assert.True(t, result.HasErrors())
}

func TestValidateEmptyTargetWarns(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, targetNode("hollow", 3.0, 20.0))

	result := New().Validate(seq, allConnected(), time.Now())

	assert.False(t, result.HasErrors())
	assert.True(t, result.HasWarnings())
}

func TestValidateMissingCameraIsError(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, exposure(60, 1))

	snapshot := allConnected()
	snapshot.Connected[devices.Camera] = false

	result := New().Validate(seq, snapshot, time.Now())

	require.True(t, result.HasErrors())
	issues := result.ByCategory(CategoryEquipment)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestValidateMissingGuiderIsInfo(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, exposure(60, 1))
	attach(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeStartGuiding, Enabled: true})

	snapshot := allConnected()
	snapshot.Connected[devices.Guider] = false

	result := New().Validate(seq, snapshot, time.Now())

	assert.False(t, result.HasErrors())
	issues := result.ByCategory(CategoryEquipment)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityInfo, issues[0].Severity)
}

func TestValidateDeviceQueryFailureDegradesToWarning(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, exposure(60, 1))

	snapshot := devices.FailedSnapshot(errors.New("backend unreachable"))

	result := New().Validate(seq, snapshot, time.Now())

	assert.False(t, result.HasErrors())
	issues := result.ByCategory(CategoryEquipment)
	require.Len(t, issues, 1)
	assert.Equal(t, "Device state unavailable", issues[0].Title)
	assert.Contains(t, issues[0].Description, "backend unreachable")
}

func TestValidateNoRequiredDevicesSkipsEquipment(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeDelay, Enabled: true,
		Wait: &sequence.WaitSpec{DelaySecs: 5},
	})

	snapshot := devices.Snapshot{Connected: map[devices.DeviceType]bool{}}
	result := New().Validate(seq, snapshot, time.Now())

	assert.Empty(t, result.ByCategory(CategoryEquipment))
}

func TestValidateExposureParameters(t *testing.T) {
	seq, root := testPlan(t)
	zeroDur := attach(t, seq, root, exposure(0, 5))
	zeroCount := attach(t, seq, root, exposure(60, 0))

	result := New().Validate(seq, allConnected(), time.Now())

	issues := result.ByCategory(CategoryExposures)
	require.Len(t, issues, 2)
	byNode := map[uuid.UUID]Issue{}
	for _, i := range issues {
		byNode[*i.NodeID] = i
	}
	assert.Equal(t, "Non-positive exposure duration", byNode[zeroDur.ID].Title)
	assert.Equal(t, "Non-positive exposure count", byNode[zeroCount.ID].Title)
}

func TestValidateVeryLongExposureWarns(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, exposure(MaxSaneExposureSecs+1, 1))

	result := New().Validate(seq, allConnected(), time.Now())

	assert.False(t, result.HasErrors())
	assert.True(t, result.HasWarnings())
}

func TestValidateSessionIntegrationWarning(t *testing.T) {
	seq, root := testPlan(t)
	// 13 hours of total integration.
	attach(t, seq, root, exposure(600, 78))

	result := New().Validate(seq, allConnected(), time.Now())

	issues := result.ByCategory(CategoryExposures)
	require.Len(t, issues, 1)
	assert.Equal(t, "Very long total integration", issues[0].Title)
}

func TestValidateHighBinningIsInfo(t *testing.T) {
	seq, root := testPlan(t)
	n := exposure(60, 1)
	n.Exposure.Binning = 4
	attach(t, seq, root, n)

	result := New().Validate(seq, allConnected(), time.Now())

	issues := result.ByCategory(CategoryExposures)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityInfo, issues[0].Severity)
	assert.True(t, result.IsValid())
}

func TestValidateStaleTimesWarn(t *testing.T) {
	now := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	past := now.Add(-2 * time.Hour)

	seq, root := testPlan(t)
	attach(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeWaitForTime, Enabled: true,
		Wait: &sequence.WaitSpec{Until: &past},
	})
	attach(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeLoop, Enabled: true,
		Loop: &sequence.LoopSpec{Condition: sequence.LoopUntilTime, RepeatUntil: &past},
	})

	result := New().Validate(seq, allConnected(), now)

	issues := result.ByCategory(CategoryTiming)
	assert.Len(t, issues, 2)
	assert.False(t, result.HasErrors())
}

func TestValidateOrphanWarns(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, exposure(60, 1))
	orphan := exposure(60, 1)
	require.NoError(t, seq.AddNode(orphan))

	result := New().Validate(seq, allConnected(), time.Now())

	issues := result.ByCategory(CategoryStructure)
	require.Len(t, issues, 1)
	assert.Equal(t, "Orphaned node", issues[0].Title)
	assert.Equal(t, orphan.ID, *issues[0].NodeID)
}

func TestValidateCycleIsError(t *testing.T) {
	seq, root := testPlan(t)
	a := attach(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeInstructionSet, Enabled: true})
	b := attach(t, seq, a, &sequence.Node{ID: uuid.New(), Type: sequence.TypeInstructionSet, Enabled: true})
	b.ChildIDs = append(b.ChildIDs, a.ID)

	result := New().Validate(seq, allConnected(), time.Now())

	assert.True(t, result.HasErrors())
}

func TestValidateUnknownNodeType(t *testing.T) {
	seq, root := testPlan(t)
	attach(t, seq, root, &sequence.Node{ID: uuid.New(), Name: "mystery", Type: "warpDrive", Enabled: true})

	result := New().Validate(seq, allConnected(), time.Now())

	require.True(t, result.HasErrors())
	issues := result.ByCategory(CategoryStructure)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Description, "warpDrive")
}

func TestValidateIsDeterministic(t *testing.T) {
	seq, root := testPlan(t)
	for i := 0; i < 5; i++ {
		attach(t, seq, root, exposure(0, 0))
	}

	snapshot := allConnected()
	now := time.Now()
	first := New().Validate(seq, snapshot, now)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, New().Validate(seq, snapshot, now))
	}
}
