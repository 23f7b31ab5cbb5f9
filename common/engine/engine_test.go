package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrokit/sequencer/common/devices/sim"
	"github.com/astrokit/sequencer/common/sequence"
)

// fastConfig shrinks every interval so runs settle in milliseconds
func fastConfig() Config {
	return Config{
		CancelPollInterval:  2 * time.Millisecond,
		ProgressInterval:    10 * time.Millisecond,
		TriggerPollInterval: 5 * time.Millisecond,
		RetryBackoffBase:    time.Millisecond,
		RetryBackoffCap:     4 * time.Millisecond,
		SettleTimeout:       time.Second,
		AutofocusTimeout:    time.Second,
	}
}

func newTestEngine(t *testing.T, s *sim.Simulator, tel Telemetry) *Engine {
	t.Helper()
	if tel == nil {
		tel = NewFakeTelemetry()
	}
	eng, err := New(&Opts{
		Hub:       s.Hub(),
		Telemetry: tel,
		Config:    fastConfig(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return eng
}

func buildTree(t *testing.T) (*sequence.Sequence, *sequence.Node) {
	t.Helper()
	seq := sequence.New("run-test")
	root := &sequence.Node{ID: uuid.New(), Type: sequence.TypeInstructionSet, Enabled: true}
	require.NoError(t, seq.AddNode(root))
	seq.RootID = &root.ID
	return seq, root
}

func add(t *testing.T, seq *sequence.Sequence, parent, child *sequence.Node) *sequence.Node {
	t.Helper()
	require.NoError(t, seq.AddNode(child))
	require.NoError(t, seq.AttachChild(parent.ID, child.ID))
	return child
}

func exposureOf(durationSecs float64, count int) *sequence.Node {
	return &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeExposure, Enabled: true,
		Exposure: &sequence.ExposureSpec{DurationSecs: durationSecs, Count: count},
	}
}

func waitRun(t *testing.T, r *Run) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "run did not settle in time")
	return err
}

// capturePublisher records every published snapshot
type capturePublisher struct {
	mu    sync.Mutex
	snaps []Progress
}

func (c *capturePublisher) Publish(p Progress) {
	c.mu.Lock()
	c.snaps = append(c.snaps, p)
	c.mu.Unlock()
}

func (c *capturePublisher) all() []Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Progress, len(c.snaps))
	copy(out, c.snaps)
	return out
}

func TestRunCompletesAndRecordsStatuses(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	slew := add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeSlew, Enabled: true,
		Slew: &sequence.SlewSpec{RAHours: ptr(5.5), DecDegrees: ptr(-5.4)}})
	filter := add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeFilterChange, Enabled: true,
		Filter: &sequence.FilterSpec{Name: "Ha"}})
	exp := add(t, seq, root, exposureOf(60, 2))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	snap := r.Progress()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 2, snap.CompletedExposures)
	assert.Equal(t, 2, snap.TotalExposures)
	assert.Equal(t, 120.0, snap.CompletedIntegrationSecs)
	assert.Equal(t, "Ha", snap.CurrentFilter)

	for _, n := range []*sequence.Node{root, slew, filter, exp} {
		assert.Equal(t, NodeSuccess, r.NodeStatus(n.ID), "node %s", n.Type)
	}
	assert.Equal(t, 1, s.OpCount("mount.slew"))
	assert.Equal(t, 1, s.OpCount("filterWheel.set"))
	assert.Equal(t, 2, s.OpCount("camera.expose"))
}

func TestStartWithoutRootFails(t *testing.T) {
	s := sim.New()
	eng := newTestEngine(t, s, nil)

	_, err := eng.Start(context.Background(), sequence.New("rootless"), nil)
	assert.ErrorIs(t, err, sequence.ErrNoRoot)
}

func TestRetryAttemptsAreBounded(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	s.FailOn("camera.expose", errors.New("download failed"))
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	recovery := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Name: "retry-lights", Type: sequence.TypeRecovery, Enabled: true,
		Recovery: &sequence.RecoverySpec{Action: sequence.RecoverRetry, MaxRetries: 3},
	})
	add(t, seq, recovery, exposureOf(10, 1))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	err = waitRun(t, r)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	// One initial attempt plus three retries, never more.
	assert.Equal(t, 4, s.OpCount("camera.expose"))
	assert.Equal(t, StateFailed, r.Progress().State)
	assert.Equal(t, NodeFailure, r.NodeStatus(recovery.ID))
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	s.FailOn("guider.start", errors.New("star lost"))
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	recovery := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeRecovery, Enabled: true,
		Recovery: &sequence.RecoverySpec{Action: sequence.RecoverRetry, MaxRetries: 5},
	})
	add(t, seq, recovery, &sequence.Node{ID: uuid.New(), Type: sequence.TypeStartGuiding, Enabled: true})

	// Clear the scripted failure while the engine is backing off.
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.ClearFailure("guider.start")
	}()

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSuccess, r.NodeStatus(recovery.ID))
	assert.GreaterOrEqual(t, s.OpCount("guider.start"), 2)
}

func TestRecoveryContinuePastFailure(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	s.FailOn("focuser.autofocus", errors.New("no stars"))
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	recovery := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeRecovery, Enabled: true,
		Recovery: &sequence.RecoverySpec{Action: sequence.RecoverContinue},
	})
	add(t, seq, recovery, &sequence.Node{ID: uuid.New(), Type: sequence.TypeAutofocus, Enabled: true})
	exp := add(t, seq, root, exposureOf(30, 1))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSuccess, r.NodeStatus(recovery.ID))
	assert.Equal(t, NodeSuccess, r.NodeStatus(exp.ID))
}

func TestRecoverySkipTargetMovesToNextTarget(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	s.FailOn("filterWheel.set", errors.New("wheel jammed"))
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	first := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Name: "NGC 891", Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: 2.37, DecDegrees: 42.35, Priority: 5},
	})
	recovery := add(t, seq, first, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeRecovery, Enabled: true,
		Recovery: &sequence.RecoverySpec{Action: sequence.RecoverSkipTarget},
	})
	abandoned := add(t, seq, recovery, &sequence.Node{ID: uuid.New(), Type: sequence.TypeFilterChange, Enabled: true,
		Filter: &sequence.FilterSpec{Name: "OIII"}})

	second := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Name: "M33", Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: 1.56, DecDegrees: 30.66, Priority: 1},
	})
	slew := add(t, seq, second, &sequence.Node{ID: uuid.New(), Type: sequence.TypeSlew, Enabled: true})

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSkipped, r.NodeStatus(first.ID))
	// The instruction that actually failed keeps its failure status.
	assert.Equal(t, NodeFailure, r.NodeStatus(abandoned.ID))
	assert.Equal(t, NodeSuccess, r.NodeStatus(slew.ID))
	assert.Equal(t, 1, s.OpCount("mount.slew"))
}

func TestRecoveryTriggerCancelsLongBody(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	tel := NewFakeTelemetry()
	tel.Set(func(sample *Sample) { sample.GuidingActive = false })
	eng := newTestEngine(t, s, tel)

	seq, root := buildTree(t)
	recovery := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeRecovery, Enabled: true,
		Recovery: &sequence.RecoverySpec{
			Action:  sequence.RecoverContinue,
			Trigger: sequence.TriggerGuidingFailed,
		},
	})
	add(t, seq, recovery, &sequence.Node{ID: uuid.New(), Type: sequence.TypeDelay, Enabled: true,
		Wait: &sequence.WaitSpec{DelaySecs: 30}})

	start := time.Now()
	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	// The trigger must have cut the 30 s delay short.
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSuccess, r.NodeStatus(recovery.ID))
}

func TestParallelRequiredSuccessesCancelsSiblings(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	par := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeParallel, Enabled: true,
		Parallel: &sequence.ParallelSpec{RequiredSuccesses: 1},
	})
	fast := add(t, seq, par, &sequence.Node{ID: uuid.New(), Type: sequence.TypeCoolCamera, Enabled: true,
		Cooling: &sequence.CoolingSpec{TargetCelsius: -10}})
	slow := add(t, seq, par, &sequence.Node{ID: uuid.New(), Type: sequence.TypeDelay, Enabled: true,
		Wait: &sequence.WaitSpec{DelaySecs: 30}})

	start := time.Now()
	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSuccess, r.NodeStatus(par.ID))
	assert.Equal(t, NodeSuccess, r.NodeStatus(fast.ID))
	assert.Equal(t, NodeCancelled, r.NodeStatus(slow.ID))
}

func TestParallelAllChildrenMustSucceedByDefault(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	s.FailOn("camera.cool", errors.New("cooler fault"))
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	par := add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeParallel, Enabled: true})
	add(t, seq, par, &sequence.Node{ID: uuid.New(), Type: sequence.TypeCoolCamera, Enabled: true})
	add(t, seq, par, &sequence.Node{ID: uuid.New(), Type: sequence.TypeUnpark, Enabled: true})

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	err = waitRun(t, r)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooler fault")
	assert.Equal(t, StateFailed, r.Progress().State)
	assert.Equal(t, NodeFailure, r.NodeStatus(par.ID))
}

func TestParallelExposuresSerializeOnCamera(t *testing.T) {
	s := sim.New()
	s.Latency = 20 * time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	par := add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeParallel, Enabled: true})
	add(t, seq, par, exposureOf(10, 1))
	add(t, seq, par, exposureOf(10, 1))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, 2, s.OpCount("camera.expose"))
	// The camera capability lock keeps concurrent exposures mutually exclusive.
	assert.Equal(t, 1, s.MaxConcurrent("camera.expose"))
}

func TestConditionalFalseSkipsSubtree(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	tel := NewFakeTelemetry()
	tel.Set(func(sample *Sample) { sample.WeatherSafe = false })
	eng := newTestEngine(t, s, tel)

	seq, root := buildTree(t)
	cond := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeConditional, Enabled: true,
		Condition: &sequence.ConditionSpec{Kind: sequence.CondWeatherSafe},
	})
	guarded := add(t, seq, cond, exposureOf(60, 3))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSkipped, r.NodeStatus(cond.ID))
	assert.Equal(t, NodeSkipped, r.NodeStatus(guarded.ID))
	assert.Zero(t, s.OpCount("camera.expose"))
}

func TestDisabledNodeIsSkipped(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	disabled := exposureOf(60, 5)
	disabled.Enabled = false
	add(t, seq, root, disabled)
	add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeUnpark, Enabled: true})

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, NodeSkipped, r.NodeStatus(disabled.ID))
	assert.Zero(t, s.OpCount("camera.expose"))
	assert.Equal(t, 1, s.OpCount("mount.unpark"))
}

func TestLoopCountRepeatsChildren(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	loop := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeLoop, Enabled: true,
		Loop: &sequence.LoopSpec{Condition: sequence.LoopCount, RepeatCount: 3},
	})
	add(t, seq, loop, exposureOf(10, 1))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, 3, s.OpCount("camera.expose"))
	assert.Equal(t, NodeSuccess, r.NodeStatus(loop.ID))
}

func TestLoopWhileDarkStopsWhenDawnArrives(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	tel := NewFakeTelemetry()
	eng := newTestEngine(t, s, tel)

	seq, root := buildTree(t)
	loop := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeLoop, Enabled: true,
		Loop: &sequence.LoopSpec{Condition: sequence.LoopWhileDark},
	})
	add(t, seq, loop, exposureOf(10, 1))

	go func() {
		time.Sleep(30 * time.Millisecond)
		tel.Set(func(sample *Sample) { sample.Dark = false })
	}()

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.GreaterOrEqual(t, s.OpCount("camera.expose"), 1)
	assert.Equal(t, NodeSuccess, r.NodeStatus(loop.ID))
}

func TestStopSettlesAsStopped(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeDelay, Enabled: true,
		Wait: &sequence.WaitSpec{DelaySecs: 30}})
	pending := add(t, seq, root, exposureOf(60, 10))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	r.Stop()
	err = waitRun(t, r)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, r.Progress().State)
	assert.Equal(t, NodeCancelled, r.NodeStatus(pending.ID))
	assert.Zero(t, s.OpCount("camera.expose"))
}

func TestStopIsIdempotent(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeDelay, Enabled: true,
		Wait: &sequence.WaitSpec{DelaySecs: 30}})

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)

	r.Stop()
	r.Stop()
	r.Stop()
	waitRun(t, r)
	assert.Equal(t, StateStopped, r.Progress().State)
}

func TestStopMidExposureAbortsCameraAndSettlesFailed(t *testing.T) {
	s := sim.New()
	s.Latency = 200 * time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	exp := add(t, seq, root, exposureOf(60, 1))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)

	// Let the frame actually start before stopping.
	require.Eventually(t, func() bool { return s.OpCount("camera.expose") == 1 },
		time.Second, time.Millisecond)
	r.Stop()
	err = waitRun(t, r)

	require.Error(t, err)
	snap := r.Progress()
	assert.Equal(t, StateFailed, snap.State)
	assert.Contains(t, snap.Message, "mid-operation")
	assert.Equal(t, NodeCancelled, r.NodeStatus(exp.ID))
	// The interrupted frame gets a hardware abort, not just a dropped call.
	assert.Equal(t, 1, s.OpCount("camera.abort"))
}

func TestLongInstructionPublishesHeartbeats(t *testing.T) {
	s := sim.New()
	s.Latency = 120 * time.Millisecond
	eng := newTestEngine(t, s, nil)
	pub := &capturePublisher{}

	seq, root := buildTree(t)
	exp := add(t, seq, root, exposureOf(60, 1))

	r, err := eng.Start(context.Background(), seq, pub)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	running := 0
	for _, p := range pub.all() {
		if p.CurrentNodeID != nil && *p.CurrentNodeID == exp.ID && p.CurrentNodeStatus == NodeRunning {
			running++
		}
	}
	// One snapshot from the status transition; the rest are heartbeats
	// published while the 120 ms frame was in flight.
	assert.GreaterOrEqual(t, running, 3)
}

func TestParallelTargetsKeepTheirOwnScope(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	tel := NewFakeTelemetry()
	tel.Set(func(sample *Sample) { sample.TargetAltitudeDeg = 40 })
	eng := newTestEngine(t, s, tel)

	seq, root := buildTree(t)
	par := add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeParallel, Enabled: true})

	reachable := 30.0
	unreachable := 60.0
	east := add(t, seq, par, &sequence.Node{
		ID: uuid.New(), Name: "east target", Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: 2, DecDegrees: 10, MinAltitudeDeg: &reachable},
	})
	west := add(t, seq, par, &sequence.Node{
		ID: uuid.New(), Name: "west target", Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: 14, DecDegrees: -20, MinAltitudeDeg: &unreachable},
	})
	eastExp := add(t, seq, east, exposureOf(10, 1))
	westExp := add(t, seq, west, exposureOf(10, 1))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	// Each branch evaluates its own target scope: the east target runs,
	// the west one is below its minimum altitude and skips its subtree.
	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSuccess, r.NodeStatus(east.ID))
	assert.Equal(t, NodeSuccess, r.NodeStatus(eastExp.ID))
	assert.Equal(t, NodeSkipped, r.NodeStatus(west.ID))
	assert.Equal(t, NodeSkipped, r.NodeStatus(westExp.ID))
	assert.Equal(t, 1, s.OpCount("camera.expose"))
}

func TestPauseHoldsAtNodeBoundary(t *testing.T) {
	s := sim.New()
	s.Latency = 5 * time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	for i := 0; i < 40; i++ {
		add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeUnpark, Enabled: true})
	}

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)
	r.Pause()

	// The in-flight instruction may finish; afterwards the count holds.
	time.Sleep(30 * time.Millisecond)
	held := s.OpCount("mount.unpark")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, held, s.OpCount("mount.unpark"))
	assert.Equal(t, StatePaused, r.Progress().State)

	r.Resume()
	require.NoError(t, waitRun(t, r))
	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, 40, s.OpCount("mount.unpark"))
}

func TestDitherEveryNFramesSkipsTrailingDither(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	exp := exposureOf(10, 5)
	exp.Exposure.DitherEvery = 2
	add(t, seq, root, exp)

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, 5, s.OpCount("camera.expose"))
	// Dither after frames 2 and 4; frame 5 is the last, no trailing dither.
	assert.Equal(t, 2, s.OpCount("guider.dither"))
}

func TestProgressCountersStayMonotonic(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)
	pub := &capturePublisher{}

	seq, root := buildTree(t)
	loop := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Type: sequence.TypeLoop, Enabled: true,
		Loop: &sequence.LoopSpec{Condition: sequence.LoopCount, RepeatCount: 2},
	})
	add(t, seq, loop, exposureOf(30, 2))

	r, err := eng.Start(context.Background(), seq, pub)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	snaps := pub.all()
	require.NotEmpty(t, snaps)

	prevExposures := 0
	prevIntegration := 0.0
	for _, p := range snaps {
		assert.LessOrEqual(t, p.CompletedExposures, p.TotalExposures)
		assert.LessOrEqual(t, p.CompletedIntegrationSecs, p.TotalIntegrationSecs)
		assert.GreaterOrEqual(t, p.CompletedExposures, prevExposures)
		assert.GreaterOrEqual(t, p.CompletedIntegrationSecs, prevIntegration)
		prevExposures = p.CompletedExposures
		prevIntegration = p.CompletedIntegrationSecs
	}

	final := snaps[len(snaps)-1]
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 4, final.CompletedExposures)
	assert.Equal(t, 120.0, final.CompletedIntegrationSecs)
}

func TestTargetBelowMinimumAltitudeIsSkipped(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	tel := NewFakeTelemetry()
	tel.Set(func(sample *Sample) { sample.TargetAltitudeDeg = 15 })
	eng := newTestEngine(t, s, tel)

	seq, root := buildTree(t)
	minAlt := 30.0
	target := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Name: "low target", Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: 3, DecDegrees: 10, MinAltitudeDeg: &minAlt},
	})
	add(t, seq, target, exposureOf(60, 2))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, StateCompleted, r.Progress().State)
	assert.Equal(t, NodeSkipped, r.NodeStatus(target.ID))
	assert.Zero(t, s.OpCount("camera.expose"))
}

func TestExpiredTargetWindowIsSkipped(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	endBy := time.Now().Add(-time.Hour)
	target := add(t, seq, root, &sequence.Node{
		ID: uuid.New(), Name: "expired", Type: sequence.TypeTargetHeader, Enabled: true,
		Target: &sequence.TargetSpec{RAHours: 3, DecDegrees: 10, EndBy: &endBy},
	})
	add(t, seq, target, exposureOf(60, 2))

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, NodeSkipped, r.NodeStatus(target.ID))
	assert.Zero(t, s.OpCount("camera.expose"))
}

func TestAutofocusRecordsHFR(t *testing.T) {
	s := sim.New()
	s.Latency = time.Millisecond
	eng := newTestEngine(t, s, nil)

	seq, root := buildTree(t)
	add(t, seq, root, &sequence.Node{ID: uuid.New(), Type: sequence.TypeAutofocus, Enabled: true})

	r, err := eng.Start(context.Background(), seq, nil)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, r))

	assert.Equal(t, 2.1, r.LastHFR())
}

func ptr(f float64) *float64 { return &f }
