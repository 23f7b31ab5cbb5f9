package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/sequence"
)

// errSkipTarget aborts the current target subtree without failing the run
var errSkipTarget = errors.New("skip current target")

// errRunAborted ends the whole run after a parkAndAbort recovery
var errRunAborted = errors.New("run aborted by recovery policy")

// execution carries the per-run walk state
type execution struct {
	run  *Run
	eng  *Engine
	seq  *sequence.Sequence
	caps *capabilitySet

	// currentTarget is the spec of the enclosing target header. Parallel
	// branches walk on their own shallow copy of the execution, so a target
	// header nested under a Parallel node never races its siblings.
	currentTarget *sequence.TargetSpec
}

// execNode executes one node and its subtree. Containers recurse;
// instructions dispatch to a device handler.
func (x *execution) execNode(ctx context.Context, n *sequence.Node) error {
	if err := x.run.waitIfPaused(ctx); err != nil {
		return err
	}
	if !n.Enabled {
		x.run.markSubtree(n, NodeSkipped)
		return nil
	}

	switch n.Type {
	case sequence.TypeTargetHeader:
		return x.execTarget(ctx, n)
	case sequence.TypeInstructionSet:
		return x.execSequential(ctx, n)
	case sequence.TypeLoop:
		return x.execLoop(ctx, n)
	case sequence.TypeConditional:
		return x.execConditional(ctx, n)
	case sequence.TypeParallel:
		return x.execParallel(ctx, n)
	case sequence.TypeRecovery:
		return x.execRecovery(ctx, n)
	default:
		return x.dispatch(ctx, n)
	}
}

// execSequential runs children in order-index order, failing fast
func (x *execution) execSequential(ctx context.Context, n *sequence.Node) error {
	x.run.setStatus(n, NodeRunning)
	for _, c := range x.seq.Children(n) {
		if err := x.execNode(ctx, c); err != nil {
			x.run.setStatus(n, NodeFailure)
			return err
		}
	}
	x.run.setStatus(n, NodeSuccess)
	return nil
}

// execTarget runs one target header: honors its timing window and minimum
// altitude, then executes children sequentially
func (x *execution) execTarget(ctx context.Context, n *sequence.Node) error {
	spec := n.Target
	x.currentTarget = spec

	if spec != nil {
		if spec.EndBy != nil && time.Now().After(*spec.EndBy) {
			x.eng.log.Warn("target window already closed, skipping", "target", n.Name)
			x.run.markSubtree(n, NodeSkipped)
			return nil
		}
		if spec.StartAfter != nil {
			if err := x.waitUntil(ctx, *spec.StartAfter); err != nil {
				return err
			}
		}
		if spec.MinAltitudeDeg != nil {
			sample := x.eng.telemetry.Sample(ctx, spec)
			if sample.TargetAltitudeDeg < *spec.MinAltitudeDeg {
				x.eng.log.Warn("target below minimum altitude, skipping",
					"target", n.Name,
					"altitude_deg", sample.TargetAltitudeDeg,
					"min_altitude_deg", *spec.MinAltitudeDeg,
				)
				x.run.markSubtree(n, NodeSkipped)
				return nil
			}
		}
	}

	x.run.setStatus(n, NodeRunning)
	for _, c := range x.seq.Children(n) {
		if spec != nil && spec.EndBy != nil && time.Now().After(*spec.EndBy) {
			x.eng.log.Info("target window closed mid-target", "target", n.Name)
			x.run.markSubtree(c, NodeSkipped)
			continue
		}
		if err := x.execNode(ctx, c); err != nil {
			if errors.Is(err, errSkipTarget) {
				x.run.markSubtree(n, NodeSkipped)
				return errSkipTarget
			}
			x.run.setStatus(n, NodeFailure)
			return err
		}
	}
	x.run.setStatus(n, NodeSuccess)
	return nil
}

// execLoop re-evaluates the loop condition before every iteration against
// live telemetry, never against values cached at loop entry
func (x *execution) execLoop(ctx context.Context, n *sequence.Node) error {
	x.run.setStatus(n, NodeRunning)
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			x.run.setStatus(n, NodeCancelled)
			return err
		}
		more, err := x.loopContinues(ctx, n.Loop, iteration)
		if err != nil {
			x.run.setStatus(n, NodeFailure)
			return fmt.Errorf("loop %q: %w", n.Name, err)
		}
		if !more {
			break
		}
		for _, c := range x.seq.Children(n) {
			if err := x.execNode(ctx, c); err != nil {
				x.run.setStatus(n, NodeFailure)
				return err
			}
		}
	}
	x.run.setStatus(n, NodeSuccess)
	return nil
}

func (x *execution) loopContinues(ctx context.Context, spec *sequence.LoopSpec, iteration int) (bool, error) {
	if spec == nil {
		// A loop without a spec degenerates to a single pass.
		return iteration == 0, nil
	}

	switch spec.Condition {
	case sequence.LoopCount:
		return iteration < spec.RepeatCount, nil
	case sequence.LoopUntilTime:
		if spec.RepeatUntil == nil {
			return iteration == 0, nil
		}
		return time.Now().Before(*spec.RepeatUntil), nil
	case sequence.LoopForever:
		return true, nil
	case sequence.LoopWhileDark:
		sample := x.eng.telemetry.Sample(ctx, x.currentTarget)
		return sample.Dark, nil
	case sequence.LoopUntilAltitude:
		sample := x.eng.telemetry.Sample(ctx, x.currentTarget)
		return sample.TargetAltitudeDeg > spec.MinAltitudeDeg, nil
	default:
		return false, fmt.Errorf("unknown loop condition: %s", spec.Condition)
	}
}

// execConditional samples telemetry once at entry; a false condition marks
// the whole subtree skipped
func (x *execution) execConditional(ctx context.Context, n *sequence.Node) error {
	sample := x.eng.telemetry.Sample(ctx, x.currentTarget)
	pass, err := x.eng.conditions.Eval(n.Condition, sample, time.Now())
	if err != nil {
		x.run.setStatus(n, NodeFailure)
		return fmt.Errorf("conditional %q: %w", n.Name, err)
	}
	if !pass {
		x.eng.log.Debug("condition false, skipping subtree", "node", n.Name)
		x.run.markSubtree(n, NodeSkipped)
		return nil
	}
	return x.execSequential(ctx, n)
}

// execParallel fans children out concurrently. With RequiredSuccesses > 0
// the node completes as soon as that many children succeed and cancels the
// rest; otherwise every child must succeed.
func (x *execution) execParallel(ctx context.Context, n *sequence.Node) error {
	children := x.seq.Children(n)
	if len(children) == 0 {
		x.run.setStatus(n, NodeSuccess)
		return nil
	}

	threshold := len(children)
	if n.Parallel != nil && n.Parallel.RequiredSuccesses > 0 && n.Parallel.RequiredSuccesses < threshold {
		threshold = n.Parallel.RequiredSuccesses
	}

	x.run.setStatus(n, NodeRunning)

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(children))
	for _, c := range children {
		child := c
		branch := *x // per-branch walk state; caps and run stay shared
		go func() {
			results <- branch.execNode(childCtx, child)
		}()
	}

	successes, failures := 0, 0
	var firstErr error
	for i := 0; i < len(children); i++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case errors.Is(err, context.Canceled) && ctx.Err() == nil:
			// Cancelled by us after the threshold was met; not a failure.
		default:
			failures++
			if firstErr == nil {
				firstErr = err
			}
		}

		if successes >= threshold {
			// Threshold met: in-flight siblings are cancelled, not failed.
			cancel()
		}
		if len(children)-failures < threshold {
			cancel()
		}
	}

	if err := ctx.Err(); err != nil {
		x.run.setStatus(n, NodeCancelled)
		return err
	}
	if successes >= threshold {
		x.run.setStatus(n, NodeSuccess)
		return nil
	}
	x.run.setStatus(n, NodeFailure)
	if firstErr != nil {
		return fmt.Errorf("parallel %q: %w", n.Name, firstErr)
	}
	return fmt.Errorf("parallel %q: required %d successes, got %d", n.Name, threshold, successes)
}

// execRecovery runs its children as a protected body. A body failure, or a
// proactive trigger firing mid-body, applies the configured recovery
// action. Retry re-runs the body with exponential backoff.
func (x *execution) execRecovery(ctx context.Context, n *sequence.Node) error {
	spec := n.Recovery
	if spec == nil {
		return x.execSequential(ctx, n)
	}

	x.run.setStatus(n, NodeRunning)

	maxAttempts := 1
	if spec.Action == sequence.RecoverRetry {
		maxAttempts = 1 + spec.MaxRetries
	}

	var bodyErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := x.retryBackoff(ctx, attempt); err != nil {
				x.run.setStatus(n, NodeCancelled)
				return err
			}
			x.eng.log.Info("retrying recovery body",
				"node", n.Name,
				"attempt", attempt,
				"max_retries", spec.MaxRetries,
			)
		}
		bodyErr = x.runRecoveryBody(ctx, n, spec)
		if bodyErr == nil {
			x.run.setStatus(n, NodeSuccess)
			return nil
		}
		if ctx.Err() != nil {
			x.run.setStatus(n, NodeCancelled)
			return ctx.Err()
		}
	}

	return x.applyRecoveryAction(ctx, n, spec, bodyErr)
}

// runRecoveryBody executes the children under a trigger watch. A fired
// trigger cancels the body and surfaces as an error.
func (x *execution) runRecoveryBody(ctx context.Context, n *sequence.Node, spec *sequence.RecoverySpec) error {
	bodyCtx := ctx
	var cancelBody context.CancelFunc
	var triggered chan TriggerKindFired

	if spec.Trigger != sequence.TriggerNone {
		bodyCtx, cancelBody = context.WithCancel(ctx)
		defer cancelBody()
		triggered = make(chan TriggerKindFired, 1)

		watchDone := make(chan struct{})
		defer close(watchDone)
		go x.watchTrigger(bodyCtx, spec, triggered, watchDone, cancelBody)
	}

	var bodyErr error
	for _, c := range x.seq.Children(n) {
		if bodyErr = x.execNode(bodyCtx, c); bodyErr != nil {
			break
		}
	}

	if triggered != nil {
		select {
		case fired := <-triggered:
			x.eng.log.Warn("recovery trigger fired",
				"node", n.Name,
				"trigger", string(fired.Kind),
				"value", fired.Value,
			)
			if bodyErr == nil {
				bodyErr = fmt.Errorf("trigger %s fired", fired.Kind)
			} else {
				bodyErr = fmt.Errorf("trigger %s fired: %w", fired.Kind, bodyErr)
			}
		default:
		}
	}

	return bodyErr
}

// TriggerKindFired reports which proactive trigger fired and its value
type TriggerKindFired struct {
	Kind  sequence.TriggerKind
	Value float64
}

// watchTrigger polls telemetry and cancels the recovery body when the
// configured trigger condition is met
func (x *execution) watchTrigger(ctx context.Context, spec *sequence.RecoverySpec, fired chan<- TriggerKindFired, done <-chan struct{}, cancelBody context.CancelFunc) {
	ticker := time.NewTicker(x.eng.cfg.TriggerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		sample := x.eng.telemetry.Sample(ctx, x.currentTarget)
		hit, value := triggerHit(spec, sample)
		if !hit {
			continue
		}
		select {
		case fired <- TriggerKindFired{Kind: spec.Trigger, Value: value}:
		default:
		}
		cancelBody()
		return
	}
}

func triggerHit(spec *sequence.RecoverySpec, sample Sample) (bool, float64) {
	switch spec.Trigger {
	case sequence.TriggerHFRDegraded:
		return sample.HFR > 0 && spec.TriggerThreshold > 0 && sample.HFR > spec.TriggerThreshold, sample.HFR
	case sequence.TriggerMeridianFlipDue:
		// Threshold is the warning margin in hours before the crossing.
		return sample.HoursToMeridian <= spec.TriggerThreshold, sample.HoursToMeridian
	case sequence.TriggerGuidingFailed:
		return !sample.GuidingActive, 0
	default:
		return false, 0
	}
}

// applyRecoveryAction handles a body that stayed failed after any retries
func (x *execution) applyRecoveryAction(ctx context.Context, n *sequence.Node, spec *sequence.RecoverySpec, bodyErr error) error {
	log := x.eng.log

	switch spec.Action {
	case sequence.RecoverContinue:
		log.Warn("recovery: continuing past failure", "node", n.Name, "error", bodyErr)
		x.run.setStatus(n, NodeSuccess)
		return nil

	case sequence.RecoverPause:
		log.Warn("recovery: pausing run for operator", "node", n.Name, "error", bodyErr)
		x.run.tracker.SetMessage("paused by recovery: " + bodyErr.Error())
		x.run.Pause()
		if err := x.run.waitIfPaused(ctx); err != nil {
			x.run.setStatus(n, NodeCancelled)
			return err
		}
		x.run.setStatus(n, NodeSuccess)
		return nil

	case sequence.RecoverAutofocus:
		log.Warn("recovery: forcing autofocus and re-running", "node", n.Name, "error", bodyErr)
		if err := x.forceAutofocus(ctx, n); err != nil {
			x.run.setStatus(n, NodeFailure)
			return fmt.Errorf("recovery autofocus: %w", err)
		}
		if err := x.runRecoveryBody(ctx, n, spec); err != nil {
			x.run.setStatus(n, NodeFailure)
			return err
		}
		x.run.setStatus(n, NodeSuccess)
		return nil

	case sequence.RecoverSkipTarget:
		log.Warn("recovery: skipping target", "node", n.Name, "error", bodyErr)
		x.run.setStatus(n, NodeSkipped)
		return errSkipTarget

	case sequence.RecoverRetry:
		x.run.setStatus(n, NodeFailure)
		return fmt.Errorf("recovery %q: retries exhausted: %w", n.Name, bodyErr)

	case sequence.RecoverParkAndAbort:
		log.Error("recovery: parking and aborting run", "node", n.Name, "error", bodyErr)
		x.parkEverything(ctx)
		x.run.setStatus(n, NodeFailure)
		return fmt.Errorf("%w: %s", errRunAborted, bodyErr.Error())

	case sequence.RecoverBranch:
		if spec.BranchID == nil {
			x.run.setStatus(n, NodeFailure)
			return fmt.Errorf("recovery %q: branch action without branch node", n.Name)
		}
		branch, ok := x.seq.Node(*spec.BranchID)
		if !ok {
			x.run.setStatus(n, NodeFailure)
			return fmt.Errorf("recovery %q: branch node %s not found", n.Name, spec.BranchID)
		}
		log.Warn("recovery: taking branch", "node", n.Name, "branch", branch.Name, "error", bodyErr)
		if err := x.execNode(ctx, branch); err != nil {
			x.run.setStatus(n, NodeFailure)
			return err
		}
		x.run.setStatus(n, NodeSuccess)
		return nil

	default:
		x.run.setStatus(n, NodeFailure)
		return fmt.Errorf("recovery %q: unknown action %q", n.Name, spec.Action)
	}
}

// forceAutofocus runs an immediate focus sweep outside any Autofocus node
func (x *execution) forceAutofocus(ctx context.Context, n *sequence.Node) error {
	if x.eng.hub.Focuser == nil {
		return errors.New("no focuser available")
	}
	release, err := x.caps.acquire(ctx, sequence.RequiredDevices(sequence.TypeAutofocus))
	if err != nil {
		return err
	}
	defer release()

	afCtx, cancel := context.WithTimeout(ctx, x.eng.cfg.AutofocusTimeout)
	defer cancel()

	hfr, err := x.eng.hub.Focuser.AutoFocus(afCtx, func(frac float64, detail string) {
		x.run.tracker.SetNodeProgress(n.ID, frac, detail)
	})
	if err != nil {
		return err
	}
	x.run.storeHFR(hfr)
	return nil
}

// parkEverything is the best-effort shutdown used by parkAndAbort: close
// the dome first, then park the mount. Errors are logged, not propagated;
// the run is aborting regardless.
func (x *execution) parkEverything(ctx context.Context) {
	// The run context may already be cancelled; parking must still go out.
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	if x.eng.hub.Guider != nil {
		if err := x.eng.hub.Guider.StopGuiding(parkCtx); err != nil {
			x.eng.log.Error("abort: stop guiding failed", "error", err)
		}
	}
	if x.eng.hub.Dome != nil {
		if err := x.eng.hub.Dome.CloseShutter(parkCtx); err != nil {
			x.eng.log.Error("abort: dome close failed", "error", err)
		}
		if err := x.eng.hub.Dome.Park(parkCtx); err != nil {
			x.eng.log.Error("abort: dome park failed", "error", err)
		}
	}
	if x.eng.hub.Mount != nil {
		if err := x.eng.hub.Mount.Park(parkCtx); err != nil {
			x.eng.log.Error("abort: mount park failed", "error", err)
		}
	}
}

// retryBackoff sleeps the exponential backoff delay for the given attempt
func (x *execution) retryBackoff(ctx context.Context, attempt int) error {
	delay := x.eng.cfg.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= x.eng.cfg.RetryBackoffCap {
			delay = x.eng.cfg.RetryBackoffCap
			break
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitUntil blocks until the wall clock reaches t, polling so that
// cancellation is observed promptly
func (x *execution) waitUntil(ctx context.Context, t time.Time) error {
	for {
		remaining := time.Until(t)
		if remaining <= 0 {
			return nil
		}
		wait := remaining
		if wait > x.eng.cfg.CancelPollInterval {
			wait = x.eng.cfg.CancelPollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// dispatch executes a single instruction node: acquire the node's device
// capabilities, run the handler, classify the result
func (x *execution) dispatch(ctx context.Context, n *sequence.Node) error {
	handler, ok := x.eng.handlers[n.Type]
	if !ok {
		x.run.setStatus(n, NodeFailure)
		return fmt.Errorf("no handler for node type %q", n.Type)
	}

	// Capability locks are taken before the node shows as running, so an
	// observer never sees two running nodes contending for one device.
	release, err := x.caps.acquire(ctx, sequence.RequiredDevices(n.Type))
	if err != nil {
		x.run.setStatus(n, NodeCancelled)
		return err
	}
	defer release()

	x.run.setStatus(n, NodeRunning)

	settled := make(chan struct{})
	go x.instructionHeartbeat(ctx, settled)
	err = handler(ctx, x, n)
	close(settled)

	if err != nil {
		if ctx.Err() != nil {
			if len(sequence.RequiredDevices(n.Type)) > 0 {
				// The handler was cut off while driving hardware: abort the
				// device operation, and a stop arriving here is not a clean
				// boundary, so the run must settle failed, not stopped.
				x.abortInstruction(ctx, n)
				if x.run.stopRequested.Load() {
					x.run.stoppedMidOp.Store(true)
				}
			}
			x.run.setStatus(n, NodeCancelled)
			return ctx.Err()
		}
		x.run.setStatus(n, NodeFailure)
		return fmt.Errorf("%s %q: %w", n.Type, n.Name, err)
	}
	x.run.setStatus(n, NodeSuccess)
	return nil
}

// instructionHeartbeat republishes the progress snapshot at the configured
// interval while a handler is in flight, so listeners see fresh elapsed and
// remaining figures even when the driver reports no progress of its own
func (x *execution) instructionHeartbeat(ctx context.Context, settled <-chan struct{}) {
	ticker := time.NewTicker(x.eng.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-settled:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			x.run.tracker.Touch()
		}
	}
}

// abortInstruction issues a best-effort abort to the abortable devices a
// cancelled instruction was driving, so hardware stops promptly instead of
// finishing a dead frame or slew
func (x *execution) abortInstruction(ctx context.Context, n *sequence.Node) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	for _, d := range sequence.RequiredDevices(n.Type) {
		switch d {
		case devices.Camera:
			if x.eng.hub.Camera != nil {
				if err := x.eng.hub.Camera.Abort(abortCtx); err != nil {
					x.eng.log.Error("abort exposure failed", "node", n.Name, "error", err)
				}
			}
		case devices.Mount:
			if x.eng.hub.Mount != nil {
				if err := x.eng.hub.Mount.Abort(abortCtx); err != nil {
					x.eng.log.Error("abort slew failed", "node", n.Name, "error", err)
				}
			}
		}
	}
}
