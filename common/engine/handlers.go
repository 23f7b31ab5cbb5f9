package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/sequence"
)

// instructionHandler executes one instruction node against the device hub
type instructionHandler func(ctx context.Context, x *execution, n *sequence.Node) error

// instructionHandlers builds the dispatch table. Engine startup verifies
// this covers every instruction type in the taxonomy.
func instructionHandlers() map[sequence.NodeType]instructionHandler {
	return map[sequence.NodeType]instructionHandler{
		sequence.TypeSlew:           execSlew,
		sequence.TypeCenter:         execCenter,
		sequence.TypeExposure:       execExposure,
		sequence.TypeAutofocus:      execAutofocus,
		sequence.TypeDither:         execDither,
		sequence.TypeStartGuiding:   execStartGuiding,
		sequence.TypeStopGuiding:    execStopGuiding,
		sequence.TypeFilterChange:   execFilterChange,
		sequence.TypeCoolCamera:     execCoolCamera,
		sequence.TypeWarmCamera:     execWarmCamera,
		sequence.TypeRotate:         execRotate,
		sequence.TypePark:           execPark,
		sequence.TypeUnpark:         execUnpark,
		sequence.TypeWaitForTime:    execWaitForTime,
		sequence.TypeDelay:          execDelay,
		sequence.TypeNotification:   execNotification,
		sequence.TypeScript:         execScript,
		sequence.TypeMeridianFlip:   execMeridianFlip,
		sequence.TypeOpenDome:       execOpenDome,
		sequence.TypeCloseDome:      execCloseDome,
		sequence.TypeParkDome:       execParkDome,
		sequence.TypePolarAlignment: execPolarAlignment,
	}
}

// coordinates resolves instruction coordinates, falling back to the
// enclosing target header
func (x *execution) coordinates(spec *sequence.SlewSpec) (raHours, decDegrees float64, err error) {
	if spec != nil && spec.RAHours != nil && spec.DecDegrees != nil {
		return *spec.RAHours, *spec.DecDegrees, nil
	}
	if x.currentTarget != nil {
		return x.currentTarget.RAHours, x.currentTarget.DecDegrees, nil
	}
	return 0, 0, errors.New("no coordinates: instruction has none and no enclosing target")
}

func execSlew(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Mount == nil {
		return errors.New("no mount available")
	}
	ra, dec, err := x.coordinates(n.Slew)
	if err != nil {
		return err
	}
	x.eng.log.Info("slewing", "ra_hours", ra, "dec_degrees", dec)
	return x.eng.hub.Mount.SlewTo(ctx, ra, dec)
}

func execCenter(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Mount == nil {
		return errors.New("no mount available")
	}
	ra, dec, err := x.coordinates(n.Slew)
	if err != nil {
		return err
	}
	x.eng.log.Info("centering", "ra_hours", ra, "dec_degrees", dec)
	return x.eng.hub.Mount.CenterOn(ctx, ra, dec)
}

// execExposure captures the configured frame count, advancing the run's
// exposure counters on each completed frame and dithering every N frames
// when configured
func execExposure(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Camera == nil {
		return errors.New("no camera available")
	}
	spec := n.Exposure
	if spec == nil {
		return errors.New("exposure node has no exposure spec")
	}

	params := devices.ExposureParams{
		Duration: time.Duration(spec.DurationSecs * float64(time.Second)),
		Binning:  spec.Binning,
		Gain:     spec.Gain,
		Filter:   spec.Filter,
	}

	for frame := 0; frame < spec.Count; frame++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frameNum := frame
		err := x.eng.hub.Camera.Expose(ctx, params, func(frac float64) {
			overall := (float64(frameNum) + frac) / float64(spec.Count)
			x.run.tracker.SetNodeProgress(n.ID, overall,
				fmt.Sprintf("frame %d/%d", frameNum+1, spec.Count))
		})
		if err != nil {
			return fmt.Errorf("frame %d/%d: %w", frame+1, spec.Count, err)
		}
		x.run.tracker.ExposureCompleted(spec.DurationSecs)

		// Dither between frames, never after the last one.
		if spec.DitherEvery > 0 && (frame+1)%spec.DitherEvery == 0 && frame+1 < spec.Count {
			if x.eng.hub.Guider == nil {
				x.eng.log.Warn("ditherEvery set but no guider available, skipping dither")
				continue
			}
			if err := x.eng.hub.Guider.Dither(ctx, 3, x.eng.cfg.SettleTimeout); err != nil {
				return fmt.Errorf("dither after frame %d: %w", frame+1, err)
			}
		}
	}
	x.run.tracker.SetNodeProgress(n.ID, 1, "")
	return nil
}

func execAutofocus(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Focuser == nil {
		return errors.New("no focuser available")
	}
	afCtx, cancel := context.WithTimeout(ctx, x.eng.cfg.AutofocusTimeout)
	defer cancel()

	hfr, err := x.eng.hub.Focuser.AutoFocus(afCtx, func(frac float64, detail string) {
		x.run.tracker.SetNodeProgress(n.ID, frac, detail)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("autofocus timed out after %s", x.eng.cfg.AutofocusTimeout)
		}
		return err
	}
	x.run.storeHFR(hfr)
	x.eng.log.Info("autofocus complete", "hfr", hfr)
	return nil
}

func execDither(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Guider == nil {
		return errors.New("no guider available")
	}
	amount := 3.0
	if n.Dither != nil && n.Dither.AmountPixels > 0 {
		amount = n.Dither.AmountPixels
	}
	return x.eng.hub.Guider.Dither(ctx, amount, x.eng.cfg.SettleTimeout)
}

func execStartGuiding(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Guider == nil {
		return errors.New("no guider available")
	}
	settle := x.eng.cfg.SettleTimeout
	if n.Guide != nil && n.Guide.SettleTimeoutSecs > 0 {
		settle = time.Duration(n.Guide.SettleTimeoutSecs * float64(time.Second))
	}
	return x.eng.hub.Guider.StartGuiding(ctx, settle)
}

func execStopGuiding(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Guider == nil {
		return errors.New("no guider available")
	}
	return x.eng.hub.Guider.StopGuiding(ctx)
}

func execFilterChange(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.FilterWheel == nil {
		return errors.New("no filter wheel available")
	}
	if n.Filter == nil || n.Filter.Name == "" {
		return errors.New("filter change node has no filter name")
	}
	if err := x.eng.hub.FilterWheel.SetFilter(ctx, n.Filter.Name); err != nil {
		return err
	}
	x.run.tracker.SetFilter(n.Filter.Name)
	return nil
}

func execCoolCamera(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Camera == nil {
		return errors.New("no camera available")
	}
	target := -10.0
	if n.Cooling != nil {
		target = n.Cooling.TargetCelsius
	}
	x.eng.log.Info("cooling camera", "target_celsius", target)
	return x.eng.hub.Camera.Cool(ctx, target)
}

func execWarmCamera(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Camera == nil {
		return errors.New("no camera available")
	}
	return x.eng.hub.Camera.Warm(ctx)
}

func execRotate(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Rotator == nil {
		return errors.New("no rotator available")
	}
	angle := 0.0
	switch {
	case n.Rotator != nil:
		angle = n.Rotator.AngleDegrees
	case x.currentTarget != nil && x.currentTarget.RotationDeg != nil:
		angle = *x.currentTarget.RotationDeg
	default:
		return errors.New("rotate node has no angle and target has no rotation")
	}
	return x.eng.hub.Rotator.MoveTo(ctx, angle)
}

func execPark(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Mount == nil {
		return errors.New("no mount available")
	}
	return x.eng.hub.Mount.Park(ctx)
}

func execUnpark(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Mount == nil {
		return errors.New("no mount available")
	}
	return x.eng.hub.Mount.Unpark(ctx)
}

func execWaitForTime(ctx context.Context, x *execution, n *sequence.Node) error {
	if n.Wait == nil || n.Wait.Until == nil {
		return nil
	}
	until := *n.Wait.Until
	x.eng.log.Info("waiting for time", "until", until.Format(time.RFC3339))
	return x.waitUntil(ctx, until)
}

func execDelay(ctx context.Context, x *execution, n *sequence.Node) error {
	if n.Wait == nil || n.Wait.DelaySecs <= 0 {
		return nil
	}
	return x.waitUntil(ctx, time.Now().Add(time.Duration(n.Wait.DelaySecs*float64(time.Second))))
}

func execNotification(ctx context.Context, x *execution, n *sequence.Node) error {
	msg := n.Name
	if n.Notify != nil && n.Notify.Message != "" {
		msg = n.Notify.Message
	}
	x.eng.log.Info("sequence notification", "message", msg)
	x.run.tracker.SetMessage(msg)
	return nil
}

func execScript(ctx context.Context, x *execution, n *sequence.Node) error {
	spec := n.Script
	if spec == nil || spec.Command == "" {
		return errors.New("script node has no command")
	}

	scriptCtx := ctx
	if spec.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		scriptCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSecs*float64(time.Second)))
		defer cancel()
	}

	cmd := exec.CommandContext(scriptCtx, spec.Command, spec.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if scriptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("script timed out after %.0fs", spec.TimeoutSecs)
		}
		return fmt.Errorf("script failed: %w (output: %s)", err, truncate(string(out), 512))
	}
	x.eng.log.Info("script completed", "command", spec.Command, "output_bytes", len(out))
	return nil
}

func execMeridianFlip(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Mount == nil {
		return errors.New("no mount available")
	}
	// Guiding must stop across a flip; restarted by the sequence, not here.
	if x.eng.hub.Guider != nil {
		if err := x.eng.hub.Guider.StopGuiding(ctx); err != nil {
			x.eng.log.Warn("stop guiding before flip failed", "error", err)
		}
	}
	x.eng.log.Info("performing meridian flip")
	return x.eng.hub.Mount.MeridianFlip(ctx)
}

func execOpenDome(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Dome == nil {
		return errors.New("no dome available")
	}
	return x.eng.hub.Dome.OpenShutter(ctx)
}

func execCloseDome(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Dome == nil {
		return errors.New("no dome available")
	}
	return x.eng.hub.Dome.CloseShutter(ctx)
}

func execParkDome(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Dome == nil {
		return errors.New("no dome available")
	}
	return x.eng.hub.Dome.Park(ctx)
}

// execPolarAlignment runs a three-point sample near the pole: slew, short
// exposure, repeat at hour-angle offsets. The offsets give the solver
// enough field rotation to compute the axis error.
func execPolarAlignment(ctx context.Context, x *execution, n *sequence.Node) error {
	if x.eng.hub.Mount == nil {
		return errors.New("no mount available")
	}
	if x.eng.hub.Camera == nil {
		return errors.New("no camera available")
	}

	baseRA := 0.0
	if x.currentTarget != nil {
		baseRA = x.currentTarget.RAHours
	}
	params := devices.ExposureParams{Duration: 2 * time.Second, Binning: 2}

	offsets := []float64{-0.5, 0, 0.5}
	for i, off := range offsets {
		ra := baseRA + off
		for ra < 0 {
			ra += 24
		}
		for ra >= 24 {
			ra -= 24
		}
		if err := x.eng.hub.Mount.SlewTo(ctx, ra, 89); err != nil {
			return fmt.Errorf("alignment point %d: %w", i+1, err)
		}
		if err := x.eng.hub.Camera.Expose(ctx, params, nil); err != nil {
			return fmt.Errorf("alignment point %d: %w", i+1, err)
		}
		x.run.tracker.SetNodeProgress(n.ID, float64(i+1)/float64(len(offsets)),
			fmt.Sprintf("alignment point %d/%d", i+1, len(offsets)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
