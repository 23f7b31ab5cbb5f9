// Package sim provides an in-memory device simulator implementing every
// capability interface. It backs the engine's simulation mode and the unit
// tests, with configurable latencies and scripted failures.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/astrokit/sequencer/common/devices"
)

// Simulator implements devices.Registry and every capability interface
type Simulator struct {
	// Latency applied to every simulated operation.
	Latency time.Duration

	mu           sync.Mutex
	disconnected map[devices.DeviceType]bool
	failures     map[string]error
	ops          []string
	active       map[string]int
	maxActive    map[string]int
}

// New creates a simulator with every device connected and a small
// per-operation latency
func New() *Simulator {
	return &Simulator{
		Latency:      10 * time.Millisecond,
		disconnected: make(map[devices.DeviceType]bool),
		failures:     make(map[string]error),
		active:       make(map[string]int),
		maxActive:    make(map[string]int),
	}
}

// Hub returns a capability hub backed entirely by the simulator
func (s *Simulator) Hub() devices.Hub {
	return devices.Hub{
		Registry:    s,
		Mount:       s,
		Camera:      cameraShim{s},
		Focuser:     s,
		FilterWheel: s,
		Guider:      s,
		Rotator:     s,
		Dome:        domeShim{s},
	}
}

// domeShim adapts the simulator to devices.DomeControl; the mount already
// claims the Park method name on the shared receiver
type domeShim struct {
	s *Simulator
}

func (d domeShim) OpenShutter(ctx context.Context) error  { return d.s.OpenShutter(ctx) }
func (d domeShim) CloseShutter(ctx context.Context) error { return d.s.CloseShutter(ctx) }
func (d domeShim) Park(ctx context.Context) error         { return d.s.ParkDome(ctx) }

// cameraShim adapts the simulator to devices.CameraControl; the mount
// already claims the Abort method name on the shared receiver
type cameraShim struct {
	s *Simulator
}

func (c cameraShim) Expose(ctx context.Context, p devices.ExposureParams, progress func(float64)) error {
	return c.s.Expose(ctx, p, progress)
}
func (c cameraShim) Cool(ctx context.Context, t float64) error { return c.s.Cool(ctx, t) }
func (c cameraShim) Warm(ctx context.Context) error            { return c.s.Warm(ctx) }
func (c cameraShim) Abort(ctx context.Context) error           { return c.s.AbortExposure(ctx) }

// FailOn scripts a failure for the named operation (e.g. "camera.expose")
func (s *Simulator) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// ClearFailure removes a scripted failure
func (s *Simulator) ClearFailure(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

// SetConnected marks a device connected or disconnected in the registry view
func (s *Simulator) SetConnected(d devices.DeviceType, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected[d] = !connected
}

// Ops returns the recorded operation log in invocation order
func (s *Simulator) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// OpCount returns how many times the named operation was invoked
func (s *Simulator) OpCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.ops {
		if o == op {
			n++
		}
	}
	return n
}

// MaxConcurrent returns the peak number of simultaneous invocations of the
// named operation observed so far
func (s *Simulator) MaxConcurrent(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive[op]
}

// run records an operation, applies latency, and returns any scripted failure
func (s *Simulator) run(ctx context.Context, op string) error {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.active[op]++
	if s.active[op] > s.maxActive[op] {
		s.maxActive[op] = s.active[op]
	}
	latency := s.Latency
	failure := s.failures[op]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active[op]--
		s.mu.Unlock()
	}()

	if err := wait(ctx, latency); err != nil {
		return err
	}

	return failure
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Registry

func (s *Simulator) ConnectedDevices(ctx context.Context) devices.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := devices.Snapshot{Connected: make(map[devices.DeviceType]bool)}
	for _, d := range devices.AllDeviceTypes {
		if !s.disconnected[d] {
			snapshot.Connected[d] = true
		}
	}
	return snapshot
}

func (s *Simulator) GuiderConnected(ctx context.Context) bool {
	return s.ConnectedDevices(ctx).IsConnected(devices.Guider)
}

// Mount

func (s *Simulator) SlewTo(ctx context.Context, raHours, decDegrees float64) error {
	return s.run(ctx, "mount.slew")
}

func (s *Simulator) CenterOn(ctx context.Context, raHours, decDegrees float64) error {
	return s.run(ctx, "mount.center")
}

func (s *Simulator) MeridianFlip(ctx context.Context) error {
	return s.run(ctx, "mount.meridianFlip")
}

func (s *Simulator) Park(ctx context.Context) error {
	return s.run(ctx, "mount.park")
}

func (s *Simulator) Unpark(ctx context.Context) error {
	return s.run(ctx, "mount.unpark")
}

func (s *Simulator) Abort(ctx context.Context) error {
	return s.run(ctx, "mount.abort")
}

// Camera

func (s *Simulator) Expose(ctx context.Context, p devices.ExposureParams, progress func(float64)) error {
	if err := s.run(ctx, "camera.expose"); err != nil {
		return err
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

func (s *Simulator) Cool(ctx context.Context, targetCelsius float64) error {
	return s.run(ctx, "camera.cool")
}

func (s *Simulator) Warm(ctx context.Context) error {
	return s.run(ctx, "camera.warm")
}

// AbortExposure stops an in-flight exposure
func (s *Simulator) AbortExposure(ctx context.Context) error {
	return s.run(ctx, "camera.abort")
}

// Focuser

func (s *Simulator) AutoFocus(ctx context.Context, progress func(float64, string)) (float64, error) {
	if progress != nil {
		progress(0.5, "sweeping focus positions")
	}
	if err := s.run(ctx, "focuser.autofocus"); err != nil {
		return 0, err
	}
	if progress != nil {
		progress(1, "focus converged")
	}
	return 2.1, nil
}

// Filter wheel

func (s *Simulator) SetFilter(ctx context.Context, name string) error {
	return s.run(ctx, "filterWheel.set")
}

// Guider

func (s *Simulator) StartGuiding(ctx context.Context, settleTimeout time.Duration) error {
	return s.run(ctx, "guider.start")
}

func (s *Simulator) StopGuiding(ctx context.Context) error {
	return s.run(ctx, "guider.stop")
}

func (s *Simulator) Dither(ctx context.Context, amountPixels float64, settleTimeout time.Duration) error {
	return s.run(ctx, "guider.dither")
}

// Rotator

func (s *Simulator) MoveTo(ctx context.Context, angleDegrees float64) error {
	return s.run(ctx, "rotator.move")
}

// Dome

func (s *Simulator) OpenShutter(ctx context.Context) error {
	return s.run(ctx, "dome.open")
}

func (s *Simulator) CloseShutter(ctx context.Context) error {
	return s.run(ctx, "dome.close")
}

// ParkDome parks the dome
func (s *Simulator) ParkDome(ctx context.Context) error {
	return s.run(ctx, "dome.park")
}
