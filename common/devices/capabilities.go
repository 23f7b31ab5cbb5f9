package devices

import (
	"context"
	"time"
)

// MountControl drives the telescope mount
type MountControl interface {
	// SlewTo points the mount at the given equatorial coordinates.
	// RA in hours [0,24), Dec in degrees [-90,90].
	SlewTo(ctx context.Context, raHours, decDegrees float64) error
	// CenterOn slews and plate-solves until the target is centered.
	CenterOn(ctx context.Context, raHours, decDegrees float64) error
	MeridianFlip(ctx context.Context) error
	Park(ctx context.Context) error
	Unpark(ctx context.Context) error
	// Abort stops any in-flight slew. Used during run cancellation.
	Abort(ctx context.Context) error
}

// ExposureParams describes one camera exposure
type ExposureParams struct {
	Duration time.Duration
	Binning  int
	Gain     int
	Filter   string
}

// CameraControl drives the imaging camera
type CameraControl interface {
	// Expose blocks until the frame is captured and downloaded,
	// reporting fractional progress through the callback (may be nil).
	Expose(ctx context.Context, p ExposureParams, progress func(float64)) error
	Cool(ctx context.Context, targetCelsius float64) error
	Warm(ctx context.Context) error
	Abort(ctx context.Context) error
}

// FocuserControl drives the focuser
type FocuserControl interface {
	// AutoFocus runs a focus sweep and returns the achieved HFR.
	AutoFocus(ctx context.Context, progress func(float64, string)) (hfr float64, err error)
}

// FilterWheelControl drives the filter wheel
type FilterWheelControl interface {
	SetFilter(ctx context.Context, name string) error
}

// GuiderControl drives the guiding subsystem
type GuiderControl interface {
	StartGuiding(ctx context.Context, settleTimeout time.Duration) error
	StopGuiding(ctx context.Context) error
	// Dither applies a small pointing offset and waits for settle.
	Dither(ctx context.Context, amountPixels float64, settleTimeout time.Duration) error
}

// RotatorControl drives the field rotator
type RotatorControl interface {
	MoveTo(ctx context.Context, angleDegrees float64) error
}

// DomeControl drives the dome
type DomeControl interface {
	OpenShutter(ctx context.Context) error
	CloseShutter(ctx context.Context) error
	Park(ctx context.Context) error
}

// Hub bundles every capability the execution engine can dispatch to
// Nil members are legal; dispatching an instruction to a nil capability is a
// node failure, caught earlier by preflight validation in a normal run
type Hub struct {
	Registry    Registry
	Mount       MountControl
	Camera      CameraControl
	Focuser     FocuserControl
	FilterWheel FilterWheelControl
	Guider      GuiderControl
	Rotator     RotatorControl
	Dome        DomeControl
}
