package engine

import (
	"context"
	"sync"
	"time"

	"github.com/astrokit/sequencer/common/astro"
	"github.com/astrokit/sequencer/common/sequence"
)

// Sample is a point-in-time telemetry reading evaluated by conditionals,
// loop conditions and recovery triggers
type Sample struct {
	At                time.Time `json:"at"`
	TargetAltitudeDeg float64   `json:"targetAltitudeDeg"`
	SunAltitudeDeg    float64   `json:"sunAltitudeDeg"`
	Dark              bool      `json:"dark"`
	GuidingRMSArcsec  float64   `json:"guidingRmsArcsec"`
	GuidingActive     bool      `json:"guidingActive"`
	HFR               float64   `json:"hfr"`
	WeatherSafe       bool      `json:"weatherSafe"`
	SafetySafe        bool      `json:"safetySafe"`
	MoonSeparationDeg float64   `json:"moonSeparationDeg"`
	HoursToMeridian   float64   `json:"hoursToMeridian"`
}

// Telemetry provides live sky and guiding state to the engine. Implemented
// by SiteTelemetry in production and by a fake in tests; handed in
// explicitly so engine behavior is deterministic under test.
type Telemetry interface {
	Sample(ctx context.Context, target *sequence.TargetSpec) Sample
}

// GuidingStats is an optional source of live guiding quality
type GuidingStats interface {
	// RMS returns the current total guiding error and whether guiding
	// is active.
	RMS() (arcsec float64, active bool)
}

// FocusStats is an optional source of the latest measured HFR
type FocusStats interface {
	HFR() float64
}

// SafetyInput is an optional weather / safety-monitor source
type SafetyInput interface {
	WeatherSafe() bool
	SafetyMonitorSafe() bool
}

// SiteTelemetry derives sky state from site coordinates and wall-clock
// time, and merges in whatever live sources are wired. Missing sources
// read as safe/zero.
type SiteTelemetry struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	Guiding      GuidingStats
	Focus        FocusStats
	Safety       SafetyInput
	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Sample computes the current telemetry for the given target (may be nil)
func (s *SiteTelemetry) Sample(ctx context.Context, target *sequence.TargetSpec) Sample {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	sample := Sample{
		At:             now,
		SunAltitudeDeg: astro.SunAltitude(now, s.LatitudeDeg, s.LongitudeDeg),
		WeatherSafe:    true,
		SafetySafe:     true,
	}
	sample.Dark = sample.SunAltitudeDeg < astro.NauticalDarknessDeg

	if target != nil {
		sample.TargetAltitudeDeg = astro.Altitude(now, s.LatitudeDeg, s.LongitudeDeg, target.RAHours, target.DecDegrees)
		sample.MoonSeparationDeg = astro.MoonSeparation(now, target.RAHours, target.DecDegrees)

		// Hours until the target crosses the local meridian (negative if
		// it already has). Drives the meridian-flip-due trigger.
		hourAngle := astro.LocalSiderealHours(now, s.LongitudeDeg) - target.RAHours
		for hourAngle > 12 {
			hourAngle -= 24
		}
		for hourAngle < -12 {
			hourAngle += 24
		}
		sample.HoursToMeridian = -hourAngle
	}

	if s.Guiding != nil {
		sample.GuidingRMSArcsec, sample.GuidingActive = s.Guiding.RMS()
	}
	if s.Focus != nil {
		sample.HFR = s.Focus.HFR()
	}
	if s.Safety != nil {
		sample.WeatherSafe = s.Safety.WeatherSafe()
		sample.SafetySafe = s.Safety.SafetyMonitorSafe()
	}

	return sample
}

// FakeTelemetry returns a fixed, mutable sample; used by tests
type FakeTelemetry struct {
	mu     sync.Mutex
	sample Sample
}

// NewFakeTelemetry creates a fake with benign defaults: dark sky, target
// high, guiding good, weather safe
func NewFakeTelemetry() *FakeTelemetry {
	return &FakeTelemetry{
		sample: Sample{
			TargetAltitudeDeg: 60,
			SunAltitudeDeg:    -30,
			Dark:              true,
			GuidingRMSArcsec:  0.5,
			GuidingActive:     true,
			HFR:               2.0,
			WeatherSafe:       true,
			SafetySafe:        true,
			MoonSeparationDeg: 90,
			HoursToMeridian:   4,
		},
	}
}

// Sample returns the configured sample stamped with the current time
func (f *FakeTelemetry) Sample(ctx context.Context, target *sequence.TargetSpec) Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sample
	s.At = time.Now()
	return s
}

// Set replaces the sample returned by subsequent calls
func (f *FakeTelemetry) Set(update func(*Sample)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	update(&f.sample)
}
