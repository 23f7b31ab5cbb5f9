package devices

import (
	"context"
)

// DeviceType identifies one hardware capability the sequencer can require
type DeviceType string

const (
	Camera        DeviceType = "camera"
	Mount         DeviceType = "mount"
	Focuser       DeviceType = "focuser"
	FilterWheel   DeviceType = "filterWheel"
	Guider        DeviceType = "guider"
	Rotator       DeviceType = "rotator"
	Dome          DeviceType = "dome"
	SafetyMonitor DeviceType = "safetyMonitor"
)

// AllDeviceTypes lists every capability the registry can report
var AllDeviceTypes = []DeviceType{
	Camera,
	Mount,
	Focuser,
	FilterWheel,
	Guider,
	Rotator,
	Dome,
	SafetyMonitor,
}

// Snapshot is a point-in-time view of device connectivity
// It is passed by value into the validator and the engine so both stay
// deterministic under test (no ambient global device state)
type Snapshot struct {
	Connected map[DeviceType]bool `json:"connected"`
	// QueryFailed is set when the device backend could not be reached.
	// Consumers degrade to a warning instead of failing outright.
	QueryFailed bool   `json:"query_failed"`
	FailureMsg  string `json:"failure_msg,omitempty"`
}

// IsConnected reports whether a capability is present and connected
func (s Snapshot) IsConnected(d DeviceType) bool {
	return s.Connected[d]
}

// FailedSnapshot builds the degraded snapshot used when the backend is unreachable
func FailedSnapshot(err error) Snapshot {
	return Snapshot{
		Connected:   map[DeviceType]bool{},
		QueryFailed: true,
		FailureMsg:  err.Error(),
	}
}

// Registry is the external device capability registry
// Implementations must tolerate an unreachable backend by returning a
// snapshot with QueryFailed set rather than an error
type Registry interface {
	// ConnectedDevices returns the current connectivity snapshot.
	ConnectedDevices(ctx context.Context) Snapshot
	// GuiderConnected reports whether the guiding subsystem is available.
	GuiderConnected(ctx context.Context) bool
}
