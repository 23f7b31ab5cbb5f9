package sequence

import (
	"fmt"

	"github.com/astrokit/sequencer/common/devices"
)

// AllNodeTypes is the authoritative list of the closed taxonomy. The
// engine and the tests range over it to verify every variant has a
// required-device entry, an estimator contribution and an execution handler.
var AllNodeTypes = []NodeType{
	TypeTargetHeader,
	TypeLoop,
	TypeParallel,
	TypeConditional,
	TypeRecovery,
	TypeInstructionSet,
	TypeSlew,
	TypeCenter,
	TypeExposure,
	TypeAutofocus,
	TypeDither,
	TypeStartGuiding,
	TypeStopGuiding,
	TypeFilterChange,
	TypeCoolCamera,
	TypeWarmCamera,
	TypeRotate,
	TypePark,
	TypeUnpark,
	TypeWaitForTime,
	TypeDelay,
	TypeNotification,
	TypeScript,
	TypeMeridianFlip,
	TypeOpenDome,
	TypeCloseDome,
	TypeParkDome,
	TypePolarAlignment,
}

// requiredDevices is the static lookup table keyed by variant tag.
// The set never varies per instance, so there is no per-node method.
var requiredDevices = map[NodeType][]devices.DeviceType{
	TypeTargetHeader:   nil,
	TypeLoop:           nil,
	TypeParallel:       nil,
	TypeConditional:    nil,
	TypeRecovery:       nil,
	TypeInstructionSet: nil,

	TypeSlew:           {devices.Mount},
	TypeCenter:         {devices.Mount, devices.Camera},
	TypeExposure:       {devices.Camera},
	TypeAutofocus:      {devices.Focuser, devices.Camera},
	TypeDither:         {devices.Guider},
	TypeStartGuiding:   {devices.Guider},
	TypeStopGuiding:    {devices.Guider},
	TypeFilterChange:   {devices.FilterWheel},
	TypeCoolCamera:     {devices.Camera},
	TypeWarmCamera:     {devices.Camera},
	TypeRotate:         {devices.Rotator},
	TypePark:           {devices.Mount},
	TypeUnpark:         {devices.Mount},
	TypeWaitForTime:    nil,
	TypeDelay:          nil,
	TypeNotification:   nil,
	TypeScript:         nil,
	TypeMeridianFlip:   {devices.Mount},
	TypeOpenDome:       {devices.Dome},
	TypeCloseDome:      {devices.Dome},
	TypeParkDome:       {devices.Dome},
	TypePolarAlignment: {devices.Mount, devices.Camera},
}

// RequiredDevices returns the device capabilities a node type needs.
// Panics on an unknown type: that means a taxonomy variant was added
// without its required-device entry.
func RequiredDevices(t NodeType) []devices.DeviceType {
	reqs, ok := requiredDevices[t]
	if !ok {
		panic(fmt.Sprintf("sequence: no required-device entry for node type %q", t))
	}
	return reqs
}

// KnownNodeType reports whether t is part of the closed taxonomy
func KnownNodeType(t NodeType) bool {
	_, ok := requiredDevices[t]
	return ok
}

// RequiredDeviceUnion returns the union of required devices across all
// enabled nodes of the sequence
func (s *Sequence) RequiredDeviceUnion() map[devices.DeviceType]bool {
	union := make(map[devices.DeviceType]bool)
	for _, n := range s.Nodes {
		if !n.Enabled || !KnownNodeType(n.Type) {
			continue
		}
		for _, d := range RequiredDevices(n.Type) {
			union[d] = true
		}
	}
	return union
}
