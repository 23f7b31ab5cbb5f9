package engine

import (
	"context"
	"sort"

	"github.com/astrokit/sequencer/common/devices"
)

// capabilitySet serializes instruction dispatch per device capability.
// Two nodes that require the same device never run concurrently, even
// inside a Parallel node; this is a hard invariant.
type capabilitySet struct {
	sems map[devices.DeviceType]chan struct{}
}

func newCapabilitySet() *capabilitySet {
	sems := make(map[devices.DeviceType]chan struct{}, len(devices.AllDeviceTypes))
	for _, d := range devices.AllDeviceTypes {
		sems[d] = make(chan struct{}, 1)
	}
	return &capabilitySet{sems: sems}
}

// acquire takes every listed capability in a fixed global order (so two
// parallel children cannot deadlock) and returns a release function.
// Cancellation while queued releases anything already held.
func (c *capabilitySet) acquire(ctx context.Context, types []devices.DeviceType) (func(), error) {
	if len(types) == 0 {
		return func() {}, ctx.Err()
	}

	ordered := make([]devices.DeviceType, len(types))
	copy(ordered, types)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	held := make([]devices.DeviceType, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-c.sems[held[i]]
		}
	}

	for _, d := range ordered {
		select {
		case c.sems[d] <- struct{}{}:
			held = append(held, d)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
