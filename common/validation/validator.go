package validation

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/sequence"
)

// Sanity thresholds. Warnings, not hard limits; operators can override.
const (
	// MinAltitudeWarnDeg flags unusually low altitude constraints.
	MinAltitudeWarnDeg = 10.0
	// MaxSaneExposureSecs flags exposures long enough to risk tracking
	// errors on typical mounts.
	MaxSaneExposureSecs = 1800.0
	// MaxSessionIntegrationSecs flags plans better split across sessions.
	MaxSessionIntegrationSecs = 12 * 3600.0
	// HighBinning flags binning levels worth a second look.
	HighBinning = 3
)

// equipmentSeverity maps each missing capability to how loudly we complain
var equipmentSeverity = map[devices.DeviceType]Severity{
	devices.Camera:        SeverityError,
	devices.Mount:         SeverityWarning,
	devices.Focuser:       SeverityWarning,
	devices.FilterWheel:   SeverityWarning,
	devices.Guider:        SeverityInfo,
	devices.Rotator:       SeverityInfo,
	devices.Dome:          SeverityInfo,
	devices.SafetyMonitor: SeverityInfo,
}

// checkContext carries everything one validation pass needs. The device
// snapshot is handed in by the caller; validation never reads ambient
// device state, so it is deterministic under test and re-runnable on
// demand without side effects.
type checkContext struct {
	seq      *sequence.Sequence
	snapshot devices.Snapshot
	now      time.Time
}

// checkFunc is one independently computable check category
type checkFunc func(ctx *checkContext, result *Result)

// Validator runs the preflight check categories in a fixed order
type Validator struct {
	checks []checkFunc
}

// New creates a validator with the standard check categories.
// New categories compose by appending; existing ones stay untouched.
func New() *Validator {
	return &Validator{
		checks: []checkFunc{
			checkStructure,
			checkTargets,
			checkExposures,
			checkEquipment,
			checkTiming,
		},
	}
}

// Validate runs every check category against the sequence and the given
// device snapshot at the given instant
func (v *Validator) Validate(seq *sequence.Sequence, snapshot devices.Snapshot, now time.Time) Result {
	ctx := &checkContext{seq: seq, snapshot: snapshot, now: now}
	var result Result
	for _, check := range v.checks {
		check(ctx, &result)
	}
	return result
}

// sortedNodeIDs returns node IDs in a stable order so re-checks produce
// identical issue lists
func sortedNodeIDs(seq *sequence.Sequence) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(seq.Nodes))
	for id := range seq.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// checkStructure flags empty trees, missing roots, dangling child
// references, cycles, unknown node types and orphaned nodes
func checkStructure(ctx *checkContext, result *Result) {
	seq := ctx.seq

	if len(seq.Nodes) == 0 {
		result.add(Issue{
			Severity:    SeverityError,
			Category:    CategoryStructure,
			Title:       "Empty sequence",
			Description: "The sequence contains no nodes.",
			Suggestion:  "Add at least one target with instructions before running.",
		})
		return
	}

	if seq.RootID == nil {
		result.add(Issue{
			Severity:    SeverityError,
			Category:    CategoryStructure,
			Title:       "No root node",
			Description: "The sequence has nodes but no root node is set.",
			Suggestion:  "Set the root node so the tree can be executed.",
		})
	} else if _, ok := seq.Node(*seq.RootID); !ok {
		result.add(Issue{
			Severity:    SeverityError,
			Category:    CategoryStructure,
			Title:       "Root node missing",
			Description: fmt.Sprintf("Root node %s is not present in the sequence.", *seq.RootID),
		})
	}

	for _, id := range seq.MissingChildren() {
		missingID := id
		result.add(Issue{
			Severity:    SeverityError,
			Category:    CategoryStructure,
			Title:       "Dangling child reference",
			Description: fmt.Sprintf("A node references child %s which does not exist.", missingID),
			NodeID:      &missingID,
		})
	}

	if err := seq.DetectCycle(); err != nil {
		result.add(Issue{
			Severity:    SeverityError,
			Category:    CategoryStructure,
			Title:       "Cycle in sequence tree",
			Description: "Node child references form a cycle; the tree cannot be executed.",
		})
	}

	for _, id := range sortedNodeIDs(seq) {
		n := seq.Nodes[id]
		if !sequence.KnownNodeType(n.Type) {
			nodeID := id
			result.add(Issue{
				Severity:    SeverityError,
				Category:    CategoryStructure,
				Title:       "Unknown node type",
				Description: fmt.Sprintf("Node %q has unknown type %q.", n.Name, n.Type),
				NodeID:      &nodeID,
			})
		}
	}

	if seq.RootID != nil {
		for _, id := range seq.Orphans() {
			orphanID := id
			name := ""
			if n, ok := seq.Node(orphanID); ok {
				name = n.Name
			}
			result.add(Issue{
				Severity:    SeverityWarning,
				Category:    CategoryStructure,
				Title:       "Orphaned node",
				Description: fmt.Sprintf("Node %q is not reachable from the root and will never run.", name),
				NodeID:      &orphanID,
				Suggestion:  "Attach it to the tree or delete it.",
			})
		}
	}
}

// checkTargets validates coordinate ranges and target shape
func checkTargets(ctx *checkContext, result *Result) {
	for _, id := range sortedNodeIDs(ctx.seq) {
		n := ctx.seq.Nodes[id]
		if n.Type != sequence.TypeTargetHeader || n.Target == nil {
			continue
		}
		nodeID := id
		t := n.Target

		if t.RAHours < 0 || t.RAHours >= 24 {
			result.add(Issue{
				Severity:    SeverityError,
				Category:    CategoryTargets,
				Title:       "Right ascension out of range",
				Description: fmt.Sprintf("Target %q has RA %.4f h; valid range is [0, 24).", n.Name, t.RAHours),
				NodeID:      &nodeID,
			})
		}

		if t.DecDegrees < -90 || t.DecDegrees > 90 {
			result.add(Issue{
				Severity:    SeverityError,
				Category:    CategoryTargets,
				Title:       "Declination out of range",
				Description: fmt.Sprintf("Target %q has Dec %.4f°; valid range is [-90, 90].", n.Name, t.DecDegrees),
				NodeID:      &nodeID,
			})
		}

		if len(n.ChildIDs) == 0 {
			result.add(Issue{
				Severity:    SeverityWarning,
				Category:    CategoryTargets,
				Title:       "Target has no instructions",
				Description: fmt.Sprintf("Target %q has no children and will contribute nothing to the run.", n.Name),
				NodeID:      &nodeID,
			})
		}

		if t.MinAltitudeDeg != nil && *t.MinAltitudeDeg < MinAltitudeWarnDeg {
			result.add(Issue{
				Severity:    SeverityWarning,
				Category:    CategoryTargets,
				Title:       "Very low altitude constraint",
				Description: fmt.Sprintf("Target %q allows imaging down to %.1f°; atmospheric extinction and seeing are severe below %.0f°.", n.Name, *t.MinAltitudeDeg, MinAltitudeWarnDeg),
				NodeID:      &nodeID,
				Suggestion:  "Consider raising the minimum altitude.",
			})
		}
	}
}

// checkExposures validates exposure parameters and total integration time
func checkExposures(ctx *checkContext, result *Result) {
	var totalIntegration float64

	for _, id := range sortedNodeIDs(ctx.seq) {
		n := ctx.seq.Nodes[id]
		if n.Type != sequence.TypeExposure || n.Exposure == nil {
			continue
		}
		nodeID := id
		e := n.Exposure

		if e.DurationSecs <= 0 {
			result.add(Issue{
				Severity:    SeverityError,
				Category:    CategoryExposures,
				Title:       "Non-positive exposure duration",
				Description: fmt.Sprintf("Exposure %q has duration %.2f s.", n.Name, e.DurationSecs),
				NodeID:      &nodeID,
			})
		}

		if e.Count <= 0 {
			result.add(Issue{
				Severity:    SeverityError,
				Category:    CategoryExposures,
				Title:       "Non-positive exposure count",
				Description: fmt.Sprintf("Exposure %q has count %d.", n.Name, e.Count),
				NodeID:      &nodeID,
			})
		}

		if e.DurationSecs > MaxSaneExposureSecs {
			result.add(Issue{
				Severity:    SeverityWarning,
				Category:    CategoryExposures,
				Title:       "Very long exposure",
				Description: fmt.Sprintf("Exposure %q runs %.0f s per frame; tracking errors become likely beyond %.0f s.", n.Name, e.DurationSecs, MaxSaneExposureSecs),
				NodeID:      &nodeID,
				Suggestion:  "Split into shorter frames and stack.",
			})
		}

		if e.Binning >= HighBinning {
			result.add(Issue{
				Severity:    SeverityInfo,
				Category:    CategoryExposures,
				Title:       "High binning",
				Description: fmt.Sprintf("Exposure %q uses %dx%d binning.", n.Name, e.Binning, e.Binning),
				NodeID:      &nodeID,
			})
		}

		if n.Enabled && e.DurationSecs > 0 && e.Count > 0 {
			totalIntegration += e.DurationSecs * float64(e.Count)
		}
	}

	if totalIntegration > MaxSessionIntegrationSecs {
		result.add(Issue{
			Severity:    SeverityWarning,
			Category:    CategoryExposures,
			Title:       "Very long total integration",
			Description: fmt.Sprintf("The plan totals %.1f h of integration time.", totalIntegration/3600),
			Suggestion:  "Consider splitting the plan across sessions.",
		})
	}
}

// checkEquipment diffs the required-device union against the connectivity
// snapshot. A failed device query degrades to a single warning rather than
// failing validation outright.
func checkEquipment(ctx *checkContext, result *Result) {
	required := ctx.seq.RequiredDeviceUnion()
	if len(required) == 0 {
		return
	}

	if ctx.snapshot.QueryFailed {
		result.add(Issue{
			Severity:    SeverityWarning,
			Category:    CategoryEquipment,
			Title:       "Device state unavailable",
			Description: fmt.Sprintf("Could not query device connectivity: %s. Equipment checks were skipped.", ctx.snapshot.FailureMsg),
			Suggestion:  "Verify the device control backend is running and re-check.",
		})
		return
	}

	// Fixed iteration order keeps the issue list stable across re-checks.
	for _, d := range devices.AllDeviceTypes {
		if !required[d] || ctx.snapshot.IsConnected(d) {
			continue
		}
		severity, ok := equipmentSeverity[d]
		if !ok {
			severity = SeverityWarning
		}
		result.add(Issue{
			Severity:    severity,
			Category:    CategoryEquipment,
			Title:       fmt.Sprintf("Required device not connected: %s", d),
			Description: fmt.Sprintf("The plan contains nodes that require a %s, but none is connected.", d),
			Suggestion:  fmt.Sprintf("Connect the %s or disable the nodes that need it.", d),
		})
	}
}

// checkTiming flags wait-for-time and until-time loop targets that already
// lie in the past (stale plan)
func checkTiming(ctx *checkContext, result *Result) {
	for _, id := range sortedNodeIDs(ctx.seq) {
		n := ctx.seq.Nodes[id]
		nodeID := id

		switch n.Type {
		case sequence.TypeWaitForTime:
			if n.Wait != nil && n.Wait.Until != nil && n.Wait.Until.Before(ctx.now) {
				result.add(Issue{
					Severity:    SeverityWarning,
					Category:    CategoryTiming,
					Title:       "Wait target already passed",
					Description: fmt.Sprintf("Node %q waits for %s, which is in the past.", n.Name, n.Wait.Until.Format(time.RFC3339)),
					NodeID:      &nodeID,
					Suggestion:  "Update the wait time; the node will complete immediately.",
				})
			}

		case sequence.TypeLoop:
			if n.Loop != nil && n.Loop.Condition == sequence.LoopUntilTime &&
				n.Loop.RepeatUntil != nil && n.Loop.RepeatUntil.Before(ctx.now) {
				result.add(Issue{
					Severity:    SeverityWarning,
					Category:    CategoryTiming,
					Title:       "Loop end time already passed",
					Description: fmt.Sprintf("Loop %q repeats until %s, which is in the past; it will run a single iteration.", n.Name, n.Loop.RepeatUntil.Format(time.RFC3339)),
					NodeID:      &nodeID,
				})
			}
		}
	}
}
