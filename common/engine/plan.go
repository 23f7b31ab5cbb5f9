package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/astrokit/sequencer/common/sequence"
)

// plan carries the exposure and integration totals for one subtree,
// tracking single-iteration values so time-bounded loops can multiply
type plan struct {
	exposures       int
	integrationSecs float64
	singleExposures int
	singleSecs      float64
}

// planTotals computes the planned exposure and integration totals for the
// whole run, mirroring the estimator's loop semantics: count loops
// multiply, until-time loops use the iteration count available before the
// target time, unbounded loops plan a single iteration (the tracker grows
// the plan if they run longer).
func planTotals(seq *sequence.Sequence, ref time.Time) (int, float64) {
	root, ok := seq.Root()
	if !ok {
		var p plan
		for _, n := range seq.Nodes {
			if n.Enabled && n.Type == sequence.TypeExposure && n.Exposure != nil {
				p.exposures += n.Exposure.Count
				p.integrationSecs += n.Exposure.DurationSecs * float64(n.Exposure.Count)
			}
		}
		return p.exposures, p.integrationSecs
	}

	p := planNode(seq, root, ref, make(map[uuid.UUID]bool))
	return p.exposures, p.integrationSecs
}

func planNode(seq *sequence.Sequence, n *sequence.Node, ref time.Time, visiting map[uuid.UUID]bool) plan {
	if !n.Enabled || visiting[n.ID] {
		return plan{}
	}
	visiting[n.ID] = true
	defer delete(visiting, n.ID)

	switch n.Type {
	case sequence.TypeExposure:
		if n.Exposure == nil {
			return plan{}
		}
		secs := n.Exposure.DurationSecs * float64(n.Exposure.Count)
		return plan{
			exposures:       n.Exposure.Count,
			integrationSecs: secs,
			singleExposures: n.Exposure.Count,
			singleSecs:      secs,
		}

	case sequence.TypeLoop:
		children := planChildren(seq, n, ref, visiting)
		return applyLoopPlan(n.Loop, children, ref)

	case sequence.TypeTargetHeader, sequence.TypeParallel, sequence.TypeConditional,
		sequence.TypeRecovery, sequence.TypeInstructionSet:
		return planChildren(seq, n, ref, visiting)

	default:
		return plan{}
	}
}

func planChildren(seq *sequence.Sequence, n *sequence.Node, ref time.Time, visiting map[uuid.UUID]bool) plan {
	var sum plan
	for _, c := range seq.Children(n) {
		child := planNode(seq, c, ref, visiting)
		sum.exposures += child.exposures
		sum.integrationSecs += child.integrationSecs
		sum.singleExposures += child.singleExposures
		sum.singleSecs += child.singleSecs
	}
	return sum
}

func applyLoopPlan(spec *sequence.LoopSpec, children plan, ref time.Time) plan {
	if spec == nil {
		return children
	}

	switch spec.Condition {
	case sequence.LoopCount:
		count := spec.RepeatCount
		if count < 0 {
			count = 0
		}
		return plan{
			exposures:       children.exposures * count,
			integrationSecs: children.integrationSecs * float64(count),
			singleExposures: children.singleExposures,
			singleSecs:      children.singleSecs,
		}

	case sequence.LoopUntilTime:
		iterations := 1.0
		if spec.RepeatUntil != nil {
			available := spec.RepeatUntil.Sub(ref).Seconds()
			if available > 0 && children.singleSecs > 0 {
				iterations = math.Floor(available / children.singleSecs)
			}
		}
		return plan{
			exposures:       int(float64(children.singleExposures) * iterations),
			integrationSecs: children.singleSecs * iterations,
			singleExposures: children.singleExposures,
			singleSecs:      children.singleSecs,
		}

	default: // forever, whileDark, untilAltitude: plan one iteration
		return plan{
			exposures:       children.singleExposures,
			integrationSecs: children.singleSecs,
			singleExposures: children.singleExposures,
			singleSecs:      children.singleSecs,
		}
	}
}
