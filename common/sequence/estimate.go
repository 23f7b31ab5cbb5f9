package sequence

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Estimate is the value returned by the integration-time estimator
type Estimate struct {
	// TotalSecs is the estimated total run time. For unbounded loops it
	// holds the single-iteration time so callers can render
	// "X min/iteration" instead of a false total.
	TotalSecs float64 `json:"totalSecs"`
	// SingleIterationSecs stays meaningful even when Unbounded is set.
	SingleIterationSecs float64 `json:"singleIterationSecs"`
	Unbounded           bool    `json:"unbounded"`
	// UnboundedReason carries the loop condition that made the estimate
	// unbounded (forever, whileDark, untilAltitude).
	UnboundedReason LoopConditionType `json:"unboundedReason,omitempty"`
	// Until is the terminal wall-clock time for time-bounded loops.
	Until *time.Time `json:"until,omitempty"`
}

// Estimate computes the integration-time estimate for the sequence at the
// given reference instant. Pure function of the tree and the instant: safe
// to call before, during, or repeatedly throughout a run.
func (s *Sequence) Estimate(ref time.Time) Estimate {
	root, ok := s.Root()
	if !ok {
		// Degraded mode: no root, sum all enabled exposure nodes and
		// ignore tree structure. Diverges from the tree-based estimate on
		// purpose; kept for plans authored as loose node collections.
		return s.flatExposureEstimate()
	}
	return s.estimateNode(root, ref, make(map[uuid.UUID]bool))
}

func (s *Sequence) flatExposureEstimate() Estimate {
	var total float64
	for _, n := range s.Nodes {
		if n.Enabled && n.Type == TypeExposure && n.Exposure != nil {
			total += n.Exposure.DurationSecs * float64(n.Exposure.Count)
		}
	}
	return Estimate{TotalSecs: total, SingleIterationSecs: total}
}

func (s *Sequence) estimateNode(n *Node, ref time.Time, visiting map[uuid.UUID]bool) Estimate {
	// Disabled nodes contribute zero and are not recursed into.
	if !n.Enabled {
		return Estimate{}
	}
	// Cyclic arenas are rejected by validation; guard anyway so a bad tree
	// cannot hang the estimator.
	if visiting[n.ID] {
		return Estimate{}
	}
	visiting[n.ID] = true
	defer delete(visiting, n.ID)

	switch n.Type {
	case TypeExposure:
		if n.Exposure == nil {
			return Estimate{}
		}
		total := n.Exposure.DurationSecs * float64(n.Exposure.Count)
		return Estimate{TotalSecs: total, SingleIterationSecs: total}

	case TypeLoop:
		children := s.sumChildren(n, ref, visiting)
		return applyLoop(n.Loop, children, ref)

	case TypeTargetHeader, TypeParallel, TypeConditional, TypeRecovery, TypeInstructionSet:
		// Other containers pass the summed children estimate through
		// unchanged (no multiplier).
		return s.sumChildren(n, ref, visiting)

	default:
		// Instructions other than Exposure contribute no integration time.
		return Estimate{}
	}
}

// sumChildren sums children estimates; Unbounded is the OR of children
func (s *Sequence) sumChildren(n *Node, ref time.Time, visiting map[uuid.UUID]bool) Estimate {
	var sum Estimate
	for _, c := range s.Children(n) {
		child := s.estimateNode(c, ref, visiting)
		sum.TotalSecs += child.TotalSecs
		sum.SingleIterationSecs += child.SingleIterationSecs
		if child.Unbounded {
			sum.Unbounded = true
			if sum.UnboundedReason == "" {
				sum.UnboundedReason = child.UnboundedReason
			}
		}
		if child.Until != nil && (sum.Until == nil || child.Until.After(*sum.Until)) {
			sum.Until = child.Until
		}
	}
	return sum
}

// applyLoop applies the loop condition semantics to the summed children
func applyLoop(spec *LoopSpec, children Estimate, ref time.Time) Estimate {
	if spec == nil {
		return children
	}

	switch spec.Condition {
	case LoopCount:
		count := spec.RepeatCount
		if count < 0 {
			count = 0
		}
		return Estimate{
			TotalSecs:           children.TotalSecs * float64(count),
			SingleIterationSecs: children.SingleIterationSecs,
			Unbounded:           children.Unbounded,
			UnboundedReason:     children.UnboundedReason,
			Until:               children.Until,
		}

	case LoopUntilTime:
		// Always bounded, carrying the target time. If the time already
		// passed or is undefined, fall back to exactly one iteration.
		iterations := 1.0
		if spec.RepeatUntil != nil {
			available := spec.RepeatUntil.Sub(ref).Seconds()
			if available > 0 && children.SingleIterationSecs > 0 {
				iterations = math.Floor(available / children.SingleIterationSecs)
			}
		}
		return Estimate{
			TotalSecs:           children.SingleIterationSecs * iterations,
			SingleIterationSecs: children.SingleIterationSecs,
			Until:               spec.RepeatUntil,
		}

	case LoopForever, LoopWhileDark, LoopUntilAltitude:
		return Estimate{
			TotalSecs:           children.SingleIterationSecs,
			SingleIterationSecs: children.SingleIterationSecs,
			Unbounded:           true,
			UnboundedReason:     spec.Condition,
		}

	default:
		return children
	}
}
