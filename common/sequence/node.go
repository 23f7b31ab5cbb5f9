package sequence

import (
	"time"

	"github.com/google/uuid"
)

// NodeType tags one variant of the closed node taxonomy
// Adding a variant requires a matching entry in the required-devices table
// (requirements.go), an estimator contribution (estimate.go), and an
// execution handler (common/engine); engine startup verifies the handler set
// covers every instruction type
type NodeType string

// Container / logic nodes. These own children and determine control flow
// but issue no hardware command themselves.
const (
	TypeTargetHeader   NodeType = "targetHeader"
	TypeLoop           NodeType = "loop"
	TypeParallel       NodeType = "parallel"
	TypeConditional    NodeType = "conditional"
	TypeRecovery       NodeType = "recovery"
	TypeInstructionSet NodeType = "instructionSet"
)

// Instruction nodes. Leaves or near-leaves, each with a fixed
// required-device set.
const (
	TypeSlew           NodeType = "slew"
	TypeCenter         NodeType = "center"
	TypeExposure       NodeType = "exposure"
	TypeAutofocus      NodeType = "autofocus"
	TypeDither         NodeType = "dither"
	TypeStartGuiding   NodeType = "startGuiding"
	TypeStopGuiding    NodeType = "stopGuiding"
	TypeFilterChange   NodeType = "filterChange"
	TypeCoolCamera     NodeType = "coolCamera"
	TypeWarmCamera     NodeType = "warmCamera"
	TypeRotate         NodeType = "rotate"
	TypePark           NodeType = "park"
	TypeUnpark         NodeType = "unpark"
	TypeWaitForTime    NodeType = "waitForTime"
	TypeDelay          NodeType = "delay"
	TypeNotification   NodeType = "notification"
	TypeScript         NodeType = "script"
	TypeMeridianFlip   NodeType = "meridianFlip"
	TypeOpenDome       NodeType = "openDome"
	TypeCloseDome      NodeType = "closeDome"
	TypeParkDome       NodeType = "parkDome"
	TypePolarAlignment NodeType = "polarAlignment"
)

// LoopConditionType selects the termination semantics of a Loop node
type LoopConditionType string

const (
	LoopCount         LoopConditionType = "count"
	LoopUntilTime     LoopConditionType = "untilTime"
	LoopForever       LoopConditionType = "forever"
	LoopWhileDark     LoopConditionType = "whileDark"
	LoopUntilAltitude LoopConditionType = "untilAltitude"
)

// ConditionKind selects what a Conditional node tests before entering
type ConditionKind string

const (
	CondAlways              ConditionKind = "always"
	CondAltitudeAbove       ConditionKind = "altitudeAbove"
	CondTimeAfter           ConditionKind = "timeAfter"
	CondGuidingRMSBelow     ConditionKind = "guidingRmsBelow"
	CondHFRBelow            ConditionKind = "hfrBelow"
	CondWeatherSafe         ConditionKind = "weatherSafe"
	CondMoonSeparationAbove ConditionKind = "moonSeparationAbove"
	CondSafetyMonitorSafe   ConditionKind = "safetyMonitorSafe"
	// CondExpression evaluates a CEL expression against live telemetry.
	CondExpression ConditionKind = "celExpression"
)

// RecoveryAction selects what a Recovery node does when a child fails
// or its trigger fires
type RecoveryAction string

const (
	RecoverContinue     RecoveryAction = "continue"
	RecoverPause        RecoveryAction = "pause"
	RecoverAutofocus    RecoveryAction = "forceAutofocus"
	RecoverSkipTarget   RecoveryAction = "skipTarget"
	RecoverRetry        RecoveryAction = "retry"
	RecoverParkAndAbort RecoveryAction = "parkAndAbort"
	RecoverBranch       RecoveryAction = "branch"
)

// TriggerKind lets a Recovery node activate proactively during
// long-running children, absent any direct child failure
type TriggerKind string

const (
	TriggerNone            TriggerKind = ""
	TriggerHFRDegraded     TriggerKind = "hfrDegraded"
	TriggerMeridianFlipDue TriggerKind = "meridianFlipDue"
	TriggerGuidingFailed   TriggerKind = "guidingFailed"
)

// Node is one element of the sequence tree. The taxonomy is modeled as a
// tagged union: Type selects the variant, and at most one of the typed spec
// pointers below is populated for variants that carry parameters.
type Node struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name,omitempty"`
	Type       NodeType    `json:"type"`
	Enabled    bool        `json:"enabled"`
	ChildIDs   []uuid.UUID `json:"childIds,omitempty"`
	ParentID   *uuid.UUID  `json:"parentId,omitempty"`
	OrderIndex int         `json:"orderIndex"`

	Target    *TargetSpec    `json:"target,omitempty"`
	Loop      *LoopSpec      `json:"loop,omitempty"`
	Parallel  *ParallelSpec  `json:"parallel,omitempty"`
	Condition *ConditionSpec `json:"condition,omitempty"`
	Recovery  *RecoverySpec  `json:"recovery,omitempty"`
	Exposure  *ExposureSpec  `json:"exposure,omitempty"`
	Slew      *SlewSpec      `json:"slew,omitempty"`
	Dither    *DitherSpec    `json:"dither,omitempty"`
	Guide     *GuideSpec     `json:"guide,omitempty"`
	Filter    *FilterSpec    `json:"filter,omitempty"`
	Cooling   *CoolingSpec   `json:"cooling,omitempty"`
	Rotator   *RotatorSpec   `json:"rotator,omitempty"`
	Wait      *WaitSpec      `json:"wait,omitempty"`
	Script    *ScriptSpec    `json:"script,omitempty"`
	Notify    *NotifySpec    `json:"notify,omitempty"`
}

// TargetSpec describes one imaging target; carried by TargetHeader roots
type TargetSpec struct {
	RAHours        float64     `json:"raHours"`
	DecDegrees     float64     `json:"decDegrees"`
	RotationDeg    *float64    `json:"rotationDeg,omitempty"`
	Priority       int         `json:"priority"`
	MinAltitudeDeg *float64    `json:"minAltitudeDeg,omitempty"`
	StartAfter     *time.Time  `json:"startAfter,omitempty"`
	EndBy          *time.Time  `json:"endBy,omitempty"`
	Panel          *MosaicPanel `json:"panel,omitempty"`
}

// MosaicPanel identifies this target's tile within a mosaic
type MosaicPanel struct {
	Row        int     `json:"row"`
	Col        int     `json:"col"`
	OverlapPct float64 `json:"overlapPct"`
}

// LoopSpec parameterises a Loop node
type LoopSpec struct {
	Condition LoopConditionType `json:"condition"`
	// RepeatCount applies to LoopCount.
	RepeatCount int `json:"repeatCount,omitempty"`
	// RepeatUntil applies to LoopUntilTime.
	RepeatUntil *time.Time `json:"repeatUntil,omitempty"`
	// MinAltitudeDeg applies to LoopUntilAltitude: the loop runs while the
	// enclosing target stays above this altitude.
	MinAltitudeDeg float64 `json:"minAltitudeDeg,omitempty"`
}

// ParallelSpec parameterises a Parallel node
type ParallelSpec struct {
	// RequiredSuccesses completes the node early once this many children
	// succeed; zero means all children must finish.
	RequiredSuccesses int `json:"requiredSuccesses,omitempty"`
}

// ConditionSpec parameterises a Conditional node
type ConditionSpec struct {
	Kind ConditionKind `json:"kind"`
	// Threshold carries the altitude (deg), RMS (arcsec), HFR (px) or moon
	// separation (deg) limit depending on Kind.
	Threshold float64 `json:"threshold,omitempty"`
	// After applies to CondTimeAfter.
	After *time.Time `json:"after,omitempty"`
	// Expression applies to CondExpression (CEL, variables: telemetry, now).
	Expression string `json:"expression,omitempty"`
}

// RecoverySpec parameterises a Recovery node
type RecoverySpec struct {
	Action     RecoveryAction `json:"action"`
	MaxRetries int            `json:"maxRetries,omitempty"`
	// Trigger activates the recovery proactively during long children.
	Trigger          TriggerKind `json:"trigger,omitempty"`
	TriggerThreshold float64     `json:"triggerThreshold,omitempty"`
	// BranchID roots the alternate subtree for RecoverBranch.
	BranchID *uuid.UUID `json:"branchId,omitempty"`
}

// ExposureSpec parameterises an Exposure node
type ExposureSpec struct {
	DurationSecs float64 `json:"durationSecs"`
	Count        int     `json:"count"`
	Binning      int     `json:"binning,omitempty"`
	Gain         int     `json:"gain,omitempty"`
	Filter       string  `json:"filter,omitempty"`
	// DitherEvery inserts a dither after every N frames; zero disables.
	DitherEvery int `json:"ditherEvery,omitempty"`
}

// SlewSpec parameterises Slew and Center nodes. Nil coordinates fall back
// to the enclosing target header at execution time.
type SlewSpec struct {
	RAHours    *float64 `json:"raHours,omitempty"`
	DecDegrees *float64 `json:"decDegrees,omitempty"`
}

// DitherSpec parameterises a Dither node
type DitherSpec struct {
	AmountPixels float64 `json:"amountPixels"`
}

// GuideSpec parameterises a StartGuiding node
type GuideSpec struct {
	SettleTimeoutSecs float64 `json:"settleTimeoutSecs,omitempty"`
}

// FilterSpec parameterises a FilterChange node
type FilterSpec struct {
	Name string `json:"name"`
}

// CoolingSpec parameterises CoolCamera nodes
type CoolingSpec struct {
	TargetCelsius float64 `json:"targetCelsius"`
}

// RotatorSpec parameterises a Rotate node
type RotatorSpec struct {
	AngleDegrees float64 `json:"angleDegrees"`
}

// WaitSpec parameterises WaitForTime (Until) and Delay (DelaySecs) nodes
type WaitSpec struct {
	Until     *time.Time `json:"until,omitempty"`
	DelaySecs float64    `json:"delaySecs,omitempty"`
}

// ScriptSpec parameterises a Script node
type ScriptSpec struct {
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
	TimeoutSecs float64  `json:"timeoutSecs,omitempty"`
}

// NotifySpec parameterises a Notification node
type NotifySpec struct {
	Message string `json:"message"`
}

// IsContainer reports whether the type owns children and control flow
func (t NodeType) IsContainer() bool {
	switch t {
	case TypeTargetHeader, TypeLoop, TypeParallel, TypeConditional, TypeRecovery, TypeInstructionSet:
		return true
	}
	return false
}

// IsInstruction reports whether the type dispatches a hardware or
// scheduler operation
func (t NodeType) IsInstruction() bool {
	return !t.IsContainer()
}
