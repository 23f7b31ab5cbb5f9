package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/astrokit/sequencer/common/sequence"
)

// ConditionEvaluator evaluates Conditional-node specs against live
// telemetry. Built-in kinds are direct comparisons; the celExpression kind
// compiles CEL programs and caches them by expression text.
type ConditionEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewConditionEvaluator creates an evaluator with an empty program cache
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// Eval evaluates a condition spec against a telemetry sample
func (e *ConditionEvaluator) Eval(spec *sequence.ConditionSpec, sample Sample, now time.Time) (bool, error) {
	if spec == nil {
		// A Conditional without a spec behaves as always-true.
		return true, nil
	}

	switch spec.Kind {
	case sequence.CondAlways:
		return true, nil
	case sequence.CondAltitudeAbove:
		return sample.TargetAltitudeDeg > spec.Threshold, nil
	case sequence.CondTimeAfter:
		if spec.After == nil {
			return false, fmt.Errorf("timeAfter condition has no time")
		}
		return now.After(*spec.After), nil
	case sequence.CondGuidingRMSBelow:
		return sample.GuidingActive && sample.GuidingRMSArcsec < spec.Threshold, nil
	case sequence.CondHFRBelow:
		return sample.HFR > 0 && sample.HFR < spec.Threshold, nil
	case sequence.CondWeatherSafe:
		return sample.WeatherSafe, nil
	case sequence.CondMoonSeparationAbove:
		return sample.MoonSeparationDeg > spec.Threshold, nil
	case sequence.CondSafetyMonitorSafe:
		return sample.SafetySafe, nil
	case sequence.CondExpression:
		return e.evalExpression(spec.Expression, sample, now)
	default:
		return false, fmt.Errorf("unsupported condition kind: %s", spec.Kind)
	}
}

// evalExpression evaluates a CEL expression with telemetry and now bound
func (e *ConditionEvaluator) evalExpression(expr string, sample Sample, now time.Time) (bool, error) {
	if expr == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	// Check cache first
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = compileExpression(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"telemetry": sample.vars(),
		"now":       now.Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

// compileExpression compiles a CEL expression
func compileExpression(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("telemetry", cel.DynType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// CacheSize returns the number of cached compiled expressions
func (e *ConditionEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// vars exposes the sample as a CEL-friendly map
func (s Sample) vars() map[string]interface{} {
	return map[string]interface{}{
		"targetAltitudeDeg": s.TargetAltitudeDeg,
		"sunAltitudeDeg":    s.SunAltitudeDeg,
		"dark":              s.Dark,
		"guidingRmsArcsec":  s.GuidingRMSArcsec,
		"guidingActive":     s.GuidingActive,
		"hfr":               s.HFR,
		"weatherSafe":       s.WeatherSafe,
		"safetySafe":        s.SafetySafe,
		"moonSeparationDeg": s.MoonSeparationDeg,
		"hoursToMeridian":   s.HoursToMeridian,
	}
}
