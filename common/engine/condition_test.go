package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrokit/sequencer/common/sequence"
)

func benignSample() Sample {
	return Sample{
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
	}
}

func TestEvalNilSpecIsAlwaysTrue(t *testing.T) {
	pass, err := NewConditionEvaluator().Eval(nil, benignSample(), time.Now())
	require.NoError(t, err)
	assert.True(t, pass)
}

func TestEvalBuiltinKinds(t *testing.T) {
	e := NewConditionEvaluator()
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		spec sequence.ConditionSpec
		want bool
	}{
		{"always", sequence.ConditionSpec{Kind: sequence.CondAlways}, true},
		{"altitude above pass", sequence.ConditionSpec{Kind: sequence.CondAltitudeAbove, Threshold: 30}, true},
		{"altitude above fail", sequence.ConditionSpec{Kind: sequence.CondAltitudeAbove, Threshold: 70}, false},
		{"time after pass", sequence.ConditionSpec{Kind: sequence.CondTimeAfter, After: &past}, true},
		{"time after fail", sequence.ConditionSpec{Kind: sequence.CondTimeAfter, After: &future}, false},
		{"guiding rms pass", sequence.ConditionSpec{Kind: sequence.CondGuidingRMSBelow, Threshold: 1.0}, true},
		{"guiding rms fail", sequence.ConditionSpec{Kind: sequence.CondGuidingRMSBelow, Threshold: 0.3}, false},
		{"hfr below pass", sequence.ConditionSpec{Kind: sequence.CondHFRBelow, Threshold: 3.0}, true},
		{"hfr below fail", sequence.ConditionSpec{Kind: sequence.CondHFRBelow, Threshold: 1.5}, false},
		{"weather safe", sequence.ConditionSpec{Kind: sequence.CondWeatherSafe}, true},
		{"moon separation pass", sequence.ConditionSpec{Kind: sequence.CondMoonSeparationAbove, Threshold: 45}, true},
		{"moon separation fail", sequence.ConditionSpec{Kind: sequence.CondMoonSeparationAbove, Threshold: 95}, false},
		{"safety monitor", sequence.ConditionSpec{Kind: sequence.CondSafetyMonitorSafe}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := tc.spec
			pass, err := e.Eval(&spec, benignSample(), now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, pass)
		})
	}
}

func TestEvalGuidingRMSRequiresActiveGuiding(t *testing.T) {
	sample := benignSample()
	sample.GuidingActive = false

	pass, err := NewConditionEvaluator().Eval(
		&sequence.ConditionSpec{Kind: sequence.CondGuidingRMSBelow, Threshold: 10},
		sample, time.Now())
	require.NoError(t, err)
	assert.False(t, pass)
}

func TestEvalTimeAfterWithoutTimeFails(t *testing.T) {
	_, err := NewConditionEvaluator().Eval(
		&sequence.ConditionSpec{Kind: sequence.CondTimeAfter}, benignSample(), time.Now())
	assert.Error(t, err)
}

func TestEvalUnknownKindFails(t *testing.T) {
	_, err := NewConditionEvaluator().Eval(
		&sequence.ConditionSpec{Kind: "seeing"}, benignSample(), time.Now())
	assert.Error(t, err)
}

func TestEvalExpression(t *testing.T) {
	e := NewConditionEvaluator()

	pass, err := e.Eval(&sequence.ConditionSpec{
		Kind:       sequence.CondExpression,
		Expression: `telemetry.dark && telemetry.hfr < 3.0 && telemetry.moonSeparationDeg > 45.0`,
	}, benignSample(), time.Now())
	require.NoError(t, err)
	assert.True(t, pass)

	pass, err = e.Eval(&sequence.ConditionSpec{
		Kind:       sequence.CondExpression,
		Expression: `telemetry.guidingRmsArcsec < 0.2`,
	}, benignSample(), time.Now())
	require.NoError(t, err)
	assert.False(t, pass)
}

func TestEvalExpressionErrors(t *testing.T) {
	e := NewConditionEvaluator()

	_, err := e.Eval(&sequence.ConditionSpec{Kind: sequence.CondExpression}, benignSample(), time.Now())
	assert.Error(t, err, "empty expression")

	_, err = e.Eval(&sequence.ConditionSpec{
		Kind:       sequence.CondExpression,
		Expression: `telemetry.dark &&`,
	}, benignSample(), time.Now())
	assert.Error(t, err, "syntax error")

	_, err = e.Eval(&sequence.ConditionSpec{
		Kind:       sequence.CondExpression,
		Expression: `telemetry.hfr + 1.0`,
	}, benignSample(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean")
}

func TestEvalExpressionProgramsAreCached(t *testing.T) {
	e := NewConditionEvaluator()
	spec := &sequence.ConditionSpec{
		Kind:       sequence.CondExpression,
		Expression: `telemetry.weatherSafe`,
	}

	for i := 0; i < 5; i++ {
		_, err := e.Eval(spec, benignSample(), time.Now())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.CacheSize())

	_, err := e.Eval(&sequence.ConditionSpec{
		Kind:       sequence.CondExpression,
		Expression: `telemetry.safetySafe`,
	}, benignSample(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, e.CacheSize())
}
