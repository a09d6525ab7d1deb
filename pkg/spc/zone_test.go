package spc

import (
	"math"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	// Range 0–100, 10% margin → warning bands [0,10) and (90,100].
	l := NewLimits(0, 100)
	tests := []struct {
		value float64
		want  Zone
	}{
		{50, ZoneNormal},
		{10, ZoneNormal},
		{90, ZoneNormal},
		{9.99, ZoneWarning},
		{90.01, ZoneWarning},
		{100, ZoneWarning},
		{0, ZoneWarning},
		{100.5, ZoneCritical},
		{-0.5, ZoneCritical},
		{math.NaN(), ZoneUnknown},
	}
	for _, tc := range tests {
		if got := Classify(tc.value, l, DefaultWarningMargin); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestClassify_IncompleteLimits(t *testing.T) {
	if got := Classify(5, Limits{Upper: Float(10)}, DefaultWarningMargin); got != ZoneUnknown {
		t.Errorf("Classify with missing lower = %q, want %q", got, ZoneUnknown)
	}
}

func TestClassify_ZeroAndNegativeMargin(t *testing.T) {
	l := NewLimits(0, 100)
	for _, m := range []float64{0, -0.5} {
		if got := Classify(100, l, m); got != ZoneNormal {
			t.Errorf("Classify(100, margin=%v) = %q, want %q", m, got, ZoneNormal)
		}
	}
}

func TestEvaluateMeasurement(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	m := Measurement{ParameterID: "SPC-PH", BatchID: "B-001", Value: 12, Time: at}

	ev := EvaluateMeasurement(m, NewLimits(5, 10), DefaultWarningMargin)
	if ev.Status != StatusOutOfControl {
		t.Errorf("Status = %q, want %q", ev.Status, StatusOutOfControl)
	}
	if ev.Zone != ZoneCritical {
		t.Errorf("Zone = %q, want %q", ev.Zone, ZoneCritical)
	}
	if ev.ParameterID != "SPC-PH" || ev.BatchID != "B-001" || !ev.Time.Equal(at) {
		t.Errorf("pass-through fields changed: %+v", ev.Measurement)
	}
}
