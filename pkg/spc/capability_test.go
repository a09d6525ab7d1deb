package spc

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestCapability(t *testing.T) {
	// mean 10, moving ranges all 2 → σ_within = 2/1.128
	// sample σ = sqrt(4/3)
	got, err := Capability([]float64{9, 11, 9, 11}, NewLimits(4, 16))
	if err != nil {
		t.Fatalf("Capability() error = %v", err)
	}
	sw := 2 / 1.128
	so := math.Sqrt(4.0 / 3.0)

	checks := []struct {
		name      string
		got, want float64
	}{
		{"Mean", got.Mean, 10},
		{"SigmaWithin", got.SigmaWithin, sw},
		{"SigmaOverall", got.SigmaOverall, so},
		{"Cp", got.Cp, 12 / (6 * sw)},
		{"Cpk", got.Cpk, 6 / (3 * sw)},
		{"Pp", got.Pp, 12 / (6 * so)},
		{"Ppk", got.Ppk, 6 / (3 * so)},
	}
	for _, c := range checks {
		if !almostEqual(c.got, c.want, 1e-9) {
			t.Errorf("%s = %.6f, want %.6f", c.name, c.got, c.want)
		}
	}
	if got.N != 4 {
		t.Errorf("N = %d, want 4", got.N)
	}
}

func TestCapability_OffCentre(t *testing.T) {
	// Mean shifted towards the upper limit: Cpk < Cp.
	got, err := Capability([]float64{13, 15, 13, 15}, NewLimits(4, 16))
	if err != nil {
		t.Fatalf("Capability() error = %v", err)
	}
	if got.Cpk >= got.Cp {
		t.Errorf("Cpk %.4f should be below Cp %.4f for an off-centre process", got.Cpk, got.Cp)
	}
}

func TestCapability_Errors(t *testing.T) {
	cases := []struct {
		name   string
		values []float64
		limits Limits
		want   error
	}{
		{"incomplete limits", []float64{1, 2, 3}, Limits{Upper: Float(5)}, ErrIncompleteLimits},
		{"single value", []float64{1}, NewLimits(0, 5), ErrInsufficientData},
		{"only NaN", []float64{math.NaN(), math.NaN()}, NewLimits(0, 5), ErrInsufficientData},
		{"flat", []float64{2, 2, 2}, NewLimits(0, 5), ErrZeroVariation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Capability(tc.values, tc.limits); !errors.Is(err, tc.want) {
				t.Errorf("Capability() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRateCapability(t *testing.T) {
	if RateCapability(1.33) != RatingCapable {
		t.Error("1.33 should be capable")
	}
	if RateCapability(1.329) != RatingMarginal {
		t.Error("1.329 should be marginal")
	}
}
