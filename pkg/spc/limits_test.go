package spc

import (
	"errors"
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		value  float64
		limits Limits
		want   Status
	}{
		{"above upper", 12, NewLimits(5, 10), StatusOutOfControl},
		{"inside", 7, NewLimits(5, 10), StatusInControl},
		{"at lower: inclusive", 5, NewLimits(5, 10), StatusInControl},
		{"at upper: inclusive", 10, NewLimits(5, 10), StatusInControl},
		{"below lower", 4.999, NewLimits(5, 10), StatusOutOfControl},
		{"lower absent", 7, Limits{Upper: Float(10)}, StatusUnassessed},
		{"upper absent", 7, Limits{Lower: Float(5)}, StatusUnassessed},
		{"no limits", 7, Limits{}, StatusUnassessed},
		{"target only", 7, Limits{Target: Float(7)}, StatusUnassessed},
		{"negative range", -3, NewLimits(-5, -1), StatusInControl},
		{"degenerate range: on point", 5, NewLimits(5, 5), StatusInControl},
		{"degenerate range: off point", 5.1, NewLimits(5, 5), StatusOutOfControl},
		{"inverted limits: everything out", 7, NewLimits(10, 5), StatusOutOfControl},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.value, tc.limits); got != tc.want {
				t.Errorf("Evaluate(%v) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestEvaluate_NonFinite(t *testing.T) {
	l := NewLimits(5, 10)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := Evaluate(v, l); got != StatusUnassessed {
			t.Errorf("Evaluate(%v) = %q, want %q", v, got, StatusUnassessed)
		}
	}

	// A non-finite bound is treated as absent.
	if got := Evaluate(7, Limits{Lower: Float(5), Upper: Float(math.Inf(1))}); got != StatusUnassessed {
		t.Errorf("Evaluate with +Inf upper = %q, want %q", got, StatusUnassessed)
	}
	if got := Evaluate(7, Limits{Lower: Float(math.NaN()), Upper: Float(10)}); got != StatusUnassessed {
		t.Errorf("Evaluate with NaN lower = %q, want %q", got, StatusUnassessed)
	}
}

func TestEvaluate_Properties(t *testing.T) {
	// Sweep a grid of values across several ranges and check the classification
	// rule holds for every combination.
	ranges := [][2]float64{{0, 1}, {5, 10}, {-20, -10}, {-1e6, 1e6}, {3, 3}}
	for _, r := range ranges {
		l := NewLimits(r[0], r[1])
		span := r[1] - r[0] + 1
		for i := -10; i <= 20; i++ {
			v := r[0] + span*float64(i)/10
			got := Evaluate(v, l)
			inside := v >= r[0] && v <= r[1]
			if inside && got != StatusInControl {
				t.Errorf("Evaluate(%v, [%v,%v]) = %q, want in_control", v, r[0], r[1], got)
			}
			if !inside && got != StatusOutOfControl {
				t.Errorf("Evaluate(%v, [%v,%v]) = %q, want out_of_control", v, r[0], r[1], got)
			}
			if again := Evaluate(v, l); again != got {
				t.Errorf("Evaluate not idempotent for %v: %q then %q", v, got, again)
			}
		}
	}
}

func TestLimits_Validate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr error
	}{
		{"valid", Limits{Lower: Float(5), Upper: Float(10), Target: Float(7.5)}, nil},
		{"equal bounds", NewLimits(5, 5), nil},
		{"inverted", NewLimits(10, 5), ErrInvertedLimits},
		{"target above upper", Limits{Lower: Float(5), Upper: Float(10), Target: Float(11)}, ErrTargetOutOfRange},
		{"target below lower", Limits{Lower: Float(5), Target: Float(4)}, ErrTargetOutOfRange},
		{"target with no bounds", Limits{Target: Float(4)}, nil},
		{"empty", Limits{}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.limits.Validate()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLimits_Complete(t *testing.T) {
	if !NewLimits(1, 2).Complete() {
		t.Error("NewLimits(1,2).Complete() = false, want true")
	}
	if (Limits{Upper: Float(2)}).Complete() {
		t.Error("upper-only limits reported complete")
	}
	if got := (Limits{Upper: Float(2)}).Range(); got != 0 {
		t.Errorf("Range() of incomplete limits = %v, want 0", got)
	}
}
