package spc

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Status is the control classification of a single measured value.
type Status string

const (
	StatusInControl    Status = "in_control"
	StatusOutOfControl Status = "out_of_control"
	StatusUnassessed   Status = "unassessed"
)

// Errors returned by Limits.Validate.
var (
	ErrInvertedLimits   = errors.New("spc: upper limit is below lower limit")
	ErrTargetOutOfRange = errors.New("spc: target lies outside the specification limits")
)

// Limits holds a parameter's specification limits. A nil bound is absent.
type Limits struct {
	Target *float64 `json:"target,omitempty" yaml:"target,omitempty"`
	Upper  *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
	Lower  *float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
}

// Measurement is one observation of a parameter. ParameterID, BatchID and
// Time are carried for the caller's bookkeeping and play no part in
// evaluation.
type Measurement struct {
	ParameterID string    `json:"parameter_id"`
	BatchID     string    `json:"batch_id,omitempty"`
	Value       float64   `json:"value"`
	Time        time.Time `json:"time"`
}

// Float returns a pointer to v. Handy for building Limits literals.
func Float(v float64) *float64 { return &v }

// NewLimits builds Limits with both bounds present and no target.
func NewLimits(lower, upper float64) Limits {
	return Limits{Lower: Float(lower), Upper: Float(upper)}
}

// Complete reports whether both bounds are present and finite.
func (l Limits) Complete() bool {
	return finitePtr(l.Upper) && finitePtr(l.Lower)
}

// Range returns upper minus lower. It is only meaningful when Complete.
func (l Limits) Range() float64 {
	if !l.Complete() {
		return 0
	}
	return *l.Upper - *l.Lower
}

// Validate checks the limits the way a data-entry screen would: the upper
// bound may not sit below the lower bound and a target must lie within
// whichever bounds are present. Evaluate never calls Validate.
func (l Limits) Validate() error {
	if l.Complete() && *l.Upper < *l.Lower {
		return fmt.Errorf("%w: upper %g < lower %g", ErrInvertedLimits, *l.Upper, *l.Lower)
	}
	if l.Target == nil {
		return nil
	}
	t := *l.Target
	if finitePtr(l.Upper) && t > *l.Upper {
		return fmt.Errorf("%w: target %g > upper %g", ErrTargetOutOfRange, t, *l.Upper)
	}
	if finitePtr(l.Lower) && t < *l.Lower {
		return fmt.Errorf("%w: target %g < lower %g", ErrTargetOutOfRange, t, *l.Lower)
	}
	return nil
}

// Evaluate classifies value against l.
//
// Missing or non-finite bounds give StatusUnassessed; the engine never
// guesses at a missing bound. A non-finite value is also unassessed, so NaN
// can never be reported in control. Inverted limits are not rejected here:
// every finite value then falls outside and is reported out of control.
func Evaluate(value float64, l Limits) Status {
	if !l.Complete() || !finite(value) {
		return StatusUnassessed
	}
	if value > *l.Upper || value < *l.Lower {
		return StatusOutOfControl
	}
	return StatusInControl
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePtr(p *float64) bool {
	return p != nil && finite(*p)
}
