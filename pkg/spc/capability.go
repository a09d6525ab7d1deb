package spc

import (
	"errors"
	"math"
)

// d2 is the bias-correction constant for moving ranges of span 2.
const d2 = 1.128

// CapableThreshold is the minimum Cpk/Ppk considered capable.
const CapableThreshold = 1.33

// Errors returned by Capability.
var (
	ErrInsufficientData = errors.New("spc: at least two finite values are required")
	ErrIncompleteLimits = errors.New("spc: capability needs both specification limits")
	ErrZeroVariation    = errors.New("spc: values show no variation")
)

// CapabilityIndices holds the process capability and performance indices for
// one parameter.
type CapabilityIndices struct {
	N            int     `json:"n"`
	Mean         float64 `json:"mean"`
	SigmaWithin  float64 `json:"sigma_within"`
	SigmaOverall float64 `json:"sigma_overall"`
	Cp           float64 `json:"cp"`
	Cpk          float64 `json:"cpk"`
	Pp           float64 `json:"pp"`
	Ppk          float64 `json:"ppk"`
}

// CapabilityRating is the colour-coded reading of a Cpk or Ppk value.
type CapabilityRating string

const (
	RatingCapable  CapabilityRating = "capable"
	RatingMarginal CapabilityRating = "marginal"
)

// RateCapability rates a Cpk/Ppk index against CapableThreshold.
func RateCapability(index float64) CapabilityRating {
	if index >= CapableThreshold {
		return RatingCapable
	}
	return RatingMarginal
}

// Capability computes Cp/Cpk and Pp/Ppk for values, taken in time order.
//
// Within-subgroup sigma is the average moving range divided by d2; overall
// sigma is the sample standard deviation. Non-finite values are skipped.
func Capability(values []float64, l Limits) (CapabilityIndices, error) {
	if !l.Complete() {
		return CapabilityIndices{}, ErrIncompleteLimits
	}
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if finite(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) < 2 {
		return CapabilityIndices{}, ErrInsufficientData
	}

	var sum float64
	for _, v := range xs {
		sum += v
	}
	n := float64(len(xs))
	mean := sum / n

	var ss, mr float64
	for i, v := range xs {
		ss += (v - mean) * (v - mean)
		if i > 0 {
			mr += math.Abs(v - xs[i-1])
		}
	}
	sigmaOverall := math.Sqrt(ss / (n - 1))
	sigmaWithin := mr / (n - 1) / d2
	if sigmaOverall == 0 || sigmaWithin == 0 {
		return CapabilityIndices{}, ErrZeroVariation
	}

	usl, lsl := *l.Upper, *l.Lower
	return CapabilityIndices{
		N:            len(xs),
		Mean:         mean,
		SigmaWithin:  sigmaWithin,
		SigmaOverall: sigmaOverall,
		Cp:           (usl - lsl) / (6 * sigmaWithin),
		Cpk:          math.Min(usl-mean, mean-lsl) / (3 * sigmaWithin),
		Pp:           (usl - lsl) / (6 * sigmaOverall),
		Ppk:          math.Min(usl-mean, mean-lsl) / (3 * sigmaOverall),
	}, nil
}
