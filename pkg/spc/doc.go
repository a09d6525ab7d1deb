// Package spc is the statistical process control evaluation engine.
//
// limits.go classifies a single measured value against a parameter's
// specification limits: Evaluate(value, Limits) returns in_control,
// out_of_control or unassessed. Bounds are inclusive. Both bounds must be
// present (and finite) for a classification; otherwise the result is
// unassessed. Non-finite values are always unassessed.
//
// zone.go adds the three-band real-time status used on the shop floor:
// normal, warning (within a margin of a bound, 10% of the spec range by
// default) and critical (outside the limits).
//
// score.go pools heterogeneous outcomes (quality test Pass/Fail, SPC
// parameter in/out of control) into one compliance score (0–100, one
// decimal) and a disposition: Approved ≥95, Under Review 80–94.9,
// Rejected <80. The pass predicate is injectable per outcome kind.
//
// capability.go computes Cp/Cpk (within-subgroup sigma from the average
// moving range) and Pp/Ppk (overall sample sigma).
//
// Everything in this package is a pure function of its arguments and is safe
// for concurrent use.
package spc
