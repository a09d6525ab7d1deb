package spc

import "math"

// Kind identifies the source of an outcome so the scorer can pick the right
// pass predicate.
type Kind string

const (
	// KindTest is a quality test result: status "Pass" or "Fail".
	KindTest Kind = "test"
	// KindParameter is an SPC parameter result: a Status value.
	KindParameter Kind = "parameter"
)

// Quality test result labels.
const (
	TestPass = "Pass"
	TestFail = "Fail"
)

// legacyInControl is the display label older records store instead of
// StatusInControl.
const legacyInControl = "In Control"

// Disposition is the categorical quality decision derived from a score.
type Disposition string

const (
	DispositionApproved    Disposition = "Approved"
	DispositionUnderReview Disposition = "Under Review"
	DispositionRejected    Disposition = "Rejected"
)

// Thresholds that map a compliance score to a disposition.
const (
	ThresholdApproved    = 95.0
	ThresholdUnderReview = 80.0
)

// Outcome is one scoring input.
type Outcome struct {
	Kind   Kind   `json:"kind"`
	Status string `json:"status"`
}

// Result is the output of a compliance calculation.
type Result struct {
	// Score is the pass percentage in [0, 100], rounded to one decimal.
	Score       float64     `json:"score"`
	Disposition Disposition `json:"disposition"`
	Passed      int         `json:"passed"`
	Total       int         `json:"total"`
}

// PassFunc reports whether an outcome status counts as a pass.
type PassFunc func(status string) bool

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithKind registers fn as the pass predicate for kind, replacing any
// existing predicate.
func WithKind(kind Kind, fn PassFunc) ScorerOption {
	return func(s *Scorer) { s.pass[kind] = fn }
}

// Scorer pools outcomes of different kinds into one compliance score.
// It is immutable after NewScorer returns and safe for concurrent use.
type Scorer struct {
	pass map[Kind]PassFunc
}

// NewScorer returns a Scorer with predicates for KindTest and KindParameter,
// then applies opts.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{pass: map[Kind]PassFunc{
		KindTest: func(status string) bool { return status == TestPass },
		KindParameter: func(status string) bool {
			return status == string(StatusInControl) || status == legacyInControl
		},
	}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the compliance result for outcomes.
//
// An empty slice scores 0. Outcomes whose kind has no registered predicate
// count toward the total but never pass. The result depends only on the
// multiset of outcomes, not their order.
func (s *Scorer) Score(outcomes []Outcome) Result {
	res := Result{Total: len(outcomes)}
	for _, o := range outcomes {
		if fn, ok := s.pass[o.Kind]; ok && fn(o.Status) {
			res.Passed++
		}
	}
	if res.Total > 0 {
		res.Score = round1(float64(res.Passed) / float64(res.Total) * 100)
	}
	res.Disposition = DispositionFor(res.Score)
	return res
}

var defaultScorer = NewScorer()

// Score scores outcomes with the built-in predicates.
func Score(outcomes []Outcome) Result {
	return defaultScorer.Score(outcomes)
}

// DispositionFor maps a score to a disposition, highest threshold first.
func DispositionFor(score float64) Disposition {
	switch {
	case score >= ThresholdApproved:
		return DispositionApproved
	case score >= ThresholdUnderReview:
		return DispositionUnderReview
	default:
		return DispositionRejected
	}
}

// TestOutcomes wraps quality test statuses as KindTest outcomes.
func TestOutcomes(statuses ...string) []Outcome {
	out := make([]Outcome, len(statuses))
	for i, st := range statuses {
		out[i] = Outcome{Kind: KindTest, Status: st}
	}
	return out
}

// ParameterOutcomes wraps control statuses as KindParameter outcomes.
func ParameterOutcomes(statuses ...Status) []Outcome {
	out := make([]Outcome, len(statuses))
	for i, st := range statuses {
		out[i] = Outcome{Kind: KindParameter, Status: string(st)}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
