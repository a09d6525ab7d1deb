package spc

// Zone is the three-band real-time status of a value.
type Zone string

const (
	ZoneNormal   Zone = "normal"
	ZoneWarning  Zone = "warning"
	ZoneCritical Zone = "critical"
	ZoneUnknown  Zone = "unknown"
)

// DefaultWarningMargin is the fraction of the spec range, measured inward
// from each bound, that is reported as ZoneWarning.
const DefaultWarningMargin = 0.10

// Classify places value in a zone relative to l.
//
//	outside [lower, upper]                        → critical
//	within margin*(upper-lower) of either bound   → warning
//	otherwise                                     → normal
//
// A negative margin is treated as zero. Incomplete limits or a non-finite
// value give ZoneUnknown.
func Classify(value float64, l Limits, margin float64) Zone {
	switch Evaluate(value, l) {
	case StatusUnassessed:
		return ZoneUnknown
	case StatusOutOfControl:
		return ZoneCritical
	}
	if margin < 0 {
		margin = 0
	}
	band := l.Range() * margin
	if value > *l.Upper-band || value < *l.Lower+band {
		return ZoneWarning
	}
	return ZoneNormal
}

// Evaluation is a measurement together with its classification.
type Evaluation struct {
	Measurement
	Status Status `json:"status"`
	Zone   Zone   `json:"zone"`
}

// EvaluateMeasurement classifies m against l in one call.
func EvaluateMeasurement(m Measurement, l Limits, margin float64) Evaluation {
	return Evaluation{
		Measurement: m,
		Status:      Evaluate(m.Value, l),
		Zone:        Classify(m.Value, l, margin),
	}
}
