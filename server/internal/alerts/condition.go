package alerts

import (
	"strconv"
	"strings"

	"github.com/ambspc/spcengine/server/internal/store"
)

// evalCondition evaluates a rule condition string against a data point.
//
// Supported expressions (field operator value):
//
//	status == out_of_control
//	status != in_control
//	zone == warning
//	zone == critical
//	value > 80
//	value <= 10
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, dp store.DataPoint) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "status":
		return compareString(string(dp.Status), op, rhs), dp.Value
	case "zone":
		return compareString(string(dp.Zone), op, rhs), dp.Value
	case "value":
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(dp.Value, op, threshold), dp.Value
	default:
		return false, 0
	}
}

// validCondition reports whether cond parses into a known field and operator.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false
	}
	switch parts[0] {
	case "status", "zone":
		return parts[1] == "==" || parts[1] == "!="
	case "value":
		if _, err := strconv.ParseFloat(parts[2], 64); err != nil {
			return false
		}
		switch parts[1] {
		case ">", ">=", "<", "<=", "==":
			return true
		}
	}
	return false
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return v == want
	case "!=":
		return v != want
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
