package api

import (
	"fmt"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/store"
)

// Indicator colours.
const (
	ColorGreen  = "green"
	ColorBlue   = "blue"
	ColorOrange = "orange"
	ColorRed    = "red"
)

// Indicator is one coloured dashboard chip shown next to a batch or
// certificate. The engine never renders these; the API derives them from
// compliance results for the UI.
type Indicator struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// complianceIndicator colours the score by its disposition.
func complianceIndicator(title string, r spc.Result) Indicator {
	color := ColorRed
	switch r.Disposition {
	case spc.DispositionApproved:
		color = ColorGreen
	case spc.DispositionUnderReview:
		color = ColorOrange
	}
	return Indicator{Label: fmt.Sprintf("%s: %.1f%%", title, r.Score), Color: color}
}

// capabilityIndicator is green at or above the capable threshold.
func capabilityIndicator(name string, v float64) Indicator {
	color := ColorOrange
	if spc.RateCapability(v) == spc.RatingCapable {
		color = ColorGreen
	}
	return Indicator{Label: fmt.Sprintf("%s: %.2f", name, v), Color: color}
}

func countIndicator(title string, n int) Indicator {
	return Indicator{Label: fmt.Sprintf("%s: %d", title, n), Color: ColorOrange}
}

func testsIndicator(r spc.Result) Indicator {
	return Indicator{Label: fmt.Sprintf("Tests Completed: %d/%d", r.Passed, r.Total), Color: ColorBlue}
}

// batchIndicators describes a batch. A batch without test results has no
// compliance chip.
func batchIndicators(b store.Batch) []Indicator {
	out := make([]Indicator, 0, 3)
	if b.Compliance != nil {
		out = append(out, complianceIndicator("Quality Compliance", *b.Compliance), testsIndicator(*b.Compliance))
	}
	out = append(out, countIndicator("Parameters Monitored", len(b.Parameters)))
	return out
}

// certificateIndicators describes a certificate, including Cpk and Ppk
// when they were recorded.
func certificateIndicators(c store.Certificate) []Indicator {
	out := make([]Indicator, 0, 5)
	if c.Compliance != nil {
		out = append(out, complianceIndicator("Quality Compliance", *c.Compliance))
	}
	tests := 0
	passed := 0
	for _, t := range c.QualityTests {
		tests++
		if t.Status == spc.TestPass {
			passed++
		}
	}
	out = append(out,
		Indicator{Label: fmt.Sprintf("Tests Completed: %d/%d", passed, tests), Color: ColorBlue},
		countIndicator("SPC Parameters", len(c.SPCParameters)),
	)
	if c.CpkValue != nil {
		out = append(out, capabilityIndicator("Cpk", *c.CpkValue))
	}
	if c.PpkValue != nil {
		out = append(out, capabilityIndicator("Ppk", *c.PpkValue))
	}
	return out
}
