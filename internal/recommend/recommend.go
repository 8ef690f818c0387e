// Package recommend turns a water deficit into an irrigation recommendation.
package recommend

import (
	"fmt"

	"github.com/lox/vinewater/internal/units"
)

type Urgency string

const (
	UrgencyNone     Urgency = "none"
	UrgencyLow      Urgency = "low"
	UrgencyModerate Urgency = "moderate"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank orders urgencies so callers can compare tiers.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyModerate:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	}
	return 0
}

var messages = map[Urgency]string{
	UrgencyNone:     "Soil has adequate moisture. No irrigation needed.",
	UrgencyLow:      "Minor deficit. Irrigate at the next convenient opportunity.",
	UrgencyModerate: "Moderate deficit. Schedule irrigation within the next few days.",
	UrgencyHigh:     "Significant deficit. Irrigate within 24-48 hours.",
	UrgencyCritical: "Critical deficit. Irrigate immediately to avoid vine stress.",
}

type Input struct {
	DeficitMM    float64
	Acres        float64
	FlowRateGPM  float64
	ForecastETMM float64 // crop water use expected over the next few days
}

type Recommendation struct {
	NeedsIrrigation bool
	Urgency         Urgency
	Message         string
	DeficitMM       float64
	ForecastETMM    float64
	TotalNeedMM     float64
	Inches          float64
	Gallons         float64
	Hours           float64
}

// UrgencyFor tiers a deficit in mm. Forecast ET never affects the tier.
func UrgencyFor(deficitMM float64) Urgency {
	switch {
	case deficitMM <= 0:
		return UrgencyNone
	case deficitMM > 30:
		return UrgencyCritical
	case deficitMM > 15:
		return UrgencyHigh
	case deficitMM > 8:
		return UrgencyModerate
	default:
		return UrgencyLow
	}
}

// Recommend sizes an irrigation to cover the deficit plus forecast ET.
// A deficit at or below zero never triggers irrigation, whatever the forecast.
func Recommend(in Input) Recommendation {
	r := Recommendation{
		Urgency:      UrgencyFor(in.DeficitMM),
		DeficitMM:    in.DeficitMM,
		ForecastETMM: in.ForecastETMM,
	}
	r.Message = messages[r.Urgency]
	if in.DeficitMM <= 0 {
		r.DeficitMM = 0
		return r
	}

	r.NeedsIrrigation = true
	r.TotalNeedMM = in.DeficitMM + max(0, in.ForecastETMM)
	r.Inches = units.MMToInches(r.TotalNeedMM)
	r.Gallons = units.InchesToGallons(r.Inches, in.Acres)
	r.Hours = units.HoursForGallons(r.Gallons, in.FlowRateGPM)
	return r
}

// Runtime formats Hours as "Xh Ym".
func (r Recommendation) Runtime() string {
	total := int(r.Hours*60 + 0.5)
	return fmt.Sprintf("%dh %02dm", total/60, total%60)
}
