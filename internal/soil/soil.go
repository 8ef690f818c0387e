// Package soil estimates layered root-zone moisture from a water balance.
//
// The model is a depletion heuristic, not a calibrated soil-physics model.
// Results are estimates for display alongside the water budget.
package soil

import (
	"math"

	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/units"
)

// Root zone model parameters. Moisture values are percentages of capacity.
const (
	RootZoneCapacityMM = 150.0
	FieldCapacity      = 100.0
	WiltingPoint       = 30.0
)

// Status is a coarse moisture band for display.
type Status string

const (
	Low      Status = "Low"
	Moderate Status = "Moderate"
	Good     Status = "Good"
)

// Layer is the estimated moisture of one soil depth.
type Layer struct {
	MoisturePercent float64
	Status          Status
}

// Estimate holds the three layer estimates and the overall root zone depletion.
type Estimate struct {
	Surface          Layer
	Mid              Layer
	Deep             Layer
	DepletionPercent float64
}

// Input is the block water balance EstimateMoisture works from.
type Input struct {
	DeficitMM  float64 // negative values are treated as zero
	Events     []models.IrrigationEvent
	Acres      float64
	RainfallMM float64
}

// Classify maps a moisture percentage to its Status band.
func Classify(moisture float64) Status {
	switch {
	case moisture >= 70:
		return Good
	case moisture >= 50:
		return Moderate
	default:
		return Low
	}
}

// EstimateMoisture derives surface, mid and deep moisture from the deficit and water applied.
// Every layer stays within [WiltingPoint, FieldCapacity].
func EstimateMoisture(in Input) Estimate {
	deficit := math.Max(0, in.DeficitMM)
	depletion := math.Min(100, 100*deficit/RootZoneCapacityMM)

	var gallons float64
	for _, ev := range in.Events {
		gallons += ev.TotalWaterGallons
	}
	irrigationMM := units.GallonsToMM(gallons, in.Acres)
	totalWaterMM := irrigationMM + math.Max(0, in.RainfallMM)

	base := clamp(FieldCapacity - depletion + 100*(totalWaterMM-deficit)/RootZoneCapacityMM)

	return Estimate{
		Surface:          layer(base - 15 - 0.3*depletion),
		Mid:              layer(base - 0.2*depletion),
		Deep:             layer(base + 10 - 0.1*depletion),
		DepletionPercent: depletion,
	}
}

func layer(moisture float64) Layer {
	m := clamp(moisture)
	return Layer{MoisturePercent: m, Status: Classify(m)}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return WiltingPoint
	}
	return math.Max(WiltingPoint, math.Min(FieldCapacity, v))
}
