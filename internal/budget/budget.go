// Package budget computes a block's water balance over a lookback window.
package budget

import (
	"errors"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/et"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/units"
)

// DefaultWindowDays is the lookback window used when Input.WindowDays is zero.
const DefaultWindowDays = 14

// Errors returned by Calculate when a budget cannot be computed.
var (
	ErrNoData = errors.New("no ET data in lookback window")
	ErrNoArea = errors.New("block has no area")
)

// Input is everything Calculate needs for one block. Events and ET may span
// more than the window; Calculate filters them.
type Input struct {
	Acres      float64
	ET         []models.ETDailyRecord // Kc already applied
	Events     []models.IrrigationEvent
	Rainfall   *models.RainfallSummary // nil when unavailable
	Today      time.Time
	WindowDays int // DefaultWindowDays when zero
	ETSource   string
}

// WaterBudget is the water balance of a block over Range. Volumes are inches
// of depth over the block's area.
type WaterBudget struct {
	AppliedInches     float64
	RainfallInches    float64
	ETcInches         float64
	DeficitInches     float64 // positive is under-watered
	PercentageMet     float64
	CoverageWarning   bool
	Range             dates.Range
	ETDays            int
	EventsCount       int
	TotalEventsCount  int
	RainfallAvailable bool
	ETSource          string
}

// DeficitMM is the deficit in millimetres, floored at zero.
func (b WaterBudget) DeficitMM() float64 {
	if b.DeficitInches <= 0 {
		return 0
	}
	return units.InchesToMM(b.DeficitInches)
}

// RainfallMM is the window rainfall in millimetres.
func (b WaterBudget) RainfallMM() float64 {
	return units.InchesToMM(b.RainfallInches)
}

// Calculate computes the water budget for [today-W, today]. Inputs are not modified.
func Calculate(in Input) (*WaterBudget, error) {
	if in.Acres <= 0 {
		return nil, ErrNoArea
	}
	window := in.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	rng := dates.Lookback(in.Today, window)

	recent := et.Window(in.ET, rng)
	if len(recent) == 0 {
		return nil, ErrNoData
	}
	etcInches := units.MMToInches(et.SumETc(recent))

	var gallons float64
	matched := 0
	for _, ev := range in.Events {
		if !rng.Contains(ev.Date) {
			continue
		}
		gallons += ev.TotalWaterGallons
		matched++
	}
	applied := units.GallonsToInches(gallons, in.Acres)

	var rainInches float64
	rainAvailable := in.Rainfall != nil
	if rainAvailable {
		rainInches = units.MMToInches(rainfallInWindow(in.Rainfall, rng))
	}

	supplied := applied + rainInches
	b := &WaterBudget{
		AppliedInches:     applied,
		RainfallInches:    rainInches,
		ETcInches:         etcInches,
		DeficitInches:     etcInches - supplied,
		Range:             rng,
		ETDays:            len(recent),
		EventsCount:       matched,
		TotalEventsCount:  len(in.Events),
		RainfallAvailable: rainAvailable,
		ETSource:          in.ETSource,
	}
	if etcInches > 0 {
		b.PercentageMet = 100 * supplied / etcInches
	}
	b.CoverageWarning = !brackets(in.Events, rng) && matched < len(recent)
	return b, nil
}

// rainfallInWindow prefers daily values and falls back to the summary total.
func rainfallInWindow(s *models.RainfallSummary, rng dates.Range) float64 {
	if len(s.Daily) == 0 {
		return s.TotalMM
	}
	var mm float64
	for _, d := range s.Daily {
		if rng.Contains(d.Date) {
			mm += d.MM
		}
	}
	return mm
}

// brackets reports whether the event history reaches both ends of the window.
func brackets(events []models.IrrigationEvent, rng dates.Range) bool {
	if len(events) == 0 {
		return false
	}
	earliest, latest := events[0].Date, events[0].Date
	for _, ev := range events[1:] {
		if ev.Date.Before(earliest) {
			earliest = ev.Date
		}
		if ev.Date.After(latest) {
			latest = ev.Date
		}
	}
	return !dates.After(earliest, rng.Start) && !dates.Before(latest, rng.End)
}
