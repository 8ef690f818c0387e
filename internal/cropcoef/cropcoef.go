// Package cropcoef maps calendar dates to grapevine growth stages and crop coefficients.
package cropcoef

import "time"

type Stage string

const (
	Dormant     Stage = "dormant"
	Budbreak    Stage = "budbreak"
	Flowering   Stage = "flowering"
	FruitSet    Stage = "fruit_set"
	Veraison    Stage = "veraison"
	Harvest     Stage = "harvest"
	PostHarvest Stage = "post_harvest"
)

// StageInfo describes a growth stage. The target ET band is for display only.
type StageInfo struct {
	Stage       Stage
	Label       string
	Kc          float64
	TargetETMin float64 // mm/day
	TargetETMax float64 // mm/day
	Months      []time.Month
}

var stages = []StageInfo{
	{Dormant, "Dormant", 0.30, 0.0, 1.5, []time.Month{time.December, time.January, time.February}},
	{Budbreak, "Budbreak", 0.40, 1.5, 3.0, []time.Month{time.March, time.April}},
	{Flowering, "Flowering", 0.60, 3.0, 4.5, []time.Month{time.May}},
	{FruitSet, "Fruit set", 0.75, 4.0, 5.5, []time.Month{time.June}},
	{Veraison, "Veraison", 0.90, 5.0, 7.0, []time.Month{time.July, time.August}},
	{Harvest, "Harvest", 0.70, 3.5, 5.0, []time.Month{time.September, time.October}},
	{PostHarvest, "Post-harvest", 0.50, 1.5, 3.0, []time.Month{time.November}},
}

var byMonth = func() map[time.Month]StageInfo {
	m := make(map[time.Month]StageInfo, 12)
	for _, s := range stages {
		for _, month := range s.Months {
			m[month] = s
		}
	}
	return m
}()

// Stages returns the stage table in seasonal order.
func Stages() []StageInfo {
	out := make([]StageInfo, len(stages))
	copy(out, stages)
	return out
}

// Resolve returns the northern-hemisphere stage for date.
func Resolve(date time.Time) StageInfo {
	return byMonth[date.Month()]
}

// Kc returns the northern-hemisphere crop coefficient for date.
func Kc(date time.Time) float64 {
	return Resolve(date).Kc
}

type Hemisphere int

const (
	Northern Hemisphere = iota
	Southern
)

func HemisphereOf(latitude float64) Hemisphere {
	if latitude < 0 {
		return Southern
	}
	return Northern
}

// Resolve shifts the season by six months south of the equator.
func (h Hemisphere) Resolve(date time.Time) StageInfo {
	if h == Southern {
		return byMonth[shiftMonth(date.Month(), 6)]
	}
	return byMonth[date.Month()]
}

func (h Hemisphere) Kc(date time.Time) float64 {
	return h.Resolve(date).Kc
}

func shiftMonth(m time.Month, n int) time.Month {
	return time.Month((int(m)-1+n)%12 + 1)
}
