package models

import (
	"database/sql"
	"time"
)

type Block struct {
	ID           string
	Name         string
	Acres        float64
	Latitude     sql.NullFloat64
	Longitude    sql.NullFloat64
	FlowRateGPM  float64
	SoilType     string
	CIMISStation sql.NullInt64 // nearest CIMIS weather station, if any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (b Block) HasCoordinates() bool {
	return b.Latitude.Valid && b.Longitude.Valid
}

// ETDailyRecord is one day of reference ET (mm) and the crop water use derived from it.
type ETDailyRecord struct {
	Date time.Time
	ET   float64
	ETc  float64
}

// ETSeries is a time-ordered run of ET records and the feed that produced them.
type ETSeries struct {
	Records []ETDailyRecord
	Source  string // "openet", "cimis", "open-meteo", "cache"
	Raw     []byte // response body as received, for auditing
}

type EventSource string

const (
	SourceManual   EventSource = "manual"
	SourceSchedule EventSource = "schedule"
	SourceWebhook  EventSource = "webhook"
)

func (s EventSource) Valid() bool {
	switch s {
	case SourceManual, SourceSchedule, SourceWebhook:
		return true
	}
	return false
}

type EventState string

const (
	EventScheduled EventState = "scheduled"
	EventCompleted EventState = "completed"
	EventPaused    EventState = "paused" // display only: future event of a paused schedule
)

type IrrigationEvent struct {
	ID                string
	BlockID           string
	Date              time.Time // calendar date, midnight UTC
	DurationHours     float64
	FlowRateGPM       float64
	TotalWaterGallons float64
	Method            string
	Notes             string
	Source            EventSource
	ScheduleID        sql.NullString
	ZoneNumber        sql.NullInt64
	CreatedAt         time.Time
}

// State classifies the event against today's calendar date. It is never stored.
func (e IrrigationEvent) State(today time.Time) EventState {
	if e.Date.After(today) {
		return EventScheduled
	}
	return EventCompleted
}

// EventPatch holds the fields an update may change. Nil fields are left alone.
type EventPatch struct {
	Date          *time.Time
	DurationHours *float64
	FlowRateGPM   *float64
	Method        *string
	Notes         *string
	ZoneNumber    *int64
}

type ScheduleState string

const (
	ScheduleActive ScheduleState = "active"
	SchedulePaused ScheduleState = "paused"
)

type IrrigationSchedule struct {
	ID          string
	BlockID     string
	Name        string
	StartDate   time.Time
	EndDate     sql.NullTime // open-ended when invalid
	StartTime   string       // "HH:MM"
	StopTime    string       // "HH:MM"
	FlowRateGPM float64
	Method      string
	DaysOfWeek  []time.Weekday
	TimesPerDay int
	ZoneNumber  sql.NullInt64
	State       ScheduleState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s IrrigationSchedule) Active() bool {
	return s.State == ScheduleActive
}

func (s IrrigationSchedule) RunsOn(day time.Weekday) bool {
	for _, d := range s.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

type DailyRainfall struct {
	Date time.Time
	MM   float64
}

type RainfallSummary struct {
	TotalMM       float64
	Daily         []DailyRainfall
	LastRainEvent *DailyRainfall
	Source        string
}

type ForecastPeriod struct {
	Date         time.Time
	RainfallMM   float64
	ET0MM        float64
	PrecipChance sql.NullInt64
}

type Forecast struct {
	PredictedRainfallMM float64
	PredictedET0MM      float64
	Periods             []ForecastPeriod
	Source              string
}
