// Package schedule expands recurring irrigation schedules into dated events.
package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/units"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
}

// Validate checks a schedule definition before it is stored.
func Validate(s models.IrrigationSchedule) error {
	if s.BlockID == "" {
		return invalid("block is required")
	}
	if s.StartDate.IsZero() {
		return invalid("start date is required")
	}
	if s.EndDate.Valid && dates.Before(s.EndDate.Time, s.StartDate) {
		return invalid("end date %s is before start date %s", dates.Format(s.EndDate.Time), dates.Format(s.StartDate))
	}
	if len(s.DaysOfWeek) == 0 {
		return invalid("at least one day of week is required")
	}
	for _, d := range s.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return invalid("day of week %d out of range", d)
		}
	}
	if s.TimesPerDay < 1 {
		return invalid("times per day must be at least 1")
	}
	if s.FlowRateGPM <= 0 {
		return invalid("flow rate must be positive")
	}
	if _, err := DurationHours(s); err != nil {
		return invalid("%v", err)
	}
	switch s.State {
	case models.ScheduleActive, models.SchedulePaused:
	default:
		return invalid("unknown state %q", s.State)
	}
	return nil
}

// DurationHours is the length of one daily run. A stop time at or before the
// start time runs past midnight.
func DurationHours(s models.IrrigationSchedule) (float64, error) {
	start, err := dates.ParseClock(s.StartTime)
	if err != nil {
		return 0, fmt.Errorf("start time: %w", err)
	}
	stop, err := dates.ParseClock(s.StopTime)
	if err != nil {
		return 0, fmt.Errorf("stop time: %w", err)
	}
	d := stop - start
	if d <= 0 {
		d += 24 * time.Hour
	}
	return d.Hours(), nil
}

// Expand generates the schedule's events from its start date to until, inclusive.
func Expand(s models.IrrigationSchedule, until time.Time) ([]models.IrrigationEvent, error) {
	return ExpandRange(s, s.StartDate, until)
}

// ExpandRange is Expand with the first date clipped to from. Events are
// unpersisted and carry no id. Multiple runs per day are folded into one event
// whose duration and volume are scaled by TimesPerDay.
func ExpandRange(s models.IrrigationSchedule, from, until time.Time) ([]models.IrrigationEvent, error) {
	hours, err := DurationHours(s)
	if err != nil {
		return nil, fmt.Errorf("expand schedule %s: %w", s.ID, err)
	}
	times := s.TimesPerDay
	if times < 1 {
		times = 1
	}
	hours *= float64(times)

	start := dates.Max(s.StartDate, from)
	end := dates.Day(until)
	if s.EndDate.Valid {
		end = dates.Min(s.EndDate.Time, end)
	}

	var events []models.IrrigationEvent
	for _, d := range dates.NewRange(start, end).Dates() {
		if !s.RunsOn(d.Weekday()) {
			continue
		}
		events = append(events, models.IrrigationEvent{
			BlockID:           s.BlockID,
			Date:              d,
			DurationHours:     hours,
			FlowRateGPM:       s.FlowRateGPM,
			TotalWaterGallons: units.FlowGallons(hours, s.FlowRateGPM),
			Method:            s.Method,
			Source:            models.SourceSchedule,
			ScheduleID:        nullString(s.ID),
			ZoneNumber:        s.ZoneNumber,
		})
	}
	return events, nil
}

// DisplayState is the event's state for listing. Future events of a paused
// schedule show as paused.
func DisplayState(ev models.IrrigationEvent, schedules map[string]models.IrrigationSchedule, today time.Time) models.EventState {
	state := ev.State(today)
	if state != models.EventScheduled || !ev.ScheduleID.Valid {
		return state
	}
	if s, ok := schedules[ev.ScheduleID.String]; ok && s.State == models.SchedulePaused {
		return models.EventPaused
	}
	return state
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
