package irrigation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/schedule"
)

// EventView is an event with the state it displays as today.
type EventView struct {
	models.IrrigationEvent
	State models.EventState
}

// ListEvents returns the block's events in [start, end] with display states.
// Zero bounds are open.
func (s *Service) ListEvents(ctx context.Context, blockID string, start, end time.Time) ([]EventView, error) {
	if _, err := s.blocks.GetBlock(ctx, blockID); err != nil {
		return nil, err
	}
	events, err := s.events.ListEvents(ctx, blockID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	schedules, err := s.schedules.ListSchedules(ctx, blockID, false)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	byID := make(map[string]models.IrrigationSchedule, len(schedules))
	for _, sc := range schedules {
		byID[sc.ID] = sc
	}

	today := s.clock.Today()
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, EventView{IrrigationEvent: ev, State: schedule.DisplayState(ev, byID, today)})
	}
	return views, nil
}

func validateEvent(ev models.IrrigationEvent) error {
	var problems []string
	if ev.Date.IsZero() {
		problems = append(problems, "date is required")
	}
	if ev.DurationHours <= 0 {
		problems = append(problems, "duration must be positive")
	}
	if ev.DurationHours > 24 {
		problems = append(problems, "duration exceeds a day")
	}
	if ev.FlowRateGPM < 0 {
		problems = append(problems, "flow rate must not be negative")
	}
	if len(problems) > 0 {
		return invalid("event: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CreateManualEvent records irrigation entered by hand. A missing flow rate
// falls back to the block's.
func (s *Service) CreateManualEvent(ctx context.Context, ev models.IrrigationEvent) (models.IrrigationEvent, error) {
	return s.createEvent(ctx, ev, models.SourceManual)
}

// WebhookEvent is a run reported by a field controller or flow sensor.
type WebhookEvent struct {
	BlockID       string
	Date          time.Time
	DurationHours float64
	FlowRateGPM   float64
	ZoneNumber    sql.NullInt64
	Notes         string
}

func (s *Service) RecordWebhookEvent(ctx context.Context, w WebhookEvent) (models.IrrigationEvent, error) {
	if w.BlockID == "" {
		return models.IrrigationEvent{}, invalid("event: block is required")
	}
	if w.Date.IsZero() {
		w.Date = s.clock.Today()
	}
	return s.createEvent(ctx, models.IrrigationEvent{
		BlockID:       w.BlockID,
		Date:          w.Date,
		DurationHours: w.DurationHours,
		FlowRateGPM:   w.FlowRateGPM,
		ZoneNumber:    w.ZoneNumber,
		Notes:         w.Notes,
		Method:        "sensor",
	}, models.SourceWebhook)
}

func (s *Service) createEvent(ctx context.Context, ev models.IrrigationEvent, source models.EventSource) (models.IrrigationEvent, error) {
	b, err := s.blocks.GetBlock(ctx, ev.BlockID)
	if err != nil {
		return models.IrrigationEvent{}, err
	}
	if ev.FlowRateGPM == 0 {
		ev.FlowRateGPM = b.FlowRateGPM
	}
	ev.ID = ""
	ev.Source = source
	ev.ScheduleID = sql.NullString{}
	ev.Date = dates.Day(ev.Date)
	if err := validateEvent(ev); err != nil {
		return models.IrrigationEvent{}, err
	}
	return s.events.CreateEvent(ctx, ev)
}

func (s *Service) GetEvent(ctx context.Context, id string) (models.IrrigationEvent, error) {
	return s.events.GetEvent(ctx, id)
}

// UpdateEvent patches an event. The store recomputes the total volume.
func (s *Service) UpdateEvent(ctx context.Context, id string, p models.EventPatch) (models.IrrigationEvent, error) {
	current, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return models.IrrigationEvent{}, err
	}
	check := current
	if p.Date != nil {
		check.Date = *p.Date
	}
	if p.DurationHours != nil {
		check.DurationHours = *p.DurationHours
	}
	if p.FlowRateGPM != nil {
		check.FlowRateGPM = *p.FlowRateGPM
	}
	if err := validateEvent(check); err != nil {
		return models.IrrigationEvent{}, err
	}
	return s.events.UpdateEvent(ctx, id, p)
}

func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	return s.events.DeleteEvent(ctx, id)
}
