package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/units"
)

const eventColumns = `id, block_id, date, duration_hours, flow_rate_gpm, total_water_gallons, method, notes,
	source, schedule_id, zone_number, created_at`

// prepareEvent fills the id and creation time and enforces the volume invariant.
func prepareEvent(ev models.IrrigationEvent) models.IrrigationEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = models.SourceManual
	}
	ev.Date = dates.Day(ev.Date)
	ev.TotalWaterGallons = units.FlowGallons(ev.DurationHours, ev.FlowRateGPM)
	return ev
}

func eventArgs(ev models.IrrigationEvent) []any {
	return []any{ev.ID, ev.BlockID, dateArg(ev.Date), ev.DurationHours, ev.FlowRateGPM, ev.TotalWaterGallons,
		ev.Method, ev.Notes, string(ev.Source), ev.ScheduleID, ev.ZoneNumber, ev.CreatedAt}
}

func (s *Store) CreateEvent(ctx context.Context, ev models.IrrigationEvent) (models.IrrigationEvent, error) {
	ev = prepareEvent(ev)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO irrigation_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventArgs(ev)...)
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// CreateEventIfMissing inserts a schedule event unless one already exists for
// its (block, schedule, date). Reports whether a row was written.
func (s *Store) CreateEventIfMissing(ctx context.Context, ev models.IrrigationEvent) (bool, error) {
	if !ev.ScheduleID.Valid {
		if _, err := s.CreateEvent(ctx, ev); err != nil {
			return false, err
		}
		return true, nil
	}
	ev = prepareEvent(ev)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO irrigation_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_id, schedule_id, date) WHERE schedule_id IS NOT NULL DO NOTHING
	`, eventArgs(ev)...)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (models.IrrigationEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM irrigation_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return models.IrrigationEvent{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return ev, nil
}

// ListEvents returns a block's events dated within [start, end]. A zero bound is open.
func (s *Store) ListEvents(ctx context.Context, blockID string, start, end time.Time) ([]models.IrrigationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM irrigation_events WHERE block_id = ?`
	args := []any{blockID}
	if !start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, dateArg(start))
	}
	if !end.IsZero() {
		query += ` AND date <= ?`
		args = append(args, dateArg(end))
	}
	query += ` ORDER BY date, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.IrrigationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpdateEvent applies a patch and recomputes the event's total volume.
// Schedule events keep their date; edit the schedule instead.
func (s *Store) UpdateEvent(ctx context.Context, id string, p models.EventPatch) (models.IrrigationEvent, error) {
	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return models.IrrigationEvent{}, err
	}
	if p.Date != nil {
		day := dates.Day(*p.Date)
		if ev.ScheduleID.Valid && !day.Equal(ev.Date) {
			return models.IrrigationEvent{}, fmt.Errorf("update event %s: %w", id, ErrScheduledDateChange)
		}
		ev.Date = day
	}
	if p.DurationHours != nil {
		ev.DurationHours = *p.DurationHours
	}
	if p.FlowRateGPM != nil {
		ev.FlowRateGPM = *p.FlowRateGPM
	}
	if p.Method != nil {
		ev.Method = *p.Method
	}
	if p.Notes != nil {
		ev.Notes = *p.Notes
	}
	if p.ZoneNumber != nil {
		ev.ZoneNumber = sql.NullInt64{Int64: *p.ZoneNumber, Valid: true}
	}
	ev.TotalWaterGallons = units.FlowGallons(ev.DurationHours, ev.FlowRateGPM)

	_, err = s.db.ExecContext(ctx, `
		UPDATE irrigation_events SET
			date = ?, duration_hours = ?, flow_rate_gpm = ?, total_water_gallons = ?,
			method = ?, notes = ?, zone_number = ?
		WHERE id = ?
	`, dateArg(ev.Date), ev.DurationHours, ev.FlowRateGPM, ev.TotalWaterGallons, ev.Method, ev.Notes, ev.ZoneNumber, id)
	if err != nil {
		return models.IrrigationEvent{}, fmt.Errorf("update event %s: %w", id, err)
	}
	return ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM irrigation_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return expectRow(res, "event", id)
}

// DetachScheduleEvents clears the schedule reference on a schedule's remaining
// events so they stay as history after the schedule is deleted.
func (s *Store) DetachScheduleEvents(ctx context.Context, blockID, scheduleID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE irrigation_events SET schedule_id = NULL
		WHERE block_id = ? AND schedule_id = ?
	`, blockID, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("detach events of schedule %s: %w", scheduleID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanEvent(sc scanner) (models.IrrigationEvent, error) {
	var (
		ev     models.IrrigationEvent
		date   string
		source string
	)
	if err := sc.Scan(&ev.ID, &ev.BlockID, &date, &ev.DurationHours, &ev.FlowRateGPM, &ev.TotalWaterGallons,
		&ev.Method, &ev.Notes, &source, &ev.ScheduleID, &ev.ZoneNumber, &ev.CreatedAt); err != nil {
		return ev, err
	}
	d, err := dates.Parse(date)
	if err != nil {
		return ev, err
	}
	ev.Date = d
	ev.Source = models.EventSource(source)
	return ev, nil
}
