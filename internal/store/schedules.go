package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
)

const scheduleColumns = `id, block_id, name, start_date, end_date, start_time, stop_time, flow_rate_gpm, method,
	days_of_week, times_per_day, zone_number, state, created_at, updated_at`

func (s *Store) CreateSchedule(ctx context.Context, sc models.IrrigationSchedule) (models.IrrigationSchedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.State == "" {
		sc.State = models.ScheduleActive
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	sc.StartDate = dates.Day(sc.StartDate)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO irrigation_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.BlockID, sc.Name, dateArg(sc.StartDate), nullDateArg(sc.EndDate), sc.StartTime, sc.StopTime,
		sc.FlowRateGPM, sc.Method, formatWeekdays(sc.DaysOfWeek), sc.TimesPerDay, sc.ZoneNumber, string(sc.State),
		sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return models.IrrigationSchedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, sc models.IrrigationSchedule) (models.IrrigationSchedule, error) {
	sc.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE irrigation_schedules SET
			name = ?, start_date = ?, end_date = ?, start_time = ?, stop_time = ?, flow_rate_gpm = ?,
			method = ?, days_of_week = ?, times_per_day = ?, zone_number = ?, state = ?, updated_at = ?
		WHERE id = ?
	`, sc.Name, dateArg(sc.StartDate), nullDateArg(sc.EndDate), sc.StartTime, sc.StopTime, sc.FlowRateGPM,
		sc.Method, formatWeekdays(sc.DaysOfWeek), sc.TimesPerDay, sc.ZoneNumber, string(sc.State), sc.UpdatedAt, sc.ID)
	if err != nil {
		return models.IrrigationSchedule{}, fmt.Errorf("update schedule %s: %w", sc.ID, err)
	}
	if err := expectRow(res, "schedule", sc.ID); err != nil {
		return models.IrrigationSchedule{}, err
	}
	return s.GetSchedule(ctx, sc.ID)
}

// SetScheduleState pauses or resumes a schedule. Events are not touched.
func (s *Store) SetScheduleState(ctx context.Context, id string, state models.ScheduleState) (models.IrrigationSchedule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE irrigation_schedules SET state = ?, updated_at = ? WHERE id = ?
	`, string(state), time.Now().UTC(), id)
	if err != nil {
		return models.IrrigationSchedule{}, fmt.Errorf("set schedule %s state: %w", id, err)
	}
	if err := expectRow(res, "schedule", id); err != nil {
		return models.IrrigationSchedule{}, err
	}
	return s.GetSchedule(ctx, id)
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM irrigation_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return expectRow(res, "schedule", id)
}

func (s *Store) GetSchedule(ctx context.Context, id string) (models.IrrigationSchedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM irrigation_schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return models.IrrigationSchedule{}, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.IrrigationSchedule{}, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return sc, nil
}

// ListSchedules returns a block's schedules, optionally only the active ones.
func (s *Store) ListSchedules(ctx context.Context, blockID string, activeOnly bool) ([]models.IrrigationSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM irrigation_schedules WHERE block_id = ?`
	args := []any{blockID}
	if activeOnly {
		query += ` AND state = ?`
		args = append(args, string(models.ScheduleActive))
	}
	query += ` ORDER BY start_date, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []models.IrrigationSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanSchedule(sc scanner) (models.IrrigationSchedule, error) {
	var (
		s         models.IrrigationSchedule
		startDate string
		endDate   sql.NullString
		days      string
		state     string
	)
	if err := sc.Scan(&s.ID, &s.BlockID, &s.Name, &startDate, &endDate, &s.StartTime, &s.StopTime, &s.FlowRateGPM,
		&s.Method, &days, &s.TimesPerDay, &s.ZoneNumber, &state, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	var err error
	if s.StartDate, err = dates.Parse(startDate); err != nil {
		return s, err
	}
	if s.EndDate, err = parseNullDate(endDate); err != nil {
		return s, err
	}
	if s.DaysOfWeek, err = parseWeekdays(days); err != nil {
		return s, err
	}
	s.State = models.ScheduleState(state)
	return s, nil
}
