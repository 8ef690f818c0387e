package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
)

var ErrNotFound = errors.New("not found")

// ErrScheduledDateChange is returned when a patch moves an event that still
// belongs to a schedule. The schedule owns its (schedule, date) slots.
var ErrScheduledDateChange = errors.New("schedule event date cannot be changed")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateBlock(ctx context.Context, b models.Block) (models.Block, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (id, name, acres, latitude, longitude, flow_rate_gpm, soil_type, cimis_station, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Name, b.Acres, b.Latitude, b.Longitude, b.FlowRateGPM, b.SoilType, b.CIMISStation, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return models.Block{}, fmt.Errorf("insert block: %w", err)
	}
	return b, nil
}

func (s *Store) UpdateBlock(ctx context.Context, b models.Block) (models.Block, error) {
	b.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE blocks SET
			name = ?, acres = ?, latitude = ?, longitude = ?, flow_rate_gpm = ?,
			soil_type = ?, cimis_station = ?, updated_at = ?
		WHERE id = ?
	`, b.Name, b.Acres, b.Latitude, b.Longitude, b.FlowRateGPM, b.SoilType, b.CIMISStation, b.UpdatedAt, b.ID)
	if err != nil {
		return models.Block{}, fmt.Errorf("update block %s: %w", b.ID, err)
	}
	if err := expectRow(res, "block", b.ID); err != nil {
		return models.Block{}, err
	}
	return s.GetBlock(ctx, b.ID)
}

const blockColumns = `id, name, acres, latitude, longitude, flow_rate_gpm, soil_type, cimis_station, created_at, updated_at`

func (s *Store) GetBlock(ctx context.Context, id string) (models.Block, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)
	b, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return models.Block{}, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Block{}, fmt.Errorf("get block %s: %w", id, err)
	}
	return b, nil
}

func (s *Store) ListBlocks(ctx context.Context) ([]models.Block, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlock(sc scanner) (models.Block, error) {
	var b models.Block
	err := sc.Scan(&b.ID, &b.Name, &b.Acres, &b.Latitude, &b.Longitude, &b.FlowRateGPM, &b.SoilType, &b.CIMISStation, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// Dates are stored as YYYY-MM-DD text so comparisons never cross a time zone.

func dateArg(t time.Time) string {
	return dates.Format(dates.Day(t))
}

func nullDateArg(t sql.NullTime) sql.NullString {
	if !t.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: dateArg(t.Time), Valid: true}
}

func parseNullDate(s sql.NullString) (sql.NullTime, error) {
	if !s.Valid || s.String == "" {
		return sql.NullTime{}, nil
	}
	t, err := dates.Parse(s.String)
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}

func formatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse days of week %q: %w", s, err)
		}
		days = append(days, time.Weekday(v))
	}
	return days, nil
}
