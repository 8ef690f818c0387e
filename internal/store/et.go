package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lox/vinewater/internal/dates"
)

// ETRecord is one cached day of reference ET for a block.
type ETRecord struct {
	Date         time.Time
	ET           float64 // mm
	Source       string
	QualityFlags string // JSON array, empty when clean
	FetchedAt    time.Time
}

// InsertETRecords caches fetched ET. A cached day is never overwritten.
// Returns the number of new rows.
func (s *Store) InsertETRecords(ctx context.Context, blockID string, records []ETRecord) (int, error) {
	fetchedAt := time.Now().UTC()
	inserted := 0
	for _, r := range records {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO et_records (block_id, date, et, source, quality_flags, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(block_id, date) DO NOTHING
		`, blockID, dateArg(r.Date), r.ET, r.Source, r.QualityFlags, fetchedAt)
		if err != nil {
			log.Printf("store: insert et record %s %s: %v", blockID, dates.Format(r.Date), err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// GetETRecords returns cached ET for dates in [start, end], oldest first.
func (s *Store) GetETRecords(ctx context.Context, blockID string, start, end time.Time) ([]ETRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, et, source, COALESCE(quality_flags, ''), fetched_at
		FROM et_records
		WHERE block_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, blockID, dateArg(start), dateArg(end))
	if err != nil {
		return nil, fmt.Errorf("get et records: %w", err)
	}
	defer rows.Close()

	var out []ETRecord
	for rows.Next() {
		var (
			r    ETRecord
			date string
		)
		if err := rows.Scan(&date, &r.ET, &r.Source, &r.QualityFlags, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan et record: %w", err)
		}
		if r.Date, err = dates.Parse(date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
