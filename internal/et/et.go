// Package et turns reference evapotranspiration into crop water use.
package et

import (
	"sort"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
)

// KcFunc returns the crop coefficient for a calendar date.
type KcFunc func(date time.Time) float64

// ApplyKc returns a copy of records with ETc set to ET × kc(date). Order and length are preserved.
func ApplyKc(records []models.ETDailyRecord, kc KcFunc) []models.ETDailyRecord {
	out := make([]models.ETDailyRecord, len(records))
	for i, r := range records {
		out[i] = models.ETDailyRecord{
			Date: r.Date,
			ET:   r.ET,
			ETc:  r.ET * kc(r.Date),
		}
	}
	return out
}

// WindowSum sums ETc over the half-open interval [start, end).
func WindowSum(records []models.ETDailyRecord, start, end time.Time) float64 {
	start, end = dates.Day(start), dates.Day(end)
	var sum float64
	for _, r := range records {
		d := dates.Day(r.Date)
		if d.Before(start) || !d.Before(end) {
			continue
		}
		sum += r.ETc
	}
	return sum
}

// Window returns the records whose date falls inside the inclusive range.
func Window(records []models.ETDailyRecord, r dates.Range) []models.ETDailyRecord {
	var out []models.ETDailyRecord
	for _, rec := range records {
		if r.Contains(rec.Date) {
			out = append(out, rec)
		}
	}
	return out
}

// SumETc totals crop water use in mm.
func SumETc(records []models.ETDailyRecord) float64 {
	var sum float64
	for _, r := range records {
		sum += r.ETc
	}
	return sum
}

// MissingDays lists the dates in r with no record. Gaps are reported, never filled.
func MissingDays(records []models.ETDailyRecord, r dates.Range) []time.Time {
	have := make(map[time.Time]bool, len(records))
	for _, rec := range records {
		have[dates.Day(rec.Date)] = true
	}
	var missing []time.Time
	for _, d := range r.Dates() {
		if !have[d] {
			missing = append(missing, d)
		}
	}
	return missing
}

// Sort orders records by date in place.
func Sort(records []models.ETDailyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
}

// Merge combines two series, preferring b where both have a date, and returns them date-ordered.
func Merge(a, b []models.ETDailyRecord) []models.ETDailyRecord {
	byDate := make(map[time.Time]models.ETDailyRecord, len(a)+len(b))
	for _, r := range a {
		byDate[dates.Day(r.Date)] = r
	}
	for _, r := range b {
		byDate[dates.Day(r.Date)] = r
	}
	out := make([]models.ETDailyRecord, 0, len(byDate))
	for _, r := range byDate {
		out = append(out, r)
	}
	Sort(out)
	return out
}
