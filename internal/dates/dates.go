// Package dates handles calendar dates independent of time zone.
//
// A calendar date is represented as a time.Time at midnight UTC. Parsing a
// "2006-01-02" string never shifts the day, no matter where the process runs.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const Layout = "2006-01-02"

// Parse parses a YYYY-MM-DD string into a calendar date.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// MustParse is Parse for literals in tests and tables.
func MustParse(s string) time.Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Day returns the calendar date of t in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func Format(t time.Time) string {
	return t.Format(Layout)
}

func AddDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

func Before(a, b time.Time) bool { return Day(a).Before(Day(b)) }
func After(a, b time.Time) bool  { return Day(a).After(Day(b)) }
func Equal(a, b time.Time) bool  { return Day(a).Equal(Day(b)) }

func Min(a, b time.Time) time.Time {
	if Before(b, a) {
		return Day(b)
	}
	return Day(a)
}

func Max(a, b time.Time) time.Time {
	if After(b, a) {
		return Day(b)
	}
	return Day(a)
}

// Range is an inclusive span of calendar dates.
type Range struct {
	Start time.Time
	End   time.Time
}

func NewRange(start, end time.Time) Range {
	return Range{Start: Day(start), End: Day(end)}
}

// Lookback returns the range [today-days, today].
func Lookback(today time.Time, days int) Range {
	return NewRange(AddDays(today, -days), today)
}

func (r Range) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of dates in the range, 0 if it is empty.
func (r Range) Days() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return DaysBetween(r.Start, r.End) + 1
}

// Dates lists every date in the range in order.
func (r Range) Dates() []time.Time {
	n := r.Days()
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.Start.AddDate(0, 0, i))
	}
	return out
}

func (r Range) String() string {
	return Format(r.Start) + ".." + Format(r.End)
}

// Clock supplies the current calendar date.
type Clock interface {
	Today() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Loc *time.Location
}

func (c SystemClock) Today() time.Time {
	loc := c.Loc
	if loc == nil {
		loc = time.Local
	}
	return Day(time.Now().In(loc))
}

// FixedClock always reports the same date.
type FixedClock time.Time

func (c FixedClock) Today() time.Time { return Day(time.Time(c)) }

// ParseClock parses an "HH:MM" or "HH:MM:SS" time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse time of day %q: want HH:MM", s)
	}
	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return 0, fmt.Errorf("parse time of day %q: bad component %q", s, p)
		}
		total += time.Duration(v) * units[i]
	}
	return total, nil
}
