package schedule

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
)

func monWedFri() models.IrrigationSchedule {
	return models.IrrigationSchedule{
		ID:          "sched-1",
		BlockID:     "block-1",
		Name:        "Zone A",
		StartDate:   dates.MustParse("2024-06-03"),
		StartTime:   "06:00",
		StopTime:    "10:30",
		FlowRateGPM: 150,
		Method:      "drip",
		DaysOfWeek:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		TimesPerDay: 1,
		ZoneNumber:  sql.NullInt64{Int64: 3, Valid: true},
		State:       models.ScheduleActive,
	}
}

func eventDates(events []models.IrrigationEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = dates.Format(ev.Date)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExpand_MonWedFri(t *testing.T) {
	events, err := Expand(monWedFri(), dates.MustParse("2024-06-10"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []string{"2024-06-03", "2024-06-05", "2024-06-07", "2024-06-10"}
	if got := eventDates(events); !equalStrings(got, want) {
		t.Fatalf("dates = %v, want %v", got, want)
	}
	for _, ev := range events {
		if ev.Source != models.SourceSchedule {
			t.Errorf("source = %s", ev.Source)
		}
		if ev.ScheduleID.String != "sched-1" || !ev.ScheduleID.Valid {
			t.Errorf("scheduleID = %+v", ev.ScheduleID)
		}
		if ev.ZoneNumber.Int64 != 3 || ev.Method != "drip" || ev.BlockID != "block-1" {
			t.Errorf("event fields not copied: %+v", ev)
		}
		if ev.DurationHours != 4.5 {
			t.Errorf("duration = %v, want 4.5", ev.DurationHours)
		}
		if ev.TotalWaterGallons != ev.DurationHours*ev.FlowRateGPM*60 {
			t.Errorf("total = %v, want duration*gpm*60", ev.TotalWaterGallons)
		}
		if ev.ID != "" {
			t.Errorf("expanded event has id %q", ev.ID)
		}
	}
}

func TestExpand_Deterministic(t *testing.T) {
	s := monWedFri()
	until := dates.MustParse("2024-07-31")
	a, _ := Expand(s, until)
	b, _ := Expand(s, until)
	if !equalStrings(eventDates(a), eventDates(b)) {
		t.Fatal("expansion not deterministic")
	}
}

func TestExpand_EndDateAndClipping(t *testing.T) {
	s := monWedFri()
	s.EndDate = sql.NullTime{Time: dates.MustParse("2024-06-07"), Valid: true}

	tests := []struct {
		name  string
		from  time.Time
		until time.Time
		want  []string
	}{
		{"end date caps until", s.StartDate, dates.MustParse("2024-06-30"), []string{"2024-06-03", "2024-06-05", "2024-06-07"}},
		{"until caps end date", s.StartDate, dates.MustParse("2024-06-05"), []string{"2024-06-03", "2024-06-05"}},
		{"from clips start", dates.MustParse("2024-06-04"), dates.MustParse("2024-06-30"), []string{"2024-06-05", "2024-06-07"}},
		{"from before start", dates.MustParse("2024-05-01"), dates.MustParse("2024-06-03"), []string{"2024-06-03"}},
		{"empty range", dates.MustParse("2024-06-08"), dates.MustParse("2024-06-30"), []string{}},
		{"until before start", s.StartDate, dates.MustParse("2024-06-01"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ExpandRange(s, tt.from, tt.until)
			if err != nil {
				t.Fatalf("ExpandRange: %v", err)
			}
			if got := eventDates(events); !equalStrings(got, tt.want) {
				t.Errorf("dates = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpand_TimesPerDayAggregates(t *testing.T) {
	s := monWedFri()
	s.TimesPerDay = 3
	s.StartTime, s.StopTime = "06:00", "07:00"
	events, err := Expand(s, dates.MustParse("2024-06-03"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len = %d, want one aggregate event", len(events))
	}
	if events[0].DurationHours != 3 || events[0].TotalWaterGallons != 3*150*60 {
		t.Errorf("got %v h / %v gal, want 3 h / 27000 gal", events[0].DurationHours, events[0].TotalWaterGallons)
	}
}

func TestDurationHours(t *testing.T) {
	tests := []struct {
		start, stop string
		want        float64
		wantErr     bool
	}{
		{"06:00", "10:30", 4.5, false},
		{"22:00", "02:00", 4, false},
		{"06:00", "06:00", 24, false},
		{"06:15:00", "06:45:00", 0.5, false},
		{"6am", "07:00", 0, true},
		{"06:00", "25:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.start+"-"+tt.stop, func(t *testing.T) {
			got, err := DurationHours(models.IrrigationSchedule{StartTime: tt.start, StopTime: tt.stop})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("DurationHours = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.IrrigationSchedule)
		ok     bool
	}{
		{"valid", func(*models.IrrigationSchedule) {}, true},
		{"no block", func(s *models.IrrigationSchedule) { s.BlockID = "" }, false},
		{"no start", func(s *models.IrrigationSchedule) { s.StartDate = time.Time{} }, false},
		{"end before start", func(s *models.IrrigationSchedule) {
			s.EndDate = sql.NullTime{Time: dates.MustParse("2024-05-01"), Valid: true}
		}, false},
		{"no days", func(s *models.IrrigationSchedule) { s.DaysOfWeek = nil }, false},
		{"bad day", func(s *models.IrrigationSchedule) { s.DaysOfWeek = []time.Weekday{7} }, false},
		{"zero times", func(s *models.IrrigationSchedule) { s.TimesPerDay = 0 }, false},
		{"zero flow", func(s *models.IrrigationSchedule) { s.FlowRateGPM = 0 }, false},
		{"bad time", func(s *models.IrrigationSchedule) { s.StopTime = "later" }, false},
		{"bad state", func(s *models.IrrigationSchedule) { s.State = "running" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := monWedFri()
			tt.mutate(&s)
			err := Validate(s)
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("err = %v, want ErrInvalidSchedule", err)
			}
		})
	}
}

func TestDisplayState(t *testing.T) {
	today := dates.MustParse("2024-06-10")
	paused := monWedFri()
	paused.State = models.SchedulePaused
	schedules := map[string]models.IrrigationSchedule{paused.ID: paused}

	future := models.IrrigationEvent{Date: dates.MustParse("2024-06-12"), ScheduleID: sql.NullString{String: paused.ID, Valid: true}}
	past := future
	past.Date = dates.MustParse("2024-06-07")
	manual := models.IrrigationEvent{Date: dates.MustParse("2024-06-12"), Source: models.SourceManual}

	tests := []struct {
		name string
		ev   models.IrrigationEvent
		want models.EventState
	}{
		{"future paused", future, models.EventPaused},
		{"past paused", past, models.EventCompleted},
		{"today is completed", models.IrrigationEvent{Date: today}, models.EventCompleted},
		{"future manual", manual, models.EventScheduled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayState(tt.ev, schedules, today); got != tt.want {
				t.Errorf("DisplayState = %s, want %s", got, tt.want)
			}
		})
	}
}
