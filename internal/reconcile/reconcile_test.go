package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/models"
	mock_reconcile "github.com/lox/vinewater/internal/reconcile/mocks"
	"github.com/lox/vinewater/internal/schedule"
	"go.uber.org/mock/gomock"
)

// memStore is an event store with no uniqueness guarantees, so duplicates can
// be seeded directly.
type memStore struct {
	events []models.IrrigationEvent
	seq    int
}

func (m *memStore) ListEvents(_ context.Context, blockID string, start, end time.Time) ([]models.IrrigationEvent, error) {
	var out []models.IrrigationEvent
	for _, ev := range m.events {
		if ev.BlockID != blockID {
			continue
		}
		if !start.IsZero() && ev.Date.Before(start) {
			continue
		}
		if !end.IsZero() && ev.Date.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memStore) CreateEvent(_ context.Context, ev models.IrrigationEvent) (models.IrrigationEvent, error) {
	m.seq++
	ev.ID = fmt.Sprintf("ev-%04d", m.seq)
	ev.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *memStore) DeleteEvent(_ context.Context, id string) error {
	for i, ev := range m.events {
		if ev.ID == id {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s not found", id)
}

func (m *memStore) scheduleDates(scheduleID string) []string {
	var out []string
	for _, ev := range m.events {
		if ev.ScheduleID.Valid && ev.ScheduleID.String == scheduleID {
			out = append(out, dates.Format(ev.Date))
		}
	}
	sort.Strings(out)
	return out
}

var today = dates.MustParse("2024-06-10") // Monday

func testSchedule() models.IrrigationSchedule {
	return models.IrrigationSchedule{
		ID:          "sched-1",
		BlockID:     "block-1",
		StartDate:   dates.MustParse("2024-06-03"),
		StartTime:   "06:00",
		StopTime:    "08:00",
		FlowRateGPM: 100,
		Method:      "drip",
		DaysOfWeek:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		TimesPerDay: 1,
		State:       models.ScheduleActive,
	}
}

func expansionDates(t *testing.T, s models.IrrigationSchedule, from, until time.Time) []string {
	t.Helper()
	events, err := schedule.ExpandRange(s, from, until)
	if err != nil {
		t.Fatalf("ExpandRange: %v", err)
	}
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = dates.Format(ev.Date)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
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

func filterFrom(ds []string, from string) []string {
	var out []string
	for _, d := range ds {
		if d >= from {
			out = append(out, d)
		}
	}
	return out
}

func filterUntil(ds []string, until string) []string {
	var out []string
	for _, d := range ds {
		if d <= until {
			out = append(out, d)
		}
	}
	return out
}

func scheduleEvent(s models.IrrigationSchedule, date string) models.IrrigationEvent {
	return models.IrrigationEvent{
		BlockID:           s.BlockID,
		Date:              dates.MustParse(date),
		DurationHours:     1,
		FlowRateGPM:       50,
		TotalWaterGallons: 3000,
		Source:            models.SourceSchedule,
		ScheduleID:        sql.NullString{String: s.ID, Valid: true},
	}
}

func TestExtend_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	eng := New(store, dates.FixedClock(today), 30)
	s := testSchedule()

	first, err := eng.Extend(ctx, s)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	want := expansionDates(t, s, today, dates.AddDays(today, 30))
	if first.Inserted != len(want) {
		t.Errorf("inserted = %d, want %d", first.Inserted, len(want))
	}
	if got := store.scheduleDates(s.ID); !equal(got, want) {
		t.Errorf("dates = %v, want %v", got, want)
	}

	second, err := eng.Extend(ctx, s)
	if err != nil {
		t.Fatalf("Extend again: %v", err)
	}
	if second.Inserted != 0 || second.Skipped != len(want) {
		t.Errorf("second run inserted=%d skipped=%d, want 0/%d", second.Inserted, second.Skipped, len(want))
	}
	if len(store.events) != len(want) {
		t.Errorf("store has %d events after second run, want %d", len(store.events), len(want))
	}
}

func TestBackfill_ThenExtend(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	eng := New(store, dates.FixedClock(today), 30)
	s := testSchedule()

	res, err := eng.Backfill(ctx, s)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	want := []string{"2024-06-03", "2024-06-05", "2024-06-07", "2024-06-10"}
	if res.Inserted != 4 {
		t.Errorf("inserted = %d, want 4", res.Inserted)
	}
	if got := store.scheduleDates(s.ID); !equal(got, want) {
		t.Fatalf("dates = %v, want %v", got, want)
	}

	again, _ := eng.Backfill(ctx, s)
	if again.Inserted != 0 {
		t.Errorf("second backfill inserted %d", again.Inserted)
	}

	ext, err := eng.Extend(ctx, s)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if ext.Skipped != 1 {
		t.Errorf("extend skipped = %d, want 1 (today already backfilled)", ext.Skipped)
	}
}

func TestPausedSchedule_NoOps(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	s.State = models.SchedulePaused
	store := &memStore{}
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-12"))
	eng := New(store, dates.FixedClock(today), 30)

	for name, op := range map[string]func() (Result, error){
		"extend":   func() (Result, error) { return eng.Extend(ctx, s) },
		"backfill": func() (Result, error) { return eng.Backfill(ctx, s) },
	} {
		res, err := op()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if res.Inserted != 0 || res.Deleted != 0 {
			t.Errorf("%s on paused schedule changed events: %+v", name, res)
		}
	}
	if len(store.events) != 1 {
		t.Errorf("store has %d events, want the original 1", len(store.events))
	}
}

func TestRegenerate_PausedDropsStaleFuture(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	s.State = models.SchedulePaused
	store := &memStore{}
	for _, d := range []string{"2024-06-05", "2024-06-10", "2024-06-12", "2024-06-14"} {
		store.CreateEvent(ctx, scheduleEvent(s, d))
	}
	eng := New(store, dates.FixedClock(today), 30)

	res, err := eng.Regenerate(ctx, s, ScopeFuture)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if res.Deleted != 3 || res.Inserted != 0 {
		t.Errorf("result = %+v, want 3 deleted and nothing inserted", res)
	}
	if got := store.scheduleDates(s.ID); !equal(got, []string{"2024-06-05"}) {
		t.Fatalf("dates after regenerate = %v, want only the past event", got)
	}

	// Resuming rebuilds the future from the current parameters.
	s.State = models.ScheduleActive
	if _, err := eng.Extend(ctx, s); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	for _, ev := range store.events {
		if !dates.Before(ev.Date, today) && ev.FlowRateGPM != s.FlowRateGPM {
			t.Errorf("event %s has stale flow rate %v", dates.Format(ev.Date), ev.FlowRateGPM)
		}
	}
	future := filterFrom(store.scheduleDates(s.ID), dates.Format(today))
	if want := expansionDates(t, s, today, dates.AddDays(today, 30)); !equal(future, want) {
		t.Errorf("future dates = %v, want %v", future, want)
	}
}

func TestRegenerate_PausedAllRewritesPastOnly(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	s.State = models.SchedulePaused
	store := &memStore{}
	for _, d := range []string{"2024-06-04", "2024-06-12"} {
		store.CreateEvent(ctx, scheduleEvent(s, d))
	}
	eng := New(store, dates.FixedClock(today), 30)

	if _, err := eng.Regenerate(ctx, s, ScopeAll); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	want := expansionDates(t, s, s.StartDate, dates.AddDays(today, -1))
	if got := store.scheduleDates(s.ID); !equal(got, want) {
		t.Errorf("dates = %v, want past expansion %v", got, want)
	}
	for _, ev := range store.events {
		if ev.FlowRateGPM != s.FlowRateGPM {
			t.Errorf("event %s has stale flow rate", dates.Format(ev.Date))
		}
	}
}

func TestRegenerate_All(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	store := &memStore{}
	// Stale events from before the parameters changed, on the wrong days.
	for _, d := range []string{"2024-06-04", "2024-06-05", "2024-06-20"} {
		store.CreateEvent(ctx, scheduleEvent(s, d))
	}
	manual := models.IrrigationEvent{BlockID: s.BlockID, Date: dates.MustParse("2024-06-06"), Source: models.SourceManual}
	store.CreateEvent(ctx, manual)

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.Regenerate(ctx, s, ScopeAll)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if res.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", res.Deleted)
	}

	got := store.scheduleDates(s.ID)
	past := filterUntil(got, dates.Format(today))
	if want := expansionDates(t, s, s.StartDate, today); !equal(past, want) {
		t.Errorf("past dates = %v, want expansion %v", past, want)
	}
	future := filterFrom(got, dates.Format(today))
	if want := expansionDates(t, s, today, dates.AddDays(today, 30)); !equal(future, want) {
		t.Errorf("future dates = %v, want %v", future, want)
	}
	for _, ev := range store.events {
		if ev.ScheduleID.Valid && ev.FlowRateGPM != s.FlowRateGPM {
			t.Errorf("event %s kept stale flow rate %v", ev.ID, ev.FlowRateGPM)
		}
	}
	if len(store.events) != len(got)+1 {
		t.Error("manual event was removed")
	}
}

func TestRegenerate_FutureKeepsPast(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	store := &memStore{}
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-05"))
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-12"))

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.Regenerate(ctx, s, ScopeFuture)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if res.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", res.Deleted)
	}
	for _, ev := range store.events {
		if dates.Format(ev.Date) == "2024-06-05" && ev.FlowRateGPM != 50 {
			t.Error("past event rewritten by future-only regenerate")
		}
		if dates.After(ev.Date, today) && ev.FlowRateGPM != s.FlowRateGPM {
			t.Errorf("future event %s has stale flow rate", dates.Format(ev.Date))
		}
	}
}

func TestDeleteFuture(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	other := testSchedule()
	other.ID = "sched-2"
	store := &memStore{}
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-07"))
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-10"))
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-14"))
	store.CreateEvent(ctx, scheduleEvent(other, "2024-06-14"))

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.DeleteFuture(ctx, s)
	if err != nil {
		t.Fatalf("DeleteFuture: %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", res.Deleted)
	}
	if got := store.scheduleDates(s.ID); !equal(got, []string{"2024-06-07"}) {
		t.Errorf("remaining = %v, want [2024-06-07]", got)
	}
	if got := store.scheduleDates(other.ID); len(got) != 1 {
		t.Errorf("other schedule events = %v, want untouched", got)
	}
}

func TestDeduplicate(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	store := &memStore{}
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store.events = []models.IrrigationEvent{
		{ID: "c", BlockID: s.BlockID, Date: dates.MustParse("2024-06-12"), Source: models.SourceSchedule, ScheduleID: sql.NullString{String: s.ID, Valid: true}, CreatedAt: created.Add(time.Minute)},
		{ID: "b", BlockID: s.BlockID, Date: dates.MustParse("2024-06-12"), Source: models.SourceSchedule, ScheduleID: sql.NullString{String: s.ID, Valid: true}, CreatedAt: created},
		{ID: "a", BlockID: s.BlockID, Date: dates.MustParse("2024-06-12"), Source: models.SourceSchedule, ScheduleID: sql.NullString{String: s.ID, Valid: true}, CreatedAt: created},
		{ID: "d", BlockID: s.BlockID, Date: dates.MustParse("2024-06-14"), Source: models.SourceSchedule, ScheduleID: sql.NullString{String: s.ID, Valid: true}, CreatedAt: created},
		{ID: "m1", BlockID: s.BlockID, Date: dates.MustParse("2024-06-12"), Source: models.SourceManual},
		{ID: "m2", BlockID: s.BlockID, Date: dates.MustParse("2024-06-12"), Source: models.SourceManual},
	}

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.Deduplicate(ctx, s.BlockID)
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", res.Deleted)
	}
	ids := map[string]bool{}
	for _, ev := range store.events {
		ids[ev.ID] = true
	}
	for _, want := range []string{"a", "d", "m1", "m2"} {
		if !ids[want] {
			t.Errorf("event %s was removed", want)
		}
	}
	if ids["b"] || ids["c"] {
		t.Error("duplicates b/c were kept")
	}
}

func TestCleanOrphans(t *testing.T) {
	ctx := context.Background()
	active := testSchedule()
	paused := testSchedule()
	paused.ID = "sched-paused"
	paused.State = models.SchedulePaused
	gone := testSchedule()
	gone.ID = "sched-deleted"

	store := &memStore{}
	store.CreateEvent(ctx, scheduleEvent(active, "2024-06-12"))
	store.CreateEvent(ctx, scheduleEvent(paused, "2024-06-12"))
	store.CreateEvent(ctx, scheduleEvent(gone, "2024-06-05"))
	store.CreateEvent(ctx, scheduleEvent(gone, "2024-06-12"))
	store.CreateEvent(ctx, models.IrrigationEvent{BlockID: active.BlockID, Date: today, Source: models.SourceWebhook})

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.CleanOrphans(ctx, active.BlockID, []models.IrrigationSchedule{active, paused})
	if err != nil {
		t.Fatalf("CleanOrphans: %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", res.Deleted)
	}
	if len(store.scheduleDates(gone.ID)) != 0 {
		t.Error("orphaned events remain")
	}
	if len(store.scheduleDates(paused.ID)) != 1 {
		t.Error("paused schedule's event was treated as orphan")
	}
	if len(store.events) != 3 {
		t.Errorf("store has %d events, want 3", len(store.events))
	}
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	s := testSchedule()
	paused := testSchedule()
	paused.ID = "sched-paused"
	paused.State = models.SchedulePaused

	store := &memStore{}
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-12"))
	store.CreateEvent(ctx, scheduleEvent(s, "2024-06-12"))
	store.CreateEvent(ctx, scheduleEvent(models.IrrigationSchedule{ID: "old", BlockID: s.BlockID}, "2024-06-12"))

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.Sync(ctx, s.BlockID, []models.IrrigationSchedule{s, paused})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := expansionDates(t, s, today, dates.AddDays(today, 30))
	if got := store.scheduleDates(s.ID); !equal(got, want) {
		t.Errorf("dates = %v, want %v", got, want)
	}
	if res.Deleted != 2 {
		t.Errorf("deleted = %d, want 2 (one orphan, one duplicate)", res.Deleted)
	}
	if len(store.scheduleDates(paused.ID)) != 0 {
		t.Error("paused schedule was extended")
	}

	again, err := eng.Sync(ctx, s.BlockID, []models.IrrigationSchedule{s, paused})
	if err != nil {
		t.Fatalf("Sync again: %v", err)
	}
	if again.Inserted != 0 || again.Deleted != 0 {
		t.Errorf("second sync changed events: %+v", again)
	}
}

func TestExtend_InsertFailureContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := testSchedule()
	s.EndDate = sql.NullTime{Time: dates.MustParse("2024-06-14"), Valid: true}
	mockStore := mock_reconcile.NewMockEventStore(ctrl)
	mockStore.EXPECT().ListEvents(gomock.Any(), s.BlockID, today, dates.AddDays(today, 30)).Return(nil, nil)
	boom := errors.New("write timeout")
	mockStore.EXPECT().CreateEvent(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ev models.IrrigationEvent) (models.IrrigationEvent, error) {
			if dates.Format(ev.Date) == "2024-06-12" {
				return models.IrrigationEvent{}, boom
			}
			return ev, nil
		}).Times(3)

	eng := New(mockStore, dates.FixedClock(today), 30)
	res, err := eng.Extend(context.Background(), s)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if res.Inserted != 2 || res.Failed != 1 {
		t.Errorf("inserted=%d failed=%d, want 2/1", res.Inserted, res.Failed)
	}
	if !errors.Is(res.Err(), boom) {
		t.Errorf("Err() = %v, want wrapped write failure", res.Err())
	}
}

func TestDeleteFuture_DeleteFailureContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := testSchedule()
	events := []models.IrrigationEvent{scheduleEvent(s, "2024-06-10"), scheduleEvent(s, "2024-06-12"), scheduleEvent(s, "2024-06-14")}
	for i := range events {
		events[i].ID = fmt.Sprintf("ev-%d", i)
	}
	mockStore := mock_reconcile.NewMockEventStore(ctrl)
	mockStore.EXPECT().ListEvents(gomock.Any(), s.BlockID, today, time.Time{}).Return(events, nil)
	mockStore.EXPECT().DeleteEvent(gomock.Any(), "ev-0").Return(nil)
	mockStore.EXPECT().DeleteEvent(gomock.Any(), "ev-1").Return(errors.New("throttled"))
	mockStore.EXPECT().DeleteEvent(gomock.Any(), "ev-2").Return(nil)

	eng := New(mockStore, dates.FixedClock(today), 30)
	res, err := eng.DeleteFuture(context.Background(), s)
	if err != nil {
		t.Fatalf("DeleteFuture: %v", err)
	}
	if res.Deleted != 2 || res.Failed != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want 2 deleted 1 failed", res)
	}
}

func TestExtend_ListFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mock_reconcile.NewMockEventStore(ctrl)
	mockStore.EXPECT().ListEvents(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("unavailable"))

	eng := New(mockStore, dates.FixedClock(today), 30)
	if _, err := eng.Extend(context.Background(), testSchedule()); err == nil {
		t.Fatal("expected error when events cannot be listed")
	}
}

type conditionalStore struct {
	*mock_reconcile.MockEventStore
	*mock_reconcile.MockConditionalCreator
}

func TestExtend_UsesConditionalCreate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := testSchedule()
	s.EndDate = sql.NullTime{Time: dates.MustParse("2024-06-12"), Valid: true}
	store := conditionalStore{
		MockEventStore:         mock_reconcile.NewMockEventStore(ctrl),
		MockConditionalCreator: mock_reconcile.NewMockConditionalCreator(ctrl),
	}
	store.MockEventStore.EXPECT().ListEvents(gomock.Any(), s.BlockID, gomock.Any(), gomock.Any()).Return(nil, nil)
	// Another writer got 06-10 in first; the store reports it as already present.
	store.MockConditionalCreator.EXPECT().CreateEventIfMissing(gomock.Any(), gomock.Any()).Return(false, nil)
	store.MockConditionalCreator.EXPECT().CreateEventIfMissing(gomock.Any(), gomock.Any()).Return(true, nil)

	eng := New(store, dates.FixedClock(today), 30)
	res, err := eng.Extend(context.Background(), s)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 1 {
		t.Errorf("inserted=%d skipped=%d, want 1/1", res.Inserted, res.Skipped)
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", ScopeFuture, false},
		{"future", ScopeFuture, false},
		{"all", ScopeAll, false},
		{"past", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseScope(%q) = %q, %v", tt.in, got, err)
		}
	}
}
