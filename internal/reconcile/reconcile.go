// Package reconcile keeps persisted irrigation events in line with their schedules.
//
// Generation writes are insert-if-missing. Every insert or delete is attempted
// on its own; a failure is logged, counted and returned without aborting the
// rest of the batch.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/metrics"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/schedule"
)

//go:generate mockgen -source=reconcile.go -destination=mocks/mock_reconcile.go -package=mock_reconcile

const DefaultHorizonDays = 30

// EventStore is the persistence the engine reconciles against. A zero start or
// end in ListEvents leaves that side of the range open.
type EventStore interface {
	ListEvents(ctx context.Context, blockID string, start, end time.Time) ([]models.IrrigationEvent, error)
	CreateEvent(ctx context.Context, ev models.IrrigationEvent) (models.IrrigationEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// ConditionalCreator is implemented by stores that can insert a schedule event
// only when none exists for its (block, schedule, date).
type ConditionalCreator interface {
	CreateEventIfMissing(ctx context.Context, ev models.IrrigationEvent) (bool, error)
}

type Scope string

const (
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeFuture:
		return ScopeFuture, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

type Result struct {
	Operation string
	Inserted  int
	Deleted   int
	Skipped   int
	Failed    int
	Errors    []error
}

func (r *Result) Add(o Result) {
	r.Inserted += o.Inserted
	r.Deleted += o.Deleted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// Err joins the per-record failures, nil when there were none.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

func (r *Result) fail(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err)
	log.Printf("reconcile: %s: %v", r.Operation, err)
}

func (r Result) record() {
	for outcome, n := range map[string]int{"inserted": r.Inserted, "deleted": r.Deleted, "skipped": r.Skipped, "failed": r.Failed} {
		if n > 0 {
			metrics.EventsReconciled.WithLabelValues(r.Operation, outcome).Add(float64(n))
		}
	}
}

type Engine struct {
	store       EventStore
	clock       dates.Clock
	horizonDays int
}

func New(store EventStore, clock dates.Clock, horizonDays int) *Engine {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &Engine{store: store, clock: clock, horizonDays: horizonDays}
}

func (e *Engine) HorizonDays() int { return e.horizonDays }

// Extend inserts the schedule's missing events from today through the horizon.
// It is a no-op for a paused schedule.
func (e *Engine) Extend(ctx context.Context, s models.IrrigationSchedule) (Result, error) {
	res := Result{Operation: "extend"}
	if !s.Active() {
		return res, nil
	}
	today := e.clock.Today()
	return e.fill(ctx, s, today, dates.AddDays(today, e.horizonDays), res)
}

// Backfill inserts the schedule's missing events from its start date through today.
// It is a no-op for a paused schedule.
func (e *Engine) Backfill(ctx context.Context, s models.IrrigationSchedule) (Result, error) {
	res := Result{Operation: "backfill"}
	if !s.Active() {
		return res, nil
	}
	return e.fill(ctx, s, s.StartDate, e.clock.Today(), res)
}

func (e *Engine) fill(ctx context.Context, s models.IrrigationSchedule, from, until time.Time, res Result) (Result, error) {
	defer func() { res.record() }()

	generated, err := schedule.ExpandRange(s, from, until)
	if err != nil {
		return res, err
	}
	if len(generated) == 0 {
		return res, nil
	}
	existing, err := e.store.ListEvents(ctx, s.BlockID, from, until)
	if err != nil {
		return res, fmt.Errorf("%s: list events: %w", res.Operation, err)
	}
	have := make(map[time.Time]bool)
	for _, ev := range existing {
		if belongsTo(ev, s.ID) {
			have[dates.Day(ev.Date)] = true
		}
	}

	cond, conditional := e.store.(ConditionalCreator)
	for _, ev := range generated {
		if have[ev.Date] {
			res.Skipped++
			continue
		}
		if conditional {
			inserted, err := cond.CreateEventIfMissing(ctx, ev)
			switch {
			case err != nil:
				res.fail(fmt.Errorf("insert %s %s: %w", s.ID, dates.Format(ev.Date), err))
			case inserted:
				res.Inserted++
			default:
				res.Skipped++
			}
			continue
		}
		if _, err := e.store.CreateEvent(ctx, ev); err != nil {
			res.fail(fmt.Errorf("insert %s %s: %w", s.ID, dates.Format(ev.Date), err))
			continue
		}
		res.Inserted++
	}
	if res.Inserted > 0 {
		log.Printf("reconcile: %s schedule %s: inserted %d events", res.Operation, s.ID, res.Inserted)
	}
	return res, nil
}

// Regenerate rebuilds a schedule's events after its parameters change. ScopeAll
// deletes every event of the schedule then backfills and extends; ScopeFuture
// only replaces events dated today or later. For a paused schedule the stale
// events are still deleted but nothing is generated from today on; Extend
// rebuilds those on resume.
func (e *Engine) Regenerate(ctx context.Context, s models.IrrigationSchedule, scope Scope) (Result, error) {
	res := Result{Operation: "regenerate"}
	today := e.clock.Today()

	var from time.Time
	if scope != ScopeAll {
		from = today
	}
	deleted, err := e.deleteSchedule(ctx, s, from, "regenerate")
	res.Add(deleted)
	if err != nil {
		return res, err
	}

	if !s.Active() {
		if scope != ScopeAll || !dates.Before(s.StartDate, today) {
			return res, nil
		}
		back, err := e.fill(ctx, s, s.StartDate, dates.AddDays(today, -1), Result{Operation: "backfill"})
		res.Add(back)
		return res, err
	}

	if scope == ScopeAll {
		back, err := e.Backfill(ctx, s)
		res.Add(back)
		if err != nil {
			return res, err
		}
	}
	ext, err := e.Extend(ctx, s)
	res.Add(ext)
	return res, err
}

// DeleteFuture removes the schedule's events dated today or later. Past events are kept.
func (e *Engine) DeleteFuture(ctx context.Context, s models.IrrigationSchedule) (Result, error) {
	return e.deleteSchedule(ctx, s, e.clock.Today(), "delete_future")
}

// deleteSchedule removes the schedule's events dated on or after from, or all of
// them when from is zero.
func (e *Engine) deleteSchedule(ctx context.Context, s models.IrrigationSchedule, from time.Time, op string) (Result, error) {
	res := Result{Operation: op}
	defer func() { res.record() }()

	events, err := e.store.ListEvents(ctx, s.BlockID, from, time.Time{})
	if err != nil {
		return res, fmt.Errorf("%s: list events: %w", op, err)
	}
	for _, ev := range events {
		if !belongsTo(ev, s.ID) {
			continue
		}
		if !from.IsZero() && dates.Before(ev.Date, from) {
			continue
		}
		e.delete(ctx, ev, &res)
	}
	return res, nil
}

// Deduplicate keeps the earliest-created schedule event for each (date, schedule)
// and deletes the rest. Ties on creation time go to the lower id.
func (e *Engine) Deduplicate(ctx context.Context, blockID string) (Result, error) {
	res := Result{Operation: "deduplicate"}
	defer func() { res.record() }()

	events, err := e.store.ListEvents(ctx, blockID, time.Time{}, time.Time{})
	if err != nil {
		return res, fmt.Errorf("deduplicate: list events: %w", err)
	}

	type key struct {
		date       time.Time
		scheduleID string
	}
	groups := make(map[key][]models.IrrigationEvent)
	var order []key
	for _, ev := range events {
		if ev.Source != models.SourceSchedule || !ev.ScheduleID.Valid {
			continue
		}
		k := key{dates.Day(ev.Date), ev.ScheduleID.String}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		for _, dup := range group[1:] {
			e.delete(ctx, dup, &res)
		}
	}
	if res.Deleted > 0 {
		log.Printf("reconcile: deduplicate block %s: removed %d duplicates", blockID, res.Deleted)
	}
	return res, nil
}

// CleanOrphans deletes events that reference a schedule not in schedules. The
// set should include paused schedules so pausing never removes events.
func (e *Engine) CleanOrphans(ctx context.Context, blockID string, schedules []models.IrrigationSchedule) (Result, error) {
	res := Result{Operation: "clean_orphans"}
	defer func() { res.record() }()

	known := make(map[string]bool, len(schedules))
	for _, s := range schedules {
		known[s.ID] = true
	}
	events, err := e.store.ListEvents(ctx, blockID, time.Time{}, time.Time{})
	if err != nil {
		return res, fmt.Errorf("clean orphans: list events: %w", err)
	}
	for _, ev := range events {
		if !ev.ScheduleID.Valid || known[ev.ScheduleID.String] {
			continue
		}
		e.delete(ctx, ev, &res)
	}
	if res.Deleted > 0 {
		log.Printf("reconcile: clean orphans block %s: removed %d events", blockID, res.Deleted)
	}
	return res, nil
}

// Sync runs the view-load pass for a block: orphan cleanup, extension of every
// active schedule, then deduplication.
func (e *Engine) Sync(ctx context.Context, blockID string, schedules []models.IrrigationSchedule) (Result, error) {
	res := Result{Operation: "sync"}

	orphans, err := e.CleanOrphans(ctx, blockID, schedules)
	res.Add(orphans)
	if err != nil {
		return res, err
	}
	for _, s := range schedules {
		if s.BlockID != blockID {
			continue
		}
		ext, err := e.Extend(ctx, s)
		res.Add(ext)
		if err != nil {
			res.fail(fmt.Errorf("extend schedule %s: %w", s.ID, err))
		}
	}
	dedup, err := e.Deduplicate(ctx, blockID)
	res.Add(dedup)
	return res, err
}

func (e *Engine) delete(ctx context.Context, ev models.IrrigationEvent, res *Result) {
	if err := e.store.DeleteEvent(ctx, ev.ID); err != nil {
		res.fail(fmt.Errorf("delete event %s: %w", ev.ID, err))
		return
	}
	res.Deleted++
}

func belongsTo(ev models.IrrigationEvent, scheduleID string) bool {
	return ev.ScheduleID.Valid && ev.ScheduleID.String == scheduleID
}
