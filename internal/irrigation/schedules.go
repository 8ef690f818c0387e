package irrigation

import (
	"context"
	"fmt"
	"log"

	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/reconcile"
	"github.com/lox/vinewater/internal/schedule"
)

// SyncBlock is the view-load pass: it cleans orphans, extends every active
// schedule through the horizon and removes duplicates.
func (s *Service) SyncBlock(ctx context.Context, blockID string) (reconcile.Result, error) {
	schedules, err := s.schedules.ListSchedules(ctx, blockID, false)
	if err != nil {
		return reconcile.Result{Operation: "sync"}, fmt.Errorf("list schedules: %w", err)
	}
	return s.engine.Sync(ctx, blockID, schedules)
}

func (s *Service) ListSchedules(ctx context.Context, blockID string, activeOnly bool) ([]models.IrrigationSchedule, error) {
	return s.schedules.ListSchedules(ctx, blockID, activeOnly)
}

func (s *Service) GetSchedule(ctx context.Context, id string) (models.IrrigationSchedule, error) {
	return s.schedules.GetSchedule(ctx, id)
}

// CreateSchedule stores a new schedule and generates its events from the start
// date through the horizon.
func (s *Service) CreateSchedule(ctx context.Context, sc models.IrrigationSchedule) (models.IrrigationSchedule, reconcile.Result, error) {
	res := reconcile.Result{Operation: "create_schedule"}
	if sc.TimesPerDay == 0 {
		sc.TimesPerDay = 1
	}
	if sc.State == "" {
		sc.State = models.ScheduleActive
	}
	if err := schedule.Validate(sc); err != nil {
		return models.IrrigationSchedule{}, res, err
	}
	if _, err := s.blocks.GetBlock(ctx, sc.BlockID); err != nil {
		return models.IrrigationSchedule{}, res, err
	}

	created, err := s.schedules.CreateSchedule(ctx, sc)
	if err != nil {
		return models.IrrigationSchedule{}, res, err
	}
	back, err := s.engine.Backfill(ctx, created)
	res.Add(back)
	if err != nil {
		return created, res, err
	}
	ext, err := s.engine.Extend(ctx, created)
	res.Add(ext)
	return created, res, err
}

// UpdateSchedule saves changed parameters and regenerates events for scope.
// The schedule's block and state are kept as stored.
func (s *Service) UpdateSchedule(ctx context.Context, sc models.IrrigationSchedule, scope reconcile.Scope) (models.IrrigationSchedule, reconcile.Result, error) {
	res := reconcile.Result{Operation: "update_schedule"}
	current, err := s.schedules.GetSchedule(ctx, sc.ID)
	if err != nil {
		return models.IrrigationSchedule{}, res, err
	}
	sc.BlockID = current.BlockID
	sc.State = current.State
	if sc.TimesPerDay == 0 {
		sc.TimesPerDay = 1
	}
	if err := schedule.Validate(sc); err != nil {
		return models.IrrigationSchedule{}, res, err
	}

	updated, err := s.schedules.UpdateSchedule(ctx, sc)
	if err != nil {
		return models.IrrigationSchedule{}, res, err
	}
	regen, err := s.engine.Regenerate(ctx, updated, scope)
	res.Add(regen)
	return updated, res, err
}

// DeleteSchedule removes the schedule's future events, keeps its past events as
// history and deletes the schedule.
func (s *Service) DeleteSchedule(ctx context.Context, id string) (reconcile.Result, error) {
	res := reconcile.Result{Operation: "delete_schedule"}
	sc, err := s.schedules.GetSchedule(ctx, id)
	if err != nil {
		return res, err
	}
	future, err := s.engine.DeleteFuture(ctx, sc)
	res.Add(future)
	if err != nil {
		return res, err
	}
	detached, err := s.events.DetachScheduleEvents(ctx, sc.BlockID, sc.ID)
	if err != nil {
		return res, fmt.Errorf("detach past events: %w", err)
	}
	if detached > 0 {
		log.Printf("irrigation: schedule %s deleted, kept %d past events", sc.ID, detached)
	}
	return res, s.schedules.DeleteSchedule(ctx, id)
}

// PauseSchedule stops generation for the schedule. With clean set, its future
// events are deleted too; otherwise they stay and display as paused.
func (s *Service) PauseSchedule(ctx context.Context, id string, clean bool) (models.IrrigationSchedule, reconcile.Result, error) {
	res := reconcile.Result{Operation: "pause"}
	sc, err := s.schedules.SetScheduleState(ctx, id, models.SchedulePaused)
	if err != nil {
		return models.IrrigationSchedule{}, res, err
	}
	if clean {
		future, err := s.engine.DeleteFuture(ctx, sc)
		res.Add(future)
		if err != nil {
			return sc, res, err
		}
	}
	return sc, res, nil
}

// ResumeSchedule reactivates the schedule and extends it through the horizon.
// Days missed while paused are not backfilled.
func (s *Service) ResumeSchedule(ctx context.Context, id string) (models.IrrigationSchedule, reconcile.Result, error) {
	res := reconcile.Result{Operation: "resume"}
	sc, err := s.schedules.SetScheduleState(ctx, id, models.ScheduleActive)
	if err != nil {
		return models.IrrigationSchedule{}, res, err
	}
	ext, err := s.engine.Extend(ctx, sc)
	res.Add(ext)
	return sc, res, err
}

func (s *Service) BackfillSchedule(ctx context.Context, id string) (reconcile.Result, error) {
	sc, err := s.schedules.GetSchedule(ctx, id)
	if err != nil {
		return reconcile.Result{Operation: "backfill"}, err
	}
	return s.engine.Backfill(ctx, sc)
}

func (s *Service) RegenerateSchedule(ctx context.Context, id string, scope reconcile.Scope) (reconcile.Result, error) {
	sc, err := s.schedules.GetSchedule(ctx, id)
	if err != nil {
		return reconcile.Result{Operation: "regenerate"}, err
	}
	return s.engine.Regenerate(ctx, sc, scope)
}

// SyncAll runs SyncBlock for every block and returns the combined result.
// A failing block is logged and the rest still run.
func (s *Service) SyncAll(ctx context.Context) (reconcile.Result, error) {
	total := reconcile.Result{Operation: "sync_all"}
	blocks, err := s.blocks.ListBlocks(ctx)
	if err != nil {
		return total, err
	}
	for _, b := range blocks {
		res, err := s.SyncBlock(ctx, b.ID)
		total.Add(res)
		if err != nil {
			log.Printf("irrigation: sync %s: %v", b.ID, err)
			total.Failed++
			total.Errors = append(total.Errors, fmt.Errorf("sync %s: %w", b.ID, err))
		}
	}
	return total, nil
}
