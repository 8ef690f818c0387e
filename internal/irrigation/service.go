// Package irrigation wires the water-budget calculators and the schedule
// reconciliation engine to storage and the ET and weather sources.
package irrigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lox/vinewater/internal/advisor"
	"github.com/lox/vinewater/internal/budget"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/ingest"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/reconcile"
	"github.com/lox/vinewater/internal/store"
)

var (
	ErrNoCoordinates = errors.New("block has no coordinates")
	ErrInvalidInput  = errors.New("invalid input")
)

type BlockStore interface {
	CreateBlock(ctx context.Context, b models.Block) (models.Block, error)
	UpdateBlock(ctx context.Context, b models.Block) (models.Block, error)
	GetBlock(ctx context.Context, id string) (models.Block, error)
	ListBlocks(ctx context.Context) ([]models.Block, error)
}

type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sc models.IrrigationSchedule) (models.IrrigationSchedule, error)
	UpdateSchedule(ctx context.Context, sc models.IrrigationSchedule) (models.IrrigationSchedule, error)
	SetScheduleState(ctx context.Context, id string, state models.ScheduleState) (models.IrrigationSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	GetSchedule(ctx context.Context, id string) (models.IrrigationSchedule, error)
	ListSchedules(ctx context.Context, blockID string, activeOnly bool) ([]models.IrrigationSchedule, error)
}

// EventStore is the full event persistence the service needs. Both the SQLite
// store and the DynamoDB repository implement it.
type EventStore interface {
	reconcile.EventStore
	GetEvent(ctx context.Context, id string) (models.IrrigationEvent, error)
	UpdateEvent(ctx context.Context, id string, p models.EventPatch) (models.IrrigationEvent, error)
	DetachScheduleEvents(ctx context.Context, blockID, scheduleID string) (int, error)
}

// ETCache persists fetched ET and audits each fetch.
type ETCache interface {
	InsertETRecords(ctx context.Context, blockID string, records []store.ETRecord) (int, error)
	GetETRecords(ctx context.Context, blockID string, start, end time.Time) ([]store.ETRecord, error)
	StartIngestRun(ctx context.Context, source, endpoint, blockID string) (*store.IngestRun, error)
	CompleteIngestRun(ctx context.Context, run *store.IngestRun) error
	StoreRawPayload(ctx context.Context, runID int64, source, endpoint, blockID string, payload []byte) (int64, error)
}

type WeatherSource interface {
	FetchRainfall(ctx context.Context, lat, lng float64, days int) (*models.RainfallSummary, error)
	FetchForecast(ctx context.Context, lat, lng float64) (*models.Forecast, error)
}

type Narrator interface {
	Narrative(ctx context.Context, st advisor.Status) string
}

// Config collects the service's collaborators. Cache, ET, Weather and Advisor
// are optional.
type Config struct {
	Blocks      BlockStore
	Schedules   ScheduleStore
	Events      EventStore
	Cache       ETCache
	ET          ingest.ETSource
	Weather     WeatherSource
	Advisor     Narrator
	Clock       dates.Clock
	WindowDays  int
	HorizonDays int
	OpenETModel string
}

type Service struct {
	blocks     BlockStore
	schedules  ScheduleStore
	events     EventStore
	cache      ETCache
	et         ingest.ETSource
	weather    WeatherSource
	advisor    Narrator
	clock      dates.Clock
	engine     *reconcile.Engine
	windowDays int
	etModel    string
}

func New(cfg Config) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = dates.SystemClock{}
	}
	window := cfg.WindowDays
	if window <= 0 {
		window = budget.DefaultWindowDays
	}
	return &Service{
		blocks:     cfg.Blocks,
		schedules:  cfg.Schedules,
		events:     cfg.Events,
		cache:      cfg.Cache,
		et:         cfg.ET,
		weather:    cfg.Weather,
		advisor:    cfg.Advisor,
		clock:      clock,
		engine:     reconcile.New(cfg.Events, clock, cfg.HorizonDays),
		windowDays: window,
		etModel:    cfg.OpenETModel,
	}
}

func (s *Service) Today() time.Time { return s.clock.Today() }

func (s *Service) WindowDays() int { return s.windowDays }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateBlock(b models.Block) error {
	var problems []string
	if strings.TrimSpace(b.Name) == "" {
		problems = append(problems, "name is required")
	}
	if b.Acres < 0 {
		problems = append(problems, "acres must not be negative")
	}
	if b.FlowRateGPM < 0 {
		problems = append(problems, "flow rate must not be negative")
	}
	if b.Latitude.Valid != b.Longitude.Valid {
		problems = append(problems, "latitude and longitude must be set together")
	}
	if b.Latitude.Valid && (b.Latitude.Float64 < -90 || b.Latitude.Float64 > 90) {
		problems = append(problems, "latitude out of range")
	}
	if b.Longitude.Valid && (b.Longitude.Float64 < -180 || b.Longitude.Float64 > 180) {
		problems = append(problems, "longitude out of range")
	}
	if len(problems) > 0 {
		return invalid("block: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (s *Service) CreateBlock(ctx context.Context, b models.Block) (models.Block, error) {
	if err := validateBlock(b); err != nil {
		return models.Block{}, err
	}
	return s.blocks.CreateBlock(ctx, b)
}

func (s *Service) UpdateBlock(ctx context.Context, b models.Block) (models.Block, error) {
	if err := validateBlock(b); err != nil {
		return models.Block{}, err
	}
	return s.blocks.UpdateBlock(ctx, b)
}

func (s *Service) GetBlock(ctx context.Context, id string) (models.Block, error) {
	return s.blocks.GetBlock(ctx, id)
}

func (s *Service) ListBlocks(ctx context.Context) ([]models.Block, error) {
	return s.blocks.ListBlocks(ctx)
}
