package irrigation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lox/vinewater/internal/advisor"
	"github.com/lox/vinewater/internal/budget"
	"github.com/lox/vinewater/internal/cropcoef"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/et"
	"github.com/lox/vinewater/internal/ingest"
	"github.com/lox/vinewater/internal/metrics"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/recommend"
	"github.com/lox/vinewater/internal/reconcile"
	"github.com/lox/vinewater/internal/soil"
	"github.com/lox/vinewater/internal/store"
)

const sourceCache = "cache"

func coordinates(b models.Block) (lat, lng float64, err error) {
	if !b.HasCoordinates() {
		return 0, 0, fmt.Errorf("block %s: %w", b.ID, ErrNoCoordinates)
	}
	return b.Latitude.Float64, b.Longitude.Float64, nil
}

// CropET returns the block's daily ET over rng with the crop coefficient
// applied. Cached days are used as they are; missing days are fetched from the
// ET source and cached. The returned tag names the source of the newest day.
func (s *Service) CropET(ctx context.Context, b models.Block, rng dates.Range) (models.ETSeries, error) {
	lat, lng, err := coordinates(b)
	if err != nil {
		return models.ETSeries{}, err
	}

	var (
		records []models.ETDailyRecord
		sources = make(map[time.Time]string)
	)
	if s.cache != nil {
		cached, err := s.cache.GetETRecords(ctx, b.ID, rng.Start, rng.End)
		if err != nil {
			log.Printf("irrigation: read et cache for %s: %v", b.ID, err)
		}
		for _, r := range cached {
			if strings.Contains(r.QualityFlags, ingest.FlagETNegative) {
				continue
			}
			records = append(records, models.ETDailyRecord{Date: r.Date, ET: r.ET})
			sources[r.Date] = r.Source
		}
	}

	if missing := et.MissingDays(records, rng); len(missing) > 0 && s.et != nil {
		fetched, err := s.fetchET(ctx, b, lat, lng, dates.NewRange(missing[0], missing[len(missing)-1]))
		switch {
		case err != nil && len(records) == 0:
			return models.ETSeries{}, fmt.Errorf("%w: %v", budget.ErrNoData, err)
		case err != nil:
			log.Printf("irrigation: et fetch for %s failed, using %d cached days: %v", b.ID, len(records), err)
		default:
			var fresh []models.ETDailyRecord
			for _, r := range et.Window(fetched.Records, rng) {
				if !ingest.Usable(ingest.ValidateET(r)) {
					continue
				}
				fresh = append(fresh, r)
				sources[dates.Day(r.Date)] = fetched.Source
			}
			records = et.Merge(records, fresh)
		}
	}

	if len(records) == 0 {
		return models.ETSeries{}, budget.ErrNoData
	}
	et.Sort(records)
	tag := sources[dates.Day(records[len(records)-1].Date)]
	if tag == "" {
		tag = sourceCache
	}
	hemisphere := cropcoef.HemisphereOf(lat)
	return models.ETSeries{Records: et.ApplyKc(records, hemisphere.Kc), Source: tag}, nil
}

// fetchET calls the ET source for rng, auditing the run and caching the result.
func (s *Service) fetchET(ctx context.Context, b models.Block, lat, lng float64, rng dates.Range) (*models.ETSeries, error) {
	req := ingest.ETRequest{
		Latitude:  lat,
		Longitude: lng,
		Start:     rng.Start,
		End:       rng.End,
		Model:     s.etModel,
		Interval:  "daily",
	}
	if b.CIMISStation.Valid {
		req.CIMISStation = int(b.CIMISStation.Int64)
	}

	var run *store.IngestRun
	if s.cache != nil {
		var err error
		run, err = s.cache.StartIngestRun(ctx, s.et.Name(), "et", b.ID)
		if err != nil {
			log.Printf("irrigation: start ingest run: %v", err)
		}
	}

	series, result, err := s.et.FetchET(ctx, req)
	if run != nil {
		s.completeRun(ctx, b.ID, run, series, result, err)
	}
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (s *Service) completeRun(ctx context.Context, blockID string, run *store.IngestRun, series *models.ETSeries, result *ingest.FetchResult, fetchErr error) {
	if result != nil {
		if result.Source != "" {
			run.Source = result.Source
		}
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
		run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: true}
	}

	if fetchErr != nil {
		run.ErrorMessage = sql.NullString{String: fetchErr.Error(), Valid: true}
	} else if series != nil {
		recs := make([]store.ETRecord, 0, len(series.Records))
		flagged := 0
		for _, r := range series.Records {
			flags := ingest.ValidateET(r)
			if len(flags) > 0 {
				flagged++
				log.Printf("irrigation: et %s %s %.2fmm flagged %v", blockID, dates.Format(r.Date), r.ET, flags)
			}
			recs = append(recs, store.ETRecord{
				Date:         r.Date,
				ET:           r.ET,
				Source:       series.Source,
				QualityFlags: ingest.QualityFlagsToJSON(flags),
			})
		}
		stored, err := s.cache.InsertETRecords(ctx, blockID, recs)
		if err != nil {
			log.Printf("irrigation: cache et for %s: %v", blockID, err)
		}
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		run.ParseErrors = sql.NullInt64{Int64: run.ParseErrors.Int64 + int64(flagged), Valid: true}
		run.Success = true

		if len(series.Raw) > 0 {
			if _, err := s.cache.StoreRawPayload(ctx, run.ID, series.Source, run.Endpoint, blockID, series.Raw); err != nil {
				log.Printf("irrigation: store raw payload: %v", err)
			}
		}
	}

	if err := s.cache.CompleteIngestRun(ctx, run); err != nil {
		log.Printf("irrigation: complete ingest run %d: %v", run.ID, err)
	}
}

// rainfall returns the block's recent rainfall, or nil when it is unavailable.
func (s *Service) rainfall(ctx context.Context, lat, lng float64) *models.RainfallSummary {
	if s.weather == nil {
		return nil
	}
	r, err := s.weather.FetchRainfall(ctx, lat, lng, s.windowDays)
	if err != nil {
		log.Printf("irrigation: rainfall: %v", err)
		return nil
	}
	return r
}

// Analysis is everything derived from a block's water balance for one window.
type Analysis struct {
	Block          models.Block
	Budget         *budget.WaterBudget
	Soil           *soil.Estimate
	Recommendation *recommend.Recommendation
	Forecast       *models.Forecast
	Rainfall       *models.RainfallSummary
	Events         []models.IrrigationEvent // events in the budget window
}

// WaterBudget computes the deficit for the lookback window ending today.
func (s *Service) WaterBudget(ctx context.Context, blockID string) (*Analysis, error) {
	b, err := s.blocks.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	if b.Acres <= 0 {
		return nil, fmt.Errorf("block %s: %w", b.ID, budget.ErrNoArea)
	}
	lat, lng, err := coordinates(b)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	rng := dates.Lookback(today, s.windowDays)
	series, err := s.CropET(ctx, b, rng)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListEvents(ctx, b.ID, time.Time{}, today)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	rain := s.rainfall(ctx, lat, lng)

	wb, err := budget.Calculate(budget.Input{
		Acres:      b.Acres,
		ET:         series.Records,
		Events:     events,
		Rainfall:   rain,
		Today:      today,
		WindowDays: s.windowDays,
		ETSource:   series.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("block %s: %w", b.ID, err)
	}
	coverage := "full"
	if wb.CoverageWarning {
		coverage = "partial"
	}
	metrics.BudgetsComputed.WithLabelValues(coverage).Inc()

	var inWindow []models.IrrigationEvent
	for _, ev := range events {
		if wb.Range.Contains(ev.Date) {
			inWindow = append(inWindow, ev)
		}
	}
	return &Analysis{Block: b, Budget: wb, Rainfall: rain, Events: inWindow}, nil
}

// SoilMoisture layers the budget's deficit and applied water into a moisture estimate.
func (s *Service) SoilMoisture(ctx context.Context, blockID string) (*Analysis, error) {
	a, err := s.WaterBudget(ctx, blockID)
	if err != nil {
		return nil, err
	}
	est := soil.EstimateMoisture(soil.Input{
		DeficitMM:  a.Budget.DeficitMM(),
		Events:     a.Events,
		Acres:      a.Block.Acres,
		RainfallMM: a.Budget.RainfallMM(),
	})
	a.Soil = &est
	return a, nil
}

// Recommendation sizes the next irrigation from the deficit and the forecast
// crop water use. A missing forecast counts as zero.
func (s *Service) Recommendation(ctx context.Context, blockID string) (*Analysis, error) {
	a, err := s.SoilMoisture(ctx, blockID)
	if err != nil {
		return nil, err
	}
	a.Forecast = s.forecast(ctx, a.Block)
	rec := recommend.Recommend(recommend.Input{
		DeficitMM:    a.Budget.DeficitMM(),
		Acres:        a.Block.Acres,
		FlowRateGPM:  a.Block.FlowRateGPM,
		ForecastETMM: forecastCropET(a.Forecast, a.Block.Latitude.Float64),
	})
	a.Recommendation = &rec
	return a, nil
}

func (s *Service) forecast(ctx context.Context, b models.Block) *models.Forecast {
	if s.weather == nil || !b.HasCoordinates() {
		return nil
	}
	fc, err := s.weather.FetchForecast(ctx, b.Latitude.Float64, b.Longitude.Float64)
	if err != nil {
		log.Printf("irrigation: forecast for %s: %v", b.ID, err)
		return nil
	}
	return fc
}

// forecastCropET applies the crop coefficient to each forecast day's reference ET.
func forecastCropET(fc *models.Forecast, lat float64) float64 {
	if fc == nil {
		return 0
	}
	h := cropcoef.HemisphereOf(lat)
	var total float64
	for _, p := range fc.Periods {
		total += p.ET0MM * h.Kc(p.Date)
	}
	return total
}

// Overview is the block dashboard: sync, then the full analysis and a narrative.
// Unavailable carries the reason when the budget could not be computed.
type Overview struct {
	Analysis
	Stage       cropcoef.StageInfo
	Sync        reconcile.Result
	Narrative   string
	Unavailable string
}

func (s *Service) Overview(ctx context.Context, blockID string) (*Overview, error) {
	b, err := s.blocks.GetBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}
	ov := &Overview{Analysis: Analysis{Block: b}}
	ov.Stage = cropcoef.HemisphereOf(b.Latitude.Float64).Resolve(s.clock.Today())

	ov.Sync, err = s.SyncBlock(ctx, blockID)
	if err != nil {
		log.Printf("irrigation: overview sync for %s: %v", blockID, err)
	}

	a, err := s.Recommendation(ctx, blockID)
	switch {
	case err == nil:
		ov.Analysis = *a
	case IsUnavailable(err):
		ov.Unavailable = err.Error()
		ov.Forecast = s.forecast(ctx, b)
	default:
		return nil, err
	}

	if s.advisor != nil {
		ov.Narrative = s.advisor.Narrative(ctx, advisor.Status{
			Block:          ov.Block,
			Budget:         ov.Budget,
			Soil:           ov.Soil,
			Recommendation: ov.Recommendation,
			Forecast:       ov.Forecast,
		})
	} else {
		ov.Narrative = advisor.FallbackNarrative(advisor.Status{
			Block:          ov.Block,
			Budget:         ov.Budget,
			Recommendation: ov.Recommendation,
			Forecast:       ov.Forecast,
		})
	}
	return ov, nil
}

// IsUnavailable reports whether err means the analysis lacks inputs rather
// than that something failed.
func IsUnavailable(err error) bool {
	return errors.Is(err, budget.ErrNoData) || errors.Is(err, budget.ErrNoArea) || errors.Is(err, ErrNoCoordinates)
}
