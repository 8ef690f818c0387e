package api

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/vinewater/internal/budget"
	"github.com/lox/vinewater/internal/cropcoef"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/irrigation"
	"github.com/lox/vinewater/internal/models"
	"github.com/lox/vinewater/internal/recommend"
	"github.com/lox/vinewater/internal/reconcile"
	"github.com/lox/vinewater/internal/soil"
	"github.com/lox/vinewater/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type BlockJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Acres        float64   `json:"acres"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	FlowRateGPM  float64   `json:"flowRateGpm"`
	SoilType     string    `json:"soilType,omitempty"`
	CIMISStation *int64    `json:"cimisStation,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BlockRequest is the body of block create and patch. Absent fields keep their
// current value on patch.
type BlockRequest struct {
	Name         *string  `json:"name"`
	Acres        *float64 `json:"acres"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	FlowRateGPM  *float64 `json:"flowRateGpm"`
	SoilType     *string  `json:"soilType"`
	CIMISStation *int64   `json:"cimisStation"`
}

func (req BlockRequest) apply(b *models.Block) {
	if req.Name != nil {
		b.Name = *req.Name
	}
	if req.Acres != nil {
		b.Acres = *req.Acres
	}
	if req.Latitude != nil {
		b.Latitude = sql.NullFloat64{Float64: *req.Latitude, Valid: true}
	}
	if req.Longitude != nil {
		b.Longitude = sql.NullFloat64{Float64: *req.Longitude, Valid: true}
	}
	if req.FlowRateGPM != nil {
		b.FlowRateGPM = *req.FlowRateGPM
	}
	if req.SoilType != nil {
		b.SoilType = *req.SoilType
	}
	if req.CIMISStation != nil {
		b.CIMISStation = sql.NullInt64{Int64: *req.CIMISStation, Valid: *req.CIMISStation > 0}
	}
}

func toBlockJSON(b models.Block) BlockJSON {
	out := BlockJSON{
		ID:          b.ID,
		Name:        b.Name,
		Acres:       b.Acres,
		FlowRateGPM: b.FlowRateGPM,
		SoilType:    b.SoilType,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.Latitude.Valid {
		out.Latitude = &b.Latitude.Float64
	}
	if b.Longitude.Valid {
		out.Longitude = &b.Longitude.Float64
	}
	if b.CIMISStation.Valid {
		out.CIMISStation = &b.CIMISStation.Int64
	}
	return out
}

type EventJSON struct {
	ID                string    `json:"id"`
	BlockID           string    `json:"blockId"`
	Date              string    `json:"date"`
	DurationHours     float64   `json:"durationHours"`
	FlowRateGPM       float64   `json:"flowRateGpm"`
	TotalWaterGallons float64   `json:"totalWaterGallons"`
	Method            string    `json:"method,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	Source            string    `json:"source"`
	ScheduleID        *string   `json:"scheduleId"`
	ZoneNumber        *int64    `json:"zoneNumber,omitempty"`
	State             string    `json:"state,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toEventJSON(ev models.IrrigationEvent, state models.EventState) EventJSON {
	out := EventJSON{
		ID:                ev.ID,
		BlockID:           ev.BlockID,
		Date:              dates.Format(ev.Date),
		DurationHours:     ev.DurationHours,
		FlowRateGPM:       ev.FlowRateGPM,
		TotalWaterGallons: ev.TotalWaterGallons,
		Method:            ev.Method,
		Notes:             ev.Notes,
		Source:            string(ev.Source),
		State:             string(state),
		CreatedAt:         ev.CreatedAt,
	}
	if ev.ScheduleID.Valid {
		out.ScheduleID = &ev.ScheduleID.String
	}
	if ev.ZoneNumber.Valid {
		out.ZoneNumber = &ev.ZoneNumber.Int64
	}
	return out
}

type EventRequest struct {
	Date          string  `json:"date"`
	DurationHours float64 `json:"durationHours"`
	FlowRateGPM   float64 `json:"flowRateGpm"`
	Method        string  `json:"method"`
	Notes         string  `json:"notes"`
	ZoneNumber    *int64  `json:"zoneNumber"`
}

func (req EventRequest) toEvent(blockID string) (models.IrrigationEvent, error) {
	d, err := parseDate("date", req.Date)
	if err != nil {
		return models.IrrigationEvent{}, err
	}
	return models.IrrigationEvent{
		BlockID:       blockID,
		Date:          d,
		DurationHours: req.DurationHours,
		FlowRateGPM:   req.FlowRateGPM,
		Method:        req.Method,
		Notes:         req.Notes,
		ZoneNumber:    nullInt(req.ZoneNumber),
	}, nil
}

type EventPatchRequest struct {
	Date          *string  `json:"date"`
	DurationHours *float64 `json:"durationHours"`
	FlowRateGPM   *float64 `json:"flowRateGpm"`
	Method        *string  `json:"method"`
	Notes         *string  `json:"notes"`
	ZoneNumber    *int64   `json:"zoneNumber"`
}

func (req EventPatchRequest) toPatch() (models.EventPatch, error) {
	p := models.EventPatch{
		DurationHours: req.DurationHours,
		FlowRateGPM:   req.FlowRateGPM,
		Method:        req.Method,
		Notes:         req.Notes,
		ZoneNumber:    req.ZoneNumber,
	}
	if req.Date != nil {
		d, err := parseDate("date", *req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	return p, nil
}

// WebhookRequest is posted by field controllers when a run finishes. Date
// defaults to today and flow to the block's rate.
type WebhookRequest struct {
	BlockID       string  `json:"blockId"`
	Date          string  `json:"date"`
	DurationHours float64 `json:"durationHours"`
	FlowRateGPM   float64 `json:"flowRateGpm"`
	ZoneNumber    *int64  `json:"zoneNumber"`
	Notes         string  `json:"notes"`
}

type ScheduleJSON struct {
	ID          string    `json:"id"`
	BlockID     string    `json:"blockId"`
	Name        string    `json:"name"`
	StartDate   string    `json:"startDate"`
	EndDate     *string   `json:"endDate"`
	StartTime   string    `json:"startTime"`
	StopTime    string    `json:"stopTime"`
	FlowRateGPM float64   `json:"flowRateGpm"`
	Method      string    `json:"method,omitempty"`
	DaysOfWeek  []int     `json:"daysOfWeek"`
	TimesPerDay int       `json:"timesPerDay"`
	ZoneNumber  *int64    `json:"zoneNumber,omitempty"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toScheduleJSON(sc models.IrrigationSchedule) ScheduleJSON {
	out := ScheduleJSON{
		ID:          sc.ID,
		BlockID:     sc.BlockID,
		Name:        sc.Name,
		StartDate:   dates.Format(sc.StartDate),
		StartTime:   sc.StartTime,
		StopTime:    sc.StopTime,
		FlowRateGPM: sc.FlowRateGPM,
		Method:      sc.Method,
		DaysOfWeek:  make([]int, 0, len(sc.DaysOfWeek)),
		TimesPerDay: sc.TimesPerDay,
		State:       string(sc.State),
		CreatedAt:   sc.CreatedAt,
		UpdatedAt:   sc.UpdatedAt,
	}
	if sc.EndDate.Valid {
		end := dates.Format(sc.EndDate.Time)
		out.EndDate = &end
	}
	for _, d := range sc.DaysOfWeek {
		out.DaysOfWeek = append(out.DaysOfWeek, int(d))
	}
	if sc.ZoneNumber.Valid {
		out.ZoneNumber = &sc.ZoneNumber.Int64
	}
	return out
}

// ScheduleRequest defines a schedule. Days of week are 0 (Sunday) to 6.
type ScheduleRequest struct {
	Name        string  `json:"name"`
	StartDate   string  `json:"startDate"`
	EndDate     *string `json:"endDate"`
	StartTime   string  `json:"startTime"`
	StopTime    string  `json:"stopTime"`
	FlowRateGPM float64 `json:"flowRateGpm"`
	Method      string  `json:"method"`
	DaysOfWeek  []int   `json:"daysOfWeek"`
	TimesPerDay int     `json:"timesPerDay"`
	ZoneNumber  *int64  `json:"zoneNumber"`
}

func (req ScheduleRequest) toSchedule() (models.IrrigationSchedule, error) {
	sc := models.IrrigationSchedule{
		Name:        req.Name,
		StartTime:   req.StartTime,
		StopTime:    req.StopTime,
		FlowRateGPM: req.FlowRateGPM,
		Method:      req.Method,
		TimesPerDay: req.TimesPerDay,
		ZoneNumber:  nullInt(req.ZoneNumber),
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		return sc, err
	}
	sc.StartDate = start
	if req.EndDate != nil && *req.EndDate != "" {
		end, err := parseDate("endDate", *req.EndDate)
		if err != nil {
			return sc, err
		}
		sc.EndDate = sql.NullTime{Time: end, Valid: true}
	}
	for _, d := range req.DaysOfWeek {
		if d < 0 || d > 6 {
			return sc, fmt.Errorf("%w: day of week %d out of range", errBadRequest, d)
		}
		sc.DaysOfWeek = append(sc.DaysOfWeek, time.Weekday(d))
	}
	return sc, nil
}

type ResultJSON struct {
	Operation string   `json:"operation"`
	Inserted  int      `json:"inserted"`
	Deleted   int      `json:"deleted"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func toResultJSON(res reconcile.Result) ResultJSON {
	out := ResultJSON{
		Operation: res.Operation,
		Inserted:  res.Inserted,
		Deleted:   res.Deleted,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

type ScheduleResponse struct {
	Schedule ScheduleJSON `json:"schedule"`
	Result   ResultJSON   `json:"result"`
}

type BudgetJSON struct {
	StartDate         string  `json:"startDate"`
	EndDate           string  `json:"endDate"`
	AppliedInches     float64 `json:"appliedInches"`
	RainfallInches    float64 `json:"rainfallInches"`
	ETcInches         float64 `json:"etcInches"`
	DeficitInches     float64 `json:"deficitInches"`
	PercentageMet     float64 `json:"percentageMet"`
	CoverageWarning   bool    `json:"coverageWarning"`
	ETDays            int     `json:"etDays"`
	EventsCount       int     `json:"eventsCount"`
	TotalEventsCount  int     `json:"totalEventsCount"`
	RainfallAvailable bool    `json:"rainfallAvailable"`
	ETSource          string  `json:"etSource"`
}

func toBudgetJSON(b *budget.WaterBudget) *BudgetJSON {
	if b == nil {
		return nil
	}
	return &BudgetJSON{
		StartDate:         dates.Format(b.Range.Start),
		EndDate:           dates.Format(b.Range.End),
		AppliedInches:     b.AppliedInches,
		RainfallInches:    b.RainfallInches,
		ETcInches:         b.ETcInches,
		DeficitInches:     b.DeficitInches,
		PercentageMet:     b.PercentageMet,
		CoverageWarning:   b.CoverageWarning,
		ETDays:            b.ETDays,
		EventsCount:       b.EventsCount,
		TotalEventsCount:  b.TotalEventsCount,
		RainfallAvailable: b.RainfallAvailable,
		ETSource:          b.ETSource,
	}
}

type LayerJSON struct {
	MoisturePercent float64 `json:"moisturePercent"`
	Status          string  `json:"status"`
}

type SoilJSON struct {
	Surface          LayerJSON `json:"surface"`
	Mid              LayerJSON `json:"mid"`
	Deep             LayerJSON `json:"deep"`
	DepletionPercent float64   `json:"depletionPercent"`
}

func toSoilJSON(e *soil.Estimate) *SoilJSON {
	if e == nil {
		return nil
	}
	layer := func(l soil.Layer) LayerJSON {
		return LayerJSON{MoisturePercent: l.MoisturePercent, Status: string(l.Status)}
	}
	return &SoilJSON{
		Surface:          layer(e.Surface),
		Mid:              layer(e.Mid),
		Deep:             layer(e.Deep),
		DepletionPercent: e.DepletionPercent,
	}
}

type RecommendationJSON struct {
	NeedsIrrigation bool    `json:"needsIrrigation"`
	Urgency         string  `json:"urgency"`
	Message         string  `json:"message"`
	DeficitMM       float64 `json:"deficitMm"`
	ForecastETMM    float64 `json:"forecastEtMm"`
	TotalNeedMM     float64 `json:"totalNeedMm"`
	Inches          float64 `json:"inches"`
	Gallons         float64 `json:"gallons"`
	Hours           float64 `json:"hours"`
	Runtime         string  `json:"runtime,omitempty"`
}

func toRecommendationJSON(r *recommend.Recommendation) *RecommendationJSON {
	if r == nil {
		return nil
	}
	out := &RecommendationJSON{
		NeedsIrrigation: r.NeedsIrrigation,
		Urgency:         string(r.Urgency),
		Message:         r.Message,
		DeficitMM:       r.DeficitMM,
		ForecastETMM:    r.ForecastETMM,
		TotalNeedMM:     r.TotalNeedMM,
		Inches:          r.Inches,
		Gallons:         r.Gallons,
		Hours:           r.Hours,
	}
	if r.NeedsIrrigation {
		out.Runtime = r.Runtime()
	}
	return out
}

type ForecastPeriodJSON struct {
	Date         string  `json:"date"`
	RainfallMM   float64 `json:"rainfallMm"`
	ET0MM        float64 `json:"et0Mm"`
	PrecipChance *int64  `json:"precipChance,omitempty"`
}

type ForecastJSON struct {
	PredictedRainfallMM float64              `json:"predictedRainfallMm"`
	PredictedET0MM      float64              `json:"predictedEt0Mm"`
	Source              string               `json:"source"`
	Periods             []ForecastPeriodJSON `json:"periods"`
}

func toForecastJSON(f *models.Forecast) *ForecastJSON {
	if f == nil {
		return nil
	}
	out := &ForecastJSON{
		PredictedRainfallMM: f.PredictedRainfallMM,
		PredictedET0MM:      f.PredictedET0MM,
		Source:              f.Source,
		Periods:             make([]ForecastPeriodJSON, 0, len(f.Periods)),
	}
	for _, p := range f.Periods {
		pj := ForecastPeriodJSON{Date: dates.Format(p.Date), RainfallMM: p.RainfallMM, ET0MM: p.ET0MM}
		if p.PrecipChance.Valid {
			pj.PrecipChance = &p.PrecipChance.Int64
		}
		out.Periods = append(out.Periods, pj)
	}
	return out
}

type RainfallJSON struct {
	TotalMM      float64 `json:"totalMm"`
	Source       string  `json:"source"`
	LastRainDate *string `json:"lastRainDate,omitempty"`
	LastRainMM   float64 `json:"lastRainMm,omitempty"`
	DaysWithRain int     `json:"daysWithRain"`
}

func toRainfallJSON(r *models.RainfallSummary) *RainfallJSON {
	if r == nil {
		return nil
	}
	out := &RainfallJSON{TotalMM: r.TotalMM, Source: r.Source}
	if r.LastRainEvent != nil {
		d := dates.Format(r.LastRainEvent.Date)
		out.LastRainDate = &d
		out.LastRainMM = r.LastRainEvent.MM
	}
	for _, d := range r.Daily {
		if d.MM > 0 {
			out.DaysWithRain++
		}
	}
	return out
}

type AnalysisJSON struct {
	Block          BlockJSON           `json:"block"`
	Budget         *BudgetJSON         `json:"budget"`
	Soil           *SoilJSON           `json:"soil,omitempty"`
	Recommendation *RecommendationJSON `json:"recommendation,omitempty"`
	Forecast       *ForecastJSON       `json:"forecast,omitempty"`
	Rainfall       *RainfallJSON       `json:"rainfall,omitempty"`
	Events         []EventJSON         `json:"events"`
}

func toAnalysisJSON(a irrigation.Analysis, today time.Time) AnalysisJSON {
	out := AnalysisJSON{
		Block:          toBlockJSON(a.Block),
		Budget:         toBudgetJSON(a.Budget),
		Soil:           toSoilJSON(a.Soil),
		Recommendation: toRecommendationJSON(a.Recommendation),
		Forecast:       toForecastJSON(a.Forecast),
		Rainfall:       toRainfallJSON(a.Rainfall),
		Events:         make([]EventJSON, 0, len(a.Events)),
	}
	for _, ev := range a.Events {
		out.Events = append(out.Events, toEventJSON(ev, ev.State(today)))
	}
	return out
}

type StageJSON struct {
	Stage       string  `json:"stage"`
	Label       string  `json:"label"`
	Kc          float64 `json:"kc"`
	TargetETMin float64 `json:"targetEtMin"`
	TargetETMax float64 `json:"targetEtMax"`
}

func toStageJSON(s cropcoef.StageInfo) StageJSON {
	return StageJSON{
		Stage:       string(s.Stage),
		Label:       s.Label,
		Kc:          s.Kc,
		TargetETMin: s.TargetETMin,
		TargetETMax: s.TargetETMax,
	}
}

type OverviewJSON struct {
	AnalysisJSON
	Stage       StageJSON  `json:"stage"`
	Sync        ResultJSON `json:"sync"`
	Narrative   string     `json:"narrative"`
	Unavailable string     `json:"unavailable,omitempty"`
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status  string         `json:"status"`
	Sources []SourceHealth `json:"sources"`
	Errors  []string       `json:"errors,omitempty"`
	Time    time.Time      `json:"time"`
}

// SourceHealth summarises one source's fetches over the last day.
type SourceHealth struct {
	Source      string `json:"source"`
	Runs        int    `json:"runs"`
	Failed      int    `json:"failed"`
	Records     int64  `json:"records"`
	ParseErrors int64  `json:"parseErrors"`
}

type IngestRunJSON struct {
	ID           int64     `json:"id"`
	StartedAt    time.Time `json:"startedAt"`
	Source       string    `json:"source"`
	Endpoint     string    `json:"endpoint"`
	BlockID      string    `json:"blockId,omitempty"`
	HTTPStatus   int64     `json:"httpStatus,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
}

type IngestDayJSON struct {
	Date        string `json:"date"`
	Source      string `json:"source"`
	Endpoint    string `json:"endpoint"`
	Runs        int    `json:"runs"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Records     int64  `json:"records"`
	ParseErrors int64  `json:"parseErrors"`
}

func toIngestDayJSON(h store.IngestHealthSummary) IngestDayJSON {
	return IngestDayJSON{
		Date:        h.Date,
		Source:      h.Source,
		Endpoint:    h.Endpoint,
		Runs:        h.TotalRuns,
		Succeeded:   h.SuccessRuns,
		Failed:      h.FailedRuns,
		Records:     h.TotalRecords,
		ParseErrors: h.TotalParseErrors,
	}
}

func toIngestRunJSON(run store.IngestRun) IngestRunJSON {
	return IngestRunJSON{
		ID:           run.ID,
		StartedAt:    run.StartedAt,
		Source:       run.Source,
		Endpoint:     run.Endpoint,
		BlockID:      run.BlockID.String,
		HTTPStatus:   run.HTTPStatus.Int64,
		ErrorMessage: run.ErrorMessage.String,
	}
}

type PayloadStatsJSON struct {
	Count     int            `json:"count"`
	SizeBytes int64          `json:"sizeBytes"`
	BySource  map[string]int `json:"bySource"`
}

type IngestHealthJSON struct {
	Days         []IngestDayJSON  `json:"days"`
	RecentErrors []IngestRunJSON  `json:"recentErrors"`
	Payloads     PayloadStatsJSON `json:"payloads"`
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	d, err := dates.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return d, nil
}
