package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/vinewater/internal/cropcoef"
	"github.com/lox/vinewater/internal/dates"
	"github.com/lox/vinewater/internal/irrigation"
	"github.com/lox/vinewater/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok", Sources: []SourceHealth{}, Time: time.Now().UTC()}
	if s.health == nil {
		writeJSON(w, http.StatusOK, health)
		return
	}

	days, err := s.health.GetIngestHealth(r.Context(), 1)
	if err != nil {
		health.Status = "error"
		health.Errors = append(health.Errors, err.Error())
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}

	index := make(map[string]int)
	for _, d := range days {
		i, ok := index[d.Source]
		if !ok {
			i = len(health.Sources)
			index[d.Source] = i
			health.Sources = append(health.Sources, SourceHealth{Source: d.Source})
		}
		sh := &health.Sources[i]
		sh.Runs += d.TotalRuns
		sh.Failed += d.FailedRuns
		sh.Records += d.TotalRecords
		sh.ParseErrors += d.TotalParseErrors
	}
	// A source whose every fetch failed today marks the service degraded.
	for _, sh := range health.Sources {
		if sh.Runs > 0 && sh.Failed == sh.Runs {
			health.Status = "degraded"
			health.Errors = append(health.Errors, sh.Source+": every fetch failed")
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, IngestHealthJSON{
			Days:         []IngestDayJSON{},
			RecentErrors: []IngestRunJSON{},
			Payloads:     PayloadStatsJSON{BySource: map[string]int{}},
		})
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 90 {
			writeError(w, r, fmt.Errorf("%w: days must be 1-90", errBadRequest))
			return
		}
		days = n
	}

	summaries, err := s.health.GetIngestHealth(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := s.health.GetRecentIngestErrors(r.Context(), 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.health.GetRawPayloadStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := IngestHealthJSON{
		Days:         make([]IngestDayJSON, 0, len(summaries)),
		RecentErrors: make([]IngestRunJSON, 0, len(runs)),
		Payloads: PayloadStatsJSON{
			Count:     stats.TotalCount,
			SizeBytes: stats.TotalSizeBytes,
			BySource:  stats.CountBySource,
		},
	}
	for _, h := range summaries {
		out.Days = append(out.Days, toIngestDayJSON(h))
	}
	for _, run := range runs {
		out.RecentErrors = append(out.RecentErrors, toIngestRunJSON(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRawPayload returns an archived source response, decompressed.
func (s *Server) handleRawPayload(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, r, store.ErrNotFound)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: payload id must be an integer", errBadRequest))
		return
	}
	data, err := s.health.GetRawPayload(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleKc resolves the growth stage for a date, today by default. A negative
// latitude selects the southern-hemisphere calendar.
func (s *Server) handleKc(w http.ResponseWriter, r *http.Request) {
	date := s.svc.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := parseDate("date", v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		date = d
	}
	var lat float64
	if v := r.URL.Query().Get("lat"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < -90 || f > 90 {
			writeError(w, r, fmt.Errorf("%w: lat must be a latitude", errBadRequest))
			return
		}
		lat = f
	}
	stage := cropcoef.HemisphereOf(lat).Resolve(date)
	writeJSON(w, http.StatusOK, struct {
		Date string `json:"date"`
		StageJSON
	}{dates.Format(date), toStageJSON(stage)})
}

func (s *Server) handleWaterBudget(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.WaterBudget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisJSON(*a, s.svc.Today()))
}

func (s *Server) handleSoilMoisture(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.SoilMoisture(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisJSON(*a, s.svc.Today()))
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Recommendation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalysisJSON(*a, s.svc.Today()))
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.svc.Overview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OverviewJSON{
		AnalysisJSON: toAnalysisJSON(ov.Analysis, s.svc.Today()),
		Stage:        toStageJSON(ov.Stage),
		Sync:         toResultJSON(ov.Sync),
		Narrative:    ov.Narrative,
		Unavailable:  ov.Unavailable,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ev := irrigation.WebhookEvent{
		BlockID:       req.BlockID,
		DurationHours: req.DurationHours,
		FlowRateGPM:   req.FlowRateGPM,
		ZoneNumber:    nullInt(req.ZoneNumber),
		Notes:         req.Notes,
	}
	if req.Date != "" {
		d, err := parseDate("date", req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ev.Date = d
	}
	created, err := s.svc.RecordWebhookEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventJSON(created, created.State(s.svc.Today())))
}
