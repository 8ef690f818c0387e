package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lox/vinewater/internal/reconcile"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	blockID := chi.URLParam(r, "id")
	if _, err := s.svc.GetBlock(r.Context(), blockID); err != nil {
		writeError(w, r, err)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	schedules, err := s.svc.ListSchedules(r.Context(), blockID, activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ScheduleJSON, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, toScheduleJSON(sc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := req.toSchedule()
	if err != nil {
		writeError(w, r, err)
		return
	}
	sc.BlockID = chi.URLParam(r, "id")

	created, res, err := s.svc.CreateSchedule(r.Context(), sc)
	if err != nil && created.ID == "" {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ScheduleResponse{Schedule: toScheduleJSON(created), Result: resultWithError(res, err)})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.svc.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleJSON(sc))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sc, err := req.toSchedule()
	if err != nil {
		writeError(w, r, err)
		return
	}
	sc.ID = chi.URLParam(r, "id")

	updated, res, err := s.svc.UpdateSchedule(r.Context(), sc, scope)
	if err != nil && updated.ID == "" {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{Schedule: toScheduleJSON(updated), Result: resultWithError(res, err)})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.DeleteSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	clean := false
	if v := r.URL.Query().Get("clean"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: clean must be a boolean", errBadRequest))
			return
		}
		clean = b
	}
	sc, res, err := s.svc.PauseSchedule(r.Context(), chi.URLParam(r, "id"), clean)
	if err != nil && sc.ID == "" {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{Schedule: toScheduleJSON(sc), Result: resultWithError(res, err)})
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	sc, res, err := s.svc.ResumeSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil && sc.ID == "" {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleResponse{Schedule: toScheduleJSON(sc), Result: resultWithError(res, err)})
}

func (s *Server) handleBackfillSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.BackfillSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (s *Server) handleRegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.RegenerateSchedule(r.Context(), chi.URLParam(r, "id"), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func scopeParam(r *http.Request) (reconcile.Scope, error) {
	scope, err := reconcile.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return scope, nil
}

// resultWithError reports a reconciliation failure that happened after the
// schedule itself was saved.
func resultWithError(res reconcile.Result, err error) ResultJSON {
	out := toResultJSON(res)
	if err != nil {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}
