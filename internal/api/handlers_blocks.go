package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/vinewater/internal/models"
)

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.svc.ListBlocks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]BlockJSON, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockJSON(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var b models.Block
	req.apply(&b)
	created, err := s.svc.CreateBlock(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockJSON(created))
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockJSON(b))
}

func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req BlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.apply(&b)
	updated, err := s.svc.UpdateBlock(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlockJSON(updated))
}

func (s *Server) handleSyncBlock(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SyncBlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		d, err := parseDate("start", v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		start = d
	}
	if v := q.Get("end"); v != "" {
		d, err := parseDate("end", v)
		if err != nil {
			writeError(w, r, err)
			return
		}
		end = d
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		writeError(w, r, fmt.Errorf("%w: end is before start", errBadRequest))
		return
	}

	views, err := s.svc.ListEvents(r.Context(), chi.URLParam(r, "id"), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]EventJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toEventJSON(v.IrrigationEvent, v.State))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := req.toEvent(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.svc.CreateManualEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventJSON(created, created.State(s.svc.Today())))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventJSON(ev, ev.State(s.svc.Today())))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.svc.UpdateEvent(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventJSON(updated, updated.State(s.svc.Today())))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
