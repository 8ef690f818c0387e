// Package api serves the irrigation engine over JSON HTTP.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/lox/vinewater/internal/irrigation"
	"github.com/lox/vinewater/internal/schedule"
	"github.com/lox/vinewater/internal/store"
)

//go:embed openapi.yaml
var openapiYAML []byte

// IngestHealth reports on recent ET and weather fetches.
type IngestHealth interface {
	GetIngestHealth(ctx context.Context, days int) ([]store.IngestHealthSummary, error)
	GetRecentIngestErrors(ctx context.Context, limit int) ([]store.IngestRun, error)
	GetRawPayloadStats(ctx context.Context) (*store.RawPayloadStats, error)
	GetRawPayload(ctx context.Context, id int64) ([]byte, error)
}

type Server struct {
	svc            *irrigation.Service
	health         IngestHealth
	port           string
	allowedOrigins []string
	requestTimeout time.Duration
}

type Options struct {
	Port           string
	AllowedOrigins []string
	RequestTimeout time.Duration // per-request deadline, 60s when zero
}

func NewServer(svc *irrigation.Service, health IngestHealth, opts Options) *Server {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		svc:            svc,
		health:         health,
		port:           opts.Port,
		allowedOrigins: origins,
		requestTimeout: timeout,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Write(openapiYAML)
	})
	r.Mount("/swagger", httpSwagger.Handler(
		httpSwagger.URL("/api/openapi.yaml"),
	))

	r.Route("/api", func(api chi.Router) {
		api.Get("/kc", s.handleKc)
		api.Get("/ingest/health", s.handleIngestHealth)
		api.Get("/ingest/payloads/{id}", s.handleRawPayload)
		api.Post("/webhooks/irrigation", s.handleWebhook)

		api.Route("/blocks", func(br chi.Router) {
			br.Get("/", s.handleListBlocks)
			br.Post("/", s.handleCreateBlock)
			br.Route("/{id}", func(b chi.Router) {
				b.Get("/", s.handleGetBlock)
				b.Patch("/", s.handleUpdateBlock)
				b.Get("/overview", s.handleOverview)
				b.Get("/water-budget", s.handleWaterBudget)
				b.Get("/soil-moisture", s.handleSoilMoisture)
				b.Get("/recommendation", s.handleRecommendation)
				b.Post("/sync", s.handleSyncBlock)
				b.Get("/events", s.handleListEvents)
				b.Post("/events", s.handleCreateEvent)
				b.Get("/schedules", s.handleListSchedules)
				b.Post("/schedules", s.handleCreateSchedule)
			})
		})

		api.Route("/events/{id}", func(er chi.Router) {
			er.Get("/", s.handleGetEvent)
			er.Patch("/", s.handleUpdateEvent)
			er.Delete("/", s.handleDeleteEvent)
		})

		api.Route("/schedules/{id}", func(sr chi.Router) {
			sr.Get("/", s.handleGetSchedule)
			sr.Put("/", s.handleUpdateSchedule)
			sr.Delete("/", s.handleDeleteSchedule)
			sr.Post("/pause", s.handlePauseSchedule)
			sr.Post("/resume", s.handleResumeSchedule)
			sr.Post("/backfill", s.handleBackfillSchedule)
			sr.Post("/regenerate", s.handleRegenerateSchedule)
		})
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

// writeError maps service errors onto status codes. Unexpected errors are
// logged and reported as 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, irrigation.ErrInvalidInput),
		errors.Is(err, schedule.ErrInvalidSchedule):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrScheduledDateChange):
		status = http.StatusConflict
	case irrigation.IsUnavailable(err):
		status = http.StatusUnprocessableEntity
	default:
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
