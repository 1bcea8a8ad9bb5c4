// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/parcelpipe/salecrawler/internal/metrics"
	"github.com/parcelpipe/salecrawler/internal/scrape"
	"github.com/parcelpipe/salecrawler/internal/worker"
)

// Config controls HTTP behavior.
type Config struct {
	AuthEnabled bool
	APIKey      string
}

// Server wires HTTP handlers to the worker and run store.
type Server struct {
	router   chi.Router
	worker   *worker.Worker
	runStore scrape.RunStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(w *worker.Worker, runStore scrape.RunStore, cfg Config, logger *zap.Logger) *Server {
	s := &Server{
		worker:   w,
		runStore: runStore,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRunRequest struct {
	State      string `json:"state"`
	County     string `json:"county"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	RecordType string `json:"record_type"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	search := scrape.SearchRequest{
		State:      req.State,
		County:     req.County,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		RecordType: req.RecordType,
	}
	if err := search.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID, err := s.worker.Submit(r.Context(), search)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
