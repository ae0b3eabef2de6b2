// Package server exposes the analysis pipeline over HTTP: the assess
// endpoint consumed by agent integrations, the read-only dashboard over
// the audit log, health, and metrics. The server is a thin transport:
// all analysis semantics live in internal/assess.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noam-bash/flare-saferun/internal/assess"
	"github.com/noam-bash/flare-saferun/internal/auditlog"
	"github.com/noam-bash/flare-saferun/internal/metrics"
)

// Server wires the pipeline to HTTP handlers.
type Server struct {
	service *assess.Service
	audit   *auditlog.Logger
	store   *auditlog.SQLiteBackend // nil disables the dashboard
	metrics *metrics.Metrics
}

// New creates a Server. audit may be nil (no audit logging); store may be
// nil (dashboard endpoints return 404).
func New(service *assess.Service, audit *auditlog.Logger, store *auditlog.SQLiteBackend, m *metrics.Metrics) *Server {
	return &Server{service: service, audit: audit, store: store, metrics: m}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/assess", s.handleAssess)
		if s.store != nil {
			r.Get("/records", s.handleRecords)
			r.Get("/stats", s.handleStats)
		}
	})
	return r
}

// assessRequest is the assess endpoint's body.
type assessRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

// Bind implements render.Binder.
func (req *assessRequest) Bind(_ *http.Request) error {
	if req.Command == "" {
		return errors.New("command is required")
	}
	return nil
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	req := &assessRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	start := time.Now()
	assessment, err := s.service.Assess(r.Context(), req.Command, req.Cwd)
	if err != nil {
		// Parse errors degrade to the synthetic advisory response.
		assessment = assess.SyntheticError(err)
	}
	s.metrics.ObserveAssessment(assessment.RiskLevel.String(), time.Since(start))

	if s.audit != nil {
		s.audit.Log(req.Command, req.Cwd, assessment)
	}

	slog.Info("assessment completed",
		"request_id", requestIDFrom(r),
		"risk_level", assessment.RiskLevel.String(),
		"action", assessment.Action.String(),
		"findings", len(assessment.Details),
	)

	render.JSON(w, r, assessment)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.Recent(limit, r.URL.Query().Get("level"))
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "failed to query audit log"})
		return
	}
	render.JSON(w, r, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "failed to query audit log"})
		return
	}
	render.JSON(w, r, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
