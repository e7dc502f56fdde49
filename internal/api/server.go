// Package api exposes the HTTP interface for the pipeline service.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/config"
	"github.com/visawatch/policywatch/internal/health"
	"github.com/visawatch/policywatch/internal/metrics"
	"github.com/visawatch/policywatch/internal/pipeline"
	"github.com/visawatch/policywatch/internal/scheduler"
)

const defaultChangeLimit = 50

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router    chi.Router
	sources   pipeline.SourceStore
	versions  pipeline.VersionStore
	changes   pipeline.ChangeStore
	reports   pipeline.ReportStore
	scheduler *scheduler.Scheduler
	clock     pipeline.Clock
	policy    health.Policy
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sources pipeline.SourceStore,
	versions pipeline.VersionStore,
	changes pipeline.ChangeStore,
	reports pipeline.ReportStore,
	sched *scheduler.Scheduler,
	clock pipeline.Clock,
	policy health.Policy,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		sources:   sources,
		versions:  versions,
		changes:   changes,
		reports:   reports,
		scheduler: sched,
		clock:     clock,
		policy:    policy,
		cfg:       cfg,
		logger:    logger,
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/status", s.getStatus)
		r.Route("/sources/{source_id}", func(r chi.Router) {
			r.Post("/trigger", s.triggerSource)
			r.Get("/versions", s.listVersions)
		})
		r.Get("/versions/{version_id}", s.getVersion)
		r.Get("/changes", s.listChanges)
		r.Get("/changes/{change_id}", s.getChange)
		r.Get("/reports/latest", s.latestReport)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Listing sources exercises the storage backend.
	if _, err := s.sources.ListSources(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type sourceStatus struct {
	pipeline.Source
	Status pipeline.HealthStatus `json:"status"`
}

type statusResponse struct {
	Sources    []sourceStatus           `json:"sources"`
	Counts     map[string]int           `json:"counts_by_status"`
	LastReport *pipeline.FetchJobReport `json:"last_report,omitempty"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sources", s.logger)
		return
	}
	now := s.clock.Now()
	resp := statusResponse{
		Sources: make([]sourceStatus, 0, len(sources)),
		Counts:  make(map[string]int),
	}
	for _, source := range sources {
		status := health.Classify(source.Health, source.CheckFrequency, now, s.policy)
		resp.Sources = append(resp.Sources, sourceStatus{Source: source, Status: status})
		resp.Counts[string(status)]++
	}
	if report, err := s.reports.LatestReport(r.Context()); err == nil {
		resp.LastReport = report
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) triggerSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	result, err := s.scheduler.TriggerSource(r.Context(), sourceID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSourceBusy):
			writeError(w, http.StatusConflict, "source is already being processed", s.logger)
		case errors.Is(err, pipeline.ErrNotFound):
			writeError(w, http.StatusNotFound, "source not found", s.logger)
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
		}
		return
	}
	writeJSON(w, http.StatusOK, result, s.logger)
}

// versionSummary is a version row without the raw text payload.
type versionSummary struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	ContentHash   string    `json:"content_hash"`
	FetchedAt     time.Time `json:"fetched_at"`
	ContentLength int       `json:"content_length"`
	ArchiveURI    string    `json:"archive_uri,omitempty"`
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, err := s.sources.GetSource(r.Context(), sourceID); err != nil {
		writeError(w, http.StatusNotFound, "source not found", s.logger)
		return
	}
	versions, err := s.versions.ListVersions(r.Context(), sourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list versions", s.logger)
		return
	}
	summaries := make([]versionSummary, 0, len(versions))
	for _, v := range versions {
		summaries = append(summaries, versionSummary{
			ID:            v.ID,
			SourceID:      v.SourceID,
			ContentHash:   v.ContentHash,
			FetchedAt:     v.FetchedAt,
			ContentLength: v.ContentLength,
			ArchiveURI:    v.ArchiveURI,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": summaries}, s.logger)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.versions.GetVersion(r.Context(), chi.URLParam(r, "version_id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "version not found", s.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch version", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, version, s.logger)
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultChangeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", s.logger)
			return
		}
		limit = parsed
	}
	changes, err := s.changes.ListRecentChanges(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list changes", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes}, s.logger)
}

func (s *Server) getChange(w http.ResponseWriter, r *http.Request) {
	change, err := s.changes.GetChange(r.Context(), chi.URLParam(r, "change_id"))
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "change not found", s.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch change", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, change, s.logger)
}

func (s *Server) latestReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.LatestReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch report", s.logger)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "no reports yet", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, report, s.logger)
}
