// Package api exposes the HTTP interface for operators: health probes,
// Prometheus metrics, queue statistics, and source admission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/admission"
	"github.com/newsharvest/crawld/internal/crawler"
)

const (
	requestTimeout = 30 * time.Second
	queryTimeout   = 5 * time.Second
)

// Server wires HTTP handlers to the stores and the admitter.
type Server struct {
	router   chi.Router
	jobs     crawler.JobStore
	sources  crawler.SourceStore
	admitter *admission.Admitter
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs crawler.JobStore,
	sources crawler.SourceStore,
	admitter *admission.Admitter,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:     jobs,
		sources:  sources,
		admitter: admitter,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.addSource)
			r.Get("/status", s.getSourceStatus)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if _, err := s.jobs.CountPending(ctx, false); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// getStatus handles GET /v1/status. It returns queue totals by job status.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	counts, err := s.jobs.StatusCounts(ctx)
	if err != nil {
		s.logger.Error("status counts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load queue status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": counts,
		"total": counts.Total(),
	})
}

// getSourceStatus handles GET /v1/sources/status?url=. It returns the job
// breakdown for one source.
func (s *Server) getSourceStatus(w http.ResponseWriter, r *http.Request) {
	sourceURL := r.URL.Query().Get("url")
	if sourceURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	counts, err := s.jobs.SourceStatusCounts(ctx, sourceURL)
	if err != nil {
		s.logger.Error("source status counts failed",
			zap.String("source", sourceURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source": sourceURL,
		"queue":  counts,
		"total":  counts.Total(),
	})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	if sources == nil {
		sources = []crawler.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

type addSourceRequest struct {
	URL       string   `json:"url"`
	Selectors []string `json:"selectors"`
	Category  string   `json:"category"`
}

// addSource handles POST /v1/sources. It validates the payload, records the
// source, and seeds its first crawl job.
func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := s.admitter.AddSource(r.Context(), req.URL, req.Selectors, req.Category)
	if err != nil {
		if errors.Is(err, admission.ErrInvalidURL) || errors.Is(err, admission.ErrNoSelectors) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("add source failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add source")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": req.URL, "status": "admitted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
