// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/config"
	"github.com/StamperDavid/prospect-intel/internal/metrics"
	"github.com/StamperDavid/prospect-intel/internal/progress"
	"github.com/StamperDavid/prospect-intel/internal/queue"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
	"github.com/StamperDavid/prospect-intel/internal/training"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// Server wires HTTP handlers to the queue, progress tracker, and training
// manager.
type Server struct {
	router   chi.Router
	queue    *queue.Queue
	tracker  *progress.Tracker
	training *training.Manager
	ids      scrape.IDGenerator
	clock    scrape.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q *queue.Queue,
	tracker *progress.Tracker,
	trainingManager *training.Manager,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:    q,
		tracker:  tracker,
		training: trainingManager,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout()))
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.submitJob)
				r.Get("/", s.listJobs)
				r.Get("/stats", s.queueStats)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/status", s.getJobStatus)
					r.Get("/result", s.getJobResult)
					r.Post("/cancel", s.cancelJob)
				})
			})
			r.Post("/feedback", s.submitFeedback)
			r.Post("/training/match", s.matchSignal)
			r.Route("/training/{signal_id}", func(r chi.Router) {
				r.Get("/history", s.trainingHistory)
				r.Get("/changelog", s.trainingChangelog)
			})
		})
		// SSE streams outlive the request timeout budget.
		r.Get("/jobs/{job_id}/progress", s.streamProgress)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	URL        string `json:"url"`
	IndustryID string `json:"industry_id"`
	Platform   string `json:"platform"`
	Priority   string `json:"priority"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Priority == "" {
		req.Priority = string(scrape.PriorityNormal)
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate job id: %v", err))
		return
	}
	config := scrape.JobConfig{
		JobID:      jobID,
		IndustryID: req.IndustryID,
		URL:        req.URL,
		Platform:   req.Platform,
		Priority:   scrape.Priority(req.Priority),
	}
	if err := s.queue.Enqueue(config); err != nil {
		var vErr *scrape.ValidationError
		switch {
		case errors.As(err, &vErr):
			s.writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, queue.ErrQueueClosed):
			s.writeError(w, http.StatusServiceUnavailable, "queue closed")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if s.tracker != nil {
		s.tracker.Emit(progress.Event{
			JobID: jobID,
			TS:    s.clock.Now(),
			Stage: progress.StageJobQueued,
			URL:   req.URL,
		})
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *scrape.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed := scrape.JobStatus(raw)
		switch parsed {
		case scrape.JobStatusPending, scrape.JobStatusRunning, scrape.JobStatusCompleted,
			scrape.JobStatusFailed, scrape.JobStatusCancelled:
			status = &parsed
		default:
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
	}
	jobs := s.queue.List(status, limit, offset)
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) queueStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.GetStats())
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.queue.Job(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.Config.JobID,
		"status":  job.Status,
		"attempt": job.Attempt,
	})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.queue.Job(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, ok := s.queue.Job(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !s.queue.Cancel(jobID) {
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("job in status %q cannot be cancelled", job.Status))
		return
	}
	if s.tracker != nil {
		s.tracker.Emit(progress.Event{
			JobID: jobID,
			TS:    s.clock.Now(),
			Stage: progress.StageJobCancelled,
			Note:  "cancelled via API",
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(scrape.JobStatusCancelled),
	})
}

func parseLimitOffset(r *http.Request, def, max int) (int, int, error) {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
		if parsed > max {
			parsed = max
		}
		limit = parsed
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = parsed
	}
	return limit, offset, nil
}

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
		s.logger.Info("request completed",
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
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
