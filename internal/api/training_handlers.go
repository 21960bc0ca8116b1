package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/patterns"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
	"github.com/StamperDavid/prospect-intel/internal/training"
)

func (s *Server) submitFeedback(w http.ResponseWriter, r *http.Request) {
	if s.training == nil {
		s.writeError(w, http.StatusServiceUnavailable, "training manager unavailable")
		return
	}
	var event training.FeedbackEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	record, err := s.training.SubmitFeedback(r.Context(), event)
	if err != nil {
		s.writeTrainingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) trainingHistory(w http.ResponseWriter, r *http.Request) {
	if s.training == nil {
		s.writeError(w, http.StatusServiceUnavailable, "training manager unavailable")
		return
	}
	signalID := chi.URLParam(r, "signal_id")
	organizationID, ok := organizationFrom(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	history, err := s.training.History(r.Context(), organizationID, signalID)
	if err != nil {
		s.writeTrainingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) trainingChangelog(w http.ResponseWriter, r *http.Request) {
	if s.training == nil {
		s.writeError(w, http.StatusServiceUnavailable, "training manager unavailable")
		return
	}
	signalID := chi.URLParam(r, "signal_id")
	organizationID, ok := organizationFrom(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	entries, err := s.training.Changelog(r.Context(), organizationID, signalID)
	if err != nil {
		s.writeTrainingError(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if _, err := w.Write([]byte(training.ExportChangelogMarkdown(signalID, entries))); err != nil {
			s.logger.Error("write changelog failed", zap.Error(err))
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"changelog": entries})
}

type matchRequest struct {
	SignalIDs       []string `json:"signal_ids"`
	Text            string   `json:"text"`
	PrecisionTarget float64  `json:"precision_target"`
}

func (s *Server) matchSignal(w http.ResponseWriter, r *http.Request) {
	if s.training == nil {
		s.writeError(w, http.StatusServiceUnavailable, "training manager unavailable")
		return
	}
	organizationID, ok := organizationFrom(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	match, found, err := s.training.MatchSignal(r.Context(), organizationID, req.SignalIDs, req.Text, req.PrecisionTarget)
	if err != nil {
		s.writeTrainingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"matched":    found,
		"signal_id":  match.PatternID,
		"similarity": match.Similarity,
	})
}

// organizationFrom reads the caller's organization from the X-Organization-ID
// header or the organization_id query parameter.
func organizationFrom(r *http.Request) (string, bool) {
	if org := strings.TrimSpace(r.Header.Get("X-Organization-ID")); org != "" {
		return org, true
	}
	if org := strings.TrimSpace(r.URL.Query().Get("organization_id")); org != "" {
		return org, true
	}
	return "", false
}

func (s *Server) writeTrainingError(w http.ResponseWriter, err error) {
	var vErr *scrape.ValidationError
	var iErr *training.IntegrityError
	var mErr *patterns.MatcherError
	switch {
	case errors.As(err, &vErr):
		s.writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &mErr):
		s.writeError(w, http.StatusBadRequest, mErr.Error())
	case errors.Is(err, training.ErrNoEmbedder):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, scrape.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, "unauthorized")
	case errors.Is(err, training.ErrFeedbackQuota):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, training.ErrVersionConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, training.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &iErr):
		s.writeError(w, iErr.Status, iErr.Error())
	default:
		s.logger.Error("training request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
