package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/progress"
)

// terminalStage reports whether a stage ends the job's progress stream.
func terminalStage(stage progress.Stage) bool {
	switch stage {
	case progress.StageJobDone, progress.StageJobError, progress.StageJobCancelled:
		return true
	default:
		return false
	}
}

// streamProgress serves GET /v1/jobs/{job_id}/progress as a Server-Sent
// Events stream: buffered events replay first, then live events until the
// job reaches a terminal stage or the client disconnects.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, ok := s.queue.Job(jobID); !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.tracker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "progress tracking unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replay so no event falls between the two. The replay
	// set and the live feed may overlap on the boundary event; clients key on
	// stage transitions, which are idempotent to re-deliver.
	live := make(chan progress.Event, 64)
	unsubscribe := s.tracker.Subscribe(jobID, func(evt progress.Event) {
		select {
		case live <- evt:
		default:
			// Slow consumer: drop rather than block the tracker.
		}
	})
	defer unsubscribe()

	done := false
	for _, evt := range s.tracker.Progress(jobID) {
		s.writeSSE(w, evt)
		if terminalStage(evt.Stage) {
			done = true
		}
	}
	flusher.Flush()
	if done {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-live:
			s.writeSSE(w, evt)
			flusher.Flush()
			if terminalStage(evt.Stage) {
				return
			}
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, evt progress.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("marshal progress event failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Stage, data); err != nil {
		s.logger.Error("write progress event failed", zap.Error(err))
	}
}
