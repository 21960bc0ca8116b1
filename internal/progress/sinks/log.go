// Package sinks contains progress subscribers that forward events to logging
// and metrics backends.
package sinks

import (
	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/progress"
)

// LogSink emits structured logs for progress streams. It is useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the subscriber interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Attach subscribes the sink to every event on the tracker and returns the
// unsubscribe function.
func (s *LogSink) Attach(tracker *progress.Tracker) func() {
	return tracker.SubscribeAll(s.Handle)
}

// Handle logs one event using structured fields.
func (s *LogSink) Handle(evt progress.Event) {
	s.logger.Info("progress event",
		zap.String("job_id", evt.JobID),
		zap.String("stage", string(evt.Stage)),
		zap.String("domain", evt.Domain),
		zap.String("url", evt.URL),
		zap.Int("attempt", evt.Attempt),
		zap.Int64("bytes", evt.Bytes),
		zap.Int("signal_count", evt.SignalCount),
		zap.Float64("lead_score", evt.LeadScore),
		zap.Duration("dur", evt.Dur),
		zap.String("note", evt.Note),
	)
}
