// Package progress defines the event structures emitted by the scrape
// pipeline and the tracker that fans them out to subscribers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobQueued    Stage = "JOB_QUEUED"
	StageJobStart     Stage = "JOB_START"
	StageCacheHit     Stage = "CACHE_HIT"
	StageFetchStart   Stage = "FETCH_START"
	StageFetchDone    Stage = "FETCH_DONE"
	StageSignals      Stage = "SIGNALS_EXTRACTED"
	StageJobRetry     Stage = "JOB_RETRY"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
)

// Event captures a single milestone of scrape progress.
type Event struct {
	// JobID identifies the job this event belongs to.
	JobID string `json:"job_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Domain optionally scopes fetch events to a normalized domain.
	Domain string `json:"domain,omitempty"`
	// URL is the optional page URL; it should not contain credentials.
	URL string `json:"url,omitempty"`
	// Attempt carries the retry counter for JOB_RETRY events.
	Attempt int `json:"attempt,omitempty"`
	// Bytes carries the response size for FETCH_DONE events.
	Bytes int64 `json:"bytes,omitempty"`
	// SignalCount is set on SIGNALS_EXTRACTED and JOB_DONE.
	SignalCount int `json:"signal_count,omitempty"`
	// LeadScore is set on JOB_DONE.
	LeadScore float64 `json:"lead_score,omitempty"`
	// Dur captures execution latency for fetches and job completions.
	Dur time.Duration `json:"dur,omitempty"`
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobQueued, StageJobStart, StageCacheHit, StageSignals,
		StageJobRetry, StageJobDone, StageJobError, StageJobCancelled:
	case StageFetchStart, StageFetchDone:
		if e.Domain == "" {
			return errors.New("fetch events require a domain")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
