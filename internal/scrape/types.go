// Package scrape defines core types shared across subsystems.
package scrape

import (
	"net/http"
	"time"
)

// Priority orders jobs within the scrape queue.
type Priority string

// Queue priorities from least to most urgent.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps a priority to a sortable integer, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether the priority is one of the known tiers.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted on the job record.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobConfig captures the immutable request submitted by a caller. It is never
// mutated after Enqueue.
type JobConfig struct {
	JobID      string   `json:"job_id"`
	IndustryID string   `json:"industry_id"`
	URL        string   `json:"url"`
	Platform   string   `json:"platform"`
	Priority   Priority `json:"priority"`
}

// JobResult tracks a job through its lifecycle. Only the runner mutates it
// once the job leaves the pending state.
type JobResult struct {
	Config      JobConfig         `json:"config"`
	Status      JobStatus         `json:"status"`
	Attempt     int               `json:"attempt"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Signals     []ExtractedSignal `json:"signals,omitempty"`
	LeadScore   *float64          `json:"lead_score,omitempty"`
	ErrorText   string            `json:"error,omitempty"`
}

// ExtractedSignal is one detected, labeled indicator of business intent.
// Many signals may reference the same scrape.
type ExtractedSignal struct {
	SignalID       string    `json:"signal_id"`
	SignalLabel    string    `json:"signal_label"`
	SourceText     string    `json:"source_text"`
	Confidence     float64   `json:"confidence"`
	Platform       string    `json:"platform"`
	ExtractedAt    time.Time `json:"extracted_at"`
	SourceScrapeID string    `json:"source_scrape_id"`
}

// SignalPriority ranks pattern definitions by business value.
type SignalPriority string

// Pattern priorities from least to most valuable.
const (
	SignalPriorityLow      SignalPriority = "LOW"
	SignalPriorityMedium   SignalPriority = "MEDIUM"
	SignalPriorityHigh     SignalPriority = "HIGH"
	SignalPriorityCritical SignalPriority = "CRITICAL"
)

// HighValueSignal is a configured signal-detection pattern. It is read-only at
// runtime.
type HighValueSignal struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Keywords     []string       `json:"keywords"`
	RegexPattern string         `json:"regex_pattern,omitempty"`
	Platform     string         `json:"platform"`
	Priority     SignalPriority `json:"priority"`
	ScoreBoost   float64        `json:"score_boost"`
}

// Valid reports whether the priority is one of the known tiers.
func (p SignalPriority) Valid() bool {
	switch p {
	case SignalPriorityLow, SignalPriorityMedium, SignalPriorityHigh, SignalPriorityCritical:
		return true
	default:
		return false
	}
}

// PlatformAny matches every platform in a HighValueSignal definition.
const PlatformAny = "any"

// MatchesPlatform reports whether the pattern applies to the given platform.
func (s HighValueSignal) MatchesPlatform(platform string) bool {
	return s.Platform == "" || s.Platform == PlatformAny || s.Platform == platform
}

// CachedResult is the reusable outcome of a completed scrape, stored per URL.
type CachedResult struct {
	Signals     []ExtractedSignal `json:"signals"`
	LeadScore   float64           `json:"lead_score"`
	ContentHash string            `json:"content_hash"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	Platform    string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher collaborator.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Content      []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ScrapeRecord is the persisted metadata for one fetched piece of content,
// keyed by {organizationId, scrapeId} in the document store.
type ScrapeRecord struct {
	ScrapeID           string    `json:"scrape_id"`
	OrganizationID     string    `json:"organization_id"`
	URL                string    `json:"url"`
	Platform           string    `json:"platform"`
	ContentHash        string    `json:"content_hash"`
	BlobURI            string    `json:"blob_uri,omitempty"`
	ScrapeCount        int       `json:"scrape_count"`
	FetchedAt          time.Time `json:"fetched_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	FlaggedForDeletion bool      `json:"flagged_for_deletion"`
}
