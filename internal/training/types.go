// Package training owns the lifecycle of per-pattern training records:
// feedback ingestion, confidence recomputation, versioned diffs, integrity
// validation, and changelog export.
package training

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// FeedbackType classifies one user judgment about an extracted signal.
type FeedbackType string

// Supported feedback types.
const (
	FeedbackCorrect   FeedbackType = "correct"
	FeedbackIncorrect FeedbackType = "incorrect"
	FeedbackMissing   FeedbackType = "missing"
)

// Valid reports whether the feedback type is known.
func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackCorrect, FeedbackIncorrect, FeedbackMissing:
		return true
	default:
		return false
	}
}

// PatternType describes how a training pattern matches content.
type PatternType string

// Supported pattern types.
const (
	PatternTypeKeyword  PatternType = "keyword"
	PatternTypeRegex    PatternType = "regex"
	PatternTypeSemantic PatternType = "semantic"
)

// Data is one versioned training record for a signal pattern. Every accepted
// feedback event produces a new version; versions are a strict, monotonic,
// gap-free history key. Invariant: SeenCount >= PositiveCount+NegativeCount.
type Data struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	SignalID       string      `json:"signal_id"`
	Pattern        string      `json:"pattern"`
	PatternType    PatternType `json:"pattern_type"`
	Confidence     float64     `json:"confidence"`
	PositiveCount  int         `json:"positive_count"`
	NegativeCount  int         `json:"negative_count"`
	SeenCount      int         `json:"seen_count"`
	Version        int         `json:"version"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
	LastUpdatedAt  time.Time   `json:"last_updated_at"`
	LastSeenAt     time.Time   `json:"last_seen_at"`
}

// FeedbackEvent is one append-only user judgment.
type FeedbackEvent struct {
	UserID         string       `json:"user_id"`
	OrganizationID string       `json:"organization_id"`
	FeedbackType   FeedbackType `json:"feedback_type"`
	SignalID       string       `json:"signal_id"`
	SourceScrapeID string       `json:"source_scrape_id"`
	SourceText     string       `json:"source_text"`
	SubmittedAt    time.Time    `json:"submitted_at"`
}

// Store persists versioned training records. CompareAndSwap is the only
// mutation path: it appends the next version if and only if the caller read
// the latest one, returning ErrVersionConflict otherwise.
type Store interface {
	Latest(ctx context.Context, organizationID, signalID string) (Data, error)
	Insert(ctx context.Context, record Data) error
	CompareAndSwap(ctx context.Context, record Data, expectedVersion int) error
	History(ctx context.Context, organizationID, signalID string) ([]Data, error)
	AppendFeedback(ctx context.Context, event FeedbackEvent) error
}

// Store errors.
var (
	ErrNotFound        = errors.New("training record not found")
	ErrVersionConflict = errors.New("training record version conflict")
)

// ErrFeedbackQuota is returned when a user exceeds their rolling submission
// quota. It is distinct from transient provider rate limits.
var ErrFeedbackQuota = errors.New("feedback submission quota exceeded")

// ErrNoEmbedder is returned by semantic matching when no embedding provider
// has been wired.
var ErrNoEmbedder = errors.New("no embedding provider configured")

// IntegrityError is raised when a training-data invariant is violated. It is
// never silently corrected.
type IntegrityError struct {
	Code   string
	Status int
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("training integrity %s: %s", e.Code, e.Detail)
}

// NewIntegrityError builds an IntegrityError with a 422 status.
func NewIntegrityError(code, detail string) *IntegrityError {
	return &IntegrityError{Code: code, Status: http.StatusUnprocessableEntity, Detail: detail}
}
