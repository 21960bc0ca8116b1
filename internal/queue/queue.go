// Package queue implements the priority scrape-job queue and the per-job
// lifecycle state machine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// Errors returned by queue operations.
var (
	ErrDuplicateJob  = errors.New("job already enqueued")
	ErrJobNotFound   = errors.New("job not found")
	ErrTerminalState = errors.New("job is in a terminal state")
	ErrQueueClosed   = errors.New("queue closed")
)

// Stats summarizes queue contents for observability endpoints.
type Stats struct {
	Total      int                      `json:"total"`
	ByStatus   map[scrape.JobStatus]int `json:"by_status"`
	ByPriority map[scrape.Priority]int  `json:"by_priority"`
}

// Queue is a four-tier priority queue with FIFO ordering within each tier.
// Dequeue is atomic across workers: a job is delivered to exactly one caller.
type Queue struct {
	mu     sync.Mutex
	tiers  [4][]scrape.JobConfig
	jobs   map[string]*scrape.JobResult
	tokens chan struct{}
	clock  scrape.Clock
	closed bool
}

// New constructs a Queue. Capacity bounds the number of pending jobs.
func New(capacity int, clock scrape.Clock) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Queue{
		jobs:   make(map[string]*scrape.JobResult),
		tokens: make(chan struct{}, capacity),
		clock:  clock,
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Enqueue admits a job in pending status. The config is immutable once
// accepted; duplicates and invalid priorities are rejected.
func (q *Queue) Enqueue(config scrape.JobConfig) error {
	if config.JobID == "" {
		return &scrape.ValidationError{Reason: "job id is required"}
	}
	if config.URL == "" {
		return &scrape.ValidationError{Reason: "url is required"}
	}
	if !config.Priority.Valid() {
		return &scrape.ValidationError{Reason: fmt.Sprintf("unknown priority %q", config.Priority)}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, exists := q.jobs[config.JobID]; exists {
		q.mu.Unlock()
		return ErrDuplicateJob
	}
	q.jobs[config.JobID] = &scrape.JobResult{
		Config:      config,
		Status:      scrape.JobStatusPending,
		SubmittedAt: q.clock.Now(),
	}
	q.tiers[config.Priority.Rank()] = append(q.tiers[config.Priority.Rank()], config)
	// Close closes tokens under the same lock, so the wakeup send must stay
	// inside the critical section to never hit a closed channel.
	select {
	case q.tokens <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return nil
}

// Requeue puts a previously dispatched job back in the pending state so the
// next attempt can be picked up. Terminal jobs are not requeued.
func (q *Queue) Requeue(jobID string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		q.mu.Unlock()
		return ErrTerminalState
	}
	job.Status = scrape.JobStatusPending
	job.Attempt++
	rank := job.Config.Priority.Rank()
	q.tiers[rank] = append(q.tiers[rank], job.Config)
	select {
	case q.tokens <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return nil
}

// Dequeue returns the highest-priority pending job, FIFO within a tier, or
// false when nothing is pending. Cancelled jobs are skipped.
func (q *Queue) Dequeue() (scrape.JobConfig, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (scrape.JobConfig, bool) {
	for rank := len(q.tiers) - 1; rank >= 0; rank-- {
		for len(q.tiers[rank]) > 0 {
			config := q.tiers[rank][0]
			q.tiers[rank] = q.tiers[rank][1:]
			job, ok := q.jobs[config.JobID]
			if !ok || job.Status != scrape.JobStatusPending {
				// Cancelled while queued; drop the stale slot.
				continue
			}
			return config, true
		}
	}
	return scrape.JobConfig{}, false
}

// DequeueWait blocks until a job is available or the context ends. Used by
// the worker pool. Wakeup tokens are best-effort, so waiters also recheck on
// a short interval.
func (q *Queue) DequeueWait(ctx context.Context) (scrape.JobConfig, error) {
	recheck := time.NewTicker(250 * time.Millisecond)
	defer recheck.Stop()
	for {
		if config, ok := q.Dequeue(); ok {
			return config, nil
		}
		select {
		case <-ctx.Done():
			return scrape.JobConfig{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case _, ok := <-q.tokens:
			if !ok {
				return scrape.JobConfig{}, ErrQueueClosed
			}
		case <-recheck.C:
		}
	}
}

// MarkRunning transitions a pending job to running and stamps its start time.
func (q *Queue) MarkRunning(jobID string) error {
	return q.transition(jobID, func(job *scrape.JobResult) error {
		if job.Status != scrape.JobStatusPending {
			return fmt.Errorf("cannot start job in status %q", job.Status)
		}
		job.Status = scrape.JobStatusRunning
		if job.StartedAt.IsZero() {
			job.StartedAt = q.clock.Now()
		}
		return nil
	})
}

// Complete finalizes a running job with its extracted signals and lead score.
func (q *Queue) Complete(jobID string, signals []scrape.ExtractedSignal, leadScore float64) error {
	return q.transition(jobID, func(job *scrape.JobResult) error {
		if job.Status != scrape.JobStatusRunning {
			return fmt.Errorf("cannot complete job in status %q", job.Status)
		}
		now := q.clock.Now()
		job.Status = scrape.JobStatusCompleted
		job.Signals = signals
		job.LeadScore = &leadScore
		job.CompletedAt = &now
		return nil
	})
}

// Fail finalizes a running job with the last error text.
func (q *Queue) Fail(jobID string, errText string) error {
	return q.transition(jobID, func(job *scrape.JobResult) error {
		if job.Status != scrape.JobStatusRunning {
			return fmt.Errorf("cannot fail job in status %q", job.Status)
		}
		now := q.clock.Now()
		job.Status = scrape.JobStatusFailed
		job.ErrorText = errText
		job.CompletedAt = &now
		return nil
	})
}

// Cancel marks a job cancelled. It succeeds only while the job is still
// pending; a dispatched job runs to completion or failure.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok || job.Status != scrape.JobStatusPending {
		return false
	}
	now := q.clock.Now()
	job.Status = scrape.JobStatusCancelled
	job.CompletedAt = &now
	return true
}

// Job returns a copy of the job record, or false if unknown.
func (q *Queue) Job(jobID string) (scrape.JobResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return scrape.JobResult{}, false
	}
	return *job, true
}

// List returns copies of known jobs, newest submissions first, optionally
// filtered by status. Limit caps the result; offset skips from the front.
func (q *Queue) List(status *scrape.JobStatus, limit, offset int) []scrape.JobResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]scrape.JobResult, 0, len(q.jobs))
	for _, job := range q.jobs {
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].Config.JobID < out[j].Config.JobID
	})
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// GetStats counts jobs by status and priority.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := Stats{
		Total:      len(q.jobs),
		ByStatus:   make(map[scrape.JobStatus]int),
		ByPriority: make(map[scrape.Priority]int),
	}
	for _, job := range q.jobs {
		stats.ByStatus[job.Status]++
		stats.ByPriority[job.Config.Priority]++
	}
	return stats
}

// Close rejects further enqueues and wakes blocked waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tokens)
}

func (q *Queue) transition(jobID string, apply func(*scrape.JobResult) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return ErrTerminalState
	}
	return apply(job)
}
