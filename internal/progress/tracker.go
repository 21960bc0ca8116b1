package progress

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber receives events synchronously at emit time. Callbacks must be
// fast; anything slow belongs behind its own buffering.
type Subscriber func(Event)

// Tracker fans events out to job-scoped and global subscribers and retains
// per-job history until explicitly cleared. It is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	jobSubs    map[string]map[int]Subscriber
	globalSubs map[int]Subscriber
	history    map[string][]Event
	nextID     int
	logger     *zap.Logger
}

// NewTracker constructs a Tracker. A nil logger is replaced with a no-op.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		jobSubs:    make(map[string]map[int]Subscriber),
		globalSubs: make(map[int]Subscriber),
		history:    make(map[string][]Event),
		logger:     logger,
	}
}

// Emit validates the event, appends it to the job's history, and delivers it
// to job-scoped and global subscribers before returning. Callbacks run
// outside the tracker lock so they may call back into the Tracker.
func (t *Tracker) Emit(evt Event) {
	if t == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		t.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}

	t.mu.Lock()
	t.history[evt.JobID] = append(t.history[evt.JobID], evt)
	subscribers := make([]Subscriber, 0, len(t.jobSubs[evt.JobID])+len(t.globalSubs))
	for _, sub := range t.jobSubs[evt.JobID] {
		subscribers = append(subscribers, sub)
	}
	for _, sub := range t.globalSubs {
		subscribers = append(subscribers, sub)
	}
	t.mu.Unlock()

	for _, sub := range subscribers {
		sub(evt)
	}
}

// Subscribe registers a callback for one job's events and returns an
// unsubscribe function.
func (t *Tracker) Subscribe(jobID string, sub Subscriber) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	if t.jobSubs[jobID] == nil {
		t.jobSubs[jobID] = make(map[int]Subscriber)
	}
	t.jobSubs[jobID][id] = sub
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.jobSubs[jobID], id)
		if len(t.jobSubs[jobID]) == 0 {
			delete(t.jobSubs, jobID)
		}
		t.mu.Unlock()
	}
}

// SubscribeAll registers a callback for every event and returns an
// unsubscribe function.
func (t *Tracker) SubscribeAll(sub Subscriber) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.globalSubs[id] = sub
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.globalSubs, id)
		t.mu.Unlock()
	}
}

// Progress returns the retained event history for a job, oldest first.
func (t *Tracker) Progress(jobID string) []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := t.history[jobID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Clear drops the retained history for a job.
func (t *Tracker) Clear(jobID string) {
	t.mu.Lock()
	delete(t.history, jobID)
	t.mu.Unlock()
}
