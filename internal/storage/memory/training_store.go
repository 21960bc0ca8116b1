package memory

import (
	"context"
	"sync"

	"github.com/StamperDavid/prospect-intel/internal/training"
)

// TrainingStore keeps full version histories per {org, signal} in memory.
// Writes go through compare-and-swap so concurrent feedback cannot clobber
// each other.
type TrainingStore struct {
	mu       sync.RWMutex
	history  map[string][]training.Data
	feedback map[string][]training.FeedbackEvent
}

// NewTrainingStore constructs a TrainingStore.
func NewTrainingStore() *TrainingStore {
	return &TrainingStore{
		history:  make(map[string][]training.Data),
		feedback: make(map[string][]training.FeedbackEvent),
	}
}

func trainingKey(organizationID, signalID string) string {
	return organizationID + "/" + signalID
}

// Latest returns the highest-version record for a signal.
func (s *TrainingStore) Latest(_ context.Context, organizationID, signalID string) (training.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.history[trainingKey(organizationID, signalID)]
	if len(history) == 0 {
		return training.Data{}, training.ErrNotFound
	}
	return history[len(history)-1], nil
}

// Insert stores version 1 of a new record. It fails with a version conflict
// if any history already exists, so racing creators serialize.
func (s *TrainingStore) Insert(_ context.Context, record training.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trainingKey(record.OrganizationID, record.SignalID)
	if len(s.history[key]) > 0 {
		return training.ErrVersionConflict
	}
	s.history[key] = append(s.history[key], record)
	return nil
}

// CompareAndSwap appends the record only if the current head still carries
// expectedVersion. Versions stay dense: each commit is exactly head+1.
func (s *TrainingStore) CompareAndSwap(_ context.Context, record training.Data, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trainingKey(record.OrganizationID, record.SignalID)
	history := s.history[key]
	if len(history) == 0 {
		return training.ErrNotFound
	}
	head := history[len(history)-1]
	if head.Version != expectedVersion || record.Version != expectedVersion+1 {
		return training.ErrVersionConflict
	}
	s.history[key] = append(history, record)
	return nil
}

// History returns every stored version, oldest first.
func (s *TrainingStore) History(_ context.Context, organizationID, signalID string) ([]training.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.history[trainingKey(organizationID, signalID)]
	out := make([]training.Data, len(history))
	copy(out, history)
	return out, nil
}

// AppendFeedback stores the raw feedback event for audit.
func (s *TrainingStore) AppendFeedback(_ context.Context, event training.FeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := trainingKey(event.OrganizationID, event.SignalID)
	s.feedback[key] = append(s.feedback[key], event)
	return nil
}

// Feedback returns stored feedback events for a signal, for tests and audit.
func (s *TrainingStore) Feedback(organizationID, signalID string) []training.FeedbackEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.feedback[trainingKey(organizationID, signalID)]
	out := make([]training.FeedbackEvent, len(events))
	copy(out, events)
	return out
}
