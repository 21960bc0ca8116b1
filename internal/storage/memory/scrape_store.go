package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// ErrScrapeNotFound is returned when no record matches {org, scrapeID}.
var ErrScrapeNotFound = errors.New("scrape record not found")

// DefaultDedupHorizon bounds how far back content-hash sightings count.
const DefaultDedupHorizon = 30 * 24 * time.Hour

// ScrapeStore keeps scrape records and content-hash sightings in memory.
type ScrapeStore struct {
	mu      sync.RWMutex
	records map[string]scrape.ScrapeRecord
	seen    map[string][]time.Time
	horizon time.Duration
}

// NewScrapeStore constructs a ScrapeStore with the given dedup horizon.
// A non-positive horizon falls back to the default.
func NewScrapeStore(horizon time.Duration) *ScrapeStore {
	if horizon <= 0 {
		horizon = DefaultDedupHorizon
	}
	return &ScrapeStore{
		records: make(map[string]scrape.ScrapeRecord),
		seen:    make(map[string][]time.Time),
		horizon: horizon,
	}
}

func recordKey(organizationID, scrapeID string) string {
	return organizationID + "/" + scrapeID
}

// SaveScrape inserts or replaces a scrape record. An existing record keeps
// its accumulated scrape count, incremented by one.
func (s *ScrapeStore) SaveScrape(_ context.Context, record scrape.ScrapeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(record.OrganizationID, record.ScrapeID)
	if existing, ok := s.records[key]; ok {
		record.ScrapeCount = existing.ScrapeCount + 1
	} else if record.ScrapeCount == 0 {
		record.ScrapeCount = 1
	}
	s.records[key] = record
	return nil
}

// GetScrape fetches a record by {org, scrapeID}.
func (s *ScrapeStore) GetScrape(_ context.Context, organizationID, scrapeID string) (scrape.ScrapeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey(organizationID, scrapeID)]
	if !ok {
		return scrape.ScrapeRecord{}, ErrScrapeNotFound
	}
	return record, nil
}

// ObserveContent records a content-hash sighting and reports how many times
// the hash has been seen inside the horizon, plus whether this sighting is a
// duplicate of an earlier one.
func (s *ScrapeStore) ObserveContent(_ context.Context, hash string, now time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.horizon)
	recent := s.seen[hash][:0]
	for _, ts := range s.seen[hash] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	duplicate := len(recent) > 0
	recent = append(recent, now)
	s.seen[hash] = recent
	return len(recent), duplicate, nil
}

// FlagForDeletion marks a record so a retention sweep can remove its content.
func (s *ScrapeStore) FlagForDeletion(_ context.Context, organizationID, scrapeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(organizationID, scrapeID)
	record, ok := s.records[key]
	if !ok {
		return ErrScrapeNotFound
	}
	record.FlaggedForDeletion = true
	s.records[key] = record
	return nil
}
