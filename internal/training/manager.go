package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/confidence"
	"github.com/StamperDavid/prospect-intel/internal/patterns"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// ManagerConfig carries the policy knobs for feedback handling.
type ManagerConfig struct {
	// FeedbackQuota limits submissions per user within QuotaWindow.
	FeedbackQuota int
	// QuotaWindow is the rolling interval for the quota.
	QuotaWindow time.Duration
	// MaxSourceTextLen truncates stored feedback snippets.
	MaxSourceTextLen int
	// MaxCASRetries bounds the optimistic-concurrency retry loop.
	MaxCASRetries int
	// Clamp bounds recomputed confidences.
	Clamp confidence.Clamp
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.FeedbackQuota <= 0 {
		c.FeedbackQuota = 10
	}
	if c.QuotaWindow <= 0 {
		c.QuotaWindow = time.Hour
	}
	if c.MaxSourceTextLen <= 0 {
		c.MaxSourceTextLen = 1000
	}
	if c.MaxCASRetries <= 0 {
		c.MaxCASRetries = 5
	}
	if c.Clamp.Max <= c.Clamp.Min {
		c.Clamp = confidence.DefaultClamp
	}
	return c
}

// Manager owns all TrainingData mutation. Feedback either applies in full
// (counts, confidence, version) or not at all; concurrent feedback on one
// pattern serializes through compare-and-swap retries rather than last-writer
// wins.
type Manager struct {
	store    Store
	scrapes  scrape.ScrapeStore
	ids      scrape.IDGenerator
	clock    scrape.Clock
	embedder scrape.Embedder
	logger   *zap.Logger
	cfg      ManagerConfig

	quotaMu sync.Mutex
	quota   map[string][]time.Time
}

// WithEmbedder wires the external embedding provider used by MatchSignal.
func (m *Manager) WithEmbedder(embedder scrape.Embedder) *Manager {
	m.embedder = embedder
	return m
}

// NewManager constructs a Manager.
func NewManager(
	store Store,
	scrapes scrape.ScrapeStore,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	cfg ManagerConfig,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		scrapes: scrapes,
		ids:     ids,
		clock:   clock,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		quota:   make(map[string][]time.Time),
	}
}

// SubmitFeedback validates, quota-checks, and persists one feedback event,
// then recomputes the pattern's training record under optimistic concurrency.
// The returned record is the newly committed version.
func (m *Manager) SubmitFeedback(ctx context.Context, event FeedbackEvent) (Data, error) {
	if event.UserID == "" {
		return Data{}, &scrape.ValidationError{Reason: "user id is required"}
	}
	if event.SignalID == "" {
		return Data{}, &scrape.ValidationError{Reason: "signal id is required"}
	}
	if !event.FeedbackType.Valid() {
		return Data{}, &scrape.ValidationError{Reason: fmt.Sprintf("unknown feedback type %q", event.FeedbackType)}
	}

	// The referenced scrape must exist and belong to the caller's org.
	record, err := m.scrapes.GetScrape(ctx, event.OrganizationID, event.SourceScrapeID)
	if err != nil {
		return Data{}, &scrape.ValidationError{Reason: "source scrape not found"}
	}
	if record.OrganizationID != event.OrganizationID {
		return Data{}, scrape.ErrUnauthorized
	}

	now := m.clock.Now()
	if err := m.consumeQuota(event.UserID, now); err != nil {
		return Data{}, err
	}

	event.SubmittedAt = now
	event.SourceText = truncate(event.SourceText, m.cfg.MaxSourceTextLen)

	// The training update commits first: a rejected submission must leave no
	// trace, so the feedback row, the quota slot, and the deletion flag only
	// land once the new version is durable.
	committed, err := m.applyFeedback(ctx, event, now)
	if err != nil {
		m.refundQuota(event.UserID, now)
		return Data{}, err
	}

	if err := m.store.AppendFeedback(ctx, event); err != nil {
		return Data{}, fmt.Errorf("append feedback: %w", err)
	}

	// Confirmed-correct content has served its purpose and need not be kept.
	if event.FeedbackType == FeedbackCorrect {
		if err := m.scrapes.FlagForDeletion(ctx, event.OrganizationID, event.SourceScrapeID); err != nil {
			m.logger.Warn("flag scrape for deletion failed",
				zap.String("scrape_id", event.SourceScrapeID),
				zap.Error(err),
			)
		}
	}

	return committed, nil
}

// applyFeedback runs the compare-and-swap loop: read latest, compute the
// next version, write with an expected-version precondition, retry on
// conflict so no accepted update is ever silently lost.
func (m *Manager) applyFeedback(ctx context.Context, event FeedbackEvent, now time.Time) (Data, error) {
	for attempt := 0; attempt < m.cfg.MaxCASRetries; attempt++ {
		latest, err := m.store.Latest(ctx, event.OrganizationID, event.SignalID)
		if errors.Is(err, ErrNotFound) {
			created, err := m.createInitial(ctx, event, now)
			if err == nil {
				return created, nil
			}
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return Data{}, err
		}
		if err != nil {
			return Data{}, fmt.Errorf("load training record: %w", err)
		}

		next, err := m.nextVersion(latest, event.FeedbackType, now)
		if err != nil {
			return Data{}, err
		}
		err = m.store.CompareAndSwap(ctx, next, latest.Version)
		if errors.Is(err, ErrVersionConflict) {
			m.logger.Debug("training version conflict, retrying",
				zap.String("signal_id", event.SignalID),
				zap.Int("expected_version", latest.Version),
			)
			continue
		}
		if err != nil {
			return Data{}, fmt.Errorf("commit training update: %w", err)
		}
		return next, nil
	}
	return Data{}, fmt.Errorf("training update for signal %s: %w", event.SignalID, ErrVersionConflict)
}

// MatchSignal reports which of the learned signals the text most resembles.
// The probe text and each signal's current pattern go through the external
// embedding provider; candidates are compared by cosine similarity at a
// threshold derived from precisionTarget. Inactive and unknown signals are
// skipped.
func (m *Manager) MatchSignal(
	ctx context.Context,
	organizationID string,
	signalIDs []string,
	text string,
	precisionTarget float64,
) (patterns.Match, bool, error) {
	if m.embedder == nil {
		return patterns.Match{}, false, ErrNoEmbedder
	}
	if strings.TrimSpace(text) == "" {
		return patterns.Match{}, false, &scrape.ValidationError{Reason: "text is required"}
	}
	probe, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return patterns.Match{}, false, fmt.Errorf("embed probe text: %w", err)
	}

	candidates := make([]patterns.Candidate, 0, len(signalIDs))
	for _, signalID := range signalIDs {
		latest, err := m.store.Latest(ctx, organizationID, signalID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return patterns.Match{}, false, fmt.Errorf("load training record: %w", err)
		}
		if !latest.Active || latest.Pattern == "" {
			continue
		}
		vector, err := m.embedder.Embed(ctx, latest.Pattern)
		if err != nil {
			return patterns.Match{}, false, fmt.Errorf("embed pattern for signal %s: %w", signalID, err)
		}
		candidates = append(candidates, patterns.Candidate{PatternID: signalID, Vector: vector})
	}
	return patterns.BestMatch(probe, candidates, precisionTarget)
}

func (m *Manager) createInitial(ctx context.Context, event FeedbackEvent, now time.Time) (Data, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return Data{}, fmt.Errorf("new training id: %w", err)
	}
	record := Data{
		ID:             id,
		OrganizationID: event.OrganizationID,
		SignalID:       event.SignalID,
		Pattern:        event.SourceText,
		PatternType:    PatternTypeKeyword,
		Version:        1,
		Active:         true,
		CreatedAt:      now,
		LastUpdatedAt:  now,
		LastSeenAt:     now,
	}
	record = applyCounts(record, event.FeedbackType)
	conf, err := confidence.Bayesian(record.PositiveCount, record.NegativeCount, 1, 1, m.cfg.Clamp)
	if err != nil {
		return Data{}, fmt.Errorf("initial confidence: %w", err)
	}
	record.Confidence = conf
	if err := m.store.Insert(ctx, record); err != nil {
		return Data{}, err
	}
	return record, nil
}

func (m *Manager) nextVersion(latest Data, feedback FeedbackType, now time.Time) (Data, error) {
	if v := ValidateIntegrity(latest); !v.Valid {
		return Data{}, NewIntegrityError("invariant_violation", fmt.Sprintf("record %s: %v", latest.ID, v.Errors))
	}
	next := latest
	next = applyCounts(next, feedback)
	conf, err := confidence.Bayesian(next.PositiveCount, next.NegativeCount, 1, 1, m.cfg.Clamp)
	if err != nil {
		return Data{}, fmt.Errorf("recompute confidence: %w", err)
	}
	next.Confidence = conf
	next.Version = latest.Version + 1
	next.LastUpdatedAt = now
	next.LastSeenAt = now
	return next, nil
}

func applyCounts(record Data, feedback FeedbackType) Data {
	switch feedback {
	case FeedbackCorrect, FeedbackMissing:
		record.PositiveCount++
	case FeedbackIncorrect:
		record.NegativeCount++
	}
	record.SeenCount++
	return record
}

// History returns all versions for a signal, oldest first.
func (m *Manager) History(ctx context.Context, organizationID, signalID string) ([]Data, error) {
	return m.store.History(ctx, organizationID, signalID)
}

// Changelog derives the exportable version history for a signal from its
// stored diffs.
func (m *Manager) Changelog(ctx context.Context, organizationID, signalID string) ([]ChangelogEntry, error) {
	history, err := m.store.History(ctx, organizationID, signalID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var entries []ChangelogEntry
	for i, record := range history {
		entry := ChangelogEntry{
			Version:   record.Version,
			Timestamp: record.LastUpdatedAt,
		}
		if i == 0 {
			entry.Changes = []ChangelogChange{{Type: SeverityMajor, Description: "Pattern created"}}
		} else {
			diff, err := GenerateDiff(history[i-1], record)
			if err != nil {
				return nil, err
			}
			severity := SeverityPatch
			for _, change := range diff.Changes {
				if change.Field == "active" || change.Field == "pattern" {
					severity = SeverityMajor
					break
				}
				if change.Field == "confidence" {
					severity = SeverityMinor
				}
			}
			entry.Changes = []ChangelogChange{{Type: severity, Description: diff.Summary}}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *Manager) consumeQuota(userID string, now time.Time) error {
	cutoff := now.Add(-m.cfg.QuotaWindow)

	m.quotaMu.Lock()
	defer m.quotaMu.Unlock()
	recent := m.quota[userID][:0]
	for _, ts := range m.quota[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= m.cfg.FeedbackQuota {
		m.quota[userID] = recent
		return ErrFeedbackQuota
	}
	m.quota[userID] = append(recent, now)
	return nil
}

// refundQuota releases the slot taken by a submission that did not commit.
func (m *Manager) refundQuota(userID string, consumedAt time.Time) {
	m.quotaMu.Lock()
	defer m.quotaMu.Unlock()
	slots := m.quota[userID]
	for i := len(slots) - 1; i >= 0; i-- {
		if slots[i].Equal(consumedAt) {
			m.quota[userID] = append(slots[:i], slots[i+1:]...)
			return
		}
	}
}

// truncate shortens s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
