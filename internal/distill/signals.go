// Package distill converts raw fetched content into scored high-value
// signals and a lead score.
package distill

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// Base confidence per pattern priority, before the occurrence boost.
const (
	baseConfidenceLow      = 40
	baseConfidenceMedium   = 55
	baseConfidenceHigh     = 70
	baseConfidenceCritical = 85
)

// Additional confidence per extra occurrence beyond the first, and the total
// boost ceiling.
const (
	occurrenceBoost    = 3.0
	maxOccurrenceBoost = 12.0
	maxConfidence      = 100.0
)

// maxSourceTextLen bounds the snippet recorded with each extracted signal.
const maxSourceTextLen = 500

// Engine detects high-value signals and strips fluff from scraped content.
// Compiled regexes are cached per pattern; an Engine is safe for concurrent
// use across workers.
type Engine struct {
	mu      sync.RWMutex
	regexes map[string]*regexp.Regexp
	clock   scrape.Clock
	logger  *zap.Logger
}

// NewEngine constructs an Engine. Nil arguments get working defaults.
func NewEngine(clock scrape.Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		regexes: make(map[string]*regexp.Regexp),
		clock:   clock,
		logger:  logger,
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// DetectHighValueSignals scans content for every pattern applicable to the
// platform. A pattern matches when any keyword appears case-insensitively or
// its regex hits. Confidence starts at the priority base and rises
// monotonically with occurrence count, capped at 100.
func (e *Engine) DetectHighValueSignals(
	content string,
	patterns []scrape.HighValueSignal,
	platform string,
	sourceScrapeID string,
) []scrape.ExtractedSignal {
	if content == "" {
		return nil
	}
	lowered := strings.ToLower(content)
	now := e.clock.Now()

	var signals []scrape.ExtractedSignal
	for _, pattern := range patterns {
		if !pattern.MatchesPlatform(platform) {
			continue
		}
		occurrences, matchIndex := e.countMatches(content, lowered, pattern)
		if occurrences == 0 {
			continue
		}
		signals = append(signals, scrape.ExtractedSignal{
			SignalID:       pattern.ID,
			SignalLabel:    pattern.Label,
			SourceText:     snippet(content, matchIndex),
			Confidence:     signalConfidence(pattern.Priority, occurrences),
			Platform:       platform,
			ExtractedAt:    now,
			SourceScrapeID: sourceScrapeID,
		})
	}
	return signals
}

func (e *Engine) countMatches(content, lowered string, pattern scrape.HighValueSignal) (int, int) {
	occurrences := 0
	matchIndex := -1
	for _, keyword := range pattern.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(lowered[from:], keyword)
			if i < 0 {
				break
			}
			occurrences++
			if matchIndex < 0 {
				matchIndex = from + i
			}
			from += i + len(keyword)
			if from >= len(lowered) {
				break
			}
		}
	}
	if pattern.RegexPattern != "" {
		if re := e.compile(pattern.ID, pattern.RegexPattern); re != nil {
			matches := re.FindAllStringIndex(content, -1)
			occurrences += len(matches)
			if matchIndex < 0 && len(matches) > 0 {
				matchIndex = matches[0][0]
			}
		}
	}
	return occurrences, matchIndex
}

func (e *Engine) compile(id, pattern string) *regexp.Regexp {
	e.mu.RLock()
	re, ok := e.regexes[id]
	e.mu.RUnlock()
	if ok {
		return re
	}
	compiled, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		e.logger.Warn("invalid signal regex, skipping",
			zap.String("signal_id", id),
			zap.Error(err),
		)
		compiled = nil
	}
	e.mu.Lock()
	e.regexes[id] = compiled
	e.mu.Unlock()
	return compiled
}

func signalConfidence(priority scrape.SignalPriority, occurrences int) float64 {
	var base float64
	switch priority {
	case scrape.SignalPriorityCritical:
		base = baseConfidenceCritical
	case scrape.SignalPriorityHigh:
		base = baseConfidenceHigh
	case scrape.SignalPriorityMedium:
		base = baseConfidenceMedium
	default:
		base = baseConfidenceLow
	}
	boost := float64(occurrences-1) * occurrenceBoost
	if boost > maxOccurrenceBoost {
		boost = maxOccurrenceBoost
	}
	conf := base + boost
	if conf > maxConfidence {
		conf = maxConfidence
	}
	return conf
}

// snippet extracts up to maxSourceTextLen characters of context around the
// first match.
func snippet(content string, matchIndex int) string {
	if matchIndex < 0 {
		matchIndex = 0
	}
	start := matchIndex - maxSourceTextLen/4
	if start < 0 {
		start = 0
	}
	end := start + maxSourceTextLen
	if end > len(content) {
		end = len(content)
	}
	// Keep both cuts on rune boundaries so the snippet stays valid UTF-8.
	for start < end && !utf8.RuneStart(content[start]) {
		start++
	}
	for end > start && end < len(content) && !utf8.RuneStart(content[end]) {
		end--
	}
	return strings.TrimSpace(content[start:end])
}
