package distill

import (
	"go.uber.org/zap"

	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// DefaultLeadScoreCap is the reference ceiling for lead scores. The cap is
// policy, so callers may override it via CalculateLeadScore's parameter.
const DefaultLeadScoreCap = 150

// PatternSet bundles the signal patterns and scoring rules configured for an
// industry. It is read-only at runtime.
type PatternSet struct {
	Signals []scrape.HighValueSignal `json:"signals"`
	Rules   []ScoringRule            `json:"rules"`
	Fluff   []FluffPattern           `json:"fluff_patterns,omitempty"`
}

// CalculateLeadScore sums, over every detected signal with a known pattern,
// scoreBoost x (confidence/100), plus the boost of each enabled rule whose
// condition holds against the facts. The total is clamped to [0, cap].
// Signals referencing unknown pattern IDs are skipped, never fatal.
func (e *Engine) CalculateLeadScore(
	signals []scrape.ExtractedSignal,
	set PatternSet,
	facts map[string]float64,
	cap float64,
) float64 {
	if cap <= 0 {
		cap = DefaultLeadScoreCap
	}
	boosts := make(map[string]float64, len(set.Signals))
	for _, pattern := range set.Signals {
		boosts[pattern.ID] = pattern.ScoreBoost
	}

	var score float64
	for _, signal := range signals {
		boost, ok := boosts[signal.SignalID]
		if !ok {
			e.logger.Debug("skipping signal with unknown pattern id",
				zap.String("signal_id", signal.SignalID))
			continue
		}
		score += boost * (signal.Confidence / 100)
	}

	for _, rule := range set.Rules {
		if !rule.Enabled {
			continue
		}
		holds, err := rule.Condition.Eval(facts)
		if err != nil {
			e.logger.Warn("skipping malformed scoring rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}
		if holds {
			score += rule.Boost
		}
	}

	if score < 0 {
		score = 0
	}
	if score > cap {
		score = cap
	}
	return score
}
