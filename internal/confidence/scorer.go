// Package confidence provides the pure statistical functions behind pattern
// confidence scoring: Bayesian updates, time decay, reinforcement, weighted
// aggregation, and outlier detection. Nothing here has side effects.
package confidence

import (
	"errors"
	"fmt"
	"math"
)

// Clamp bounds a confidence value on the 0-100 scale. The bounds are policy,
// not invariants, so callers inject them from configuration.
type Clamp struct {
	Min float64
	Max float64
}

// DefaultClamp is the reference policy: confidences never pin to absolute
// certainty in either direction.
var DefaultClamp = Clamp{Min: 10, Max: 95}

// Apply bounds v to the clamp range.
func (c Clamp) Apply(v float64) float64 {
	return math.Min(c.Max, math.Max(c.Min, v))
}

// ErrEmptyInput is returned by aggregation over zero sources.
var ErrEmptyInput = errors.New("at least one confidence source is required")

// Bayesian returns the posterior mean of a Beta(alpha, beta) belief about a
// pattern's correctness on the 0-100 scale, where alpha = positive+alphaPrior
// and beta = negative+betaPrior, clamped to the given bounds.
func Bayesian(positive, negative int, alphaPrior, betaPrior float64, clamp Clamp) (float64, error) {
	if positive < 0 || negative < 0 {
		return 0, fmt.Errorf("feedback counts must be >= 0 (got %d positive, %d negative)", positive, negative)
	}
	if alphaPrior <= 0 || betaPrior <= 0 {
		return 0, fmt.Errorf("priors must be > 0 (got alpha=%g, beta=%g)", alphaPrior, betaPrior)
	}
	alpha := float64(positive) + alphaPrior
	beta := float64(negative) + betaPrior
	mean := alpha / (alpha + beta) * 100
	return clamp.Apply(mean), nil
}

// Interval is a credible interval on the 0-100 confidence scale.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// CredibleInterval approximates the central credible interval of the Beta
// posterior at the given level (e.g. 0.95). The interval widens as the sample
// shrinks or the level rises.
func CredibleInterval(positive, negative int, level float64) (Interval, error) {
	if positive < 0 || negative < 0 {
		return Interval{}, fmt.Errorf("feedback counts must be >= 0 (got %d positive, %d negative)", positive, negative)
	}
	if level <= 0 || level >= 1 {
		return Interval{}, fmt.Errorf("level must be in (0,1), got %g", level)
	}
	alpha := float64(positive) + 1
	beta := float64(negative) + 1
	mean := alpha / (alpha + beta)
	variance := alpha * beta / ((alpha + beta) * (alpha + beta) * (alpha + beta + 1))
	z := math.Sqrt2 * math.Erfinv(level)
	halfWidth := z * math.Sqrt(variance) * 100
	center := mean * 100
	return Interval{
		Lower: math.Max(0, center-halfWidth),
		Upper: math.Min(100, center+halfWidth),
	}, nil
}

// DecayFactor returns 2^(-ageDays/halfLifeDays): 1 at age zero, 0.5 at one
// half-life, strictly decreasing as evidence ages.
func DecayFactor(ageDays, halfLifeDays float64) (float64, error) {
	if ageDays < 0 {
		return 0, fmt.Errorf("age must be >= 0, got %g", ageDays)
	}
	if halfLifeDays <= 0 {
		return 0, fmt.Errorf("half-life must be > 0, got %g", halfLifeDays)
	}
	return math.Exp2(-ageDays / halfLifeDays), nil
}

// ApplyTimeDecay scales confidence down by the decay factor for its age,
// flooring at the clamp minimum so aged patterns are demoted, not erased.
func ApplyTimeDecay(conf, ageDays, halfLifeDays float64, clamp Clamp) (float64, error) {
	factor, err := DecayFactor(ageDays, halfLifeDays)
	if err != nil {
		return 0, err
	}
	return math.Max(clamp.Min, conf*factor), nil
}

// ReinforcementUpdate moves the current confidence toward the reward by the
// learning rate. Iterated with a constant reward it converges to that reward.
func ReinforcementUpdate(current, reward, learningRate float64) (float64, error) {
	if learningRate < 0 || learningRate > 1 {
		return 0, fmt.Errorf("learning rate must be in [0,1], got %g", learningRate)
	}
	return current + learningRate*(reward-current), nil
}

// Agreement qualifies how consistent multiple confidence sources are.
type Agreement string

// Agreement levels, thresholded on population variance.
const (
	AgreementHigh   Agreement = "high"
	AgreementMedium Agreement = "medium"
	AgreementLow    Agreement = "low"
)

// Variance thresholds separating the agreement levels on the 0-100 scale.
const (
	highAgreementVariance   = 25
	mediumAgreementVariance = 150
)

// Source is one confidence signal with an optional weight. A zero weight
// counts as 1.
type Source struct {
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight,omitempty"`
}

// AggregateResult is the combined view over several confidence sources.
type AggregateResult struct {
	Confidence float64   `json:"aggregated_confidence"`
	Variance   float64   `json:"variance"`
	Agreement  Agreement `json:"agreement"`
}

// Aggregate combines sources into a weighted mean with population variance
// and an agreement grade. It fails on empty input.
func Aggregate(sources []Source) (AggregateResult, error) {
	if len(sources) == 0 {
		return AggregateResult{}, ErrEmptyInput
	}
	var weightedSum, totalWeight float64
	for _, src := range sources {
		weight := src.Weight
		if weight == 0 {
			weight = 1
		}
		if weight < 0 {
			return AggregateResult{}, fmt.Errorf("weights must be >= 0, got %g", weight)
		}
		weightedSum += src.Confidence * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return AggregateResult{}, errors.New("total weight must be > 0")
	}
	mean := weightedSum / totalWeight

	var variance float64
	for _, src := range sources {
		diff := src.Confidence - mean
		variance += diff * diff
	}
	variance /= float64(len(sources))

	agreement := AgreementLow
	switch {
	case variance <= highAgreementVariance:
		agreement = AgreementHigh
	case variance <= mediumAgreementVariance:
		agreement = AgreementMedium
	}
	return AggregateResult{
		Confidence: mean,
		Variance:   variance,
		Agreement:  agreement,
	}, nil
}

// minOutlierSample is the smallest sample for which z-scores are meaningful;
// below it DetectOutliers flags nothing.
const minOutlierSample = 4

// DetectOutliers flags scores whose z-score against the sample mean exceeds
// the threshold. Samples smaller than minOutlierSample return all-false.
func DetectOutliers(scores []float64, zThreshold float64) []bool {
	flags := make([]bool, len(scores))
	if len(scores) < minOutlierSample || zThreshold <= 0 {
		return flags
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		diff := s - mean
		variance += diff * diff
	}
	variance /= float64(len(scores))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return flags
	}
	for i, s := range scores {
		if math.Abs(s-mean)/stddev > zThreshold {
			flags[i] = true
		}
	}
	return flags
}

// FilterOutliers returns scores with flagged outliers removed.
func FilterOutliers(scores []float64, zThreshold float64) []float64 {
	flags := DetectOutliers(scores, zThreshold)
	out := make([]float64, 0, len(scores))
	for i, s := range scores {
		if !flags[i] {
			out = append(out, s)
		}
	}
	return out
}
