// Package patterns implements semantic similarity over externally-supplied
// embedding vectors, used to decide whether new content matches a learned
// pattern.
package patterns

import (
	"fmt"
	"math"
)

// MatcherError is raised for malformed similarity inputs such as dimension
// mismatches.
type MatcherError struct {
	Reason string
}

func (e *MatcherError) Error() string {
	return "pattern matcher: " + e.Reason
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, remapped from [-1,1] to [0,1] so orthogonal vectors score 0.5 and
// opposite vectors score near 0. Zero vectors score 0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &MatcherError{Reason: fmt.Sprintf("dimension mismatch: %d vs %d", len(a), len(b))}
	}
	if len(a) == 0 {
		return 0, &MatcherError{Reason: "vectors must be non-empty"}
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against floating-point drift outside [-1,1].
	cos = math.Max(-1, math.Min(1, cos))
	return (cos + 1) / 2, nil
}

// Threshold bounds for CalculateThreshold.
const (
	minThreshold = 0.5
	maxThreshold = 0.95
)

// CalculateThreshold maps a precision target in [0,1] to the similarity
// threshold above which two embeddings are treated as the same pattern. It is
// monotonically increasing: demanding more precision requires closer matches.
func CalculateThreshold(precisionTarget float64) float64 {
	if precisionTarget < 0 {
		precisionTarget = 0
	}
	if precisionTarget > 1 {
		precisionTarget = 1
	}
	return minThreshold + precisionTarget*(maxThreshold-minThreshold)
}

// Candidate pairs a pattern identifier with its stored embedding.
type Candidate struct {
	PatternID string
	Vector    []float64
}

// Match is the best candidate found for a probe vector.
type Match struct {
	PatternID  string
	Similarity float64
}

// BestMatch scans candidates for the one most similar to the probe vector and
// reports it when the similarity clears the threshold for the precision
// target. Candidates with mismatched dimensions fail the whole call.
func BestMatch(probe []float64, candidates []Candidate, precisionTarget float64) (Match, bool, error) {
	threshold := CalculateThreshold(precisionTarget)
	best := Match{Similarity: -1}
	for _, candidate := range candidates {
		similarity, err := CosineSimilarity(probe, candidate.Vector)
		if err != nil {
			return Match{}, false, fmt.Errorf("candidate %s: %w", candidate.PatternID, err)
		}
		if similarity > best.Similarity {
			best = Match{PatternID: candidate.PatternID, Similarity: similarity}
		}
	}
	if best.Similarity < threshold {
		return Match{}, false, nil
	}
	return best, true, nil
}
