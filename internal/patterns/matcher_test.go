package patterns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	v := []float64{0.3, 0.7, 0.1}

	self, err := CosineSimilarity(v, v)
	require.NoError(t, err)
	require.InDelta(t, 1.0, self, 1e-9)

	// Symmetry.
	w := []float64{0.9, 0.1, 0.4}
	ab, err := CosineSimilarity(v, w)
	require.NoError(t, err)
	ba, err := CosineSimilarity(w, v)
	require.NoError(t, err)
	require.InDelta(t, ab, ba, 1e-12)

	// Orthogonal vectors land at the remapped midpoint.
	ortho, err := CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.5, ortho, 1e-9)

	// Opposite vectors score near zero.
	opposite, err := CosineSimilarity([]float64{1, 2}, []float64{-1, -2})
	require.NoError(t, err)
	require.InDelta(t, 0.0, opposite, 1e-9)

	// Zero vectors score zero rather than dividing by zero.
	zero, err := CosineSimilarity([]float64{0, 0}, []float64{1, 2})
	require.NoError(t, err)
	require.Equal(t, 0.0, zero)
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	t.Parallel()

	var mErr *MatcherError
	_, err := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3})
	require.ErrorAs(t, err, &mErr)

	_, err = CosineSimilarity(nil, nil)
	require.ErrorAs(t, err, &mErr)
}

func TestCalculateThreshold_MonotoneAndBounded(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.5, CalculateThreshold(0))
	require.Equal(t, 0.95, CalculateThreshold(1))
	require.Equal(t, 0.5, CalculateThreshold(-3))
	require.Equal(t, 0.95, CalculateThreshold(7))

	prev := -1.0
	for target := 0.0; target <= 1.0; target += 0.1 {
		threshold := CalculateThreshold(target)
		require.Greater(t, threshold, prev)
		prev = threshold
	}
}

func TestBestMatch(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{PatternID: "hiring", Vector: []float64{1, 0, 0}},
		{PatternID: "emergency", Vector: []float64{0.9, 0.1, 0}},
		{PatternID: "unrelated", Vector: []float64{0, 0, 1}},
	}

	match, ok, err := BestMatch([]float64{1, 0.05, 0}, candidates, 0.9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hiring", match.PatternID)

	// Nothing clears a very high threshold for a dissimilar probe.
	_, ok, err = BestMatch([]float64{0, 1, 0}, candidates, 1.0)
	require.NoError(t, err)
	require.False(t, ok)

	// One bad candidate fails the call.
	_, _, err = BestMatch([]float64{1, 0}, candidates, 0.5)
	require.Error(t, err)
}
