package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBayesian_PosteriorMean(t *testing.T) {
	t.Parallel()

	// 3 positive, 1 negative with uniform priors: (3+1)/(3+1+1+1) = 2/3.
	got, err := Bayesian(3, 1, 1, 1, DefaultClamp)
	require.NoError(t, err)
	require.InDelta(t, 66.67, got, 0.01)
}

func TestBayesian_ClampBounds(t *testing.T) {
	t.Parallel()

	low, err := Bayesian(0, 100, 1, 1, DefaultClamp)
	require.NoError(t, err)
	require.Equal(t, DefaultClamp.Min, low)

	high, err := Bayesian(100, 0, 1, 1, DefaultClamp)
	require.NoError(t, err)
	require.Equal(t, DefaultClamp.Max, high)

	// Any count combination stays within bounds.
	for p := 0; p <= 20; p += 5 {
		for n := 0; n <= 20; n += 5 {
			got, err := Bayesian(p, n, 1, 1, DefaultClamp)
			require.NoError(t, err)
			require.GreaterOrEqual(t, got, DefaultClamp.Min)
			require.LessOrEqual(t, got, DefaultClamp.Max)
		}
	}
}

func TestBayesian_NegativeEvidenceLowersConfidence(t *testing.T) {
	t.Parallel()

	clean, err := Bayesian(10, 0, 1, 1, DefaultClamp)
	require.NoError(t, err)
	dirty, err := Bayesian(10, 4, 1, 1, DefaultClamp)
	require.NoError(t, err)
	require.Greater(t, clean, dirty)
}

func TestBayesian_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := Bayesian(-1, 0, 1, 1, DefaultClamp)
	require.Error(t, err)
	_, err = Bayesian(0, -1, 1, 1, DefaultClamp)
	require.Error(t, err)
	_, err = Bayesian(0, 0, 0, 1, DefaultClamp)
	require.Error(t, err)
	_, err = Bayesian(0, 0, 1, -2, DefaultClamp)
	require.Error(t, err)
}

func TestCredibleInterval_WidensWithSmallSamplesAndHigherLevels(t *testing.T) {
	t.Parallel()

	small, err := CredibleInterval(2, 2, 0.95)
	require.NoError(t, err)
	large, err := CredibleInterval(200, 200, 0.95)
	require.NoError(t, err)
	require.Greater(t, small.Upper-small.Lower, large.Upper-large.Lower)

	narrow, err := CredibleInterval(10, 10, 0.80)
	require.NoError(t, err)
	wide, err := CredibleInterval(10, 10, 0.99)
	require.NoError(t, err)
	require.Greater(t, wide.Upper-wide.Lower, narrow.Upper-narrow.Lower)

	_, err = CredibleInterval(1, 1, 1.5)
	require.Error(t, err)
}

func TestDecayFactor(t *testing.T) {
	t.Parallel()

	one, err := DecayFactor(0, 30)
	require.NoError(t, err)
	require.Equal(t, 1.0, one)

	half, err := DecayFactor(30, 30)
	require.NoError(t, err)
	require.InDelta(t, 0.5, half, 1e-9)

	quarter, err := DecayFactor(60, 30)
	require.NoError(t, err)
	require.InDelta(t, 0.25, quarter, 1e-9)

	// Strictly decreasing in age.
	prev := 2.0
	for age := 0.0; age <= 120; age += 10 {
		factor, err := DecayFactor(age, 30)
		require.NoError(t, err)
		require.Less(t, factor, prev)
		prev = factor
	}

	_, err = DecayFactor(-1, 30)
	require.Error(t, err)
	_, err = DecayFactor(1, 0)
	require.Error(t, err)
}

func TestApplyTimeDecay_FloorsAtClampMin(t *testing.T) {
	t.Parallel()

	decayed, err := ApplyTimeDecay(80, 30, 30, DefaultClamp)
	require.NoError(t, err)
	require.InDelta(t, 40, decayed, 1e-9)

	floored, err := ApplyTimeDecay(80, 3000, 30, DefaultClamp)
	require.NoError(t, err)
	require.Equal(t, DefaultClamp.Min, floored)
}

func TestReinforcementUpdate_ConvergesToReward(t *testing.T) {
	t.Parallel()

	conf := 20.0
	for i := 0; i < 100; i++ {
		next, err := ReinforcementUpdate(conf, 90, 0.2)
		require.NoError(t, err)
		conf = next
	}
	require.InDelta(t, 90, conf, 0.01)

	_, err := ReinforcementUpdate(50, 90, 1.5)
	require.Error(t, err)
	_, err = ReinforcementUpdate(50, 90, -0.1)
	require.Error(t, err)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	_, err := Aggregate(nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	tight, err := Aggregate([]Source{{Confidence: 80}, {Confidence: 82}, {Confidence: 78}})
	require.NoError(t, err)
	require.InDelta(t, 80, tight.Confidence, 1e-9)
	require.Equal(t, AgreementHigh, tight.Agreement)

	spread, err := Aggregate([]Source{{Confidence: 10}, {Confidence: 90}})
	require.NoError(t, err)
	require.Equal(t, AgreementLow, spread.Agreement)

	weighted, err := Aggregate([]Source{
		{Confidence: 100, Weight: 3},
		{Confidence: 0, Weight: 1},
	})
	require.NoError(t, err)
	require.InDelta(t, 75, weighted.Confidence, 1e-9)
}

func TestDetectOutliers(t *testing.T) {
	t.Parallel()

	// Uniform array: nothing to flag.
	uniform := DetectOutliers([]float64{50, 50, 50, 50, 50}, 1.5)
	for _, flagged := range uniform {
		require.False(t, flagged)
	}

	// A single extreme value in a tight cluster is flagged.
	flags := DetectOutliers([]float64{50, 51, 49, 50, 95}, 1.5)
	require.Equal(t, []bool{false, false, false, false, true}, flags)

	// Below the minimum sample size everything passes.
	small := DetectOutliers([]float64{1, 100, 1}, 0.5)
	for _, flagged := range small {
		require.False(t, flagged)
	}
}

func TestFilterOutliers(t *testing.T) {
	t.Parallel()

	filtered := FilterOutliers([]float64{50, 51, 49, 50, 95}, 1.5)
	require.Equal(t, []float64{50, 51, 49, 50}, filtered)
	require.True(t, math.Abs(filtered[0]-50) < 1e-9)
}
