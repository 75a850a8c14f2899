package dp

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaplaceRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name        string
		sensitivity float64
		epsilon     float64
	}{
		{"zero sensitivity", 0, 1.0},
		{"negative sensitivity", -1, 1.0},
		{"NaN sensitivity", math.NaN(), 1.0},
		{"zero epsilon", 1.0, 0},
		{"negative epsilon", 1.0, -0.5},
		{"NaN epsilon", 1.0, math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Laplace(tt.sensitivity, tt.epsilon)
			require.Error(t, err)

			var paramErr *ParameterError
			assert.True(t, errors.As(err, &paramErr))
		})
	}
}

func TestLaplaceSamplesAreFinite(t *testing.T) {
	for i := 0; i < 10000; i++ {
		noise, err := Laplace(1.0, 0.01)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(noise))
		assert.False(t, math.IsInf(noise, 0))
	}
}

func TestLaplaceIsCenteredAtZero(t *testing.T) {
	const n = 20000

	sum := 0.0
	for i := 0; i < n; i++ {
		noise, err := Laplace(1.0, 1.0)
		require.NoError(t, err)
		sum += noise
	}

	// Variance is 2b^2 = 2, so the standard error of the sample mean is
	// sqrt(2/20000) ~ 0.01. A 0.1 tolerance leaves ~10 sigma of headroom.
	assert.InDelta(t, 0.0, sum/n, 0.1)
}

func TestLaplaceScaleTracksSensitivityOverEpsilon(t *testing.T) {
	const n = 20000

	// E|X| equals the scale b for a Laplace distribution.
	sample := func(sensitivity, epsilon float64) float64 {
		sum := 0.0
		for i := 0; i < n; i++ {
			noise, err := Laplace(sensitivity, epsilon)
			require.NoError(t, err)
			sum += math.Abs(noise)
		}
		return sum / n
	}

	assert.InDelta(t, 1.0, sample(1.0, 1.0), 0.15)
	assert.InDelta(t, 2.0, sample(1.0, 0.5), 0.3)
	assert.InDelta(t, 0.5, sample(1.0, 2.0), 0.1)
}

func TestLaplaceSmallerEpsilonMeansMoreNoise(t *testing.T) {
	const n = 5000

	spread := func(epsilon float64) float64 {
		sum := 0.0
		for i := 0; i < n; i++ {
			noise, err := Laplace(1.0, epsilon)
			require.NoError(t, err)
			sum += math.Abs(noise)
		}
		return sum / n
	}

	assert.Greater(t, spread(0.1), spread(10.0))
}
