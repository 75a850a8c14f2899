package dp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCount(t *testing.T) {
	m := NewModel(0.5, 1.0)

	plan, err := m.Plan(QueryCount)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, QueryCount, plan.Steps[0].Kind)
	assert.Equal(t, 1.0, plan.Steps[0].Sensitivity)
	assert.Equal(t, 1.0, plan.Steps[0].EpsilonFraction)
}

func TestPlanMeanSplitsEpsilonAcrossSubQueries(t *testing.T) {
	m := NewModel(0.5, 1.0)

	plan, err := m.Plan(QueryMean)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, QueryCount, plan.Steps[0].Kind)
	assert.Equal(t, QuerySum, plan.Steps[1].Kind)
	assert.Equal(t, 0.5, plan.Steps[0].EpsilonFraction)
	assert.Equal(t, 0.5, plan.Steps[1].EpsilonFraction)
}

func TestPlanMeanFractionsAlwaysSumToOne(t *testing.T) {
	for _, cf := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		m := NewModel(cf, 1.0)

		plan, err := m.Plan(QueryMean)
		require.NoError(t, err)

		total := 0.0
		for _, step := range plan.Steps {
			total += step.EpsilonFraction
		}
		assert.InDelta(t, 1.0, total, 1e-12)
	}
}

func TestPlanMeanUsesConfiguredSumSensitivity(t *testing.T) {
	m := NewModel(0.5, 100.0)

	plan, err := m.Plan(QueryMean)
	require.NoError(t, err)

	assert.Equal(t, 1.0, plan.Steps[0].Sensitivity)
	assert.Equal(t, 100.0, plan.Steps[1].Sensitivity)
}

func TestPlanUnsupportedKind(t *testing.T) {
	m := NewModel(0.5, 1.0)

	_, err := m.Plan(QueryKind("median"))
	require.Error(t, err)

	var unsupported *UnsupportedKindError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, QueryKind("median"), unsupported.Kind)
}

func TestNewModelFallsBackOnInvalidParameters(t *testing.T) {
	tests := []struct {
		name           string
		countFraction  float64
		sumSensitivity float64
	}{
		{"zero fraction", 0, 1.0},
		{"negative fraction", -0.5, 1.0},
		{"fraction of one", 1.0, 1.0},
		{"fraction above one", 1.5, 1.0},
		{"zero sum sensitivity", 0.5, 0},
		{"negative sum sensitivity", 0.5, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewModel(tt.countFraction, tt.sumSensitivity)

			plan, err := m.Plan(QueryMean)
			require.NoError(t, err)

			assert.Greater(t, plan.Steps[0].EpsilonFraction, 0.0)
			assert.Less(t, plan.Steps[0].EpsilonFraction, 1.0)
			assert.Greater(t, plan.Steps[1].Sensitivity, 0.0)
		})
	}
}
