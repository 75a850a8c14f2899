package dp

// Step is one sub-mechanism of a query: which statistic it perturbs, the
// sensitivity to calibrate its noise with, and the share of the caller's
// epsilon it receives.
type Step struct {
	Kind            QueryKind
	Sensitivity     float64
	EpsilonFraction float64
}

// Decomposition is the ordered list of sub-mechanisms a query runs.
// Fractions across steps always sum to 1, so composing the steps spends
// exactly the caller's epsilon.
type Decomposition struct {
	Kind  QueryKind
	Steps []Step
}

// Model maps query kinds to their decompositions.
//
// Count has sensitivity 1 (one record moves the count by at most one).
// Mean decomposes into a noisy count and a noisy sum; the sum's
// sensitivity is the configured per-record contribution bound. Deriving
// that bound from the data itself would leak information, so it is
// configuration only (default 1).
type Model struct {
	countFraction  float64
	sumSensitivity float64
}

// NewModel builds a sensitivity model. countFraction is the share of a
// mean query's epsilon spent on its count sub-query; out-of-range values
// fall back to an even split. Non-positive sumSensitivity falls back to 1.
func NewModel(countFraction, sumSensitivity float64) *Model {
	if !(countFraction > 0) || countFraction >= 1 {
		countFraction = 0.5
	}
	if !(sumSensitivity > 0) {
		sumSensitivity = 1.0
	}
	return &Model{
		countFraction:  countFraction,
		sumSensitivity: sumSensitivity,
	}
}

// Plan returns the decomposition for the given query kind.
func (m *Model) Plan(kind QueryKind) (Decomposition, error) {
	switch kind {
	case QueryCount:
		return Decomposition{
			Kind: QueryCount,
			Steps: []Step{
				{Kind: QueryCount, Sensitivity: 1, EpsilonFraction: 1.0},
			},
		}, nil
	case QueryMean:
		return Decomposition{
			Kind: QueryMean,
			Steps: []Step{
				{Kind: QueryCount, Sensitivity: 1, EpsilonFraction: m.countFraction},
				{Kind: QuerySum, Sensitivity: m.sumSensitivity, EpsilonFraction: 1 - m.countFraction},
			},
		}, nil
	default:
		return Decomposition{}, &UnsupportedKindError{Kind: kind}
	}
}
