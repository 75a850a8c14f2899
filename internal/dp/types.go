// Package dp implements the differentially private query engine: Laplace
// noise calibration, query decomposition, and end-to-end execution of
// count and mean queries against the privacy-budget accountant.
package dp

import "fmt"

// QueryKind identifies a supported statistical query.
type QueryKind string

const (
	QueryCount QueryKind = "count"
	QueryMean  QueryKind = "mean"
	// QuerySum only appears as a sub-query inside a mean decomposition;
	// it is not independently executable.
	QuerySum QueryKind = "sum"
)

// QueryRequest carries the caller-supplied data set and the privacy
// parameter for a single query.
type QueryRequest struct {
	Values  []float64 `json:"values" validate:"required,min=1,max=100000,finite"`
	Epsilon float64   `json:"epsilon" validate:"required,gt=0,finite"`
}

// QueryResult is the outcome of a differentially private query. The true
// statistic is never part of it.
type QueryResult struct {
	NoisyValue       float64 `json:"noisy_value"`
	EpsilonUsed      float64 `json:"epsilon_used"`
	RemainingEpsilon float64 `json:"remaining_epsilon"`
}

// ValidationError reports a request that must not reach the mechanism.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParameterError reports an unusable mechanism parameter. It indicates a
// configuration or programming defect, not a caller mistake.
type ParameterError struct {
	Name  string
	Value float64
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("laplace mechanism: %s must be positive, got %v", e.Name, e.Value)
}

// UnsupportedKindError reports a query kind the sensitivity model cannot plan.
type UnsupportedKindError struct {
	Kind QueryKind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported query kind: %q", string(e.Kind))
}
