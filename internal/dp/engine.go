package dp

import (
	"context"
	"fmt"
	"math"

	"nexus/internal/budget"
	"nexus/pkg/logger"
)

// Engine runs differentially private queries end to end: validate, plan,
// reserve budget atomically, compute the true statistic, perturb, answer.
// The true statistic never leaves the stack frame that computed it.
type Engine struct {
	accountant *budget.Accountant
	model      *Model
	maxEpsilon float64
	logger     logger.Logger
}

// NewEngine builds a query engine. maxEpsilon caps the epsilon a single
// query may request; non-positive means 10.
func NewEngine(accountant *budget.Accountant, model *Model, maxEpsilon float64, log logger.Logger) *Engine {
	if model == nil {
		model = NewModel(0.5, 1.0)
	}
	if !(maxEpsilon > 0) {
		maxEpsilon = 10.0
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		accountant: accountant,
		model:      model,
		maxEpsilon: maxEpsilon,
		logger:     log,
	}
}

// Count answers a differentially private count over the request's values.
func (e *Engine) Count(ctx context.Context, principal string, req *QueryRequest) (*QueryResult, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	plan, err := e.model.Plan(QueryCount)
	if err != nil {
		return nil, err
	}

	remaining, err := e.accountant.Consume(ctx, principal, req.Epsilon, string(QueryCount))
	if err != nil {
		return nil, err
	}

	step := plan.Steps[0]
	noise, err := Laplace(step.Sensitivity, req.Epsilon*step.EpsilonFraction)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("DP count executed", map[string]interface{}{
		"principal": principal,
		"epsilon":   req.Epsilon,
	})

	return &QueryResult{
		NoisyValue:       float64(len(req.Values)) + noise,
		EpsilonUsed:      req.Epsilon,
		RemainingEpsilon: remaining,
	}, nil
}

// Mean answers a differentially private mean. The query decomposes into a
// noisy count and a noisy sum, but the full epsilon is reserved in one
// atomic consume call: either both steps are funded or neither runs, and
// a concurrent Inspect can never observe a half-made reservation.
func (e *Engine) Mean(ctx context.Context, principal string, req *QueryRequest) (*QueryResult, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	plan, err := e.model.Plan(QueryMean)
	if err != nil {
		return nil, err
	}

	remaining, err := e.accountant.Consume(ctx, principal, req.Epsilon, string(QueryMean))
	if err != nil {
		return nil, err
	}

	countStep, sumStep := plan.Steps[0], plan.Steps[1]

	trueCount := float64(len(req.Values))
	trueSum := 0.0
	for _, v := range req.Values {
		trueSum += v
	}

	countNoise, err := Laplace(countStep.Sensitivity, req.Epsilon*countStep.EpsilonFraction)
	if err != nil {
		return nil, err
	}
	sumNoise, err := Laplace(sumStep.Sensitivity, req.Epsilon*sumStep.EpsilonFraction)
	if err != nil {
		return nil, err
	}

	noisyCount := trueCount + countNoise
	noisySum := trueSum + sumNoise

	// Clamp the denominator to 1 so noise can never divide by zero or
	// flip the sign of the mean. For very small epsilon or tiny data
	// sets this biases the result; the tradeoff is accepted and covered
	// by tests rather than hidden.
	if noisyCount < 1 {
		noisyCount = 1
	}

	e.logger.Debug("DP mean executed", map[string]interface{}{
		"principal": principal,
		"epsilon":   req.Epsilon,
	})

	return &QueryResult{
		NoisyValue:       noisySum / noisyCount,
		EpsilonUsed:      req.Epsilon,
		RemainingEpsilon: remaining,
	}, nil
}

func (e *Engine) validate(req *QueryRequest) error {
	if req == nil || len(req.Values) == 0 {
		return &ValidationError{Field: "values", Reason: "must not be empty"}
	}
	for i, v := range req.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "values", Reason: fmt.Sprintf("element %d is not a finite number", i)}
		}
	}
	if !(req.Epsilon > 0) {
		return &ValidationError{Field: "epsilon", Reason: "must be positive"}
	}
	if req.Epsilon > e.maxEpsilon {
		return &ValidationError{Field: "epsilon", Reason: fmt.Sprintf("must be at most %g", e.maxEpsilon)}
	}
	return nil
}
