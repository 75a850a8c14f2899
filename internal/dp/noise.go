package dp

import (
	"math"
	"math/rand"
)

// Laplace draws one sample of zero-centered Laplace noise with scale
// sensitivity/epsilon via inverse-CDF sampling: u uniform in (-0.5, 0.5),
// noise = -b * sign(u) * ln(1 - 2|u|).
//
// The top-level math/rand source is safe for concurrent callers, so a
// sample can be drawn from any number of goroutines without shared state.
func Laplace(sensitivity, epsilon float64) (float64, error) {
	// !(x > 0) instead of x <= 0 so NaN is rejected too.
	if !(sensitivity > 0) {
		return 0, &ParameterError{Name: "sensitivity", Value: sensitivity}
	}
	if !(epsilon > 0) {
		return 0, &ParameterError{Name: "epsilon", Value: epsilon}
	}

	b := sensitivity / epsilon
	for {
		u := rand.Float64() - 0.5
		// Redraw at u == 0 (sign undefined) and u == -0.5 (ln(0) = -Inf).
		if u == 0 || u == -0.5 {
			continue
		}
		return -b * math.Copysign(math.Log(1-2*math.Abs(u)), u), nil
	}
}
