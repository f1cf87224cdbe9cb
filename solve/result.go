// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package solve

// StopReason names why Run stopped iterating.
type StopReason int

const (
	// StopMaxIterations means Options.MaxIterations accepted+rejected
	// steps were spent without otherwise converging.
	StopMaxIterations StopReason = iota
	// StopCostTolerance means the last accepted step improved cost by
	// less than Options.CostTolerance (relative).
	StopCostTolerance
	// StopGradTolerance means the gradient of cost w.r.t. every
	// variable fell below Options.GradTolerance.
	StopGradTolerance
	// StopNoVariables means the System had zero free variables; Run
	// returns immediately without attempting a step.
	StopNoVariables
	// StopNoResiduals means the System produced an empty residual
	// vector; there is nothing to minimize.
	StopNoResiduals
)

func (r StopReason) String() string {
	switch r {
	case StopMaxIterations:
		return "max-iterations"
	case StopCostTolerance:
		return "cost-tolerance"
	case StopGradTolerance:
		return "grad-tolerance"
	case StopNoVariables:
		return "no-variables"
	case StopNoResiduals:
		return "no-residuals"
	default:
		return "unknown"
	}
}

// Result reports how a Run concluded.
type Result struct {
	Iterations int
	FinalCost  float64 // 0.5 * sum(residual^2) at X.
	X          []float64
	Stop       StopReason
}
