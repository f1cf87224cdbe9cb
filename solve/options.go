// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package solve

// Options holds the fixed control parameters for one Levenberg-Marquardt
// run (spec.md §4.5). The zero Options is not usable; use DefaultOptions
// and override individual fields.
type Options struct {
	MaxIterations int     // hard cap on accepted+rejected steps.
	InitialLambda float64 // starting damping factor.
	LambdaUp      float64 // damping growth on a rejected step.
	LambdaDown    float64 // damping shrink on an accepted step.
	CostTolerance float64 // stop when relative cost improvement drops below this.
	GradTolerance float64 // stop when the max absolute gradient component drops below this.
}

// DefaultOptions returns the solver's baseline tuning (spec.md §4.5's
// suggested defaults): a mild initial damping that grows/shrinks by a
// factor of 10 on reject/accept, converging once a step improves cost
// by less than one part in 1e8 or the gradient is flat to 1e-10.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 100,
		InitialLambda: 1e-3,
		LambdaUp:      10,
		LambdaDown:    10,
		CostTolerance: 1e-8,
		GradTolerance: 1e-10,
	}
}
