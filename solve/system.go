// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package solve implements the damped nonlinear least-squares core
// (spec.md §4.5) shared by both solver back ends: the autodiff-driven
// row-by-row Jacobian harvester (AutodiffSystem, spec.md §4.1) and the
// explicit-Jacobian provider assembly (package jacobian's System,
// spec.md §4.4). The Solver is back-end agnostic; it calls
// System.Evaluate, or Linearize when the System also implements
// Linearizer.
package solve

import "gonum.org/v1/gonum/mat"

// System is anything that can turn a flat variable vector into a
// residual vector and its Jacobian. jacobian.System, jacobian.
// SparseSystem, and solve.AutodiffSystem all satisfy this. A System
// that additionally implements Linearizer (levenberg_marquardt.go)
// skips the dense path entirely; the Solver prefers that capability
// when present.
type System interface {
	NumVars() int
	Evaluate(x []float64) (residuals []float64, jacobian *mat.Dense)
}
