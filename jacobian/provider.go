// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

// Entry is one nonzero of a provider's Jacobian: Row is local to that
// provider's own residual block (0..ResidualCount()-1), Col is the
// global index into the flat optimization vector. A provider emits at
// most one Entry per (Row, Col); operands sharing a variable must
// accumulate before emitting (see rowAccum).
type Entry struct {
	Row, Col int
	Value    float64
}

// Provider is the explicit-Jacobian back end's residual+Jacobian unit
// (spec.md §4.4): one exists per constraint instance (or, for
// collinear/coplanar, per extra point beyond the first two/three).
type Provider interface {
	ID() int
	ResidualCount() int
	// VariableIndices lists every global variable index this provider's
	// residuals can depend on; ComputeJacobian never emits a column
	// outside this set (spec.md §8 property 2, constraint locality).
	VariableIndices() []int
	ComputeResiduals(x []float64) []float64
	ComputeJacobian(x []float64) []Entry
}

// base holds the bookkeeping every provider shares: its monotonic id
// and the variable indices its residuals touch.
type base struct {
	id   int
	vars []int
}

func (b base) ID() int              { return b.id }
func (b base) VariableIndices() []int { return b.vars }

// numericalJacobian differentiates p's own ComputeResiduals by central
// differences over exactly its VariableIndices(). It serves two roles:
// the regression oracle that every analytic ComputeJacobian is tested
// against (spec.md §8 property 4), and the fallback for the providers
// whose closed forms are not written out (the normalized-direction and
// acos families: angle, equal-angles, parallel, perpendicular,
// line-axis, coincident, vanishing-point, coplanar) plus degenerate
// configurations (zero-length separations, repeated operands) where
// the closed forms above bail out.
func numericalJacobian(p Provider, x []float64) []Entry {
	vars := p.VariableIndices()
	if len(vars) == 0 {
		return nil
	}
	const h = 1e-6
	xp := append([]float64(nil), x...)
	var entries []Entry
	for _, col := range vars {
		orig := xp[col]
		xp[col] = orig + h
		plus := p.ComputeResiduals(xp)
		xp[col] = orig - h
		minus := p.ComputeResiduals(xp)
		xp[col] = orig
		for row := range plus {
			d := (plus[row] - minus[row]) / (2 * h)
			if d != 0 {
				entries = append(entries, Entry{Row: row, Col: col, Value: d})
			}
		}
	}
	return entries
}

func uniqueIndices(idx ...[]int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, group := range idx {
		for _, i := range group {
			if i == unassigned {
				continue
			}
			if _, ok := seen[i]; !ok {
				seen[i] = struct{}{}
				out = append(out, i)
			}
		}
	}
	return out
}
