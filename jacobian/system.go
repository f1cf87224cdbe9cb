// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

import (
	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/model"
)

// System assembles a VariableLayout and its Providers into the flat
// residual+Jacobian interface the LM core (package solve) drives, with
// the Jacobian materialized densely. SparseSystem (sparse.go) is the
// explicitSparse sibling over the same providers; it never builds the
// dense matrix and brings its own normal-equations factorization.
type System struct {
	Layout    *VariableLayout
	Providers []Provider
	Owners    []*model.Constraint

	rows int
}

// NewSystem builds a System over every provider proj's constraints,
// lines, and image points produce under opts.
func NewSystem(proj *model.Project, layout *VariableLayout, opts BuildOptions) *System {
	providers, owners := BuildProviders(proj, layout, opts)
	rows := 0
	for _, p := range providers {
		rows += p.ResidualCount()
	}
	return &System{Layout: layout, Providers: providers, Owners: owners, rows: rows}
}

// NumVars returns the flat variable count.
func (s *System) NumVars() int { return s.Layout.NumVars() }

// NumResiduals returns the total residual count across every provider.
func (s *System) NumResiduals() int { return s.rows }

// Evaluate computes the residual vector and dense Jacobian at x,
// snapshotting each provider's residuals onto its owning Constraint
// (when one exists) as it goes (spec.md §3's LastResidual).
func (s *System) Evaluate(x []float64) (r []float64, J *mat.Dense) {
	if s.rows == 0 {
		return nil, nil
	}
	r = make([]float64, s.rows)
	J = mat.NewDense(s.rows, s.NumVars(), nil)
	row := 0
	for i, p := range s.Providers {
		pr := p.ComputeResiduals(x)
		copy(r[row:row+len(pr)], pr)
		if s.Owners[i] != nil {
			s.Owners[i].LastResidual = append([]float64(nil), pr...)
		}
		for _, e := range p.ComputeJacobian(x) {
			J.Set(row+e.Row, e.Col, e.Value)
		}
		row += len(pr)
	}
	return r, J
}
