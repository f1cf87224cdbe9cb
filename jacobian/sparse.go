// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// sparse.go is the explicitSparse back end: the same providers as the
// dense System, but the Jacobian never becomes a dense matrix. Each
// Linearize call assembles the residuals and a CSR Jacobian, forms the
// normal-equations matrix J^T J sparsely (lower triangle, row-wise),
// and hands the LM core a closure that solves the damped system by a
// sparse LDL^T factorization. The LM core discovers this path through
// its Linearizer capability and never touches gonum's dense Cholesky
// for this back end.

package jacobian

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/model"
)

// SparseSystem is the sparse sibling of System. It still satisfies the
// LM core's dense System interface (Evaluate densifies the CSR
// Jacobian) so it can stand in anywhere a System is expected, but the
// solver prefers Linearize, which stays sparse end to end.
type SparseSystem struct {
	Layout    *VariableLayout
	Providers []Provider
	Owners    []*model.Constraint

	rows int
}

// NewSparseSystem builds the sparse back end over every provider
// proj's constraints, lines, and image points produce under opts.
func NewSparseSystem(proj *model.Project, layout *VariableLayout, opts BuildOptions) *SparseSystem {
	providers, owners := BuildProviders(proj, layout, opts)
	rows := 0
	for _, p := range providers {
		rows += p.ResidualCount()
	}
	return &SparseSystem{Layout: layout, Providers: providers, Owners: owners, rows: rows}
}

// NumVars returns the flat variable count.
func (s *SparseSystem) NumVars() int { return s.Layout.NumVars() }

// NumResiduals returns the total residual count across every provider.
func (s *SparseSystem) NumResiduals() int { return s.rows }

// assemble runs every provider at x, snapshotting Constraint
// LastResiduals, and returns the residual vector plus the CSR Jacobian.
func (s *SparseSystem) assemble(x []float64) ([]float64, *csrMatrix) {
	r := make([]float64, s.rows)
	var entries []Entry
	row := 0
	for i, p := range s.Providers {
		pr := p.ComputeResiduals(x)
		copy(r[row:row+len(pr)], pr)
		if s.Owners[i] != nil {
			s.Owners[i].LastResidual = append([]float64(nil), pr...)
		}
		for _, e := range p.ComputeJacobian(x) {
			entries = append(entries, Entry{Row: row + e.Row, Col: e.Col, Value: e.Value})
		}
		row += len(pr)
	}
	return r, newCSR(s.rows, s.NumVars(), entries)
}

// Evaluate satisfies the dense System interface by expanding the CSR
// Jacobian; only diagnostic callers should need it.
func (s *SparseSystem) Evaluate(x []float64) ([]float64, *mat.Dense) {
	if s.rows == 0 {
		return nil, nil
	}
	r, j := s.assemble(x)
	return r, j.Dense()
}

// Linearize evaluates one iteration's frozen linearization: the
// residual vector, the gradient J^T r, and a damped-normal-equations
// solver over the sparse structure. The returned closure may be called
// repeatedly with growing lambda as the LM core retries a step; each
// call refactors, which is the same cost contract as the dense path.
func (s *SparseSystem) Linearize(x []float64) (r []float64, gradient []float64, solveDamped func(lambda float64) ([]float64, bool)) {
	if s.rows == 0 {
		return nil, nil, nil
	}
	res, j := s.assemble(x)
	n := s.NumVars()

	grad := make([]float64, n)
	lower := newSymLower(n)
	for row := 0; row < s.rows; row++ {
		cols, vals := j.Row(row)
		for a, ca := range cols {
			grad[ca] += vals[a] * res[row]
			for b, cb := range cols {
				if cb <= ca {
					lower.add(ca, cb, vals[a]*vals[b])
				}
			}
		}
	}
	lower.sortRows()

	solve := func(lambda float64) ([]float64, bool) {
		b := make([]float64, n)
		for i := range b {
			b[i] = -grad[i]
		}
		return lower.solveDamped(lambda, b)
	}
	return res, grad, solve
}

// symEntry is one stored element of a sparse symmetric (or triangular)
// row: column index plus value.
type symEntry struct {
	col int
	val float64
}

// symLower stores the lower triangle of a symmetric matrix row-wise:
// strictly-lower entries in rows, the diagonal separately.
type symLower struct {
	n    int
	diag []float64
	rows []map[int]float64 // build stage, strictly lower.

	sorted [][]symEntry // after sortRows, strictly lower, ascending col.
}

func newSymLower(n int) *symLower {
	return &symLower{n: n, diag: make([]float64, n), rows: make([]map[int]float64, n)}
}

// add accumulates into entry (i, j) with j <= i.
func (m *symLower) add(i, j int, v float64) {
	if i == j {
		m.diag[i] += v
		return
	}
	if m.rows[i] == nil {
		m.rows[i] = make(map[int]float64)
	}
	m.rows[i][j] += v
}

// sortRows freezes the build-stage maps into ascending-column slices.
func (m *symLower) sortRows() {
	m.sorted = make([][]symEntry, m.n)
	for i, row := range m.rows {
		if len(row) == 0 {
			continue
		}
		entries := make([]symEntry, 0, len(row))
		for col, val := range row {
			entries = append(entries, symEntry{col: col, val: val})
		}
		insertionSortByCol(entries)
		m.sorted[i] = entries
	}
}

func insertionSortByCol(entries []symEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].col < entries[j-1].col; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// minDiagFloor mirrors the dense path's damping floor for variables no
// residual touches yet.
const minDiagFloor = 1e-12

// solveDamped factors A + lambda*diag(A) = L D L^T by a row-oriented
// sparse LDL^T and solves for b. Fill-in is propagated through column
// lists of the completed rows of L, so the arithmetic is proportional
// to the factor's nonzeros rather than n^2 for sparse problems. ok is
// false when a pivot is non-positive at this damping; the LM core
// grows lambda and retries, exactly as with the dense Cholesky.
func (m *symLower) solveDamped(lambda float64, b []float64) ([]float64, bool) {
	n := m.n
	d := make([]float64, n)
	w := make([]float64, n)
	lRows := make([][]symEntry, n)
	// colList[j] collects (row, L[row][j]) for completed rows, the
	// structure the fill-in updates walk.
	colList := make([][]symEntry, n)

	for i := 0; i < n; i++ {
		for _, e := range m.sorted[i] {
			w[e.col] = e.val
		}
		di := m.diag[i]
		floor := di
		if floor < minDiagFloor {
			floor = minDiagFloor
		}
		wi := di + lambda*floor

		var row []symEntry
		for j := 0; j < i; j++ {
			v := w[j]
			w[j] = 0
			if v == 0 {
				continue
			}
			lij := v / d[j]
			row = append(row, symEntry{col: j, val: lij})
			dj := d[j]
			for _, e := range colList[j] {
				if e.col < i {
					w[e.col] -= lij * dj * e.val
				}
			}
			wi -= lij * lij * dj
		}
		if wi <= 0 || math.IsNaN(wi) || math.IsInf(wi, 0) {
			return nil, false
		}
		d[i] = wi
		lRows[i] = row
		for _, e := range row {
			colList[e.col] = append(colList[e.col], symEntry{col: i, val: e.val})
		}
	}

	// Forward solve L z = b (unit diagonal), scale by D, then back
	// solve L^T x = y using the same row storage.
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		zi := b[i]
		for _, e := range lRows[i] {
			zi -= e.val * z[e.col]
		}
		z[i] = zi
	}
	for i := 0; i < n; i++ {
		z[i] /= d[i]
	}
	for i := n - 1; i >= 0; i-- {
		xi := z[i]
		for _, e := range lRows[i] {
			z[e.col] -= e.val * xi
		}
	}
	return z, true
}
