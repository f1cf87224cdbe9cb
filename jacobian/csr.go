// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

import "gonum.org/v1/gonum/mat"

// csrMatrix is the compressed-sparse-row Jacobian of the sparse back
// end. Providers touch only a handful of columns each, so their
// entries stay row-compressed all the way into the sparse
// normal-equations assembly and LDLᵀ factorization (sparse.go); Dense
// exists only for diagnostic callers going through the dense System
// interface.
type csrMatrix struct {
	rows, cols int
	rowPtr     []int
	colIdx     []int
	values     []float64
}

// newCSR compresses an entry list into CSR form with a two-pass
// counting sort over rows; entries may arrive in any order.
func newCSR(rows, cols int, entries []Entry) *csrMatrix {
	m := &csrMatrix{
		rows:   rows,
		cols:   cols,
		rowPtr: make([]int, rows+1),
		colIdx: make([]int, 0, len(entries)),
		values: make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		m.rowPtr[e.Row+1]++
	}
	for i := 1; i <= rows; i++ {
		m.rowPtr[i] += m.rowPtr[i-1]
	}
	cursor := make([]int, rows)
	m.colIdx = make([]int, len(entries))
	m.values = make([]float64, len(entries))
	for _, e := range entries {
		at := m.rowPtr[e.Row] + cursor[e.Row]
		m.colIdx[at] = e.Col
		m.values[at] = e.Value
		cursor[e.Row]++
	}
	return m
}

// Dense expands the CSR matrix for callers of the dense System
// interface (SparseSystem.Evaluate); the Linearize path never uses it.
func (m *csrMatrix) Dense() *mat.Dense {
	out := mat.NewDense(m.rows, m.cols, nil)
	for row := 0; row < m.rows; row++ {
		for k := m.rowPtr[row]; k < m.rowPtr[row+1]; k++ {
			out.Set(row, m.colIdx[k], m.values[k])
		}
	}
	return out
}

// Row returns views of row i's column indices and values.
func (m *csrMatrix) Row(i int) (cols []int, vals []float64) {
	return m.colIdx[m.rowPtr[i]:m.rowPtr[i+1]], m.values[m.rowPtr[i]:m.rowPtr[i+1]]
}
