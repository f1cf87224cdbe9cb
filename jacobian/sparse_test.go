// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestSparseLDLTMatchesDenseSolve factors a small damped SPD system
// both ways and compares the solutions.
func TestSparseLDLTMatchesDenseSolve(t *testing.T) {
	// A = B^T B + diag shift: symmetric positive definite with an
	// off-diagonal sparsity pattern that forces fill-in.
	a := [][]float64{
		{4, 1, 0, 0.5},
		{1, 3, 0.2, 0},
		{0, 0.2, 5, 1},
		{0.5, 0, 1, 2},
	}
	n := len(a)
	b := []float64{1, -2, 0.5, 3}
	lambda := 0.01

	lower := newSymLower(n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			if a[i][j] != 0 {
				lower.add(i, j, a[i][j])
			}
		}
	}
	lower.sortRows()
	got, ok := lower.solveDamped(lambda, b)
	if !ok {
		t.Fatal("sparse LDLT failed on an SPD matrix")
	}

	// Dense reference with the same Marquardt damping.
	dense := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dense.SetSym(i, j, a[j][i])
		}
		dense.SetSym(i, i, a[i][i]+lambda*a[i][i])
	}
	var chol mat.Cholesky
	if !chol.Factorize(dense) {
		t.Fatal("dense reference failed to factorize")
	}
	var want mat.VecDense
	if err := chol.SolveVecTo(&want, mat.NewVecDense(n, b)); err != nil {
		t.Fatalf("dense solve: %v", err)
	}
	for i := 0; i < n; i++ {
		if math.Abs(got[i]-want.AtVec(i)) > 1e-10 {
			t.Errorf("x[%d]: sparse %v vs dense %v", i, got[i], want.AtVec(i))
		}
	}
}

// TestSparseLDLTRejectsIndefinite verifies the ok=false path the LM
// core relies on to grow lambda.
func TestSparseLDLTRejectsIndefinite(t *testing.T) {
	lower := newSymLower(2)
	lower.add(0, 0, 1)
	lower.add(1, 0, 5)
	lower.add(1, 1, 1) // 1 - 25 < 0 after elimination.
	lower.sortRows()
	if _, ok := lower.solveDamped(0, []float64{1, 1}); ok {
		t.Fatal("expected factorization failure on an indefinite matrix")
	}
}

// TestSparseSystemMatchesDenseSystem runs both explicit back ends over
// the same providers and checks residuals, gradient, and the damped
// step agree.
func TestSparseSystemMatchesDenseSystem(t *testing.T) {
	proj, layout := analyticScene(t)
	opts := BuildOptions{OptimizePose: true, ReprojectionWeight: 1}
	dense := NewSystem(proj, layout, opts)

	layout2 := NewVariableLayout(proj, true, true)
	sparse := NewSparseSystem(proj, layout2, opts)

	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	rd, jd := dense.Evaluate(x)
	rs, grad, solveDamped := sparse.Linearize(x)
	if len(rd) != len(rs) {
		t.Fatalf("residual counts differ: dense %d sparse %d", len(rd), len(rs))
	}
	for i := range rd {
		if math.Abs(rd[i]-rs[i]) > 1e-12 {
			t.Errorf("residual %d: dense %v sparse %v", i, rd[i], rs[i])
		}
	}

	// Gradient parity against J^T r.
	rows, cols := jd.Dims()
	wantGrad := make([]float64, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			wantGrad[c] += jd.At(r, c) * rd[r]
		}
	}
	for c := range wantGrad {
		if math.Abs(grad[c]-wantGrad[c]) > 1e-8*math.Max(1, math.Abs(wantGrad[c])) {
			t.Errorf("grad[%d]: sparse %v dense %v", c, grad[c], wantGrad[c])
		}
	}

	// Damped-step parity against the dense normal equations.
	lambda := 1e-3
	jtj := mat.NewDense(cols, cols, nil)
	jtj.Mul(jd.T(), jd)
	sym := mat.NewSymDense(cols, nil)
	for i := 0; i < cols; i++ {
		for j := i; j < cols; j++ {
			sym.SetSym(i, j, jtj.At(i, j))
		}
		d := jtj.At(i, i)
		if d < minDiagFloor {
			d = minDiagFloor
		}
		sym.SetSym(i, i, jtj.At(i, i)+lambda*d)
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		t.Fatal("dense reference failed to factorize")
	}
	neg := make([]float64, cols)
	for i := range neg {
		neg[i] = -wantGrad[i]
	}
	var want mat.VecDense
	if err := chol.SolveVecTo(&want, mat.NewVecDense(cols, neg)); err != nil {
		t.Fatalf("dense solve: %v", err)
	}
	got, ok := solveDamped(lambda)
	if !ok {
		t.Fatal("sparse damped solve failed")
	}
	for i := 0; i < cols; i++ {
		scale := math.Max(1, math.Abs(want.AtVec(i)))
		if math.Abs(got[i]-want.AtVec(i)) > 1e-7*scale {
			t.Errorf("delta[%d]: sparse %v dense %v", i, got[i], want.AtVec(i))
		}
	}
}
