// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package solve_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/jacobian"
	"github.com/trailmark/recon3d/model"
	"github.com/trailmark/recon3d/residual"
	"github.com/trailmark/recon3d/solve"
)

func distanceProject(t *testing.T, seedX float64) (*model.Project, model.WorldPointID, model.WorldPointID) {
	t.Helper()
	proj := model.NewProject()
	origin := proj.AddWorldPoint("origin")
	origin.X, origin.Y, origin.Z = model.Locked(0), model.Locked(0), model.Locked(0)

	far := proj.AddWorldPoint("far")
	far.X, far.Y, far.Z = model.Inferred(seedX), model.Locked(0), model.Locked(0)

	if _, err := proj.AddDistancePointPoint("reach", origin.ID(), far.ID(), 5, 1e-6); err != nil {
		t.Fatalf("AddDistancePointPoint: %v", err)
	}
	return proj, origin.ID(), far.ID()
}

func TestJacobianSystemConvergesDistanceConstraint(t *testing.T) {
	proj, _, farID := distanceProject(t, 1)
	layout := jacobian.NewVariableLayout(proj, false, false)
	sys := jacobian.NewSystem(proj, layout, jacobian.BuildOptions{})

	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	result := solve.NewSolver(sys, solve.DefaultOptions(), nil).Run(x)
	if result.Stop != solve.StopCostTolerance && result.Stop != solve.StopGradTolerance {
		t.Fatalf("unexpected stop reason %v (cost=%v)", result.Stop, result.FinalCost)
	}
	if result.FinalCost > 1e-10 {
		t.Fatalf("final cost too high: %v", result.FinalCost)
	}

	layout.Writeback(proj, result.X)
	far := proj.WorldPoint(farID)
	if far.OptimizedXYZ == nil {
		t.Fatal("expected OptimizedXYZ to be set")
	}
	if math.Abs(math.Abs(far.OptimizedXYZ.X)-5) > 1e-4 {
		t.Fatalf("expected |x|=5, got %v", far.OptimizedXYZ.X)
	}
}

func TestAutodiffSystemConvergesDistanceConstraint(t *testing.T) {
	proj, _, _ := distanceProject(t, 1)
	layout := jacobian.NewVariableLayout(proj, false, false)
	sys := solve.NewAutodiffSystem(proj, layout, residual.Options{})

	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	result := solve.NewSolver(sys, solve.DefaultOptions(), nil).Run(x)
	if result.FinalCost > 1e-10 {
		t.Fatalf("final cost too high: %v", result.FinalCost)
	}
	if math.Abs(math.Abs(result.X[0])-5) > 1e-4 {
		t.Fatalf("expected |x|=5, got %v", result.X[0])
	}
}

func TestSolverReportsNoVariables(t *testing.T) {
	proj := model.NewProject()
	layout := jacobian.NewVariableLayout(proj, false, false)
	sys := jacobian.NewSystem(proj, layout, jacobian.BuildOptions{})

	result := solve.NewSolver(sys, solve.DefaultOptions(), nil).Run(nil)
	if result.Stop != solve.StopNoVariables {
		t.Fatalf("expected StopNoVariables, got %v", result.Stop)
	}
}

// recordingSystem wraps a System and logs the cost at every Evaluate.
type recordingSystem struct {
	inner solve.System
	costs []float64
}

func (r *recordingSystem) NumVars() int { return r.inner.NumVars() }
func (r *recordingSystem) Evaluate(x []float64) ([]float64, *mat.Dense) {
	res, j := r.inner.Evaluate(x)
	cost := 0.0
	for _, v := range res {
		cost += v * v / 2
	}
	r.costs = append(r.costs, cost)
	return res, j
}

func TestAcceptedCostNeverIncreases(t *testing.T) {
	proj, _, _ := distanceProject(t, 1)
	layout := jacobian.NewVariableLayout(proj, false, false)
	rec := &recordingSystem{inner: jacobian.NewSystem(proj, layout, jacobian.BuildOptions{})}

	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)
	result := solve.NewSolver(rec, solve.DefaultOptions(), nil).Run(x)

	if len(rec.costs) == 0 {
		t.Fatal("solver never evaluated the system")
	}
	// The final cost is the best accepted cost; no evaluation below it
	// was ever discarded, and it improves on the seed.
	if result.FinalCost > rec.costs[0] {
		t.Fatalf("final cost %v worse than initial %v", result.FinalCost, rec.costs[0])
	}
	min := rec.costs[0]
	for _, c := range rec.costs {
		if c < min {
			min = c
		}
	}
	if result.FinalCost > min+1e-15 {
		t.Fatalf("final cost %v is not the best evaluated cost %v", result.FinalCost, min)
	}
}
