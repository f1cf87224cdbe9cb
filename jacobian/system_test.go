// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/jacobian"
	"github.com/trailmark/recon3d/model"
)

func buildTriangle(t *testing.T) *model.Project {
	t.Helper()
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	a.X, a.Y, a.Z = model.Locked(0), model.Locked(0), model.Locked(0)
	b := proj.AddWorldPoint("b")
	b.X, b.Y, b.Z = model.Inferred(3), model.Locked(0), model.Locked(0)
	c := proj.AddWorldPoint("c")
	c.X, c.Y, c.Z = model.Inferred(0), model.Inferred(4), model.Locked(0)

	_, err := proj.AddDistancePointPoint("ab", a.ID(), b.ID(), 3, 1e-6)
	if err != nil {
		t.Fatalf("AddDistancePointPoint: %v", err)
	}
	_, err = proj.AddFixedPoint("pinC", c.ID(), geom.V3(0, 4, 0), 1e-6)
	if err != nil {
		t.Fatalf("AddFixedPoint: %v", err)
	}
	return proj
}

func TestSystemAssemblesResidualsAndJacobian(t *testing.T) {
	proj := buildTriangle(t)
	layout := jacobian.NewVariableLayout(proj, false, false)
	sys := jacobian.NewSystem(proj, layout, jacobian.BuildOptions{})

	assert.Equal(t, 3, layout.NumVars()) // b.X, c.X, c.Y
	assert.Equal(t, 4, sys.NumResiduals()) // distance(1) + fixed point(3)

	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	r, J := sys.Evaluate(x)
	assert.Len(t, r, 4)
	rows, cols := J.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 3, cols)

	// b is already at the target distance, so its residual should sit at 0.
	assert.InDelta(t, 0, r[0], 1e-9)
	// c starts at (0,4,0), already matching its fixed-point target.
	assert.InDelta(t, 0, r[1], 1e-9)
	assert.InDelta(t, 0, r[2], 1e-9)
	assert.InDelta(t, 0, r[3], 1e-9)
}

func TestSystemSnapshotsOwningConstraintLastResidual(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	a.X, a.Y, a.Z = model.Locked(0), model.Locked(0), model.Locked(0)
	b := proj.AddWorldPoint("b")
	b.X, b.Y, b.Z = model.Inferred(1), model.Locked(0), model.Locked(0)
	c, err := proj.AddDistancePointPoint("reach", a.ID(), b.ID(), 5, 1e-6)
	if err != nil {
		t.Fatalf("AddDistancePointPoint: %v", err)
	}

	layout := jacobian.NewVariableLayout(proj, false, false)
	sys := jacobian.NewSystem(proj, layout, jacobian.BuildOptions{})
	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	sys.Evaluate(x)
	assert.Equal(t, []float64{1 - 5}, c.LastResidual)
}
