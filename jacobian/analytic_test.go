// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

import (
	"math"
	"testing"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// analyticScene builds a project whose providers cover every closed-form
// Jacobian: distance, fixed point, collinear, equal distances over a
// triangle (shared operands), a line with a target length, and a camera
// with distortion, skew, and reprojection observations.
func analyticScene(t *testing.T) (*model.Project, *VariableLayout) {
	t.Helper()
	proj := model.NewProject()

	pts := make([]*model.WorldPoint, 4)
	seeds := []geom.Vec3{
		{X: 0.3, Y: -0.2, Z: 0.1},
		{X: 4.1, Y: 0.7, Z: -0.4},
		{X: 1.9, Y: 3.2, Z: 0.8},
		{X: -1.2, Y: 1.4, Z: 2.3},
	}
	for i := range pts {
		pts[i] = proj.AddWorldPoint("p")
		s := seeds[i]
		pts[i].OptimizedXYZ = &s
	}
	// One locked axis so the constant-slot path is exercised too.
	pts[3].Z = model.Locked(2.3)

	if _, err := proj.AddDistancePointPoint("d", pts[0].ID(), pts[1].ID(), 3, 1e-6); err != nil {
		t.Fatalf("distance: %v", err)
	}
	if _, err := proj.AddFixedPoint("f", pts[2].ID(), geom.V3(2, 3, 1), 1e-6); err != nil {
		t.Fatalf("fixed: %v", err)
	}
	if _, err := proj.AddCollinearPoints("c", []model.WorldPointID{pts[0].ID(), pts[1].ID(), pts[2].ID()}, 1e-6); err != nil {
		t.Fatalf("collinear: %v", err)
	}
	if _, err := proj.AddEqualDistances("e", [][2]model.WorldPointID{
		{pts[0].ID(), pts[1].ID()}, {pts[1].ID(), pts[2].ID()}, {pts[2].ID(), pts[0].ID()},
	}, 1e-6); err != nil {
		t.Fatalf("equal distances: %v", err)
	}
	l, err := proj.AddLine("l", pts[0].ID(), pts[3].ID())
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	length := 2.5
	l.TargetLength = &length

	vp := proj.AddViewpoint("cam", 1280, 720)
	vp.Pose = geom.Transform{
		Loc: geom.V3(0.5, -0.8, -9),
		Rot: geom.FromAxisAngle(geom.V3(0.3, 1, 0.2), 0.4),
	}
	vp.Intrinsics = model.Intrinsics{
		FocalLength:    900,
		AspectRatio:    1.02,
		PrincipalPoint: [2]float64{640, 360},
		Skew:           0.5,
		K1:             -0.03, K2: 0.004, K3: -0.0002,
		P1: 0.001, P2: -0.002,
	}
	for _, wp := range pts[:3] {
		if _, err := proj.AddImagePoint(wp.ID(), vp.ID(), 600, 400); err != nil {
			t.Fatalf("image point: %v", err)
		}
	}

	layout := NewVariableLayout(proj, true, true)
	return proj, layout
}

func denseFromEntries(entries []Entry, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	for _, e := range entries {
		out[e.Row][e.Col] += e.Value
	}
	return out
}

// TestAnalyticMatchesNumerical is spec property 4 in earnest: each
// closed-form Jacobian column must agree with the central-difference
// Jacobian of the same residual function to 1e-5 relative, at several
// interior points.
func TestAnalyticMatchesNumerical(t *testing.T) {
	proj, layout := analyticScene(t)
	sys := NewSystem(proj, layout, BuildOptions{OptimizePose: true, ReprojectionWeight: 1})

	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	// Deterministic pseudo-random interior perturbations.
	offsets := []float64{0, 0.013, -0.021, 0.034, -0.008}
	for trial, off := range offsets {
		xt := make([]float64, len(x))
		for i := range x {
			xt[i] = x[i] + off*float64(1+i%5)
		}
		for _, p := range sys.Providers {
			analytic := denseFromEntries(p.ComputeJacobian(xt), p.ResidualCount(), layout.NumVars())
			numeric := denseFromEntries(numericalJacobian(p, xt), p.ResidualCount(), layout.NumVars())
			for r := range analytic {
				for c := range analytic[r] {
					a, n := analytic[r][c], numeric[r][c]
					scale := math.Max(math.Max(math.Abs(a), math.Abs(n)), 1)
					// 1e-5 relative, plus an absolute cushion for the
					// central-difference roundoff on pixel-magnitude
					// residuals whose true partial is near zero.
					if math.Abs(a-n) > 1e-5*scale+5e-4 {
						t.Errorf("trial %d provider %d row %d col %d: analytic %v vs numeric %v", trial, p.ID(), r, c, a, n)
					}
				}
			}
		}
	}
}

// TestFixedPointJacobianIsIdentity pins the simplest closed form: the
// fixed-point block is the identity over the point's free axes.
func TestFixedPointJacobianIsIdentity(t *testing.T) {
	proj := model.NewProject()
	p := proj.AddWorldPoint("p")
	pos := geom.V3(1, 2, 3)
	p.OptimizedXYZ = &pos
	if _, err := proj.AddFixedPoint("f", p.ID(), geom.V3(0, 0, 0), 1e-6); err != nil {
		t.Fatalf("fixed: %v", err)
	}
	layout := NewVariableLayout(proj, false, false)
	sys := NewSystem(proj, layout, BuildOptions{})
	x := make([]float64, layout.NumVars())
	layout.Seed(proj, x)

	entries := sys.Providers[0].ComputeJacobian(x)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Value != 1 {
			t.Errorf("entry %+v: want value 1", e)
		}
	}
}
