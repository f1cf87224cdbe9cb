// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package camera

import (
	"math"
	"testing"

	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

func straightIntrinsics() model.Intrinsics {
	return model.Intrinsics{FocalLength: 1000, AspectRatio: 1, PrincipalPoint: [2]float64{320, 240}}
}

func TestProjectIdentityPose(t *testing.T) {
	pose := geom.Identity()
	intr := straightIntrinsics()
	u, v, ok := Project(geom.V3(0, 0, 10), pose, intr, false)
	if !ok {
		t.Fatalf("expected point in front of camera")
	}
	if !geom.AeqTol(u, 320, 1e-9) || !geom.AeqTol(v, 240, 1e-9) {
		t.Fatalf("on-axis point should project to principal point, got (%v,%v)", u, v)
	}
}

func TestProjectBehindCamera(t *testing.T) {
	pose := geom.Identity()
	intr := straightIntrinsics()
	_, _, ok := Project(geom.V3(0, 0, -10), pose, intr, false)
	if ok {
		t.Fatalf("point behind camera must report ok=false")
	}
}

func TestProjectValueMatchesPlain(t *testing.T) {
	pose := geom.Transform{Loc: geom.V3(1, -2, 3), Rot: geom.FromAxisAngle(geom.V3(0, 1, 0), 0.4).Unit()}
	intr := model.Intrinsics{FocalLength: 850, AspectRatio: 1.02, PrincipalPoint: [2]float64{400, 300}, Skew: 0.5, K1: 0.01, K2: -0.002, P1: 0.001, P2: -0.0005}
	world := geom.V3(2, 1, 12)

	wantU, wantV, ok := Project(world, pose, intr, false)
	if !ok {
		t.Fatalf("expected in front of camera")
	}

	tape := autodiff.NewTape()
	vw := autodiff.NewVec3(tape, world.X, world.Y, world.Z)
	vp := ValuePose{
		Pos: autodiff.NewVec3(tape, pose.Loc.X, pose.Loc.Y, pose.Loc.Z),
		Rot: autodiff.Vec4{X: tape.C(pose.Rot.X), Y: tape.C(pose.Rot.Y), Z: tape.C(pose.Rot.Z), W: tape.C(pose.Rot.W)},
	}
	vi := ValueIntrinsics{
		FocalLength: tape.C(intr.FocalLength), AspectRatio: tape.C(intr.AspectRatio),
		Cx: tape.C(intr.PrincipalPoint[0]), Cy: tape.C(intr.PrincipalPoint[1]), Skew: tape.C(intr.Skew),
		K1: tape.C(intr.K1), K2: tape.C(intr.K2), K3: tape.C(intr.K3), P1: tape.C(intr.P1), P2: tape.C(intr.P2),
	}
	gotU, gotV, ok := ProjectValue(tape, vw, vp, vi, false)
	if !ok {
		t.Fatalf("ProjectValue expected in front of camera")
	}
	if math.Abs(gotU.Float()-wantU) > 1e-10 || math.Abs(gotV.Float()-wantV) > 1e-10 {
		t.Fatalf("ProjectValue diverges from Project: got (%v,%v) want (%v,%v)", gotU.Float(), gotV.Float(), wantU, wantV)
	}
}

func TestVanishingPointOrthogonalLines(t *testing.T) {
	// Two parallel pixel-space lines converging toward (500, 100).
	segs := [][4]float64{
		{0, 0, 400, 80},
		{0, 200, 400, 120},
	}
	u, v, ok := VanishingPoint(segs)
	if !ok {
		t.Fatalf("expected vanishing point to be found")
	}
	if !geom.AeqTol(u, 500, 1e-6) || !geom.AeqTol(v, 100, 1e-6) {
		t.Fatalf("got (%v,%v), want (500,100)", u, v)
	}
}
