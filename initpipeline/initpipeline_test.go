// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package initpipeline

import (
	"math"
	"sort"
	"testing"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

func TestRealRootsCubic(t *testing.T) {
	// (v-1)(v-2)(v+3) = v^3 - 7v + 6
	roots := realRoots(poly{6, -7, 0, 1})
	sort.Float64s(roots)
	want := []float64{-3, 1, 2}
	if len(roots) != 3 {
		t.Fatalf("expected 3 real roots, got %v", roots)
	}
	for i, w := range want {
		if math.Abs(roots[i]-w) > 1e-8 {
			t.Errorf("root %d: got %v, want %v", i, roots[i], w)
		}
	}
}

func TestPolyArithmetic(t *testing.T) {
	p := poly{1, 2}    // 1 + 2v
	q := poly{0, 0, 3} // 3v^2
	prod := p.mul(q)   // 3v^2 + 6v^3
	if got := prod.eval(2); math.Abs(got-(3*4+6*8)) > 1e-12 {
		t.Errorf("mul/eval: got %v", got)
	}
	if got := p.sub(q).eval(2); math.Abs(got-(5-12)) > 1e-12 {
		t.Errorf("sub/eval: got %v", got)
	}
	if got := p.add(q).eval(2); math.Abs(got-(5+12)) > 1e-12 {
		t.Errorf("add/eval: got %v", got)
	}
}

// bearing returns the normalized-plane coordinates of world under pose.
func bearing(world geom.Vec3, pose geom.Transform) (x, y float64) {
	cam := pose.ToLocal(world)
	return cam.X / cam.Z, cam.Y / cam.Z
}

func TestSolveP3PRecoversPose(t *testing.T) {
	truth := geom.Transform{
		Loc: geom.V3(0.5, -0.3, -8),
		Rot: geom.FromAxisAngle(geom.V3(0, 1, 0), 0.15),
	}
	worlds := []geom.Vec3{
		geom.V3(0, 0, 0),
		geom.V3(4, 0, 0),
		geom.V3(0, 3, 1),
	}
	var corr [3]pnpCorrespondence
	for i, w := range worlds {
		x, y := bearing(w, truth)
		corr[i] = pnpCorrespondence{world: w, x: x, y: y}
	}
	candidates := solveP3P(corr[0], corr[1], corr[2])
	if len(candidates) == 0 {
		t.Fatal("no P3P candidates")
	}
	best := math.Inf(1)
	for _, c := range candidates {
		if d := c.Loc.Dist(truth.Loc); d < best {
			best = d
		}
	}
	if best > 1e-4 {
		t.Errorf("closest candidate center off by %v", best)
	}
}

func TestDLTPoseRecoversPose(t *testing.T) {
	truth := geom.Transform{
		Loc: geom.V3(1, 2, -10),
		Rot: geom.FromAxisAngle(geom.V3(1, 1, 0), 0.1),
	}
	worlds := []geom.Vec3{
		{X: 0, Y: 0, Z: 0}, {X: 5, Y: 0, Z: 0}, {X: 0, Y: 5, Z: 0},
		{X: 0, Y: 0, Z: 5}, {X: 3, Y: 4, Z: 1}, {X: -2, Y: 1, Z: 3},
		{X: 1, Y: -3, Z: 2},
	}
	corr := make([]pnpCorrespondence, len(worlds))
	for i, w := range worlds {
		x, y := bearing(w, truth)
		corr[i] = pnpCorrespondence{world: w, x: x, y: y}
	}
	pose, ok := dltPose(corr)
	if !ok {
		t.Fatal("dltPose failed")
	}
	if d := pose.Loc.Dist(truth.Loc); d > 1e-6 {
		t.Errorf("center off by %v", d)
	}
	// Compare rotations by their action on the basis vectors.
	for _, axis := range []geom.Vec3{{X: 1}, {Y: 1}, {Z: 1}} {
		got := pose.Rot.Unit().Rotate(axis)
		want := truth.Rot.Rotate(axis)
		if got.Dist(want) > 1e-6 {
			t.Errorf("rotation differs on %v: got %v want %v", axis, got, want)
		}
	}
}

func TestSimilarityTransform(t *testing.T) {
	rq := geom.FromAxisAngle(geom.V3(0, 0, 1), 0.7)
	r := rq.ToMat3()
	s := 2.5
	trans := geom.V3(1, -2, 3)
	src := []geom.Vec3{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 2, Z: 0}, {X: 0, Y: 0, Z: 3},
	}
	dst := make([]geom.Vec3, len(src))
	for i, p := range src {
		dst[i] = r.MulVec(p).Scale(s).Add(trans)
	}
	gotS, gotR, gotT, ok := similarityTransform(src, dst)
	if !ok {
		t.Fatal("similarityTransform failed")
	}
	if math.Abs(gotS-s) > 1e-9 {
		t.Errorf("scale: got %v want %v", gotS, s)
	}
	if gotT.Dist(trans) > 1e-9 {
		t.Errorf("translation: got %v want %v", gotT, trans)
	}
	for i, p := range src {
		mapped := gotR.MulVec(p).Scale(gotS).Add(gotT)
		if mapped.Dist(dst[i]) > 1e-9 {
			t.Errorf("point %d maps to %v, want %v", i, mapped, dst[i])
		}
	}
}

func TestTriangulatePointTwoViews(t *testing.T) {
	world := geom.V3(1, 2, 5)
	pose1 := geom.Identity()
	pose2 := geom.Transform{Loc: geom.V3(2, 0, 0), Rot: geom.FromAxisAngle(geom.V3(0, 1, 0), -0.1)}

	vp1 := &model.Viewpoint{Pose: pose1}
	vp2 := &model.Viewpoint{Pose: pose2}
	x1, y1 := bearing(world, pose1)
	x2, y2 := bearing(world, pose2)
	got, ok := TriangulatePoint(
		[]projMatrix{viewProjMatrix(vp1), viewProjMatrix(vp2)},
		[]float64{x1, x2}, []float64{y1, y2})
	if !ok {
		t.Fatal("triangulation failed")
	}
	if got.Dist(world) > 1e-8 {
		t.Errorf("got %v, want %v", got, world)
	}
}

func TestEssentialMatrixPoseRecovery(t *testing.T) {
	// Camera 1 at the origin, camera 2 translated and slightly rotated;
	// world-to-camera2 map is cam2 = R*world + tr.
	rot := geom.FromAxisAngle(geom.V3(0, 1, 0), 0.2).ToMat3().Transpose()
	tr := geom.V3(-2, 0.1, 0.3)

	worlds := []geom.Vec3{
		{X: 0, Y: 0, Z: 10}, {X: 2, Y: 1, Z: 12}, {X: -1, Y: 2, Z: 9},
		{X: 3, Y: -2, Z: 11}, {X: -2, Y: -1, Z: 13}, {X: 1, Y: 3, Z: 8},
		{X: 0.5, Y: -1.5, Z: 14}, {X: -3, Y: 0.5, Z: 10}, {X: 2.5, Y: 2.5, Z: 9.5},
	}
	var shared []sharedObservation
	for _, w := range worlds {
		c2 := rot.MulVec(w).Add(tr)
		if w.Z <= 0 || c2.Z <= 0 {
			t.Fatalf("bad synthetic setup: point %v not in front", w)
		}
		shared = append(shared, sharedObservation{
			x1: w.X / w.Z, y1: w.Y / w.Z,
			x2: c2.X / c2.Z, y2: c2.Y / c2.Z,
		})
	}

	e, ok := essentialMatrix(shared)
	if !ok {
		t.Fatal("essentialMatrix failed")
	}
	gotR, gotT, ok := selectPose(e, shared)
	if !ok {
		t.Fatal("selectPose found no cheirality-positive candidate")
	}

	// Rotation must match; translation only up to scale.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(gotR.M[i][j]-rot.M[i][j]) > 1e-6 {
				t.Fatalf("rotation mismatch at %d,%d: got %v want %v", i, j, gotR.M[i][j], rot.M[i][j])
			}
		}
	}
	wantT := tr.Unit()
	if gotT.Unit().Dist(wantT) > 1e-6 {
		t.Errorf("translation direction: got %v want %v", gotT.Unit(), wantT)
	}

	// Triangulated depths must reproduce the world points up to the
	// translation scale |tr|.
	scale := tr.Len()
	for i, so := range shared {
		world, ok := triangulateTwoView(gotR, gotT, so)
		if !ok {
			t.Fatalf("triangulation failed for point %d", i)
		}
		if world.Scale(scale).Dist(worlds[i]) > 1e-6 {
			t.Errorf("point %d: got %v (scaled %v), want %v", i, world, world.Scale(scale), worlds[i])
		}
	}
}

func TestVanishingPointCalibration(t *testing.T) {
	proj := model.NewProject()
	vp := proj.AddViewpoint("cam", 2000, 1500)
	f := 1400.0
	vp.Intrinsics = model.DefaultIntrinsics(100, 2000, 1500) // focal is recovered, seed is irrelevant.
	truth := geom.Transform{
		Loc: geom.V3(3, 2, -12),
		Rot: geom.FromAxisAngle(geom.V3(0.2, 1, 0.1), 0.35),
	}

	// Project segments of x- and y-parallel world lines into pixels.
	pixel := func(w geom.Vec3) (float64, float64) {
		cam := truth.ToLocal(w)
		return f*cam.X/cam.Z + 1000, f*cam.Y/cam.Z + 750
	}
	segment := func(origin, dir geom.Vec3) model.VanishingLine {
		u0, v0 := pixel(origin)
		u1, v1 := pixel(origin.Add(dir))
		axis := model.AxisX
		if dir.Y != 0 {
			axis = model.AxisY
		}
		return model.VanishingLine{Axis: axis, U0: u0, V0: v0, U1: u1, V1: v1}
	}
	vp.VanishingLines = []model.VanishingLine{
		segment(geom.V3(0, 0, 0), geom.V3(4, 0, 0)),
		segment(geom.V3(0, 2, 1), geom.V3(4, 0, 0)),
		segment(geom.V3(0, 0, 0), geom.V3(0, 4, 0)),
		segment(geom.V3(2, 0, 1), geom.V3(0, 4, 0)),
	}

	if !vp.IsVPCalibratable() {
		t.Fatal("synthetic viewpoint should be VP calibratable")
	}
	if err := CalibrateFromVanishingPoints(proj, vp); err != nil {
		t.Fatalf("calibration failed: %v", err)
	}
	if math.Abs(vp.Intrinsics.FocalLength-f) > f*0.01 {
		t.Errorf("focal length: got %v, want %v", vp.Intrinsics.FocalLength, f)
	}

	// The recovered rotation must map world x/y axes onto the camera
	// rays of the vanishing points, i.e. agree with the truth rotation
	// up to axis sign flips. Check the weaker, well-defined property:
	// the x axis direction in camera frame is parallel to truth's.
	gotX := vp.Pose.Rot.Unit().RotateInverse(geom.V3(1, 0, 0))
	wantX := truth.Rot.RotateInverse(geom.V3(1, 0, 0))
	if math.Abs(math.Abs(gotX.Dot(wantX))-1) > 1e-3 {
		t.Errorf("x axis camera direction: got %v, want +-%v", gotX, wantX)
	}
}

func TestRotationAligning(t *testing.T) {
	cases := [][2]geom.Vec3{
		{geom.V3(1, 0, 0), geom.V3(0, 1, 0)},
		{geom.V3(0.3, 0.4, 0.5).Unit(), geom.V3(0, 0, 1)},
		{geom.V3(1, 0, 0), geom.V3(-1, 0, 0)}, // antiparallel.
	}
	for _, c := range cases {
		q := rotationAligning(c[0], c[1])
		got := q.Rotate(c[0])
		if got.Dist(c[1]) > 1e-9 {
			t.Errorf("aligning %v to %v: got %v", c[0], c[1], got)
		}
	}
}

func TestDefaultPlacement(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	a.X, a.Y, a.Z = model.Locked(0), model.Locked(0), model.Locked(0)
	b := proj.AddWorldPoint("b")
	b.X, b.Y, b.Z = model.Locked(10), model.Locked(0), model.Locked(0)
	free := proj.AddWorldPoint("free")
	proj.AddViewpoint("cam", 640, 480)

	res, err := Run(proj, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Method != MethodDefault {
		t.Fatalf("expected default regime, got %v", res.Method)
	}
	if free.OptimizedXYZ == nil {
		t.Fatal("free point not placed")
	}
	if free.OptimizedXYZ.Dist(geom.V3(5, 0, 0)) > 1e-9 {
		t.Errorf("free point at %v, want centroid (5,0,0)", *free.OptimizedXYZ)
	}
	cam := proj.Viewpoints()[0]
	if cam.Pose.Loc.Z >= 0 {
		t.Errorf("camera should sit on the negative-z side, got %v", cam.Pose.Loc)
	}
}
