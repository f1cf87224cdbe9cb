// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package initpipeline

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// minSharedObservations is the 8-point method's floor (spec.md §4.7
// regime 2).
const minSharedObservations = 8

// sharedObservation pairs one world point's normalized-plane
// coordinates in two viewpoints.
type sharedObservation struct {
	point  model.WorldPointID
	x1, y1 float64
	x2, y2 float64
}

// tryTwoView attempts the essential-matrix regime: exactly two
// viewpoints sharing at least eight observations. On success the first
// camera is placed at the origin with identity rotation, the second at
// the cheirality-selected relative pose, and every shared point is
// triangulated. Returns how many of the triangulated points are not
// fully constrained.
func tryTwoView(proj *model.Project, log *zap.Logger) (int, bool) {
	vps := proj.Viewpoints()
	if len(vps) != 2 {
		return 0, false
	}
	vp1, vp2 := vps[0], vps[1]

	shared := sharedObservations(proj, vp1, vp2)
	if len(shared) < minSharedObservations {
		return 0, false
	}

	e, ok := essentialMatrix(shared)
	if !ok {
		log.Warn("essential-matrix estimation degenerate; falling through")
		return 0, false
	}

	rot, trans, ok := selectPose(e, shared)
	if !ok {
		log.Warn("essential-matrix decomposition produced no pose with points in front; falling through")
		return 0, false
	}

	// Camera 1 anchors the provisional frame; camera 2's world-to-camera
	// map is cam2 = R*world + t, so its center is -R^T t and its
	// camera-to-world rotation is R^T.
	vp1.Pose = geom.Identity()
	rt := rot.Transpose()
	vp2.Pose = geom.Transform{
		Loc: rt.MulVec(trans).Neg(),
		Rot: rt.ToQuat(),
	}

	placed := 0
	for _, so := range shared {
		wp := proj.WorldPoint(so.point)
		if wp == nil {
			continue
		}
		world, ok := triangulateTwoView(rot, trans, so)
		if !ok {
			continue
		}
		// Locked points keep their triangulated position too: the
		// alignment step maps these provisional positions onto the
		// locked targets (spec.md §4.7).
		w := world
		wp.OptimizedXYZ = &w
		if !wp.IsFullyConstrained() {
			placed++
		}
	}
	return placed, true
}

// sharedObservations collects, for every world point observed by both
// viewpoints, its undistorted normalized-plane coordinates in each.
func sharedObservations(proj *model.Project, vp1, vp2 *model.Viewpoint) []sharedObservation {
	in1 := make(map[model.WorldPointID]*model.ImagePoint)
	for _, ipID := range vp1.ImagePoints() {
		if ip := proj.ImagePoint(ipID); ip != nil {
			in1[ip.WorldPoint] = ip
		}
	}
	var out []sharedObservation
	for _, wp := range proj.WorldPoints() {
		ip1, ok := in1[wp.ID()]
		if !ok {
			continue
		}
		var ip2 *model.ImagePoint
		for _, ipID := range wp.ImagePoints() {
			ip := proj.ImagePoint(ipID)
			if ip != nil && ip.Viewpoint == vp2.ID() {
				ip2 = ip
				break
			}
		}
		if ip2 == nil {
			continue
		}
		x1, y1 := normalizePixel(ip1.U, ip1.V, vp1.Intrinsics)
		x2, y2 := normalizePixel(ip2.U, ip2.V, vp2.Intrinsics)
		out = append(out, sharedObservation{point: wp.ID(), x1: x1, y1: y1, x2: x2, y2: y2})
	}
	return out
}

func normalizePixel(u, v float64, intr model.Intrinsics) (x, y float64) {
	xd, yd := camera.PixelToNormalized(u, v, intr)
	return camera.Undistort(xd, yd, intr)
}

// essentialMatrix runs the 8-point method: stack one epipolar
// constraint x2^T E x1 = 0 per shared observation, take the
// least-squares null vector by SVD, then project onto the essential
// manifold by equalizing the two leading singular values and zeroing
// the third.
func essentialMatrix(shared []sharedObservation) (geom.Mat3, bool) {
	a := mat.NewDense(len(shared), 9, nil)
	for i, s := range shared {
		a.SetRow(i, []float64{
			s.x2 * s.x1, s.x2 * s.y1, s.x2,
			s.y2 * s.x1, s.y2 * s.y1, s.y2,
			s.x1, s.y1, 1,
		})
	}
	// Full SVD: with exactly eight constraints the system is wider
	// than tall and the null direction is only present in the full V.
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return geom.Mat3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	null := mat.Col(nil, cols-1, &v)

	var e geom.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			e.M[i][j] = null[3*i+j]
		}
	}
	return projectEssential(e)
}

// projectEssential enforces the rank-2, equal-singular-value structure
// of an essential matrix.
func projectEssential(e geom.Mat3) (geom.Mat3, bool) {
	u, s, vt, ok := svd3(e)
	if !ok {
		return geom.Mat3{}, false
	}
	if s[0] < 1e-12 {
		return geom.Mat3{}, false
	}
	m := (s[0] + s[1]) / 2
	var d geom.Mat3
	d.M[0][0], d.M[1][1] = m, m
	return u.Mul(d).Mul(vt), true
}

// svd3 computes the SVD of a 3x3 matrix via gonum, returning U, the
// singular values, and V^T, with U and V repaired to proper rotations
// (det +1) so the downstream decomposition candidates are rotations.
func svd3(m geom.Mat3) (u geom.Mat3, s [3]float64, vt geom.Mat3, ok bool) {
	dense := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dense.Set(i, j, m.M[i][j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(dense, mat.SVDFull) {
		return u, s, vt, false
	}
	var um, vm mat.Dense
	svd.UTo(&um)
	svd.VTo(&vm)
	vals := svd.Values(nil)
	copy(s[:], vals)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			u.M[i][j] = um.At(i, j)
			vt.M[i][j] = vm.At(j, i)
		}
	}
	if u.Det() < 0 {
		for i := 0; i < 3; i++ {
			u.M[i][2] = -u.M[i][2]
		}
		s[2] = -s[2]
	}
	if vt.Det() < 0 {
		for j := 0; j < 3; j++ {
			vt.M[2][j] = -vt.M[2][j]
		}
		s[2] = -s[2]
	}
	return u, s, vt, true
}

// selectPose decomposes E into its four (R, t) candidates and returns
// the one placing the greatest fraction of triangulated points in
// front of both cameras (spec.md §4.7's cheirality selection). ok is
// false if no candidate places at least half the points forward.
func selectPose(e geom.Mat3, shared []sharedObservation) (geom.Mat3, geom.Vec3, bool) {
	u, _, vt, ok := svd3(e)
	if !ok {
		return geom.Mat3{}, geom.Vec3{}, false
	}
	var w geom.Mat3
	w.M[0][1] = -1
	w.M[1][0] = 1
	w.M[2][2] = 1

	r1 := u.Mul(w).Mul(vt)
	r2 := u.Mul(w.Transpose()).Mul(vt)
	t := geom.V3(u.M[0][2], u.M[1][2], u.M[2][2])

	type candidate struct {
		r geom.Mat3
		t geom.Vec3
	}
	candidates := []candidate{
		{r1, t}, {r1, t.Neg()},
		{r2, t}, {r2, t.Neg()},
	}

	bestFront := -1
	var best candidate
	for _, c := range candidates {
		front := 0
		for _, so := range shared {
			if world, ok := triangulateTwoView(c.r, c.t, so); ok {
				z1 := world.Z
				z2 := c.r.MulVec(world).Add(c.t).Z
				if z1 > 0 && z2 > 0 {
					front++
				}
			}
		}
		if front > bestFront {
			bestFront = front
			best = c
		}
	}
	if bestFront*2 < len(shared) {
		return geom.Mat3{}, geom.Vec3{}, false
	}
	return best.r, best.t, true
}

// triangulateTwoView linearly triangulates one correspondence under
// P1 = [I|0], P2 = [R|t] in normalized coordinates.
func triangulateTwoView(r geom.Mat3, t geom.Vec3, so sharedObservation) (geom.Vec3, bool) {
	// Rows of the DLT system: x*(p3) - p1 per camera, in homogeneous
	// world coordinates (X, Y, Z, 1).
	rows := [4][4]float64{
		{-1, 0, so.x1, 0},
		{0, -1, so.y1, 0},
		{},
		{},
	}
	for j := 0; j < 3; j++ {
		rows[2][j] = so.x2*r.M[2][j] - r.M[0][j]
		rows[3][j] = so.y2*r.M[2][j] - r.M[1][j]
	}
	rows[2][3] = so.x2*t.Z - t.X
	rows[3][3] = so.y2*t.Z - t.Y

	a := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a.Set(i, j, rows[i][j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return geom.Vec3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	h := mat.Col(nil, 3, &v)
	if h[3] == 0 {
		return geom.Vec3{}, false
	}
	world := geom.V3(h[0]/h[3], h[1]/h[3], h[2]/h[3])
	return world, world.IsFinite()
}
