// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package initpipeline

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// CalibrateFromVanishingPoints recovers a viewpoint's focal length and
// rotation from two orthogonal vanishing points, then places its
// position from known world points or a default stand-off
// (spec.md §4.7 regime 1). The viewpoint must be VP-calibratable.
func CalibrateFromVanishingPoints(proj *model.Project, vp *model.Viewpoint) error {
	axes := vp.VPAxisLines()
	var usable []model.AxisTag
	for axis, lines := range axes {
		if len(lines) >= 2 && isSingleAxis(axis) {
			usable = append(usable, axis)
		}
	}
	if len(usable) < 2 {
		return &model.InitializationError{
			Stage: "vanishing-point", Code: "DEGENERATE_GEOMETRY",
			Message: "need two single-axis directions with at least two lines each",
		}
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i] < usable[j] })
	axisA, axisB := usable[0], usable[1]

	ua, va, okA := vanishingPointFor(axes[axisA])
	ub, vb, okB := vanishingPointFor(axes[axisB])
	if !okA || !okB {
		return &model.InitializationError{
			Stage: "vanishing-point", Code: "DEGENERATE_GEOMETRY",
			Message: "vanishing lines are parallel in the image; no intersection",
		}
	}

	cx, cy := vp.Intrinsics.PrincipalPoint[0], vp.Intrinsics.PrincipalPoint[1]
	// Two orthogonal world directions project to vanishing points v1, v2
	// with (v1-c)·(v2-c) + f^2 = 0.
	dot := (ua-cx)*(ub-cx) + (va-cy)*(vb-cy)
	if dot >= 0 {
		return &model.InitializationError{
			Stage: "vanishing-point", Code: "DEGENERATE_GEOMETRY",
			Message: fmt.Sprintf("vanishing points on the same side of the principal point (dot %.3g); focal length has no real solution", dot),
		}
	}
	f := math.Sqrt(-dot)
	vp.Intrinsics.FocalLength = f

	// Camera-frame directions of the two world axes, then the third by
	// cross product; orthonormalized into a world-to-camera matrix.
	da := geom.V3(ua-cx, va-cy, f).Unit()
	db := geom.V3(ub-cx, vb-cy, f).Unit()
	db = db.Sub(da.Scale(da.Dot(db))).Unit() // re-orthogonalize.
	dc := da.Cross(db)

	var rwc geom.Mat3
	setColumn(&rwc, axisColumn(axisA), da)
	setColumn(&rwc, axisColumn(axisB), db)
	setColumn(&rwc, thirdColumn(axisA, axisB), dc)
	if rwc.Det() < 0 {
		dc = dc.Neg()
		setColumn(&rwc, thirdColumn(axisA, axisB), dc)
	}

	vp.Pose.Rot = rwc.Transpose().ToQuat()

	if !placeFromKnownPoints(proj, vp) {
		placeStandoff(proj, vp)
	}
	return nil
}

func isSingleAxis(a model.AxisTag) bool {
	return a == model.AxisX || a == model.AxisY || a == model.AxisZ
}

func axisColumn(a model.AxisTag) int {
	switch a {
	case model.AxisX:
		return 0
	case model.AxisY:
		return 1
	default:
		return 2
	}
}

func thirdColumn(a, b model.AxisTag) int {
	used := [3]bool{}
	used[axisColumn(a)] = true
	used[axisColumn(b)] = true
	for i, u := range used {
		if !u {
			return i
		}
	}
	return 2
}

func setColumn(m *geom.Mat3, col int, v geom.Vec3) {
	m.M[0][col], m.M[1][col], m.M[2][col] = v.X, v.Y, v.Z
}

func vanishingPointFor(lines []model.VanishingLine) (u, v float64, ok bool) {
	segs := make([][4]float64, len(lines))
	for i, l := range lines {
		segs[i] = [4]float64{l.U0, l.V0, l.U1, l.V1}
	}
	return camera.VanishingPoint(segs)
}

// placeFromKnownPoints solves the camera position from fully
// constrained world points observed in this image: with rotation and
// focal length known, each observation pins the camera center to the
// line X - depth*ray, giving the cross-product system [ray]x * pos =
// [ray]x * X solved in least squares. Needs at least two observations
// of fully constrained points.
func placeFromKnownPoints(proj *model.Project, vp *model.Viewpoint) bool {
	type obs struct {
		world geom.Vec3
		ray   geom.Vec3 // world-frame ray direction from camera center.
	}
	var observations []obs
	q := vp.Pose.Rot.Unit()
	for _, ipID := range vp.ImagePoints() {
		ip := proj.ImagePoint(ipID)
		if ip == nil {
			continue
		}
		wp := proj.WorldPoint(ip.WorldPoint)
		if wp == nil || !wp.IsFullyConstrained() {
			continue
		}
		world, ok := wp.EffectiveXYZ()
		if !ok {
			continue
		}
		xd, yd := camera.PixelToNormalized(ip.U, ip.V, vp.Intrinsics)
		xn, yn := camera.Undistort(xd, yd, vp.Intrinsics)
		camRay := geom.V3(xn, yn, 1)
		if vp.IsZReflected {
			camRay.Z = -camRay.Z
		}
		observations = append(observations, obs{world: world, ray: q.Rotate(camRay).Unit()})
	}
	if len(observations) < 2 {
		return false
	}

	a := mat.NewDense(3*len(observations), 3, nil)
	b := mat.NewVecDense(3*len(observations), nil)
	for i, o := range observations {
		// [ray]x rows.
		rows := [3][3]float64{
			{0, -o.ray.Z, o.ray.Y},
			{o.ray.Z, 0, -o.ray.X},
			{-o.ray.Y, o.ray.X, 0},
		}
		// (X - pos) x ray = 0  =>  [ray]x * pos = ray x X.
		cross := o.ray.Cross(o.world)
		for r := 0; r < 3; r++ {
			a.Set(3*i+r, 0, rows[r][0])
			a.Set(3*i+r, 1, rows[r][1])
			a.Set(3*i+r, 2, rows[r][2])
		}
		b.SetVec(3*i+0, cross.X)
		b.SetVec(3*i+1, cross.Y)
		b.SetVec(3*i+2, cross.Z)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return false
	}
	pos := geom.V3(sol.AtVec(0), sol.AtVec(1), sol.AtVec(2))
	if !pos.IsFinite() {
		return false
	}

	// Reject a solution that puts the known points behind the camera.
	front := 0
	for _, o := range observations {
		if o.world.Sub(pos).Dot(o.ray) > 0 {
			front++
		}
	}
	if front*2 < len(observations) {
		return false
	}
	vp.Pose.Loc = pos
	return true
}

// placeStandoff backs the camera away from the point cloud centroid
// along its own viewing direction so the cloud is in front of it.
func placeStandoff(proj *model.Project, vp *model.Viewpoint) {
	centroid, extent := centroidExtent(effectiveCloud(proj))
	forward := vp.Pose.Rot.Unit().Rotate(geom.V3(0, 0, 1))
	if vp.IsZReflected {
		forward = forward.Neg()
	}
	vp.Pose.Loc = centroid.Sub(forward.Scale(2.5 * extent))
}
