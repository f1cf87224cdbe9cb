// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package camera implements the pinhole-plus-distortion projection
// model shared by every consumer of a model.Viewpoint: the LM solver's
// reprojection residual, the initialization pipeline's cheirality and
// reprojection-error checks, and any host that wants to project a 3D
// point to pixels without running a solve (spec.md §4.3).
//
// Two implementations of the same seven steps exist side by side: Project
// operates on plain float64s for initialization and diagnostics, and
// ProjectValue operates on autodiff.Value for the autodiff solver back
// end. Both must agree to within 1e-10 (spec.md §4.3); they are kept in
// lockstep by sharing the same step ordering and distortion polynomial.
package camera

import (
	"math"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// Project maps a world-space point through a viewpoint's pose and
// intrinsics to pixel coordinates. ok is false if the point is behind
// the camera (depth <= 0), per spec.md §4.3 step 3.
func Project(world geom.Vec3, pose geom.Transform, intr model.Intrinsics, isZReflected bool) (u, v float64, ok bool) {
	cam := pose.ToLocal(world)
	if isZReflected {
		cam.Z = -cam.Z
	}
	if cam.Z <= 0 {
		return 0, 0, false
	}
	xp, yp := cam.X/cam.Z, cam.Y/cam.Z
	xd, yd := distort(xp, yp, intr)
	u = intr.FocalLength*xd + intr.Skew*yd + intr.PrincipalPoint[0]
	v = intr.FocalLength*intr.AspectRatio*yd + intr.PrincipalPoint[1]
	return u, v, true
}

// distort applies the radial (k1,k2,k3) + tangential (p1,p2) OpenCV-style
// distortion polynomial to a normalized-plane coordinate.
func distort(xp, yp float64, intr model.Intrinsics) (xd, yd float64) {
	r2 := xp*xp + yp*yp
	r4 := r2 * r2
	r6 := r4 * r2
	radial := 1 + intr.K1*r2 + intr.K2*r4 + intr.K3*r6
	xd = xp*radial + 2*intr.P1*xp*yp + intr.P2*(r2+2*xp*xp)
	yd = yp*radial + intr.P1*(r2+2*yp*yp) + 2*intr.P2*xp*yp
	return xd, yd
}

// Undistort inverts distort by fixed-point iteration, used by the
// vanishing-point and essential-matrix initialization stages to
// normalize observed pixels before the intrinsics are fully known.
func Undistort(xd, yd float64, intr model.Intrinsics) (x, y float64) {
	x, y = xd, yd
	for i := 0; i < 10; i++ {
		xd2, yd2 := distort(x, y, intr)
		x -= xd2 - xd
		y -= yd2 - yd
	}
	return x, y
}

// PixelToNormalized removes the intrinsic matrix K (focal length, skew,
// principal point, aspect ratio) from a pixel observation, returning a
// distorted normalized-plane coordinate. Combine with Undistort to
// recover the ideal ray direction.
func PixelToNormalized(u, v float64, intr model.Intrinsics) (xd, yd float64) {
	yd = (v - intr.PrincipalPoint[1]) / (intr.FocalLength * intr.AspectRatio)
	xd = (u - intr.PrincipalPoint[0] - intr.Skew*yd) / intr.FocalLength
	return xd, yd
}

// Depth returns the camera-space Z of world under pose, honoring
// isZReflected, without doing the full projection. Used by cheirality
// checks that only care about front/behind, not pixel position.
func Depth(world geom.Vec3, pose geom.Transform, isZReflected bool) float64 {
	cam := pose.ToLocal(world)
	if isZReflected {
		return -cam.Z
	}
	return cam.Z
}

// ReprojectionError returns the pixel distance between the projection
// of world under vp and the observed (u,v), or +Inf if the point
// projects behind the camera.
func ReprojectionError(world geom.Vec3, vp *model.Viewpoint, u, v float64) float64 {
	pu, pv, ok := Project(world, vp.Pose, vp.Intrinsics, vp.IsZReflected)
	if !ok {
		return math.Inf(1)
	}
	du, dv := pu-u, pv-v
	return math.Sqrt(du*du + dv*dv)
}

// VanishingPoint intersects the pixel-space lines in segs (each given as
// two endpoints) in a least-squares sense and returns their common
// intersection, used by the vanishing-point calibration stage
// (spec.md §4.7) to locate an axis's vanishing point from >=2 lines.
//
// Each line contributes one homogeneous constraint a*u + b*v + c = 0
// where (a,b,c) is the cross product of the two endpoints in homogeneous
// pixel coordinates; the vanishing point is the least-squares null
// vector of the stacked constraint matrix, recovered here via the 2x2
// normal-equations solve of the inhomogeneous form a*u+b*v=-c.
func VanishingPoint(segs [][4]float64) (u, v float64, ok bool) {
	if len(segs) < 2 {
		return 0, 0, false
	}
	var sAA, sAB, sBB, sAC, sBC float64
	for _, s := range segs {
		u0, v0, u1, v1 := s[0], s[1], s[2], s[3]
		a := v1 - v0
		b := u0 - u1
		c := u1*v0 - u0*v1
		sAA += a * a
		sAB += a * b
		sBB += b * b
		sAC += a * c
		sBC += b * c
	}
	det := sAA*sBB - sAB*sAB
	if math.Abs(det) < 1e-12 {
		return 0, 0, false
	}
	u = (-sAC*sBB + sBC*sAB) / det
	v = (-sBC*sAA + sAC*sAB) / det
	return u, v, true
}
