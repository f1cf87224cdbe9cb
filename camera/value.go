// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package camera

import "github.com/trailmark/recon3d/autodiff"

// ValueIntrinsics mirrors model.Intrinsics with every field tracked on
// a Tape, so the autodiff solver back end can differentiate through
// the projection (spec.md §4.1/§4.3).
type ValueIntrinsics struct {
	FocalLength, AspectRatio, Cx, Cy, Skew autodiff.Value
	K1, K2, K3, P1, P2                     autodiff.Value
}

// ValuePose mirrors geom.Transform with position and rotation tracked
// on a Tape. Rot holds the quaternion's x,y,z,w components in Vec4's
// X,Y,Z,W fields of the same name.
type ValuePose struct {
	Pos autodiff.Vec3
	Rot autodiff.Vec4 // X,Y,Z,W = quaternion x,y,z,w
}

// rotateInverse applies the inverse of q to v: the world-to-camera
// rotation used by projection (geom.Quat.RotateInverse's Value analog).
func rotateInverse(q autodiff.Vec4, v autodiff.Vec3) autodiff.Vec3 {
	conj := autodiff.Vec4{X: q.X.Neg(), Y: q.Y.Neg(), Z: q.Z.Neg(), W: q.W}
	return rotate(conj, v)
}

// rotate applies q to v using the scratch-free cross-product form:
// v' = v + 2*w*(qv x v) + 2*(qv x (qv x v)).
func rotate(q autodiff.Vec4, v autodiff.Vec3) autodiff.Vec3 {
	qv := autodiff.Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := qv.Cross(v).Scale(2)
	return v.Add(t.ScaleV(q.W)).Add(qv.Cross(t))
}

// ProjectValue is the autodiff-tracked analog of Project: it performs
// the same seven steps (spec.md §4.3) over Values instead of float64s
// so a reverse pass can recover the reprojection residual's gradient.
//
// If the projected point is behind the camera, ok is false; callers
// must apply spec.md §4.2's "large constant" penalty themselves rather
// than trust u,v, since a Value computed from a non-positive Z would
// otherwise silently divide by a near-zero or negative depth.
func ProjectValue(tape *autodiff.Tape, world autodiff.Vec3, pose ValuePose, intr ValueIntrinsics, isZReflected bool) (u, v autodiff.Value, ok bool) {
	local := world.Sub(pose.Pos)
	cam := rotateInverse(pose.Rot, local)
	if isZReflected {
		cam.Z = cam.Z.Neg()
	}
	if cam.Z.Float() <= 0 {
		return autodiff.Value{}, autodiff.Value{}, false
	}
	xp := cam.X.Div(cam.Z)
	yp := cam.Y.Div(cam.Z)
	xd, yd := distortValue(tape, xp, yp, intr)
	u = intr.FocalLength.Mul(xd).Add(intr.Skew.Mul(yd)).Add(intr.Cx)
	v = intr.FocalLength.Mul(intr.AspectRatio).Mul(yd).Add(intr.Cy)
	return u, v, true
}

func distortValue(tape *autodiff.Tape, xp, yp autodiff.Value, intr ValueIntrinsics) (xd, yd autodiff.Value) {
	r2 := xp.Mul(xp).Add(yp.Mul(yp))
	r4 := r2.Mul(r2)
	r6 := r4.Mul(r2)
	radial := tape.C(1).Add(intr.K1.Mul(r2)).Add(intr.K2.Mul(r4)).Add(intr.K3.Mul(r6))
	xd = xp.Mul(radial).
		Add(xp.Mul(yp).Scale(2).Mul(intr.P1)).
		Add(intr.P2.Mul(r2.Add(xp.Mul(xp).Scale(2))))
	yd = yp.Mul(radial).
		Add(intr.P1.Mul(r2.Add(yp.Mul(yp).Scale(2)))).
		Add(xp.Mul(yp).Scale(2).Mul(intr.P2))
	return xd, yd
}

// BehindCameraPenalty returns the constant magnitude-1000 residual pair
// spec.md §4.2 prescribes for a projection that fails because the point
// is behind the camera: large enough to discourage the configuration
// without ever producing a NaN gradient (the pair is a tape constant,
// so its derivative is identically zero -- the LM step still moves
// other variables that affect depth indirectly through other residuals).
func BehindCameraPenalty(tape *autodiff.Tape) (u, v autodiff.Value) {
	return tape.C(1000), tape.C(1000)
}
