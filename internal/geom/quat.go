// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package geom

import "math"

// Quat is a rotation quaternion (w,x,y,z) matching spec.md's storage
// convention. Quaternions stored on disk may be unnormalised; callers
// must normalise (Unit) before using one to rotate a vector.
type Quat struct {
	W, X, Y, Z float64
}

// QI is the identity rotation.
var QI = Quat{1, 0, 0, 0}

// Eq (==) reports whether q and r have identical components.
func (q Quat) Eq(r Quat) bool { return q.W == r.W && q.X == r.X && q.Y == r.Y && q.Z == r.Z }

// Aeq (~=) reports whether q and r are almost equal.
func (q Quat) Aeq(r Quat) bool {
	return Aeq(q.W, r.W) && Aeq(q.X, r.X) && Aeq(q.Y, r.Y) && Aeq(q.Z, r.Z)
}

// LenSqr returns the squared magnitude of q.
func (q Quat) LenSqr() float64 { return q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z }

// Len returns the magnitude of q.
func (q Quat) Len() float64 { return math.Sqrt(q.LenSqr()) }

// Unit returns q normalized to unit length. The identity quaternion is
// returned if q is (near) zero length.
func (q Quat) Unit() Quat {
	l := q.Len()
	if l < Epsilon {
		return QI
	}
	s := 1 / l
	return Quat{q.W * s, q.X * s, q.Y * s, q.Z * s}
}

// Conj returns the conjugate of q.
func (q Quat) Conj() Quat { return Quat{q.W, -q.X, -q.Y, -q.Z} }

// Inv returns the inverse of q. For unit quaternions this equals Conj.
func (q Quat) Inv() Quat {
	n := q.LenSqr()
	if n < Epsilon {
		return QI
	}
	c := q.Conj()
	s := 1 / n
	return Quat{c.W * s, c.X * s, c.Y * s, c.Z * s}
}

// Mult (*) returns the Hamilton product q*r, i.e. the rotation r
// followed by the rotation q.
func (q Quat) Mult(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// FromAxisAngle returns the rotation of ang radians about the given axis.
// The axis need not be normalized.
func FromAxisAngle(axis Vec3, ang float64) Quat {
	a := axis.Unit()
	half := ang * 0.5
	s := math.Sin(half)
	return Quat{math.Cos(half), a.X * s, a.Y * s, a.Z * s}
}

// Rotate applies q's rotation to vector v, i.e. computes q*v*q^-1 for
// unit q using the optimized (no quaternion-quaternion multiply) form.
func (q Quat) Rotate(v Vec3) Vec3 {
	// t = 2 * cross(qv, v); result = v + q.W*t + cross(qv, t)
	qv := Vec3{q.X, q.Y, q.Z}
	t := qv.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(qv.Cross(t))
}

// RotateInverse applies the inverse of q's rotation to v, i.e. transforms
// a world-space vector into the frame described by q (world-to-camera).
func (q Quat) RotateInverse(v Vec3) Vec3 {
	return q.Conj().Rotate(v)
}
