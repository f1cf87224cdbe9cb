// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package autodiff

// Vec3 is a 3-component vector of tracked Values, used throughout the
// constraint residual methods (spec.md §4.2) for world point coordinates
// and camera-space directions.
type Vec3 struct {
	X, Y, Z Value
}

// NewVec3 lifts three plain numbers onto tape as a Vec3 of constants.
func NewVec3(t *Tape, x, y, z float64) Vec3 {
	return Vec3{t.C(x), t.C(y), t.C(z)}
}

// VarVec3 records three optimization-variable leaves as a Vec3.
func VarVec3(t *Tape, x, y, z float64) Vec3 {
	return Vec3{t.Var(x), t.Var(y), t.Var(z)}
}

// Add returns v+a.
func (v Vec3) Add(a Vec3) Vec3 { return Vec3{v.X.Add(a.X), v.Y.Add(a.Y), v.Z.Add(a.Z)} }

// Sub returns v-a.
func (v Vec3) Sub(a Vec3) Vec3 { return Vec3{v.X.Sub(a.X), v.Y.Sub(a.Y), v.Z.Sub(a.Z)} }

// Neg returns -v.
func (v Vec3) Neg() Vec3 { return Vec3{v.X.Neg(), v.Y.Neg(), v.Z.Neg()} }

// Scale returns v scaled by the plain scalar s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X.Scale(s), v.Y.Scale(s), v.Z.Scale(s)} }

// ScaleV returns v scaled by the tracked scalar s.
func (v Vec3) ScaleV(s Value) Vec3 { return Vec3{v.X.Mul(s), v.Y.Mul(s), v.Z.Mul(s)} }

// Dot returns the dot product of v and a.
func (v Vec3) Dot(a Vec3) Value {
	return v.X.Mul(a.X).Add(v.Y.Mul(a.Y)).Add(v.Z.Mul(a.Z))
}

// Cross returns the cross product v x a.
func (v Vec3) Cross(a Vec3) Vec3 {
	return Vec3{
		v.Y.Mul(a.Z).Sub(v.Z.Mul(a.Y)),
		v.Z.Mul(a.X).Sub(v.X.Mul(a.Z)),
		v.X.Mul(a.Y).Sub(v.Y.Mul(a.X)),
	}
}

// MagnitudeSqr returns the squared length of v.
func (v Vec3) MagnitudeSqr() Value { return v.Dot(v) }

// Magnitude returns the length of v. eps guards the sqrt derivative at
// (near) zero length, matching spec.md §4.2's ε=1e-10 convention for
// scale-stable gradients.
func (v Vec3) Magnitude(t *Tape) Value {
	return v.MagnitudeSqr().Add(t.C(1e-10)).Sqrt()
}

// AngleBetween returns the unsigned angle in radians between v and a.
func (v Vec3) AngleBetween(t *Tape, a Vec3) Value {
	denom := v.Magnitude(t).Mul(a.Magnitude(t))
	cosAngle := v.Dot(a).Div(denom)
	return cosAngle.Acos()
}

// Vec4 is a 4-component vector of tracked Values, used to hold a
// camera's quaternion rotation (w,x,y,z) as optimization variables.
type Vec4 struct {
	X, Y, Z, W Value
}

// VarVec4 records four optimization-variable leaves as a Vec4.
func VarVec4(t *Tape, x, y, z, w float64) Vec4 {
	return Vec4{t.Var(x), t.Var(y), t.Var(z), t.Var(w)}
}

// NormSqr returns the squared magnitude w^2+x^2+y^2+z^2, used by the
// quaternion-norm regularization residual.
func (q Vec4) NormSqr() Value {
	return q.W.Mul(q.W).Add(q.X.Mul(q.X)).Add(q.Y.Mul(q.Y)).Add(q.Z.Mul(q.Z))
}
