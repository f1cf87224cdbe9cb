// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package geom

import "math"

// Vec3 is a 3 element vector. It is also used as a point.
type Vec3 struct {
	X, Y, Z float64
}

// V3 is a convenience constructor.
func V3(x, y, z float64) Vec3 { return Vec3{x, y, z} }

// Eq (==) reports whether v and a have identical components.
func (v Vec3) Eq(a Vec3) bool { return v.X == a.X && v.Y == a.Y && v.Z == a.Z }

// Aeq (~=) reports whether v and a are almost equal.
func (v Vec3) Aeq(a Vec3) bool { return Aeq(v.X, a.X) && Aeq(v.Y, a.Y) && Aeq(v.Z, a.Z) }

// Set assigns v's components from x, y, z and returns v.
func (v *Vec3) Set(x, y, z float64) *Vec3 {
	v.X, v.Y, v.Z = x, y, z
	return v
}

// Add (+) returns the componentwise sum of v and a.
func (v Vec3) Add(a Vec3) Vec3 { return Vec3{v.X + a.X, v.Y + a.Y, v.Z + a.Z} }

// Sub (-) returns the componentwise difference v - a.
func (v Vec3) Sub(a Vec3) Vec3 { return Vec3{v.X - a.X, v.Y - a.Y, v.Z - a.Z} }

// Neg returns the negation of v.
func (v Vec3) Neg() Vec3 { return Vec3{-v.X, -v.Y, -v.Z} }

// Scale (*) returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot (.) returns the dot product of v and a.
func (v Vec3) Dot(a Vec3) float64 { return v.X*a.X + v.Y*a.Y + v.Z*a.Z }

// Cross (x) returns the cross product v x a.
func (v Vec3) Cross(a Vec3) Vec3 {
	return Vec3{
		v.Y*a.Z - v.Z*a.Y,
		v.Z*a.X - v.X*a.Z,
		v.X*a.Y - v.Y*a.X,
	}
}

// LenSqr returns the squared length of v.
func (v Vec3) LenSqr() float64 { return v.Dot(v) }

// Len returns the length of v.
func (v Vec3) Len() float64 { return math.Sqrt(v.LenSqr()) }

// Dist returns the distance between v and a.
func (v Vec3) Dist(a Vec3) float64 { return v.Sub(a).Len() }

// Unit returns v normalized to length 1. The zero vector is returned
// unchanged if v is (near) zero length.
func (v Vec3) Unit() Vec3 {
	l := v.Len()
	if l < Epsilon {
		return v
	}
	return v.Scale(1 / l)
}

// Ang returns the unsigned angle in radians between v and a.
func (v Vec3) Ang(a Vec3) float64 {
	denom := v.Len() * a.Len()
	if denom < Epsilon {
		return 0
	}
	cosA := v.Dot(a) / denom
	if cosA > 1 {
		cosA = 1
	} else if cosA < -1 {
		cosA = -1
	}
	return math.Acos(cosA)
}

// Lerp linearly interpolates between v and a by fraction t in [0,1].
func (v Vec3) Lerp(a Vec3, t float64) Vec3 {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Vec3{
		v.X + t*(a.X-v.X),
		v.Y + t*(a.Y-v.Y),
		v.Z + t*(a.Z-v.Z),
	}
}

// IsFinite reports whether all components of v are finite (no NaN/Inf).
func (v Vec3) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}

// Get returns the component at index i (0=X, 1=Y, 2=Z).
func (v Vec3) Get(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	case 2:
		return v.Z
	}
	panic("geom: Vec3.Get index out of range")
}
