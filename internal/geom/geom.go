// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package geom provides the CPU-based 3D linear algebra used throughout
// the solver: vectors, quaternions, a 3x3 rotation matrix, and a combined
// location+orientation transform.
//
// The types are small value structs: operations take value receivers
// and return their result as a new value (v.Add(a) returns v+a and
// leaves v unchanged), so no heap allocation is involved. Vec3.Set is
// the one pointer-receiver method that assigns in place.
package geom

import "math"

// Useful constants mirroring spec.md's radian/degree conventions.
const (
	Pi      = math.Pi
	TwoPi   = Pi * 2
	DegRad  = TwoPi / 360.0
	RadDeg  = 360.0 / TwoPi
	Epsilon = 1e-10
)

// Rad converts degrees to radians.
func Rad(deg float64) float64 { return deg * DegRad }

// Deg converts radians to degrees.
func Deg(rad float64) float64 { return rad * RadDeg }

// Aeq (~=) reports whether a and b are close enough that floating point
// noise should not distinguish them.
func Aeq(a, b float64) bool { return math.Abs(a-b) < Epsilon }

// AeqTol reports whether a and b are within the given absolute tolerance.
func AeqTol(a, b, tol float64) bool { return math.Abs(a-b) < tol }
