// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package geom

import "math"

// Mat3 is a row-major 3x3 matrix, used for rotation matrices recovered
// from vanishing points, essential-matrix decomposition, and Kabsch
// alignment, where an explicit matrix is more convenient than a
// quaternion.
type Mat3 struct {
	M [3][3]float64
}

// Identity3 returns the 3x3 identity matrix.
func Identity3() Mat3 {
	var m Mat3
	m.M[0][0], m.M[1][1], m.M[2][2] = 1, 1, 1
	return m
}

// MulVec returns m applied to column vector v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		m.M[0][0]*v.X + m.M[0][1]*v.Y + m.M[0][2]*v.Z,
		m.M[1][0]*v.X + m.M[1][1]*v.Y + m.M[1][2]*v.Z,
		m.M[2][0]*v.X + m.M[2][1]*v.Y + m.M[2][2]*v.Z,
	}
}

// Mul returns the matrix product m*a.
func (m Mat3) Mul(a Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s := 0.0
			for k := 0; k < 3; k++ {
				s += m.M[i][k] * a.M[k][j]
			}
			r.M[i][j] = s
		}
	}
	return r
}

// Transpose returns the transpose of m.
func (m Mat3) Transpose() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.M[i][j] = m.M[j][i]
		}
	}
	return r
}

// Det returns the determinant of m.
func (m Mat3) Det() float64 {
	return m.M[0][0]*(m.M[1][1]*m.M[2][2]-m.M[1][2]*m.M[2][1]) -
		m.M[0][1]*(m.M[1][0]*m.M[2][2]-m.M[1][2]*m.M[2][0]) +
		m.M[0][2]*(m.M[1][0]*m.M[2][1]-m.M[1][1]*m.M[2][0])
}

// ToQuat converts a proper rotation matrix to a unit quaternion.
func (m Mat3) ToQuat() Quat {
	tr := m.M[0][0] + m.M[1][1] + m.M[2][2]
	var q Quat
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q.W = 0.25 * s
		q.X = (m.M[2][1] - m.M[1][2]) / s
		q.Y = (m.M[0][2] - m.M[2][0]) / s
		q.Z = (m.M[1][0] - m.M[0][1]) / s
	case m.M[0][0] > m.M[1][1] && m.M[0][0] > m.M[2][2]:
		s := math.Sqrt(1+m.M[0][0]-m.M[1][1]-m.M[2][2]) * 2
		q.W = (m.M[2][1] - m.M[1][2]) / s
		q.X = 0.25 * s
		q.Y = (m.M[0][1] + m.M[1][0]) / s
		q.Z = (m.M[0][2] + m.M[2][0]) / s
	case m.M[1][1] > m.M[2][2]:
		s := math.Sqrt(1+m.M[1][1]-m.M[0][0]-m.M[2][2]) * 2
		q.W = (m.M[0][2] - m.M[2][0]) / s
		q.X = (m.M[0][1] + m.M[1][0]) / s
		q.Y = 0.25 * s
		q.Z = (m.M[1][2] + m.M[2][1]) / s
	default:
		s := math.Sqrt(1+m.M[2][2]-m.M[0][0]-m.M[1][1]) * 2
		q.W = (m.M[1][0] - m.M[0][1]) / s
		q.X = (m.M[0][2] + m.M[2][0]) / s
		q.Y = (m.M[1][2] + m.M[2][1]) / s
		q.Z = 0.25 * s
	}
	return q.Unit()
}

// ToMat3 converts a unit quaternion to a rotation matrix.
func (q Quat) ToMat3() Mat3 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	var m Mat3
	m.M[0][0] = 1 - 2*(y*y+z*z)
	m.M[0][1] = 2 * (x*y - z*w)
	m.M[0][2] = 2 * (x*z + y*w)
	m.M[1][0] = 2 * (x*y + z*w)
	m.M[1][1] = 1 - 2*(x*x+z*z)
	m.M[1][2] = 2 * (y*z - x*w)
	m.M[2][0] = 2 * (x*z - y*w)
	m.M[2][1] = 2 * (y*z + x*w)
	m.M[2][2] = 1 - 2*(x*x+y*y)
	return m
}
