// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// analytic.go holds the closed-form Jacobian machinery shared by the
// providers: per-row accumulation (operands may share variables, e.g.
// equal-distance pairs over a triangle), the cross-product partials
// used by the collinear rows, and the full reprojection chain through
// quaternion normalization, rotation, perspective division, distortion,
// and the intrinsic matrix.

package jacobian

import (
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// rowAccum accumulates one residual row's partials by column so that a
// variable touched through two operands sums instead of overwriting.
type rowAccum map[int]float64

func (r rowAccum) addVec(idx [3]int, g geom.Vec3) {
	for i := 0; i < 3; i++ {
		if idx[i] != unassigned {
			r[idx[i]] += g.Get(i)
		}
	}
}

func (r rowAccum) add(col int, v float64) {
	if col != unassigned {
		r[col] += v
	}
}

func (r rowAccum) emit(entries []Entry, row int) []Entry {
	for col, v := range r {
		if v != 0 {
			entries = append(entries, Entry{Row: row, Col: col, Value: v})
		}
	}
	return entries
}

// appendVecEntries writes one row's partials for a single point's three
// axes, skipping locked (constant-slot) axes and exact zeros.
func appendVecEntries(entries []Entry, row int, idx [3]int, g geom.Vec3) []Entry {
	for i := 0; i < 3; i++ {
		if idx[i] != unassigned && g.Get(i) != 0 {
			entries = append(entries, Entry{Row: row, Col: idx[i], Value: g.Get(i)})
		}
	}
	return entries
}

// distanceGradient returns d||B-A||/dB (the unit vector from A to B);
// the partial with respect to A is its negation. ok is false at zero
// separation, where the length is not differentiable.
func distanceGradient(a, b geom.Vec3) (geom.Vec3, bool) {
	diff := b.Sub(a)
	l := diff.Len()
	if l < 1e-12 {
		return geom.Vec3{}, false
	}
	return diff.Scale(1 / l), true
}

// crossEntries writes the three rows of d(cross)/dP = [m]x applied as
// row r of the provider block: row component k of a x p has partials
// given by the skew-symmetric matrix of m.
//
// For r = u x w (u = P1-P0, w = Pi-P0):
//
//	dr/dP1 = -[w]x, dr/dPi = [u]x, dr/dP0 = [w-u]x
//
// where [a]x b = a x b.
func crossEntries(entries []Entry, idx [3]int, m geom.Vec3) []Entry {
	rows := [3][3]float64{
		{0, -m.Z, m.Y},
		{m.Z, 0, -m.X},
		{-m.Y, m.X, 0},
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			if idx[col] != unassigned && rows[row][col] != 0 {
				entries = append(entries, Entry{Row: row, Col: idx[col], Value: rows[row][col]})
			}
		}
	}
	return entries
}

// mat34 is the 3x4 partial of a camera-frame point with respect to the
// raw quaternion components (w, x, y, z order).
type mat34 [3][4]float64

// rotateInversePartials returns the partials of g(q) = R(q)^T d (the
// world-to-camera rotation of d by unit quaternion q) with respect to
// q's four components, for unit q:
//
//	dg/dw = -2 (v x d)
//	dg/dv = 2w[d]x - 2[v x d]x + 2(v.d)I - 2 d v^T
//
// with v = (qx, qy, qz), derived from g = d - 2w(v x d) + 2 v x (v x d).
func rotateInversePartials(q geom.Quat, d geom.Vec3) mat34 {
	v := geom.V3(q.X, q.Y, q.Z)
	vxd := v.Cross(d)
	var out mat34
	dw := vxd.Scale(-2)
	out[0][0], out[1][0], out[2][0] = dw.X, dw.Y, dw.Z

	vd := v.Dot(d)
	dM := [3][3]float64{ // [d]x
		{0, -d.Z, d.Y},
		{d.Z, 0, -d.X},
		{-d.Y, d.X, 0},
	}
	cM := [3][3]float64{ // [v x d]x
		{0, -vxd.Z, vxd.Y},
		{vxd.Z, 0, -vxd.X},
		{-vxd.Y, vxd.X, 0},
	}
	dv := [3]float64{d.X, d.Y, d.Z}
	vv := [3]float64{v.X, v.Y, v.Z}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			val := 2*q.W*dM[r][c] - 2*cM[r][c] - 2*dv[r]*vv[c]
			if r == c {
				val += 2 * vd
			}
			out[r][c+1] = val
		}
	}
	return out
}

// chainNormalization folds d(q/|q|)/dq = (I - qq^T)/|q| into the
// partials taken at the normalized quaternion.
func chainNormalization(g mat34, raw geom.Quat) mat34 {
	l := raw.Len()
	if l < 1e-12 {
		return mat34{}
	}
	u := [4]float64{raw.W / l, raw.X / l, raw.Y / l, raw.Z / l}
	var out mat34
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				n := -u[k] * u[c]
				if k == c {
					n++
				}
				sum += g[r][k] * n
			}
			out[r][c] = sum / l
		}
	}
	return out
}

// distortionPartials returns the 2x2 Jacobian of the distorted
// normalized coordinates with respect to the ideal ones.
func distortionPartials(xp, yp float64, intr model.Intrinsics) (dxdxp, dxdyp, dydxp, dydyp float64) {
	r2 := xp*xp + yp*yp
	radial := 1 + intr.K1*r2 + intr.K2*r2*r2 + intr.K3*r2*r2*r2
	dr := intr.K1 + 2*intr.K2*r2 + 3*intr.K3*r2*r2
	dxdxp = radial + 2*xp*xp*dr + 2*intr.P1*yp + 6*intr.P2*xp
	dxdyp = 2*xp*yp*dr + 2*intr.P1*xp + 2*intr.P2*yp
	dydxp = dxdyp
	dydyp = radial + 2*yp*yp*dr + 6*intr.P1*yp + 2*intr.P2*xp
	return dxdxp, dxdyp, dydxp, dydyp
}

// analyticJacobian is the closed-form Jacobian of one image
// observation's two residuals: chain rule through world offset,
// quaternion rotation (with normalization), optional z reflection,
// perspective division, distortion, and the intrinsic matrix. A point
// behind the camera has the constant penalty residual, so its Jacobian
// is empty.
func (p *reprojectionProvider) analyticJacobian(x []float64) []Entry {
	vp := p.proj.Viewpoint(p.vp)
	intr := vp.Intrinsics
	intr.FocalLength = p.layout.CameraFocal(x, p.proj, p.vp)

	posIdx, rotIdx, optPose := p.layout.CameraPoseIndices(p.vp)
	focalIdx, optFocal := p.layout.CameraFocalIndex(p.vp)

	world := p.layout.PointVec3(x, p.wp)
	pose := p.layout.CameraPose(x, p.proj, p.vp)
	// CameraPose normalizes an optimized rotation; a stored (non
	// optimized) pose may carry an unnormalized quaternion, so match
	// the residual path's normalization here too.
	q := pose.Rot.Unit()
	diff := world.Sub(pose.Loc)

	cam := q.RotateInverse(diff)
	if vp.IsZReflected {
		cam.Z = -cam.Z
	}
	if cam.Z <= 0 {
		return nil
	}

	// Perspective division and distortion.
	xp, yp := cam.X/cam.Z, cam.Y/cam.Z
	z := cam.Z
	dxpCam := geom.V3(1/z, 0, -cam.X/(z*z))
	dypCam := geom.V3(0, 1/z, -cam.Y/(z*z))
	dxdxp, dxdyp, dydxp, dydyp := distortionPartials(xp, yp, intr)

	// Pixel rows in terms of the distorted coordinates.
	f, skew, aspect := intr.FocalLength, intr.Skew, intr.AspectRatio
	duCam := dxpCam.Scale(f*dxdxp + skew*dydxp).Add(dypCam.Scale(f*dxdyp + skew*dydyp))
	dvCam := dxpCam.Scale(f * aspect * dydxp).Add(dypCam.Scale(f * aspect * dydyp))

	// Camera-frame partials with respect to the world point: the
	// world-to-camera rotation, with the reflection folded in.
	rwc := q.ToMat3().Transpose()
	if vp.IsZReflected {
		for c := 0; c < 3; c++ {
			rwc.M[2][c] = -rwc.M[2][c]
		}
	}

	var entries []Entry
	wpIdx := p.layout.PointIndices(p.wp)
	for axis := 0; axis < 3; axis++ {
		camCol := geom.V3(rwc.M[0][axis], rwc.M[1][axis], rwc.M[2][axis])
		if wpIdx[axis] != unassigned {
			entries = append(entries,
				Entry{Row: 0, Col: wpIdx[axis], Value: p.weight * duCam.Dot(camCol)},
				Entry{Row: 1, Col: wpIdx[axis], Value: p.weight * dvCam.Dot(camCol)})
		}
		if optPose && posIdx[axis] != unassigned {
			entries = append(entries,
				Entry{Row: 0, Col: posIdx[axis], Value: -p.weight * duCam.Dot(camCol)},
				Entry{Row: 1, Col: posIdx[axis], Value: -p.weight * dvCam.Dot(camCol)})
		}
	}

	if optPose {
		raw := geom.Quat{W: x[rotIdx[0]], X: x[rotIdx[1]], Y: x[rotIdx[2]], Z: x[rotIdx[3]]}
		g := chainNormalization(rotateInversePartials(q, diff), raw)
		if vp.IsZReflected {
			for c := 0; c < 4; c++ {
				g[2][c] = -g[2][c]
			}
		}
		for c := 0; c < 4; c++ {
			camCol := geom.V3(g[0][c], g[1][c], g[2][c])
			entries = append(entries,
				Entry{Row: 0, Col: rotIdx[c], Value: p.weight * duCam.Dot(camCol)},
				Entry{Row: 1, Col: rotIdx[c], Value: p.weight * dvCam.Dot(camCol)})
		}
	}

	if optFocal && focalIdx != unassigned {
		xd, yd := xp, yp
		// Recompute the distorted coordinates for the focal column.
		r2 := xp*xp + yp*yp
		radial := 1 + intr.K1*r2 + intr.K2*r2*r2 + intr.K3*r2*r2*r2
		xd = xp*radial + 2*intr.P1*xp*yp + intr.P2*(r2+2*xp*xp)
		yd = yp*radial + intr.P1*(r2+2*yp*yp) + 2*intr.P2*xp*yp
		entries = append(entries,
			Entry{Row: 0, Col: focalIdx, Value: p.weight * xd},
			Entry{Row: 1, Col: focalIdx, Value: p.weight * aspect * yd})
	}
	return entries
}

// operandsShareVariable reports whether any optimization variable appears
// under more than one of the given points; the cross-product providers
// fall back to the numerical oracle in that degenerate case rather
// than emitting duplicate columns.
func operandsShareVariable(l *VariableLayout, pts ...model.WorldPointID) bool {
	seen := make(map[int]struct{})
	for _, pt := range pts {
		for _, idx := range l.PointIndices(pt) {
			if idx == unassigned {
				continue
			}
			if _, dup := seen[idx]; dup {
				return true
			}
			seen[idx] = struct{}{}
		}
	}
	return false
}
