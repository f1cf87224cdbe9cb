// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package jacobian

import (
	"math"

	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// distanceProvider implements DistancePointPoint: ||B-A|| - d.
type distanceProvider struct {
	base
	layout     *VariableLayout
	a, b       model.WorldPointID
	target     float64
}

func newDistanceProvider(l *VariableLayout, id int, a, b model.WorldPointID, target float64) *distanceProvider {
	idxA, idxB := l.PointIndices(a), l.PointIndices(b)
	return &distanceProvider{base: base{id: id, vars: uniqueIndices(idxA[:], idxB[:])}, layout: l, a: a, b: b, target: target}
}

func (p *distanceProvider) ResidualCount() int { return 1 }
func (p *distanceProvider) ComputeResiduals(x []float64) []float64 {
	a, b := p.layout.PointVec3(x, p.a), p.layout.PointVec3(x, p.b)
	return []float64{b.Dist(a) - p.target}
}
func (p *distanceProvider) ComputeJacobian(x []float64) []Entry {
	a, b := p.layout.PointVec3(x, p.a), p.layout.PointVec3(x, p.b)
	g, ok := distanceGradient(a, b)
	if !ok {
		return numericalJacobian(p, x)
	}
	var out []Entry
	out = appendVecEntries(out, 0, p.layout.PointIndices(p.a), g.Neg())
	out = appendVecEntries(out, 0, p.layout.PointIndices(p.b), g)
	return out
}

// angleProvider implements AnglePointPointPoint: angle(A-V,C-V) - theta.
type angleProvider struct {
	base
	layout          *VariableLayout
	a, vertex, c    model.WorldPointID
	targetRad       float64
}

func newAngleProvider(l *VariableLayout, id int, a, vertex, c model.WorldPointID, targetDeg float64) *angleProvider {
	ia, iv, ic := l.PointIndices(a), l.PointIndices(vertex), l.PointIndices(c)
	return &angleProvider{base: base{id: id, vars: uniqueIndices(ia[:], iv[:], ic[:])}, layout: l, a: a, vertex: vertex, c: c, targetRad: geom.Rad(targetDeg)}
}

func (p *angleProvider) ResidualCount() int { return 1 }
func (p *angleProvider) ComputeResiduals(x []float64) []float64 {
	a, v, c := p.layout.PointVec3(x, p.a), p.layout.PointVec3(x, p.vertex), p.layout.PointVec3(x, p.c)
	ang := a.Sub(v).Ang(c.Sub(v))
	return []float64{ang - p.targetRad}
}
func (p *angleProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// fixedPointProvider implements FixedPoint: componentwise P-T.
type fixedPointProvider struct {
	base
	layout *VariableLayout
	point  model.WorldPointID
	target geom.Vec3
}

func newFixedPointProvider(l *VariableLayout, id int, point model.WorldPointID, target geom.Vec3) *fixedPointProvider {
	idx := l.PointIndices(point)
	return &fixedPointProvider{base: base{id: id, vars: uniqueIndices(idx[:])}, layout: l, point: point, target: target}
}

func (p *fixedPointProvider) ResidualCount() int { return 3 }
func (p *fixedPointProvider) ComputeResiduals(x []float64) []float64 {
	pt := p.layout.PointVec3(x, p.point)
	return []float64{pt.X - p.target.X, pt.Y - p.target.Y, pt.Z - p.target.Z}
}
func (p *fixedPointProvider) ComputeJacobian(x []float64) []Entry {
	idx := p.layout.PointIndices(p.point)
	var out []Entry
	for i := 0; i < 3; i++ {
		if idx[i] != unassigned {
			out = append(out, Entry{Row: i, Col: idx[i], Value: 1})
		}
	}
	return out
}

// collinearProvider implements one extra point's 3 residuals:
// cross(P1-P0, Pi-P0).
type collinearProvider struct {
	base
	layout   *VariableLayout
	p0, p1, pi model.WorldPointID
}

func newCollinearProvider(l *VariableLayout, id int, p0, p1, pi model.WorldPointID) *collinearProvider {
	i0, i1, ii := l.PointIndices(p0), l.PointIndices(p1), l.PointIndices(pi)
	return &collinearProvider{base: base{id: id, vars: uniqueIndices(i0[:], i1[:], ii[:])}, layout: l, p0: p0, p1: p1, pi: pi}
}

func (p *collinearProvider) ResidualCount() int { return 3 }
func (p *collinearProvider) ComputeResiduals(x []float64) []float64 {
	p0, p1, pi := p.layout.PointVec3(x, p.p0), p.layout.PointVec3(x, p.p1), p.layout.PointVec3(x, p.pi)
	cr := p1.Sub(p0).Cross(pi.Sub(p0))
	return []float64{cr.X, cr.Y, cr.Z}
}
func (p *collinearProvider) ComputeJacobian(x []float64) []Entry {
	if operandsShareVariable(p.layout, p.p0, p.p1, p.pi) {
		return numericalJacobian(p, x)
	}
	p0, p1, pi := p.layout.PointVec3(x, p.p0), p.layout.PointVec3(x, p.p1), p.layout.PointVec3(x, p.pi)
	u := p1.Sub(p0)
	w := pi.Sub(p0)
	var out []Entry
	out = crossEntries(out, p.layout.PointIndices(p.p1), w.Neg())
	out = crossEntries(out, p.layout.PointIndices(p.pi), u)
	out = crossEntries(out, p.layout.PointIndices(p.p0), w.Sub(u))
	return out
}

// coplanarProvider implements one extra point's signed-distance
// residual against the base triangle p0,p1,p2 (spec.md §4.2, §9).
type coplanarProvider struct {
	base
	layout       *VariableLayout
	p0, p1, p2, pi model.WorldPointID
}

func newCoplanarProvider(l *VariableLayout, id int, p0, p1, p2, pi model.WorldPointID) *coplanarProvider {
	i0, i1, i2, ii := l.PointIndices(p0), l.PointIndices(p1), l.PointIndices(p2), l.PointIndices(pi)
	return &coplanarProvider{base: base{id: id, vars: uniqueIndices(i0[:], i1[:], i2[:], ii[:])}, layout: l, p0: p0, p1: p1, p2: p2, pi: pi}
}

func (p *coplanarProvider) ResidualCount() int { return 1 }
func (p *coplanarProvider) ComputeResiduals(x []float64) []float64 {
	p0, p1, p2, pi := p.layout.PointVec3(x, p.p0), p.layout.PointVec3(x, p.p1), p.layout.PointVec3(x, p.p2), p.layout.PointVec3(x, p.pi)
	normal := p1.Sub(p0).Cross(p2.Sub(p0))
	normMag := math.Sqrt(normal.LenSqr() + 1e-10)
	return []float64{normal.Dot(pi.Sub(p0)) / normMag}
}
func (p *coplanarProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// lineDirectionProvider resolves a model.Line's normalized direction
// from its two endpoints, shared by parallel/perpendicular providers.
type lineDirectionProvider struct {
	layout *VariableLayout
	a, b   model.WorldPointID
}

func (l lineDirectionProvider) direction(x []float64) geom.Vec3 {
	a, b := l.layout.PointVec3(x, l.a), l.layout.PointVec3(x, l.b)
	return b.Sub(a).Unit()
}

// parallelProvider implements ParallelLines: cross(dirA, dirB).
type parallelProvider struct {
	base
	dirA, dirB lineDirectionProvider
}

func newParallelProvider(l *VariableLayout, id int, proj *model.Project, lineA, lineB model.LineID) *parallelProvider {
	la, lb := proj.Line(lineA), proj.Line(lineB)
	dirA := lineDirectionProvider{layout: l, a: la.PointA, b: la.PointB}
	dirB := lineDirectionProvider{layout: l, a: lb.PointA, b: lb.PointB}
	ia0, ia1 := l.PointIndices(la.PointA), l.PointIndices(la.PointB)
	ib0, ib1 := l.PointIndices(lb.PointA), l.PointIndices(lb.PointB)
	return &parallelProvider{base: base{id: id, vars: uniqueIndices(ia0[:], ia1[:], ib0[:], ib1[:])}, dirA: dirA, dirB: dirB}
}

func (p *parallelProvider) ResidualCount() int { return 3 }
func (p *parallelProvider) ComputeResiduals(x []float64) []float64 {
	cr := p.dirA.direction(x).Cross(p.dirB.direction(x))
	return []float64{cr.X, cr.Y, cr.Z}
}
func (p *parallelProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// perpendicularProvider implements PerpendicularLines: dot(dirA, dirB).
type perpendicularProvider struct {
	base
	dirA, dirB lineDirectionProvider
}

func newPerpendicularProvider(l *VariableLayout, id int, proj *model.Project, lineA, lineB model.LineID) *perpendicularProvider {
	la, lb := proj.Line(lineA), proj.Line(lineB)
	dirA := lineDirectionProvider{layout: l, a: la.PointA, b: la.PointB}
	dirB := lineDirectionProvider{layout: l, a: lb.PointA, b: lb.PointB}
	ia0, ia1 := l.PointIndices(la.PointA), l.PointIndices(la.PointB)
	ib0, ib1 := l.PointIndices(lb.PointA), l.PointIndices(lb.PointB)
	return &perpendicularProvider{base: base{id: id, vars: uniqueIndices(ia0[:], ia1[:], ib0[:], ib1[:])}, dirA: dirA, dirB: dirB}
}

func (p *perpendicularProvider) ResidualCount() int { return 1 }
func (p *perpendicularProvider) ComputeResiduals(x []float64) []float64 {
	return []float64{p.dirA.direction(x).Dot(p.dirB.direction(x))}
}
func (p *perpendicularProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// equalDistancesProvider implements EqualDistances: dist_i - dist_0 for
// every pair after the first.
type equalDistancesProvider struct {
	base
	layout *VariableLayout
	pairs  [][2]model.WorldPointID
}

func newEqualDistancesProvider(l *VariableLayout, id int, pairs [][2]model.WorldPointID) *equalDistancesProvider {
	var groups [][]int
	for _, pr := range pairs {
		i0, i1 := l.PointIndices(pr[0]), l.PointIndices(pr[1])
		groups = append(groups, i0[:], i1[:])
	}
	return &equalDistancesProvider{base: base{id: id, vars: uniqueIndices(groups...)}, layout: l, pairs: pairs}
}

func (p *equalDistancesProvider) ResidualCount() int { return len(p.pairs) - 1 }
func (p *equalDistancesProvider) ComputeResiduals(x []float64) []float64 {
	dists := make([]float64, len(p.pairs))
	for i, pr := range p.pairs {
		a, b := p.layout.PointVec3(x, pr[0]), p.layout.PointVec3(x, pr[1])
		dists[i] = b.Dist(a)
	}
	out := make([]float64, len(dists)-1)
	for i := 1; i < len(dists); i++ {
		out[i-1] = dists[i] - dists[0]
	}
	return out
}
func (p *equalDistancesProvider) ComputeJacobian(x []float64) []Entry {
	grads := make([]geom.Vec3, len(p.pairs))
	for i, pr := range p.pairs {
		a, b := p.layout.PointVec3(x, pr[0]), p.layout.PointVec3(x, pr[1])
		g, ok := distanceGradient(a, b)
		if !ok {
			return numericalJacobian(p, x)
		}
		grads[i] = g
	}
	// Pairs may share points (a triangle's three sides), so each row
	// accumulates per column instead of emitting directly.
	var out []Entry
	for row := 0; row+1 < len(p.pairs); row++ {
		acc := rowAccum{}
		pi := p.pairs[row+1]
		acc.addVec(p.layout.PointIndices(pi[1]), grads[row+1])
		acc.addVec(p.layout.PointIndices(pi[0]), grads[row+1].Neg())
		p0 := p.pairs[0]
		acc.addVec(p.layout.PointIndices(p0[1]), grads[0].Neg())
		acc.addVec(p.layout.PointIndices(p0[0]), grads[0])
		out = acc.emit(out, row)
	}
	return out
}

// equalAnglesProvider implements EqualAngles: angle_i - angle_0 for
// every triplet after the first.
type equalAnglesProvider struct {
	base
	layout   *VariableLayout
	triplets [][3]model.WorldPointID
}

func newEqualAnglesProvider(l *VariableLayout, id int, triplets [][3]model.WorldPointID) *equalAnglesProvider {
	var groups [][]int
	for _, tr := range triplets {
		i0, i1, i2 := l.PointIndices(tr[0]), l.PointIndices(tr[1]), l.PointIndices(tr[2])
		groups = append(groups, i0[:], i1[:], i2[:])
	}
	return &equalAnglesProvider{base: base{id: id, vars: uniqueIndices(groups...)}, layout: l, triplets: triplets}
}

func (p *equalAnglesProvider) ResidualCount() int { return len(p.triplets) - 1 }
func (p *equalAnglesProvider) ComputeResiduals(x []float64) []float64 {
	angles := make([]float64, len(p.triplets))
	for i, tr := range p.triplets {
		a, v, c := p.layout.PointVec3(x, tr[0]), p.layout.PointVec3(x, tr[1]), p.layout.PointVec3(x, tr[2])
		angles[i] = a.Sub(v).Ang(c.Sub(v))
	}
	out := make([]float64, len(angles)-1)
	for i := 1; i < len(angles); i++ {
		out[i-1] = angles[i] - angles[0]
	}
	return out
}
func (p *equalAnglesProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// lineLengthProvider implements a Line's optional TargetLength:
// ||PointB-PointA|| - targetLength.
type lineLengthProvider struct {
	base
	layout *VariableLayout
	a, b   model.WorldPointID
	target float64
}

func newLineLengthProvider(l *VariableLayout, id int, a, b model.WorldPointID, target float64) *lineLengthProvider {
	ia, ib := l.PointIndices(a), l.PointIndices(b)
	return &lineLengthProvider{base: base{id: id, vars: uniqueIndices(ia[:], ib[:])}, layout: l, a: a, b: b, target: target}
}

func (p *lineLengthProvider) ResidualCount() int { return 1 }
func (p *lineLengthProvider) ComputeResiduals(x []float64) []float64 {
	a, b := p.layout.PointVec3(x, p.a), p.layout.PointVec3(x, p.b)
	return []float64{b.Dist(a) - p.target}
}
func (p *lineLengthProvider) ComputeJacobian(x []float64) []Entry {
	a, b := p.layout.PointVec3(x, p.a), p.layout.PointVec3(x, p.b)
	g, ok := distanceGradient(a, b)
	if !ok {
		return numericalJacobian(p, x)
	}
	var out []Entry
	out = appendVecEntries(out, 0, p.layout.PointIndices(p.a), g.Neg())
	out = appendVecEntries(out, 0, p.layout.PointIndices(p.b), g)
	return out
}

// lineAxisProvider implements a Line's axis-direction tag: the
// direction PointB-PointA should align with the named world axis,
// expressed as the two components of the direction orthogonal to that
// axis (zero when perfectly aligned), or lie in the named plane,
// expressed as the one component normal to that plane.
type lineAxisProvider struct {
	base
	layout   *VariableLayout
	a, b     model.WorldPointID
	axis     model.AxisTag
}

func newLineAxisProvider(l *VariableLayout, id int, a, b model.WorldPointID, axis model.AxisTag) *lineAxisProvider {
	ia, ib := l.PointIndices(a), l.PointIndices(b)
	return &lineAxisProvider{base: base{id: id, vars: uniqueIndices(ia[:], ib[:])}, layout: l, a: a, b: b, axis: axis}
}

func (p *lineAxisProvider) ResidualCount() int {
	switch p.axis {
	case model.AxisX, model.AxisY, model.AxisZ:
		return 2
	default:
		return 1
	}
}

func (p *lineAxisProvider) ComputeResiduals(x []float64) []float64 {
	dir := p.layout.PointVec3(x, p.b).Sub(p.layout.PointVec3(x, p.a)).Unit()
	switch p.axis {
	case model.AxisX:
		return []float64{dir.Y, dir.Z}
	case model.AxisY:
		return []float64{dir.X, dir.Z}
	case model.AxisZ:
		return []float64{dir.X, dir.Y}
	case model.AxisXY:
		return []float64{dir.Z}
	case model.AxisXZ:
		return []float64{dir.Y}
	case model.AxisYZ:
		return []float64{dir.X}
	default:
		return []float64{0}
	}
}
func (p *lineAxisProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// coincidentProvider implements one point asserted to lie on a line:
// the three components of its perpendicular offset from the line
// through a,b.
type coincidentProvider struct {
	base
	layout *VariableLayout
	a, b, p model.WorldPointID
}

func newCoincidentProvider(l *VariableLayout, id int, a, b, p model.WorldPointID) *coincidentProvider {
	ia, ib, ip := l.PointIndices(a), l.PointIndices(b), l.PointIndices(p)
	return &coincidentProvider{base: base{id: id, vars: uniqueIndices(ia[:], ib[:], ip[:])}, layout: l, a: a, b: b, p: p}
}

func (c *coincidentProvider) ResidualCount() int { return 3 }
func (c *coincidentProvider) ComputeResiduals(x []float64) []float64 {
	a, b, p := c.layout.PointVec3(x, c.a), c.layout.PointVec3(x, c.b), c.layout.PointVec3(x, c.p)
	dir := b.Sub(a).Unit()
	toP := p.Sub(a)
	along := dir.Scale(toP.Dot(dir))
	perp := toP.Sub(along)
	return []float64{perp.X, perp.Y, perp.Z}
}
func (c *coincidentProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(c, x) }

// reprojectionProvider implements the projection residual: projected
// pixel - observed pixel, optionally including a focal-length column
// when intrinsics are being optimized (spec.md §4.3, §4.4).
type reprojectionProvider struct {
	base
	layout *VariableLayout
	proj   *model.Project
	wp     model.WorldPointID
	vp     model.ViewpointID
	u, v   float64
	weight float64
}

func newReprojectionProvider(l *VariableLayout, id int, proj *model.Project, wp model.WorldPointID, vp model.ViewpointID, u, v, weight float64) *reprojectionProvider {
	ip := l.PointIndices(wp)
	pos, rot, _ := l.CameraPoseIndices(vp)
	focal, _ := l.CameraFocalIndex(vp)
	vars := uniqueIndices(ip[:], pos[:], rot[:], []int{focal})
	return &reprojectionProvider{base: base{id: id, vars: vars}, layout: l, proj: proj, wp: wp, vp: vp, u: u, v: v, weight: weight}
}

func (p *reprojectionProvider) ResidualCount() int { return 2 }
func (p *reprojectionProvider) ComputeResiduals(x []float64) []float64 {
	world := p.layout.PointVec3(x, p.wp)
	pose := p.layout.CameraPose(x, p.proj, p.vp)
	vp := p.proj.Viewpoint(p.vp)
	intr := vp.Intrinsics
	intr.FocalLength = p.layout.CameraFocal(x, p.proj, p.vp)
	pu, pv, ok := camera.Project(world, pose, intr, vp.IsZReflected)
	if !ok {
		return []float64{1000, 1000}
	}
	return []float64{(pu - p.u) * p.weight, (pv - p.v) * p.weight}
}
func (p *reprojectionProvider) ComputeJacobian(x []float64) []Entry { return p.analyticJacobian(x) }

// vanishingPointProvider implements one axis's vanishing-point
// constraint for a single viewpoint. It is not added to the general
// solve's provider list and nothing in this module constructs one; it
// shares this package's Provider shape.
type vanishingPointProvider struct {
	base
	layout    *VariableLayout
	vp        model.ViewpointID
	targetU   float64
	targetV   float64
	proj      *model.Project
}

func newVanishingPointProvider(l *VariableLayout, id int, proj *model.Project, vp model.ViewpointID, u, v float64) *vanishingPointProvider {
	pos, rot, _ := l.CameraPoseIndices(vp)
	return &vanishingPointProvider{base: base{id: id, vars: uniqueIndices(pos[:], rot[:])}, layout: l, vp: vp, targetU: u, targetV: v, proj: proj}
}

func (p *vanishingPointProvider) ResidualCount() int { return 2 }
func (p *vanishingPointProvider) ComputeResiduals(x []float64) []float64 {
	pose := p.layout.CameraPose(x, p.proj, p.vp)
	vp := p.proj.Viewpoint(p.vp)
	// A vanishing point is the projection of a point infinitely far
	// along the axis direction; approximate with a point far along the
	// camera's local forward axis rotated into world space.
	far := pose.ToWorld(geom.V3(0, 0, 1e6))
	u, v, ok := camera.Project(far, pose, vp.Intrinsics, vp.IsZReflected)
	if !ok {
		return []float64{1000, 1000}
	}
	return []float64{u - p.targetU, v - p.targetV}
}
func (p *vanishingPointProvider) ComputeJacobian(x []float64) []Entry { return numericalJacobian(p, x) }

// quaternionNormProvider implements the regularization residual
// w^2+x^2+y^2+z^2-1 for one optimized camera (spec.md §4.4).
type quaternionNormProvider struct {
	base
	layout *VariableLayout
	vp     model.ViewpointID
	weight float64
}

func newQuaternionNormProvider(l *VariableLayout, id int, vp model.ViewpointID, weight float64) *quaternionNormProvider {
	_, rot, _ := l.CameraPoseIndices(vp)
	return &quaternionNormProvider{base: base{id: id, vars: uniqueIndices(rot[:])}, layout: l, vp: vp, weight: weight}
}

func (p *quaternionNormProvider) ResidualCount() int { return 1 }
func (p *quaternionNormProvider) ComputeResiduals(x []float64) []float64 {
	_, rot, optimized := p.layout.CameraPoseIndices(p.vp)
	if !optimized {
		return []float64{0}
	}
	w, xr, y, z := x[rot[0]], x[rot[1]], x[rot[2]], x[rot[3]]
	return []float64{(w*w + xr*xr + y*y + z*z - 1) * p.weight}
}
func (p *quaternionNormProvider) ComputeJacobian(x []float64) []Entry {
	_, rot, optimized := p.layout.CameraPoseIndices(p.vp)
	if !optimized {
		return nil
	}
	out := make([]Entry, 0, 4)
	for k := 0; k < 4; k++ {
		if rot[k] != unassigned {
			out = append(out, Entry{Row: 0, Col: rot[k], Value: 2 * x[rot[k]] * p.weight})
		}
	}
	return out
}
