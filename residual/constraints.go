// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package residual

import (
	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// Distance returns the single residual ||B-A|| - d for a
// DistancePointPoint constraint. ok is false if either operand is
// missing from vm.
func Distance(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	a, okA := vm.Point(c.Points[0])
	b, okB := vm.Point(c.Points[1])
	if !okA || !okB {
		return nil, false
	}
	d := b.Sub(a).Magnitude(vm.Tape)
	return []autodiff.Value{d.AddC(-c.TargetDistance)}, true
}

// Angle returns the single residual angle(A-V, C-V) - theta, in
// radians, for an AnglePointPointPoint constraint. The stored target is
// in degrees and is converted here (spec.md §4.2).
func Angle(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	a, okA := vm.Point(c.Points[0])
	vtx, okV := vm.Point(c.Points[1])
	cc, okC := vm.Point(c.Points[2])
	if !okA || !okV || !okC {
		return nil, false
	}
	ang := a.Sub(vtx).AngleBetween(vm.Tape, cc.Sub(vtx))
	return []autodiff.Value{ang.AddC(-geom.Rad(c.TargetAngleDeg))}, true
}

// FixedPoint returns the three componentwise residuals P-T for a
// FixedPoint constraint.
func FixedPoint(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	p, okP := vm.Point(c.Points[0])
	if !okP {
		return nil, false
	}
	t := c.TargetXYZ
	return []autodiff.Value{
		p.X.AddC(-t.X),
		p.Y.AddC(-t.Y),
		p.Z.AddC(-t.Z),
	}, true
}

// Collinear returns three residuals per extra point: the components of
// cross(P1-P0, Pi-P0) for i>=2, chaining every point after the first
// two onto the line they define (spec.md §3).
func Collinear(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	pts := make([]autodiff.Vec3, len(c.Points))
	for i, id := range c.Points {
		p, okP := vm.Point(id)
		if !okP {
			return nil, false
		}
		pts[i] = p
	}
	base := pts[1].Sub(pts[0])
	for i := 2; i < len(pts); i++ {
		cr := base.Cross(pts[i].Sub(pts[0]))
		res = append(res, cr.X, cr.Y, cr.Z)
	}
	return res, true
}

// Coplanar returns one residual per extra point: its signed distance
// from the plane of the first three points, normalized by the
// base-triangle normal's magnitude (spec.md §4.2's eps=1e-10
// scale-stable form). This implementation uses the first three points
// as a fixed base for every extra point (spec.md §9 Open Question,
// resolved in DESIGN.md in favor of this over a rotating base).
func Coplanar(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	pts := make([]autodiff.Vec3, len(c.Points))
	for i, id := range c.Points {
		p, okP := vm.Point(id)
		if !okP {
			return nil, false
		}
		pts[i] = p
	}
	e1 := pts[1].Sub(pts[0])
	e2 := pts[2].Sub(pts[0])
	normal := e1.Cross(e2)
	normMag := normal.MagnitudeSqr().Add(vm.Tape.C(1e-10)).Sqrt()
	for i := 3; i < len(pts); i++ {
		signedDist := normal.Dot(pts[i].Sub(pts[0])).Div(normMag)
		res = append(res, signedDist)
	}
	return res, true
}

// Parallel returns the three components of cross(dirA, dirB) for two
// normalized line directions.
func Parallel(vm *ValueMap, proj *model.Project, c *model.Constraint) (res []autodiff.Value, ok bool) {
	dirA, dirB, ok := lineDirections(vm, proj, c)
	if !ok {
		return nil, false
	}
	cr := dirA.Cross(dirB)
	return []autodiff.Value{cr.X, cr.Y, cr.Z}, true
}

// Perpendicular returns the single residual dot(dirA, dirB) for two
// normalized line directions.
func Perpendicular(vm *ValueMap, proj *model.Project, c *model.Constraint) (res []autodiff.Value, ok bool) {
	dirA, dirB, ok := lineDirections(vm, proj, c)
	if !ok {
		return nil, false
	}
	return []autodiff.Value{dirA.Dot(dirB)}, true
}

func lineDirections(vm *ValueMap, proj *model.Project, c *model.Constraint) (dirA, dirB autodiff.Vec3, ok bool) {
	a0, a1, okA := vm.Line(proj, c.Lines[0])
	b0, b1, okB := vm.Line(proj, c.Lines[1])
	if !okA || !okB {
		return autodiff.Vec3{}, autodiff.Vec3{}, false
	}
	dirA = normalize(vm.Tape, a1.Sub(a0))
	dirB = normalize(vm.Tape, b1.Sub(b0))
	return dirA, dirB, true
}

func normalize(t *autodiff.Tape, v autodiff.Vec3) autodiff.Vec3 {
	mag := v.Magnitude(t)
	return v.ScaleV(t.C(1).Div(mag))
}

// EqualDistances returns one residual per pair after the first:
// ||pair_i|| - ||pair_0|| (spec.md §3).
func EqualDistances(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	dists := make([]autodiff.Value, len(c.PointPairs))
	for i, pr := range c.PointPairs {
		a, okA := vm.Point(pr[0])
		b, okB := vm.Point(pr[1])
		if !okA || !okB {
			return nil, false
		}
		dists[i] = b.Sub(a).Magnitude(vm.Tape)
	}
	for i := 1; i < len(dists); i++ {
		res = append(res, dists[i].Sub(dists[0]))
	}
	return res, true
}

// EqualAngles returns one residual per triplet after the first:
// angle_i - angle_0, in radians (spec.md §3).
func EqualAngles(vm *ValueMap, c *model.Constraint) (res []autodiff.Value, ok bool) {
	angles := make([]autodiff.Value, len(c.PointTriplets))
	for i, tr := range c.PointTriplets {
		a, okA := vm.Point(tr[0])
		vtx, okV := vm.Point(tr[1])
		cc, okC := vm.Point(tr[2])
		if !okA || !okV || !okC {
			return nil, false
		}
		angles[i] = a.Sub(vtx).AngleBetween(vm.Tape, cc.Sub(vtx))
	}
	for i := 1; i < len(angles); i++ {
		res = append(res, angles[i].Sub(angles[0]))
	}
	return res, true
}

// Build dispatches on c.Kind to the matching builder above. Constraint
// kinds that operate on lines (Parallel/Perpendicular) need proj to
// resolve their line endpoints; the others ignore it.
func Build(vm *ValueMap, proj *model.Project, c *model.Constraint) (res []autodiff.Value, ok bool) {
	switch c.Kind {
	case model.DistancePointPoint:
		return Distance(vm, c)
	case model.AnglePointPointPoint:
		return Angle(vm, c)
	case model.FixedPoint:
		return FixedPoint(vm, c)
	case model.CollinearPoints:
		return Collinear(vm, c)
	case model.CoplanarPoints:
		return Coplanar(vm, c)
	case model.ParallelLines:
		return Parallel(vm, proj, c)
	case model.PerpendicularLines:
		return Perpendicular(vm, proj, c)
	case model.EqualDistances:
		return EqualDistances(vm, c)
	case model.EqualAngles:
		return EqualAngles(vm, c)
	default:
		return nil, false
	}
}
