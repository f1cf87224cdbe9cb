// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package residual

import (
	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/model"
)

// Line-level assertions are not stored Constraints (a Line carries them
// directly, spec.md §3) but they contribute residuals exactly like one:
// an optional target length, an axis-direction tag, and a coincident
// point set. These mirror the explicit back end's line providers so
// both back ends see the same residual vector.

// LineLength returns ||B-A|| - targetLength for a line with a target
// length. ok is false if either endpoint is missing from vm.
func LineLength(vm *ValueMap, l *model.Line) (res []autodiff.Value, ok bool) {
	a, okA := vm.Point(l.PointA)
	b, okB := vm.Point(l.PointB)
	if !okA || !okB || l.TargetLength == nil {
		return nil, false
	}
	d := b.Sub(a).Magnitude(vm.Tape)
	return []autodiff.Value{d.AddC(-*l.TargetLength)}, true
}

// LineAxis returns the components of the line's normalized direction
// that must vanish for it to follow its axis tag: two for a single
// axis, one for a plane tag.
func LineAxis(vm *ValueMap, l *model.Line) (res []autodiff.Value, ok bool) {
	a, okA := vm.Point(l.PointA)
	b, okB := vm.Point(l.PointB)
	if !okA || !okB {
		return nil, false
	}
	dir := normalize(vm.Tape, b.Sub(a))
	switch l.Direction {
	case model.AxisX:
		return []autodiff.Value{dir.Y, dir.Z}, true
	case model.AxisY:
		return []autodiff.Value{dir.X, dir.Z}, true
	case model.AxisZ:
		return []autodiff.Value{dir.X, dir.Y}, true
	case model.AxisXY:
		return []autodiff.Value{dir.Z}, true
	case model.AxisXZ:
		return []autodiff.Value{dir.Y}, true
	case model.AxisYZ:
		return []autodiff.Value{dir.X}, true
	default:
		return nil, false
	}
}

// Coincident returns the three components of a point's perpendicular
// offset from the line through A and B.
func Coincident(vm *ValueMap, l *model.Line, point model.WorldPointID) (res []autodiff.Value, ok bool) {
	a, okA := vm.Point(l.PointA)
	b, okB := vm.Point(l.PointB)
	p, okP := vm.Point(point)
	if !okA || !okB || !okP {
		return nil, false
	}
	dir := normalize(vm.Tape, b.Sub(a))
	toP := p.Sub(a)
	perp := toP.Sub(dir.ScaleV(toP.Dot(dir)))
	return []autodiff.Value{perp.X, perp.Y, perp.Z}, true
}
