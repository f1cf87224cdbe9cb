// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package model

import "github.com/trailmark/recon3d/internal/geom"

// AxisState is the state of one of a WorldPoint's three coordinate
// slots (spec.md §3).
type AxisState int

const (
	// AxisFree means the solver is free to place this axis.
	AxisFree AxisState = iota
	// AxisLocked means the user gave a fixed finite value.
	AxisLocked
	// AxisInferred means a value was derived from other data; it may
	// be overwritten by the solver but carries provenance metadata.
	AxisInferred
)

// Axis is one coordinate slot of a WorldPoint.
type Axis struct {
	State AxisState
	Value float64 // meaningful when State != AxisFree.
}

// Locked returns a locked axis holding v.
func Locked(v float64) Axis { return Axis{AxisLocked, v} }

// Inferred returns an inferred axis holding v.
func Inferred(v float64) Axis { return Axis{AxisInferred, v} }

// WorldPoint is a named 3D feature with three independently-stated
// coordinate axes and a cache of the most recent solver output.
type WorldPoint struct {
	id    WorldPointID
	Name  string
	Color string

	X, Y, Z Axis

	// OptimizedXYZ is the most recent solver output for this point, or
	// nil if the point has never been optimized. Its contents are
	// arbitrary stale garbage for an unconstrained point -- consumers
	// must check IsFullyConstrained before trusting it (spec.md §3).
	OptimizedXYZ *geom.Vec3

	constraints  map[ConstraintID]struct{}
	imagePoints  map[ImagePointID]struct{}
}

// ID returns the point's stable identifier.
func (p *WorldPoint) ID() WorldPointID { return p.id }

// newWorldPoint constructs a point with empty back-reference sets. Only
// Project.AddWorldPoint should call this, so that the id is registered.
func newWorldPoint(id WorldPointID, name string) *WorldPoint {
	return &WorldPoint{
		id:          id,
		Name:        name,
		Color:       "#ffffff",
		constraints: make(map[ConstraintID]struct{}),
		imagePoints: make(map[ImagePointID]struct{}),
	}
}

// axisEffective returns the axis's value under spec.md's "effective"
// precedence (locked, then inferred/optimized, then absent) given the
// point's optimized cache component for this axis.
func axisEffective(a Axis, optimized float64, hasOptimized bool) (float64, bool) {
	switch {
	case a.State == AxisLocked:
		return a.Value, true
	case hasOptimized:
		return optimized, true
	case a.State == AxisInferred:
		return a.Value, true
	default:
		return 0, false
	}
}

// EffectiveXYZ returns the point's best-known position: per axis, the
// locked value where present, otherwise the optimized cache, otherwise
// the inferred value, otherwise absent. ok is false unless all three
// axes resolve.
func (p *WorldPoint) EffectiveXYZ() (pos geom.Vec3, ok bool) {
	hasOpt := p.OptimizedXYZ != nil
	var ox, oy, oz float64
	if hasOpt {
		ox, oy, oz = p.OptimizedXYZ.X, p.OptimizedXYZ.Y, p.OptimizedXYZ.Z
	}
	x, okx := axisEffective(p.X, ox, hasOpt)
	y, oky := axisEffective(p.Y, oy, hasOpt)
	z, okz := axisEffective(p.Z, oz, hasOpt)
	if !okx || !oky || !okz {
		return geom.Vec3{}, false
	}
	return geom.V3(x, y, z), true
}

// IsFullyConstrained reports whether every axis is locked or inferred,
// meaning the point does not depend on the solver to have a meaningful
// position (spec.md §3's guard for heuristics like PnP initialization).
func (p *WorldPoint) IsFullyConstrained() bool {
	constrained := func(a Axis) bool { return a.State == AxisLocked || a.State == AxisInferred }
	return constrained(p.X) && constrained(p.Y) && constrained(p.Z)
}

// LockedXYZ returns the point's locked-only coordinates; ok is false if
// any axis is not locked.
func (p *WorldPoint) LockedXYZ() (pos geom.Vec3, ok bool) {
	if p.X.State != AxisLocked || p.Y.State != AxisLocked || p.Z.State != AxisLocked {
		return geom.Vec3{}, false
	}
	return geom.V3(p.X.Value, p.Y.Value, p.Z.Value), true
}

// Constraints returns the ids of constraints that currently name this
// point.
func (p *WorldPoint) Constraints() []ConstraintID {
	out := make([]ConstraintID, 0, len(p.constraints))
	for id := range p.constraints {
		out = append(out, id)
	}
	return out
}

// ImagePoints returns the ids of image observations of this point.
func (p *WorldPoint) ImagePoints() []ImagePointID {
	out := make([]ImagePointID, 0, len(p.imagePoints))
	for id := range p.imagePoints {
		out = append(out, id)
	}
	return out
}

func (p *WorldPoint) attachConstraint(id ConstraintID) { p.constraints[id] = struct{}{} }
func (p *WorldPoint) detachConstraint(id ConstraintID) { delete(p.constraints, id) }
func (p *WorldPoint) attachImagePoint(id ImagePointID) { p.imagePoints[id] = struct{}{} }
func (p *WorldPoint) detachImagePoint(id ImagePointID) { delete(p.imagePoints, id) }
