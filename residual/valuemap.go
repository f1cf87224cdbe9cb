// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package residual implements the constraint-residual family of
// spec.md §4.2: one function per model.Kind (plus reprojection and
// quaternion-norm, which are not stored Constraints -- see
// model.Kind's doc comment) that maps a Project's current variable
// values, recorded on an autodiff.Tape, to a slice of residual
// Values. This is the residual layer for solver back end A
// (spec.md §4.1); back end B's analytic equivalents live in package
// jacobian.
package residual

import (
	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/model"
)

// CameraVars is one viewpoint's pose and intrinsics, tracked on a Tape
// for one residual evaluation.
type CameraVars struct {
	Pose         camera.ValuePose
	Intrinsics   camera.ValueIntrinsics
	IsZReflected bool
}

// ValueMap binds every world point and viewpoint a residual build might
// need to autodiff Values recorded on Tape, for exactly one evaluation
// (spec.md §4.2: "a mapping from world-point references to Vec3<Value>
// and from viewpoint references to a record of Value fields"). A
// ValueMap is owned by the evaluation that built it and must not
// outlive it (spec.md §5).
type ValueMap struct {
	Tape    *autodiff.Tape
	Points  map[model.WorldPointID]autodiff.Vec3
	Cameras map[model.ViewpointID]CameraVars
}

// Point looks up a world point's tracked position. ok is false if the
// point is missing from the map, which a constraint must treat as a
// non-fatal "skip this residual" per spec.md §4.2.
func (vm *ValueMap) Point(id model.WorldPointID) (autodiff.Vec3, bool) {
	v, ok := vm.Points[id]
	return v, ok
}

// Camera looks up a viewpoint's tracked pose and intrinsics.
func (vm *ValueMap) Camera(id model.ViewpointID) (CameraVars, bool) {
	v, ok := vm.Cameras[id]
	return v, ok
}

// Line resolves a model.Line's two endpoints through the map, returning
// PointA's and PointB's tracked positions. ok is false if the line or
// either endpoint is missing.
func (vm *ValueMap) Line(proj *model.Project, id model.LineID) (a, b autodiff.Vec3, ok bool) {
	l := proj.Line(id)
	if l == nil {
		return autodiff.Vec3{}, autodiff.Vec3{}, false
	}
	a, okA := vm.Point(l.PointA)
	b, okB := vm.Point(l.PointB)
	return a, b, okA && okB
}
