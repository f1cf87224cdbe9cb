// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package residual

import (
	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/model"
)

// Reprojection returns the two residuals (projected u,v) - (observed
// u,v) for one ImagePoint, scaled by weight (spec.md §4.6's reprojection
// weighting knob). If the projection lands behind the camera, both
// residuals are the constant-1000 penalty of spec.md §4.2 rather than a
// value computed from a non-positive depth.
//
// Reprojection is built directly from model.ImagePoint rather than from
// a stored model.Constraint; see model.Kind's doc comment for why.
func Reprojection(vm *ValueMap, ip *model.ImagePoint, weight float64) (res []autodiff.Value, ok bool) {
	wp, okP := vm.Point(ip.WorldPoint)
	cv, okC := vm.Camera(ip.Viewpoint)
	if !okP || !okC {
		return nil, false
	}
	u, v, inFront := camera.ProjectValue(vm.Tape, wp, cv.Pose, cv.Intrinsics, cv.IsZReflected)
	if !inFront {
		u, v = camera.BehindCameraPenalty(vm.Tape)
		return []autodiff.Value{u, v}, true
	}
	ru := u.AddC(-ip.U).Scale(weight)
	rv := v.AddC(-ip.V).Scale(weight)
	return []autodiff.Value{ru, rv}, true
}
