// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package residual

import "github.com/trailmark/recon3d/autodiff"

// QuaternionNorm returns the single residual w^2+x^2+y^2+z^2-1 that
// keeps an optimized camera's rotation near unit length (spec.md §4.4's
// quaternion-norm provider).
func QuaternionNorm(cv CameraVars) autodiff.Value {
	return cv.Pose.Rot.NormSqr().AddC(-1)
}
