// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package geom

// Transform is a combined location+orientation, used for a Viewpoint's
// pose. It mirrors the teacher's pov/T split of "where we are" and
// "which way we're facing" without carrying scale or shear.
type Transform struct {
	Loc Vec3
	Rot Quat
}

// Identity returns the transform at the origin with no rotation.
func Identity() Transform { return Transform{Vec3{}, QI} }

// ToWorld maps a point from this transform's local frame into world
// space: rotate then translate.
func (t Transform) ToWorld(p Vec3) Vec3 {
	return t.Rot.Unit().Rotate(p).Add(t.Loc)
}

// ToLocal maps a world-space point into this transform's local frame:
// inverse translate then inverse rotate. This is the camera's
// world-to-camera transform used by projection.
func (t Transform) ToLocal(p Vec3) Vec3 {
	return t.Rot.Unit().RotateInverse(p.Sub(t.Loc))
}
