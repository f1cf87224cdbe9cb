// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package model

import "github.com/trailmark/recon3d/internal/geom"

// Intrinsics holds a camera's internal calibration (spec.md §3/§4.3).
type Intrinsics struct {
	FocalLength    float64
	AspectRatio    float64
	PrincipalPoint [2]float64 // (cx, cy) in pixels.
	Skew           float64
	K1, K2, K3     float64 // radial distortion.
	P1, P2         float64 // tangential distortion.
}

// DefaultIntrinsics returns intrinsics for an undistorted, unskewed
// camera with unit aspect ratio, useful as an initialization seed.
func DefaultIntrinsics(focalLength float64, width, height int) Intrinsics {
	return Intrinsics{
		FocalLength:    focalLength,
		AspectRatio:    1,
		PrincipalPoint: [2]float64{float64(width) / 2, float64(height) / 2},
	}
}

// VanishingLine is a pixel-space line segment the host marked as the
// image of a world line parallel to Axis, used only during
// initialization (spec.md §4.7) to compute vanishing points.
type VanishingLine struct {
	Axis   AxisTag
	U0, V0 float64
	U1, V1 float64
}

// Viewpoint is a camera: image dimensions, pose, intrinsics, the
// mirrored-frame flag, and its set of observed image points.
type Viewpoint struct {
	id   ViewpointID
	Name string

	ImageWidth, ImageHeight int

	Pose geom.Transform

	Intrinsics Intrinsics

	// IsZReflected selects between a right-handed and mirrored camera
	// frame. It is a per-viewpoint input controlled by the host; the
	// core never infers or toggles it (spec.md §9 Open Question).
	IsZReflected bool

	VanishingLines []VanishingLine

	imagePoints map[ImagePointID]struct{}
}

// ID returns the viewpoint's stable identifier.
func (v *Viewpoint) ID() ViewpointID { return v.id }

func newViewpoint(id ViewpointID, name string, width, height int) *Viewpoint {
	return &Viewpoint{
		id:           id,
		Name:         name,
		ImageWidth:   width,
		ImageHeight:  height,
		Pose:         geom.Identity(),
		Intrinsics:   DefaultIntrinsics(1000, width, height),
		imagePoints:  make(map[ImagePointID]struct{}),
	}
}

// ImagePoints returns the ids of this viewpoint's observed image points.
func (v *Viewpoint) ImagePoints() []ImagePointID {
	out := make([]ImagePointID, 0, len(v.imagePoints))
	for id := range v.imagePoints {
		out = append(out, id)
	}
	return out
}

func (v *Viewpoint) attachImagePoint(id ImagePointID) { v.imagePoints[id] = struct{}{} }
func (v *Viewpoint) detachImagePoint(id ImagePointID) { delete(v.imagePoints, id) }

// VPAxisLines groups the viewpoint's vanishing lines by axis, so the
// initialization pipeline can count axes with >=2 lines each.
func (v *Viewpoint) VPAxisLines() map[AxisTag][]VanishingLine {
	out := make(map[AxisTag][]VanishingLine)
	for _, l := range v.VanishingLines {
		out[l.Axis] = append(out[l.Axis], l)
	}
	return out
}

// IsVPCalibratable reports whether this viewpoint's vanishing lines
// include at least two axes with >=2 lines each (spec.md §4.7).
func (v *Viewpoint) IsVPCalibratable() bool {
	axesWithEnough := 0
	for _, lines := range v.VPAxisLines() {
		if len(lines) >= 2 {
			axesWithEnough++
		}
	}
	return axesWithEnough >= 2
}
