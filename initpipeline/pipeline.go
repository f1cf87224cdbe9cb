// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package initpipeline implements the structure-from-motion
// initialization of spec.md §4.7: vanishing-point camera calibration,
// essential-matrix two-view reconstruction, linear triangulation,
// P3P/DLT bring-in of extra views, and rigid alignment of the
// provisional scene to locked points or axis-tagged lines. Run leaves
// every camera and free point with a provisional position; the final
// polish is the caller's full LM solve.
package initpipeline

import (
	"go.uber.org/zap"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// Options tunes the pipeline.
type Options struct {
	// TrialSolveIterations caps the LM runs used to disambiguate the
	// sign of an axis alignment. Clamped to [30, 500] (spec.md §4.7).
	TrialSolveIterations int
	Log                  *zap.Logger
}

func (o Options) trialIterations() int {
	n := o.TrialSolveIterations
	if n < 30 {
		return 30
	}
	if n > 500 {
		return 500
	}
	return n
}

func (o Options) log() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// Method names which structural regime Run used.
type Method string

const (
	MethodVanishingPoint Method = "vanishing-point"
	MethodEssentialMatrix Method = "essential-matrix"
	MethodDefault         Method = "default"
)

// Alignment reports how (and whether) the provisional scene was
// rigidly mapped onto the user's coordinate frame. When two trial
// orientations of an axis alignment finish within 1% of each other the
// result is Ambiguous and the caller decides whether to re-run with a
// forced sign (spec.md §9's design note).
type Alignment struct {
	Applied   bool
	Ambiguous bool
	SignUsed  int // +1 or -1; 0 when not applied.
}

// Result reports what Run did.
type Result struct {
	Method    Method
	Alignment Alignment
	// CamerasPlaced counts viewpoints whose pose was (re)initialized.
	CamerasPlaced int
	// PointsPlaced counts world points given a provisional position.
	PointsPlaced int
}

// Run initializes every camera pose and free world point in proj. It
// distinguishes three regimes by counting vanishing-point calibratable
// viewpoints, brings extra views in by PnP, and finishes with the
// rigid alignment step. Sub-steps are best effort: a failing
// alternative falls through to the next, and only a pipeline with no
// usable regime at all raises an InitializationError (spec.md §7).
func Run(proj *model.Project, opts Options) (*Result, error) {
	log := opts.log()
	res := &Result{Method: MethodDefault}

	var vpCalibratable []*model.Viewpoint
	for _, vp := range proj.Viewpoints() {
		if vp.IsVPCalibratable() {
			vpCalibratable = append(vpCalibratable, vp)
		}
	}

	structured := false
	calibrated := make(map[model.ViewpointID]struct{})
	if len(vpCalibratable) > 0 {
		for _, vp := range vpCalibratable {
			if err := CalibrateFromVanishingPoints(proj, vp); err != nil {
				log.Warn("vanishing-point calibration failed; skipping viewpoint",
					zap.String("viewpoint", vp.Name), zap.Error(err))
				continue
			}
			calibrated[vp.ID()] = struct{}{}
		}
		if len(calibrated) > 0 {
			res.Method = MethodVanishingPoint
			res.CamerasPlaced = len(calibrated)
			res.PointsPlaced = triangulateAll(proj, calibrated)
			structured = true
		}
	}

	if !structured {
		if pts, ok := tryTwoView(proj, log); ok {
			res.Method = MethodEssentialMatrix
			res.CamerasPlaced = 2
			res.PointsPlaced = pts
			structured = true
		}
	}

	if !structured {
		cams, pts := defaultPlacement(proj)
		res.Method = MethodDefault
		res.CamerasPlaced = cams
		res.PointsPlaced = pts
	}

	// Bring in whatever viewpoints the structural regime did not
	// place, one at a time (spec.md §4.7's PnP step).
	if structured {
		for _, vp := range proj.Viewpoints() {
			if hasPlacedPose(vp, res, proj, calibrated) {
				continue
			}
			if err := BringInViewpoint(proj, vp, opts); err != nil {
				log.Warn("pnp bring-in fell back to centroid pose",
					zap.String("viewpoint", vp.Name), zap.Error(err))
			}
			res.CamerasPlaced++
		}
	}

	res.Alignment = alignScene(proj, opts)
	return res, nil
}

// hasPlacedPose tracks which viewpoints already have a structural
// pose; the VP and essential regimes mark theirs, PnP covers the rest.
// The essential regime always places the first two viewpoints in
// creation order.
func hasPlacedPose(vp *model.Viewpoint, res *Result, proj *model.Project, calibrated map[model.ViewpointID]struct{}) bool {
	switch res.Method {
	case MethodVanishingPoint:
		_, ok := calibrated[vp.ID()]
		return ok
	case MethodEssentialMatrix:
		vps := proj.Viewpoints()
		return len(vps) >= 2 && (vp.ID() == vps[0].ID() || vp.ID() == vps[1].ID())
	default:
		return true // default placement covered everything.
	}
}

// effectiveCloud gathers every point position the scene currently
// knows, preferring locked values, for centroid/extent heuristics.
func effectiveCloud(proj *model.Project) []geom.Vec3 {
	var out []geom.Vec3
	for _, wp := range proj.WorldPoints() {
		if pos, ok := wp.EffectiveXYZ(); ok {
			out = append(out, pos)
		}
	}
	return out
}

func centroidExtent(cloud []geom.Vec3) (centroid geom.Vec3, extent float64) {
	if len(cloud) == 0 {
		return geom.Vec3{}, 10
	}
	for _, p := range cloud {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Scale(1 / float64(len(cloud)))
	for _, p := range cloud {
		if d := p.Sub(centroid).Len(); d > extent {
			extent = d
		}
	}
	if extent == 0 {
		extent = 10
	}
	return centroid, extent
}

// defaultPlacement is the last-resort regime (spec.md §4.7 regime 3):
// every camera goes to the negative-z side of the point cloud centroid
// at 2.5x its extent, every free point to the centroid.
func defaultPlacement(proj *model.Project) (cameras, points int) {
	centroid, extent := centroidExtent(effectiveCloud(proj))
	standoff := 2.5 * extent
	for _, vp := range proj.Viewpoints() {
		vp.Pose = geom.Transform{
			Loc: centroid.Add(geom.V3(0, 0, -standoff)),
			Rot: geom.QI,
		}
		cameras++
	}
	for _, wp := range proj.WorldPoints() {
		if wp.IsFullyConstrained() {
			continue
		}
		c := centroid
		wp.OptimizedXYZ = &c
		points++
	}
	return cameras, points
}
