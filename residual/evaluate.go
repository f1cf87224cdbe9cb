// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package residual

import (
	"go.uber.org/zap"

	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/model"
)

// Options configures a full-project residual evaluation.
type Options struct {
	// ReprojectionWeight scales every reprojection residual relative to
	// geometric constraints (spec.md §4.6). 1.0 if unset by the caller.
	ReprojectionWeight float64
	// RegularizationWeight scales the quaternion-norm residuals.
	RegularizationWeight float64
	// OptimizePose, when true, emits a quaternion-norm residual for
	// every camera present in vm.Cameras. When false no regularization
	// residual is produced (there is no rotation being optimized).
	OptimizePose bool
	Log          *zap.Logger
}

// EvaluateAll builds the full residual vector for one solver iteration:
// every enabled constraint's residuals, one reprojection pair per
// ImagePoint, and one quaternion-norm residual per camera present in
// vm.Cameras when opts.OptimizePose. It also snapshots each
// constraint's LastResidual field (spec.md §3) from the forward values.
//
// A constraint or image point whose operands are missing from vm
// contributes no residuals and is logged at Warn, never treated as
// fatal (spec.md §4.2, §4.9).
func EvaluateAll(proj *model.Project, vm *ValueMap, opts Options) []autodiff.Value {
	if opts.ReprojectionWeight == 0 {
		opts.ReprojectionWeight = 1
	}
	var all []autodiff.Value

	for _, c := range proj.Constraints() {
		if !c.Enabled {
			continue
		}
		res, ok := Build(vm, proj, c)
		if !ok {
			logMissing(opts.Log, c)
			continue
		}
		c.LastResidual = floats(res)
		all = append(all, res...)
	}

	for _, l := range proj.Lines() {
		if l.TargetLength != nil {
			if res, ok := LineLength(vm, l); ok {
				all = append(all, res...)
			}
		}
		if l.HasAxisTag() {
			if res, ok := LineAxis(vm, l); ok {
				all = append(all, res...)
			}
		}
		for _, cp := range l.CoincidentPoints() {
			if res, ok := Coincident(vm, l, cp); ok {
				all = append(all, res...)
			}
		}
	}

	for _, ip := range proj.ImagePoints() {
		res, ok := Reprojection(vm, ip, opts.ReprojectionWeight)
		if !ok {
			if opts.Log != nil {
				opts.Log.Warn("reprojection residual skipped: missing operand",
					zap.Uint32("imagePoint", uint32(ip.ID())))
			}
			continue
		}
		all = append(all, res...)
	}

	if opts.OptimizePose {
		weight := opts.RegularizationWeight
		if weight == 0 {
			weight = 1
		}
		for _, cv := range vm.Cameras {
			all = append(all, QuaternionNorm(cv).Scale(weight))
		}
	}

	return all
}

func logMissing(log *zap.Logger, c *model.Constraint) {
	if log == nil {
		return
	}
	log.Warn("constraint residual skipped: missing operand",
		zap.String("constraint", c.Name),
		zap.String("kind", c.Kind.String()))
}

func floats(vs []autodiff.Value) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v.Float()
	}
	return out
}
