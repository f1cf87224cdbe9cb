// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package recon3d is the orchestrator for the geometric constraint and
// bundle-adjustment solver: hosts build a model.Project, attach
// observations and constraints, and call Solve (nonlinear refinement of
// the current state) or OptimizeProject (full initialization pipeline
// followed by a solve). The heavy lifting lives in the subpackages;
// this package wires backend selection, reprojection weighting, and
// result reporting together the way a host consumes them (spec.md §6).
package recon3d

import (
	"math"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/initpipeline"
	"github.com/trailmark/recon3d/jacobian"
	"github.com/trailmark/recon3d/model"
	"github.com/trailmark/recon3d/residual"
	"github.com/trailmark/recon3d/solve"
)

// Backend selects which residual/Jacobian machinery feeds the LM core.
type Backend string

const (
	// BackendAutodiff rebuilds a reverse-mode expression graph per
	// iteration and harvests the Jacobian row by row (spec.md §4.1).
	BackendAutodiff Backend = "autodiff"
	// BackendExplicitDense uses the analytic residual providers with
	// dense Jacobian assembly (spec.md §4.4).
	BackendExplicitDense Backend = "explicitDense"
	// BackendExplicitSparse uses the same providers with a CSR
	// Jacobian, sparse normal equations, and a sparse LDLᵀ
	// factorization; no dense matrix is ever materialized.
	BackendExplicitSparse Backend = "explicitSparse"
)

// BackendFromEnv reads the SOLVER_BACKEND environment knob (spec.md
// §6), defaulting to explicitDense for unset or unrecognized values.
func BackendFromEnv() Backend {
	switch Backend(os.Getenv("SOLVER_BACKEND")) {
	case BackendAutodiff:
		return BackendAutodiff
	case BackendExplicitSparse:
		return BackendExplicitSparse
	default:
		return BackendExplicitDense
	}
}

// Options controls one Solve or OptimizeProject call (spec.md §6's
// solver API).
type Options struct {
	MaxIterations int
	Tolerance     float64
	Damping       float64 // initial LM lambda.
	Verbose       bool
	Backend       Backend

	OptimizePose       bool
	OptimizeIntrinsics bool

	// ReprojectionWeight scales pixel residuals against geometric
	// constraints. Zero selects the documented default: 1e-4 whenever
	// at least one non-projection constraint is enabled, 1 otherwise
	// (spec.md §4.6).
	ReprojectionWeight   float64
	RegularizationWeight float64

	// TrialSolveIterations caps the initialization pipeline's
	// sign-disambiguation solves; only OptimizeProject reads it.
	TrialSolveIterations int

	Logger *zap.Logger
	// Bus, when set, receives the set of entity fields a solve wrote
	// back (the change-notification adapter for reactive hosts).
	Bus *Bus
}

// DefaultOptions returns the baseline solver configuration: the
// explicit dense backend (or the SOLVER_BACKEND override), pose
// optimization on, intrinsics held fixed.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 200,
		Tolerance:     1e-10,
		Damping:       1e-3,
		Backend:       BackendFromEnv(),
		OptimizePose:  true,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Result reports a Solve outcome (spec.md §6). A failed solve still
// carries the last accepted state; Converged=false is the only signal
// (spec.md §7: callers decide whether to keep or revert).
type Result struct {
	Converged  bool
	Iterations int
	// Residual is the final cost, 0.5 * sum of squared residuals.
	Residual float64
	// MedianReprojectionError is the median pixel error over every
	// image observation, nil when the project has none.
	MedianReprojectionError *float64
	Stop                    solve.StopReason

	// Init is present only on OptimizeProject results.
	Init *initpipeline.Result
}

// effectiveReprojectionWeight implements spec.md §4.6: a modest number
// of strong metric constraints must not be overridden by thousands of
// pixel observations.
func effectiveReprojectionWeight(proj *model.Project, opts Options) float64 {
	if opts.ReprojectionWeight != 0 {
		return opts.ReprojectionWeight
	}
	for _, c := range proj.Constraints() {
		if c.Enabled {
			return 1e-4
		}
	}
	return 1
}

// Solve runs one Levenberg-Marquardt refinement of proj's free
// variables under opts and writes the optimized state back into the
// project. The returned error is non-nil only for a non-finite system
// (spec.md §7's SolveError); an unconverged but finite run returns
// Converged=false and no error.
func Solve(proj *model.Project, opts Options) (*Result, error) {
	log := opts.logger()
	weight := effectiveReprojectionWeight(proj, opts)

	layout := jacobian.NewVariableLayout(proj, opts.OptimizePose, opts.OptimizeIntrinsics)

	var sys solve.System
	switch opts.Backend {
	case BackendAutodiff:
		sys = solve.NewAutodiffSystem(proj, layout, residual.Options{
			ReprojectionWeight:   weight,
			RegularizationWeight: opts.RegularizationWeight,
			OptimizePose:         opts.OptimizePose,
			Log:                  log,
		})
	case BackendExplicitSparse:
		sys = jacobian.NewSparseSystem(proj, layout, jacobian.BuildOptions{
			ReprojectionWeight:   weight,
			RegularizationWeight: opts.RegularizationWeight,
			OptimizePose:         opts.OptimizePose,
		})
	default:
		sys = jacobian.NewSystem(proj, layout, jacobian.BuildOptions{
			ReprojectionWeight:   weight,
			RegularizationWeight: opts.RegularizationWeight,
			OptimizePose:         opts.OptimizePose,
		})
	}

	lmOpts := solve.DefaultOptions()
	if opts.MaxIterations > 0 {
		lmOpts.MaxIterations = opts.MaxIterations
	}
	if opts.Tolerance > 0 {
		lmOpts.CostTolerance = opts.Tolerance
		lmOpts.GradTolerance = opts.Tolerance
	}
	if opts.Damping > 0 {
		lmOpts.InitialLambda = opts.Damping
	}
	// spec.md §4.5's damping schedule: shrink by 0.7 on accept, grow
	// x2 on reject.
	lmOpts.LambdaDown = 1 / 0.7
	lmOpts.LambdaUp = 2

	var lmLog *zap.Logger
	if opts.Verbose {
		lmLog = log
	}
	x0 := make([]float64, layout.NumVars())
	layout.Seed(proj, x0)
	res := solve.NewSolver(sys, lmOpts, lmLog).Run(x0)

	if math.IsNaN(res.FinalCost) || math.IsInf(res.FinalCost, 0) {
		return &Result{Iterations: res.Iterations, Residual: res.FinalCost, Stop: res.Stop},
			&model.SolveError{Code: "NONFINITE_RESIDUAL", Message: "residual evaluation produced a non-finite cost", Iterations: res.Iterations}
	}

	layout.Writeback(proj, res.X)
	if opts.Bus != nil {
		opts.Bus.publish(writebackChanges(proj, layout))
	}

	out := &Result{
		Converged: res.Stop == solve.StopCostTolerance || res.Stop == solve.StopGradTolerance ||
			res.Stop == solve.StopNoVariables || res.Stop == solve.StopNoResiduals,
		Iterations: res.Iterations,
		Residual:   res.FinalCost,
		Stop:       res.Stop,
	}
	if med, ok := medianReprojectionError(proj); ok {
		out.MedianReprojectionError = &med
	}
	log.Debug("solve finished",
		zap.Bool("converged", out.Converged),
		zap.Int("iterations", out.Iterations),
		zap.Float64("residual", out.Residual),
		zap.String("stop", res.Stop.String()))
	return out, nil
}

// OptimizeProject runs the full initialization pipeline (spec.md §4.7)
// and then a complete solve with all free variables.
func OptimizeProject(proj *model.Project, opts Options) (*Result, error) {
	initRes, err := initpipeline.Run(proj, initpipeline.Options{
		TrialSolveIterations: opts.TrialSolveIterations,
		Log:                  opts.logger(),
	})
	if err != nil {
		return nil, err
	}
	res, err := Solve(proj, opts)
	if res != nil {
		res.Init = initRes
	}
	return res, err
}

// medianReprojectionError computes the median pixel distance between
// every observation and its world point's reprojection.
func medianReprojectionError(proj *model.Project) (float64, bool) {
	var errs []float64
	for _, ip := range proj.ImagePoints() {
		vp := proj.Viewpoint(ip.Viewpoint)
		wp := proj.WorldPoint(ip.WorldPoint)
		if vp == nil || wp == nil {
			continue
		}
		world, ok := wp.EffectiveXYZ()
		if !ok {
			continue
		}
		errs = append(errs, camera.ReprojectionError(world, vp, ip.U, ip.V))
	}
	if len(errs) == 0 {
		return 0, false
	}
	sort.Float64s(errs)
	mid := len(errs) / 2
	if len(errs)%2 == 1 {
		return errs[mid], true
	}
	return (errs[mid-1] + errs[mid]) / 2, true
}

// writebackChanges enumerates the entity fields a writeback touched,
// for the change-notification bus.
func writebackChanges(proj *model.Project, layout *jacobian.VariableLayout) []Change {
	var out []Change
	for _, wp := range proj.WorldPoints() {
		out = append(out, Change{EntityKind: "WorldPoint", EntityID: uint32(wp.ID()), Field: FieldOptimizedXYZ})
	}
	for _, vp := range proj.Viewpoints() {
		if _, _, optimized := layout.CameraPoseIndices(vp.ID()); optimized {
			out = append(out, Change{EntityKind: "Viewpoint", EntityID: uint32(vp.ID()), Field: FieldPose})
		}
		if _, optimized := layout.CameraFocalIndex(vp.ID()); optimized {
			out = append(out, Change{EntityKind: "Viewpoint", EntityID: uint32(vp.ID()), Field: FieldFocalLength})
		}
	}
	return out
}
