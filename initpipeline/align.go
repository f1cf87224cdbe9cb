// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package initpipeline

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/jacobian"
	"github.com/trailmark/recon3d/model"
	"github.com/trailmark/recon3d/solve"
)

// alignScene rigidly maps the provisional reconstruction onto the
// user's coordinate frame (spec.md §4.7's final step): a similarity
// transform onto locked points when at least two exist with
// triangulated positions, otherwise a rotation matching the first
// axis-tagged line to its axis with the sign disambiguated by a second
// tag or by trial solves.
func alignScene(proj *model.Project, opts Options) Alignment {
	if alignToLockedPoints(proj) {
		snapLockedPoints(proj)
		return Alignment{Applied: true, SignUsed: 1}
	}
	return alignToAxisLine(proj, opts)
}

// alignToLockedPoints computes the scale-rotation-translation mapping
// the triangulated positions of fully locked points onto their locked
// targets and applies it to the whole scene. Needs at least two such
// pairs.
func alignToLockedPoints(proj *model.Project) bool {
	var src, dst []geom.Vec3
	for _, wp := range proj.WorldPoints() {
		target, locked := wp.LockedXYZ()
		if !locked || wp.OptimizedXYZ == nil {
			continue
		}
		src = append(src, *wp.OptimizedXYZ)
		dst = append(dst, target)
	}
	if len(src) < 2 {
		return false
	}
	s, r, t, ok := similarityTransform(src, dst)
	if !ok {
		return false
	}
	applySimilarity(proj, s, r, t)
	return true
}

// similarityTransform solves dst_i ~ s*R*src_i + t in least squares
// (Procrustes with scale).
func similarityTransform(src, dst []geom.Vec3) (s float64, r geom.Mat3, t geom.Vec3, ok bool) {
	n := len(src)
	var sc, dc geom.Vec3
	for i := 0; i < n; i++ {
		sc = sc.Add(src[i])
		dc = dc.Add(dst[i])
	}
	sc = sc.Scale(1 / float64(n))
	dc = dc.Scale(1 / float64(n))

	h := mat.NewDense(3, 3, nil)
	srcVar := 0.0
	for i := 0; i < n; i++ {
		a := src[i].Sub(sc)
		b := dst[i].Sub(dc)
		srcVar += a.LenSqr()
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				h.Set(row, col, h.At(row, col)+av[row]*bv[col])
			}
		}
	}
	if srcVar < 1e-18 {
		return 0, r, t, false
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return 0, r, t, false
	}
	var um, vm mat.Dense
	svd.UTo(&um)
	svd.VTo(&vm)
	var u, v geom.Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			u.M[i][j] = um.At(i, j)
			v.M[i][j] = vm.At(i, j)
		}
	}
	vals := svd.Values(nil)
	d := 1.0
	r = v.Mul(u.Transpose())
	if r.Det() < 0 {
		d = -1
		for j := 0; j < 3; j++ {
			v.M[j][2] = -v.M[j][2]
		}
		r = v.Mul(u.Transpose())
	}
	trace := vals[0] + vals[1] + d*vals[2]
	s = trace / srcVar
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, r, t, false
	}
	t = dc.Sub(r.MulVec(sc).Scale(s))
	return s, r, t, true
}

// applySimilarity maps every optimized point and camera pose through
// x' = s*R*x + t. Camera rotations compose with R; depths scale by s,
// which leaves pixel projections unchanged.
func applySimilarity(proj *model.Project, s float64, r geom.Mat3, t geom.Vec3) {
	rq := r.ToQuat()
	for _, wp := range proj.WorldPoints() {
		if wp.OptimizedXYZ == nil {
			continue
		}
		moved := r.MulVec(*wp.OptimizedXYZ).Scale(s).Add(t)
		wp.OptimizedXYZ = &moved
	}
	for _, vp := range proj.Viewpoints() {
		vp.Pose.Loc = r.MulVec(vp.Pose.Loc).Scale(s).Add(t)
		vp.Pose.Rot = rq.Mult(vp.Pose.Rot.Unit()).Unit()
	}
}

// snapLockedPoints forces every fully locked point's optimized cache
// exactly onto its target after an alignment (spec.md §4.7).
func snapLockedPoints(proj *model.Project) {
	for _, wp := range proj.WorldPoints() {
		if target, locked := wp.LockedXYZ(); locked {
			t := target
			wp.OptimizedXYZ = &t
		}
	}
}

func axisUnit(tag model.AxisTag) (geom.Vec3, bool) {
	switch tag {
	case model.AxisX:
		return geom.V3(1, 0, 0), true
	case model.AxisY:
		return geom.V3(0, 1, 0), true
	case model.AxisZ:
		return geom.V3(0, 0, 1), true
	default:
		return geom.Vec3{}, false
	}
}

// lineDirection resolves a line's current unit direction from its
// endpoints' effective positions.
func lineDirection(proj *model.Project, l *model.Line) (geom.Vec3, geom.Vec3, bool) {
	a := proj.WorldPoint(l.PointA)
	b := proj.WorldPoint(l.PointB)
	if a == nil || b == nil {
		return geom.Vec3{}, geom.Vec3{}, false
	}
	pa, okA := a.EffectiveXYZ()
	pb, okB := b.EffectiveXYZ()
	if !okA || !okB {
		return geom.Vec3{}, geom.Vec3{}, false
	}
	dir := pb.Sub(pa)
	if dir.Len() < 1e-12 {
		return geom.Vec3{}, geom.Vec3{}, false
	}
	return pa, dir.Unit(), true
}

// rotationAligning returns the minimal rotation taking unit vector a
// to unit vector b.
func rotationAligning(a, b geom.Vec3) geom.Quat {
	cross := a.Cross(b)
	dot := a.Dot(b)
	if dot < -1+1e-12 && cross.Len() < 1e-12 {
		// Antiparallel: rotate pi about any perpendicular.
		perp := a.Cross(geom.V3(1, 0, 0))
		if perp.Len() < 1e-9 {
			perp = a.Cross(geom.V3(0, 1, 0))
		}
		return geom.FromAxisAngle(perp, math.Pi)
	}
	return geom.FromAxisAngle(cross, a.Ang(b))
}

// applyRotationAbout rotates the whole scene about the pivot point.
func applyRotationAbout(proj *model.Project, q geom.Quat, pivot geom.Vec3) {
	q = q.Unit()
	for _, wp := range proj.WorldPoints() {
		if wp.OptimizedXYZ == nil {
			continue
		}
		moved := q.Rotate(wp.OptimizedXYZ.Sub(pivot)).Add(pivot)
		wp.OptimizedXYZ = &moved
	}
	for _, vp := range proj.Viewpoints() {
		vp.Pose.Loc = q.Rotate(vp.Pose.Loc.Sub(pivot)).Add(pivot)
		vp.Pose.Rot = q.Mult(vp.Pose.Rot.Unit()).Unit()
	}
}

// alignToAxisLine rotates the scene so the first axis-tagged line
// matches its axis. The sign of the alignment is ambiguous; it is
// resolved by a second agreeing tag, then by trial solves in both
// orientations, and reported Ambiguous when the trial costs are within
// 1% of each other (spec.md §4.7).
func alignToAxisLine(proj *model.Project, opts Options) Alignment {
	var tagged []*model.Line
	for _, l := range proj.Lines() {
		if _, single := axisUnit(l.Direction); single {
			tagged = append(tagged, l)
		}
	}
	if len(tagged) == 0 {
		return Alignment{}
	}
	first := tagged[0]
	pivot, dir, ok := lineDirection(proj, first)
	if !ok {
		return Alignment{}
	}
	axis, _ := axisUnit(first.Direction)

	qPlus := rotationAligning(dir, axis)
	qMinus := rotationAligning(dir, axis.Neg())

	sign, ambiguous := disambiguateSign(proj, opts, tagged, pivot, qPlus, qMinus)
	chosen := qPlus
	if sign < 0 {
		chosen = qMinus
	}
	applyRotationAbout(proj, chosen, pivot)
	resolveRollAboutAxis(proj, axis, pivot)
	return Alignment{Applied: true, Ambiguous: ambiguous, SignUsed: sign}
}

// disambiguateSign picks between the two axis orientations: a second
// tagged line that clearly prefers one sign decides immediately;
// otherwise both orientations are trial-solved and the cheaper one
// wins, with costs within 1% flagged ambiguous.
func disambiguateSign(proj *model.Project, opts Options, tagged []*model.Line, pivot geom.Vec3, qPlus, qMinus geom.Quat) (sign int, ambiguous bool) {
	if len(tagged) > 1 {
		if second := tagged[1]; second != nil {
			if _, dir2, ok := lineDirection(proj, second); ok {
				axis2, _ := axisUnit(second.Direction)
				plusAgree := qPlus.Rotate(dir2).Dot(axis2)
				minusAgree := qMinus.Rotate(dir2).Dot(axis2)
				if math.Abs(plusAgree-minusAgree) > 1e-6 {
					if plusAgree >= minusAgree {
						return 1, false
					}
					return -1, false
				}
			}
		}
	}

	costPlus := trialSolveCost(proj, opts, qPlus, pivot)
	costMinus := trialSolveCost(proj, opts, qMinus, pivot)
	switch {
	case math.IsInf(costPlus, 1) && math.IsInf(costMinus, 1):
		return 1, true
	case costPlus <= costMinus:
		sign = 1
	default:
		sign = -1
	}
	larger := math.Max(costPlus, costMinus)
	if larger > 0 && math.Abs(costPlus-costMinus) <= 0.01*larger {
		ambiguous = true
	}
	return sign, ambiguous
}

// trialSolveCost applies q, runs a capped LM without writing anything
// back, undoes q, and returns the final cost (spec.md §4.7's
// trial-solve disambiguation).
func trialSolveCost(proj *model.Project, opts Options, q geom.Quat, pivot geom.Vec3) float64 {
	applyRotationAbout(proj, q, pivot)
	defer applyRotationAbout(proj, q.Inv(), pivot)

	layout := jacobian.NewVariableLayout(proj, true, false)
	sys := jacobian.NewSystem(proj, layout, jacobian.BuildOptions{
		OptimizePose:       true,
		ReprojectionWeight: reprojectionTrialWeight(proj),
	})
	if sys.NumVars() == 0 {
		return math.Inf(1)
	}
	x0 := make([]float64, layout.NumVars())
	layout.Seed(proj, x0)
	lmOpts := solve.DefaultOptions()
	lmOpts.MaxIterations = opts.trialIterations()
	res := solve.NewSolver(sys, lmOpts, opts.Log).Run(x0)
	return res.FinalCost
}

// reprojectionTrialWeight mirrors the orchestrator's down-weighting of
// pixel residuals when geometric constraints are present (spec.md §4.6).
func reprojectionTrialWeight(proj *model.Project) float64 {
	for _, c := range proj.Constraints() {
		if c.Enabled {
			return 1e-4
		}
	}
	return 1
}

// resolveRollAboutAxis removes the remaining rotational freedom around
// the aligned axis by rotating the camera baseline onto the canonical
// perpendicular direction (spec.md §4.7).
func resolveRollAboutAxis(proj *model.Project, axis geom.Vec3, pivot geom.Vec3) {
	vps := proj.Viewpoints()
	if len(vps) < 2 {
		return
	}
	baseline := vps[1].Pose.Loc.Sub(vps[0].Pose.Loc)
	perp := baseline.Sub(axis.Scale(baseline.Dot(axis)))
	if perp.Len() < 1e-9 {
		return
	}
	perp = perp.Unit()
	canonical := canonicalPerpendicular(axis)
	angle := math.Atan2(perp.Cross(canonical).Dot(axis), perp.Dot(canonical))
	applyRotationAbout(proj, geom.FromAxisAngle(axis, angle), pivot)
}

// canonicalPerpendicular returns the axis the camera baseline is
// rolled onto: the cyclically next world axis.
func canonicalPerpendicular(axis geom.Vec3) geom.Vec3 {
	switch {
	case math.Abs(axis.X) > 0.9:
		return geom.V3(0, 1, 0)
	case math.Abs(axis.Y) > 0.9:
		return geom.V3(0, 0, 1)
	default:
		return geom.V3(1, 0, 0)
	}
}
