// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package initpipeline

import (
	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

// projMatrix is a camera's 3x4 world-to-normalized projection [R|t],
// with any z reflection folded into the matrix so the DLT rows are
// uniform.
type projMatrix struct {
	r geom.Mat3
	t geom.Vec3
}

func viewProjMatrix(vp *model.Viewpoint) projMatrix {
	rwc := vp.Pose.Rot.Unit().ToMat3().Transpose()
	t := rwc.MulVec(vp.Pose.Loc).Neg()
	if vp.IsZReflected {
		for j := 0; j < 3; j++ {
			rwc.M[2][j] = -rwc.M[2][j]
		}
		t.Z = -t.Z
	}
	return projMatrix{r: rwc, t: t}
}

// TriangulatePoint linearly triangulates one world point from two or
// more normalized-plane observations (x_i, y_i) under the given
// projection matrices. ok is false for degenerate geometry or a point
// behind the majority of cameras.
func TriangulatePoint(ps []projMatrix, xs, ys []float64) (geom.Vec3, bool) {
	if len(ps) < 2 || len(ps) != len(xs) || len(ps) != len(ys) {
		return geom.Vec3{}, false
	}
	a := mat.NewDense(2*len(ps), 4, nil)
	for i, p := range ps {
		for j := 0; j < 3; j++ {
			a.Set(2*i, j, xs[i]*p.r.M[2][j]-p.r.M[0][j])
			a.Set(2*i+1, j, ys[i]*p.r.M[2][j]-p.r.M[1][j])
		}
		a.Set(2*i, 3, xs[i]*p.t.Z-p.t.X)
		a.Set(2*i+1, 3, ys[i]*p.t.Z-p.t.Y)
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return geom.Vec3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	h := mat.Col(nil, 3, &v)
	if h[3] == 0 {
		return geom.Vec3{}, false
	}
	world := geom.V3(h[0]/h[3], h[1]/h[3], h[2]/h[3])
	if !world.IsFinite() {
		return geom.Vec3{}, false
	}
	front := 0
	for _, p := range ps {
		if p.r.MulVec(world).Add(p.t).Z > 0 {
			front++
		}
	}
	return world, front*2 >= len(ps)
}

// triangulateAll writes a triangulated position to every world point
// observed by at least two of the placed viewpoints (fully constrained
// points included, so alignment can map them onto their targets),
// returning how many of the positioned points are not fully
// constrained.
func triangulateAll(proj *model.Project, placed map[model.ViewpointID]struct{}) int {
	mats := make(map[model.ViewpointID]projMatrix, len(placed))
	for id := range placed {
		if vp := proj.Viewpoint(id); vp != nil {
			mats[id] = viewProjMatrix(vp)
		}
	}

	count := 0
	for _, wp := range proj.WorldPoints() {
		var ps []projMatrix
		var xs, ys []float64
		for _, ipID := range wp.ImagePoints() {
			ip := proj.ImagePoint(ipID)
			if ip == nil {
				continue
			}
			pm, ok := mats[ip.Viewpoint]
			if !ok {
				continue
			}
			vp := proj.Viewpoint(ip.Viewpoint)
			x, y := normalizePixel(ip.U, ip.V, vp.Intrinsics)
			ps = append(ps, pm)
			xs = append(xs, x)
			ys = append(ys, y)
		}
		if world, ok := TriangulatePoint(ps, xs, ys); ok {
			w := world
			wp.OptimizedXYZ = &w
			if !wp.IsFullyConstrained() {
				count++
			}
		}
	}
	return count
}
