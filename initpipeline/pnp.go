// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package initpipeline

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
	"github.com/trailmark/recon3d/solve"
)

// pnpCorrespondence is one known world point with its normalized-plane
// observation in the view being brought in.
type pnpCorrespondence struct {
	world geom.Vec3
	x, y  float64
	u, v  float64 // original pixel, for reprojection scoring.
}

// BringInViewpoint poses one additional camera against points that
// already have positions: P3P over the triples of the first four
// correspondences, plus a DLT candidate when there are 6 or more, each
// candidate locally refined by a small LM with
// the world points fixed; the candidate with the lowest reprojection
// error that keeps at least half the points in front wins. With no
// acceptable candidate the viewpoint falls back to a centroid stand-off
// pose and an InitializationError is returned for the caller to log
// (spec.md §4.7).
func BringInViewpoint(proj *model.Project, vp *model.Viewpoint, opts Options) error {
	corr := knownCorrespondences(proj, vp)
	if len(corr) < 3 {
		placeStandoff(proj, vp)
		return &model.InitializationError{
			Stage: "pnp", Code: "PNP_FAILURE",
			Message: "fewer than three known points observed; using stand-off pose",
		}
	}

	var candidates []geom.Transform
	if len(corr) >= 6 {
		if pose, ok := dltPose(corr); ok {
			candidates = append(candidates, pose)
		}
	}
	candidates = append(candidates, p3pCandidates(corr)...)

	best, ok := selectCandidate(proj, vp, corr, candidates)
	if !ok {
		placeStandoff(proj, vp)
		return &model.InitializationError{
			Stage: "pnp", Code: "PNP_FAILURE",
			Message: "no candidate pose kept the known points in front; using stand-off pose",
		}
	}
	vp.Pose = best
	return nil
}

// knownCorrespondences gathers observations of points whose positions
// are already trustworthy: fully constrained, or placed by the
// structural init (spec.md §3's guard: an unconstrained point's
// optimized cache is stale garbage unless something wrote it this
// pipeline run, which the structural stage just did).
func knownCorrespondences(proj *model.Project, vp *model.Viewpoint) []pnpCorrespondence {
	var out []pnpCorrespondence
	for _, ipID := range vp.ImagePoints() {
		ip := proj.ImagePoint(ipID)
		if ip == nil {
			continue
		}
		wp := proj.WorldPoint(ip.WorldPoint)
		if wp == nil {
			continue
		}
		if !wp.IsFullyConstrained() && wp.OptimizedXYZ == nil {
			continue
		}
		world, ok := wp.EffectiveXYZ()
		if !ok {
			continue
		}
		x, y := normalizePixel(ip.U, ip.V, vp.Intrinsics)
		out = append(out, pnpCorrespondence{world: world, x: x, y: y, u: ip.U, v: ip.V})
	}
	// Deterministic ordering regardless of back-reference set iteration.
	sort.Slice(out, func(i, j int) bool {
		if out[i].u != out[j].u {
			return out[i].u < out[j].u
		}
		return out[i].v < out[j].v
	})
	return out
}

// p3pCandidates runs the three-point pose solver over a few triples of
// the correspondence set and collects every physically plausible pose.
func p3pCandidates(corr []pnpCorrespondence) []geom.Transform {
	var out []geom.Transform
	n := len(corr)
	limit := n
	if limit > 4 {
		limit = 4 // spec.md §4.7: P3P uses 3-4 points.
	}
	for i := 0; i < limit; i++ {
		for j := i + 1; j < limit; j++ {
			for k := j + 1; k < limit; k++ {
				out = append(out, solveP3P(corr[i], corr[j], corr[k])...)
			}
		}
	}
	return out
}

// solveP3P computes up to four camera poses from three world-to-bearing
// correspondences. The distance (Grunert) parametrisation is used: the
// two law-of-cosines quadratics in the distance ratios share a common
// root exactly when their resultant vanishes, which is a quartic in
// one ratio solved via the companion matrix. Each positive distance
// solution is converted to a pose by rigid absolute orientation.
func solveP3P(c1, c2, c3 pnpCorrespondence) []geom.Transform {
	f1 := geom.V3(c1.x, c1.y, 1).Unit()
	f2 := geom.V3(c2.x, c2.y, 1).Unit()
	f3 := geom.V3(c3.x, c3.y, 1).Unit()

	cosAlpha := f2.Dot(f3) // between rays to P2, P3.
	cosBeta := f1.Dot(f3)  // between rays to P1, P3.
	cosGamma := f1.Dot(f2) // between rays to P1, P2.

	a2 := c2.world.Sub(c3.world).LenSqr()
	b2 := c1.world.Sub(c3.world).LenSqr()
	c2len := c1.world.Sub(c2.world).LenSqr()
	if a2 < 1e-18 || b2 < 1e-18 || c2len < 1e-18 {
		return nil
	}

	// Monic quadratics in u = s2/s1 with coefficients polynomial in
	// v = s3/s1 (poly slices are ascending-degree):
	//   p: u^2 + p1(v) u + p0(v) = 0   (sides a, b)
	//   q: u^2 + q1   u + q0(v) = 0    (sides b, c)
	ab := a2 / b2
	cb := c2len / b2
	p1 := poly{0, -2 * cosAlpha}
	p0 := poly{-ab, 2 * ab * cosBeta, 1 - ab}
	q1 := poly{-2 * cosGamma}
	q0 := poly{1 - cb, 2 * cb * cosBeta, -cb}

	// Eliminating u: the quadratics share a root iff substituting
	// u = -(p0-q0)/(p1-q1) back into p vanishes, i.e.
	// (p0-q0)^2 + (p1-q1)(p1*q0 - q1*p0) = 0, a quartic in v.
	d0 := p0.sub(q0)
	d1 := p1.sub(q1)
	res := d0.mul(d0).add(d1.mul(p1.mul(q0).sub(q1.mul(p0))))

	roots := realRoots(res)
	var out []geom.Transform
	for _, v := range roots {
		if v <= 1e-9 {
			continue
		}
		denom := d1.eval(v)
		if math.Abs(denom) < 1e-12 {
			continue
		}
		u := -d0.eval(v) / denom
		if u <= 1e-9 {
			continue
		}
		s1sq := b2 / (1 + v*v - 2*v*cosBeta)
		if s1sq <= 0 {
			continue
		}
		s1 := math.Sqrt(s1sq)
		s2 := u * s1
		s3 := v * s1

		camPts := []geom.Vec3{f1.Scale(s1), f2.Scale(s2), f3.Scale(s3)}
		worldPts := []geom.Vec3{c1.world, c2.world, c3.world}
		if pose, ok := absoluteOrientation(worldPts, camPts); ok {
			out = append(out, pose)
		}
	}
	return out
}

// poly is a dense polynomial, ascending degree.
type poly []float64

func (p poly) add(q poly) poly {
	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	out := make(poly, n)
	for i := range out {
		if i < len(p) {
			out[i] += p[i]
		}
		if i < len(q) {
			out[i] += q[i]
		}
	}
	return out
}

func (p poly) sub(q poly) poly {
	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	out := make(poly, n)
	for i := range out {
		if i < len(p) {
			out[i] += p[i]
		}
		if i < len(q) {
			out[i] -= q[i]
		}
	}
	return out
}

func (p poly) mul(q poly) poly {
	out := make(poly, len(p)+len(q)-1)
	for i, a := range p {
		for j, b := range q {
			out[i+j] += a * b
		}
	}
	return out
}

func (p poly) eval(x float64) float64 {
	out := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		out = out*x + p[i]
	}
	return out
}

// realRoots returns the real roots of p via the eigenvalues of its
// companion matrix.
func realRoots(p poly) []float64 {
	// Trim trailing (leading-coefficient) zeros.
	deg := len(p) - 1
	for deg > 0 && math.Abs(p[deg]) < 1e-14 {
		deg--
	}
	if deg < 1 {
		return nil
	}
	c := mat.NewDense(deg, deg, nil)
	for i := 1; i < deg; i++ {
		c.Set(i, i-1, 1)
	}
	for i := 0; i < deg; i++ {
		c.Set(i, deg-1, -p[i]/p[deg])
	}
	var eig mat.Eigen
	if !eig.Factorize(c, mat.EigenNone) {
		return nil
	}
	values := eig.Values(nil)
	var out []float64
	for _, v := range values {
		if math.Abs(imag(v)) < 1e-6 {
			out = append(out, real(v))
		}
	}
	return out
}

// absoluteOrientation finds the rigid world-to-camera transform
// mapping worldPts onto camPts (Kabsch, no scale), returned as the
// camera pose in this package's convention (Loc is the camera center
// in world space, Rot is camera-to-world).
func absoluteOrientation(worldPts, camPts []geom.Vec3) (geom.Transform, bool) {
	n := len(worldPts)
	if n < 3 || n != len(camPts) {
		return geom.Transform{}, false
	}
	var wc, cc geom.Vec3
	for i := 0; i < n; i++ {
		wc = wc.Add(worldPts[i])
		cc = cc.Add(camPts[i])
	}
	wc = wc.Scale(1 / float64(n))
	cc = cc.Scale(1 / float64(n))

	// Covariance H = sum (world - wc)(cam - cc)^T; R_wc = V diag(1,1,d) U^T
	// of H = U S V^T maps world-frame offsets to camera-frame offsets.
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		w := worldPts[i].Sub(wc)
		c := camPts[i].Sub(cc)
		wv := [3]float64{w.X, w.Y, w.Z}
		cv := [3]float64{c.X, c.Y, c.Z}
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				h.Set(r, col, h.At(r, col)+wv[r]*cv[col])
			}
		}
	}
	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geom.Transform{}, false
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
	rwc := v.Mul(u.Transpose())
	if rwc.Det() < 0 {
		for j := 0; j < 3; j++ {
			v.M[j][2] = -v.M[j][2]
		}
		rwc = v.Mul(u.Transpose())
	}
	// cam = R_wc*(world - center) with center = wc - R_wc^T * cc.
	center := wc.Sub(rwc.Transpose().MulVec(cc))
	return geom.Transform{Loc: center, Rot: rwc.Transpose().ToQuat()}, true
}

// dltPose estimates [R|t] from six or more correspondences by the
// direct linear transform on normalized coordinates, then projects the
// linear estimate onto the rotation manifold.
func dltPose(corr []pnpCorrespondence) (geom.Transform, bool) {
	a := mat.NewDense(2*len(corr), 12, nil)
	for i, c := range corr {
		w := [4]float64{c.world.X, c.world.Y, c.world.Z, 1}
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, w[j])
			a.Set(2*i, 8+j, -c.x*w[j])
			a.Set(2*i+1, 4+j, w[j])
			a.Set(2*i+1, 8+j, -c.y*w[j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return geom.Transform{}, false
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()
	p := mat.Col(nil, cols-1, &v)

	var m geom.Mat3
	var t geom.Vec3
	m.M[0] = [3]float64{p[0], p[1], p[2]}
	m.M[1] = [3]float64{p[4], p[5], p[6]}
	m.M[2] = [3]float64{p[8], p[9], p[10]}
	t = geom.V3(p[3], p[7], p[11])

	// The null vector's sign is arbitrary; pick the one that puts the
	// first point in front.
	if m.MulVec(corr[0].world).Add(t).Z < 0 {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m.M[i][j] = -m.M[i][j]
			}
		}
		t = t.Neg()
	}

	// Project M onto a rotation and rescale t by the mean singular value.
	u, s, vt, ok := svd3(m)
	if !ok {
		return geom.Transform{}, false
	}
	scale := (s[0] + s[1] + s[2]) / 3
	if scale < 1e-12 {
		return geom.Transform{}, false
	}
	rwc := u.Mul(vt)
	t = t.Scale(1 / scale)

	center := rwc.Transpose().MulVec(t).Neg()
	return geom.Transform{Loc: center, Rot: rwc.Transpose().ToQuat()}, true
}

// selectCandidate refines each candidate by a short pose-only LM with
// the world points held fixed, then keeps the refined pose with the
// lowest mean reprojection error among those with at least half the
// points in front.
func selectCandidate(proj *model.Project, vp *model.Viewpoint, corr []pnpCorrespondence, candidates []geom.Transform) (geom.Transform, bool) {
	bestErr := math.Inf(1)
	var best geom.Transform
	found := false
	for _, cand := range candidates {
		refined := refinePose(vp, corr, cand)
		err, frontFrac := scorePose(vp, corr, refined)
		if frontFrac < 0.5 {
			continue
		}
		if err < bestErr {
			bestErr = err
			best = refined
			found = true
		}
	}
	return best, found
}

func scorePose(vp *model.Viewpoint, corr []pnpCorrespondence, pose geom.Transform) (meanErr, frontFrac float64) {
	front := 0
	total := 0.0
	for _, c := range corr {
		if camera.Depth(c.world, pose, vp.IsZReflected) > 0 {
			front++
		}
		u, v, ok := camera.Project(c.world, pose, vp.Intrinsics, vp.IsZReflected)
		if !ok {
			total += 1000
			continue
		}
		du, dv := u-c.u, v-c.v
		total += math.Sqrt(du*du + dv*dv)
	}
	return total / float64(len(corr)), float64(front) / float64(len(corr))
}

// poseSystem is the tiny seven-variable LM system used to polish a PnP
// candidate: position and quaternion of one camera, every world point
// fixed, residuals the raw pixel reprojection errors plus the
// quaternion-norm regularizer. The Jacobian is central-difference over
// the same residual function.
type poseSystem struct {
	vp   *model.Viewpoint
	corr []pnpCorrespondence
}

func (s *poseSystem) NumVars() int { return 7 }

func (s *poseSystem) residuals(x []float64) []float64 {
	pose := geom.Transform{
		Loc: geom.V3(x[0], x[1], x[2]),
		Rot: geom.Quat{W: x[3], X: x[4], Y: x[5], Z: x[6]}.Unit(),
	}
	out := make([]float64, 0, 2*len(s.corr)+1)
	for _, c := range s.corr {
		u, v, ok := camera.Project(c.world, pose, s.vp.Intrinsics, s.vp.IsZReflected)
		if !ok {
			out = append(out, 1000, 1000)
			continue
		}
		out = append(out, u-c.u, v-c.v)
	}
	q := geom.Quat{W: x[3], X: x[4], Y: x[5], Z: x[6]}
	out = append(out, q.LenSqr()-1)
	return out
}

func (s *poseSystem) Evaluate(x []float64) ([]float64, *mat.Dense) {
	r := s.residuals(x)
	j := mat.NewDense(len(r), 7, nil)
	const h = 1e-6
	xp := append([]float64(nil), x...)
	for col := 0; col < 7; col++ {
		orig := xp[col]
		xp[col] = orig + h
		plus := s.residuals(xp)
		xp[col] = orig - h
		minus := s.residuals(xp)
		xp[col] = orig
		for row := range r {
			j.Set(row, col, (plus[row]-minus[row])/(2*h))
		}
	}
	return r, j
}

func refinePose(vp *model.Viewpoint, corr []pnpCorrespondence, seed geom.Transform) geom.Transform {
	sys := &poseSystem{vp: vp, corr: corr}
	opts := solve.DefaultOptions()
	opts.MaxIterations = 20
	q := seed.Rot.Unit()
	x0 := []float64{seed.Loc.X, seed.Loc.Y, seed.Loc.Z, q.W, q.X, q.Y, q.Z}
	res := solve.NewSolver(sys, opts, nil).Run(x0)
	return geom.Transform{
		Loc: geom.V3(res.X[0], res.X[1], res.X[2]),
		Rot: geom.Quat{W: res.X[3], X: res.X[4], Y: res.X[5], Z: res.X[6]}.Unit(),
	}
}
