// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package solve

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Solver drives a System through damped Gauss-Newton steps (spec.md
// §4.5): form the normal equations (JᵀJ + λ·diag(JᵀJ))·Δ = −Jᵀr, solve
// them, and accept the step x' = x + Δ only if it actually reduces
// cost, otherwise grow λ and retry from the same point. A System that
// is also a Linearizer brings its own normal-equations machinery (the
// sparse back end); everything else goes through the dense Cholesky
// path here.
type Solver struct {
	sys  System
	opts Options
	log  *zap.Logger
}

// Linearizer is the abstract linear-system capability a back end may
// provide instead of a dense Jacobian: one call freezes the
// linearization at x and returns the residuals, the gradient Jᵀr, and
// a solver for the damped normal equations at any λ. Run prefers this
// over Evaluate when present. The returned pieces must stay valid (and
// immutable) until the next Linearize call's results replace them on
// an accepted step; rejected steps keep using the old ones.
type Linearizer interface {
	Linearize(x []float64) (residuals []float64, gradient []float64, solveDamped func(lambda float64) ([]float64, bool))
}

// linearization is one iteration's frozen view of the system, from
// either evaluation path.
type linearization struct {
	r           []float64
	J           *mat.Dense // dense path only.
	grad        []float64  // Linearizer path only.
	solveDamped func(lambda float64) ([]float64, bool)
}

func (s *Solver) linearize(x []float64) linearization {
	if lin, ok := s.sys.(Linearizer); ok {
		r, grad, solve := lin.Linearize(x)
		return linearization{r: r, grad: grad, solveDamped: solve}
	}
	r, J := s.sys.Evaluate(x)
	return linearization{r: r, J: J}
}

// NewSolver builds a Solver for sys using opts. A nil logger disables
// per-iteration logging.
func NewSolver(sys System, opts Options, log *zap.Logger) *Solver {
	return &Solver{sys: sys, opts: opts, log: log}
}

// Run seeds the optimization at x0 (not mutated) and iterates until one
// of Options' stopping criteria is met.
func (s *Solver) Run(x0 []float64) Result {
	n := s.sys.NumVars()
	if n == 0 {
		return Result{X: append([]float64(nil), x0...), Stop: StopNoVariables}
	}

	x := append([]float64(nil), x0...)
	cur := s.linearize(x)
	if len(cur.r) == 0 {
		return Result{X: x, Stop: StopNoResiduals}
	}
	cost := sumSquares(cur.r) / 2

	lambda := s.opts.InitialLambda
	iter := 0
	for ; iter < s.opts.MaxIterations; iter++ {
		var jtj *mat.Dense
		jtr := cur.grad
		if cur.solveDamped == nil {
			jtj, jtr = normalEquations(cur.J, cur.r)
		}
		if maxAbs(jtr) < s.opts.GradTolerance {
			return Result{Iterations: iter, FinalCost: cost, X: x, Stop: StopGradTolerance}
		}

		var delta []float64
		var ok bool
		if cur.solveDamped != nil {
			delta, ok = cur.solveDamped(lambda)
		} else {
			damp(jtj, lambda)
			negJtr := make([]float64, len(jtr))
			for i, v := range jtr {
				negJtr[i] = -v
			}
			delta, ok = solveSPD(jtj, negJtr)
		}
		if !ok {
			lambda *= s.opts.LambdaUp
			continue
		}

		candidate := make([]float64, n)
		for i := range candidate {
			candidate[i] = x[i] + delta[i]
		}
		cand := s.linearize(candidate)
		candidateCost := sumSquares(cand.r) / 2

		if candidateCost < cost {
			improvement := (cost - candidateCost) / math.Max(cost, 1e-300)
			x, cur, cost = candidate, cand, candidateCost
			lambda /= s.opts.LambdaDown
			if s.log != nil {
				s.log.Debug("lm step accepted",
					zap.Int("iteration", iter), zap.Float64("cost", cost), zap.Float64("lambda", lambda))
			}
			if improvement < s.opts.CostTolerance {
				return Result{Iterations: iter + 1, FinalCost: cost, X: x, Stop: StopCostTolerance}
			}
		} else {
			lambda *= s.opts.LambdaUp
			if s.log != nil {
				s.log.Debug("lm step rejected",
					zap.Int("iteration", iter), zap.Float64("cost", cost), zap.Float64("lambda", lambda))
			}
		}
	}
	return Result{Iterations: iter, FinalCost: cost, X: x, Stop: StopMaxIterations}
}

// normalEquations forms JᵀJ and Jᵀr.
func normalEquations(J *mat.Dense, r []float64) (*mat.Dense, []float64) {
	rows, cols := J.Dims()
	jtj := mat.NewDense(cols, cols, nil)
	jtj.Mul(J.T(), J)

	rv := mat.NewVecDense(rows, r)
	jtrVec := mat.NewVecDense(cols, nil)
	jtrVec.MulVec(J.T(), rv)
	jtr := make([]float64, cols)
	for i := range jtr {
		jtr[i] = jtrVec.AtVec(i)
	}
	return jtj, jtr
}

// minDampingFloor is the diagonal scale damp assumes for a variable
// whose column of J is exactly zero (no residual depends on it yet),
// so that such a variable still receives a nonzero damping term instead
// of being left entirely unregularized by the Marquardt scaling below.
const minDampingFloor = 1e-12

// damp applies Marquardt's relative-scaling damping in place:
// jtj[i][i] += λ·max(jtj[i][i], minDampingFloor) (spec.md §4.5's
// `λ·diag(JᵀJ)` term). Scaling by each variable's own curvature, rather
// than a flat λ added to every diagonal entry, keeps the step
// well-conditioned across variables with very different natural units
// (world coordinates versus quaternion components).
func damp(jtj *mat.Dense, lambda float64) {
	n, _ := jtj.Dims()
	for i := 0; i < n; i++ {
		d := jtj.At(i, i)
		if d < minDampingFloor {
			d = minDampingFloor
		}
		jtj.Set(i, i, jtj.At(i, i)+lambda*d)
	}
}

// solveSPD solves A·x = b for a symmetric positive definite A via
// Cholesky. ok is false only if A fails to factorize at the current
// damping, in which case Run grows λ and retries from the same point
// (spec.md §4.5's reject-and-grow path).
func solveSPD(a *mat.Dense, b []float64) ([]float64, bool) {
	n := len(b)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, a.At(i, j))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(n, b)); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, true
}

func sumSquares(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return sum
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
