// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package autodiff implements the scalar reverse-mode automatic
// differentiation runtime used by the autodiff solver back end
// (spec.md §4.1). A Tape records every operation performed on its
// Values as a flat Wengert list; a single reverse pass over that list
// then yields the partial derivative of any recorded value with respect
// to every other node in one linear-time sweep.
//
// The runtime is restartable by construction: each solver iteration
// builds a fresh Tape from the current variable values and discards it
// once the residual/Jacobian for that iteration has been harvested (see
// solve.AutodiffSystem). Tapes are never reused across iterations.
package autodiff

import "math"

// node is one entry of the Wengert list: a computed value plus, for
// every parent it was derived from, the local partial derivative of
// this node with respect to that parent.
type node struct {
	value    float64
	parents  [2]int
	partials [2]float64
}

const noParent = -1

// Tape owns the nodes created during one residual build. It is not
// safe for concurrent use; each residual evaluation owns exactly one
// Tape (spec.md §5: no shared mutable state across evaluations).
type Tape struct {
	nodes []node
}

// NewTape returns an empty tape ready to record values.
func NewTape() *Tape {
	return &Tape{}
}

// Value is a scalar tracked on a Tape. The zero Value is not usable;
// every Value must originate from a Tape method or an operation on
// another Value from the same tape.
type Value struct {
	tape *Tape
	idx  int
}

func (t *Tape) push(v float64, p0, p1 int, d0, d1 float64) Value {
	t.nodes = append(t.nodes, node{value: v, parents: [2]int{p0, p1}, partials: [2]float64{d0, d1}})
	return Value{tape: t, idx: len(t.nodes) - 1}
}

// leaf records a node with no parents: either a constant or a seeded
// optimization variable. The two are structurally identical; what
// distinguishes a "variable" is that the caller later asks the tape for
// its gradient contribution.
func (t *Tape) leaf(v float64) Value {
	return t.push(v, noParent, noParent, 0, 0)
}

// C lifts a plain constant into the tape (spec.md §4.1's C(x)).
func (t *Tape) C(x float64) Value { return t.leaf(x) }

// Var records an optimization variable's current value as a tape leaf.
func (t *Tape) Var(x float64) Value { return t.leaf(x) }

// Float returns the forward-computed value of v.
func (v Value) Float() float64 { return v.tape.nodes[v.idx].value }

// Tape returns the tape v was recorded on.
func (v Value) Tape() *Tape { return v.tape }

// Add returns a+b.
func (a Value) Add(b Value) Value {
	return a.tape.push(a.Float()+b.Float(), a.idx, b.idx, 1, 1)
}

// Sub returns a-b.
func (a Value) Sub(b Value) Value {
	return a.tape.push(a.Float()-b.Float(), a.idx, b.idx, 1, -1)
}

// Mul returns a*b.
func (a Value) Mul(b Value) Value {
	return a.tape.push(a.Float()*b.Float(), a.idx, b.idx, b.Float(), a.Float())
}

// Div returns a/b.
func (a Value) Div(b Value) Value {
	bv := b.Float()
	return a.tape.push(a.Float()/bv, a.idx, b.idx, 1/bv, -a.Float()/(bv*bv))
}

// Neg returns -a.
func (a Value) Neg() Value {
	return a.tape.push(-a.Float(), a.idx, noParent, -1, 0)
}

// Sqrt returns sqrt(a). a must be non-negative.
func (a Value) Sqrt() Value {
	s := math.Sqrt(a.Float())
	d := 0.0
	if s > 0 {
		d = 0.5 / s
	}
	return a.tape.push(s, a.idx, noParent, d, 0)
}

// Sin returns sin(a).
func (a Value) Sin() Value {
	return a.tape.push(math.Sin(a.Float()), a.idx, noParent, math.Cos(a.Float()), 0)
}

// Cos returns cos(a).
func (a Value) Cos() Value {
	return a.tape.push(math.Cos(a.Float()), a.idx, noParent, -math.Sin(a.Float()), 0)
}

// Acos returns acos(a), clamping the input to [-1,1] to tolerate the
// small floating point overshoot that residual evaluation commonly
// produces at the boundary.
func (a Value) Acos() Value {
	x := a.Float()
	clamped := x
	if clamped > 1 {
		clamped = 1
	} else if clamped < -1 {
		clamped = -1
	}
	d := 0.0
	denom := 1 - clamped*clamped
	if denom > 1e-12 {
		d = -1 / math.Sqrt(denom)
	}
	return a.tape.push(math.Acos(clamped), a.idx, noParent, d, 0)
}

// Atan2 returns atan2(y, x).
func Atan2(y, x Value) Value {
	if y.tape != x.tape {
		panic("autodiff: Atan2 operands from different tapes")
	}
	yv, xv := y.Float(), x.Float()
	denom := xv*xv + yv*yv
	dy, dx := 0.0, 0.0
	if denom > 1e-300 {
		dy = xv / denom
		dx = -yv / denom
	}
	return y.tape.push(math.Atan2(yv, xv), y.idx, x.idx, dy, dx)
}

// Scale returns a*s for a plain scalar s (a constant lifted implicitly).
func (a Value) Scale(s float64) Value {
	return a.tape.push(a.Float()*s, a.idx, noParent, s, 0)
}

// AddC returns a+c for a plain scalar c.
func (a Value) AddC(c float64) Value {
	return a.tape.push(a.Float()+c, a.idx, noParent, 1, 0)
}

// Gradient runs a single reverse pass seeded at root and returns the
// adjoint (partial derivative of root) for every node on the tape,
// indexed by node creation order. Callers harvest the entries
// corresponding to the variables they care about.
func (t *Tape) Gradient(root Value) []float64 {
	if root.tape != t {
		panic("autodiff: Gradient root is not from this tape")
	}
	adj := make([]float64, len(t.nodes))
	adj[root.idx] = 1
	for i := len(t.nodes) - 1; i >= 0; i-- {
		d := adj[i]
		if d == 0 {
			continue
		}
		n := t.nodes[i]
		if n.parents[0] != noParent {
			adj[n.parents[0]] += d * n.partials[0]
		}
		if n.parents[1] != noParent {
			adj[n.parents[1]] += d * n.partials[1]
		}
	}
	return adj
}

// At returns the adjoint recorded for v in a gradient previously
// computed by Gradient.
func At(adjoints []float64, v Value) float64 {
	if v.idx >= len(adjoints) {
		return 0
	}
	return adjoints[v.idx]
}
