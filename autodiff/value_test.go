// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package autodiff

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestGradientProduct(t *testing.T) {
	tape := NewTape()
	x := tape.Var(3)
	y := tape.Var(4)
	z := x.Mul(y) // z = x*y, dz/dx = y = 4, dz/dy = x = 3
	adj := tape.Gradient(z)
	if !almostEqual(At(adj, x), 4) {
		t.Errorf("dz/dx = %v, want 4", At(adj, x))
	}
	if !almostEqual(At(adj, y), 3) {
		t.Errorf("dz/dy = %v, want 3", At(adj, y))
	}
}

func TestGradientChain(t *testing.T) {
	tape := NewTape()
	x := tape.Var(2)
	// f = sqrt(x^2 + 1), df/dx = x/sqrt(x^2+1)
	f := x.Mul(x).AddC(1).Sqrt()
	adj := tape.Gradient(f)
	want := 2 / math.Sqrt(5)
	if !almostEqual(At(adj, x), want) {
		t.Errorf("df/dx = %v, want %v", At(adj, x), want)
	}
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	f := func(x, y float64) float64 {
		return math.Sin(x)*y + math.Sqrt(x*x+y*y+1e-10)
	}
	x0, y0 := 0.7, -1.3
	tape := NewTape()
	x := tape.Var(x0)
	y := tape.Var(y0)
	out := x.Sin().Mul(y).Add(x.Mul(x).Add(y.Mul(y)).Add(tape.C(1e-10)).Sqrt())
	adj := tape.Gradient(out)

	const h = 1e-6
	dfdx := (f(x0+h, y0) - f(x0-h, y0)) / (2 * h)
	dfdy := (f(x0, y0+h) - f(x0, y0-h)) / (2 * h)

	if math.Abs(At(adj, x)-dfdx) > 1e-5 {
		t.Errorf("df/dx = %v, want ~%v", At(adj, x), dfdx)
	}
	if math.Abs(At(adj, y)-dfdy) > 1e-5 {
		t.Errorf("df/dy = %v, want ~%v", At(adj, y), dfdy)
	}
}

func TestVec3CrossGradient(t *testing.T) {
	tape := NewTape()
	a := VarVec3(tape, 1, 0, 0)
	b := VarVec3(tape, 0, 1, 0)
	c := a.Cross(b) // (0,0,1)
	if !almostEqual(c.X.Float(), 0) || !almostEqual(c.Y.Float(), 0) || !almostEqual(c.Z.Float(), 1) {
		t.Errorf("cross = (%v,%v,%v), want (0,0,1)", c.X.Float(), c.Y.Float(), c.Z.Float())
	}
}

func TestAngleBetweenOrthogonal(t *testing.T) {
	tape := NewTape()
	a := VarVec3(tape, 1, 0, 0)
	b := VarVec3(tape, 0, 2, 0)
	ang := a.AngleBetween(tape, b)
	if !almostEqual(ang.Float(), math.Pi/2) {
		t.Errorf("angle = %v, want pi/2", ang.Float())
	}
}

func TestAtan2Gradient(t *testing.T) {
	tape := NewTape()
	y := tape.Var(1)
	x := tape.Var(1)
	out := Atan2(y, x)
	if !almostEqual(out.Float(), math.Pi/4) {
		t.Errorf("atan2(1,1) = %v, want pi/4", out.Float())
	}
	adj := tape.Gradient(out)
	// d/dy atan2(y,x) = x/(x^2+y^2) = 0.5 ; d/dx = -y/(x^2+y^2) = -0.5
	if !almostEqual(At(adj, y), 0.5) || !almostEqual(At(adj, x), -0.5) {
		t.Errorf("gradient = (%v,%v), want (0.5,-0.5)", At(adj, y), At(adj, x))
	}
}
