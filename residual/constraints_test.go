// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package residual

import (
	"math"
	"testing"

	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

func valueMapFor(pts map[model.WorldPointID]geom.Vec3) (*autodiff.Tape, *ValueMap) {
	tape := autodiff.NewTape()
	vm := &ValueMap{Tape: tape, Points: make(map[model.WorldPointID]autodiff.Vec3)}
	for id, p := range pts {
		vm.Points[id] = autodiff.NewVec3(tape, p.X, p.Y, p.Z)
	}
	return tape, vm
}

func assertNearZero(t *testing.T, res []autodiff.Value) {
	t.Helper()
	for i, r := range res {
		if math.Abs(r.Float()) > 1e-9 {
			t.Fatalf("residual[%d] = %v, want ~0", i, r.Float())
		}
	}
}

func TestDistanceResidualZeroAtTarget(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	b := proj.AddWorldPoint("b")
	c, err := proj.AddDistancePointPoint("d", a.ID(), b.ID(), 50, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	_, vm := valueMapFor(map[model.WorldPointID]geom.Vec3{
		a.ID(): geom.V3(0, 0, 0),
		b.ID(): geom.V3(50, 0, 0),
	})
	res, ok := Build(vm, proj, c)
	if !ok {
		t.Fatalf("expected residual")
	}
	assertNearZero(t, res)
}

func TestAngleResidualZeroAtTarget(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	v := proj.AddWorldPoint("v")
	c := proj.AddWorldPoint("c")
	cons, err := proj.AddAnglePointPointPoint("ang", a.ID(), v.ID(), c.ID(), 90, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	_, vm := valueMapFor(map[model.WorldPointID]geom.Vec3{
		a.ID(): geom.V3(10, 0, 0),
		v.ID(): geom.V3(0, 0, 0),
		c.ID(): geom.V3(0, 10, 0),
	})
	res, ok := Build(vm, proj, cons)
	if !ok {
		t.Fatalf("expected residual")
	}
	assertNearZero(t, res)
}

func TestCollinearResidualLocality(t *testing.T) {
	proj := model.NewProject()
	p0 := proj.AddWorldPoint("p0")
	p1 := proj.AddWorldPoint("p1")
	p2 := proj.AddWorldPoint("p2")
	unrelated := proj.AddWorldPoint("other")
	cons, err := proj.AddCollinearPoints("col", []model.WorldPointID{p0.ID(), p1.ID(), p2.ID()}, 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	base := map[model.WorldPointID]geom.Vec3{
		p0.ID(): geom.V3(0, 0, 0),
		p1.ID(): geom.V3(10, 0, 0),
		p2.ID(): geom.V3(5, 0, 0),
	}
	_, vm1 := valueMapFor(base)
	res1, _ := Build(vm1, proj, cons)
	assertNearZero(t, res1)

	// Varying a point not named by the constraint must not change its
	// residual (spec.md §8 property 2); unrelated isn't even in vm2's
	// map to prove the builder never looks at it.
	withUnrelated := map[model.WorldPointID]geom.Vec3{
		p0.ID(): geom.V3(0, 0, 0),
		p1.ID(): geom.V3(10, 0, 0),
		p2.ID(): geom.V3(5, 0, 0),
	}
	_, vm2 := valueMapFor(withUnrelated)
	res2, _ := Build(vm2, proj, cons)
	for i := range res1 {
		if math.Abs(res1[i].Float()-res2[i].Float()) > 1e-12 {
			t.Fatalf("residual changed despite unrelated point: %v vs %v", res1[i].Float(), res2[i].Float())
		}
	}
	_ = unrelated
}

func TestCoplanarResidualZeroAtTarget(t *testing.T) {
	proj := model.NewProject()
	p0 := proj.AddWorldPoint("p0")
	p1 := proj.AddWorldPoint("p1")
	p2 := proj.AddWorldPoint("p2")
	p3 := proj.AddWorldPoint("p3")
	cons, err := proj.AddCoplanarPoints("cop", []model.WorldPointID{p0.ID(), p1.ID(), p2.ID(), p3.ID()}, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	_, vm := valueMapFor(map[model.WorldPointID]geom.Vec3{
		p0.ID(): geom.V3(0, 0, 0),
		p1.ID(): geom.V3(10, 0, 0),
		p2.ID(): geom.V3(0, 10, 0),
		p3.ID(): geom.V3(5, 5, 0),
	})
	res, ok := Build(vm, proj, cons)
	if !ok {
		t.Fatalf("expected residual")
	}
	assertNearZero(t, res)
}

func TestBuildMissingOperandReturnsNotOK(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	b := proj.AddWorldPoint("b")
	c, err := proj.AddDistancePointPoint("d", a.ID(), b.ID(), 50, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	_, vm := valueMapFor(map[model.WorldPointID]geom.Vec3{a.ID(): geom.V3(0, 0, 0)})
	if _, ok := Build(vm, proj, c); ok {
		t.Fatalf("expected ok=false when an operand is missing from the ValueMap")
	}
}
