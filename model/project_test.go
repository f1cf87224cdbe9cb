// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package model

import (
	"testing"

	"github.com/trailmark/recon3d/internal/geom"
)

func TestAddWorldPointAndDistanceConstraint(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	b := p.AddWorldPoint("B")

	c, err := p.AddDistancePointPoint("AB", a.ID(), b.ID(), 1.5, 1e-6)
	if err != nil {
		t.Fatalf("AddDistancePointPoint: %v", err)
	}
	if c.TargetDistance != 1.5 {
		t.Fatalf("TargetDistance = %v, want 1.5", c.TargetDistance)
	}
	if got := a.Constraints(); len(got) != 1 || got[0] != c.ID() {
		t.Fatalf("world point A constraints = %v, want [%v]", got, c.ID())
	}
}

func TestAddDistancePointPointRejectsSamePoint(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	if _, err := p.AddDistancePointPoint("bad", a.ID(), a.ID(), 1, 1e-6); err == nil {
		t.Fatal("expected error constraining a point to itself")
	}
}

func TestRemoveWorldPointOrphansShortConstraint(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	b := p.AddWorldPoint("B")
	c, err := p.AddDistancePointPoint("AB", a.ID(), b.ID(), 1, 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	p.RemoveWorldPoint(a.ID())

	if got := p.Constraint(c.ID()); got != nil {
		t.Fatal("distance constraint should have been removed once a point dropped below its 2-point minimum")
	}
	if len(p.Warnings()) != 1 {
		t.Fatalf("Warnings() = %d, want 1", len(p.Warnings()))
	}
	if p.WorldPoint(b.ID()) == nil {
		t.Fatal("removing A should not remove B")
	}
}

func TestRemoveWorldPointShrinksCollinearConstraint(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	b := p.AddWorldPoint("B")
	c := p.AddWorldPoint("C")
	d := p.AddWorldPoint("D")

	col, err := p.AddCollinearPoints("line", []WorldPointID{a.ID(), b.ID(), c.ID(), d.ID()}, 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	p.RemoveWorldPoint(a.ID())

	if got := p.Constraint(col.ID()); got == nil {
		t.Fatal("collinear constraint with 4 points should survive dropping to 3")
	} else if len(got.Points) != 3 {
		t.Fatalf("collinear constraint Points = %d, want 3", len(got.Points))
	}
}

func TestRemoveWorldPointCascadesLinesAndImagePoints(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	b := p.AddWorldPoint("B")
	l, err := p.AddLine("AB", a.ID(), b.ID())
	if err != nil {
		t.Fatal(err)
	}
	vp := p.AddViewpoint("cam", 1920, 1080)
	ip, err := p.AddImagePoint(a.ID(), vp.ID(), 100, 200)
	if err != nil {
		t.Fatal(err)
	}

	p.RemoveWorldPoint(a.ID())

	if p.Line(l.ID()) != nil {
		t.Fatal("line should be removed when an endpoint is removed")
	}
	if p.ImagePoint(ip.ID()) != nil {
		t.Fatal("image point should be removed when its world point is removed")
	}
	if got := vp.ImagePoints(); len(got) != 0 {
		t.Fatalf("viewpoint still references removed image point: %v", got)
	}
}

func TestRemoveLineOrphansParallelConstraint(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	b := p.AddWorldPoint("B")
	c := p.AddWorldPoint("C")
	d := p.AddWorldPoint("D")
	l1, _ := p.AddLine("AB", a.ID(), b.ID())
	l2, _ := p.AddLine("CD", c.ID(), d.ID())

	par, err := p.AddParallelLines("par", l1.ID(), l2.ID(), 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	p.RemoveLine(l1.ID())

	if p.Constraint(par.ID()) != nil {
		t.Fatal("parallel constraint should be removed once one of its two lines is gone")
	}
}

func TestRemoveViewpointCascadesImagePoints(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	vp := p.AddViewpoint("cam", 640, 480)
	ip, err := p.AddImagePoint(a.ID(), vp.ID(), 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	p.RemoveViewpoint(vp.ID())

	if p.ImagePoint(ip.ID()) != nil {
		t.Fatal("image point should be removed when its viewpoint is removed")
	}
	if got := a.ImagePoints(); len(got) != 0 {
		t.Fatalf("world point still references removed image point: %v", got)
	}
}

func TestWorldPointIDStaleAfterRemoval(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	first := a.ID()
	p.RemoveWorldPoint(first)

	if p.WorldPoint(first) != nil {
		t.Fatal("stale id should no longer resolve after removal")
	}
}

func TestAddFixedPointRejectsNonFinite(t *testing.T) {
	p := NewProject()
	a := p.AddWorldPoint("A")
	nan := geom.V3(1, 0, 0)
	nan.X = nan.X / 0 * 0 // NaN without importing math
	if _, err := p.AddFixedPoint("pin", a.ID(), nan, 1e-6); err == nil {
		t.Fatal("expected error for non-finite fixed point target")
	}
}
