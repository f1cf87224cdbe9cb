// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package validate

import (
	"math"
	"testing"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

func TestCleanProjectPasses(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	b := proj.AddWorldPoint("b")
	if _, err := proj.AddDistancePointPoint("ab", a.ID(), b.ID(), 10, 1e-4); err != nil {
		t.Fatalf("add distance: %v", err)
	}
	vp := proj.AddViewpoint("cam", 640, 480)
	if _, err := proj.AddImagePoint(a.ID(), vp.ID(), 320, 240); err != nil {
		t.Fatalf("add image point: %v", err)
	}
	if findings := Check(proj); len(findings) != 0 {
		t.Errorf("expected clean project, got %d findings, first %v", len(findings), findings[0])
	}
}

func TestNonFiniteLockedAxis(t *testing.T) {
	proj := model.NewProject()
	p := proj.AddWorldPoint("p")
	p.X = model.Locked(math.NaN())
	errs, _ := Split(Check(proj))
	if len(errs) != 1 || errs[0].Code != model.InvalidTargetXYZ {
		t.Fatalf("expected one INVALID_TARGET_XYZ error, got %v", errs)
	}
}

func TestAngleOutOfRangeIsWarning(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	v := proj.AddWorldPoint("v")
	c := proj.AddWorldPoint("c")
	cons, err := proj.AddAnglePointPointPoint("ang", a.ID(), v.ID(), c.ID(), 90, 1e-4)
	if err != nil {
		t.Fatalf("add angle: %v", err)
	}
	cons.TargetAngleDeg = 500 // host edited it after creation.
	errs, warns := Split(Check(proj))
	if len(errs) != 0 {
		t.Fatalf("angle range must not be fatal, got %v", errs)
	}
	if len(warns) != 1 || warns[0].Code != model.InvalidAngleValue {
		t.Fatalf("expected one INVALID_ANGLE_VALUE warning, got %v", warns)
	}
}

func TestCoincidentEndpointIsCircular(t *testing.T) {
	proj := model.NewProject()
	a := proj.AddWorldPoint("a")
	b := proj.AddWorldPoint("b")
	l, err := proj.AddLine("ab", a.ID(), b.ID())
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	l.AddCoincident(a.ID())
	errs, _ := Split(Check(proj))
	if len(errs) != 1 || errs[0].Code != model.CircularDependency {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", errs)
	}
}

func TestInvalidFixedTarget(t *testing.T) {
	proj := model.NewProject()
	p := proj.AddWorldPoint("p")
	c, err := proj.AddFixedPoint("fix", p.ID(), geom.V3(1, 2, 3), 1e-4)
	if err != nil {
		t.Fatalf("add fixed: %v", err)
	}
	c.TargetXYZ.Y = math.Inf(1)
	errs, _ := Split(Check(proj))
	if len(errs) != 1 || errs[0].Code != model.InvalidTargetXYZ {
		t.Fatalf("expected INVALID_TARGET_XYZ, got %v", errs)
	}
}

func TestNonFinitePixel(t *testing.T) {
	proj := model.NewProject()
	p := proj.AddWorldPoint("p")
	vp := proj.AddViewpoint("cam", 640, 480)
	ip, err := proj.AddImagePoint(p.ID(), vp.ID(), 10, 20)
	if err != nil {
		t.Fatalf("add image point: %v", err)
	}
	ip.V = math.NaN()
	errs, _ := Split(Check(proj))
	if len(errs) != 1 || errs[0].Code != model.InvalidObservedPixel {
		t.Fatalf("expected INVALID_OBSERVED_PIXEL, got %v", errs)
	}
}
