// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

package solve

import (
	"gonum.org/v1/gonum/mat"

	"github.com/trailmark/recon3d/autodiff"
	"github.com/trailmark/recon3d/camera"
	"github.com/trailmark/recon3d/jacobian"
	"github.com/trailmark/recon3d/model"
	"github.com/trailmark/recon3d/residual"
)

// AutodiffSystem is solver back end A (spec.md §4.1): every Evaluate
// call builds a fresh Tape, seeds one autodiff.Value per free variable
// from x, runs the full residual.EvaluateAll over it, and harvests the
// Jacobian by running one reverse pass per residual (spec.md: "for each
// residual, run Gradient once and read off the partials for the
// variables it touches"). The Tape is discarded at the end of the call;
// nothing here is safe to reuse across iterations.
type AutodiffSystem struct {
	Proj   *model.Project
	Layout *jacobian.VariableLayout
	Opts   residual.Options
}

// NewAutodiffSystem builds the row-by-row autodiff back end over proj,
// sharing layout with whatever back end the caller is comparing against
// (both back ends use the identical variable numbering from package
// jacobian, so their solved x vectors are directly comparable).
func NewAutodiffSystem(proj *model.Project, layout *jacobian.VariableLayout, opts residual.Options) *AutodiffSystem {
	return &AutodiffSystem{Proj: proj, Layout: layout, Opts: opts}
}

// NumVars returns the flat variable count.
func (s *AutodiffSystem) NumVars() int { return s.Layout.NumVars() }

// Evaluate implements System.
func (s *AutodiffSystem) Evaluate(x []float64) ([]float64, *mat.Dense) {
	tape := autodiff.NewTape()
	n := s.Layout.NumVars()
	varValue := make([]autodiff.Value, n)

	variable := func(col int, constant float64) autodiff.Value {
		if col < 0 {
			return tape.C(constant)
		}
		v := tape.Var(x[col])
		varValue[col] = v
		return v
	}

	vm := &residual.ValueMap{
		Tape:    tape,
		Points:  make(map[model.WorldPointID]autodiff.Vec3, len(s.Proj.WorldPoints())),
		Cameras: make(map[model.ViewpointID]residual.CameraVars, len(s.Proj.Viewpoints())),
	}

	for _, wp := range s.Proj.WorldPoints() {
		id := wp.ID()
		colX, cx := s.Layout.PointAxis(id, 0)
		colY, cy := s.Layout.PointAxis(id, 1)
		colZ, cz := s.Layout.PointAxis(id, 2)
		vm.Points[id] = autodiff.Vec3{
			X: variable(colX, cx),
			Y: variable(colY, cy),
			Z: variable(colZ, cz),
		}
	}

	for _, vp := range s.Proj.Viewpoints() {
		id := vp.ID()
		posIdx, rotIdx, optPose := s.Layout.CameraPoseIndices(id)
		focalIdx, optFocal := s.Layout.CameraFocalIndex(id)

		var pose camera.ValuePose
		if optPose {
			pose.Pos = autodiff.Vec3{
				X: variable(posIdx[0], 0),
				Y: variable(posIdx[1], 0),
				Z: variable(posIdx[2], 0),
			}
			pose.Rot = autodiff.Vec4{
				W: variable(rotIdx[0], 0),
				X: variable(rotIdx[1], 0),
				Y: variable(rotIdx[2], 0),
				Z: variable(rotIdx[3], 0),
			}
		} else {
			p := vp.Pose
			pose.Pos = autodiff.Vec3{X: tape.C(p.Loc.X), Y: tape.C(p.Loc.Y), Z: tape.C(p.Loc.Z)}
			q := p.Rot.Unit()
			pose.Rot = autodiff.Vec4{W: tape.C(q.W), X: tape.C(q.X), Y: tape.C(q.Y), Z: tape.C(q.Z)}
		}

		intr := vp.Intrinsics
		focal := tape.C(intr.FocalLength)
		if optFocal {
			focal = variable(focalIdx, intr.FocalLength)
		}

		vm.Cameras[id] = residual.CameraVars{
			Pose: pose,
			Intrinsics: camera.ValueIntrinsics{
				FocalLength: focal,
				AspectRatio: tape.C(intr.AspectRatio),
				Cx:          tape.C(intr.PrincipalPoint[0]),
				Cy:          tape.C(intr.PrincipalPoint[1]),
				Skew:        tape.C(intr.Skew),
				K1:          tape.C(intr.K1),
				K2:          tape.C(intr.K2),
				K3:          tape.C(intr.K3),
				P1:          tape.C(intr.P1),
				P2:          tape.C(intr.P2),
			},
			IsZReflected: vp.IsZReflected,
		}
	}

	residuals := residual.EvaluateAll(s.Proj, vm, s.Opts)
	if len(residuals) == 0 {
		return nil, nil
	}

	r := make([]float64, len(residuals))
	J := mat.NewDense(len(residuals), n, nil)
	for row, res := range residuals {
		r[row] = res.Float()
		adj := tape.Gradient(res)
		for col := 0; col < n; col++ {
			if d := autodiff.At(adj, varValue[col]); d != 0 {
				J.Set(row, col, d)
			}
		}
	}
	return r, J
}
