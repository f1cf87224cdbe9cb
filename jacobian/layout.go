// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package jacobian implements the explicit-Jacobian solver back end
// (spec.md §4.4): a VariableLayout assigning contiguous float64 indices
// to the optimization variables, and a ResidualProvider per constraint
// kind that computes both its residual vector and its Jacobian against
// that layout (closed form where a provider has one, central
// differences otherwise). Dense assembly uses gonum/mat; see
// package solve for the LM loop that drives providers through either
// this back end or the autodiff one.
package jacobian

import (
	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
)

func vec3Ptr(x, y, z float64) *geom.Vec3 {
	v := geom.V3(x, y, z)
	return &v
}

// VariableLayout assigns a contiguous range of indices in the flat
// optimization vector to each free/inferred world-point axis and to
// each optimized camera's pose (position + quaternion) and, optionally,
// focal length. Locked axes and cameras with pose optimization disabled
// occupy no slots; they are read from the project's stored values
// instead (spec.md §4.4's "constant slot" table).
type VariableLayout struct {
	n int

	pointIndex map[model.WorldPointID][3]int // -1 per axis not optimized.
	pointConst map[model.WorldPointID][3]float64

	cameraIndex map[model.ViewpointID]cameraSlots
	nextID      int
}

type cameraSlots struct {
	pos      [3]int // -1,-1,-1 if pose is not optimized for this camera.
	rot      [4]int // w,x,y,z order matching geom.Quat
	focal    int     // -1 if focal length is not optimized.
	optPose  bool
	optFocal bool
}

const unassigned = -1

// NewVariableLayout builds a layout over every world point and
// viewpoint in proj. optimizePose controls whether camera pose
// variables are emitted at all (spec.md §4.4: "pose optimisation can be
// disabled per call, in which case the camera contributes no
// variables"); optimizeIntrinsics controls whether focal length is
// appended per optimized camera.
func NewVariableLayout(proj *model.Project, optimizePose, optimizeIntrinsics bool) *VariableLayout {
	l := &VariableLayout{
		pointIndex:  make(map[model.WorldPointID][3]int),
		pointConst:  make(map[model.WorldPointID][3]float64),
		cameraIndex: make(map[model.ViewpointID]cameraSlots),
	}
	for _, wp := range proj.WorldPoints() {
		var idx [3]int
		var cst [3]float64
		axes := [3]*model.Axis{&wp.X, &wp.Y, &wp.Z}
		for i, ax := range axes {
			if ax.State == model.AxisLocked {
				idx[i] = unassigned
				cst[i] = ax.Value
				continue
			}
			idx[i] = l.alloc(1)
			if ax.State == model.AxisInferred {
				cst[i] = ax.Value // seed value; solver may still move it.
			}
		}
		l.pointIndex[wp.ID()] = idx
		l.pointConst[wp.ID()] = cst
	}

	for _, vp := range proj.Viewpoints() {
		var cs cameraSlots
		cs.pos = [3]int{unassigned, unassigned, unassigned}
		cs.rot = [4]int{unassigned, unassigned, unassigned, unassigned}
		cs.focal = unassigned
		if optimizePose {
			cs.optPose = true
			for i := range cs.pos {
				cs.pos[i] = l.alloc(1)
			}
			for i := range cs.rot {
				cs.rot[i] = l.alloc(1)
			}
		}
		if optimizeIntrinsics {
			cs.optFocal = true
			cs.focal = l.alloc(1)
		}
		l.cameraIndex[vp.ID()] = cs
	}
	return l
}

func (l *VariableLayout) alloc(count int) int {
	idx := l.n
	l.n += count
	return idx
}

// NumVars returns the size of the flat optimization vector.
func (l *VariableLayout) NumVars() int { return l.n }

// NextProviderID returns a fresh monotonically increasing id, reset for
// every new layout (spec.md §4.4: "the layout resets its generator per
// solve").
func (l *VariableLayout) NextProviderID() int {
	id := l.nextID
	l.nextID++
	return id
}

// PointAxis returns the variable index for world point id's axis i
// (0=X,1=Y,2=Z), or (unassigned, constant) if that axis is locked.
func (l *VariableLayout) PointAxis(id model.WorldPointID, axis int) (index int, constant float64) {
	idx := l.pointIndex[id]
	return idx[axis], l.pointConst[id][axis]
}

// PointIndices returns the three (possibly -1) variable indices for a
// world point, used by providers to build their variableIndices list.
func (l *VariableLayout) PointIndices(id model.WorldPointID) [3]int { return l.pointIndex[id] }

// CameraPoseIndices returns a camera's position (3) and rotation (4,
// w/x/y/z) variable indices, all unassigned if pose optimization is
// off for this layout.
func (l *VariableLayout) CameraPoseIndices(id model.ViewpointID) (pos [3]int, rot [4]int, optimized bool) {
	cs := l.cameraIndex[id]
	return cs.pos, cs.rot, cs.optPose
}

// CameraFocalIndex returns the focal-length variable index for a
// camera, or (unassigned, false) if intrinsics are not being optimized.
func (l *VariableLayout) CameraFocalIndex(id model.ViewpointID) (index int, optimized bool) {
	cs := l.cameraIndex[id]
	return cs.focal, cs.optFocal
}

// PointVec3 reads world point id's current position out of x,
// substituting the layout's stored constant for any locked axis.
func (l *VariableLayout) PointVec3(x []float64, id model.WorldPointID) geom.Vec3 {
	idx := l.pointIndex[id]
	cst := l.pointConst[id]
	var out [3]float64
	for i := 0; i < 3; i++ {
		if idx[i] == unassigned {
			out[i] = cst[i]
		} else {
			out[i] = x[idx[i]]
		}
	}
	return geom.V3(out[0], out[1], out[2])
}

// CameraPose reads a camera's position and (unit) rotation out of x,
// or its stored proj values if pose optimization is off.
func (l *VariableLayout) CameraPose(x []float64, proj *model.Project, id model.ViewpointID) geom.Transform {
	cs := l.cameraIndex[id]
	vp := proj.Viewpoint(id)
	if !cs.optPose {
		return vp.Pose
	}
	pos := geom.V3(x[cs.pos[0]], x[cs.pos[1]], x[cs.pos[2]])
	rot := geom.Quat{W: x[cs.rot[0]], X: x[cs.rot[1]], Y: x[cs.rot[2]], Z: x[cs.rot[3]]}.Unit()
	return geom.Transform{Loc: pos, Rot: rot}
}

// CameraFocal reads a camera's focal length out of x, or its stored
// proj value if intrinsics optimization is off.
func (l *VariableLayout) CameraFocal(x []float64, proj *model.Project, id model.ViewpointID) float64 {
	cs := l.cameraIndex[id]
	if !cs.optFocal {
		return proj.Viewpoint(id).Intrinsics.FocalLength
	}
	return x[cs.focal]
}

// Seed fills x (len NumVars()) with every variable's current value read
// from proj: world point axes from Axis.Value (or OptimizedXYZ where
// present), camera position/rotation from Pose, and focal length from
// Intrinsics.
func (l *VariableLayout) Seed(proj *model.Project, x []float64) {
	for _, wp := range proj.WorldPoints() {
		idx := l.pointIndex[wp.ID()]
		vals := seedValues(wp)
		for i := 0; i < 3; i++ {
			if idx[i] != unassigned {
				x[idx[i]] = vals[i]
			}
		}
	}
	for _, vp := range proj.Viewpoints() {
		cs := l.cameraIndex[vp.ID()]
		if cs.optPose {
			x[cs.pos[0]], x[cs.pos[1]], x[cs.pos[2]] = vp.Pose.Loc.X, vp.Pose.Loc.Y, vp.Pose.Loc.Z
			q := vp.Pose.Rot.Unit()
			x[cs.rot[0]], x[cs.rot[1]], x[cs.rot[2]], x[cs.rot[3]] = q.W, q.X, q.Y, q.Z
		}
		if cs.optFocal {
			x[cs.focal] = vp.Intrinsics.FocalLength
		}
	}
}

func seedValues(wp *model.WorldPoint) [3]float64 {
	axes := [3]model.Axis{wp.X, wp.Y, wp.Z}
	var out [3]float64
	hasOpt := wp.OptimizedXYZ != nil
	for i, ax := range axes {
		switch {
		case ax.State == model.AxisLocked:
			out[i] = ax.Value
		case hasOpt:
			out[i] = wp.OptimizedXYZ.Get(i)
		case ax.State == model.AxisInferred:
			out[i] = ax.Value
		default:
			out[i] = 0
		}
	}
	return out
}

// Writeback copies the solved vector x back into proj: free/inferred
// world point axes update OptimizedXYZ (never the locked Axis.Value),
// optimized camera poses update Pose, and optimized focal lengths
// update Intrinsics.FocalLength.
func (l *VariableLayout) Writeback(proj *model.Project, x []float64) {
	for _, wp := range proj.WorldPoints() {
		idx := l.pointIndex[wp.ID()]
		cst := l.pointConst[wp.ID()]
		var out [3]float64
		for i := 0; i < 3; i++ {
			if idx[i] != unassigned {
				out[i] = x[idx[i]]
			} else {
				out[i] = cst[i]
			}
		}
		wp.OptimizedXYZ = vec3Ptr(out[0], out[1], out[2])
	}
	for _, vp := range proj.Viewpoints() {
		cs := l.cameraIndex[vp.ID()]
		if cs.optPose {
			vp.Pose.Loc.X, vp.Pose.Loc.Y, vp.Pose.Loc.Z = x[cs.pos[0]], x[cs.pos[1]], x[cs.pos[2]]
			vp.Pose.Rot.W, vp.Pose.Rot.X, vp.Pose.Rot.Y, vp.Pose.Rot.Z = x[cs.rot[0]], x[cs.rot[1]], x[cs.rot[2]], x[cs.rot[3]]
			vp.Pose.Rot = vp.Pose.Rot.Unit()
		}
		if cs.optFocal {
			vp.Intrinsics.FocalLength = x[cs.focal]
		}
	}
}
