// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package validate implements the project integrity checks of
// spec.md §4.8: dangling references, back-link consistency, operand
// count rules, finite locked coordinates, and circular coincidence.
// Check runs the full battery and returns every finding; callers that
// need the fatal/advisory split (serialize runs pre-save and post-load
// with errors fatal and warnings passed through) use Split.
package validate

import (
	"fmt"
	"math"

	"github.com/trailmark/recon3d/model"
)

// Check runs every validator over proj and returns all findings,
// errors and warnings mixed, in entity order. An empty result means
// the project passes validation.
func Check(proj *model.Project) []*model.ValidationError {
	var out []*model.ValidationError
	out = append(out, checkWorldPoints(proj)...)
	out = append(out, checkLines(proj)...)
	out = append(out, checkImagePoints(proj)...)
	out = append(out, checkConstraints(proj)...)
	return out
}

// Split separates findings by severity.
func Split(findings []*model.ValidationError) (errors, warnings []*model.ValidationError) {
	for _, f := range findings {
		if f.Severity == model.SeverityError {
			errors = append(errors, f)
		} else {
			warnings = append(warnings, f)
		}
	}
	return errors, warnings
}

func checkWorldPoints(proj *model.Project) []*model.ValidationError {
	var out []*model.ValidationError
	for _, wp := range proj.WorldPoints() {
		axes := [3]model.Axis{wp.X, wp.Y, wp.Z}
		names := [3]string{"x", "y", "z"}
		for i, ax := range axes {
			if ax.State == model.AxisLocked && (math.IsNaN(ax.Value) || math.IsInf(ax.Value, 0)) {
				out = append(out, &model.ValidationError{
					Code: model.InvalidTargetXYZ, Severity: model.SeverityError,
					Message:    fmt.Sprintf("locked %s coordinate is not finite", names[i]),
					EntityKind: "WorldPoint", EntityID: uint32(wp.ID()),
				})
			}
		}
		// Back-link sets must be mirrored by the entities they name.
		for _, cid := range wp.Constraints() {
			c := proj.Constraint(cid)
			if c == nil {
				out = append(out, backlink(wp.ID(), "names a nonexistent constraint"))
				continue
			}
			if !namesPoint(c.Operands(), wp.ID()) {
				out = append(out, backlink(wp.ID(), fmt.Sprintf("holds a back-link to constraint %q that does not name it", c.Name)))
			}
		}
		for _, ipID := range wp.ImagePoints() {
			ip := proj.ImagePoint(ipID)
			if ip == nil {
				out = append(out, backlink(wp.ID(), "names a nonexistent image point"))
				continue
			}
			if ip.WorldPoint != wp.ID() {
				out = append(out, backlink(wp.ID(), "holds a back-link to an image point observing a different world point"))
			}
		}
	}
	return out
}

func backlink(id model.WorldPointID, msg string) *model.ValidationError {
	return &model.ValidationError{
		Code: model.DanglingReference, Severity: model.SeverityError,
		Message: msg, EntityKind: "WorldPoint", EntityID: uint32(id),
	}
}

func checkLines(proj *model.Project) []*model.ValidationError {
	var out []*model.ValidationError
	for _, l := range proj.Lines() {
		if proj.WorldPoint(l.PointA) == nil || proj.WorldPoint(l.PointB) == nil {
			out = append(out, &model.ValidationError{
				Code: model.DanglingReference, Severity: model.SeverityError,
				Message: "line endpoint does not exist", EntityKind: "Line", EntityID: uint32(l.ID()),
			})
		}
		if l.PointA == l.PointB {
			out = append(out, &model.ValidationError{
				Code: model.DuplicatePoints, Severity: model.SeverityError,
				Message: "line endpoints are the same point", EntityKind: "Line", EntityID: uint32(l.ID()),
			})
		}
		if l.TargetLength != nil && (*l.TargetLength <= 0 || math.IsNaN(*l.TargetLength) || math.IsInf(*l.TargetLength, 0)) {
			out = append(out, &model.ValidationError{
				Code: model.InvalidTargetDistance, Severity: model.SeverityError,
				Message: "line target length must be finite and positive", EntityKind: "Line", EntityID: uint32(l.ID()),
			})
		}
		for _, cp := range l.CoincidentPoints() {
			if proj.WorldPoint(cp) == nil {
				out = append(out, &model.ValidationError{
					Code: model.DanglingReference, Severity: model.SeverityError,
					Message: "coincident point does not exist", EntityKind: "Line", EntityID: uint32(l.ID()),
				})
				continue
			}
			// An endpoint asserted coincident with its own line would
			// constrain a point against itself.
			if cp == l.PointA || cp == l.PointB {
				out = append(out, &model.ValidationError{
					Code: model.CircularDependency, Severity: model.SeverityError,
					Message: "line endpoint is also marked coincident with the line", EntityKind: "Line", EntityID: uint32(l.ID()),
				})
			}
		}
	}
	return out
}

func checkImagePoints(proj *model.Project) []*model.ValidationError {
	var out []*model.ValidationError
	for _, ip := range proj.ImagePoints() {
		if proj.WorldPoint(ip.WorldPoint) == nil || proj.Viewpoint(ip.Viewpoint) == nil {
			out = append(out, &model.ValidationError{
				Code: model.DanglingReference, Severity: model.SeverityError,
				Message: "image point names a nonexistent world point or viewpoint",
				EntityKind: "ImagePoint", EntityID: uint32(ip.ID()),
			})
		}
		if math.IsNaN(ip.U) || math.IsInf(ip.U, 0) || math.IsNaN(ip.V) || math.IsInf(ip.V, 0) {
			out = append(out, &model.ValidationError{
				Code: model.InvalidObservedPixel, Severity: model.SeverityError,
				Message: "observed pixel is not finite", EntityKind: "ImagePoint", EntityID: uint32(ip.ID()),
			})
		}
	}
	return out
}

func checkConstraints(proj *model.Project) []*model.ValidationError {
	var out []*model.ValidationError
	for _, c := range proj.Constraints() {
		ops := c.Operands()
		n := len(ops)
		switch c.Kind {
		case model.EqualDistances:
			n = len(c.PointPairs)
		case model.EqualAngles:
			n = len(c.PointTriplets)
		}
		if n < c.Kind.MinOperands() && c.Kind != model.ParallelLines && c.Kind != model.PerpendicularLines {
			out = append(out, cerr(c, model.InsufficientPoints, fmt.Sprintf("%s needs at least %d operands, has %d", c.Kind, c.Kind.MinOperands(), n)))
		}
		for _, wp := range ops {
			if proj.WorldPoint(wp) == nil {
				out = append(out, cerr(c, model.DanglingReference, "constraint names a nonexistent world point"))
			}
		}
		switch c.Kind {
		case model.DistancePointPoint:
			if c.TargetDistance < 0 || math.IsNaN(c.TargetDistance) || math.IsInf(c.TargetDistance, 0) {
				out = append(out, cerr(c, model.InvalidTargetDistance, "target distance must be finite and non-negative"))
			}
			if len(c.Points) == 2 && c.Points[0] == c.Points[1] {
				out = append(out, cerr(c, model.DuplicatePoints, "distance constraint repeats a point"))
			}
		case model.AnglePointPointPoint:
			if c.TargetAngleDeg < 0 || c.TargetAngleDeg > 360 {
				out = append(out, &model.ValidationError{
					Code: model.InvalidAngleValue, Severity: model.SeverityWarning,
					Message: "target angle outside [0, 360] degrees", EntityKind: "Constraint", EntityID: uint32(c.ID()),
				})
			}
		case model.FixedPoint:
			if !c.TargetXYZ.IsFinite() {
				out = append(out, cerr(c, model.InvalidTargetXYZ, "fixed point target is not finite"))
			}
		case model.CollinearPoints, model.CoplanarPoints:
			if hasDuplicate(c.Points) {
				out = append(out, cerr(c, model.DuplicatePoints, "constraint repeats a point"))
			}
		case model.ParallelLines, model.PerpendicularLines:
			if proj.Line(c.Lines[0]) == nil || proj.Line(c.Lines[1]) == nil {
				out = append(out, cerr(c, model.DanglingReference, "constraint names a nonexistent line"))
			}
		case model.EqualAngles:
			for _, tr := range c.PointTriplets {
				if tr[0] == tr[1] || tr[1] == tr[2] || tr[0] == tr[2] {
					out = append(out, cerr(c, model.DuplicatePoints, "angle triplet repeats a point"))
				}
			}
		case model.EqualDistances:
			for _, pr := range c.PointPairs {
				if pr[0] == pr[1] {
					out = append(out, cerr(c, model.DuplicatePoints, "distance pair repeats a point"))
				}
			}
		}
	}
	return out
}

func cerr(c *model.Constraint, code, msg string) *model.ValidationError {
	return &model.ValidationError{
		Code: code, Severity: model.SeverityError,
		Message: msg, EntityKind: "Constraint", EntityID: uint32(c.ID()),
	}
}

func namesPoint(ids []model.WorldPointID, target model.WorldPointID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func hasDuplicate(ids []model.WorldPointID) bool {
	seen := make(map[model.WorldPointID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
