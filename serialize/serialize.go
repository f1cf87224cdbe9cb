// Copyright © 2024-2025 Trailmark Labs.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package serialize reads and writes the portable project document
// (spec.md §6): a single JSON document holding every entity in
// dependency order, cross-referenced by stable string ids generated by
// a monotonic counter scoped to the save. Load-then-save is
// byte-stable; saving an invalid project fails with the validator's
// findings, and loading a document that fails validation is equally
// fatal (spec.md §4.8).
package serialize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/trailmark/recon3d/internal/geom"
	"github.com/trailmark/recon3d/model"
	"github.com/trailmark/recon3d/validate"
)

// Serialization error codes.
const (
	MalformedDocument    = "MALFORMED_DOCUMENT"
	UnknownConstraintTag = "UNKNOWN_CONSTRAINT_TYPE"
	ForwardReference     = "FORWARD_REFERENCE"
	DuplicateDocumentID  = "DUPLICATE_ID"
	TypeMismatch         = "TYPE_MISMATCH"
	ValidationFailed     = "VALIDATION_FAILED"
)

// idGen hands out "Kind_N" string ids from a counter scoped to one
// save (spec.md §6: monotonic, scoped to the serialization context).
type idGen struct {
	next int
}

func (g *idGen) id(kind string) string {
	g.next++
	return fmt.Sprintf("%s_%d", kind, g.next)
}

var axisNames = map[model.AxisTag]string{
	model.AxisNone: "free",
	model.AxisX:    "x",
	model.AxisY:    "y",
	model.AxisZ:    "z",
	model.AxisXY:   "xy",
	model.AxisXZ:   "xz",
	model.AxisYZ:   "yz",
}

func axisByName(name string) (model.AxisTag, bool) {
	for tag, n := range axisNames {
		if n == name {
			return tag, true
		}
	}
	return model.AxisNone, false
}

// Save validates proj and renders it as a document. Validation errors
// are fatal and returned wrapped in a SerializationError whose message
// lists every finding; warnings do not block (spec.md §4.8).
func Save(proj *model.Project) ([]byte, error) {
	errs, _ := validate.Split(validate.Check(proj))
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, &model.SerializationError{
			Code:    ValidationFailed,
			Message: "project failed pre-save validation: " + strings.Join(msgs, "; "),
		}
	}
	doc, err := BuildDocument(proj)
	if err != nil {
		return nil, err
	}
	return doc.Marshal()
}

// BuildDocument converts proj into its document form without
// validating or rendering, useful for hosts that embed the project in
// a larger file.
func BuildDocument(proj *model.Project) (*Document, error) {
	gen := &idGen{}
	doc := &Document{Version: documentVersion}

	vpIDs := make(map[model.ViewpointID]string)
	for _, vp := range proj.Viewpoints() {
		id := gen.id("Viewpoint")
		vpIDs[vp.ID()] = id
		q := vp.Pose.Rot
		intr := vp.Intrinsics
		vls := make([]vanishingLineDoc, len(vp.VanishingLines))
		for i, vl := range vp.VanishingLines {
			vls[i] = vanishingLineDoc{Axis: axisNames[vl.Axis], U0: vl.U0, V0: vl.V0, U1: vl.U1, V1: vl.V1}
		}
		doc.Viewpoints = append(doc.Viewpoints, viewpointDoc{
			ID:             id,
			Name:           vp.Name,
			ImageWidth:     vp.ImageWidth,
			ImageHeight:    vp.ImageHeight,
			Position:       [3]float64{vp.Pose.Loc.X, vp.Pose.Loc.Y, vp.Pose.Loc.Z},
			Rotation:       [4]float64{q.W, q.X, q.Y, q.Z},
			FocalLength:    intr.FocalLength,
			AspectRatio:    intr.AspectRatio,
			PrincipalPoint: intr.PrincipalPoint,
			Skew:           intr.Skew,
			Radial:         [3]float64{intr.K1, intr.K2, intr.K3},
			Tangential:     [2]float64{intr.P1, intr.P2},
			IsZReflected:   vp.IsZReflected,
			VanishingLines: vls,
		})
	}

	wpIDs := make(map[model.WorldPointID]string)
	wpOrder := make(map[model.WorldPointID]int)
	for i, wp := range proj.WorldPoints() {
		id := gen.id("WorldPoint")
		wpIDs[wp.ID()] = id
		wpOrder[wp.ID()] = i
		doc.WorldPoints = append(doc.WorldPoints, encodeWorldPoint(wp, id))
	}

	lineIDs := make(map[model.LineID]string)
	for _, l := range proj.Lines() {
		id := gen.id("Line")
		lineIDs[l.ID()] = id
		coincident := l.CoincidentPoints()
		sort.Slice(coincident, func(i, j int) bool { return wpOrder[coincident[i]] < wpOrder[coincident[j]] })
		cids := make([]string, len(coincident))
		for i, cp := range coincident {
			cids[i] = wpIDs[cp]
		}
		doc.Lines = append(doc.Lines, lineDoc{
			ID:                 id,
			Name:               l.Name,
			PointAID:           wpIDs[l.PointA],
			PointBID:           wpIDs[l.PointB],
			Direction:          axisNames[l.Direction],
			TargetLength:       l.TargetLength,
			CoincidentPointIDs: cids,
		})
	}

	for _, ip := range proj.ImagePoints() {
		doc.ImagePoints = append(doc.ImagePoints, imagePointDoc{
			ID:           gen.id("ImagePoint"),
			WorldPointID: wpIDs[ip.WorldPoint],
			ViewpointID:  vpIDs[ip.Viewpoint],
			U:            ip.U,
			V:            ip.V,
		})
	}

	for _, c := range proj.Constraints() {
		cd, err := encodeConstraint(c, gen.id("Constraint"), wpIDs, lineIDs)
		if err != nil {
			return nil, err
		}
		doc.Constraints = append(doc.Constraints, cd)
	}
	return doc, nil
}

func encodeWorldPoint(wp *model.WorldPoint, id string) worldPointDoc {
	d := worldPointDoc{ID: id, Name: wp.Name, Color: wp.Color}
	axes := [3]model.Axis{wp.X, wp.Y, wp.Z}
	var inferred [3]*float64
	anyInferred := false
	for i, ax := range axes {
		v := ax.Value
		switch ax.State {
		case model.AxisLocked:
			d.LockedXyz[i] = &v
		case model.AxisInferred:
			inferred[i] = &v
			anyInferred = true
		}
	}
	if anyInferred {
		d.InferredXyz = &inferred
	}
	if wp.OptimizedXYZ != nil {
		opt := [3]float64{wp.OptimizedXYZ.X, wp.OptimizedXYZ.Y, wp.OptimizedXYZ.Z}
		d.OptimizedXyz = &opt
	}
	return d
}

func encodeConstraint(c *model.Constraint, id string, wpIDs map[model.WorldPointID]string, lineIDs map[model.LineID]string) (constraintDoc, error) {
	d := constraintDoc{ID: id, Type: c.Kind.String(), Name: c.Name, Tolerance: c.Tolerance, Enabled: c.Enabled}
	point := func(wp model.WorldPointID) string { return wpIDs[wp] }
	switch c.Kind {
	case model.DistancePointPoint:
		d.PointIDs = []string{point(c.Points[0]), point(c.Points[1])}
		t := c.TargetDistance
		d.TargetDistance = &t
	case model.AnglePointPointPoint:
		d.PointIDs = []string{point(c.Points[0]), point(c.Points[1]), point(c.Points[2])}
		t := c.TargetAngleDeg
		d.TargetAngleDeg = &t
	case model.FixedPoint:
		d.PointIDs = []string{point(c.Points[0])}
		t := [3]float64{c.TargetXYZ.X, c.TargetXYZ.Y, c.TargetXYZ.Z}
		d.TargetXyz = &t
	case model.CollinearPoints, model.CoplanarPoints:
		for _, p := range c.Points {
			d.PointIDs = append(d.PointIDs, point(p))
		}
	case model.ParallelLines, model.PerpendicularLines:
		d.LineIDs = []string{lineIDs[c.Lines[0]], lineIDs[c.Lines[1]]}
	case model.EqualDistances:
		for _, pr := range c.PointPairs {
			d.PointPairIDs = append(d.PointPairIDs, [2]string{point(pr[0]), point(pr[1])})
		}
	case model.EqualAngles:
		for _, tr := range c.PointTriplets {
			d.PointTripletIDs = append(d.PointTripletIDs, [3]string{point(tr[0]), point(tr[1]), point(tr[2])})
		}
	default:
		return d, &model.SerializationError{Code: UnknownConstraintTag, Message: fmt.Sprintf("cannot encode constraint kind %d", c.Kind)}
	}
	return d, nil
}

// Load parses data, rebuilds the project entity by entity in document
// order, and validates the result. Any unresolved reference, duplicate
// id, or unknown constraint type is fatal (spec.md §7).
func Load(data []byte) (*model.Project, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &model.SerializationError{Code: MalformedDocument, Message: "cannot parse project document", Cause: err}
	}
	proj, err := FromDocument(&doc)
	if err != nil {
		return nil, err
	}
	errs, _ := validate.Split(validate.Check(proj))
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, &model.SerializationError{
			Code:    ValidationFailed,
			Message: "loaded project failed validation: " + strings.Join(msgs, "; "),
		}
	}
	return proj, nil
}

// loader tracks the string-id to runtime-id mapping while a document
// is replayed into a fresh project.
type loader struct {
	proj  *model.Project
	seen  map[string]struct{}
	wps   map[string]model.WorldPointID
	vps   map[string]model.ViewpointID
	lines map[string]model.LineID
}

func (ld *loader) claim(id string) error {
	if id == "" {
		return &model.SerializationError{Code: MalformedDocument, Message: "entity is missing its id"}
	}
	if _, dup := ld.seen[id]; dup {
		return &model.SerializationError{Code: DuplicateDocumentID, Message: fmt.Sprintf("duplicate id %q", id)}
	}
	ld.seen[id] = struct{}{}
	return nil
}

func (ld *loader) worldPoint(id string) (model.WorldPointID, error) {
	wp, ok := ld.wps[id]
	if !ok {
		return 0, &model.SerializationError{Code: ForwardReference, Message: fmt.Sprintf("reference to unknown world point %q", id)}
	}
	return wp, nil
}

// FromDocument replays doc into a fresh project without validating it;
// Load is the validating entry point.
func FromDocument(doc *Document) (*model.Project, error) {
	ld := &loader{
		proj:  model.NewProject(),
		seen:  make(map[string]struct{}),
		wps:   make(map[string]model.WorldPointID),
		vps:   make(map[string]model.ViewpointID),
		lines: make(map[string]model.LineID),
	}

	for _, vd := range doc.Viewpoints {
		if err := ld.claim(vd.ID); err != nil {
			return nil, err
		}
		vp := ld.proj.AddViewpoint(vd.Name, vd.ImageWidth, vd.ImageHeight)
		vp.Pose.Loc = geom.V3(vd.Position[0], vd.Position[1], vd.Position[2])
		vp.Pose.Rot = geom.Quat{W: vd.Rotation[0], X: vd.Rotation[1], Y: vd.Rotation[2], Z: vd.Rotation[3]}
		vp.Intrinsics = model.Intrinsics{
			FocalLength:    vd.FocalLength,
			AspectRatio:    vd.AspectRatio,
			PrincipalPoint: vd.PrincipalPoint,
			Skew:           vd.Skew,
			K1:             vd.Radial[0],
			K2:             vd.Radial[1],
			K3:             vd.Radial[2],
			P1:             vd.Tangential[0],
			P2:             vd.Tangential[1],
		}
		vp.IsZReflected = vd.IsZReflected
		for _, vl := range vd.VanishingLines {
			axis, ok := axisByName(vl.Axis)
			if !ok {
				return nil, &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("unknown axis tag %q on viewpoint %q", vl.Axis, vd.ID)}
			}
			vp.VanishingLines = append(vp.VanishingLines, model.VanishingLine{Axis: axis, U0: vl.U0, V0: vl.V0, U1: vl.U1, V1: vl.V1})
		}
		ld.vps[vd.ID] = vp.ID()
	}

	for _, wd := range doc.WorldPoints {
		if err := ld.claim(wd.ID); err != nil {
			return nil, err
		}
		wp := ld.proj.AddWorldPoint(wd.Name)
		if wd.Color != "" {
			wp.Color = wd.Color
		}
		axes := [3]*model.Axis{&wp.X, &wp.Y, &wp.Z}
		for i, ax := range axes {
			if v := wd.LockedXyz[i]; v != nil {
				*ax = model.Locked(*v)
			} else if wd.InferredXyz != nil && wd.InferredXyz[i] != nil {
				*ax = model.Inferred(*wd.InferredXyz[i])
			}
		}
		if wd.OptimizedXyz != nil {
			opt := geom.V3(wd.OptimizedXyz[0], wd.OptimizedXyz[1], wd.OptimizedXyz[2])
			wp.OptimizedXYZ = &opt
		}
		ld.wps[wd.ID] = wp.ID()
	}

	for _, lld := range doc.Lines {
		if err := ld.claim(lld.ID); err != nil {
			return nil, err
		}
		a, err := ld.worldPoint(lld.PointAID)
		if err != nil {
			return nil, err
		}
		b, err := ld.worldPoint(lld.PointBID)
		if err != nil {
			return nil, err
		}
		l, err := ld.proj.AddLine(lld.Name, a, b)
		if err != nil {
			return nil, &model.SerializationError{Code: ForwardReference, Message: "line references unresolved points", Cause: err}
		}
		dir, ok := axisByName(lld.Direction)
		if !ok {
			return nil, &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("unknown direction %q on line %q", lld.Direction, lld.ID)}
		}
		l.Direction = dir
		l.TargetLength = lld.TargetLength
		for _, cid := range lld.CoincidentPointIDs {
			cp, err := ld.worldPoint(cid)
			if err != nil {
				return nil, err
			}
			l.AddCoincident(cp)
		}
		ld.lines[lld.ID] = l.ID()
	}

	for _, ipd := range doc.ImagePoints {
		if err := ld.claim(ipd.ID); err != nil {
			return nil, err
		}
		wp, err := ld.worldPoint(ipd.WorldPointID)
		if err != nil {
			return nil, err
		}
		vp, ok := ld.vps[ipd.ViewpointID]
		if !ok {
			return nil, &model.SerializationError{Code: ForwardReference, Message: fmt.Sprintf("reference to unknown viewpoint %q", ipd.ViewpointID)}
		}
		if _, err := ld.proj.AddImagePoint(wp, vp, ipd.U, ipd.V); err != nil {
			return nil, &model.SerializationError{Code: ForwardReference, Message: "image point references unresolved entities", Cause: err}
		}
	}

	for _, cd := range doc.Constraints {
		if err := ld.claim(cd.ID); err != nil {
			return nil, err
		}
		if err := ld.decodeConstraint(cd); err != nil {
			return nil, err
		}
	}
	return ld.proj, nil
}

func (ld *loader) decodeConstraint(cd constraintDoc) error {
	points := func(want int) ([]model.WorldPointID, error) {
		if want > 0 && len(cd.PointIDs) != want {
			return nil, &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("constraint %q: expected %d pointIds, got %d", cd.ID, want, len(cd.PointIDs))}
		}
		out := make([]model.WorldPointID, len(cd.PointIDs))
		for i, id := range cd.PointIDs {
			wp, err := ld.worldPoint(id)
			if err != nil {
				return nil, err
			}
			out[i] = wp
		}
		return out, nil
	}

	var built *model.Constraint
	var err error
	switch cd.Type {
	case "distance_point_point":
		var pts []model.WorldPointID
		if pts, err = points(2); err != nil {
			return err
		}
		if cd.TargetDistance == nil {
			return &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("constraint %q: missing targetDistance", cd.ID)}
		}
		built, err = ld.proj.AddDistancePointPoint(cd.Name, pts[0], pts[1], *cd.TargetDistance, cd.Tolerance)
	case "angle_point_point_point":
		var pts []model.WorldPointID
		if pts, err = points(3); err != nil {
			return err
		}
		if cd.TargetAngleDeg == nil {
			return &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("constraint %q: missing targetAngleDegrees", cd.ID)}
		}
		built, err = ld.proj.AddAnglePointPointPoint(cd.Name, pts[0], pts[1], pts[2], *cd.TargetAngleDeg, cd.Tolerance)
	case "fixed_point":
		var pts []model.WorldPointID
		if pts, err = points(1); err != nil {
			return err
		}
		if cd.TargetXyz == nil {
			return &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("constraint %q: missing targetXyz", cd.ID)}
		}
		built, err = ld.proj.AddFixedPoint(cd.Name, pts[0], geom.V3(cd.TargetXyz[0], cd.TargetXyz[1], cd.TargetXyz[2]), cd.Tolerance)
	case "collinear_points":
		var pts []model.WorldPointID
		if pts, err = points(0); err != nil {
			return err
		}
		built, err = ld.proj.AddCollinearPoints(cd.Name, pts, cd.Tolerance)
	case "coplanar_points":
		var pts []model.WorldPointID
		if pts, err = points(0); err != nil {
			return err
		}
		built, err = ld.proj.AddCoplanarPoints(cd.Name, pts, cd.Tolerance)
	case "parallel_lines", "perpendicular_lines":
		if len(cd.LineIDs) != 2 {
			return &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("constraint %q: expected 2 lineIds", cd.ID)}
		}
		la, okA := ld.lines[cd.LineIDs[0]]
		lb, okB := ld.lines[cd.LineIDs[1]]
		if !okA || !okB {
			return &model.SerializationError{Code: ForwardReference, Message: fmt.Sprintf("constraint %q references an unknown line", cd.ID)}
		}
		if cd.Type == "parallel_lines" {
			built, err = ld.proj.AddParallelLines(cd.Name, la, lb, cd.Tolerance)
		} else {
			built, err = ld.proj.AddPerpendicularLines(cd.Name, la, lb, cd.Tolerance)
		}
	case "equal_distances":
		pairs := make([][2]model.WorldPointID, len(cd.PointPairIDs))
		for i, pr := range cd.PointPairIDs {
			a, errA := ld.worldPoint(pr[0])
			if errA != nil {
				return errA
			}
			b, errB := ld.worldPoint(pr[1])
			if errB != nil {
				return errB
			}
			pairs[i] = [2]model.WorldPointID{a, b}
		}
		built, err = ld.proj.AddEqualDistances(cd.Name, pairs, cd.Tolerance)
	case "equal_angles":
		triplets := make([][3]model.WorldPointID, len(cd.PointTripletIDs))
		for i, tr := range cd.PointTripletIDs {
			for j, id := range tr {
				wp, errP := ld.worldPoint(id)
				if errP != nil {
					return errP
				}
				triplets[i][j] = wp
			}
		}
		built, err = ld.proj.AddEqualAngles(cd.Name, triplets, cd.Tolerance)
	default:
		return &model.SerializationError{Code: UnknownConstraintTag, Message: fmt.Sprintf("unknown constraint type %q", cd.Type)}
	}
	if err != nil {
		return &model.SerializationError{Code: TypeMismatch, Message: fmt.Sprintf("constraint %q rejected", cd.ID), Cause: err}
	}
	built.Enabled = cd.Enabled
	return nil
}
